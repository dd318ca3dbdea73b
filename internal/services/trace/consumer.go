package trace

import (
	"context"
	"sync"
	"time"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/pkg/logger"
	"github.com/crewdeck-go/pkg/metrics"
)

// Persister stores a drained trace event. Failures are the persister's to
// report, and the consumer's to log and discard; a trace line is never
// worth stalling the drain loop for.
type Persister interface {
	PersistTraceEvent(ctx context.Context, ev execution.TraceEvent) error
}

// Consumer drains the trace queue in the background and hands each event
// to the persister. It supports a graceful-then-forced stop: signal,
// wait up to a deadline, then cancel the drain context outright.
type Consumer struct {
	queue     *Queue
	persister Persister
	logger    logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
}

func NewConsumer(queue *Queue, persister Persister, log logger.Logger) *Consumer {
	return &Consumer{
		queue:     queue,
		persister: persister,
		logger:    log,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the drain loop. The loop lives until Stop is called or
// the parent context is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	drainCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(drainCtx)
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case ev := <-c.queue.Items():
			metrics.TraceQueueDepth.Set(float64(c.queue.Len()))
			c.handle(ctx, ev)
		}
	}
}

// handle persists one event. Malformed items and persistence failures are
// logged and skipped so a single bad event cannot abort the drain loop.
func (c *Consumer) handle(ctx context.Context, ev execution.TraceEvent) {
	if !ev.Valid() {
		c.logger.Warn("skipping trace event without execution id", "kind", ev.Kind)
		metrics.TraceEventsPersisted.WithLabelValues("skipped").Inc()
		return
	}

	if err := c.persister.PersistTraceEvent(ctx, ev); err != nil {
		c.logger.Error("failed to persist trace event, discarding",
			"executionId", ev.ExecutionID,
			"kind", ev.Kind,
			"error", err,
		)
		metrics.TraceEventsPersisted.WithLabelValues("discarded").Inc()
		return
	}

	metrics.TraceEventsPersisted.WithLabelValues("persisted").Inc()
}

// Stop signals the drain loop and waits up to timeout for it to exit. If
// the deadline elapses the drain context is cancelled and the stop is
// recorded as forced. The return value reports whether the loop is no
// longer running; false means it could not be stopped at all. Safe to
// call repeatedly.
func (c *Consumer) Stop(timeout time.Duration) bool {
	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.done:
		c.logger.Info("trace consumer stopped cleanly")
		return true
	case <-time.After(timeout):
	}

	c.logger.Warn("trace consumer did not stop in time, cancelling", "timeout", timeout)
	metrics.ConsumerForcedStops.Inc()
	if c.cancel != nil {
		c.cancel()
	}

	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		c.logger.Error("trace consumer failed to stop after forced cancellation")
		return false
	}
}
