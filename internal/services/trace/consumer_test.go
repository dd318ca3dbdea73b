package trace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/pkg/logger"
)

// recordingPersister captures persisted events and can be told to fail or
// to block until its context is cancelled.
type recordingPersister struct {
	mu       sync.Mutex
	events   []execution.TraceEvent
	attempts int
	err      error
	block    bool
}

func (p *recordingPersister) PersistTraceEvent(ctx context.Context, ev execution.TraceEvent) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPersister) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPersister) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *recordingPersister) persisted() []execution.TraceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]execution.TraceEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPersister) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(p.persisted()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d persisted events, got %d", n, len(p.persisted()))
}

func TestConsumerDrainsQueue(t *testing.T) {
	q := NewQueue(16)
	persister := &recordingPersister{}
	consumer := NewConsumer(q, persister, logger.NewNop())

	consumer.Start(context.Background())

	q.Enqueue(logEvent("exec-1", "one"))
	q.Enqueue(logEvent("exec-1", "two"))

	persister.waitFor(t, 2)
	require.True(t, consumer.Stop(time.Second))

	events := persister.persisted()
	assert.Equal(t, "one", events[0].Log.Content)
	assert.Equal(t, "two", events[1].Log.Content)
}

func TestConsumerSkipsEventsWithoutExecutionID(t *testing.T) {
	q := NewQueue(16)
	persister := &recordingPersister{}
	consumer := NewConsumer(q, persister, logger.NewNop())

	consumer.Start(context.Background())

	q.Enqueue(logEvent("", "orphan"))
	q.Enqueue(logEvent("exec-1", "kept"))

	persister.waitFor(t, 1)
	require.True(t, consumer.Stop(time.Second))

	events := persister.persisted()
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].Log.Content)
}

func TestConsumerSurvivesPersistFailure(t *testing.T) {
	q := NewQueue(16)
	persister := &recordingPersister{}
	persister.setErr(errors.New("store down"))
	consumer := NewConsumer(q, persister, logger.NewNop())

	consumer.Start(context.Background())

	q.Enqueue(logEvent("exec-1", "lost"))

	deadline := time.Now().Add(2 * time.Second)
	for persister.attemptCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotZero(t, persister.attemptCount())

	persister.setErr(nil)
	q.Enqueue(logEvent("exec-1", "after recovery"))

	persister.waitFor(t, 1)
	require.True(t, consumer.Stop(time.Second))

	events := persister.persisted()
	require.Len(t, events, 1)
	assert.Equal(t, "after recovery", events[0].Log.Content)
}

func TestConsumerStopsCleanlyWhenIdle(t *testing.T) {
	q := NewQueue(16)
	consumer := NewConsumer(q, &recordingPersister{}, logger.NewNop())

	consumer.Start(context.Background())

	start := time.Now()
	assert.True(t, consumer.Stop(5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestConsumerStopIsIdempotent(t *testing.T) {
	q := NewQueue(16)
	consumer := NewConsumer(q, &recordingPersister{}, logger.NewNop())

	consumer.Start(context.Background())

	assert.True(t, consumer.Stop(time.Second))
	assert.True(t, consumer.Stop(time.Second))
}

func TestConsumerForcesStopWhenPersisterHangs(t *testing.T) {
	q := NewQueue(16)
	persister := &recordingPersister{block: true}
	consumer := NewConsumer(q, persister, logger.NewNop())

	consumer.Start(context.Background())
	q.Enqueue(logEvent("exec-1", "stuck"))

	// Let the drain loop pick up the event and block inside the persister.
	time.Sleep(50 * time.Millisecond)

	// The graceful window elapses, the drain context is cancelled, and the
	// loop still terminates.
	assert.True(t, consumer.Stop(100*time.Millisecond))
}
