package trace

import (
	"sync"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/pkg/metrics"
)

const defaultQueueSize = 4096

// Queue is a bounded in-process FIFO between the engine's trace callbacks
// and the drain consumer. Enqueue never blocks the producer: under
// back-pressure the oldest buffered item is dropped to make room. One
// Queue instance exists per process; the composition root constructs it
// through Default and injects the handle everywhere it is needed.
type Queue struct {
	mu    sync.Mutex
	items chan execution.TraceEvent
}

var (
	defaultQueue *Queue
	defaultOnce  sync.Once
)

// Default returns the process-wide queue, constructing it on first use.
// Every call returns the same instance.
func Default() *Queue {
	return Init(defaultQueueSize)
}

// Init returns the process-wide queue, sizing it on the first call. The
// composition root calls this with the configured capacity before any
// other package touches Default; later calls ignore size.
func Init(size int) *Queue {
	defaultOnce.Do(func() {
		defaultQueue = NewQueue(size)
	})
	return defaultQueue
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{items: make(chan execution.TraceEvent, size)}
}

// Enqueue buffers an event without ever stalling or failing the caller.
// The producer sits on the execution hot path; dropping the oldest item is
// preferable to blocking a running workflow.
func (q *Queue) Enqueue(ev execution.TraceEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		select {
		case q.items <- ev:
			metrics.TraceEventsEnqueued.Inc()
			metrics.TraceQueueDepth.Set(float64(len(q.items)))
			return
		default:
		}
		// Full: evict the oldest and retry.
		select {
		case <-q.items:
			metrics.TraceEventsDropped.Inc()
		default:
		}
	}
}

// Items exposes the receive side for the drain consumer.
func (q *Queue) Items() <-chan execution.TraceEvent {
	return q.items
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.items)
}
