package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck-go/internal/domain/execution"
)

func logEvent(executionID, content string) execution.TraceEvent {
	return execution.TraceEvent{
		Kind:        execution.TraceKindLog,
		ExecutionID: executionID,
		Log:         &execution.LogEvent{Content: content},
	}
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	first := Default()
	second := Default()
	third := Init(1)

	assert.Same(t, first, second)
	assert.Same(t, first, third)
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q := NewQueue(8)

	q.Enqueue(logEvent("exec-1", "first"))
	q.Enqueue(logEvent("exec-1", "second"))
	require.Equal(t, 2, q.Len())

	ev := <-q.Items()
	assert.Equal(t, "first", ev.Log.Content)
	ev = <-q.Items()
	assert.Equal(t, "second", ev.Log.Content)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(3)

	for _, content := range []string{"a", "b", "c", "d", "e"} {
		q.Enqueue(logEvent("exec-1", content))
	}

	require.Equal(t, 3, q.Len())

	var drained []string
	for len(drained) < 3 {
		ev := <-q.Items()
		drained = append(drained, ev.Log.Content)
	}

	// The two oldest items were evicted to admit the newest ones.
	assert.Equal(t, []string{"c", "d", "e"}, drained)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	q := NewQueue(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			q.Enqueue(logEvent("exec-1", "line"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}
