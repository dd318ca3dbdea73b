package service

import (
	"context"
	"sync"
	"time"

	"github.com/crewdeck-go/internal/domain/execution"
	logsrepo "github.com/crewdeck-go/internal/services/logs/repository"
	"github.com/crewdeck-go/internal/services/trace"
	"github.com/crewdeck-go/pkg/cache"
	"github.com/crewdeck-go/pkg/logger"
	"github.com/crewdeck-go/pkg/metrics"
	"github.com/crewdeck-go/pkg/resilience"
)

const defaultSendTimeout = 5 * time.Second

// Conn is the subset of *websocket.Conn the service needs. Narrowed so
// tests can register fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber pairs a registered socket's scope with its write lock.
// Gorilla connections forbid concurrent writers per connection, so sends
// to one socket serialize on its own mutex without stalling the others.
type subscriber struct {
	scope   execution.GroupContext
	writeMu sync.Mutex
}

// ExecutionLogsService keeps the registry of live WebSocket subscribers
// per execution id, fans out new log lines to them, and serves
// group-scoped reads of persisted logs. The registry is the only shared
// mutable state besides the trace queue; all access goes through mu.
type ExecutionLogsService struct {
	mu          sync.RWMutex
	subscribers map[string]map[Conn]*subscriber

	repo        *logsrepo.LogRepository
	buffer      *cache.LogBuffer
	queue       *trace.Queue
	breaker     *resilience.CircuitBreaker
	sendTimeout time.Duration
	logger      logger.Logger
}

func NewExecutionLogsService(
	repo *logsrepo.LogRepository,
	buffer *cache.LogBuffer,
	queue *trace.Queue,
	sendTimeout time.Duration,
	log logger.Logger,
) *ExecutionLogsService {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &ExecutionLogsService{
		subscribers: make(map[string]map[Conn]*subscriber),
		repo:        repo,
		buffer:      buffer,
		queue:       queue,
		breaker:     resilience.New(resilience.DefaultConfig("log-store")),
		sendTimeout: sendTimeout,
		logger:      log,
	}
}

// ConnectWithGroup registers a socket under an execution id, tagged with
// the group context active at connect time. Registering the same socket
// twice is a no-op: the subscriber set cannot hold duplicate fan-out
// targets. A best-effort catch-up of recently buffered lines is sent,
// filtered to the caller's scope line by line exactly as the live
// fan-out filters.
func (s *ExecutionLogsService) ConnectWithGroup(ctx context.Context, conn Conn, executionID string, gc execution.GroupContext) {
	sub := &subscriber{scope: gc}

	s.mu.Lock()
	set, ok := s.subscribers[executionID]
	if !ok {
		set = make(map[Conn]*subscriber)
		s.subscribers[executionID] = set
	}
	if existing, already := set[conn]; already {
		existing.scope = gc
		s.mu.Unlock()
		return
	}
	set[conn] = sub
	s.mu.Unlock()

	metrics.ActiveLogSubscribers.Inc()
	s.logger.Info("log subscriber connected",
		"executionId", executionID,
		"groupId", gc.PrimaryGroupID,
	)

	if s.buffer == nil || gc.Empty() {
		return
	}

	recent, err := s.buffer.Recent(ctx, executionID)
	if err != nil {
		s.logger.Warn("log catch-up unavailable", "executionId", executionID, "error", err)
		return
	}
	for _, line := range recent {
		if !visibleTo(gc, line.GroupID) {
			continue
		}
		if err := s.send(sub, conn, streamFrame{
			ExecutionID: executionID,
			Content:     line.Content,
			Timestamp:   line.Timestamp,
		}); err != nil {
			s.Disconnect(conn, executionID)
			return
		}
	}
}

// visibleTo is the single scope predicate for pushed lines: a line with no
// group is visible to nobody, matching the persisted row, which no group
// filter can ever select.
func visibleTo(gc execution.GroupContext, groupID string) bool {
	return groupID != "" && gc.HasAccess(groupID)
}

// Disconnect removes a socket from the registry and closes it. Safe to
// call from any exit path, including repeatedly.
func (s *ExecutionLogsService) Disconnect(conn Conn, executionID string) {
	s.mu.Lock()
	set, ok := s.subscribers[executionID]
	if ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			metrics.ActiveLogSubscribers.Dec()
		}
		if len(set) == 0 {
			delete(s.subscribers, executionID)
		}
	}
	s.mu.Unlock()

	conn.Close()
}

// streamFrame is the JSON shape pushed over the socket.
type streamFrame struct {
	ExecutionID string    `json:"execution_id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// BroadcastToExecution delivers a log entry to every live subscriber for
// its execution. A failed or timed-out send drops that socket from the
// registry without affecting delivery to the others.
func (s *ExecutionLogsService) BroadcastToExecution(executionID string, entry *execution.LogEntry) {
	s.mu.RLock()
	set, ok := s.subscribers[executionID]
	if !ok {
		s.mu.RUnlock()
		return
	}
	targets := make([]Conn, 0, len(set))
	subs := make([]*subscriber, 0, len(set))
	scopes := make([]execution.GroupContext, 0, len(set))
	for conn, sub := range set {
		targets = append(targets, conn)
		subs = append(subs, sub)
		// Scope is snapshotted under the lock; registration may rewrite
		// it concurrently.
		scopes = append(scopes, sub.scope)
	}
	s.mu.RUnlock()

	frame := streamFrame{
		ExecutionID: executionID,
		Content:     entry.Content,
		Timestamp:   entry.Timestamp,
	}

	var failed []Conn
	for i, conn := range targets {
		// Scope check runs before any data leaves the process.
		if !visibleTo(scopes[i], entry.GroupID) {
			continue
		}
		if err := s.send(subs[i], conn, frame); err != nil {
			s.logger.Warn("dropping dead log subscriber",
				"executionId", executionID,
				"error", err,
			)
			failed = append(failed, conn)
			metrics.LogBroadcastsTotal.WithLabelValues("failed").Inc()
			continue
		}
		metrics.LogBroadcastsTotal.WithLabelValues("delivered").Inc()
	}

	for _, conn := range failed {
		s.Disconnect(conn, executionID)
		metrics.DeadSocketsRemoved.Inc()
	}
}

func (s *ExecutionLogsService) send(sub *subscriber, conn Conn, frame streamFrame) error {
	sub.writeMu.Lock()
	defer sub.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(s.sendTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

// SubscriberCount reports the number of live sockets for an execution.
func (s *ExecutionLogsService) SubscriberCount(executionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[executionID])
}

// GetExecutionLogsByGroup pages through persisted logs for an execution,
// restricted to the caller's accessible groups. An empty scope returns an
// empty slice, never an error.
func (s *ExecutionLogsService) GetExecutionLogsByGroup(ctx context.Context, executionID string, gc execution.GroupContext, limit, offset int) ([]*execution.LogEntry, error) {
	return s.repo.ListByGroup(ctx, executionID, gc, limit, offset)
}

// Ingest is the engine-callback entry point: the event is queued for
// persistence and fanned out to live subscribers immediately. Nothing on
// this path may fail the caller.
func (s *ExecutionLogsService) Ingest(ev execution.TraceEvent) {
	s.queue.Enqueue(ev)

	if !ev.Valid() {
		return
	}
	s.BroadcastToExecution(ev.ExecutionID, &execution.LogEntry{
		ExecutionID: ev.ExecutionID,
		Content:     ev.Render(),
		GroupID:     ev.GroupID,
		Timestamp:   ev.Timestamp,
	})
}

// PersistTraceEvent stores a drained trace event as a log row, behind the
// store circuit breaker, and mirrors it into the recent-line buffer.
// Implements trace.Persister.
func (s *ExecutionLogsService) PersistTraceEvent(ctx context.Context, ev execution.TraceEvent) error {
	entry := &execution.LogEntry{
		ExecutionID: ev.ExecutionID,
		Content:     ev.Render(),
		GroupID:     ev.GroupID,
		GroupEmail:  ev.GroupEmail,
		Timestamp:   ev.Timestamp,
	}

	if err := s.breaker.Do(func() error {
		return s.repo.Append(ctx, entry)
	}); err != nil {
		return err
	}

	if s.buffer != nil {
		if err := s.buffer.Push(ctx, ev.ExecutionID, cache.BufferedLine{
			Content:   entry.Content,
			GroupID:   entry.GroupID,
			Timestamp: entry.Timestamp,
		}); err != nil {
			s.logger.Debug("recent-log buffer push failed", "executionId", ev.ExecutionID, "error", err)
		}
	}

	return nil
}
