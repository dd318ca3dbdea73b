package execution

import (
	"time"
)

// RunStatus represents the status of an execution run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunPreparing RunStatus = "preparing"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// ActiveStatuses are the statuses a run can only hold while an in-memory
// execution context exists. Any run found in one of these at process start
// is orphaned.
func ActiveStatuses() []RunStatus {
	return []RunStatus{RunPending, RunPreparing, RunRunning}
}

// IsActive reports whether the status implies a live in-memory execution.
func (s RunStatus) IsActive() bool {
	switch s {
	case RunPending, RunPreparing, RunRunning:
		return true
	}
	return false
}

// Run is a persisted execution record.
type Run struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	CrewID        string     `gorm:"index" json:"crew_id"`
	Status        RunStatus  `gorm:"index" json:"status"`
	StatusMessage string     `json:"status_message,omitempty"`
	GroupID       string     `gorm:"index" json:"group_id"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Run) TableName() string {
	return "execution_runs"
}

// LogEntry is an append-only log line emitted during a run.
type LogEntry struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	ExecutionID string    `gorm:"index:idx_logs_exec_ts,priority:1;index:idx_logs_group_exec,priority:2" json:"execution_id"`
	Content     string    `gorm:"type:text" json:"content"`
	GroupID     string    `gorm:"index:idx_logs_group_exec,priority:1" json:"-"`
	GroupEmail  string    `json:"-"`
	Timestamp   time.Time `gorm:"index:idx_logs_exec_ts,priority:2" json:"timestamp"`
	CreatedAt   time.Time `json:"-"`
}

func (LogEntry) TableName() string {
	return "execution_logs"
}

// GroupContext carries the caller's group scope for a single request or
// connection. It is never persisted. An empty GroupIDs set means the caller
// sees nothing; every read path must treat that as fail-closed.
type GroupContext struct {
	PrimaryGroupID string
	GroupIDs       []string
	GroupEmail     string
}

// HasAccess reports whether the context can see records owned by groupID.
func (g GroupContext) HasAccess(groupID string) bool {
	for _, id := range g.GroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// Empty reports whether the context grants no visibility at all.
func (g GroupContext) Empty() bool {
	return len(g.GroupIDs) == 0
}
