package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/pkg/database"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

// LogRepository owns the append-only execution_logs table.
type LogRepository struct {
	db *database.DB
}

func NewLogRepository(db *database.DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) Append(ctx context.Context, entry *execution.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByGroup returns log rows for one execution, restricted to the
// caller's accessible groups, ordered by timestamp ascending. An empty
// group set short-circuits to an empty slice: authorization misses
// degrade to no data, never to an error.
func (r *LogRepository) ListByGroup(ctx context.Context, executionID string, gc execution.GroupContext, limit, offset int) ([]*execution.LogEntry, error) {
	if gc.Empty() {
		return []*execution.LogEntry{}, nil
	}

	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var entries []*execution.LogEntry
	err := r.db.WithContext(ctx).
		Where("execution_id = ? AND group_id IN ?", executionID, gc.GroupIDs).
		Order("timestamp ASC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PurgeOlderThan deletes log rows whose timestamp is before cutoff and
// returns the number of rows removed.
func (r *LogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&execution.LogEntry{})
	return res.RowsAffected, res.Error
}

// ClampLimit bounds a requested page size to [1, MaxLimit], applying the
// default when unset.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
