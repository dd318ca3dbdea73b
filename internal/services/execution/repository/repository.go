package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/pkg/database"
)

// RunRepository owns the execution_runs table.
type RunRepository struct {
	db *database.DB
}

func NewRunRepository(db *database.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *execution.Run) error {
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*execution.Run, error) {
	var run execution.Run
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListByStatus returns all runs currently holding any of the given
// statuses. Used by the startup reconciliation scan.
func (r *RunRepository) ListByStatus(ctx context.Context, statuses []execution.RunStatus) ([]*execution.Run, error) {
	var runs []*execution.Run
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&runs).Error
	return runs, err
}

// UpdateStatus transitions a run's status, stamping started_at and
// finished_at the first time the run enters a running or terminal state.
func (r *RunRepository) UpdateStatus(ctx context.Context, id string, status execution.RunStatus, message string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run execution.Run
		if err := tx.Where("id = ?", id).First(&run).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":         status,
			"status_message": message,
			"updated_at":     now,
		}

		switch status {
		case execution.RunRunning:
			if run.StartedAt == nil {
				updates["started_at"] = now
			}
		case execution.RunCompleted, execution.RunFailed, execution.RunCancelled:
			if run.FinishedAt == nil {
				updates["finished_at"] = now
			}
		}

		return tx.Model(&execution.Run{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
}
