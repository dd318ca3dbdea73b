package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/internal/services/execution/repository"
	"github.com/crewdeck-go/pkg/database"
	"github.com/crewdeck-go/pkg/logger"
)

func setupStatusService(t *testing.T) (*StatusService, *repository.RunRepository) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(&execution.Run{}))

	repo := repository.NewRunRepository(&database.DB{DB: gormDB})
	return NewStatusService(repo, logger.NewNop()), repo
}

func seedRun(t *testing.T, repo *repository.RunRepository, status execution.RunStatus, groupID string) string {
	t.Helper()
	run := &execution.Run{
		ID:      uuid.New().String(),
		CrewID:  uuid.New().String(),
		Status:  status,
		GroupID: groupID,
	}
	require.NoError(t, repo.Create(context.Background(), run))
	return run.ID
}

func groupScope(id string) execution.GroupContext {
	return execution.GroupContext{PrimaryGroupID: id, GroupIDs: []string{id}}
}

func TestGetRunScopedToGroup(t *testing.T) {
	svc, repo := setupStatusService(t)
	ctx := context.Background()

	id := seedRun(t, repo, execution.RunRunning, "group-a")

	run, err := svc.GetRun(ctx, id, groupScope("group-a"))
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)

	_, err = svc.GetRun(ctx, id, groupScope("group-b"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetRun(ctx, id, execution.GroupContext{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetRun(ctx, uuid.New().String(), groupScope("group-a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelRun(t *testing.T) {
	svc, repo := setupStatusService(t)
	ctx := context.Background()

	id := seedRun(t, repo, execution.RunRunning, "group-a")

	run, err := svc.CancelRun(ctx, id, groupScope("group-a"))
	require.NoError(t, err)
	assert.Equal(t, execution.RunCancelled, run.Status)
	assert.Equal(t, "cancelled by user", run.StatusMessage)
	assert.NotNil(t, run.FinishedAt)
}

func TestCancelRunRejectsTerminalRun(t *testing.T) {
	svc, repo := setupStatusService(t)
	ctx := context.Background()

	id := seedRun(t, repo, execution.RunCompleted, "group-a")

	_, err := svc.CancelRun(ctx, id, groupScope("group-a"))
	assert.ErrorIs(t, err, ErrNotCancellable)

	run, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, execution.RunCompleted, run.Status)
}

func TestCancelRunOutsideScope(t *testing.T) {
	svc, repo := setupStatusService(t)
	ctx := context.Background()

	id := seedRun(t, repo, execution.RunRunning, "group-a")

	_, err := svc.CancelRun(ctx, id, groupScope("group-b"))
	assert.ErrorIs(t, err, ErrNotFound)

	run, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, execution.RunRunning, run.Status)
}
