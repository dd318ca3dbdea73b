package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/pkg/database"
)

func setupTestDB(t *testing.T) *database.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gormDB.AutoMigrate(&execution.LogEntry{}))
	return &database.DB{DB: gormDB}
}

func seedLogs(t *testing.T, repo *LogRepository, executionID, groupID string, n int) {
	t.Helper()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		entry := &execution.LogEntry{
			ExecutionID: executionID,
			Content:     fmt.Sprintf("line %d", i+1),
			GroupID:     groupID,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.Append(context.Background(), entry))
	}
}

func scope(groupIDs ...string) execution.GroupContext {
	gc := execution.GroupContext{GroupIDs: groupIDs}
	if len(groupIDs) > 0 {
		gc.PrimaryGroupID = groupIDs[0]
	}
	return gc
}

func TestListByGroupEmptyScopeReturnsNothing(t *testing.T) {
	repo := NewLogRepository(setupTestDB(t))
	executionID := uuid.New().String()
	seedLogs(t, repo, executionID, "group-a", 5)

	entries, err := repo.ListByGroup(context.Background(), executionID, execution.GroupContext{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListByGroupFiltersOtherGroups(t *testing.T) {
	repo := NewLogRepository(setupTestDB(t))
	executionID := uuid.New().String()
	seedLogs(t, repo, executionID, "group-a", 3)
	seedLogs(t, repo, executionID, "group-b", 2)

	entries, err := repo.ListByGroup(context.Background(), executionID, scope("group-a"), 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "group-a", e.GroupID)
	}

	entries, err = repo.ListByGroup(context.Background(), executionID, scope("group-a", "group-b"), 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestListByGroupPagination(t *testing.T) {
	repo := NewLogRepository(setupTestDB(t))
	executionID := uuid.New().String()
	seedLogs(t, repo, executionID, "group-a", 15)

	entries, err := repo.ListByGroup(context.Background(), executionID, scope("group-a"), 10, 5)
	require.NoError(t, err)
	require.Len(t, entries, 10)

	// Ascending timestamp order, rows 6 through 15.
	assert.Equal(t, "line 6", entries[0].Content)
	assert.Equal(t, "line 15", entries[9].Content)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}
}

func TestListByGroupNegativeOffset(t *testing.T) {
	repo := NewLogRepository(setupTestDB(t))
	executionID := uuid.New().String()
	seedLogs(t, repo, executionID, "group-a", 3)

	entries, err := repo.ListByGroup(context.Background(), executionID, scope("group-a"), 0, -7)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 1, ClampLimit(1))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit+1))
}

func TestPurgeOlderThan(t *testing.T) {
	repo := NewLogRepository(setupTestDB(t))
	executionID := uuid.New().String()
	seedLogs(t, repo, executionID, "group-a", 10)

	cutoff := time.Date(2026, 8, 1, 12, 0, 5, 0, time.UTC)
	purged, err := repo.PurgeOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), purged)

	entries, err := repo.ListByGroup(context.Background(), executionID, scope("group-a"), 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}
