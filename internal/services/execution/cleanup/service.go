package cleanup

import (
	"context"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/internal/services/execution/repository"
	"github.com/crewdeck-go/pkg/logger"
	"github.com/crewdeck-go/pkg/metrics"
)

const restartMessage = "service restarted while job was running"

// Service reconciles run records left active by a previous process. A
// restarted process has no in-memory execution contexts, so any run still
// claiming pending/preparing/running is provably orphaned and is cancelled
// eagerly; otherwise clients poll forever for a job that will never
// update again.
type Service struct {
	runs   *repository.RunRepository
	logger logger.Logger
}

func NewService(runs *repository.RunRepository, log logger.Logger) *Service {
	return &Service{runs: runs, logger: log}
}

// CleanupStaleRuns transitions every orphaned run to cancelled and returns
// the number of runs successfully transitioned. A failed transition is
// logged and skipped; it never aborts the remaining records or process
// startup. Must be invoked once, before the server accepts traffic.
func (s *Service) CleanupStaleRuns(ctx context.Context) (int, error) {
	stale, err := s.runs.ListByStatus(ctx, execution.ActiveStatuses())
	if err != nil {
		return 0, err
	}

	if len(stale) == 0 {
		s.logger.Info("no stale runs found at startup")
		return 0, nil
	}

	s.logger.Warn("found stale runs from previous process", "count", len(stale))

	cleaned := 0
	for _, run := range stale {
		if err := s.runs.UpdateStatus(ctx, run.ID, execution.RunCancelled, restartMessage); err != nil {
			s.logger.Error("failed to cancel stale run",
				"runId", run.ID,
				"status", run.Status,
				"error", err,
			)
			metrics.StaleRunCleanupFailures.Inc()
			continue
		}
		s.logger.Info("cancelled stale run", "runId", run.ID, "previousStatus", run.Status)
		metrics.StaleRunsCancelled.Inc()
		cleaned++
	}

	return cleaned, nil
}

// GetStaleRuns enumerates the ids of currently-orphaned runs without
// mutating anything. Diagnostics only.
func (s *Service) GetStaleRuns(ctx context.Context) ([]string, error) {
	stale, err := s.runs.ListByStatus(ctx, execution.ActiveStatuses())
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(stale))
	for _, run := range stale {
		ids = append(ids, run.ID)
	}
	return ids, nil
}
