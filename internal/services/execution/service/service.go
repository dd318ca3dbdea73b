package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crewdeck-go/internal/domain/execution"
	"github.com/crewdeck-go/internal/services/execution/repository"
	"github.com/crewdeck-go/pkg/logger"
	"github.com/crewdeck-go/pkg/middleware/groupauth"
)

var (
	ErrNotFound       = errors.New("run not found")
	ErrNotCancellable = errors.New("run is not active")
)

// StatusService answers run-state queries and user-initiated
// cancellations, scoped to the caller's groups.
type StatusService struct {
	runs   *repository.RunRepository
	logger logger.Logger
}

func NewStatusService(runs *repository.RunRepository, log logger.Logger) *StatusService {
	return &StatusService{runs: runs, logger: log}
}

// GetRun returns a run if the caller's scope covers its group. Runs
// outside the scope read as not found; callers cannot distinguish
// missing from inaccessible.
func (s *StatusService) GetRun(ctx context.Context, id string, gc execution.GroupContext) (*execution.Run, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	if gc.Empty() || !gc.HasAccess(run.GroupID) {
		return nil, ErrNotFound
	}
	return run, nil
}

// CancelRun moves an active run to cancelled on the caller's behalf.
func (s *StatusService) CancelRun(ctx context.Context, id string, gc execution.GroupContext) (*execution.Run, error) {
	run, err := s.GetRun(ctx, id, gc)
	if err != nil {
		return nil, err
	}
	if !run.Status.IsActive() {
		return nil, ErrNotCancellable
	}

	if err := s.runs.UpdateStatus(ctx, id, execution.RunCancelled, "cancelled by user"); err != nil {
		return nil, err
	}
	s.logger.Info("run cancelled", "executionId", id, "previousStatus", run.Status)

	return s.runs.GetByID(ctx, id)
}

// Handler exposes the run status endpoints.
type Handler struct {
	status *StatusService
	logger logger.Logger
}

func NewHandler(status *StatusService, log logger.Logger) *Handler {
	return &Handler{status: status, logger: log}
}

func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/executions/:execution_id", h.GetExecution)
	api.POST("/executions/:execution_id/cancel", h.CancelExecution)
}

type runResponse struct {
	ID            string  `json:"id"`
	CrewID        string  `json:"crew_id"`
	Status        string  `json:"status"`
	StatusMessage string  `json:"status_message,omitempty"`
	GroupID       string  `json:"group_id"`
	StartedAt     *string `json:"started_at,omitempty"`
	FinishedAt    *string `json:"finished_at,omitempty"`
}

func toRunResponse(run *execution.Run) runResponse {
	resp := runResponse{
		ID:            run.ID,
		CrewID:        run.CrewID,
		Status:        string(run.Status),
		StatusMessage: run.StatusMessage,
		GroupID:       run.GroupID,
	}
	if run.StartedAt != nil {
		s := run.StartedAt.UTC().Format(time.RFC3339Nano)
		resp.StartedAt = &s
	}
	if run.FinishedAt != nil {
		s := run.FinishedAt.UTC().Format(time.RFC3339Nano)
		resp.FinishedAt = &s
	}
	return resp
}

func (h *Handler) GetExecution(c *gin.Context) {
	run, err := h.status.GetRun(c.Request.Context(), c.Param("execution_id"), groupauth.FromContext(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, toRunResponse(run))
}

func (h *Handler) CancelExecution(c *gin.Context) {
	run, err := h.status.CancelRun(c.Request.Context(), c.Param("execution_id"), groupauth.FromContext(c))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
	case errors.Is(err, ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "execution is not active"})
	case err != nil:
		h.logger.Error("cancel failed", "executionId", c.Param("execution_id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel execution"})
	default:
		c.JSON(http.StatusOK, toRunResponse(run))
	}
}
