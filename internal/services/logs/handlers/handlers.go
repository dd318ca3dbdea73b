package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/crewdeck-go/internal/domain/execution"
	logsrepo "github.com/crewdeck-go/internal/services/logs/repository"
	"github.com/crewdeck-go/internal/services/logs/service"
	"github.com/crewdeck-go/pkg/logger"
	"github.com/crewdeck-go/pkg/middleware/groupauth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the dashboard origin; scoping is
	// enforced per group, not per origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler exposes the log streaming and retrieval surface.
type Handler struct {
	logs   *service.ExecutionLogsService
	logger logger.Logger
}

func NewHandler(logs *service.ExecutionLogsService, log logger.Logger) *Handler {
	return &Handler{logs: logs, logger: log}
}

// RegisterRoutes mounts the public log endpoints on an authenticated
// route group and the engine callback on the internal group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup, internal *gin.RouterGroup) {
	api.GET("/logs/executions/:execution_id", h.ListLogs)
	api.GET("/logs/executions/:execution_id/stream", h.StreamLogs)
	api.GET("/runs/:execution_id/outputs", h.ListOutputs)

	internal.POST("/executions/:execution_id/events", h.IngestEvent)
}

type logResponse struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

func toResponses(entries []*execution.LogEntry) []logResponse {
	out := make([]logResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, logResponse{
			ID:          e.ID,
			ExecutionID: e.ExecutionID,
			Content:     e.Content,
			Timestamp:   e.Timestamp,
		})
	}
	return out
}

// ListLogs returns the persisted log lines for an execution as a flat
// array, scoped to the caller's groups and paged with limit/offset.
func (h *Handler) ListLogs(c *gin.Context) {
	executionID := c.Param("execution_id")
	gc := groupauth.FromContext(c)

	limit := intQuery(c, "limit", logsrepo.DefaultLimit)
	offset := intQuery(c, "offset", 0)

	entries, err := h.logs.GetExecutionLogsByGroup(c.Request.Context(), executionID, gc, limit, offset)
	if err != nil {
		h.logger.Error("log listing failed", "executionId", executionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve logs"})
		return
	}

	c.JSON(http.StatusOK, toResponses(entries))
}

// ListOutputs returns the same rows as ListLogs wrapped in an object, the
// shape the dashboard's run-detail view consumes.
func (h *Handler) ListOutputs(c *gin.Context) {
	executionID := c.Param("execution_id")
	gc := groupauth.FromContext(c)

	limit := intQuery(c, "limit", logsrepo.DefaultLimit)
	offset := intQuery(c, "offset", 0)

	entries, err := h.logs.GetExecutionLogsByGroup(c.Request.Context(), executionID, gc, limit, offset)
	if err != nil {
		h.logger.Error("output listing failed", "executionId", executionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": toResponses(entries)})
}

// StreamLogs upgrades the request to a WebSocket and registers it for
// live log delivery. The read loop exists only to detect disconnects;
// subscribers never send application frames. The deferred disconnect
// covers every exit path, read errors included.
func (h *Handler) StreamLogs(c *gin.Context) {
	executionID := c.Param("execution_id")
	gc := groupauth.FromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "executionId", executionID, "error", err)
		return
	}
	defer h.logs.Disconnect(conn, executionID)

	h.logs.ConnectWithGroup(c.Request.Context(), conn, executionID, gc)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// IngestEvent receives a trace event from the orchestration engine. The
// event is queued and fanned out; storage problems are absorbed here so
// the engine's run loop is never failed by its own telemetry.
func (h *Handler) IngestEvent(c *gin.Context) {
	executionID := c.Param("execution_id")

	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}

	ev := execution.DecodeTraceEvent(raw)
	if ev.ExecutionID == "" {
		ev.ExecutionID = executionID
	}

	h.logs.Ingest(ev)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
