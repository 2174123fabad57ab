package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"compose-deploy/internal/config"
	"compose-deploy/internal/history"
	"compose-deploy/internal/model"
	"compose-deploy/internal/service"
	"compose-deploy/pkg/utils"
)

const logPollInterval = 250 * time.Millisecond

// RunLister reads recorded deploy runs. *history.Store implements it.
type RunLister interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
}

type DeployHandler struct {
	tasks    *service.TaskService
	runs     RunLister
	hosts    hostAllowlist
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewDeployHandler serves deploy tasks. runs may be nil when history is
// disabled. WebSocket upgrades are accepted from allowedOrigins only, and a
// request may only retarget the deploy to one of allowedHosts.
func NewDeployHandler(tasks *service.TaskService, runs RunLister, allowedOrigins, allowedHosts []string, logger *zap.Logger) *DeployHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &DeployHandler{
		tasks: tasks,
		runs:  runs,
		hosts: newHostAllowlist(allowedHosts),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins[origin]
			},
		},
		logger: logger,
	}
}

func (h *DeployHandler) Deploy(c *gin.Context) {
	var req model.DeployRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(utils.NewValidationError("body", err.Error())))
			return
		}
	}
	if !h.hosts.check(c, req.Host) {
		return
	}

	task, err := h.tasks.Start(config.Overrides{
		Host:           req.Host,
		ComposeFile:    req.ComposeFile,
		SkipMigrations: req.SkipMigrations,
	})
	switch {
	case service.IsConflict(err):
		c.JSON(http.StatusConflict, errorResponse(utils.NewConflictError(err.Error())))
		return
	case err != nil:
		h.logger.Error("Deploy rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse(utils.NewValidationError("config", err.Error())))
		return
	}

	h.logger.Info("Deploy started", zap.String("taskId", task.ID), zap.String("host", task.Host))
	c.JSON(http.StatusAccepted, model.DeployResponse{
		Success: true,
		Message: "Deployment started",
		TaskID:  task.ID,
	})
}

func (h *DeployHandler) Progress(c *gin.Context) {
	taskID := c.Param("taskId")
	task, ok := h.tasks.Get(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse(utils.NewNotFoundError("task", taskID)))
		return
	}
	c.JSON(http.StatusOK, task.Snapshot())
}

// Logs streams task output lines as WebSocket text frames until the task
// finishes and every line has been sent.
func (h *DeployHandler) Logs(c *gin.Context) {
	taskID := c.Param("taskId")
	task, ok := h.tasks.Get(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse(utils.NewNotFoundError("task", taskID)))
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("taskId", taskID), zap.Error(err))
		return
	}
	defer ws.Close()

	// Reading is only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		finished := false
		select {
		case <-task.Done():
			finished = true
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}

		for _, line := range task.Log.Since(sent) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				h.logger.Warn("WebSocket write error", zap.String("taskId", taskID), zap.Error(err))
				return
			}
			sent++
		}

		if finished {
			status := task.Snapshot().Status
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, status))
			return
		}
	}
}

func (h *DeployHandler) History(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusOK, model.HistoryResponse{Success: true, Runs: []model.RunResponse{}})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, errorResponse(utils.NewValidationError("limit", raw)))
			return
		}
		limit = n
	}

	runs, err := h.runs.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("List deploy history failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse(utils.NewSystemError(err)))
		return
	}

	resp := model.HistoryResponse{Success: true, Runs: make([]model.RunResponse, 0, len(runs))}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, model.RunResponse{
			ID:         r.ID,
			Host:       r.Host,
			RemoteDir:  r.RemoteDir,
			Trigger:    r.Trigger,
			Status:     r.Status,
			Error:      r.Error,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func errorResponse(err error) model.ErrorResponse {
	resp := model.ErrorResponse{Success: false, Message: err.Error()}
	var apiErr *utils.APIError
	if errors.As(err, &apiErr) {
		resp.Code = apiErr.Code
		resp.Message = apiErr.Message
		resp.Details = apiErr.Details
	}
	return resp
}
