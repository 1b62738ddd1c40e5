package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vocalize/tts-server/internal/module/tts"
	"github.com/vocalize/tts-server/internal/module/tts/task"
	apperrors "github.com/vocalize/tts-server/internal/shared/errors"
)

// Handler serves the synthesis API.
type Handler struct {
	svc *tts.Service
}

// New creates a handler around the service.
func New(svc *tts.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the synthesis routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/voices", h.Voices)
	r.POST("/tts/online", h.Online)
	r.POST("/tts/long-text/submit", h.Submit)
	r.GET("/tts/long-text/status/:task_id", h.Status)
	r.GET("/tts/long-text/result/:task_id", h.ResultAudio)
	r.GET("/tts/long-text/srt/:task_id", h.ResultSubtitle)
	r.GET("/tts/tasks", h.List)
	r.GET("/tts/stats", h.Stats)
}

// handleError writes the JSON error response for a service error.
func handleError(c *gin.Context, err error) {
	status := apperrors.GetStatusCode(err)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(status, appErr.ToResponse())
		return
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "internal server error",
		},
	})
}

// Voices handles voice catalog requests.
// GET /voices
func (h *Handler) Voices(c *gin.Context) {
	cat, err := h.svc.Voices(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

// Online handles synchronous synthesis requests.
// POST /tts/online
func (h *Handler) Online(c *gin.Context) {
	var req tts.OnlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperrors.Validation(err.Error()))
		return
	}

	res, err := h.svc.SynthesizeOnline(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Submit handles asynchronous long-text submissions.
// POST /tts/long-text/submit
func (h *Handler) Submit(c *gin.Context) {
	var req tts.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperrors.Validation(err.Error()))
		return
	}

	res, err := h.svc.SubmitLongText(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Status handles task status queries.
// GET /tts/long-text/status/:task_id
func (h *Handler) Status(c *gin.Context) {
	t, err := h.svc.GetStatus(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ResultAudio streams a completed task's audio.
// GET /tts/long-text/result/:task_id
func (h *Handler) ResultAudio(c *gin.Context) {
	taskID := c.Param("task_id")
	data, t, err := h.svc.GetResultAudio(c.Request.Context(), taskID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.Header("X-Task-ID", taskID)
	c.Header("X-Duration", strconv.FormatFloat(t.Duration, 'f', -1, 64))
	c.Header("X-File-Size", strconv.FormatInt(t.FileSize, 10))
	c.Header("Content-Disposition", "attachment; filename="+taskID+".wav")
	c.Data(http.StatusOK, "audio/wav", data)
}

// ResultSubtitle streams a completed task's SRT file.
// GET /tts/long-text/srt/:task_id
func (h *Handler) ResultSubtitle(c *gin.Context) {
	taskID := c.Param("task_id")
	data, _, err := h.svc.GetResultSubtitle(c.Request.Context(), taskID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.Header("X-Task-ID", taskID)
	c.Header("Content-Disposition", "attachment; filename="+taskID+".srt")
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// List handles task list requests.
// GET /tts/tasks
func (h *Handler) List(c *gin.Context) {
	filter := &task.Filter{}
	if status := c.Query("status"); status != "" {
		s := task.Status(status)
		filter.Status = &s
	}
	if taskType := c.Query("type"); taskType != "" {
		tt := task.Type(taskType)
		filter.Type = &tt
	}
	if limit := c.Query("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	tasks, err := h.svc.ListTasks(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// Stats handles queue and task population queries.
// GET /tts/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.GetStats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
