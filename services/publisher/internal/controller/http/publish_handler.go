package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ai-influencer/pkg/lock"
	"ai-influencer/pkg/logger"
	"ai-influencer/pkg/queue"
	"ai-influencer/services/publisher/internal/entity"
	"ai-influencer/services/publisher/internal/usecase"

	"github.com/gin-gonic/gin"
)

// TaskQueue is the part of the task broker the handlers use.
type TaskQueue interface {
	PublishTask(ctx context.Context, task queue.Task) error
	GetQueueLength() (int, error)
}

type PublishHandler struct {
	publishUseCase usecase.PublishUseCase
	taskQueue      TaskQueue
	logger         *logger.Logger
}

func NewPublishHandler(publishUseCase usecase.PublishUseCase, taskQueue TaskQueue, logger *logger.Logger) *PublishHandler {
	return &PublishHandler{
		publishUseCase: publishUseCase,
		taskQueue:      taskQueue,
		logger:         logger,
	}
}

type PublishRequest struct {
	Platform string `json:"platform"`
}

type PublishStatusResponse struct {
	ID              string               `json:"id"`
	Status          entity.ContentStatus `json:"status"`
	PostedPlatforms []string             `json:"posted_platforms"`
	PostURL         string               `json:"post_url,omitempty"`
	PlatformPostID  string               `json:"platform_post_id,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	RetryCount      int                  `json:"retry_count"`
	ScheduledFor    *time.Time           `json:"scheduled_for,omitempty"`
	PostedAt        *time.Time           `json:"posted_at,omitempty"`
}

// Publish godoc
// @Summary      Publish content
// @Description  Publish content to one platform, or to every connected platform of its persona when no platform is given. With async=true the work is queued for a worker.
// @Tags         publish
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Content ID"
// @Param        async query bool false "Queue instead of publishing inline"
// @Param        request body PublishRequest false "Target platform"
// @Success      200  {object}  usecase.PublishReport
// @Success      202  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Failure      423  {object}  map[string]string
// @Router       /content/{id}/publish [post]
func (h *PublishHandler) Publish(c *gin.Context) {
	contentID := c.Param("id")

	var req PublishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	platform := entity.NormalizePlatform(req.Platform)

	if c.Query("async") == "true" {
		task := queue.Task{Type: queue.TaskPublishAll, ContentID: contentID, Priority: 5}
		if platform != "" {
			task.Type = queue.TaskPublishPlatform
			task.Platform = platform
		}
		h.enqueue(c, task)
		return
	}

	var (
		report *usecase.PublishReport
		err    error
	)
	if platform != "" {
		report, err = h.publishUseCase.PublishToPlatform(c.Request.Context(), contentID, platform)
	} else {
		report, err = h.publishUseCase.PublishToAllConnected(c.Request.Context(), contentID)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetPublishStatus godoc
// @Summary      Get publish status
// @Description  Current publish state of a content item
// @Tags         publish
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Content ID"
// @Success      200  {object}  PublishStatusResponse
// @Failure      404  {object}  map[string]string
// @Router       /content/{id}/publish-status [get]
func (h *PublishHandler) GetPublishStatus(c *gin.Context) {
	content, err := h.publishUseCase.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	posted := content.PostedPlatforms
	if posted == nil {
		posted = []string{}
	}
	c.JSON(http.StatusOK, PublishStatusResponse{
		ID:              content.ID,
		Status:          content.Status,
		PostedPlatforms: posted,
		PostURL:         content.PostURL,
		PlatformPostID:  content.PlatformPostID,
		ErrorMessage:    content.ErrorMessage,
		RetryCount:      content.RetryCount,
		ScheduledFor:    content.ScheduledFor,
		PostedAt:        content.PostedAt,
	})
}

// GetAccountLimits godoc
// @Summary      Get account rate-limit usage
// @Description  Today's per-category counters and ceilings for a platform account
// @Tags         accounts
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Platform account ID"
// @Success      200  {object}  ratelimit.Usage
// @Failure      404  {object}  map[string]string
// @Router       /accounts/{id}/limits [get]
func (h *PublishHandler) GetAccountLimits(c *gin.Context) {
	usage, err := h.publishUseCase.GetAccountUsage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// ProcessQueue godoc
// @Summary      Run the queue sweep
// @Description  Publish scheduled content that is due. With async=true the sweep is queued for a worker.
// @Tags         queue
// @Produce      json
// @Security     BearerAuth
// @Param        async query bool false "Queue instead of running inline"
// @Success      200  {object}  usecase.SweepReport
// @Success      202  {object}  map[string]interface{}
// @Router       /queue/process [post]
func (h *PublishHandler) ProcessQueue(c *gin.Context) {
	if c.Query("async") == "true" {
		h.enqueue(c, queue.Task{Type: queue.TaskProcessQueue})
		return
	}

	report, err := h.publishUseCase.ProcessQueue(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RetryFailed godoc
// @Summary      Run the retry sweep
// @Description  Requeue failed content below the retry ceiling
// @Tags         queue
// @Produce      json
// @Security     BearerAuth
// @Param        async query bool false "Queue instead of running inline"
// @Success      200  {object}  usecase.RetryReport
// @Success      202  {object}  map[string]interface{}
// @Router       /queue/retry [post]
func (h *PublishHandler) RetryFailed(c *gin.Context) {
	if c.Query("async") == "true" {
		h.enqueue(c, queue.Task{Type: queue.TaskRetryFailed})
		return
	}

	report, err := h.publishUseCase.RetryFailed(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ReconcileStale godoc
// @Summary      Reconcile stale publishes
// @Description  Fail content stuck in posting past the staleness threshold
// @Tags         queue
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]int
// @Router       /queue/reconcile [post]
func (h *PublishHandler) ReconcileStale(c *gin.Context) {
	n, err := h.publishUseCase.ReconcileStale(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconciled": n})
}

// QueueStats godoc
// @Summary      Queue statistics
// @Description  Content counts by status and pending broker tasks
// @Tags         queue
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  map[string]interface{}
// @Router       /queue/stats [get]
func (h *PublishHandler) QueueStats(c *gin.Context) {
	counts, err := h.publishUseCase.GetStatusCounts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	response := gin.H{"content": counts}
	if h.taskQueue != nil {
		if pending, err := h.taskQueue.GetQueueLength(); err != nil {
			h.logger.Warn("Failed to inspect task queue: %v", err)
		} else {
			response["pending_tasks"] = pending
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *PublishHandler) enqueue(c *gin.Context, task queue.Task) {
	if h.taskQueue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue unavailable"})
		return
	}
	task.CreatedAt = time.Now().UTC()
	if err := h.taskQueue.PublishTask(c.Request.Context(), task); err != nil {
		h.logger.Error("Failed to enqueue %s task: %v", task.Type, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue task"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "task": task})
}

func (h *PublishHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entity.ErrContentNotFound),
		errors.Is(err, entity.ErrAccountNotFound),
		errors.Is(err, entity.ErrPersonaNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, entity.ErrNoEligiblePlatforms):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, entity.ErrPublishInFlight):
		status = http.StatusLocked
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Publish request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
