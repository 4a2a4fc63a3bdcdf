package worker

import (
	"context"
	"fmt"

	"ai-influencer/pkg/logger"
	"ai-influencer/pkg/queue"
	"ai-influencer/services/publisher/internal/usecase"
)

// TaskHandler routes broker tasks to the publish use case.
type TaskHandler struct {
	publishUseCase usecase.PublishUseCase
	logger         *logger.Logger
}

func NewTaskHandler(publishUseCase usecase.PublishUseCase, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{
		publishUseCase: publishUseCase,
		logger:         logger,
	}
}

// Handle satisfies queue.Handler. Errors caused by the task itself are
// marked permanent so the broker drops them instead of redelivering.
func (h *TaskHandler) Handle(ctx context.Context, task queue.Task) error {
	h.logger.Info("[WORKER] Received %s task content_id=%s platform=%s", task.Type, task.ContentID, task.Platform)

	var err error
	switch task.Type {
	case queue.TaskPublishPlatform:
		var report *usecase.PublishReport
		report, err = h.publishUseCase.PublishToPlatform(ctx, task.ContentID, task.Platform)
		if err == nil {
			h.logger.Info("[WORKER] Content %s on %s: success=%t status=%s", task.ContentID, task.Platform, report.Success, report.Status)
		}
	case queue.TaskPublishAll:
		var report *usecase.PublishReport
		report, err = h.publishUseCase.PublishToAllConnected(ctx, task.ContentID)
		if err == nil {
			h.logger.Info("[WORKER] Content %s fan-out: success=%t status=%s", task.ContentID, report.Success, report.Status)
		}
	case queue.TaskProcessQueue:
		_, err = h.publishUseCase.ProcessQueue(ctx)
	case queue.TaskRetryFailed:
		_, err = h.publishUseCase.RetryFailed(ctx)
	case queue.TaskReconcileStale:
		_, err = h.publishUseCase.ReconcileStale(ctx)
	default:
		return fmt.Errorf("unknown task type %q: %w", task.Type, queue.ErrPermanent)
	}

	if err != nil && usecase.IsClientError(err) {
		return fmt.Errorf("%w: %w", err, queue.ErrPermanent)
	}
	return err
}
