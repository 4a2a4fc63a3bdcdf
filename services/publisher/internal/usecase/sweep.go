package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"ai-influencer/pkg/logger"
	"ai-influencer/services/publisher/internal/entity"
)

// errUnchanged aborts a locked update without writing.
var errUnchanged = errors.New("row unchanged")

// ProcessQueue publishes the due scheduled batch, pacing items that reached a
// platform with a random delay. A failing item never stops the sweep.
func (uc *publishUseCase) ProcessQueue(ctx context.Context) (*SweepReport, error) {
	due, err := uc.contents.DueScheduled(ctx, uc.opts.Now(), uc.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load due content: %w", err)
	}

	report := &SweepReport{Scanned: len(due)}
	if len(due) == 0 {
		return report, nil
	}
	uc.logger.Info("[QUEUE] Processing %d due item(s)", len(due))

	paced := false
	for _, content := range due {
		if paced {
			if err := uc.opts.Sleep(ctx, uc.postDelay()); err != nil {
				return report, err
			}
		}

		result, err := uc.PublishToAllConnected(ctx, content.ID)
		paced = err == nil && result.dispatched()
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", content.ID, err))
			uc.metrics.SweepItem("queue", "error")
			uc.logger.WithFields(logger.Fields{"content_id": content.ID}).Error("[QUEUE] Publish failed: %v", err)
		case result.Success:
			report.Published++
			uc.metrics.SweepItem("queue", "published")
		case result.count(OutcomeFailed) > 0:
			report.Failed++
			uc.metrics.SweepItem("queue", "failed")
		default:
			report.Skipped++
			uc.metrics.SweepItem("queue", "skipped")
		}
	}

	uc.logger.Info("[QUEUE] Sweep done scanned=%d published=%d failed=%d skipped=%d",
		report.Scanned, report.Published, report.Failed, report.Skipped)
	return report, nil
}

func (uc *publishUseCase) postDelay() time.Duration {
	lo, hi := uc.opts.PostDelayMin, uc.opts.PostDelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// RetryFailed requeues failed content under the retry ceiling and marks the
// rest as exhausted.
func (uc *publishUseCase) RetryFailed(ctx context.Context) (*RetryReport, error) {
	failed, err := uc.contents.ListByStatus(ctx, entity.StatusFailed, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load failed content: %w", err)
	}

	report := &RetryReport{}
	now := uc.opts.Now()

	for _, item := range failed {
		var requeued, marked bool
		_, err := uc.contents.UpdateLocked(ctx, item.ID, func(c *entity.Content) error {
			if c.Status != entity.StatusFailed {
				return errUnchanged
			}
			if c.RetryCount < uc.opts.MaxRetries {
				next := now.Add(uc.opts.RetryBackoff)
				c.Status = entity.StatusScheduled
				c.ScheduledFor = &next
				requeued = true
				return nil
			}
			if strings.Contains(c.ErrorMessage, retryMarker) {
				return errUnchanged
			}
			c.ErrorMessage = appendMessage(c.ErrorMessage, retryMarker)
			marked = true
			return nil
		})
		if err != nil && !errors.Is(err, errUnchanged) {
			uc.logger.WithFields(logger.Fields{"content_id": item.ID}).Error("[RETRY] Update failed: %v", err)
			uc.metrics.SweepItem("retry", "error")
			continue
		}

		switch {
		case requeued:
			report.Requeued++
			uc.metrics.SweepItem("retry", "requeued")
		case marked:
			report.Exhausted++
			report.Marked++
			uc.metrics.SweepItem("retry", "exhausted")
			uc.logger.WithFields(logger.Fields{"content_id": item.ID}).Warn("[RETRY] %v after %d attempts", entity.ErrMaxRetriesExceeded, item.RetryCount)
		case item.RetryCount >= uc.opts.MaxRetries:
			report.Exhausted++
		}
	}

	if report.Requeued > 0 || report.Marked > 0 {
		uc.logger.Info("[RETRY] Requeued %d, newly exhausted %d", report.Requeued, report.Marked)
	}
	return report, nil
}

// ReconcileStale fails content left in posting by a dead worker. It is a
// no-op unless a staleness threshold is configured.
func (uc *publishUseCase) ReconcileStale(ctx context.Context) (int, error) {
	if uc.opts.StalePostingAfter <= 0 {
		return 0, nil
	}

	cutoff := uc.opts.Now().Add(-uc.opts.StalePostingAfter)
	stale, err := uc.contents.StalePosting(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load stale content: %w", err)
	}

	reconciled := 0
	for _, item := range stale {
		log := uc.logger.WithFields(logger.Fields{"content_id": item.ID})

		held, err := uc.locker.IsLocked(ctx, ContentLockKey(item.ID))
		if err != nil {
			log.Error("[STALE] Checking lease: %v", err)
			continue
		}
		if held {
			continue
		}

		_, err = uc.contents.UpdateLocked(ctx, item.ID, func(c *entity.Content) error {
			if c.Status != entity.StatusPosting || !c.UpdatedAt.Before(cutoff) {
				return errUnchanged
			}
			if c.ClaimedByOther("", uc.opts.Now()) {
				return errUnchanged
			}
			c.ReleaseClaim()
			if len(c.PostedPlatforms) > 0 {
				c.Status = entity.StatusPosted
			} else {
				c.Status = entity.StatusFailed
				c.RetryCount++
			}
			c.ErrorMessage = appendMessage(c.ErrorMessage, abandonedMarker)
			return nil
		})
		if errors.Is(err, errUnchanged) {
			continue
		}
		if err != nil {
			log.Error("[STALE] Update failed: %v", err)
			uc.metrics.SweepItem("stale", "error")
			continue
		}

		reconciled++
		uc.metrics.SweepItem("stale", "reconciled")
		log.Warn("[STALE] Content stuck in posting since %s, marked abandoned", item.UpdatedAt.Format(time.RFC3339))
	}
	return reconciled, nil
}

// appendMessage adds msg to the accumulated error text. A repeat of the
// latest message is not added again.
func appendMessage(existing, msg string) string {
	switch {
	case msg == "":
		return existing
	case existing == "":
		return msg
	case strings.HasSuffix(existing, msg):
		return existing
	}
	return existing + "; " + msg
}
