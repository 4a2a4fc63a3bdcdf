package usecase

import (
	"strings"
	"time"

	"ai-influencer/services/publisher/internal/entity"
)

type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeAlreadyPosted Outcome = "already_posted"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeFailed        Outcome = "failed"
)

// PlatformResult is the outcome of one platform within a publish attempt.
type PlatformResult struct {
	Platform string  `json:"platform"`
	Outcome  Outcome `json:"outcome"`
	PostID   string  `json:"post_id,omitempty"`
	URL      string  `json:"url,omitempty"`
	Error    string  `json:"error,omitempty"`
	// RetryAt is when a skipped platform can next be tried.
	RetryAt *time.Time `json:"retry_at,omitempty"`

	err error
}

// Err returns the classified error behind a skipped or failed result.
func (r PlatformResult) Err() error {
	return r.err
}

func (r PlatformResult) message() string {
	return r.Platform + ": " + r.Error
}

// PublishReport aggregates one publish attempt.
type PublishReport struct {
	ContentID    string                    `json:"content_id"`
	Success      bool                      `json:"success"`
	Status       entity.ContentStatus      `json:"status"`
	Results      map[string]PlatformResult `json:"results"`
	ErrorMessage string                    `json:"error_message,omitempty"`
}

func newReport(contentID string) *PublishReport {
	return &PublishReport{
		ContentID: contentID,
		Results:   make(map[string]PlatformResult),
	}
}

func (r *PublishReport) add(result PlatformResult) {
	r.Results[result.Platform] = result
}

func (r *PublishReport) count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// dispatched reports whether the attempt went past policy checks for any platform.
func (r *PublishReport) dispatched() bool {
	return r.count(OutcomeSuccess)+r.count(OutcomeFailed) > 0
}

// nextRetry is the earliest time a skipped platform may be tried again.
func (r *PublishReport) nextRetry() time.Time {
	var next time.Time
	for _, res := range r.Results {
		if res.Outcome != OutcomeSkipped || res.RetryAt == nil {
			continue
		}
		if next.IsZero() || res.RetryAt.Before(next) {
			next = *res.RetryAt
		}
	}
	return next
}

// SweepReport summarizes one queue scan.
type SweepReport struct {
	Scanned   int      `json:"scanned"`
	Published int      `json:"published"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// RetryReport summarizes one retry sweep.
type RetryReport struct {
	Requeued  int `json:"requeued"`
	Exhausted int `json:"exhausted"`
	Marked    int `json:"marked"`
}

// joinMessages builds the single error-message field from this attempt's
// failures and skips, in platform order.
func joinMessages(order []string, results map[string]PlatformResult) string {
	parts := make([]string, 0, len(order))
	for _, p := range order {
		res, ok := results[p]
		if !ok {
			continue
		}
		if res.Outcome == OutcomeFailed || res.Outcome == OutcomeSkipped {
			parts = append(parts, res.message())
		}
	}
	return strings.Join(parts, "; ")
}
