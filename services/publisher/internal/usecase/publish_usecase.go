package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-influencer/pkg/config"
	"ai-influencer/pkg/lock"
	"ai-influencer/pkg/logger"
	"ai-influencer/pkg/metrics"
	"ai-influencer/pkg/platform"
	"ai-influencer/services/publisher/internal/entity"
	"ai-influencer/services/publisher/internal/ratelimit"
	"ai-influencer/services/publisher/internal/repo/persistent"
)

type PublishUseCase interface {
	PublishToPlatform(ctx context.Context, contentID, platformName string) (*PublishReport, error)
	PublishToAllConnected(ctx context.Context, contentID string) (*PublishReport, error)
	ProcessQueue(ctx context.Context) (*SweepReport, error)
	RetryFailed(ctx context.Context) (*RetryReport, error)
	ReconcileStale(ctx context.Context) (int, error)
	GetStatus(ctx context.Context, contentID string) (*entity.Content, error)
	GetAccountUsage(ctx context.Context, accountID string) (*ratelimit.Usage, error)
	GetStatusCounts(ctx context.Context) (map[entity.ContentStatus]int64, error)
}

// MediaFetcher turns stored media references into local files for an
// adapter. cleanup removes anything it created.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, refs []string) (paths []string, cleanup func(), err error)
}

type Options struct {
	MaxRetries        int
	RetryBackoff      time.Duration
	BatchSize         int
	PostDelayMin      time.Duration
	PostDelayMax      time.Duration
	AdapterTimeout    time.Duration
	NSFWPlatform      string
	StalePostingAfter time.Duration
	LockWait          time.Duration

	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		BatchSize:         cfg.QueueBatchSize,
		PostDelayMin:      cfg.PostDelayMin,
		PostDelayMax:      cfg.PostDelayMax,
		AdapterTimeout:    cfg.AdapterTimeout,
		NSFWPlatform:      cfg.NSFWPlatform,
		StalePostingAfter: cfg.StalePostingAfter,
		LockWait:          cfg.LockWait,
	}
}

const (
	retryMarker     = "max retries exceeded"
	abandonedMarker = "publish attempt abandoned while posting"
)

// ContentLockKey is the lease key serializing publishes of one content item.
func ContentLockKey(contentID string) string {
	return "publish:content:" + contentID
}

type publishUseCase struct {
	contents persistent.ContentRepository
	accounts persistent.AccountRepository
	personas persistent.PersonaRepository
	locker   *lock.Locker
	limiter  *ratelimit.Limiter
	adapters *platform.Registry
	media    MediaFetcher
	metrics  *metrics.Metrics
	logger   *logger.Logger
	opts     Options
}

func NewPublishUseCase(
	contents persistent.ContentRepository,
	accounts persistent.AccountRepository,
	personas persistent.PersonaRepository,
	locker *lock.Locker,
	limiter *ratelimit.Limiter,
	adapters *platform.Registry,
	media MediaFetcher,
	m *metrics.Metrics,
	log *logger.Logger,
	opts Options,
) PublishUseCase {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 15 * time.Minute
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 5 * time.Minute
	}
	if media == nil {
		media = passthroughMedia{}
	}

	return &publishUseCase{
		contents: contents,
		accounts: accounts,
		personas: personas,
		locker:   locker,
		limiter:  limiter,
		adapters: adapters,
		media:    media,
		metrics:  m,
		logger:   log,
		opts:     opts,
	}
}

// target is one platform account an attempt will try.
type target struct {
	account *entity.PlatformAccount
}

// plan inspects the guarded content and decides which accounts to try.
// Platforms already published are reported and left out of the returned set.
type plan func(ctx context.Context, content *entity.Content, report *PublishReport) ([]target, error)

func (uc *publishUseCase) PublishToPlatform(ctx context.Context, contentID, platformName string) (*PublishReport, error) {
	platformName = entity.NormalizePlatform(platformName)
	if platformName == "" {
		return nil, fmt.Errorf("platform is required")
	}

	report, err := uc.attempt(ctx, contentID, func(ctx context.Context, content *entity.Content, report *PublishReport) ([]target, error) {
		if err := uc.checkRestriction(content, []string{platformName}); err != nil {
			return nil, err
		}
		if content.HasPostedTo(platformName) {
			report.add(PlatformResult{Platform: platformName, Outcome: OutcomeAlreadyPosted})
			return nil, nil
		}

		account, err := uc.accounts.GetByPersonaAndPlatform(ctx, content.PersonaID, platformName)
		if err != nil {
			return nil, err
		}
		return []target{{account: account}}, nil
	})
	if err != nil {
		return nil, err
	}

	report.Success = false
	if res, ok := report.Results[platformName]; ok {
		report.Success = res.Outcome == OutcomeSuccess || res.Outcome == OutcomeAlreadyPosted
	}
	return report, nil
}

func (uc *publishUseCase) PublishToAllConnected(ctx context.Context, contentID string) (*PublishReport, error) {
	return uc.attempt(ctx, contentID, func(ctx context.Context, content *entity.Content, report *PublishReport) ([]target, error) {
		persona, err := uc.personas.GetByID(ctx, content.PersonaID)
		if err != nil {
			return nil, err
		}
		if !persona.IsActive {
			return nil, fmt.Errorf("%w: persona %s is inactive", entity.ErrNoEligiblePlatforms, persona.Handle)
		}

		accounts, err := uc.accounts.ListConnected(ctx, content.PersonaID)
		if err != nil {
			return nil, fmt.Errorf("failed to list connected accounts: %w", err)
		}

		eligible := uc.filterRestricted(content, accounts)
		if len(eligible) == 0 {
			if content.ContentType == entity.ContentTypeNSFW {
				return nil, fmt.Errorf("%w: %s content may only be published to %s and persona %s has no connected %s account",
					entity.ErrNoEligiblePlatforms, content.ContentType, uc.opts.NSFWPlatform, persona.Handle, uc.opts.NSFWPlatform)
			}
			return nil, fmt.Errorf("%w: persona %s has no connected platform accounts", entity.ErrNoEligiblePlatforms, persona.Handle)
		}

		targets := make([]target, 0, len(eligible))
		for _, account := range eligible {
			if content.HasPostedTo(account.Platform) {
				report.add(PlatformResult{Platform: entity.NormalizePlatform(account.Platform), Outcome: OutcomeAlreadyPosted})
				continue
			}
			targets = append(targets, target{account: account})
		}
		return targets, nil
	})
}

// attempt runs one publish attempt under the content lease: guard, mark
// posting, dispatch each target in order, then finalize the row once.
func (uc *publishUseCase) attempt(ctx context.Context, contentID string, planFn plan) (*PublishReport, error) {
	log := uc.logger.WithFields(logger.Fields{"content_id": contentID})

	lease, err := uc.locker.Acquire(ctx, ContentLockKey(contentID), uc.opts.LockWait)
	if err != nil {
		return nil, fmt.Errorf("failed to lock content %s: %w", contentID, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("[PUBLISH] Releasing content lease: %v", err)
		}
	}()

	content, err := uc.contents.GetByID(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if guard := content.PublishGuard(); !guard.Allowed() {
		return nil, fmt.Errorf("%w: %s", entity.ErrInvalidState, guard.Reason)
	}

	report := newReport(contentID)
	targets, err := planFn(ctx, content, report)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		// Nothing left to try; every requested platform already has this content.
		report.Status = content.Status
		report.Success = len(content.PostedPlatforms) > 0
		report.ErrorMessage = content.ErrorMessage
		log.Info("[PUBLISH] Nothing to publish, already on %v", content.PostedPlatforms)
		return report, nil
	}

	previous := content.Status
	token := lease.Token()
	now := uc.opts.Now()
	claimUntil := now.Add(time.Duration(len(targets)+1) * uc.opts.AdapterTimeout)
	content, err = uc.contents.UpdateLocked(ctx, contentID, func(c *entity.Content) error {
		if guard := c.PublishGuard(); !guard.Allowed() {
			return fmt.Errorf("%w: %s", entity.ErrInvalidState, guard.Reason)
		}
		// The lease can expire under a slow adapter; the claim keeps a second
		// holder from dispatching while the first is still inside a call.
		if c.ClaimedByOther(token, now) {
			return fmt.Errorf("%w: content %s is claimed until %s", entity.ErrPublishInFlight, c.ID, c.ClaimedUntil.Format(time.RFC3339))
		}
		previous = c.Status
		// Content already live somewhere stays posted while new platforms are tried.
		if len(c.PostedPlatforms) == 0 {
			c.Status = entity.StatusPosting
		}
		c.Claim(token, claimUntil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(targets))
	leaseLost := false
	for _, t := range targets {
		name := entity.NormalizePlatform(t.account.Platform)
		order = append(order, name)

		if !leaseLost {
			if err := lease.Verify(ctx); errors.Is(err, lock.ErrNotHeld) {
				leaseLost = true
				log.Error("[PUBLISH] Content lease lost, abandoning %s and any later platform", name)
			} else if err != nil {
				log.Warn("[PUBLISH] Could not verify content lease, continuing under the publish claim: %v", err)
			}
		}

		var result PlatformResult
		if leaseLost {
			result = failed(PlatformResult{Platform: name}, fmt.Errorf("content lease lost before publishing: %w", lock.ErrNotHeld))
		} else {
			result = uc.publishOne(ctx, content, t.account)
		}
		if result.Outcome == OutcomeSuccess {
			updated, err := uc.recordSuccess(ctx, content, t.account, token, result)
			if err != nil {
				log.Error("[PUBLISH] %s accepted post %s but recording it failed: %v", name, result.PostID, err)
				result.Outcome = OutcomeFailed
				result.Error = fmt.Sprintf("posted as %s but failed to record: %v", result.PostID, err)
				result.err = err
			} else {
				content = updated
			}
		}
		uc.metrics.PublishOutcome(name, string(result.Outcome))
		report.add(result)
	}

	final, err := uc.finalize(context.WithoutCancel(ctx), contentID, token, previous, order, report)
	if err != nil {
		log.Error("[PUBLISH] Failed to finalize attempt: %v", err)
		return nil, fmt.Errorf("failed to finalize publish of %s: %w", contentID, err)
	}

	report.Status = final.Status
	report.Success = len(final.PostedPlatforms) > 0
	report.ErrorMessage = final.ErrorMessage
	log.Info("[PUBLISH] Attempt finished status=%s posted=%v succeeded=%d failed=%d skipped=%d",
		final.Status, final.PostedPlatforms, report.count(OutcomeSuccess), report.count(OutcomeFailed), report.count(OutcomeSkipped))
	return report, nil
}

// publishOne runs a single platform: policy checks, media, adapter. It never
// touches the database.
func (uc *publishUseCase) publishOne(ctx context.Context, content *entity.Content, account *entity.PlatformAccount) PlatformResult {
	name := entity.NormalizePlatform(account.Platform)
	result := PlatformResult{Platform: name}
	log := uc.logger.WithFields(logger.Fields{"content_id": content.ID, "platform": name})

	backoff := uc.opts.Now().Add(uc.opts.RetryBackoff)
	if account.PostingPaused {
		uc.metrics.PolicyDenied(name, "paused")
		return skipped(result, "posting paused for this account", backoff)
	}
	if !account.IsConnected {
		uc.metrics.PolicyDenied(name, "disconnected")
		return skipped(result, "account not connected", backoff)
	}

	category := ratelimit.CategoryFor(content)
	probe := *account
	if decision := uc.limiter.Check(&probe, category); !decision.Allowed {
		uc.metrics.PolicyDenied(name, "rate_limited")
		log.Info("[PUBLISH] Skipping: %s", decision.Reason)
		return skipped(result, decision.Reason, uc.limiter.NextReset(&probe))
	}

	// One budget covers media, authentication and the post itself.
	actx, cancel := context.WithTimeout(ctx, uc.opts.AdapterTimeout)
	defer cancel()

	refs, isVideo := content.Media()
	paths, cleanup, err := uc.media.FetchMedia(actx, refs)
	if err != nil {
		return failed(result, fmt.Errorf("%w: media unavailable: %v", entity.ErrPlatformError, err))
	}
	defer cleanup()

	adapter, err := uc.adapters.Build(platform.Account{
		ID:          account.ID,
		Platform:    name,
		Username:    account.Username,
		Credentials: account.Credentials,
	})
	if err != nil {
		return failed(result, fmt.Errorf("%w: %v", entity.ErrPlatformError, err))
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			log.Warn("[PUBLISH] Closing adapter: %v", err)
		}
	}()

	started := time.Now()
	defer func() { uc.metrics.ObserveAdapter(name, time.Since(started)) }()

	ok, err := adapter.Authenticate(actx, account.Credentials)
	if err != nil {
		return failed(result, fmt.Errorf("%w: %v", entity.ErrAuthenticationFailed, err))
	}
	if !ok {
		return failed(result, fmt.Errorf("%w as %s", entity.ErrAuthenticationFailed, account.Username))
	}

	res, err := adapter.PostContent(actx, platform.PostRequest{
		Caption:    content.Caption,
		MediaPaths: paths,
		Hashtags:   content.Hashtags,
		IsVideo:    isVideo,
		Category:   string(content.ContentType),
	})
	if err != nil {
		return failed(result, fmt.Errorf("%w: %v", entity.ErrPlatformError, err))
	}
	if res == nil || !res.Success {
		msg := "post rejected"
		if res != nil && res.ErrorMessage != "" {
			msg = res.ErrorMessage
		}
		return failed(result, fmt.Errorf("%w: %s", entity.ErrPlatformError, msg))
	}

	log.Info("[PUBLISH] Posted id=%s url=%s", res.PostID, res.URL)
	result.Outcome = OutcomeSuccess
	result.PostID = res.PostID
	result.URL = res.URL
	return result
}

// recordSuccess persists one platform success and charges the account's
// daily counter in the same transaction.
func (uc *publishUseCase) recordSuccess(ctx context.Context, content *entity.Content, account *entity.PlatformAccount, token string, result PlatformResult) (*entity.Content, error) {
	category := ratelimit.CategoryFor(content)
	now := uc.opts.Now()
	log := uc.logger.WithFields(logger.Fields{"content_id": content.ID, "platform": result.Platform})

	updated, _, err := uc.contents.UpdateWithAccount(context.WithoutCancel(ctx), content.ID, account.ID, func(c *entity.Content, a *entity.PlatformAccount) error {
		if c.HasPostedTo(result.Platform) {
			log.Error("[PUBLISH] Duplicate publish: %s was already recorded, platform accepted another post id=%s url=%s", result.Platform, result.PostID, result.URL)
		}
		if c.PublishClaim != token {
			log.Error("[PUBLISH] Recording post id=%s without holding the publish claim", result.PostID)
		}
		c.MarkPosted(result.Platform, result.PostID, result.URL, now)
		uc.limiter.Record(a, category)
		return nil
	})
	return updated, err
}

// finalize writes the attempt's aggregate outcome exactly once and drops the
// attempt's publish claim.
func (uc *publishUseCase) finalize(ctx context.Context, contentID, token string, previous entity.ContentStatus, order []string, report *PublishReport) (*entity.Content, error) {
	failures := report.count(OutcomeFailed)
	successes := report.count(OutcomeSuccess)
	message := joinMessages(order, report.Results)
	retryAt := report.nextRetry()

	return uc.contents.UpdateLocked(ctx, contentID, func(c *entity.Content) error {
		switch {
		case len(c.PostedPlatforms) > 0:
			c.Status = entity.StatusPosted
		case failures > 0:
			c.Status = entity.StatusFailed
			c.RetryCount++
		default:
			// Only policy skips: nothing was attempted against a platform.
			c.Status = previous
			if previous == entity.StatusPosting {
				c.Status = entity.StatusScheduled
			}
			// Park the item until the earliest skip can clear so the queue
			// scan moves on to other due content.
			if c.Status == entity.StatusScheduled && !retryAt.IsZero() &&
				(c.ScheduledFor == nil || c.ScheduledFor.Before(retryAt)) {
				c.ScheduledFor = &retryAt
			}
		}

		if successes > 0 {
			// A success clears earlier attempts' errors; only this attempt's remain.
			c.ErrorMessage = message
		} else {
			c.ErrorMessage = appendMessage(c.ErrorMessage, message)
		}
		if c.PublishClaim == token {
			c.ReleaseClaim()
		}
		return nil
	})
}

func (uc *publishUseCase) checkRestriction(content *entity.Content, platforms []string) error {
	if content.ContentType != entity.ContentTypeNSFW || uc.opts.NSFWPlatform == "" {
		return nil
	}
	allowed := entity.NormalizePlatform(uc.opts.NSFWPlatform)
	for _, p := range platforms {
		if p != allowed {
			return fmt.Errorf("%w: %s content may only be published to %s, not %s",
				entity.ErrNoEligiblePlatforms, content.ContentType, allowed, p)
		}
	}
	return nil
}

func (uc *publishUseCase) filterRestricted(content *entity.Content, accounts []*entity.PlatformAccount) []*entity.PlatformAccount {
	if content.ContentType != entity.ContentTypeNSFW || uc.opts.NSFWPlatform == "" {
		return accounts
	}
	allowed := entity.NormalizePlatform(uc.opts.NSFWPlatform)
	out := make([]*entity.PlatformAccount, 0, 1)
	for _, a := range accounts {
		if entity.NormalizePlatform(a.Platform) == allowed {
			out = append(out, a)
		}
	}
	return out
}

func (uc *publishUseCase) GetStatus(ctx context.Context, contentID string) (*entity.Content, error) {
	return uc.contents.GetByID(ctx, contentID)
}

func (uc *publishUseCase) GetAccountUsage(ctx context.Context, accountID string) (*ratelimit.Usage, error) {
	account, err := uc.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	usage := uc.limiter.Usage(account)
	return &usage, nil
}

func (uc *publishUseCase) GetStatusCounts(ctx context.Context) (map[entity.ContentStatus]int64, error) {
	return uc.contents.CountByStatus(ctx)
}

func skipped(result PlatformResult, reason string, retryAt time.Time) PlatformResult {
	result.Outcome = OutcomeSkipped
	result.Error = reason
	if !retryAt.IsZero() {
		result.RetryAt = &retryAt
	}
	result.err = fmt.Errorf("%w: %s", entity.ErrPolicyDenied, reason)
	return result
}

func failed(result PlatformResult, err error) PlatformResult {
	result.Outcome = OutcomeFailed
	result.Error = err.Error()
	result.err = err
	return result
}

// IsClientError reports whether err is caused by the request rather than
// by infrastructure, so a queued task carrying it should not be retried.
func IsClientError(err error) bool {
	return errors.Is(err, entity.ErrInvalidState) ||
		errors.Is(err, entity.ErrContentNotFound) ||
		errors.Is(err, entity.ErrAccountNotFound) ||
		errors.Is(err, entity.ErrPersonaNotFound) ||
		errors.Is(err, entity.ErrNoEligiblePlatforms)
}

type passthroughMedia struct{}

func (passthroughMedia) FetchMedia(ctx context.Context, refs []string) ([]string, func(), error) {
	return refs, func() {}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
