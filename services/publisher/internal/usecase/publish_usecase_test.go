package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-influencer/pkg/lock"
	"ai-influencer/pkg/logger"
	"ai-influencer/pkg/metrics"
	"ai-influencer/pkg/models"
	"ai-influencer/pkg/platform"
	"ai-influencer/services/publisher/internal/entity"
	"ai-influencer/services/publisher/internal/ratelimit"
	"ai-influencer/services/publisher/internal/repo/persistent"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const personaID = "persona-1"

type fakePlatform struct {
	name     string
	authFail bool
	postErr  error
	reject   string
	delay    time.Duration
	// entered is signalled when a post starts; block holds it until closed.
	entered chan struct{}
	block   chan struct{}

	posts  atomic.Int32
	closes atomic.Int32

	mu       sync.Mutex
	requests []platform.PostRequest
}

func (p *fakePlatform) factory() platform.Factory {
	return func(account platform.Account) (platform.Adapter, error) {
		return &fakeAdapter{p: p}, nil
	}
}

func (p *fakePlatform) lastRequest() platform.PostRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

type fakeAdapter struct {
	p *fakePlatform
}

func (a *fakeAdapter) Authenticate(ctx context.Context, credentials map[string]string) (bool, error) {
	return !a.p.authFail, nil
}

func (a *fakeAdapter) PostContent(ctx context.Context, req platform.PostRequest) (*platform.PostResult, error) {
	if a.p.entered != nil {
		select {
		case a.p.entered <- struct{}{}:
		default:
		}
	}
	if a.p.block != nil {
		<-a.p.block
	}
	if a.p.delay > 0 {
		time.Sleep(a.p.delay)
	}
	a.p.mu.Lock()
	a.p.requests = append(a.p.requests, req)
	a.p.mu.Unlock()

	n := a.p.posts.Add(1)
	if a.p.postErr != nil {
		return nil, a.p.postErr
	}
	if a.p.reject != "" {
		return &platform.PostResult{Success: false, ErrorMessage: a.p.reject}, nil
	}
	id := fmt.Sprintf("%s-%d", a.p.name, n)
	return &platform.PostResult{Success: true, PostID: id, URL: "https://" + a.p.name + ".example/p/" + id}, nil
}

func (a *fakeAdapter) Close() error {
	a.p.closes.Add(1)
	return nil
}

type fixture struct {
	t         *testing.T
	db        *gorm.DB
	contents  persistent.ContentRepository
	accounts  persistent.AccountRepository
	redis     *miniredis.Miniredis
	locker    *lock.Locker
	limiter   *ratelimit.Limiter
	platforms map[string]*fakePlatform
	now       time.Time
	sleeps    []time.Duration
	uc        PublishUseCase
}

func newFixture(t *testing.T, policy ratelimit.Policy, tweak func(*Options)) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	require.NoError(t, db.Create(&models.Persona{ID: personaID, Name: "Ava", Handle: "ava", IsActive: true}).Error)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.NewWithOptions("error", "text")
	f := &fixture{
		t:         t,
		db:        db,
		contents:  persistent.NewContentRepository(db),
		accounts:  persistent.NewAccountRepository(db),
		redis:     mr,
		locker:    lock.NewLocker(client, time.Minute, log).WithRetryInterval(5 * time.Millisecond),
		platforms: make(map[string]*fakePlatform),
		now:       time.Now().UTC().Truncate(time.Second),
	}
	f.limiter = ratelimit.NewLimiter(policy, "UTC").WithClock(func() time.Time { return f.now })

	registry := platform.NewRegistry()
	for _, name := range []string{"twitter", "instagram", "tiktok", "fanvue"} {
		p := &fakePlatform{name: name}
		f.platforms[name] = p
		registry.Register(name, p.factory())
	}

	opts := Options{
		MaxRetries:     3,
		RetryBackoff:   15 * time.Minute,
		BatchSize:      5,
		PostDelayMin:   30 * time.Second,
		PostDelayMax:   120 * time.Second,
		AdapterTimeout: 5 * time.Second,
		NSFWPlatform:   "fanvue",
		Now:            func() time.Time { return f.now },
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	}
	if tweak != nil {
		tweak(&opts)
	}

	f.uc = NewPublishUseCase(
		f.contents,
		f.accounts,
		persistent.NewPersonaRepository(db),
		f.locker,
		f.limiter,
		registry,
		nil,
		metrics.New("publisher_test"),
		log,
		opts,
	)
	return f
}

func (f *fixture) account(platformName string, mutate func(*entity.PlatformAccount)) *entity.PlatformAccount {
	f.t.Helper()
	a := &entity.PlatformAccount{
		PersonaID:   personaID,
		Platform:    platformName,
		Username:    "ava_" + platformName,
		Credentials: map[string]string{"token": "secret"},
		IsConnected: true,
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(f.t, f.accounts.Create(context.Background(), a))
	return a
}

func (f *fixture) content(id string, mutate func(*entity.Content)) *entity.Content {
	f.t.Helper()
	c := &entity.Content{
		ID:          id,
		PersonaID:   personaID,
		ContentType: entity.ContentTypePost,
		Caption:     "hello from " + id,
		Hashtags:    []string{"#ai"},
		ImageURLs:   []string{"/tmp/" + id + ".jpg"},
		Status:      entity.StatusScheduled,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(f.t, f.contents.Create(context.Background(), c))
	return c
}

func (f *fixture) reload(id string) *entity.Content {
	f.t.Helper()
	c, err := f.contents.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return c
}

// hold makes the next post to platformName wait until the returned release is called.
func (f *fixture) hold(platformName string) (entered <-chan struct{}, release func()) {
	p := f.platforms[platformName]
	p.entered = make(chan struct{}, 1)
	p.block = make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(p.block) }) }
	f.t.Cleanup(release)
	return p.entered, release
}

func (f *fixture) reloadAccount(id string) *entity.PlatformAccount {
	f.t.Helper()
	a, err := f.accounts.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return a
}

func TestPublishToAllConnected_BothPlatformsSucceed(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	tw := f.account("twitter", nil)
	ig := f.account("instagram", nil)
	f.content("c1", nil)

	report, err := f.uc.PublishToAllConnected(context.Background(), "c1")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, entity.StatusPosted, report.Status)
	assert.Equal(t, OutcomeSuccess, report.Results["twitter"].Outcome)
	assert.Equal(t, OutcomeSuccess, report.Results["instagram"].Outcome)

	c := f.reload("c1")
	assert.Equal(t, entity.StatusPosted, c.Status)
	assert.ElementsMatch(t, []string{"twitter", "instagram"}, c.PostedPlatforms)
	assert.Empty(t, c.ErrorMessage)
	assert.NotNil(t, c.PostedAt)
	// Accounts are tried in platform order, so instagram's post is canonical.
	assert.Equal(t, "instagram-1", c.PlatformPostID)

	assert.Equal(t, 1, f.reloadAccount(tw.ID).PostsToday)
	assert.Equal(t, 1, f.reloadAccount(ig.ID).PostsToday)
}

func TestPublishToAllConnected_RetargetsOnlyMissingPlatform(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.account("instagram", nil)
	f.platforms["instagram"].postErr = errors.New("upload timed out")
	f.content("c2", func(c *entity.Content) {
		c.Status = entity.StatusPosted
		c.PostedPlatforms = []string{"twitter"}
		c.PostURL = "https://twitter.example/p/original"
		c.PlatformPostID = "original"
	})

	report, err := f.uc.PublishToAllConnected(context.Background(), "c2")
	require.NoError(t, err)

	assert.Equal(t, int32(0), f.platforms["twitter"].posts.Load())
	assert.Equal(t, int32(1), f.platforms["instagram"].posts.Load())
	assert.Equal(t, OutcomeAlreadyPosted, report.Results["twitter"].Outcome)
	assert.Equal(t, OutcomeFailed, report.Results["instagram"].Outcome)
	assert.True(t, report.Success)

	c := f.reload("c2")
	assert.Equal(t, entity.StatusPosted, c.Status)
	assert.Equal(t, []string{"twitter"}, c.PostedPlatforms)
	assert.Equal(t, "original", c.PlatformPostID)
	assert.Contains(t, c.ErrorMessage, "instagram")
	assert.Equal(t, 0, c.RetryCount)
}

func TestPublishToAllConnected_PartialSuccess(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.account("instagram", nil)
	f.account("tiktok", nil)
	f.platforms["instagram"].reject = "caption violates community guidelines"
	f.platforms["tiktok"].authFail = true
	f.content("c3", nil)

	report, err := f.uc.PublishToAllConnected(context.Background(), "c3")
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.ErrorIs(t, report.Results["instagram"].Err(), entity.ErrPlatformError)
	assert.ErrorIs(t, report.Results["tiktok"].Err(), entity.ErrAuthenticationFailed)

	c := f.reload("c3")
	assert.Equal(t, entity.StatusPosted, c.Status)
	assert.Equal(t, []string{"twitter"}, c.PostedPlatforms)
	assert.Equal(t, "twitter-1", c.PlatformPostID)
	assert.Equal(t, "https://twitter.example/p/twitter-1", c.PostURL)
	assert.Contains(t, c.ErrorMessage, "instagram: platform error: caption violates community guidelines")
	assert.Contains(t, c.ErrorMessage, "tiktok: authentication failed")
	assert.Equal(t, 0, c.RetryCount)

	// Adapters are always released.
	assert.Equal(t, int32(1), f.platforms["tiktok"].closes.Load())
	assert.Equal(t, int32(1), f.platforms["instagram"].closes.Load())
}

func TestPublishToPlatform_NoDoublePublishUnderConcurrency(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.platforms["twitter"].delay = 20 * time.Millisecond
	f.content("race", nil)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := f.uc.PublishToPlatform(context.Background(), "race", "twitter")
			if err != nil {
				errs <- err
				return
			}
			if !report.Success {
				errs <- fmt.Errorf("unexpected failure: %+v", report.Results)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Equal(t, int32(1), f.platforms["twitter"].posts.Load())
	c := f.reload("race")
	assert.Equal(t, []string{"twitter"}, c.PostedPlatforms)
	assert.Equal(t, entity.StatusPosted, c.Status)
}

func TestPublishToPlatform_IdempotentRetarget(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	tw := f.account("twitter", nil)
	f.content("c1", nil)

	first, err := f.uc.PublishToPlatform(context.Background(), "c1", "twitter")
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.uc.PublishToPlatform(context.Background(), "c1", "Twitter")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, OutcomeAlreadyPosted, second.Results["twitter"].Outcome)
	assert.Equal(t, int32(1), f.platforms["twitter"].posts.Load())
	assert.Equal(t, 1, f.reloadAccount(tw.ID).PostsToday)
}

func TestPublishToPlatform_RateCeiling(t *testing.T) {
	f := newFixture(t, ratelimit.Policy{MaxPostsPerDay: 2, MaxVideoPostsPerDay: 1, MaxStoriesPerDay: 1, MaxReelsPerDay: 1}, nil)
	tw := f.account("twitter", nil)
	for _, id := range []string{"a", "b", "c"} {
		f.content(id, nil)
	}

	for _, id := range []string{"a", "b"} {
		report, err := f.uc.PublishToPlatform(context.Background(), id, "twitter")
		require.NoError(t, err)
		require.True(t, report.Success)
	}

	report, err := f.uc.PublishToPlatform(context.Background(), "c", "twitter")
	require.NoError(t, err)
	assert.False(t, report.Success)
	res := report.Results["twitter"]
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "post limit reached (2/2)", res.Error)
	assert.ErrorIs(t, res.Err(), entity.ErrPolicyDenied)

	assert.Equal(t, int32(2), f.platforms["twitter"].posts.Load())
	assert.Equal(t, 2, f.reloadAccount(tw.ID).PostsToday)

	c := f.reload("c")
	assert.Equal(t, entity.StatusScheduled, c.Status)
	assert.Equal(t, 0, c.RetryCount)
	assert.Equal(t, "twitter: post limit reached (2/2)", c.ErrorMessage)

	y, m, d := f.now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	require.NotNil(t, res.RetryAt)
	assert.True(t, res.RetryAt.Equal(midnight))
	require.NotNil(t, c.ScheduledFor)
	assert.True(t, c.ScheduledFor.Equal(midnight))
}

func TestPublishToPlatform_DailyReset(t *testing.T) {
	f := newFixture(t, ratelimit.Policy{MaxPostsPerDay: 1, MaxVideoPostsPerDay: 1, MaxStoriesPerDay: 1, MaxReelsPerDay: 1}, nil)
	yesterday := f.now.Add(-24 * time.Hour)
	tw := f.account("twitter", func(a *entity.PlatformAccount) {
		a.PostsToday = 1
		a.LastResetDate = &yesterday
	})
	f.content("c1", nil)

	report, err := f.uc.PublishToPlatform(context.Background(), "c1", "twitter")
	require.NoError(t, err)
	assert.True(t, report.Success)

	a := f.reloadAccount(tw.ID)
	assert.Equal(t, 1, a.PostsToday)
	require.NotNil(t, a.LastResetDate)
	assert.Equal(t, f.now.Format("2006-01-02"), a.LastResetDate.UTC().Format("2006-01-02"))
}

func TestPublishToPlatform_VideoCountsAgainstVideoCeiling(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	tw := f.account("twitter", nil)
	f.content("v1", func(c *entity.Content) { c.VideoURL = "/tmp/v1.mp4" })

	report, err := f.uc.PublishToPlatform(context.Background(), "v1", "twitter")
	require.NoError(t, err)
	require.True(t, report.Success)

	req := f.platforms["twitter"].lastRequest()
	assert.True(t, req.IsVideo)
	assert.Equal(t, []string{"/tmp/v1.mp4"}, req.MediaPaths)
	assert.Equal(t, "post", req.Category)

	a := f.reloadAccount(tw.ID)
	assert.Equal(t, 1, a.VideoPostsToday)
	assert.Equal(t, 0, a.PostsToday)
}

func TestPublishToPlatform_AllFailMarksFailed(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.platforms["twitter"].postErr = errors.New("503 service unavailable")
	f.content("c1", nil)

	report, err := f.uc.PublishToPlatform(context.Background(), "c1", "twitter")
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, entity.StatusFailed, report.Status)

	c := f.reload("c1")
	assert.Equal(t, entity.StatusFailed, c.Status)
	assert.Equal(t, 1, c.RetryCount)
	assert.Equal(t, "twitter: platform error: 503 service unavailable", c.ErrorMessage)
	assert.Empty(t, c.PostedPlatforms)
}

func TestPublishToPlatform_InvalidStateNoMutation(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.content("draft", func(c *entity.Content) { c.Status = entity.StatusDraft })

	_, err := f.uc.PublishToPlatform(context.Background(), "draft", "twitter")
	assert.ErrorIs(t, err, entity.ErrInvalidState)
	assert.True(t, IsClientError(err))

	c := f.reload("draft")
	assert.Equal(t, entity.StatusDraft, c.Status)
	assert.Equal(t, int32(0), f.platforms["twitter"].posts.Load())
}

func TestPublishToPlatform_UnknownContentAndAccount(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.content("c1", nil)

	_, err := f.uc.PublishToPlatform(context.Background(), "nope", "twitter")
	assert.ErrorIs(t, err, entity.ErrContentNotFound)

	_, err = f.uc.PublishToPlatform(context.Background(), "c1", "twitter")
	assert.ErrorIs(t, err, entity.ErrAccountNotFound)
	assert.Equal(t, entity.StatusScheduled, f.reload("c1").Status)
}

func TestPublishToPlatform_PausedAccountIsSkipped(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", func(a *entity.PlatformAccount) { a.PostingPaused = true })
	f.content("c1", func(c *entity.Content) { c.Status = entity.StatusPendingReview })

	report, err := f.uc.PublishToPlatform(context.Background(), "c1", "twitter")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Results["twitter"].Outcome)

	c := f.reload("c1")
	assert.Equal(t, entity.StatusPendingReview, c.Status)
	assert.Equal(t, 0, c.RetryCount)
	assert.Contains(t, c.ErrorMessage, "posting paused")
	assert.Equal(t, int32(0), f.platforms["twitter"].posts.Load())
}

func TestPublish_NSFWRestrictedToOnePlatform(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.content("n1", func(c *entity.Content) { c.ContentType = entity.ContentTypeNSFW })

	_, err := f.uc.PublishToAllConnected(context.Background(), "n1")
	assert.ErrorIs(t, err, entity.ErrNoEligiblePlatforms)
	assert.Contains(t, err.Error(), "fanvue")

	_, err = f.uc.PublishToPlatform(context.Background(), "n1", "twitter")
	assert.ErrorIs(t, err, entity.ErrNoEligiblePlatforms)

	f.account("fanvue", nil)
	report, err := f.uc.PublishToAllConnected(context.Background(), "n1")
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Len(t, report.Results, 1)
	assert.Equal(t, []string{"fanvue"}, f.reload("n1").PostedPlatforms)
	assert.Equal(t, int32(0), f.platforms["twitter"].posts.Load())
}

func TestPublish_LockTimeout(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), func(o *Options) { o.LockWait = 30 * time.Millisecond })
	f.account("twitter", nil)
	f.content("c1", nil)

	lease, ok, err := f.locker.TryAcquire(context.Background(), ContentLockKey("c1"))
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release(context.Background())

	_, err = f.uc.PublishToPlatform(context.Background(), "c1", "twitter")
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Equal(t, entity.StatusScheduled, f.reload("c1").Status)
}

type recordingMedia struct {
	refs    []string
	cleaned bool
}

func (m *recordingMedia) FetchMedia(ctx context.Context, refs []string) ([]string, func(), error) {
	m.refs = refs
	paths := make([]string, len(refs))
	for i, r := range refs {
		paths[i] = "/tmp/fetched/" + r
	}
	return paths, func() { m.cleaned = true }, nil
}

func TestPublish_FetchesAndCleansUpMedia(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("instagram", nil)
	f.content("c1", func(c *entity.Content) { c.ImageURLs = []string{"media/a.jpg", "media/b.jpg"} })

	media := &recordingMedia{}
	uc := f.uc.(*publishUseCase)
	uc.media = media

	report, err := f.uc.PublishToPlatform(context.Background(), "c1", "instagram")
	require.NoError(t, err)
	require.True(t, report.Success)

	assert.Equal(t, []string{"media/a.jpg", "media/b.jpg"}, media.refs)
	assert.True(t, media.cleaned)
	assert.Equal(t, []string{"/tmp/fetched/media/a.jpg", "/tmp/fetched/media/b.jpg"}, f.platforms["instagram"].lastRequest().MediaPaths)
}

func TestGetAccountUsage(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	tw := f.account("twitter", func(a *entity.PlatformAccount) {
		today := f.now
		a.StoriesToday = 4
		a.LastResetDate = &today
	})

	usage, err := f.uc.GetAccountUsage(context.Background(), tw.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, usage.Counters[entity.CategoryStory])
	assert.Equal(t, 1, usage.Remaining[entity.CategoryStory])

	_, err = f.uc.GetAccountUsage(context.Background(), "missing")
	assert.ErrorIs(t, err, entity.ErrAccountNotFound)
}

func TestPublishToPlatform_ExpiredLeaseCannotDoublePublish(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.content("slow", nil)
	entered, release := f.hold("twitter")
	ctx := context.Background()

	type outcome struct {
		report *PublishReport
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		r, err := f.uc.PublishToPlatform(ctx, "slow", "twitter")
		first <- outcome{r, err}
	}()

	<-entered
	// The lease runs out while the adapter call is still in progress.
	f.redis.Del(ContentLockKey("slow"))

	_, err := f.uc.PublishToPlatform(ctx, "slow", "twitter")
	assert.ErrorIs(t, err, entity.ErrPublishInFlight)
	assert.False(t, IsClientError(err))

	release()
	got := <-first
	require.NoError(t, got.err)
	assert.True(t, got.report.Success)

	assert.Equal(t, int32(1), f.platforms["twitter"].posts.Load())
	c := f.reload("slow")
	assert.Equal(t, entity.StatusPosted, c.Status)
	assert.Equal(t, []string{"twitter"}, c.PostedPlatforms)
	assert.Empty(t, c.PublishClaim)
	assert.Nil(t, c.ClaimedUntil)

	// With the claim released a later attempt sees the platform as done.
	report, err := f.uc.PublishToPlatform(ctx, "slow", "twitter")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPosted, report.Results["twitter"].Outcome)
	assert.Equal(t, int32(1), f.platforms["twitter"].posts.Load())
}

func TestPublishToAllConnected_LeaseLostAbandonsRemainingPlatforms(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.account("instagram", nil)
	f.content("fanout", nil)
	entered, release := f.hold("instagram")
	ctx := context.Background()

	done := make(chan *PublishReport, 1)
	go func() {
		r, err := f.uc.PublishToAllConnected(ctx, "fanout")
		assert.NoError(t, err)
		done <- r
	}()

	<-entered
	f.redis.Del(ContentLockKey("fanout"))
	release()
	report := <-done
	require.NotNil(t, report)

	assert.Equal(t, OutcomeSuccess, report.Results["instagram"].Outcome)
	assert.Equal(t, OutcomeFailed, report.Results["twitter"].Outcome)
	assert.ErrorIs(t, report.Results["twitter"].Err(), lock.ErrNotHeld)
	assert.Equal(t, int32(0), f.platforms["twitter"].posts.Load())

	c := f.reload("fanout")
	assert.Equal(t, entity.StatusPosted, c.Status)
	assert.Equal(t, []string{"instagram"}, c.PostedPlatforms)
	assert.Contains(t, c.ErrorMessage, "twitter: content lease lost")
	assert.Empty(t, c.PublishClaim)
}

func TestPublishToPlatform_StaleClaimFromDeadAttemptIsTakenOver(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	expired := f.now.Add(-time.Minute)
	f.content("orphan", func(c *entity.Content) {
		c.Status = entity.StatusPosting
		c.Claim("dead-worker", expired)
	})

	report, err := f.uc.PublishToPlatform(context.Background(), "orphan", "twitter")
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Empty(t, f.reload("orphan").PublishClaim)
}

func TestPublish_ErrorMessageAccumulatesUntilSuccess(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", nil)
	f.content("flaky", nil)
	ctx := context.Background()

	f.platforms["twitter"].postErr = errors.New("503 service unavailable")
	_, err := f.uc.PublishToPlatform(ctx, "flaky", "twitter")
	require.NoError(t, err)

	_, err = f.uc.RetryFailed(ctx)
	require.NoError(t, err)
	f.platforms["twitter"].postErr = errors.New("account flagged")
	_, err = f.uc.PublishToPlatform(ctx, "flaky", "twitter")
	require.NoError(t, err)

	c := f.reload("flaky")
	assert.Equal(t, entity.StatusFailed, c.Status)
	assert.Equal(t, 2, c.RetryCount)
	assert.Equal(t, "twitter: platform error: 503 service unavailable; twitter: platform error: account flagged", c.ErrorMessage)

	_, err = f.uc.RetryFailed(ctx)
	require.NoError(t, err)
	f.platforms["twitter"].postErr = nil
	report, err := f.uc.PublishToPlatform(ctx, "flaky", "twitter")
	require.NoError(t, err)
	assert.True(t, report.Success)

	c = f.reload("flaky")
	assert.Equal(t, entity.StatusPosted, c.Status)
	assert.Empty(t, c.ErrorMessage)
}

func TestPublish_RepeatedSkipReasonNotDuplicated(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultPolicy(), nil)
	f.account("twitter", func(a *entity.PlatformAccount) { a.PostingPaused = true })
	f.content("paused", func(c *entity.Content) { c.Status = entity.StatusPendingReview })

	for i := 0; i < 3; i++ {
		_, err := f.uc.PublishToPlatform(context.Background(), "paused", "twitter")
		require.NoError(t, err)
	}

	c := f.reload("paused")
	assert.Equal(t, entity.StatusPendingReview, c.Status)
	assert.Equal(t, "twitter: posting paused for this account", c.ErrorMessage)
}
