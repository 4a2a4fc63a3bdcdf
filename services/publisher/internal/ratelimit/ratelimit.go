// Package ratelimit enforces per-account, per-category daily publish ceilings.
// Counters live on the platform account row and roll over lazily on the first
// check of a new local day.
package ratelimit

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"ai-influencer/services/publisher/internal/entity"
)

const (
	KeyMaxPostsPerDay      = "max_posts_per_day"
	KeyMaxVideoPostsPerDay = "max_video_posts_per_day"
	KeyMaxStoriesPerDay    = "max_stories_per_day"
	KeyMaxReelsPerDay      = "max_reels_per_day"
)

type Policy struct {
	MaxPostsPerDay      int `json:"max_posts_per_day"`
	MaxVideoPostsPerDay int `json:"max_video_posts_per_day"`
	MaxStoriesPerDay    int `json:"max_stories_per_day"`
	MaxReelsPerDay      int `json:"max_reels_per_day"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxPostsPerDay:      3,
		MaxVideoPostsPerDay: 1,
		MaxStoriesPerDay:    5,
		MaxReelsPerDay:      2,
	}
}

// PolicyFromMap reads ceilings from a key/value source. Missing or
// non-positive keys keep their defaults.
func PolicyFromMap(values map[string]int) Policy {
	p := DefaultPolicy()
	pick := func(key string, dst *int) {
		if v, ok := values[key]; ok && v > 0 {
			*dst = v
		}
	}
	pick(KeyMaxPostsPerDay, &p.MaxPostsPerDay)
	pick(KeyMaxVideoPostsPerDay, &p.MaxVideoPostsPerDay)
	pick(KeyMaxStoriesPerDay, &p.MaxStoriesPerDay)
	pick(KeyMaxReelsPerDay, &p.MaxReelsPerDay)
	return p
}

func (p Policy) Ceiling(category entity.Category) int {
	switch category {
	case entity.CategoryVideoPost:
		return p.MaxVideoPostsPerDay
	case entity.CategoryStory:
		return p.MaxStoriesPerDay
	case entity.CategoryReel:
		return p.MaxReelsPerDay
	default:
		return p.MaxPostsPerDay
	}
}

// CategoryFor resolves which ceiling a content item is charged against.
func CategoryFor(content *entity.Content) entity.Category {
	return content.EffectiveCategory()
}

type Decision struct {
	Allowed  bool
	Category entity.Category
	Count    int
	Ceiling  int
	Reason   string
}

type Usage struct {
	AccountID string                  `json:"account_id"`
	Platform  string                  `json:"platform"`
	Day       string                  `json:"day"`
	Counters  map[entity.Category]int `json:"counters"`
	Ceilings  map[entity.Category]int `json:"ceilings"`
	Remaining map[entity.Category]int `json:"remaining"`
}

var categories = []entity.Category{
	entity.CategoryPost,
	entity.CategoryVideoPost,
	entity.CategoryStory,
	entity.CategoryReel,
}

type Limiter struct {
	policy   Policy
	location *time.Location
	now      func() time.Time
}

// NewLimiter builds a limiter. defaultTimezone applies to accounts without
// their own timezone; an unknown zone falls back to UTC.
func NewLimiter(policy Policy, defaultTimezone string) *Limiter {
	return &Limiter{
		policy:   policy,
		location: loadLocation(defaultTimezone, time.UTC),
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Limiter) Policy() Policy {
	return l.policy
}

// Roll zeroes the account's counters if its last reset predates the
// current local day. It reports whether a reset happened.
func (l *Limiter) Roll(account *entity.PlatformAccount) bool {
	loc := l.locationFor(account)
	today := startOfDay(l.now(), loc)

	if account.LastResetDate != nil && !startOfDay(*account.LastResetDate, loc).Before(today) {
		return false
	}
	account.ResetCounters(today)
	return true
}

// Check rolls the counters and compares the category's count to its
// ceiling. It never increments.
func (l *Limiter) Check(account *entity.PlatformAccount, category entity.Category) Decision {
	l.Roll(account)

	count := *account.Counter(category)
	ceiling := l.policy.Ceiling(category)
	d := Decision{
		Allowed:  count < ceiling,
		Category: category,
		Count:    count,
		Ceiling:  ceiling,
	}
	if !d.Allowed {
		d.Reason = fmt.Sprintf("%s limit reached (%d/%d)", category, count, ceiling)
	}
	return d
}

// Record charges one confirmed publish to the account.
func (l *Limiter) Record(account *entity.PlatformAccount, category entity.Category) {
	l.Roll(account)
	*account.Counter(category)++
}

func (l *Limiter) Usage(account *entity.PlatformAccount) Usage {
	l.Roll(account)

	u := Usage{
		AccountID: account.ID,
		Platform:  account.Platform,
		Day:       startOfDay(l.now(), l.locationFor(account)).Format("2006-01-02"),
		Counters:  make(map[entity.Category]int, len(categories)),
		Ceilings:  make(map[entity.Category]int, len(categories)),
		Remaining: make(map[entity.Category]int, len(categories)),
	}
	for _, c := range categories {
		count := *account.Counter(c)
		ceiling := l.policy.Ceiling(c)
		u.Counters[c] = count
		u.Ceilings[c] = ceiling
		remaining := ceiling - count
		if remaining < 0 {
			remaining = 0
		}
		u.Remaining[c] = remaining
	}
	return u
}

// NextReset is the start of the account's next local day, when its counters roll over.
func (l *Limiter) NextReset(account *entity.PlatformAccount) time.Time {
	return startOfDay(l.now(), l.locationFor(account)).AddDate(0, 0, 1)
}

// locationFor picks the account's own zone, then its persona's, then the default.
func (l *Limiter) locationFor(account *entity.PlatformAccount) *time.Location {
	fallback := loadLocation(account.PersonaTimezone, l.location)
	return loadLocation(account.Timezone, fallback)
}

func loadLocation(name string, fallback *time.Location) *time.Location {
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
