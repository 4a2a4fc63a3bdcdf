package entity

import (
	"fmt"
	"strings"
	"time"
)

type ContentStatus string

const (
	StatusDraft         ContentStatus = "draft"
	StatusPendingReview ContentStatus = "pending_review"
	StatusScheduled     ContentStatus = "scheduled"
	StatusPosting       ContentStatus = "posting"
	StatusPosted        ContentStatus = "posted"
	StatusFailed        ContentStatus = "failed"
	StatusRejected      ContentStatus = "rejected"
)

type ContentType string

const (
	ContentTypePost  ContentType = "post"
	ContentTypeStory ContentType = "story"
	ContentTypeReel  ContentType = "reel"
	ContentTypeNSFW  ContentType = "nsfw"
)

type Content struct {
	ID              string        `json:"id"`
	PersonaID       string        `json:"persona_id"`
	ContentType     ContentType   `json:"content_type"`
	Caption         string        `json:"caption"`
	Hashtags        []string      `json:"hashtags"`
	ImageURLs       []string      `json:"image_urls"`
	VideoURL        string        `json:"video_url,omitempty"`
	Status          ContentStatus `json:"status"`
	ScheduledFor    *time.Time    `json:"scheduled_for,omitempty"`
	PostedAt        *time.Time    `json:"posted_at,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	RetryCount      int           `json:"retry_count"`
	PostedPlatforms []string      `json:"posted_platforms"`
	PostURL         string        `json:"post_url,omitempty"`
	PlatformPostID  string        `json:"platform_post_id,omitempty"`
	// PublishClaim fences adapter calls: the lease token of the attempt
	// currently dispatching, valid until ClaimedUntil.
	PublishClaim string     `json:"-"`
	ClaimedUntil *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Verdict is the outcome of the publish guard.
type Verdict int

const (
	VerdictAllowed Verdict = iota
	VerdictInvalidState
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllowed:
		return "allowed"
	case VerdictInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

type Guard struct {
	Verdict Verdict
	Reason  string
}

func (g Guard) Allowed() bool {
	return g.Verdict == VerdictAllowed
}

// publishable lists the statuses a publish attempt may start from. posted is
// included so additional platforms can be targeted after a first success.
var publishable = map[ContentStatus]bool{
	StatusScheduled:     true,
	StatusPosting:       true,
	StatusPendingReview: true,
	StatusPosted:        true,
}

// PublishGuard is the single eligibility check every publish entry point uses.
func (c *Content) PublishGuard() Guard {
	if publishable[c.Status] {
		return Guard{Verdict: VerdictAllowed}
	}
	return Guard{
		Verdict: VerdictInvalidState,
		Reason:  fmt.Sprintf("content %s is %s; publishing requires scheduled, posting, pending_review or posted", c.ID, c.Status),
	}
}

func (c *Content) HasPostedTo(platform string) bool {
	platform = NormalizePlatform(platform)
	for _, p := range c.PostedPlatforms {
		if p == platform {
			return true
		}
	}
	return false
}

// MarkPosted records a successful publish. The first success fixes the
// canonical url and post id; later successes only add their platform.
func (c *Content) MarkPosted(platform, postID, url string, now time.Time) {
	platform = NormalizePlatform(platform)
	if !c.HasPostedTo(platform) {
		c.PostedPlatforms = append(c.PostedPlatforms, platform)
	}
	if c.PostURL == "" && c.PlatformPostID == "" {
		c.PostURL = url
		c.PlatformPostID = postID
	}
	if c.PostedAt == nil {
		t := now
		c.PostedAt = &t
	}
	c.Status = StatusPosted
}

// Claim records that the attempt holding token is dispatching until until.
func (c *Content) Claim(token string, until time.Time) {
	c.PublishClaim = token
	c.ClaimedUntil = &until
}

// ClaimedByOther reports whether an attempt other than token holds an unexpired claim.
func (c *Content) ClaimedByOther(token string, now time.Time) bool {
	if c.PublishClaim == "" || c.PublishClaim == token || c.ClaimedUntil == nil {
		return false
	}
	return now.Before(*c.ClaimedUntil)
}

func (c *Content) ReleaseClaim() {
	c.PublishClaim = ""
	c.ClaimedUntil = nil
}

func (c *Content) HasVideo() bool {
	return strings.TrimSpace(c.VideoURL) != ""
}

// Media returns the references to hand to an adapter and whether they are video.
func (c *Content) Media() ([]string, bool) {
	if c.HasVideo() {
		return []string{c.VideoURL}, true
	}
	refs := make([]string, 0, len(c.ImageURLs))
	for _, u := range c.ImageURLs {
		if strings.TrimSpace(u) != "" {
			refs = append(refs, u)
		}
	}
	return refs, false
}

func NormalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

// Category selects which daily ceiling applies to a publish.
type Category string

const (
	CategoryPost      Category = "post"
	CategoryVideoPost Category = "video_post"
	CategoryStory     Category = "story"
	CategoryReel      Category = "reel"
)

// EffectiveCategory resolves the rate-limit category. Plain and nsfw posts
// count as video posts when a video is attached.
func (c *Content) EffectiveCategory() Category {
	switch c.ContentType {
	case ContentTypeReel:
		return CategoryReel
	case ContentTypeStory:
		return CategoryStory
	default:
		if c.HasVideo() {
			return CategoryVideoPost
		}
		return CategoryPost
	}
}
