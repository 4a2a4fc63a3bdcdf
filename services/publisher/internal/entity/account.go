package entity

import "time"

type Persona struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Handle    string    `json:"handle"`
	Timezone  string    `json:"timezone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PlatformAccount struct {
	ID            string            `json:"id"`
	PersonaID     string            `json:"persona_id"`
	Platform      string            `json:"platform"`
	Username      string            `json:"username"`
	Credentials   map[string]string `json:"-"`
	IsConnected   bool              `json:"is_connected"`
	PostingPaused bool              `json:"posting_paused"`

	PostsToday      int        `json:"posts_today"`
	VideoPostsToday int        `json:"video_posts_today"`
	StoriesToday    int        `json:"stories_today"`
	ReelsToday      int        `json:"reels_today"`
	LastResetDate   *time.Time `json:"last_reset_date,omitempty"`
	Timezone        string     `json:"timezone,omitempty"`
	// PersonaTimezone is loaded from the owning persona and used when Timezone is empty.
	PersonaTimezone string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counter returns a pointer to the daily counter for category.
func (a *PlatformAccount) Counter(category Category) *int {
	switch category {
	case CategoryVideoPost:
		return &a.VideoPostsToday
	case CategoryStory:
		return &a.StoriesToday
	case CategoryReel:
		return &a.ReelsToday
	default:
		return &a.PostsToday
	}
}

func (a *PlatformAccount) ResetCounters(day time.Time) {
	a.PostsToday = 0
	a.VideoPostsToday = 0
	a.StoriesToday = 0
	a.ReelsToday = 0
	a.LastResetDate = &day
}
