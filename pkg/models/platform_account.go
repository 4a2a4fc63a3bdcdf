package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PlatformAccount struct {
	ID            string            `gorm:"type:uuid;primary_key" json:"id"`
	PersonaID     string            `gorm:"type:uuid;not null;uniqueIndex:ux_persona_platform,priority:1" json:"persona_id"`
	Platform      string            `gorm:"type:varchar(50);not null;uniqueIndex:ux_persona_platform,priority:2" json:"platform"`
	Username      string            `gorm:"type:varchar(255)" json:"username"`
	Credentials   map[string]string `gorm:"type:jsonb;serializer:json" json:"-"`
	IsConnected   bool              `gorm:"default:false" json:"is_connected"`
	PostingPaused bool              `gorm:"default:false" json:"posting_paused"`

	// Daily counters, rolled over lazily by the rate limiter.
	PostsToday      int        `gorm:"default:0" json:"posts_today"`
	VideoPostsToday int        `gorm:"default:0" json:"video_posts_today"`
	StoriesToday    int        `gorm:"default:0" json:"stories_today"`
	ReelsToday      int        `gorm:"default:0" json:"reels_today"`
	LastResetDate   *time.Time `json:"last_reset_date"`
	Timezone        string     `gorm:"type:varchar(64)" json:"timezone"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (PlatformAccount) TableName() string {
	return "platform_accounts"
}

func (a *PlatformAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}
