package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
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
	ID              string         `gorm:"type:uuid;primary_key" json:"id"`
	PersonaID       string         `gorm:"type:uuid;not null;index" json:"persona_id"`
	ContentType     ContentType    `gorm:"type:varchar(20);not null;default:'post'" json:"content_type"`
	Caption         string         `gorm:"type:text" json:"caption"`
	Hashtags        []string       `gorm:"type:jsonb;serializer:json" json:"hashtags"`
	ImageURLs       []string       `gorm:"type:jsonb;serializer:json" json:"image_urls"`
	VideoURL        string         `gorm:"type:varchar(500)" json:"video_url"`
	Status          ContentStatus  `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	ScheduledFor    *time.Time     `gorm:"index" json:"scheduled_for"`
	PostedAt        *time.Time     `json:"posted_at"`
	ErrorMessage    string         `gorm:"type:text" json:"error_message"`
	RetryCount      int            `gorm:"default:0" json:"retry_count"`
	PostedPlatforms []string       `gorm:"type:jsonb;serializer:json" json:"posted_platforms"`
	PostURL         string         `gorm:"type:varchar(500)" json:"post_url"`
	PlatformPostID  string         `gorm:"type:varchar(255)" json:"platform_post_id"`
	PublishClaim    string         `gorm:"type:varchar(64)" json:"-"`
	ClaimedUntil    *time.Time     `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Content) TableName() string {
	return "content"
}

func (c *Content) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// All lists every persisted model, in dependency order.
func All() []interface{} {
	return []interface{}{&Persona{}, &PlatformAccount{}, &Content{}}
}
