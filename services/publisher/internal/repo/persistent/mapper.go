package persistent

import (
	"ai-influencer/pkg/models"
	"ai-influencer/services/publisher/internal/entity"
)

func ToContentEntity(m *models.Content) *entity.Content {
	if m == nil {
		return nil
	}

	return &entity.Content{
		ID:              m.ID,
		PersonaID:       m.PersonaID,
		ContentType:     entity.ContentType(m.ContentType),
		Caption:         m.Caption,
		Hashtags:        m.Hashtags,
		ImageURLs:       m.ImageURLs,
		VideoURL:        m.VideoURL,
		Status:          entity.ContentStatus(m.Status),
		ScheduledFor:    m.ScheduledFor,
		PostedAt:        m.PostedAt,
		ErrorMessage:    m.ErrorMessage,
		RetryCount:      m.RetryCount,
		PostedPlatforms: m.PostedPlatforms,
		PostURL:         m.PostURL,
		PlatformPostID:  m.PlatformPostID,
		PublishClaim:    m.PublishClaim,
		ClaimedUntil:    m.ClaimedUntil,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func ToContentModel(e *entity.Content) *models.Content {
	if e == nil {
		return nil
	}

	posted := e.PostedPlatforms
	if posted == nil {
		posted = []string{}
	}

	return &models.Content{
		ID:              e.ID,
		PersonaID:       e.PersonaID,
		ContentType:     models.ContentType(e.ContentType),
		Caption:         e.Caption,
		Hashtags:        e.Hashtags,
		ImageURLs:       e.ImageURLs,
		VideoURL:        e.VideoURL,
		Status:          models.ContentStatus(e.Status),
		ScheduledFor:    e.ScheduledFor,
		PostedAt:        e.PostedAt,
		ErrorMessage:    e.ErrorMessage,
		RetryCount:      e.RetryCount,
		PostedPlatforms: posted,
		PostURL:         e.PostURL,
		PlatformPostID:  e.PlatformPostID,
		PublishClaim:    e.PublishClaim,
		ClaimedUntil:    e.ClaimedUntil,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func ToAccountEntity(m *models.PlatformAccount) *entity.PlatformAccount {
	if m == nil {
		return nil
	}

	return &entity.PlatformAccount{
		ID:              m.ID,
		PersonaID:       m.PersonaID,
		Platform:        m.Platform,
		Username:        m.Username,
		Credentials:     m.Credentials,
		IsConnected:     m.IsConnected,
		PostingPaused:   m.PostingPaused,
		PostsToday:      m.PostsToday,
		VideoPostsToday: m.VideoPostsToday,
		StoriesToday:    m.StoriesToday,
		ReelsToday:      m.ReelsToday,
		LastResetDate:   m.LastResetDate,
		Timezone:        m.Timezone,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func ToAccountModel(e *entity.PlatformAccount) *models.PlatformAccount {
	if e == nil {
		return nil
	}

	return &models.PlatformAccount{
		ID:              e.ID,
		PersonaID:       e.PersonaID,
		Platform:        e.Platform,
		Username:        e.Username,
		Credentials:     e.Credentials,
		IsConnected:     e.IsConnected,
		PostingPaused:   e.PostingPaused,
		PostsToday:      e.PostsToday,
		VideoPostsToday: e.VideoPostsToday,
		StoriesToday:    e.StoriesToday,
		ReelsToday:      e.ReelsToday,
		LastResetDate:   e.LastResetDate,
		Timezone:        e.Timezone,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func ToPersonaEntity(m *models.Persona) *entity.Persona {
	if m == nil {
		return nil
	}

	return &entity.Persona{
		ID:        m.ID,
		Name:      m.Name,
		Handle:    m.Handle,
		Timezone:  m.Timezone,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
