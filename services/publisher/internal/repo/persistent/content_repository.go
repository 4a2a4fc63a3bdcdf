package persistent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-influencer/pkg/database"
	"ai-influencer/pkg/models"
	"ai-influencer/services/publisher/internal/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentMutation edits a locked content row. Returning an error rolls the
// transaction back and leaves the row untouched.
type ContentMutation func(content *entity.Content) error

// PublishMutation edits a locked content row together with the platform
// account charged for the publish.
type PublishMutation func(content *entity.Content, account *entity.PlatformAccount) error

type ContentRepository interface {
	Create(ctx context.Context, content *entity.Content) error
	GetByID(ctx context.Context, id string) (*entity.Content, error)
	UpdateLocked(ctx context.Context, id string, fn ContentMutation) (*entity.Content, error)
	UpdateWithAccount(ctx context.Context, contentID, accountID string, fn PublishMutation) (*entity.Content, *entity.PlatformAccount, error)
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]*entity.Content, error)
	ListByStatus(ctx context.Context, status entity.ContentStatus, limit int) ([]*entity.Content, error)
	StalePosting(ctx context.Context, before time.Time, limit int) ([]*entity.Content, error)
	CountByStatus(ctx context.Context) (map[entity.ContentStatus]int64, error)
}

type contentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) Create(ctx context.Context, content *entity.Content) error {
	m := ToContentModel(content)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*content = *ToContentEntity(m)
	return nil
}

func (r *contentRepository) GetByID(ctx context.Context, id string) (*entity.Content, error) {
	var m models.Content
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, contentNotFound(id, err)
	}
	return ToContentEntity(&m), nil
}

func (r *contentRepository) UpdateLocked(ctx context.Context, id string, fn ContentMutation) (*entity.Content, error) {
	var updated *entity.Content
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		content, err := lockContent(tx, id)
		if err != nil {
			return err
		}
		if err := fn(content); err != nil {
			return err
		}
		m := ToContentModel(content)
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		updated = ToContentEntity(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *contentRepository) UpdateWithAccount(ctx context.Context, contentID, accountID string, fn PublishMutation) (*entity.Content, *entity.PlatformAccount, error) {
	var (
		updatedContent *entity.Content
		updatedAccount *entity.PlatformAccount
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		content, err := lockContent(tx, contentID)
		if err != nil {
			return err
		}
		account, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if err := fn(content, account); err != nil {
			return err
		}

		cm := ToContentModel(content)
		if err := tx.Save(cm).Error; err != nil {
			return err
		}
		am := ToAccountModel(account)
		if err := tx.Save(am).Error; err != nil {
			return err
		}
		updatedContent = ToContentEntity(cm)
		updatedAccount = ToAccountEntity(am)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updatedContent, updatedAccount, nil
}

// DueScheduled returns scheduled content whose time has come, unscheduled
// ("as soon as possible") rows first, then oldest schedule first.
func (r *contentRepository) DueScheduled(ctx context.Context, now time.Time, limit int) ([]*entity.Content, error) {
	var rows []models.Content
	query := r.db.WithContext(ctx).
		Where("status = ?", models.StatusScheduled).
		Where("scheduled_for IS NULL OR scheduled_for <= ?", now).
		Order("scheduled_for IS NOT NULL").
		Order("scheduled_for ASC").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toContentEntities(rows), nil
}

func (r *contentRepository) ListByStatus(ctx context.Context, status entity.ContentStatus, limit int) ([]*entity.Content, error) {
	var rows []models.Content
	query := r.db.WithContext(ctx).
		Where("status = ?", models.ContentStatus(status)).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toContentEntities(rows), nil
}

func (r *contentRepository) StalePosting(ctx context.Context, before time.Time, limit int) ([]*entity.Content, error) {
	var rows []models.Content
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusPosting, before).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toContentEntities(rows), nil
}

func (r *contentRepository) CountByStatus(ctx context.Context) (map[entity.ContentStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Content{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[entity.ContentStatus]int64, len(rows))
	for _, row := range rows {
		counts[entity.ContentStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func lockContent(tx *gorm.DB, id string) (*entity.Content, error) {
	var m models.Content
	if err := forUpdate(tx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, contentNotFound(id, err)
	}
	return ToContentEntity(&m), nil
}

func lockAccount(tx *gorm.DB, id string) (*entity.PlatformAccount, error) {
	var m models.PlatformAccount
	if err := forUpdate(tx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, accountNotFound(id, err)
	}
	account := ToAccountEntity(&m)
	if err := withPersonaTimezone(tx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// forUpdate adds SELECT ... FOR UPDATE on dialects that support it.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if database.SupportsRowLocks(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func contentNotFound(id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", entity.ErrContentNotFound, id)
	}
	return err
}

func accountNotFound(id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", entity.ErrAccountNotFound, id)
	}
	return err
}

func toContentEntities(rows []models.Content) []*entity.Content {
	out := make([]*entity.Content, 0, len(rows))
	for i := range rows {
		out = append(out, ToContentEntity(&rows[i]))
	}
	return out
}
