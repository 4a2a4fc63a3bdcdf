package persistent

import (
	"context"
	"errors"
	"fmt"

	"ai-influencer/pkg/models"
	"ai-influencer/services/publisher/internal/entity"

	"gorm.io/gorm"
)

type AccountRepository interface {
	Create(ctx context.Context, account *entity.PlatformAccount) error
	GetByID(ctx context.Context, id string) (*entity.PlatformAccount, error)
	GetByPersonaAndPlatform(ctx context.Context, personaID, platform string) (*entity.PlatformAccount, error)
	ListConnected(ctx context.Context, personaID string) ([]*entity.PlatformAccount, error)
	Save(ctx context.Context, account *entity.PlatformAccount) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *entity.PlatformAccount) error {
	m := ToAccountModel(account)
	m.Platform = entity.NormalizePlatform(m.Platform)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*account = *ToAccountEntity(m)
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*entity.PlatformAccount, error) {
	var m models.PlatformAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, accountNotFound(id, err)
	}
	account := ToAccountEntity(&m)
	if err := withPersonaTimezone(r.db.WithContext(ctx), account); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) GetByPersonaAndPlatform(ctx context.Context, personaID, platform string) (*entity.PlatformAccount, error) {
	var m models.PlatformAccount
	err := r.db.WithContext(ctx).
		Where("persona_id = ? AND platform = ?", personaID, entity.NormalizePlatform(platform)).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: persona %s has no %s account", entity.ErrAccountNotFound, personaID, platform)
		}
		return nil, err
	}
	account := ToAccountEntity(&m)
	if err := withPersonaTimezone(r.db.WithContext(ctx), account); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) ListConnected(ctx context.Context, personaID string) ([]*entity.PlatformAccount, error) {
	var rows []models.PlatformAccount
	if err := r.db.WithContext(ctx).
		Where("persona_id = ? AND is_connected = ?", personaID, true).
		Order("platform ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	accounts := make([]*entity.PlatformAccount, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, ToAccountEntity(&rows[i]))
	}
	if err := withPersonaTimezone(r.db.WithContext(ctx), accounts...); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) Save(ctx context.Context, account *entity.PlatformAccount) error {
	return r.db.WithContext(ctx).Save(ToAccountModel(account)).Error
}

// withPersonaTimezone copies each owning persona's timezone onto its accounts.
func withPersonaTimezone(db *gorm.DB, accounts ...*entity.PlatformAccount) error {
	if len(accounts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		if _, ok := seen[a.PersonaID]; !ok {
			seen[a.PersonaID] = struct{}{}
			ids = append(ids, a.PersonaID)
		}
	}

	var personas []models.Persona
	if err := db.Select("id", "timezone").Where("id IN ?", ids).Find(&personas).Error; err != nil {
		return fmt.Errorf("failed to load persona timezones: %w", err)
	}
	zones := make(map[string]string, len(personas))
	for _, p := range personas {
		zones[p.ID] = p.Timezone
	}
	for _, a := range accounts {
		a.PersonaTimezone = zones[a.PersonaID]
	}
	return nil
}
