package persistent

import (
	"context"
	"errors"
	"fmt"

	"ai-influencer/pkg/models"
	"ai-influencer/services/publisher/internal/entity"

	"gorm.io/gorm"
)

type PersonaRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Persona, error)
}

type personaRepository struct {
	db *gorm.DB
}

func NewPersonaRepository(db *gorm.DB) PersonaRepository {
	return &personaRepository{db: db}
}

func (r *personaRepository) GetByID(ctx context.Context, id string) (*entity.Persona, error) {
	var m models.Persona
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", entity.ErrPersonaNotFound, id)
		}
		return nil, err
	}
	return ToPersonaEntity(&m), nil
}
