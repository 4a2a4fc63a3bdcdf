package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Persona struct {
	ID        string         `gorm:"type:uuid;primary_key" json:"id"`
	Name      string         `gorm:"type:varchar(255);not null" json:"name"`
	Handle    string         `gorm:"type:varchar(100);uniqueIndex" json:"handle"`
	Timezone  string         `gorm:"type:varchar(64)" json:"timezone"`
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Persona) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
