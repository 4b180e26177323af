package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DomainStatusActive  = "active"
	DomainStatusRevoked = "revoked"
)

// AllowedDomain binds a normalized hostname to a key.
type AllowedDomain struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	APIKeyID  string    `gorm:"uniqueIndex:idx_key_domain;size:36;not null" json:"api_key_id"`
	APIKey    *APIKey   `gorm:"foreignKey:APIKeyID" json:"api_key,omitempty"`
	Domain    string    `gorm:"uniqueIndex:idx_key_domain;size:255;not null" json:"domain"`
	Status    string    `gorm:"size:20;not null;default:active" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AllowedDomain) TableName() string { return "allowed_domains" }

func (d *AllowedDomain) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
