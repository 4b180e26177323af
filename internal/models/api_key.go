package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PlanFree      = "free"
	PlanProManual = "pro_manual"

	KeyStatusActive   = "active"
	KeyStatusDisabled = "disabled"
)

// APIKey is a plugin credential. KeyHash is the only field used to
// authenticate; KeyToken is a display copy and is never trusted.
type APIKey struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	UserID           *uint           `gorm:"index" json:"user_id"` // nil for admin-provisioned keys
	User             *User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Label            string          `gorm:"size:100" json:"label"`
	KeyPrefix        string          `gorm:"size:32;index" json:"key_prefix"`
	KeyHash          string          `gorm:"uniqueIndex;size:64;not null" json:"-"`
	KeyToken         *string         `gorm:"size:128" json:"-"`
	Plan             string          `gorm:"size:20;not null;default:free" json:"plan"`
	Status           string          `gorm:"size:20;not null;default:active;index" json:"status"`
	Model            string          `gorm:"size:100" json:"model"`
	CreditsRemaining int             `gorm:"not null;default:0" json:"credits_remaining"`
	MonthlyCreditCap *int            `json:"monthly_credit_cap"`
	LastUsedAt       *time.Time      `json:"last_used_at"`
	Domains          []AllowedDomain `gorm:"foreignKey:APIKeyID" json:"domains,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (APIKey) TableName() string { return "api_keys" }

func (k *APIKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}

func (k *APIKey) IsActive() bool {
	return k.Status == KeyStatusActive
}

// NormalizePlan maps user input such as "PRO_MANUAL" to a stored plan.
func NormalizePlan(plan string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case "", PlanFree:
		return PlanFree, true
	case PlanProManual:
		return PlanProManual, true
	}
	return "", false
}
