package models

import "time"

const (
	ReasonChatCompletion   = "chat_completion"
	ReasonInitialGrant     = "initial_grant"
	ReasonManualAdjustment = "manual_adjustment"
)

// CreditLedgerEntry is an append-only record of one balance change.
// Entries are never updated or deleted.
type CreditLedgerEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	APIKeyID  string    `gorm:"index;size:36;not null" json:"api_key_id"`
	Delta     int       `gorm:"not null" json:"delta"`
	Reason    string    `gorm:"size:100;not null" json:"reason"`
	Meta      string    `gorm:"type:text" json:"meta,omitempty"` // JSON
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (CreditLedgerEntry) TableName() string { return "credit_ledger" }
