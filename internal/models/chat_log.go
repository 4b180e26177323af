package models

import "time"

// ChatLog pairs the last user prompt of a completion with the assistant reply.
type ChatLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	APIKeyID  string    `gorm:"index;size:36;not null" json:"api_key_id"`
	APIKey    *APIKey   `gorm:"foreignKey:APIKeyID" json:"api_key,omitempty"`
	Domain    string    `gorm:"size:255" json:"domain"`
	Model     string    `gorm:"size:100" json:"model"`
	Prompt    string    `gorm:"type:text" json:"prompt"`
	Response  string    `gorm:"type:text" json:"response"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (ChatLog) TableName() string { return "chat_logs" }
