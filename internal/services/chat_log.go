package services

import (
	"context"
	"time"

	"github.com/monkbot/gateway/internal/models"
	"gorm.io/gorm"
)

const historyLimit = 100

// ChatLogService persists prompt/response pairs for operators. Nothing in
// the request path reads them back.
type ChatLogService struct {
	db *gorm.DB
}

func NewChatLogService(db *gorm.DB) *ChatLogService {
	return &ChatLogService{db: db}
}

// Write is the TaskQueue processor for chat-log tasks.
func (s *ChatLogService) Write(ctx context.Context, task *ChatLogTask) error {
	entry := models.ChatLog{
		APIKeyID: task.APIKeyID,
		Domain:   task.Domain,
		Model:    task.Model,
		Prompt:   task.Prompt,
		Response: task.Response,
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

// History returns the newest chat logs with their key and owner.
func (s *ChatLogService) History(ctx context.Context) ([]models.ChatLog, error) {
	var logs []models.ChatLog
	err := s.db.WithContext(ctx).
		Preload("APIKey").
		Preload("APIKey.User").
		Order("created_at DESC").
		Limit(historyLimit).
		Find(&logs).Error
	return logs, err
}

// CleanupBefore deletes chat logs created before cutoff.
func (s *ChatLogService) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ChatLog{})
	return result.RowsAffected, result.Error
}
