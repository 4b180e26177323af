package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/monkbot/gateway/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobLocker keeps replicas sharing one database from running the same
// cron tick twice.
type JobLocker struct {
	db     *gorm.DB
	holder string
}

func NewJobLocker(db *gorm.DB) *JobLocker {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &JobLocker{db: db, holder: fmt.Sprintf("%s-%d", host, os.Getpid())}
}

// TryAcquire claims job for the window containing now. It reports false
// when another holder already claimed the same window.
func (l *JobLocker) TryAcquire(ctx context.Context, job string, now time.Time, window time.Duration) (bool, error) {
	start := now.Truncate(window)
	lock := models.SchedulerLock{
		Job:        job,
		Slot:       start.UTC().Format(time.RFC3339),
		Holder:     l.holder,
		AcquiredAt: now,
		ExpiresAt:  start.Add(window),
	}

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Purge drops locks that expired before cutoff.
func (l *JobLocker) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&models.SchedulerLock{})
	return res.RowsAffected, res.Error
}
