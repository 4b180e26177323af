package models

import "time"

// SchedulerLock records which replica ran a scheduled job for a given
// slot. The (job, slot) pair is unique, so only the first insert wins.
type SchedulerLock struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Job        string    `gorm:"uniqueIndex:idx_job_slot;size:100;not null" json:"job"`
	Slot       string    `gorm:"uniqueIndex:idx_job_slot;size:40;not null" json:"slot"`
	Holder     string    `gorm:"size:100" json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }
