package services

import (
	"context"
	"fmt"
	"time"

	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/pkg/logger"
	"github.com/robfig/cron/v3"
)

// jobWindow matches cron's minute resolution.
const jobWindow = time.Minute

// Scheduler runs ledger reconciliation and log retention on cron
// schedules.
type Scheduler struct {
	credits   *CreditService
	chatLogs  *ChatLogService
	auditLogs *SystemLogService
	locker    *JobLocker
	jobs      config.JobsConfig
	cron      *cron.Cron
	now       func() time.Time
}

// NewScheduler wires the jobs. A nil locker runs every tick locally.
func NewScheduler(credits *CreditService, chatLogs *ChatLogService, auditLogs *SystemLogService, locker *JobLocker, jobs config.JobsConfig) *Scheduler {
	return &Scheduler{
		credits:   credits,
		chatLogs:  chatLogs,
		auditLogs: auditLogs,
		locker:    locker,
		jobs:      jobs,
		now:       time.Now,
	}
}

// Start registers the configured jobs. An empty expression disables a job.
func (s *Scheduler) Start() error {
	s.cron = cron.New()

	if s.jobs.ReconcileCron != "" {
		if _, err := s.cron.AddFunc(s.jobs.ReconcileCron, func() {
			s.runLocked("reconcile", func(ctx context.Context) { s.RunReconcile(ctx) })
		}); err != nil {
			return fmt.Errorf("scheduling reconcile %q: %w", s.jobs.ReconcileCron, err)
		}
		logger.Infof("[Scheduler] Reconcile scheduled (cron: %s)", s.jobs.ReconcileCron)
	}
	if s.jobs.RetentionCron != "" {
		if _, err := s.cron.AddFunc(s.jobs.RetentionCron, func() {
			s.runLocked("retention", s.RunRetention)
		}); err != nil {
			return fmt.Errorf("scheduling retention %q: %w", s.jobs.RetentionCron, err)
		}
		logger.Infof("[Scheduler] Retention scheduled (cron: %s)", s.jobs.RetentionCron)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// runLocked runs fn unless another replica already took this tick.
func (s *Scheduler) runLocked(job string, fn func(context.Context)) bool {
	ctx := context.Background()
	if s.locker != nil {
		ok, err := s.locker.TryAcquire(ctx, job, s.now(), jobWindow)
		if err != nil {
			logger.Error().Err(err).Str("job", job).Msg("[Scheduler] lock failed")
			return false
		}
		if !ok {
			logger.Debug().Str("job", job).Msg("[Scheduler] tick taken by another replica")
			return false
		}
	}
	fn(ctx)
	return true
}

// RunReconcile compares every balance with its ledger and records any
// drift in the audit log.
func (s *Scheduler) RunReconcile(ctx context.Context) []BalanceDrift {
	drifts, err := s.credits.Reconcile(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("[Scheduler] reconcile failed")
		return nil
	}
	if len(drifts) == 0 {
		logger.Debug().Msg("[Scheduler] ledger consistent")
		return nil
	}

	for _, d := range drifts {
		logger.Warn().
			Str("api_key_id", d.APIKeyID).
			Int("balance", d.Balance).
			Int("ledger_sum", d.LedgerSum).
			Msg("[Scheduler] balance drift")
	}
	LogWarning("Credits", "Reconcile",
		fmt.Sprintf("%d key(s) have a balance that differs from their ledger", len(drifts)),
		LogContext{Actor: "scheduler"},
		map[string]interface{}{"drifts": drifts})
	return drifts
}

// RunRetention deletes chat and audit logs past their retention period.
func (s *Scheduler) RunRetention(ctx context.Context) {
	if days := s.jobs.ChatLogRetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		deleted, err := s.chatLogs.CleanupBefore(ctx, cutoff)
		if err != nil {
			logger.Error().Err(err).Msg("[Scheduler] chat log cleanup failed")
		} else if deleted > 0 {
			logger.Infof("[Scheduler] Cleaned up %d chat logs older than %d days", deleted, days)
		}
	}

	deleted, err := s.auditLogs.CleanupOldLogs(s.jobs.AuditLogRetentionDays)
	if err != nil {
		logger.Error().Err(err).Msg("[Scheduler] audit log cleanup failed")
	} else if deleted > 0 {
		logger.Infof("[Scheduler] Cleaned up %d audit logs older than %d days", deleted, s.jobs.AuditLogRetentionDays)
	}

	if s.locker != nil {
		if _, err := s.locker.Purge(ctx, time.Now().Add(-24*time.Hour)); err != nil {
			logger.Error().Err(err).Msg("[Scheduler] lock cleanup failed")
		}
	}
}
