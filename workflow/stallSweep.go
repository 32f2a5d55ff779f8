package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StallSweeper fails runs whose executor stopped heartbeating. An executing
// run with no heartbeat past the deadline is assumed crashed; marking it
// FAILED frees the config for the next trigger.
type StallSweeper struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	HeartbeatDeadline time.Duration
	PollInterval      time.Duration
}

func NewStallSweeper(db *gorm.DB, logger *logrus.Logger) *StallSweeper {
	return &StallSweeper{
		DB:                db,
		Logger:            logger,
		HeartbeatDeadline: 10 * time.Minute,
		PollInterval:      time.Minute,
	}
}

func (s *StallSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}
}

func (s *StallSweeper) SweepOnce(ctx context.Context) {
	db := s.DB
	if db == nil {
		return
	}

	// redis lock keeps a fleet from sweeping concurrently; losing it just
	// means another instance is already on it
	release, err := utils.SweepLock(ctx, "stalledRuns", "workflow", "StallSweeper")
	if err != nil {
		return
	}
	defer release()

	deadline := time.Now().UTC().Add(-s.HeartbeatDeadline)
	reason := "stalled: executor heartbeat lost"
	now := time.Now().UTC()

	var stalled []models.ReconciliationRun
	if err := db.WithContext(ctx).
		Where("status IN ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)",
			executingStatuses(), deadline).
		Find(&stalled).Error; err != nil {
		if s.Logger != nil {
			s.Logger.Error("stall sweep query failed: " + err.Error())
		}
		return
	}

	for _, run := range stalled {
		res := db.WithContext(ctx).Model(&models.ReconciliationRun{}).
			Where("id = ? AND status = ?", run.ID, run.Status).
			Updates(map[string]interface{}{
				"status":         models.RunStatusFailed,
				"failure_reason": &reason,
				"completed_at":   &now,
			})
		if res.Error != nil || res.RowsAffected == 0 {
			continue
		}
		models.AppendRunLog(db.WithContext(ctx), run.ID, "STALL_SWEEP", "ERROR", reason, 0, 0)
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"run_id": run.RunId,
				"status": string(run.Status),
			}).Warn("stalled run marked failed")
		}
	}
}

func executingStatuses() []models.RunStatus {
	return []models.RunStatus{
		models.RunStatusInProgress,
		models.RunStatusExtractingSource,
		models.RunStatusExtractingTarget,
		models.RunStatusComparing,
		models.RunStatusGeneratingReport,
	}
}
