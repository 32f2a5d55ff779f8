package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunDispatcher polls for PENDING runs and executes them. Claiming uses
// FOR UPDATE SKIP LOCKED so multiple instances never execute the same run.
type RunDispatcher struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	WorkerID string

	BatchSize    int
	PollInterval time.Duration
}

func NewRunDispatcher(db *gorm.DB, logger *logrus.Logger) *RunDispatcher {
	return &RunDispatcher{
		DB:           db,
		Logger:       logger,
		WorkerID:     uuid.NewString(),
		BatchSize:    5,
		PollInterval: 2 * time.Second,
	}
}

func (d *RunDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *RunDispatcher) dispatchOnce(ctx context.Context) {
	db := d.DB
	if db == nil {
		return
	}
	now := time.Now().UTC()

	var claimed []models.ReconciliationRun
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("status = ?", models.RunStatusPending).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			if err := tx.Model(&models.ReconciliationRun{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"status":            models.RunStatusInProgress,
					"last_heartbeat_at": &now,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if d.Logger != nil {
			d.Logger.WithField("worker", d.WorkerID).Error("run claim failed: " + err.Error())
		}
		return
	}

	for _, run := range claimed {
		err := ExecuteRun(ctx, run.ID)
		if err == nil || d.Logger == nil {
			continue
		}
		if errors.Is(err, models.ErrRunNoLongerActive) {
			d.Logger.WithFields(logrus.Fields{
				"worker": d.WorkerID,
				"run_id": run.RunId,
			}).Warn("run cancelled while executing")
			continue
		}
		d.Logger.WithFields(logrus.Fields{
			"worker": d.WorkerID,
			"run_id": run.RunId,
		}).Error("run execution failed: " + err.Error())
	}
}
