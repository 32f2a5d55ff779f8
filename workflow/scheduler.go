package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const scheduledTriggerHandler = "scheduledTrigger"

// Scheduler fires runs whose schedule is due. Due rows are claimed with
// FOR UPDATE SKIP LOCKED and advanced inside the claim transaction, so a
// fleet of instances fires each slot exactly once; the durable idempotency
// key covers the crash window between advancing and triggering.
type Scheduler struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	BatchSize    int
	PollInterval time.Duration
}

func NewScheduler(db *gorm.DB, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		DB:           db,
		Logger:       logger,
		BatchSize:    20,
		PollInterval: 15 * time.Second,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
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

type firedSchedule struct {
	configId  int
	messageId string
}

func (s *Scheduler) SweepOnce(ctx context.Context) {
	db := s.DB
	if db == nil {
		return
	}
	now := time.Now().UTC()

	var fired []firedSchedule
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.ReconciliationSchedule
		q := tx.
			Where("is_active = 1 AND next_fire_at IS NOT NULL AND next_fire_at <= ?", now).
			Order("next_fire_at ASC").
			Limit(s.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&due).Error; err != nil {
			return err
		}
		for i := range due {
			slot := due[i].NextFireAt.UTC().Format(time.RFC3339)
			messageId := fmt.Sprintf("%d@%s", due[i].ConfigId, slot)

			skip, err := BeginIdempotency(tx, scheduledTriggerHandler, messageId)
			if err != nil {
				if errors.Is(err, ErrIdempotencyInProgress) {
					continue
				}
				return err
			}
			if err := models.MarkScheduleFired(tx, &due[i], now); err != nil {
				return err
			}
			if skip {
				continue
			}
			fired = append(fired, firedSchedule{configId: due[i].ConfigId, messageId: messageId})
		}
		return nil
	})
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("schedule claim failed: " + err.Error())
		}
		return
	}

	for _, f := range fired {
		_, err := TriggerRun(ctx, f.configId, models.TriggerTypeScheduled, "Scheduler")
		switch {
		case err == nil:
			_ = MarkIdempotencySucceeded(db.WithContext(ctx), scheduledTriggerHandler, f.messageId)
		case errors.Is(err, models.ErrRunAlreadyActive):
			// previous run still going, skip this slot
			if s.Logger != nil {
				s.Logger.WithField("config_id", f.configId).Warn("scheduled run skipped, another run is active")
			}
			_ = MarkIdempotencySucceeded(db.WithContext(ctx), scheduledTriggerHandler, f.messageId)
		default:
			_ = MarkIdempotencyFailed(db.WithContext(ctx), scheduledTriggerHandler, f.messageId, err)
			if s.Logger != nil {
				s.Logger.WithField("config_id", f.configId).Error("scheduled trigger failed: " + err.Error())
			}
		}
	}
}
