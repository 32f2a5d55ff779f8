package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"gorm.io/gorm"
)

// ReconciliationSchedule is one row per scheduled config with an explicit
// next-fire timestamp. The scheduler sweep claims due rows and advances them.
type ReconciliationSchedule struct {
	ID       int `gorm:"primary_key" json:"id"`
	ConfigId int `gorm:"not null;unique" json:"config_id"`

	Frequency   ScheduleFrequency `gorm:"size:10;not null" json:"frequency"`
	NextFireAt  *time.Time        `gorm:"index" json:"next_fire_at"`
	LastFiredAt *time.Time        `json:"last_fired_at"`
	IsActive    *bool             `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NextFireAfter advances from the given instant by one schedule interval.
func (f ScheduleFrequency) NextFireAfter(from time.Time) *time.Time {
	var next time.Time
	switch f {
	case ScheduleFrequencyHourly:
		next = from.Add(time.Hour)
	case ScheduleFrequencyDaily:
		next = from.AddDate(0, 0, 1)
	case ScheduleFrequencyWeekly:
		next = from.AddDate(0, 0, 7)
	case ScheduleFrequencyMonthly:
		next = from.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &next
}

// UpsertSchedule keeps the schedule row in sync with its config. NONE removes
// the row; anything else creates or rewrites it with a fresh next-fire time.
func UpsertSchedule(tx *gorm.DB, cfg *ReconciliationConfig) error {
	if cfg.ScheduleFrequency == "" || cfg.ScheduleFrequency == ScheduleFrequencyNone {
		return tx.Where("config_id = ?", cfg.ID).Delete(&ReconciliationSchedule{}).Error
	}

	next := cfg.ScheduleFrequency.NextFireAfter(time.Now().UTC())
	var existing ReconciliationSchedule
	err := tx.Where("config_id = ?", cfg.ID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		schedule := ReconciliationSchedule{
			ConfigId:   cfg.ID,
			Frequency:  cfg.ScheduleFrequency,
			NextFireAt: next,
			IsActive:   cfg.IsActive,
		}
		return tx.Create(&schedule).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"is_active": cfg.IsActive,
	}
	if existing.Frequency != cfg.ScheduleFrequency {
		updates["frequency"] = cfg.ScheduleFrequency
		updates["next_fire_at"] = next
	}
	return tx.Model(&ReconciliationSchedule{}).Where("id = ?", existing.ID).Updates(updates).Error
}

func GetSchedule(ctx context.Context, configId int) (*ReconciliationSchedule, error) {
	db := config.GetDB()
	var result ReconciliationSchedule
	if err := db.WithContext(ctx).Where("config_id = ?", configId).First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkScheduleFired records the fire and advances next_fire_at by one interval
// from the scheduled time, not from now, so drift does not accumulate.
func MarkScheduleFired(tx *gorm.DB, schedule *ReconciliationSchedule, firedAt time.Time) error {
	base := firedAt
	if schedule.NextFireAt != nil {
		base = *schedule.NextFireAt
	}
	next := schedule.Frequency.NextFireAfter(base)
	// catch up if the service was down across multiple intervals
	for next != nil && !next.After(firedAt) {
		next = schedule.Frequency.NextFireAfter(*next)
	}
	return tx.Model(&ReconciliationSchedule{}).Where("id = ?", schedule.ID).Updates(map[string]interface{}{
		"last_fired_at": &firedAt,
		"next_fire_at":  next,
	}).Error
}
