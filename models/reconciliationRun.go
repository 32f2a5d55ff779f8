package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"gorm.io/gorm"
)

// ReconciliationRun is one execution of a config. RunId is the external
// identifier: RUN-<configCode>-<yyyyMMddHHmmss>.
type ReconciliationRun struct {
	ID       int    `gorm:"primary_key" json:"id"`
	RunId    string `gorm:"size:100;not null;unique" json:"run_id"`
	ConfigId int    `gorm:"not null;index" json:"config_id"`

	Status      RunStatus   `gorm:"size:30;not null;index" json:"status"`
	Trigger     TriggerType `gorm:"size:10;not null" json:"trigger"`
	TriggeredBy string      `gorm:"size:100" json:"triggered_by"`

	SourceCount            int `gorm:"not null;default:0" json:"source_count"`
	TargetCount            int `gorm:"not null;default:0" json:"target_count"`
	MatchedCount           int `gorm:"not null;default:0" json:"matched_count"`
	DiscrepancyCount       int `gorm:"not null;default:0" json:"discrepancy_count"`
	MissingInSourceCount   int `gorm:"not null;default:0" json:"missing_in_source_count"`
	MissingInTargetCount   int `gorm:"not null;default:0" json:"missing_in_target_count"`
	AttributeMismatchCount int `gorm:"not null;default:0" json:"attribute_mismatch_count"`

	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	DurationMs    int64      `gorm:"not null;default:0" json:"duration_ms"`
	FailureReason *string    `gorm:"type:text" json:"failure_reason"`
	// ConfigError marks a failure caused by the config itself (duplicate
	// record keys). It blocks new runs until the config is updated.
	ConfigError bool `gorm:"not null;default:false" json:"config_error"`

	// extraction retry bookkeeping
	Attempts int `gorm:"not null;default:0" json:"attempts"`

	// heartbeat for the stall sweep
	LastHeartbeatAt *time.Time `gorm:"index" json:"last_heartbeat_at"`

	CorrelationId string `gorm:"size:64" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RunLog is one per-step progress row of a run.
type RunLog struct {
	ID      int `gorm:"primary_key" json:"id"`
	RunDbId int `gorm:"column:run_db_id;not null;index" json:"run_db_id"`

	Step          string `gorm:"size:50;not null" json:"step"`
	Status        string `gorm:"size:20;not null" json:"status"`
	Message       string `gorm:"type:text" json:"message"`
	RowsProcessed int    `gorm:"not null;default:0" json:"rows_processed"`
	DurationMs    int64  `gorm:"not null;default:0" json:"duration_ms"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NewRunId builds the external run identifier for a config at an instant.
func NewRunId(configCode string, at time.Time) string {
	return fmt.Sprintf("RUN-%s-%s", configCode, at.UTC().Format("20060102150405"))
}

// CountActiveRuns counts non-terminal runs of a config.
// LatestConfigErrorRun returns the newest FAILED run whose failure was a
// configuration defect, or nil when there is none. Callers compare its
// completion time against the config's updated_at to decide whether the
// defect may have been corrected.
func LatestConfigErrorRun(tx *gorm.DB, configId int) (*ReconciliationRun, error) {
	var run ReconciliationRun
	err := tx.
		Where("config_id = ? AND status = ? AND config_error = 1", configId, RunStatusFailed).
		Order("id DESC").
		First(&run).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func CountActiveRuns(tx *gorm.DB, configId int) (int64, error) {
	var count int64
	err := tx.Model(&ReconciliationRun{}).
		Where("config_id = ? AND status IN ?", configId, ActiveRunStatuses()).
		Count(&count).Error
	return count, err
}

func GetRun(ctx context.Context, id int) (*ReconciliationRun, error) {
	return utils.FetchModel[ReconciliationRun](ctx, id)
}

func GetRunByRunId(ctx context.Context, runId string) (*ReconciliationRun, error) {
	db := config.GetDB()
	var result ReconciliationRun
	if err := db.WithContext(ctx).Where("run_id = ?", runId).First(&result).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func PaginateRuns(ctx context.Context, req PageRequest, configId *int, status *RunStatus) ([]*ReconciliationRun, *utils.PageInfo, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&ReconciliationRun{})
	if configId != nil && *configId > 0 {
		query = query.Where("config_id = ?", *configId)
	}
	if status != nil && *status != "" {
		query = query.Where("status = ?", *status)
	}
	return FetchPage[ReconciliationRun](query, req, "id DESC")
}

// SetRunStatus moves a run to the given status with a heartbeat touch.
// SetRunStatus advances an executing run to the next phase. It refuses to
// overwrite a terminal status, so an operator cancel that raced the executor
// sticks; the executor sees ErrRunNoLongerActive and stops.
func SetRunStatus(tx *gorm.DB, runDbId int, status RunStatus) error {
	now := time.Now().UTC()
	res := tx.Model(&ReconciliationRun{}).
		Where("id = ? AND status NOT IN ?", runDbId, terminalRunStatuses()).
		Updates(map[string]interface{}{
			"status":            status,
			"last_heartbeat_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNoLongerActive
	}
	return nil
}

func terminalRunStatuses() []RunStatus {
	return []RunStatus{
		RunStatusCompleted,
		RunStatusCompletedWithDiscrepancies,
		RunStatusFailed,
		RunStatusCancelled,
	}
}

// CancelRun cancels a run. A PENDING run goes straight to CANCELLED; an
// executing run is marked FAILED with a cancellation marker, and the
// executor's final report rolls back when it finds the run terminal.
func CancelRun(ctx context.Context, runDbId int) (*ReconciliationRun, error) {
	db := config.GetDB()

	run, err := GetRun(ctx, runDbId)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s cannot be cancelled from status %s", run.RunId, run.Status)
	}

	target := RunStatusCancelled
	updates := map[string]interface{}{"status": RunStatusCancelled}
	if run.Status != RunStatusPending {
		target = RunStatusFailed
		updates["status"] = RunStatusFailed
		updates["failure_reason"] = "cancelled by operator"
	}
	now := time.Now().UTC()
	updates["completed_at"] = &now

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// guard against a worker advancing the run between the read and here
		res := tx.Model(&ReconciliationRun{}).
			Where("id = ? AND status = ?", runDbId, run.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("run %s changed status concurrently, reload and retry", run.RunId)
		}
		return SaveHistoryUpdate(tx, runDbId, "ReconciliationRun", run, map[string]string{"status": string(target)},
			fmt.Sprintf("Run %s cancelled.", run.RunId))
	})
	if err != nil {
		return nil, err
	}
	run.Status = target
	run.CompletedAt = &now
	return run, nil
}

// AppendRunLog writes one step row. Failures here never fail the run.
func AppendRunLog(tx *gorm.DB, runDbId int, step string, status string, message string, rowsProcessed int, duration time.Duration) {
	logEntry := RunLog{
		RunDbId:       runDbId,
		Step:          step,
		Status:        status,
		Message:       message,
		RowsProcessed: rowsProcessed,
		DurationMs:    duration.Milliseconds(),
	}
	if err := tx.Create(&logEntry).Error; err != nil {
		config.LogError(config.GetLogger(), "reconciliationRun.go", "AppendRunLog", step, runDbId, err)
	}
}

func GetRunLogs(ctx context.Context, runDbId int) ([]*RunLog, error) {
	db := config.GetDB()
	var results []*RunLog
	if err := db.WithContext(ctx).Where("run_db_id = ?", runDbId).
		Order("id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
