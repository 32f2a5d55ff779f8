package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/extract"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("recon-backend")

const (
	maxExtractionAttempts = 3
	extractionBackoffBase = 1 * time.Second
	extractionBackoffCap  = 30 * time.Second
)

// TriggerRun admits a new run for the config. At most one run per config may
// be active at a time; a second trigger is rejected, not queued. The run is
// created PENDING and picked up by the dispatcher.
func TriggerRun(ctx context.Context, configId int, trigger models.TriggerType, triggeredBy string) (*models.ReconciliationRun, error) {
	db := config.GetDB()

	cfg, err := models.GetReconciliationConfig(ctx, configId)
	if err != nil {
		return nil, err
	}
	if !utils.DereferencePtr(cfg.IsActive) {
		return nil, fmt.Errorf("config %s is inactive", cfg.Code)
	}

	// Duplicate-key failures are configuration defects: hold off new runs
	// until the config has been touched since the failing run finished.
	blocked, err := models.LatestConfigErrorRun(db.WithContext(ctx), cfg.ID)
	if err != nil {
		return nil, err
	}
	if blocked != nil && blocked.CompletedAt != nil && !cfg.UpdatedAt.After(*blocked.CompletedAt) {
		return nil, fmt.Errorf("config %s is blocked by a configuration error from run %s (%s); update the config to clear it",
			cfg.Code, blocked.RunId, utils.DereferencePtr(blocked.FailureReason))
	}

	var run *models.ReconciliationRun
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireConfigRunLock(tx, cfg.ID); err != nil {
			return err
		}
		defer ReleaseConfigRunLock(tx, cfg.ID)

		active, err := models.CountActiveRuns(tx, cfg.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return models.ErrRunAlreadyActive
		}

		now := time.Now().UTC()
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		run = &models.ReconciliationRun{
			RunId:         models.NewRunId(cfg.Code, now),
			ConfigId:      cfg.ID,
			Status:        models.RunStatusPending,
			Trigger:       trigger,
			TriggeredBy:   triggeredBy,
			CorrelationId: correlationId,
		}
		return tx.Create(run).Error
	})
	if err != nil {
		return nil, err
	}

	config.GetLogger().WithField("run_id", run.RunId).WithField("config", cfg.Code).
		Info("reconciliation run admitted")
	return run, nil
}

// ExecuteRun drives one claimed run through extraction, comparison and
// reporting. Any error lands the run in FAILED with the reason recorded;
// executor crashes are recovered by the stall sweep.
func ExecuteRun(ctx context.Context, runDbId int) error {
	db := config.GetDB()
	logger := config.GetLogger()

	run, err := models.GetRun(ctx, runDbId)
	if err != nil {
		return err
	}

	var span trace.Span
	ctx, span = tracer.Start(ctx, "workflow.ExecuteRun",
		trace.WithAttributes(attribute.String("run_id", run.RunId)))
	defer span.End()
	cfg, err := models.GetReconciliationConfig(ctx, run.ConfigId)
	if err != nil {
		return failRun(ctx, run, err)
	}

	startedAt := time.Now().UTC()
	if err := db.WithContext(ctx).Model(&models.ReconciliationRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":            models.RunStatusInProgress,
			"started_at":        &startedAt,
			"attempts":          gorm.Expr("attempts + 1"),
			"last_heartbeat_at": &startedAt,
		}).Error; err != nil {
		return err
	}
	models.AppendRunLog(db.WithContext(ctx), run.ID, "INITIALIZATION", "INFO", "Reconciliation started", 0, 0)

	// keep the heartbeat fresh while extraction or comparison takes long
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go runHeartbeat(heartbeatCtx, run.ID)

	// source extraction
	if err := models.SetRunStatus(db.WithContext(ctx), run.ID, models.RunStatusExtractingSource); err != nil {
		return err
	}
	sourceData, sourceDuration, err := extractWithRetry(ctx, run, cfg.SourceSystem)
	if err != nil {
		models.AppendRunLog(db.WithContext(ctx), run.ID, "SOURCE_EXTRACTION", "ERROR", err.Error(), 0, sourceDuration)
		return failRun(ctx, run, err)
	}
	models.AppendRunLog(db.WithContext(ctx), run.ID, "SOURCE_EXTRACTION", "INFO",
		fmt.Sprintf("Extracted %d records from %s", len(sourceData), cfg.SourceSystem.Code), len(sourceData), sourceDuration)

	// target extraction
	if err := models.SetRunStatus(db.WithContext(ctx), run.ID, models.RunStatusExtractingTarget); err != nil {
		return err
	}
	targetData, targetDuration, err := extractWithRetry(ctx, run, cfg.TargetSystem)
	if err != nil {
		models.AppendRunLog(db.WithContext(ctx), run.ID, "TARGET_EXTRACTION", "ERROR", err.Error(), 0, targetDuration)
		return failRun(ctx, run, err)
	}
	models.AppendRunLog(db.WithContext(ctx), run.ID, "TARGET_EXTRACTION", "INFO",
		fmt.Sprintf("Extracted %d records from %s", len(targetData), cfg.TargetSystem.Code), len(targetData), targetDuration)

	// comparison
	if err := models.SetRunStatus(db.WithContext(ctx), run.ID, models.RunStatusComparing); err != nil {
		return err
	}
	compareStart := time.Now()
	result, err := CompareSnapshots(cfg, cfg.Mappings, sourceData, targetData)
	if err != nil {
		models.AppendRunLog(db.WithContext(ctx), run.ID, "COMPARISON", "ERROR", err.Error(), 0, time.Since(compareStart))
		return failRun(ctx, run, err)
	}
	models.AppendRunLog(db.WithContext(ctx), run.ID, "COMPARISON", "INFO",
		fmt.Sprintf("Comparison complete. Matched: %d, Discrepancies: %d", result.MatchedCount, len(result.Discrepancies)),
		result.SourceCount+result.TargetCount, time.Since(compareStart))

	// reporting: discrepancies, incident, final status in one transaction
	if err := models.SetRunStatus(db.WithContext(ctx), run.ID, models.RunStatusGeneratingReport); err != nil {
		return err
	}
	finalStatus := models.RunStatusCompleted
	if len(result.Discrepancies) > 0 {
		finalStatus = models.RunStatusCompletedWithDiscrepancies
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		discrepancies, err := persistDiscrepancies(tx, run, cfg, result)
		if err != nil {
			return err
		}
		if err := EvaluateIncidentPolicy(ctx, tx, run, cfg, discrepancies); err != nil {
			return err
		}

		completedAt := time.Now().UTC()
		// Conditional on the phase we set above: if an operator cancelled
		// the run meanwhile, roll the whole report back so no discrepancies
		// land for a cancelled run.
		res := tx.Model(&models.ReconciliationRun{}).
			Where("id = ? AND status = ?", run.ID, models.RunStatusGeneratingReport).
			Updates(map[string]interface{}{
				"status":                   finalStatus,
				"source_count":             result.SourceCount,
				"target_count":             result.TargetCount,
				"matched_count":            result.MatchedCount,
				"discrepancy_count":        len(result.Discrepancies),
				"missing_in_source_count":  result.MissingInSource,
				"missing_in_target_count":  result.MissingInTarget,
				"attribute_mismatch_count": result.AttributeMismatch,
				"completed_at":             &completedAt,
				"duration_ms":              completedAt.Sub(startedAt).Milliseconds(),
				"last_heartbeat_at":        &completedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrRunNoLongerActive
		}
		return nil
	})
	if errors.Is(err, models.ErrRunNoLongerActive) {
		// Cancelled while reporting; the cancel marker is authoritative.
		logger.WithField("run_id", run.RunId).Warn("run cancelled during report generation, discarding results")
		return nil
	}
	if err != nil {
		return failRun(ctx, run, err)
	}

	models.AppendRunLog(db.WithContext(ctx), run.ID, "COMPLETION", "INFO", "Reconciliation completed", 0, time.Since(startedAt))
	logger.WithField("run_id", run.RunId).WithField("status", string(finalStatus)).
		WithField("discrepancies", len(result.Discrepancies)).
		Info("reconciliation run finished")
	return nil
}

// extractWithRetry retries transient extraction failures with doubling
// backoff. Permanent failures surface immediately.
func extractWithRetry(ctx context.Context, run *models.ReconciliationRun, system *models.SourceSystem) ([]extract.Record, time.Duration, error) {
	start := time.Now()
	if system == nil {
		return nil, 0, errors.New("system not loaded")
	}
	extractor, err := extract.ForSystem(system)
	if err != nil {
		return nil, time.Since(start), err
	}

	backoff := extractionBackoffBase
	var lastErr error
	for attempt := 1; attempt <= maxExtractionAttempts; attempt++ {
		data, err := extractor.Extract(ctx, system)
		if err == nil {
			return data, time.Since(start), nil
		}
		lastErr = err
		if !models.IsTransient(err) {
			break
		}
		if attempt == maxExtractionAttempts {
			break
		}
		config.LogError(config.GetLogger(), "workflow", "extractWithRetry",
			fmt.Sprintf("attempt %d failed for system %s, run %s", attempt, system.Code, run.RunId), nil, err)
		select {
		case <-ctx.Done():
			return nil, time.Since(start), ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > extractionBackoffCap {
			backoff = extractionBackoffCap
		}
	}
	return nil, time.Since(start), lastErr
}

func persistDiscrepancies(tx *gorm.DB, run *models.ReconciliationRun, cfg *models.ReconciliationConfig, result *ComparisonResult) ([]*models.Discrepancy, error) {
	discrepancies := make([]*models.Discrepancy, 0, len(result.Discrepancies))
	for i, draft := range result.Discrepancies {
		d := &models.Discrepancy{
			Code:         models.DiscrepancyCode(run.RunId, i+1),
			RunDbId:      run.ID,
			RunId:        run.RunId,
			ConfigId:     cfg.ID,
			RecordKey:    draft.RecordKey,
			Type:         draft.Type,
			Severity:     draft.Severity,
			Status:       models.DiscrepancyStatusOpen,
			SourceRecord: draft.SourceRecord,
			TargetRecord: draft.TargetRecord,
			FieldDetails: draft.FieldDetails,
		}
		discrepancies = append(discrepancies, d)
	}
	if len(discrepancies) == 0 {
		return discrepancies, nil
	}
	if err := tx.CreateInBatches(discrepancies, 200).Error; err != nil {
		return nil, err
	}
	return discrepancies, nil
}

func runHeartbeat(ctx context.Context, runDbId int) {
	db := config.GetDB()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			_ = db.Model(&models.ReconciliationRun{}).
				Where("id = ?", runDbId).
				Update("last_heartbeat_at", &now).Error
		}
	}
}

func failRun(ctx context.Context, run *models.ReconciliationRun, cause error) error {
	db := config.GetDB()
	now := time.Now().UTC()
	reason := cause.Error()
	var dupKey *models.DuplicateRecordKeyError
	// Never overwrite a cancel or an earlier terminal status.
	if err := db.WithContext(ctx).Model(&models.ReconciliationRun{}).
		Where("id = ? AND status NOT IN ?", run.ID, []models.RunStatus{
			models.RunStatusCompleted,
			models.RunStatusCompletedWithDiscrepancies,
			models.RunStatusFailed,
			models.RunStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":         models.RunStatusFailed,
			"failure_reason": &reason,
			"config_error":   errors.As(cause, &dupKey),
			"completed_at":   &now,
		}).Error; err != nil {
		config.LogError(config.GetLogger(), "workflow", "failRun", "could not mark run failed", map[string]interface{}{
			"run_id": run.RunId,
		}, err)
	}
	models.AppendRunLog(db.WithContext(ctx), run.ID, "FAILURE", "ERROR", reason, 0, 0)
	return cause
}
