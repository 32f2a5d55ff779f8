package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"gorm.io/gorm"
)

// EvaluateIncidentPolicy decides whether the run's discrepancies open an
// incident and creates it inside the run's reporting transaction. A run
// opens at most one incident.
func EvaluateIncidentPolicy(ctx context.Context, tx *gorm.DB, run *models.ReconciliationRun, cfg *models.ReconciliationConfig, discrepancies []*models.Discrepancy) error {
	if len(discrepancies) == 0 {
		return nil
	}

	var qualifying []*models.Discrepancy
	switch cfg.IncidentPolicy {
	case models.IncidentPolicyNever:
		return nil
	case models.IncidentPolicyAlways:
		qualifying = discrepancies
	default:
		minRank := cfg.IncidentMinSeverity.Rank()
		for _, d := range discrepancies {
			if d.Severity.Rank() >= minRank {
				qualifying = append(qualifying, d)
			}
		}
	}
	if len(qualifying) == 0 {
		return nil
	}

	incident, err := models.CreateIncidentForRun(ctx, tx, run, cfg, qualifying)
	if err != nil {
		return err
	}
	config.GetLogger().WithField("run_id", run.RunId).WithField("incident", incident.Number).
		WithField("discrepancies", len(qualifying)).
		Info("incident opened for run")
	return nil
}
