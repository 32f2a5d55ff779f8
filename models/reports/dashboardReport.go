package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

type DashboardSummaryResponse struct {
	TotalConfigs        int64           `json:"total_configs"`
	ActiveConfigs       int64           `json:"active_configs"`
	RunsToday           int64           `json:"runs_today"`
	FailedRunsToday     int64           `json:"failed_runs_today"`
	MatchRateToday      decimal.Decimal `json:"match_rate_today"`
	OpenDiscrepancies   int64           `json:"open_discrepancies"`
	OpenIncidents       int64           `json:"open_incidents"`
	OverdueIncidents    int64           `json:"overdue_incidents"`
	PendingCheckerCount int64           `json:"pending_checker_count"`
}

type RunTrendResponse struct {
	Day              string          `json:"day"`
	TotalRuns        int64           `json:"total_runs"`
	CompletedRuns    int64           `json:"completed_runs"`
	FailedRuns       int64           `json:"failed_runs"`
	TotalDiscrepancy int64           `json:"total_discrepancy"`
	AvgDurationMs    decimal.Decimal `json:"avg_duration_ms"`
	AvgMatchRate     decimal.Decimal `json:"avg_match_rate"`
}

type DiscrepancyBreakdownResponse struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Count    int64  `json:"count"`
}

type IncidentAgingResponse struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

func GetDashboardSummary(ctx context.Context) (*DashboardSummaryResponse, error) {

	db := config.GetDB()
	var result DashboardSummaryResponse

	today := time.Now().UTC().Format("2006-01-02")

	summaryQuery := `
SELECT
    (SELECT COUNT(*) FROM reconciliation_configs WHERE deleted_at IS NULL) AS total_configs,
    (SELECT COUNT(*) FROM reconciliation_configs WHERE deleted_at IS NULL AND is_active = 1) AS active_configs,
    (SELECT COUNT(*) FROM reconciliation_runs WHERE DATE(created_at) = ?) AS runs_today,
    (SELECT COUNT(*) FROM reconciliation_runs WHERE DATE(created_at) = ? AND status = 'FAILED') AS failed_runs_today,
    (SELECT COALESCE(
        SUM(matched_count) / NULLIF(SUM(source_count), 0) * 100, 0)
        FROM reconciliation_runs
        WHERE DATE(created_at) = ?
          AND status IN ('COMPLETED', 'COMPLETED_WITH_DISCREPANCIES')) AS match_rate_today,
    (SELECT COUNT(*) FROM discrepancies WHERE status IN ('OPEN', 'UNDER_REVIEW')) AS open_discrepancies,
    (SELECT COUNT(*) FROM incidents WHERE status NOT IN ('RESOLVED', 'CLOSED', 'ESCALATED')) AS open_incidents,
    (SELECT COUNT(*) FROM incidents
        WHERE status NOT IN ('RESOLVED', 'CLOSED', 'ESCALATED') AND due_date < UTC_TIMESTAMP()) AS overdue_incidents,
    (SELECT COUNT(*) FROM incidents WHERE status = 'PENDING_CHECKER_REVIEW') AS pending_checker_count
`
	if err := db.WithContext(ctx).Raw(summaryQuery, today, today, today).Scan(&result).Error; err != nil {
		return nil, err
	}

	return &result, nil
}

func GetRunTrend(ctx context.Context, days int, configId *int) ([]*RunTrendResponse, error) {

	db := config.GetDB()

	if days <= 0 || days > 90 {
		days = 14
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	trendQuery := `
SELECT
    DATE(created_at) AS day,
    COUNT(*) AS total_runs,
    SUM(CASE WHEN status IN ('COMPLETED', 'COMPLETED_WITH_DISCREPANCIES') THEN 1 ELSE 0 END) AS completed_runs,
    SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END) AS failed_runs,
    COALESCE(SUM(discrepancy_count), 0) AS total_discrepancy,
    COALESCE(AVG(duration_ms), 0) AS avg_duration_ms,
    COALESCE(
        SUM(CASE WHEN status IN ('COMPLETED', 'COMPLETED_WITH_DISCREPANCIES') THEN matched_count ELSE 0 END) /
        NULLIF(SUM(CASE WHEN status IN ('COMPLETED', 'COMPLETED_WITH_DISCREPANCIES') THEN source_count ELSE 0 END), 0) * 100,
    0) AS avg_match_rate
FROM
    reconciliation_runs
WHERE
    DATE(created_at) >= ?
    AND (? = 0 OR config_id = ?)
GROUP BY
    DATE(created_at)
ORDER BY
    day ASC
`
	cfg := 0
	if configId != nil {
		cfg = *configId
	}

	var records []*RunTrendResponse
	if err := db.WithContext(ctx).Raw(trendQuery, since, cfg, cfg).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func GetDiscrepancyBreakdown(ctx context.Context, days int, configId *int) ([]*DiscrepancyBreakdownResponse, error) {

	db := config.GetDB()

	if days <= 0 || days > 90 {
		days = 14
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	breakdownQuery := `
SELECT
    type,
    severity,
    COUNT(*) AS count
FROM
    discrepancies
WHERE
    DATE(created_at) >= ?
    AND (? = 0 OR config_id = ?)
GROUP BY
    type, severity
ORDER BY
    type ASC,
    FIELD(severity, 'CRITICAL', 'HIGH', 'MEDIUM', 'LOW')
`
	cfg := 0
	if configId != nil {
		cfg = *configId
	}

	var records []*DiscrepancyBreakdownResponse
	if err := db.WithContext(ctx).Raw(breakdownQuery, since, cfg, cfg).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

// GetIncidentAging buckets non-terminal incidents by their age.
func GetIncidentAging(ctx context.Context) ([]*IncidentAgingResponse, error) {

	db := config.GetDB()

	terminal := []models.IncidentStatus{
		models.IncidentStatusResolved,
		models.IncidentStatusClosed,
		models.IncidentStatusEscalated,
	}

	agingQuery := `
SELECT
    CASE
        WHEN TIMESTAMPDIFF(HOUR, created_at, UTC_TIMESTAMP()) < 24 THEN '0-24h'
        WHEN TIMESTAMPDIFF(HOUR, created_at, UTC_TIMESTAMP()) < 72 THEN '24-72h'
        WHEN TIMESTAMPDIFF(HOUR, created_at, UTC_TIMESTAMP()) < 168 THEN '3-7d'
        ELSE '7d+'
    END AS bucket,
    COUNT(*) AS count
FROM
    incidents
WHERE
    status NOT IN ?
GROUP BY
    bucket
ORDER BY
    FIELD(bucket, '0-24h', '24-72h', '3-7d', '7d+')
`
	var records []*IncidentAgingResponse
	if err := db.WithContext(ctx).Raw(agingQuery, terminal).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}
