package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"gorm.io/gorm"
)

// Discrepancy is one mismatch found by a run, keyed by the composite record
// key. Code is DISC-<runId>-NNNNN with NNNNN sequential within the run.
type Discrepancy struct {
	ID       int    `gorm:"primary_key" json:"id"`
	Code     string `gorm:"size:150;not null;unique" json:"code"`
	RunDbId  int    `gorm:"column:run_db_id;not null;index" json:"run_db_id"`
	RunId    string `gorm:"size:100;not null;index" json:"run_id"`
	ConfigId int    `gorm:"not null;index" json:"config_id"`

	RecordKey string            `gorm:"size:500;not null" json:"record_key"`
	Type      DiscrepancyType   `gorm:"size:30;not null;index" json:"type"`
	Severity  Severity          `gorm:"size:10;not null;index" json:"severity"`
	Status    DiscrepancyStatus `gorm:"size:30;not null;index;default:OPEN" json:"status"`

	SourceRecord map[string]*string `gorm:"serializer:json;type:text" json:"source_record,omitempty"`
	TargetRecord map[string]*string `gorm:"serializer:json;type:text" json:"target_record,omitempty"`
	FieldDetails []FieldDetail      `gorm:"serializer:json;type:text" json:"field_details,omitempty"`

	IncidentId *int `gorm:"index" json:"incident_id,omitempty"`

	ResolutionNote *string    `gorm:"type:text" json:"resolution_note,omitempty"`
	ResolvedBy     *string    `gorm:"size:100" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FieldDetail is one failed attribute comparison inside an
// ATTRIBUTE_MISMATCH discrepancy.
type FieldDetail struct {
	Field          string         `json:"field"`
	SourceValue    *string        `json:"source_value"`
	TargetValue    *string        `json:"target_value"`
	ComparisonType ComparisonType `json:"comparison_type"`
}

// DiscrepancyCode formats the per-run sequential code.
func DiscrepancyCode(runId string, seq int) string {
	return fmt.Sprintf("DISC-%s-%05d", runId, seq)
}

func GetDiscrepancy(ctx context.Context, id int) (*Discrepancy, error) {
	return utils.FetchModel[Discrepancy](ctx, id)
}

type DiscrepancyFilter struct {
	RunDbId  *int
	ConfigId *int
	Type     *DiscrepancyType
	Severity *Severity
	Status   *DiscrepancyStatus
}

func discrepancyQuery(ctx context.Context, filter DiscrepancyFilter) *gorm.DB {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&Discrepancy{})
	if filter.RunDbId != nil && *filter.RunDbId > 0 {
		query = query.Where("run_db_id = ?", *filter.RunDbId)
	}
	if filter.ConfigId != nil && *filter.ConfigId > 0 {
		query = query.Where("config_id = ?", *filter.ConfigId)
	}
	if filter.Type != nil && *filter.Type != "" {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.Severity != nil && *filter.Severity != "" {
		query = query.Where("severity = ?", *filter.Severity)
	}
	if filter.Status != nil && *filter.Status != "" {
		query = query.Where("status = ?", *filter.Status)
	}
	return query
}

func PaginateDiscrepancies(ctx context.Context, req PageRequest, filter DiscrepancyFilter) ([]*Discrepancy, *utils.PageInfo, error) {
	return FetchPage[Discrepancy](discrepancyQuery(ctx, filter), req, "record_key ASC, id ASC")
}

// ListRunDiscrepancies returns every discrepancy of a run in record-key order.
func ListRunDiscrepancies(ctx context.Context, runDbId int) ([]*Discrepancy, error) {
	db := config.GetDB()
	var results []*Discrepancy
	if err := db.WithContext(ctx).Where("run_db_id = ?", runDbId).
		Order("record_key ASC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ResolveDiscrepancy marks an open or under-review discrepancy resolved.
func ResolveDiscrepancy(ctx context.Context, id int, note string) (*Discrepancy, error) {
	return closeDiscrepancy(ctx, id, DiscrepancyStatusResolved, note)
}

// IgnoreDiscrepancy marks an open or under-review discrepancy ignored.
func IgnoreDiscrepancy(ctx context.Context, id int, note string) (*Discrepancy, error) {
	return closeDiscrepancy(ctx, id, DiscrepancyStatusIgnored, note)
}

func closeDiscrepancy(ctx context.Context, id int, status DiscrepancyStatus, note string) (*Discrepancy, error) {
	db := config.GetDB()

	disc, err := GetDiscrepancy(ctx, id)
	if err != nil {
		return nil, err
	}
	if disc.Status != DiscrepancyStatusOpen && disc.Status != DiscrepancyStatusUnderReview {
		return nil, fmt.Errorf("discrepancy %s cannot move to %s from status %s", disc.Code, status, disc.Status)
	}

	now := time.Now().UTC()
	actor := actorFromContext(ctx)
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Discrepancy{}).
			Where("id = ? AND status IN ?", id, []DiscrepancyStatus{DiscrepancyStatusOpen, DiscrepancyStatusUnderReview}).
			Updates(map[string]interface{}{
				"status":          status,
				"resolution_note": utils.NilIfEmpty(note),
				"resolved_by":     &actor,
				"resolved_at":     &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentModification
		}
		return SaveHistoryUpdate(tx, id, "Discrepancy", disc, map[string]string{"status": string(status)},
			fmt.Sprintf("Discrepancy %s marked %s.", disc.Code, status))
	})
	if err != nil {
		return nil, err
	}
	return GetDiscrepancy(ctx, id)
}
