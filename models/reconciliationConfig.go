package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconciliationConfig defines how two systems are matched: which systems,
// which attributes, how each attribute is compared, and when runs fire.
type ReconciliationConfig struct {
	ID          int    `gorm:"primary_key" json:"id"`
	Code        string `gorm:"size:50;not null;unique" json:"code" binding:"required"`
	Name        string `gorm:"size:255;not null" json:"name" binding:"required"`
	Description string `gorm:"type:text" json:"description"`

	SourceSystemId int           `gorm:"not null;index" json:"source_system_id" binding:"required"`
	TargetSystemId int           `gorm:"not null;index" json:"target_system_id" binding:"required"`
	SourceSystem   *SourceSystem `gorm:"foreignKey:SourceSystemId" json:"source_system,omitempty"`
	TargetSystem   *SourceSystem `gorm:"foreignKey:TargetSystemId" json:"target_system,omitempty"`

	IsActive *bool `gorm:"not null;default:true" json:"is_active"`

	// normalization flags applied before every comparison
	TrimWhitespace  *bool `gorm:"not null;default:true" json:"trim_whitespace"`
	NullEqualsEmpty *bool `gorm:"not null;default:false" json:"null_equals_empty"`
	IgnoreCase      *bool `gorm:"not null;default:false" json:"ignore_case"`

	// stop recording discrepancies past this count; 0 means unlimited
	MaxDiscrepancies int `gorm:"not null;default:0" json:"max_discrepancies"`

	IncidentPolicy      IncidentPolicy `gorm:"size:30;not null;default:SEVERITY_THRESHOLD" json:"incident_policy"`
	IncidentMinSeverity Severity       `gorm:"size:10;not null;default:HIGH" json:"incident_min_severity"`

	ScheduleFrequency ScheduleFrequency `gorm:"size:10;not null;default:NONE" json:"schedule_frequency"`

	Mappings []AttributeMapping `gorm:"foreignKey:ConfigId" json:"mappings"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// AttributeMapping pairs one source attribute with one target attribute and
// the comparison applied between them. Ordering fixes the reported order of
// field mismatches.
type AttributeMapping struct {
	ID       int `gorm:"primary_key" json:"id"`
	ConfigId int `gorm:"not null;index" json:"config_id"`

	SourceAttribute string `gorm:"size:255;not null" json:"source_attribute" binding:"required"`
	TargetAttribute string `gorm:"size:255;not null" json:"target_attribute" binding:"required"`

	IsKey          *bool          `gorm:"not null;default:false" json:"is_key"`
	ComparisonType ComparisonType `gorm:"size:30;not null;default:EXACT_MATCH" json:"comparison_type"`

	// NUMERIC_TOLERANCE: absolute epsilon, or percent of the source value
	ToleranceValue   decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"tolerance_value"`
	TolerancePercent *bool           `gorm:"not null;default:false" json:"tolerance_percent"`

	// DATE_TOLERANCE: layout for parsing, tolerance in days via ToleranceValue
	DateFormat string `gorm:"size:50" json:"date_format"`

	// REGEX_MATCH: both values must match this pattern
	FormatPattern string `gorm:"size:255" json:"format_pattern"`

	Transformation Transformation `gorm:"size:10;not null;default:NONE" json:"transformation"`
	Severity       Severity       `gorm:"size:10;not null;default:MEDIUM" json:"severity"`
	Ordering       int            `gorm:"not null;default:0" json:"ordering"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReconciliationConfig struct {
	Code                string                `json:"code" binding:"required"`
	Name                string                `json:"name" binding:"required"`
	Description         string                `json:"description"`
	SourceSystemId      int                   `json:"source_system_id" binding:"required"`
	TargetSystemId      int                   `json:"target_system_id" binding:"required"`
	IsActive            *bool                 `json:"is_active"`
	TrimWhitespace      *bool                 `json:"trim_whitespace"`
	NullEqualsEmpty     *bool                 `json:"null_equals_empty"`
	IgnoreCase          *bool                 `json:"ignore_case"`
	MaxDiscrepancies    int                   `json:"max_discrepancies"`
	IncidentPolicy      IncidentPolicy        `json:"incident_policy"`
	IncidentMinSeverity Severity              `json:"incident_min_severity"`
	ScheduleFrequency   ScheduleFrequency     `json:"schedule_frequency"`
	Mappings            []NewAttributeMapping `json:"mappings" binding:"required,min=1,dive"`
}

type NewAttributeMapping struct {
	SourceAttribute  string          `json:"source_attribute" binding:"required"`
	TargetAttribute  string          `json:"target_attribute" binding:"required"`
	IsKey            *bool           `json:"is_key"`
	ComparisonType   ComparisonType  `json:"comparison_type"`
	ToleranceValue   decimal.Decimal `json:"tolerance_value"`
	TolerancePercent *bool           `json:"tolerance_percent"`
	DateFormat       string          `json:"date_format"`
	FormatPattern    string          `json:"format_pattern"`
	Transformation   Transformation  `json:"transformation"`
	Severity         Severity        `json:"severity"`
	Ordering         int             `json:"ordering"`
}

func (input *NewReconciliationConfig) validate(ctx context.Context) error {
	if input.SourceSystemId == input.TargetSystemId {
		return errors.New("source and target systems must differ")
	}
	if err := utils.ValidateResourceId[SourceSystem](ctx, input.SourceSystemId); err != nil {
		return errors.New("source system not found")
	}
	if err := utils.ValidateResourceId[SourceSystem](ctx, input.TargetSystemId); err != nil {
		return errors.New("target system not found")
	}
	if input.IncidentPolicy != "" && !input.IncidentPolicy.IsValid() {
		return fmt.Errorf("invalid incident policy %q", input.IncidentPolicy)
	}
	if input.IncidentMinSeverity != "" && !input.IncidentMinSeverity.IsValid() {
		return fmt.Errorf("invalid severity %q", input.IncidentMinSeverity)
	}
	if input.ScheduleFrequency != "" && !input.ScheduleFrequency.IsValid() {
		return fmt.Errorf("invalid schedule frequency %q", input.ScheduleFrequency)
	}
	keyCount := 0
	for _, m := range input.Mappings {
		if m.ComparisonType != "" && !m.ComparisonType.IsValid() {
			return fmt.Errorf("invalid comparison type %q for %s", m.ComparisonType, m.SourceAttribute)
		}
		if m.Severity != "" && !m.Severity.IsValid() {
			return fmt.Errorf("invalid severity %q for %s", m.Severity, m.SourceAttribute)
		}
		if m.ComparisonType == ComparisonTypeDateTolerance && m.DateFormat == "" {
			return fmt.Errorf("date_format is required for DATE_TOLERANCE on %s", m.SourceAttribute)
		}
		if m.FormatPattern != "" {
			if _, err := regexp.Compile(m.FormatPattern); err != nil {
				return fmt.Errorf("invalid format_pattern for %s: %v", m.SourceAttribute, err)
			}
		}
		if utils.DereferencePtr(m.IsKey) {
			keyCount++
		}
	}
	if keyCount == 0 {
		return errors.New("at least one key attribute mapping is required")
	}
	return nil
}

func (input *NewAttributeMapping) toMapping(ordering int) AttributeMapping {
	comparison := input.ComparisonType
	if comparison == "" {
		comparison = ComparisonTypeExactMatch
	}
	transformation := input.Transformation
	if transformation == "" {
		transformation = TransformationNone
	}
	severity := input.Severity
	if severity == "" {
		severity = SeverityMedium
	}
	isKey := input.IsKey
	if isKey == nil {
		isKey = utils.NewFalse()
	}
	tolerancePercent := input.TolerancePercent
	if tolerancePercent == nil {
		tolerancePercent = utils.NewFalse()
	}
	return AttributeMapping{
		SourceAttribute:  input.SourceAttribute,
		TargetAttribute:  input.TargetAttribute,
		IsKey:            isKey,
		ComparisonType:   comparison,
		ToleranceValue:   input.ToleranceValue,
		TolerancePercent: tolerancePercent,
		DateFormat:       input.DateFormat,
		FormatPattern:    input.FormatPattern,
		Transformation:   transformation,
		Severity:         severity,
		Ordering:         ordering,
	}
}

/*
caches:
	ReconciliationConfig:$id
	ReconciliationConfigList
*/

func CreateReconciliationConfig(ctx context.Context, input *NewReconciliationConfig) (*ReconciliationConfig, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	cfg := ReconciliationConfig{
		Code:                input.Code,
		Name:                input.Name,
		Description:         input.Description,
		SourceSystemId:      input.SourceSystemId,
		TargetSystemId:      input.TargetSystemId,
		IsActive:            defaultTrue(input.IsActive),
		TrimWhitespace:      defaultTrue(input.TrimWhitespace),
		NullEqualsEmpty:     defaultFalse(input.NullEqualsEmpty),
		IgnoreCase:          defaultFalse(input.IgnoreCase),
		MaxDiscrepancies:    input.MaxDiscrepancies,
		IncidentPolicy:      input.IncidentPolicy,
		IncidentMinSeverity: input.IncidentMinSeverity,
		ScheduleFrequency:   input.ScheduleFrequency,
	}
	if cfg.IncidentPolicy == "" {
		cfg.IncidentPolicy = IncidentPolicySeverityThreshold
	}
	if cfg.IncidentMinSeverity == "" {
		cfg.IncidentMinSeverity = SeverityHigh
	}
	if cfg.ScheduleFrequency == "" {
		cfg.ScheduleFrequency = ScheduleFrequencyNone
	}
	for i, m := range input.Mappings {
		ordering := m.Ordering
		if ordering == 0 {
			ordering = i
		}
		cfg.Mappings = append(cfg.Mappings, m.toMapping(ordering))
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cfg).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return fmt.Errorf("config code %q already exists", input.Code)
			}
			return err
		}
		if err := UpsertSchedule(tx, &cfg); err != nil {
			return err
		}
		return SaveHistoryCreate(tx, cfg.ID, "ReconciliationConfig", &cfg,
			fmt.Sprintf("Reconciliation config %s created.", cfg.Code))
	})
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisList[ReconciliationConfig](); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func GetReconciliationConfig(ctx context.Context, id int) (*ReconciliationConfig, error) {
	db := config.GetDB()
	var result ReconciliationConfig
	if err := db.WithContext(ctx).
		Preload("Mappings", func(db *gorm.DB) *gorm.DB { return db.Order("ordering ASC, id ASC") }).
		Preload("SourceSystem").Preload("TargetSystem").
		First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetReconciliationConfigByCode(ctx context.Context, code string) (*ReconciliationConfig, error) {
	db := config.GetDB()
	var result ReconciliationConfig
	if err := db.WithContext(ctx).
		Preload("Mappings", func(db *gorm.DB) *gorm.DB { return db.Order("ordering ASC, id ASC") }).
		Preload("SourceSystem").Preload("TargetSystem").
		Where("code = ?", code).First(&result).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func PaginateReconciliationConfigs(ctx context.Context, req PageRequest, active *bool) ([]*ReconciliationConfig, *utils.PageInfo, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&ReconciliationConfig{}).Preload("Mappings")
	if active != nil {
		query = query.Where("is_active = ?", *active)
	}
	return FetchPage[ReconciliationConfig](query, req, "code ASC")
}

func UpdateReconciliationConfig(ctx context.Context, id int, input *NewReconciliationConfig) (*ReconciliationConfig, error) {
	db := config.GetDB()

	old, err := GetReconciliationConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[ReconciliationConfig](ctx, "code", input.Code, id); err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ReconciliationConfig{}).Where("id = ?", id).Updates(map[string]interface{}{
			"code":                  input.Code,
			"name":                  input.Name,
			"description":           input.Description,
			"source_system_id":      input.SourceSystemId,
			"target_system_id":      input.TargetSystemId,
			"is_active":             defaultTrue(input.IsActive),
			"trim_whitespace":       defaultTrue(input.TrimWhitespace),
			"null_equals_empty":     defaultFalse(input.NullEqualsEmpty),
			"ignore_case":           defaultFalse(input.IgnoreCase),
			"max_discrepancies":     input.MaxDiscrepancies,
			"incident_policy":       input.IncidentPolicy,
			"incident_min_severity": input.IncidentMinSeverity,
			"schedule_frequency":    input.ScheduleFrequency,
		}).Error; err != nil {
			return err
		}

		// mappings are replaced wholesale
		if err := tx.Where("config_id = ?", id).Delete(&AttributeMapping{}).Error; err != nil {
			return err
		}
		for i, m := range input.Mappings {
			ordering := m.Ordering
			if ordering == 0 {
				ordering = i
			}
			mapping := m.toMapping(ordering)
			mapping.ConfigId = id
			if err := tx.Create(&mapping).Error; err != nil {
				return err
			}
		}

		updated := *old
		updated.Code = input.Code
		updated.ScheduleFrequency = input.ScheduleFrequency
		updated.IsActive = defaultTrue(input.IsActive)
		if err := UpsertSchedule(tx, &updated); err != nil {
			return err
		}
		return SaveHistoryUpdate(tx, id, "ReconciliationConfig", old, input,
			fmt.Sprintf("Reconciliation config %s updated.", input.Code))
	})
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[ReconciliationConfig](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[ReconciliationConfig](); err != nil {
		return nil, err
	}
	return GetReconciliationConfig(ctx, id)
}

// ToggleReconciliationConfig enables or disables the config and its schedule.
func ToggleReconciliationConfig(ctx context.Context, id int, active bool) (*ReconciliationConfig, error) {
	db := config.GetDB()

	cfg, err := GetReconciliationConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ReconciliationConfig{}).Where("id = ?", id).
			Update("is_active", active).Error; err != nil {
			return err
		}
		if err := tx.Model(&ReconciliationSchedule{}).Where("config_id = ?", id).
			Update("is_active", active).Error; err != nil {
			return err
		}
		action := "enabled"
		if !active {
			action = "disabled"
		}
		return SaveHistoryUpdate(tx, id, "ReconciliationConfig", cfg, map[string]bool{"is_active": active},
			fmt.Sprintf("Reconciliation config %s %s.", cfg.Code, action))
	})
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[ReconciliationConfig](id); err != nil {
		return nil, err
	}
	cfg.IsActive = &active
	return cfg, nil
}

func DeleteReconciliationConfig(ctx context.Context, id int) (*ReconciliationConfig, error) {
	db := config.GetDB()

	cfg, err := GetReconciliationConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	var activeRuns int64
	if err := db.WithContext(ctx).Model(&ReconciliationRun{}).
		Where("config_id = ? AND status IN ?", id, ActiveRunStatuses()).
		Count(&activeRuns).Error; err != nil {
		return nil, err
	}
	if activeRuns > 0 {
		return nil, errors.New("config has an active run")
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("config_id = ?", id).Delete(&ReconciliationSchedule{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ReconciliationConfig{}, id).Error; err != nil {
			return err
		}
		return SaveHistoryDelete(tx, id, "ReconciliationConfig", cfg,
			fmt.Sprintf("Reconciliation config %s deleted.", cfg.Code))
	})
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[ReconciliationConfig](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[ReconciliationConfig](); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultTrue(b *bool) *bool {
	if b == nil {
		return utils.NewTrue()
	}
	return b
}

func defaultFalse(b *bool) *bool {
	if b == nil {
		return utils.NewFalse()
	}
	return b
}
