package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/extract"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
)

// ComparisonResult is the output of one matching pass. Discrepancies are
// ordered by record key ascending so identical inputs always produce the
// identical discrepancy list.
type ComparisonResult struct {
	SourceCount       int
	TargetCount       int
	MatchedCount      int
	MissingInSource   int
	MissingInTarget   int
	AttributeMismatch int
	Truncated         bool
	Discrepancies     []DiscrepancyDraft
}

// DiscrepancyDraft is a discrepancy before persistence, free of run identity.
type DiscrepancyDraft struct {
	RecordKey    string
	Type         models.DiscrepancyType
	Severity     models.Severity
	SourceRecord extract.Record
	TargetRecord extract.Record
	FieldDetails []models.FieldDetail
}

// CompareSnapshots joins the two extracted snapshots on the configured key
// mappings and classifies every record. Pure function of its inputs.
func CompareSnapshots(cfg *models.ReconciliationConfig, mappings []models.AttributeMapping, sourceData, targetData []extract.Record) (*ComparisonResult, error) {
	keyMappings := make([]models.AttributeMapping, 0, len(mappings))
	compareMappings := make([]models.AttributeMapping, 0, len(mappings))
	for _, m := range mappings {
		if utils.DereferencePtr(m.IsKey) {
			keyMappings = append(keyMappings, m)
		} else if m.ComparisonType != models.ComparisonTypeIgnore {
			compareMappings = append(compareMappings, m)
		}
	}
	if len(keyMappings) == 0 {
		return nil, fmt.Errorf("config %s has no key attribute mappings", cfg.Code)
	}

	sourceIndex, err := indexByKey(cfg, keyMappings, sourceData, true)
	if err != nil {
		return nil, err
	}
	targetIndex, err := indexByKey(cfg, keyMappings, targetData, false)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(sourceIndex)+len(targetIndex))
	for key := range sourceIndex {
		keys = append(keys, key)
	}
	for key := range targetIndex {
		if _, exists := sourceIndex[key]; !exists {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	result := &ComparisonResult{
		SourceCount: len(sourceData),
		TargetCount: len(targetData),
	}
	missingSeverity := missingRecordSeverity(keyMappings)
	maxDiscrepancies := cfg.MaxDiscrepancies

	record := func(draft DiscrepancyDraft) {
		if maxDiscrepancies > 0 && len(result.Discrepancies) >= maxDiscrepancies {
			result.Truncated = true
			return
		}
		result.Discrepancies = append(result.Discrepancies, draft)
	}

	for _, key := range keys {
		source, inSource := sourceIndex[key]
		target, inTarget := targetIndex[key]

		switch {
		case inSource && !inTarget:
			result.MissingInTarget++
			record(DiscrepancyDraft{
				RecordKey:    key,
				Type:         models.DiscrepancyTypeMissingInTarget,
				Severity:     missingSeverity,
				SourceRecord: source,
			})
		case !inSource && inTarget:
			result.MissingInSource++
			record(DiscrepancyDraft{
				RecordKey:    key,
				Type:         models.DiscrepancyTypeMissingInSource,
				Severity:     missingSeverity,
				TargetRecord: target,
			})
		default:
			details, severity := compareRecordPair(cfg, compareMappings, source, target)
			if len(details) == 0 {
				result.MatchedCount++
				continue
			}
			result.AttributeMismatch++
			record(DiscrepancyDraft{
				RecordKey:    key,
				Type:         models.DiscrepancyTypeAttributeMismatch,
				Severity:     severity,
				SourceRecord: source,
				TargetRecord: target,
				FieldDetails: details,
			})
		}
	}

	return result, nil
}

// indexByKey builds key -> record. A repeated key within one snapshot is a
// configuration error and aborts the run.
func indexByKey(cfg *models.ReconciliationConfig, keyMappings []models.AttributeMapping, data []extract.Record, isSource bool) (map[string]extract.Record, error) {
	side := "target"
	if isSource {
		side = "source"
	}
	index := make(map[string]extract.Record, len(data))
	for _, rec := range data {
		key := buildRecordKey(cfg, keyMappings, rec, isSource)
		if _, exists := index[key]; exists {
			return nil, &models.DuplicateRecordKeyError{Side: side, Key: key}
		}
		index[key] = rec
	}
	return index, nil
}

// buildRecordKey joins the key attribute values with "|", rendering absent
// and null values as the literal NULL.
func buildRecordKey(cfg *models.ReconciliationConfig, keyMappings []models.AttributeMapping, rec extract.Record, isSource bool) string {
	parts := make([]string, 0, len(keyMappings))
	for _, m := range keyMappings {
		attr := m.TargetAttribute
		if isSource {
			attr = m.SourceAttribute
		}
		value := normalizeValue(cfg, &m, rec[attr])
		if value == nil {
			parts = append(parts, "NULL")
		} else {
			parts = append(parts, *value)
		}
	}
	return strings.Join(parts, "|")
}

func compareRecordPair(cfg *models.ReconciliationConfig, compareMappings []models.AttributeMapping, source, target extract.Record) ([]models.FieldDetail, models.Severity) {
	var details []models.FieldDetail
	severity := models.SeverityLow
	for i := range compareMappings {
		m := &compareMappings[i]
		sourceValue := normalizeValue(cfg, m, source[m.SourceAttribute])
		targetValue := normalizeValue(cfg, m, target[m.TargetAttribute])
		if valuesMatch(cfg, m, sourceValue, targetValue) {
			continue
		}
		details = append(details, models.FieldDetail{
			Field:          m.SourceAttribute,
			SourceValue:    sourceValue,
			TargetValue:    targetValue,
			ComparisonType: m.ComparisonType,
		})
		severity = models.HigherSeverity(severity, m.Severity)
	}
	return details, severity
}

func normalizeValue(cfg *models.ReconciliationConfig, m *models.AttributeMapping, value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	switch m.Transformation {
	case models.TransformationUppercase:
		v = strings.ToUpper(v)
	case models.TransformationLowercase:
		v = strings.ToLower(v)
	case models.TransformationTrim:
		v = strings.TrimSpace(v)
	}
	if utils.DereferencePtr(cfg.TrimWhitespace) {
		v = strings.TrimSpace(v)
	}
	return &v
}

func valuesMatch(cfg *models.ReconciliationConfig, m *models.AttributeMapping, source, target *string) bool {
	if source == nil && target == nil {
		return true
	}
	if source == nil || target == nil {
		if utils.DereferencePtr(cfg.NullEqualsEmpty) {
			s, t := "", ""
			if source != nil {
				s = *source
			}
			if target != nil {
				t = *target
			}
			return s == "" && t == ""
		}
		return false
	}

	s, t := *source, *target
	switch m.ComparisonType {
	case models.ComparisonTypeCaseInsensitive:
		return strings.EqualFold(s, t)
	case models.ComparisonTypeNumericTolerance:
		return numericallyEqual(m, s, t)
	case models.ComparisonTypeDateTolerance:
		return datesWithinTolerance(m, s, t)
	case models.ComparisonTypeContains:
		return strings.Contains(s, t) || strings.Contains(t, s)
	case models.ComparisonTypeRegexMatch:
		if m.FormatPattern == "" {
			return s == t
		}
		re, err := regexp.Compile(m.FormatPattern)
		if err != nil {
			return s == t
		}
		return re.MatchString(s) && re.MatchString(t)
	default:
		if utils.DereferencePtr(cfg.IgnoreCase) {
			return strings.EqualFold(s, t)
		}
		return s == t
	}
}

// numericallyEqual checks |s-t| <= epsilon on exact decimals, never on
// floats. Percent mode derives epsilon from the source magnitude.
func numericallyEqual(m *models.AttributeMapping, s, t string) bool {
	sourceNum, err := utils.ParseDecimal(s)
	if err != nil {
		return s == t
	}
	targetNum, err := utils.ParseDecimal(t)
	if err != nil {
		return s == t
	}
	epsilon := m.ToleranceValue
	if utils.DereferencePtr(m.TolerancePercent) {
		epsilon = sourceNum.Abs().Mul(m.ToleranceValue).Div(decimal.NewFromInt(100))
	}
	return sourceNum.Sub(targetNum).Abs().LessThanOrEqual(epsilon)
}

func datesWithinTolerance(m *models.AttributeMapping, s, t string) bool {
	layout := m.DateFormat
	if layout == "" {
		return s == t
	}
	sourceDate, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return s == t
	}
	targetDate, err := time.Parse(layout, strings.TrimSpace(t))
	if err != nil {
		return s == t
	}
	diff := sourceDate.Sub(targetDate)
	if diff < 0 {
		diff = -diff
	}
	toleranceDays := m.ToleranceValue.IntPart()
	return diff <= time.Duration(toleranceDays)*24*time.Hour
}

// missingRecordSeverity is the severity put on one-sided records: the
// highest severity declared across the key mappings.
func missingRecordSeverity(keyMappings []models.AttributeMapping) models.Severity {
	severity := models.SeverityHigh
	for _, m := range keyMappings {
		severity = models.HigherSeverity(severity, m.Severity)
	}
	return severity
}
