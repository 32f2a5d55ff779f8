package workflow

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/extract"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func testConfig() *models.ReconciliationConfig {
	return &models.ReconciliationConfig{
		ID:               1,
		Code:             "GL-VS-BANK",
		TrimWhitespace:   boolPtr(true),
		NullEqualsEmpty:  boolPtr(false),
		IgnoreCase:       boolPtr(false),
		MaxDiscrepancies: 0,
	}
}

func keyMapping(attr string) models.AttributeMapping {
	return models.AttributeMapping{
		SourceAttribute: attr,
		TargetAttribute: attr,
		IsKey:           boolPtr(true),
		ComparisonType:  models.ComparisonTypeExactMatch,
		Severity:        models.SeverityHigh,
	}
}

func fieldMapping(attr string, comparison models.ComparisonType, severity models.Severity) models.AttributeMapping {
	return models.AttributeMapping{
		SourceAttribute: attr,
		TargetAttribute: attr,
		IsKey:           boolPtr(false),
		ComparisonType:  comparison,
		Severity:        severity,
	}
}

func record(pairs ...string) extract.Record {
	r := extract.Record{}
	for i := 0; i+1 < len(pairs); i += 2 {
		r[pairs[i]] = strPtr(pairs[i+1])
	}
	return r
}

func TestCompareSnapshots_Classification(t *testing.T) {
	cfg := testConfig()
	mappings := []models.AttributeMapping{
		keyMapping("txn_id"),
		fieldMapping("amount", models.ComparisonTypeExactMatch, models.SeverityCritical),
		fieldMapping("status", models.ComparisonTypeExactMatch, models.SeverityLow),
	}

	source := []extract.Record{
		record("txn_id", "T1", "amount", "100.00", "status", "POSTED"),
		record("txn_id", "T2", "amount", "55.00", "status", "POSTED"),
		record("txn_id", "T3", "amount", "10.00", "status", "POSTED"),
	}
	target := []extract.Record{
		record("txn_id", "T1", "amount", "100.00", "status", "POSTED"),
		record("txn_id", "T2", "amount", "56.00", "status", "PENDING"),
		record("txn_id", "T4", "amount", "1.00", "status", "POSTED"),
	}

	result, err := CompareSnapshots(cfg, mappings, source, target)
	if err != nil {
		t.Fatal(err)
	}
	if result.MatchedCount != 1 {
		t.Errorf("matched = %d, want 1", result.MatchedCount)
	}
	if result.MissingInTarget != 1 || result.MissingInSource != 1 || result.AttributeMismatch != 1 {
		t.Errorf("missingInTarget=%d missingInSource=%d mismatch=%d, want 1/1/1",
			result.MissingInTarget, result.MissingInSource, result.AttributeMismatch)
	}
	if len(result.Discrepancies) != 3 {
		t.Fatalf("discrepancies = %d, want 3", len(result.Discrepancies))
	}

	// ordered by record key ascending: T2 mismatch, T3 missing in target, T4 missing in source
	if result.Discrepancies[0].RecordKey != "T2" || result.Discrepancies[0].Type != models.DiscrepancyTypeAttributeMismatch {
		t.Errorf("first discrepancy = %s %s", result.Discrepancies[0].RecordKey, result.Discrepancies[0].Type)
	}
	if result.Discrepancies[1].RecordKey != "T3" || result.Discrepancies[1].Type != models.DiscrepancyTypeMissingInTarget {
		t.Errorf("second discrepancy = %s %s", result.Discrepancies[1].RecordKey, result.Discrepancies[1].Type)
	}
	if result.Discrepancies[2].RecordKey != "T4" || result.Discrepancies[2].Type != models.DiscrepancyTypeMissingInSource {
		t.Errorf("third discrepancy = %s %s", result.Discrepancies[2].RecordKey, result.Discrepancies[2].Type)
	}

	// the T2 mismatch carries both failed fields and the highest severity
	mismatch := result.Discrepancies[0]
	if len(mismatch.FieldDetails) != 2 {
		t.Fatalf("field details = %d, want 2", len(mismatch.FieldDetails))
	}
	if mismatch.Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", mismatch.Severity)
	}
}

func TestCompareSnapshots_DuplicateKeyAbortsRun(t *testing.T) {
	cfg := testConfig()
	mappings := []models.AttributeMapping{keyMapping("txn_id")}

	source := []extract.Record{
		record("txn_id", "T1"),
		record("txn_id", "T1"),
	}

	_, err := CompareSnapshots(cfg, mappings, source, nil)
	var dup *models.DuplicateRecordKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateRecordKeyError, got %v", err)
	}
	if dup.Side != "source" || dup.Key != "T1" {
		t.Errorf("got side=%s key=%s", dup.Side, dup.Key)
	}
}

func TestCompareSnapshots_CompositeKeyWithNull(t *testing.T) {
	cfg := testConfig()
	mappings := []models.AttributeMapping{
		keyMapping("account"),
		keyMapping("seq"),
	}

	source := []extract.Record{{"account": strPtr("ACC-1"), "seq": nil}}
	target := []extract.Record{{"account": strPtr("ACC-1"), "seq": nil}}

	result, err := CompareSnapshots(cfg, mappings, source, target)
	if err != nil {
		t.Fatal(err)
	}
	if result.MatchedCount != 1 {
		t.Fatalf("matched = %d, want 1 (nil keys render as NULL on both sides)", result.MatchedCount)
	}
}

func TestCompareSnapshots_NumericTolerance(t *testing.T) {
	cfg := testConfig()

	absolute := fieldMapping("amount", models.ComparisonTypeNumericTolerance, models.SeverityMedium)
	absolute.ToleranceValue = decimal.RequireFromString("0.05")
	absolute.TolerancePercent = boolPtr(false)

	percent := fieldMapping("amount", models.ComparisonTypeNumericTolerance, models.SeverityMedium)
	percent.ToleranceValue = decimal.RequireFromString("1") // 1 percent
	percent.TolerancePercent = boolPtr(true)

	cases := []struct {
		name    string
		mapping models.AttributeMapping
		source  string
		target  string
		match   bool
	}{
		{"within absolute", absolute, "100.00", "100.04", true},
		{"at absolute boundary", absolute, "100.00", "100.05", true},
		{"outside absolute", absolute, "100.00", "100.06", false},
		{"within percent", percent, "200.00", "201.50", true},
		{"outside percent", percent, "200.00", "202.50", false},
		{"unparseable falls back to exact", absolute, "N/A", "N/A", true},
		{"unparseable mismatch", absolute, "N/A", "100", false},
	}
	for _, tc := range cases {
		mappings := []models.AttributeMapping{keyMapping("id"), tc.mapping}
		source := []extract.Record{record("id", "1", "amount", tc.source)}
		target := []extract.Record{record("id", "1", "amount", tc.target)}

		result, err := CompareSnapshots(cfg, mappings, source, target)
		if err != nil {
			t.Fatal(err)
		}
		if got := result.MatchedCount == 1; got != tc.match {
			t.Errorf("%s: source=%s target=%s matched=%v, want %v", tc.name, tc.source, tc.target, got, tc.match)
		}

		// commutative: swapping sides must not flip an absolute tolerance verdict
		if !*tc.mapping.TolerancePercent {
			swapped, err := CompareSnapshots(cfg, mappings, target, source)
			if err != nil {
				t.Fatal(err)
			}
			if swapped.MatchedCount != result.MatchedCount {
				t.Errorf("%s: verdict changed after swapping sides", tc.name)
			}
		}
	}
}

func TestCompareSnapshots_DateTolerance(t *testing.T) {
	cfg := testConfig()
	m := fieldMapping("value_date", models.ComparisonTypeDateTolerance, models.SeverityMedium)
	m.DateFormat = "2006-01-02"
	m.ToleranceValue = decimal.NewFromInt(1)
	mappings := []models.AttributeMapping{keyMapping("id"), m}

	cases := []struct {
		source, target string
		match          bool
	}{
		{"2026-08-01", "2026-08-01", true},
		{"2026-08-01", "2026-08-02", true},
		{"2026-08-01", "2026-08-03", false},
	}
	for _, tc := range cases {
		source := []extract.Record{record("id", "1", "value_date", tc.source)}
		target := []extract.Record{record("id", "1", "value_date", tc.target)}
		result, err := CompareSnapshots(cfg, mappings, source, target)
		if err != nil {
			t.Fatal(err)
		}
		if got := result.MatchedCount == 1; got != tc.match {
			t.Errorf("%s vs %s: matched=%v, want %v", tc.source, tc.target, got, tc.match)
		}
	}
}

func TestCompareSnapshots_RegexAndContains(t *testing.T) {
	cfg := testConfig()

	regex := fieldMapping("ref", models.ComparisonTypeRegexMatch, models.SeverityLow)
	regex.FormatPattern = `^REF-\d+$`

	contains := fieldMapping("narrative", models.ComparisonTypeContains, models.SeverityLow)

	mappings := []models.AttributeMapping{keyMapping("id"), regex, contains}
	source := []extract.Record{record("id", "1", "ref", "REF-001", "narrative", "payment for invoice 42")}
	target := []extract.Record{record("id", "1", "ref", "REF-999", "narrative", "invoice 42")}

	result, err := CompareSnapshots(cfg, mappings, source, target)
	if err != nil {
		t.Fatal(err)
	}
	// both refs satisfy the pattern, and one narrative contains the other
	if result.MatchedCount != 1 {
		t.Fatalf("matched = %d, want 1, discrepancies: %+v", result.MatchedCount, result.Discrepancies)
	}
}

func TestCompareSnapshots_NullEqualsEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.NullEqualsEmpty = boolPtr(true)
	mappings := []models.AttributeMapping{
		keyMapping("id"),
		fieldMapping("remark", models.ComparisonTypeExactMatch, models.SeverityLow),
	}

	source := []extract.Record{{"id": strPtr("1"), "remark": nil}}
	target := []extract.Record{{"id": strPtr("1"), "remark": strPtr("")}}

	result, err := CompareSnapshots(cfg, mappings, source, target)
	if err != nil {
		t.Fatal(err)
	}
	if result.MatchedCount != 1 {
		t.Fatalf("matched = %d, want 1", result.MatchedCount)
	}

	cfg.NullEqualsEmpty = boolPtr(false)
	result, err = CompareSnapshots(cfg, mappings, source, target)
	if err != nil {
		t.Fatal(err)
	}
	if result.AttributeMismatch != 1 {
		t.Fatalf("mismatch = %d, want 1 when nulls are strict", result.AttributeMismatch)
	}
}

func TestCompareSnapshots_MaxDiscrepanciesCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDiscrepancies = 2
	mappings := []models.AttributeMapping{keyMapping("id")}

	source := []extract.Record{
		record("id", "1"), record("id", "2"), record("id", "3"), record("id", "4"),
	}

	result, err := CompareSnapshots(cfg, mappings, source, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Discrepancies) != 2 {
		t.Errorf("discrepancies = %d, want cap of 2", len(result.Discrepancies))
	}
	if !result.Truncated {
		t.Error("expected Truncated to be set")
	}
	// totals still count everything past the cap
	if result.MissingInTarget != 4 {
		t.Errorf("missingInTarget = %d, want 4", result.MissingInTarget)
	}
}

func TestCompareSnapshots_DeterministicUnderShuffledInput(t *testing.T) {
	cfg := testConfig()
	mappings := []models.AttributeMapping{
		keyMapping("txn_id"),
		fieldMapping("amount", models.ComparisonTypeExactMatch, models.SeverityHigh),
	}

	var source, target []extract.Record
	for i := 0; i < 200; i++ {
		id := string(rune('A'+i%26)) + "-" + decimal.NewFromInt(int64(i)).String()
		source = append(source, record("txn_id", id, "amount", "10"))
		if i%3 == 0 {
			target = append(target, record("txn_id", id, "amount", "11"))
		} else if i%7 != 0 {
			target = append(target, record("txn_id", id, "amount", "10"))
		}
	}

	baseline, err := CompareSnapshots(cfg, mappings, source, target)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 50; run++ {
		shuffledSource := append([]extract.Record(nil), source...)
		shuffledTarget := append([]extract.Record(nil), target...)
		rng.Shuffle(len(shuffledSource), func(i, j int) {
			shuffledSource[i], shuffledSource[j] = shuffledSource[j], shuffledSource[i]
		})
		rng.Shuffle(len(shuffledTarget), func(i, j int) {
			shuffledTarget[i], shuffledTarget[j] = shuffledTarget[j], shuffledTarget[i]
		})

		result, err := CompareSnapshots(cfg, mappings, shuffledSource, shuffledTarget)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(baseline.Discrepancies, result.Discrepancies) {
			t.Fatalf("run=%d discrepancy list differs under shuffled input", run)
		}
	}
}
