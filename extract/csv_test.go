package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

func writeTempCsv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func csvSystem(path, delimiter string, hasHeader bool) *models.SourceSystem {
	return &models.SourceSystem{
		Code: "BANK-FILE",
		Type: models.SystemTypeFileCsv,
		Connection: models.ConnectionConfig{
			FileCsv: &models.FileCsvConnection{
				Path:      path,
				Delimiter: delimiter,
				HasHeader: &hasHeader,
			},
		},
	}
}

func TestCsvExtract_WithHeader(t *testing.T) {
	path := writeTempCsv(t, "txn_id,amount,status\nT1,100.00,POSTED\nT2,55.50,PENDING\n")

	records, err := (&CsvExtractor{}).Extract(context.Background(), csvSystem(path, ",", true))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if got := records[0]["txn_id"]; got == nil || *got != "T1" {
		t.Errorf("txn_id = %v", got)
	}
	if got := records[1]["amount"]; got == nil || *got != "55.50" {
		t.Errorf("amount = %v", got)
	}
}

func TestCsvExtract_NoHeaderGeneratesColumnNames(t *testing.T) {
	path := writeTempCsv(t, "T1;100.00\nT2;55.50\n")

	records, err := (&CsvExtractor{}).Extract(context.Background(), csvSystem(path, ";", false))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if got := records[0]["col_1"]; got == nil || *got != "T1" {
		t.Errorf("col_1 = %v", got)
	}
	if got := records[0]["col_2"]; got == nil || *got != "100.00" {
		t.Errorf("col_2 = %v", got)
	}
}

func TestCsvExtract_MissingFileIsTransient(t *testing.T) {
	_, err := (&CsvExtractor{}).Extract(context.Background(), csvSystem("/nonexistent/records.csv", ",", true))
	if err == nil {
		t.Fatal("expected error")
	}
	if !models.IsTransient(err) {
		t.Errorf("missing file should be retryable, got %v", err)
	}
}

func TestCsvExtract_RaggedRowFails(t *testing.T) {
	path := writeTempCsv(t, "a,b\n1,2\n3\n")

	_, err := (&CsvExtractor{}).Extract(context.Background(), csvSystem(path, ",", true))
	if err == nil {
		t.Fatal("expected error for ragged row")
	}
	if models.IsTransient(err) {
		t.Errorf("malformed data must not be retried, got transient %v", err)
	}
}

func TestCsvTestConnection(t *testing.T) {
	path := writeTempCsv(t, "a\n1\n")
	e := &CsvExtractor{}

	if err := e.TestConnection(context.Background(), csvSystem(path, ",", true)); err != nil {
		t.Errorf("existing file: %v", err)
	}
	if err := e.TestConnection(context.Background(), csvSystem(filepath.Dir(path), ",", true)); err == nil {
		t.Error("directory path should fail")
	}
}
