package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

func restSystem(url, recordsPath string) *models.SourceSystem {
	return &models.SourceSystem{
		Code: "CORE-API",
		Type: models.SystemTypeRestApi,
		Connection: models.ConnectionConfig{
			RestApi: &models.RestApiConnection{
				Url:             url,
				AuthHeaderName:  "X-Api-Key",
				AuthHeaderValue: "secret",
				RecordsPath:     recordsPath,
			},
		},
	}
}

func TestRestExtract_RecordsPathAndValueRendering(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"items":[
			{"txn_id":"T1","amount":100.10,"posted":true,"remark":null},
			{"txn_id":"T2","amount":55,"posted":false,"remark":"ok"}
		]}}`))
	}))
	defer server.Close()

	records, err := (&RestApiExtractor{}).Extract(context.Background(), restSystem(server.URL, "data.items"))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	// numbers keep their literal JSON form
	if got := records[0]["amount"]; got == nil || *got != "100.10" {
		t.Errorf("amount = %v, want literal 100.10", got)
	}
	if got := records[0]["posted"]; got == nil || *got != "true" {
		t.Errorf("posted = %v", got)
	}
	if got := records[0]["remark"]; got != nil {
		t.Errorf("null should stay nil, got %v", *got)
	}
}

func TestRestExtract_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := (&RestApiExtractor{}).Extract(context.Background(), restSystem(server.URL, ""))
	if err == nil {
		t.Fatal("expected error")
	}
	if !models.IsTransient(err) {
		t.Errorf("5xx should be retryable, got %v", err)
	}
}

func TestRestExtract_ClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := (&RestApiExtractor{}).Extract(context.Background(), restSystem(server.URL, ""))
	if err == nil {
		t.Fatal("expected error")
	}
	if models.IsTransient(err) {
		t.Errorf("4xx must not be retried, got transient %v", err)
	}
}

func TestRestExtract_BadRecordsPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"items":[]}}`))
	}))
	defer server.Close()

	_, err := (&RestApiExtractor{}).Extract(context.Background(), restSystem(server.URL, "data.rows"))
	if err == nil {
		t.Fatal("expected error for wrong records path")
	}
	if models.IsTransient(err) {
		t.Errorf("configuration error must not be retried, got transient %v", err)
	}
}
