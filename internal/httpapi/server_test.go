package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/insights/internal/compress"
	"horse.fit/insights/internal/insight"
	"horse.fit/insights/internal/metrics"
	"horse.fit/insights/internal/worker"
)

func newTestServer(t *testing.T) (*Server, *insight.MemoryStore) {
	t.Helper()
	store := insight.NewMemoryStore()
	registry := metrics.NewRegistry()
	pipeline := compress.NewPipeline(nil, registry, zerolog.Nop(), compress.Options{})
	service := insight.NewService(store, pipeline, registry, zerolog.Nop(), insight.ServiceOptions{})
	batch := worker.NewPool(service, zerolog.Nop(), 2)
	return NewServer(service, batch, nil, registry, zerolog.Nop(), Options{}), store
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.buildEcho().ServeHTTP(rec, req)
	return rec
}

const validPayload = `{
	"payload_version":"v1",
	"origin_document_id":"doc-1",
	"driver_code":"opec_supply",
	"target_code":"WTI",
	"raw_text":"Oil prices rose 12% this quarter amid supply constraints.",
	"publisher":"Example Wire",
	"published_at":"2026-08-14",
	"source_type":"news"
}`

func TestHandleIngest_CreatedThenNoop(t *testing.T) {
	t.Parallel()

	server, store := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/insights", validPayload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first ingest status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var envelope struct {
		Status string          `json:"status"`
		Data   insight.Outcome `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Status != "success" {
		t.Fatalf("envelope status = %q, want success", envelope.Status)
	}
	if envelope.Data.Status != insight.StatusCreated {
		t.Fatalf("outcome status = %s, want %s", envelope.Data.Status, insight.StatusCreated)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/v1/insights", validPayload)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat ingest status = %d, want %d", rec.Code, http.StatusOK)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode repeat response: %v", err)
	}
	if envelope.Data.Status != insight.StatusEvidenceNoop {
		t.Fatalf("repeat outcome = %s, want %s", envelope.Data.Status, insight.StatusEvidenceNoop)
	}
	if store.Count() != 1 {
		t.Fatalf("store count = %d, want 1", store.Count())
	}
}

func TestHandleIngest_InvalidPayload(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/insights", `{"payload_version":"v1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var envelope struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Status != "fail" {
		t.Fatalf("envelope status = %q, want fail", envelope.Status)
	}
}

func TestHandleIngestBatch(t *testing.T) {
	t.Parallel()

	server, store := newTestServer(t)

	body := `[
		{"payload_version":"v1","origin_document_id":"doc-1","driver_code":"opec_supply","target_code":"WTI","raw_text":"Oil prices rose 12% this quarter."},
		{"payload_version":"v1","origin_document_id":"doc-2","driver_code":"china_demand","target_code":"COPPER","raw_text":"Copper slipped 3% on weaker import data."}
	]`

	rec := doRequest(t, server, http.MethodPost, "/api/v1/insights/batch", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var envelope struct {
		Data batchResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Summary[insight.StatusCreated] != 2 {
		t.Fatalf("created summary = %d, want 2", envelope.Data.Summary[insight.StatusCreated])
	}
	if len(envelope.Data.Items) != 2 {
		t.Fatalf("item count = %d, want 2", len(envelope.Data.Items))
	}
	if store.Count() != 2 {
		t.Fatalf("store count = %d, want 2", store.Count())
	}
}

func TestHandleIngestBatch_RejectsNonArray(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/insights/batch", validPayload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleHealthAndMetrics(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
}
