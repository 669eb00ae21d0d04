package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateInsightPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"origin_document_id":"doc_2026_08_14_0042",
		"driver_code":"opec_supply",
		"target_code":"WTI",
		"raw_text":"Oil prices rose 12% this quarter amid persistent supply constraints.",
		"hint_sentence":"Oil prices rose 12% this quarter.",
		"publisher":"Example Wire",
		"published_at":"August 14, 2026",
		"url":"https://news.example.com/oil-prices",
		"source_type":"news"
	}`)

	item, err := ValidateInsightPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if item.TargetCode != "WTI" {
		t.Fatalf("expected target_code=WTI, got %q", item.TargetCode)
	}
	if item.PayloadVersion != "v1" {
		t.Fatalf("expected payload_version=v1, got %q", item.PayloadVersion)
	}
	if item.PublishedAt == nil || *item.PublishedAt != "August 14, 2026" {
		t.Fatalf("expected free-form published_at to survive, got %v", item.PublishedAt)
	}
}

func TestValidateInsightPayload_MissingRequired(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"origin_document_id":"doc-1",
		"driver_code":"opec_supply",
		"raw_text":"Oil prices rose."
	}`)

	_, err := ValidateInsightPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for missing target_code")
	}
}

func TestValidateInsightPayload_WhitespaceRawText(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"origin_document_id":"doc-1",
		"driver_code":"opec_supply",
		"target_code":"WTI",
		"raw_text":"   "
	}`)

	_, err := ValidateInsightPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only raw_text")
	}
	if !strings.Contains(err.Error(), "raw_text must not be empty") {
		t.Fatalf("expected raw_text semantic error, got: %v", err)
	}
}

func TestValidateInsightPayload_InvalidValidityWindow(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"origin_document_id":"doc-1",
		"driver_code":"opec_supply",
		"target_code":"WTI",
		"raw_text":"Oil prices rose.",
		"valid_from":"2026-08-14T00:00:00Z",
		"valid_to":"2026-08-01T00:00:00Z"
	}`)

	_, err := ValidateInsightPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for inverted validity window")
	}
	if !strings.Contains(err.Error(), "valid_to must not precede valid_from") {
		t.Fatalf("expected validity window error, got: %v", err)
	}
}

func TestValidateInsightPayload_UnknownField(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"origin_document_id":"doc-1",
		"driver_code":"opec_supply",
		"target_code":"WTI",
		"raw_text":"Oil prices rose.",
		"unexpected":"field"
	}`)

	_, err := ValidateInsightPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for unknown field")
	}
}

func TestValidateInsightPayload_TrailingContent(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"origin_document_id":"doc-1",
		"driver_code":"opec_supply",
		"target_code":"WTI",
		"raw_text":"Oil prices rose."
	}{}`)

	_, err := ValidateInsightPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for trailing content")
	}
}
