package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed insight_payload.schema.json
var insightPayloadSchemaJSON string

// InsightPayload is the wire form of one extracted insight. The raw
// published_at string is deliberately free-form; date normalization
// happens downstream and tolerates garbage.
type InsightPayload struct {
	PayloadVersion   string  `json:"payload_version"`
	OriginDocumentID string  `json:"origin_document_id"`
	DriverCode       string  `json:"driver_code"`
	TargetCode       string  `json:"target_code"`
	RawText          string  `json:"raw_text"`
	HintSentence     *string `json:"hint_sentence,omitempty"`
	Language         *string `json:"language,omitempty"`
	Publisher        *string `json:"publisher,omitempty"`
	PublishedAt      *string `json:"published_at,omitempty"`
	Title            *string `json:"title,omitempty"`
	URL              *string `json:"url,omitempty"`
	SourceType       *string `json:"source_type,omitempty"`
	ValidFrom        *string `json:"valid_from,omitempty"`
	ValidTo          *string `json:"valid_to,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateInsightPayload(payload json.RawMessage) (*InsightPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item InsightPayload
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("insight_payload.schema.json", strings.NewReader(insightPayloadSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("insight_payload.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *InsightPayload) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(item.OriginDocumentID) == "" {
		return fmt.Errorf("origin_document_id must not be empty")
	}
	if strings.TrimSpace(item.DriverCode) == "" {
		return fmt.Errorf("driver_code must not be empty")
	}
	if strings.TrimSpace(item.TargetCode) == "" {
		return fmt.Errorf("target_code must not be empty")
	}
	if strings.TrimSpace(item.RawText) == "" {
		return fmt.Errorf("raw_text must not be empty")
	}

	if item.URL != nil {
		if err := validateURI("url", *item.URL); err != nil {
			return err
		}
	}

	validFrom, err := parseValidityBound("valid_from", item.ValidFrom)
	if err != nil {
		return err
	}
	validTo, err := parseValidityBound("valid_to", item.ValidTo)
	if err != nil {
		return err
	}
	if validFrom != nil && validTo != nil && validTo.Before(*validFrom) {
		return fmt.Errorf("valid_to must not precede valid_from")
	}

	return nil
}

func parseValidityBound(fieldName string, value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339: %w", fieldName, err)
	}
	return &parsed, nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	return nil
}
