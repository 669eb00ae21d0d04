package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/insights/internal/insight"
	"horse.fit/insights/internal/worker"
	payloadschema "horse.fit/insights/schema"
)

// maxBatchSize bounds one batch call; larger loads belong in multiple
// requests so a single slow batch cannot hold the write timeout.
const maxBatchSize = 500

func (s *Server) handleIngest(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "failed to read request body", nil)
	}

	payload, err := payloadschema.ValidateInsightPayload(body)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	outcome, err := s.service.Ingest(c.Request().Context(), PayloadToRequest(payload))
	if err != nil {
		s.logger.Error().Err(err).
			Str("origin_document_id", payload.OriginDocumentID).
			Msg("ingest failed")
		return internalError(c, "Ingest failed")
	}

	if outcome.Status == insight.StatusCreated {
		return successWithStatus(c, http.StatusCreated, outcome)
	}
	return success(c, outcome)
}

type batchResponseItem struct {
	OriginDocumentID string          `json:"origin_document_id"`
	Outcome          insight.Outcome `json:"outcome"`
	Error            string          `json:"error,omitempty"`
}

type batchResponse struct {
	Summary map[insight.Status]int `json:"summary"`
	Items   []batchResponseItem    `json:"items"`
}

func (s *Server) handleIngestBatch(c echo.Context) error {
	if s.batch == nil {
		return fail(c, http.StatusNotImplemented, "batch ingest is not configured", nil)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "failed to read request body", nil)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return fail(c, http.StatusBadRequest, "request body must be a JSON array of payloads", nil)
	}
	if len(raw) == 0 {
		return failValidation(c, map[string]string{"payloads": "batch must not be empty"})
	}
	if len(raw) > maxBatchSize {
		return failValidation(c, map[string]string{"payloads": "batch exceeds maximum size"})
	}

	requests := make([]insight.Request, 0, len(raw))
	for i, item := range raw {
		payload, err := payloadschema.ValidateInsightPayload(item)
		if err != nil {
			return failValidation(c, map[string]string{
				"payloads[" + strconv.Itoa(i) + "]": err.Error(),
			})
		}
		requests = append(requests, PayloadToRequest(payload))
	}

	results := s.batch.Run(c.Request().Context(), requests)

	resp := batchResponse{
		Summary: worker.Summarize(results),
		Items:   make([]batchResponseItem, 0, len(results)),
	}
	for _, item := range results {
		out := batchResponseItem{
			OriginDocumentID: item.Request.OriginDocumentID,
			Outcome:          item.Outcome,
		}
		if item.Err != nil {
			out.Error = item.Err.Error()
		}
		resp.Items = append(resp.Items, out)
	}
	return success(c, resp)
}

// PayloadToRequest maps a validated wire payload onto an ingest
// request. The CLI ingest path shares it.
func PayloadToRequest(payload *payloadschema.InsightPayload) insight.Request {
	req := insight.Request{
		OriginDocumentID: strings.TrimSpace(payload.OriginDocumentID),
		DriverCode:       strings.TrimSpace(payload.DriverCode),
		TargetCode:       strings.TrimSpace(payload.TargetCode),
		RawText:          payload.RawText,
		HintSentence:     deref(payload.HintSentence),
		Language:         deref(payload.Language),
		Publisher:        deref(payload.Publisher),
		PublishedAtRaw:   deref(payload.PublishedAt),
		Title:            deref(payload.Title),
		URL:              deref(payload.URL),
		SourceType:       deref(payload.SourceType),
	}
	req.ValidFrom = parseRFC3339(payload.ValidFrom)
	req.ValidTo = parseRFC3339(payload.ValidTo)
	return req
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// parseRFC3339 trusts the schema validator; a value that fails here is
// treated as absent rather than rejected twice.
func parseRFC3339(value *string) *time.Time {
	if value == nil {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*value))
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}
