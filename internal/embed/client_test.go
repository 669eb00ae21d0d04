package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestEmbed_ParsesEmbeddingsShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL + "/embed"})
	vector, err := client.Embed(context.Background(), "oil prices rose")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 3 || vector[1] != 0.2 {
		t.Fatalf("unexpected vector: %v", vector)
	}
}

func TestEmbed_ParsesOpenAIDataShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL + "/v1/embeddings"})
	vector, err := client.Embed(context.Background(), "refiner margins")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 2 || vector[0] != 1 {
		t.Fatalf("unexpected vector: %v", vector)
	}
}

func TestEmbed_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL + "/embed"})
	_, err := client.Embed(context.Background(), "some text")
	if err == nil {
		t.Fatalf("expected error from 503 response")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("client must not retry internally, got %d calls", calls.Load())
	}
}

func TestEmbed_BadRequestIsNotTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL + "/embed"})
	_, err := client.Embed(context.Background(), "some text")
	if err == nil || IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestEmbed_EmptyInputRejected(t *testing.T) {
	t.Parallel()

	client := NewClient(Options{})
	if _, err := client.Embed(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestNormalizeEndpoint_AddsDefaultPath(t *testing.T) {
	t.Parallel()

	if got := normalizeEndpoint("http://embedder:9000"); got != "http://embedder:9000/embed" {
		t.Fatalf("unexpected endpoint: %q", got)
	}
	if got := normalizeEndpoint("http://embedder:9000/v1/embeddings"); got != "http://embedder:9000/v1/embeddings" {
		t.Fatalf("explicit path must be preserved: %q", got)
	}
}
