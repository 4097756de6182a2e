package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"agnusai-reviewer/internal/errs"
)

func TestSimpleTextQueryReturnsContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "looks good"}, "finish_reason": "stop"},
			},
		})
	}))
	defer ts.Close()

	client := New(ts.URL, "test-key", "gpt-4o")
	text, err := client.SimpleTextQuery(context.Background(), "you are a reviewer", "review this diff")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "looks good" {
		t.Fatalf("expected %q, got %q", "looks good", text)
	}
}

func TestSimpleTextQueryWrapsRateLimitError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "rate limited"}})
	}))
	defer ts.Close()

	client := New(ts.URL, "test-key", "gpt-4o")
	_, err := client.SimpleTextQuery(context.Background(), "", "hello")
	if err == nil {
		t.Fatal("expected an error")
	}
	var structured *errs.Error
	if !errors.As(err, &structured) {
		t.Fatalf("expected *errs.Error, got %T: %v", err, err)
	}
	if structured.Kind != errs.KindRateLimited {
		t.Fatalf("expected KindRateLimited, got %s", structured.Kind)
	}
}

func TestSimpleTextQueryWrapsServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "boom"}})
	}))
	defer ts.Close()

	client := New(ts.URL, "test-key", "gpt-4o")
	_, err := client.SimpleTextQuery(context.Background(), "", "hello")
	var structured *errs.Error
	if !errors.As(err, &structured) {
		t.Fatalf("expected *errs.Error, got %T: %v", err, err)
	}
	if structured.Kind != errs.KindNetwork {
		t.Fatalf("expected KindNetwork, got %s", structured.Kind)
	}
}

func TestSimpleTextQueryNoChoicesIsMalformedOutput(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "gpt-4o",
			"choices": []map[string]any{},
		})
	}))
	defer ts.Close()

	client := New(ts.URL, "test-key", "gpt-4o")
	_, err := client.SimpleTextQuery(context.Background(), "", "hello")
	var structured *errs.Error
	if !errors.As(err, &structured) {
		t.Fatalf("expected *errs.Error, got %T: %v", err, err)
	}
	if structured.Kind != errs.KindMalformedModelOutput {
		t.Fatalf("expected KindMalformedModelOutput, got %s", structured.Kind)
	}
}
