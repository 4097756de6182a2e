package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agnusai-reviewer/internal/config"
	"agnusai-reviewer/internal/orchestrator"
)

// fakeTrigger implements ReviewTrigger for testing.
type fakeTrigger struct {
	calls []string
	err   error
}

func (f *fakeTrigger) IncrementalReview(ctx context.Context, platform, prID string, opts orchestrator.ReviewOptions) (orchestrator.Outcome, error) {
	f.calls = append(f.calls, platform+":"+prID)
	return orchestrator.Outcome{}, f.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.MaxBodySize = 2 * 1024 * 1024
	cfg.Server.ConcurrencyLimit = 10
	return cfg
}

func TestBitbucketHandler_MethodNotAllowed(t *testing.T) {
	handler := NewBitbucketHandler(testConfig(), &fakeTrigger{})

	req := httptest.NewRequest(http.MethodGet, "/webhook/bitbucket", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestBitbucketHandler_InvalidJSON(t *testing.T) {
	handler := NewBitbucketHandler(testConfig(), &fakeTrigger{})

	req := httptest.NewRequest(http.MethodPost, "/webhook/bitbucket", bytes.NewBufferString("not valid json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestBitbucketHandler_IgnoredEvent(t *testing.T) {
	handler := NewBitbucketHandler(testConfig(), &fakeTrigger{})

	payload := BitbucketPayload{EventKey: "repo:push"}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhook/bitbucket", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("ignored")) {
		t.Errorf("expected response to contain 'ignored', got %s", w.Body.String())
	}
}

func TestBitbucketHandler_PROpenedEvent(t *testing.T) {
	trigger := &fakeTrigger{}
	handler := NewBitbucketHandler(testConfig(), trigger)

	var payload BitbucketPayload
	payload.EventKey = "pr:opened"
	payload.Repository.Slug = "widgets"
	payload.Repository.Project.Key = "ACME"
	payload.PullRequest.ID = 123

	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhook/bitbucket", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("queued")) {
		t.Errorf("expected response to contain 'queued', got %s", w.Body.String())
	}

	handler.WaitForCompletion()
	if len(trigger.calls) != 1 || trigger.calls[0] != "bitbucket:ACME/widgets#123" {
		t.Errorf("expected one call for bitbucket:ACME/widgets#123, got %v", trigger.calls)
	}
}

func TestBitbucketHandler_BodySizeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodySize = 10

	handler := NewBitbucketHandler(cfg, &fakeTrigger{})

	largePayload := bytes.Repeat([]byte("a"), 100)
	req := httptest.NewRequest(http.MethodPost, "/webhook/bitbucket", bytes.NewBuffer(largePayload))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestBitbucketHandler_InvalidSignature(t *testing.T) {
	cfg := testConfig()
	cfg.Server.WebhookSecret = "my-secret-key"

	handler := NewBitbucketHandler(cfg, &fakeTrigger{})

	payload := BitbucketPayload{EventKey: "pr:opened"}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhook/bitbucket", bytes.NewBuffer(body))
	req.Header.Set("X-Hub-Signature", "sha256=bogus")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestBitbucketHandler_ValidSignature(t *testing.T) {
	cfg := testConfig()
	cfg.Server.WebhookSecret = "my-secret-key"

	trigger := &fakeTrigger{}
	handler := NewBitbucketHandler(cfg, trigger)

	var payload BitbucketPayload
	payload.EventKey = "pr:opened"
	payload.Repository.Slug = "widgets"
	payload.Repository.Project.Key = "ACME"
	payload.PullRequest.ID = 42
	body, _ := json.Marshal(payload)

	mac := hmac.New(sha256.New, []byte(cfg.Server.WebhookSecret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/bitbucket", bytes.NewBuffer(body))
	req.Header.Set("X-Hub-Signature", sig)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	handler.WaitForCompletion()
	if len(trigger.calls) != 1 {
		t.Errorf("expected 1 trigger call, got %d", len(trigger.calls))
	}
}

func TestBitbucketHandler_ConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ConcurrencyLimit = 1

	blocking := &blockingTrigger{started: make(chan struct{}), release: make(chan struct{})}
	handler := NewBitbucketHandler(cfg, blocking)

	var payload BitbucketPayload
	payload.EventKey = "pr:opened"
	payload.Repository.Slug = "widgets"
	payload.Repository.Project.Key = "ACME"
	payload.PullRequest.ID = 1
	body, _ := json.Marshal(payload)

	req1 := httptest.NewRequest(http.MethodPost, "/webhook/bitbucket", bytes.NewBuffer(body))
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected first request accepted, got %d", w1.Code)
	}

	<-blocking.started

	req2 := httptest.NewRequest(http.MethodPost, "/webhook/bitbucket", bytes.NewBuffer(body))
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("expected second request throttled, got %d", w2.Code)
	}

	close(blocking.release)
	handler.WaitForCompletion()
}

type blockingTrigger struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTrigger) IncrementalReview(ctx context.Context, platform, prID string, opts orchestrator.ReviewOptions) (orchestrator.Outcome, error) {
	close(b.started)
	<-b.release
	return orchestrator.Outcome{}, nil
}

func TestVerifyHMACSHA256_Valid(t *testing.T) {
	body := []byte(`{"test": "data"}`)
	secret := "my-secret-key"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedSig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !verifyHMACSHA256(body, expectedSig, secret) {
		t.Error("expected signature to be valid")
	}
}

func TestVerifyHMACSHA256_Invalid(t *testing.T) {
	body := []byte(`{"test": "data"}`)
	secret := "my-secret-key"

	if verifyHMACSHA256(body, "sha256=invalid", secret) {
		t.Error("expected signature to be invalid")
	}
}

func TestVerifyHMACSHA256_MissingPrefix(t *testing.T) {
	body := []byte(`{"test": "data"}`)
	secret := "my-secret-key"

	if verifyHMACSHA256(body, "invalid-no-prefix", secret) {
		t.Error("expected signature without prefix to be invalid")
	}
}

func TestVerifyHMACSHA256_WrongAlgorithm(t *testing.T) {
	body := []byte(`{"test": "data"}`)
	secret := "my-secret-key"

	if verifyHMACSHA256(body, "sha1=somesignature", secret) {
		t.Error("expected wrong algorithm to be rejected")
	}
}
