package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"agnusai-reviewer/internal/config"
	"agnusai-reviewer/internal/metrics"
	"agnusai-reviewer/internal/orchestrator"
)

// BitbucketHandler handles incoming Bitbucket Server pull request webhooks.
type BitbucketHandler struct {
	trigger ReviewTrigger
	config  *config.Config
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewBitbucketHandler builds a BitbucketHandler bounded by cfg's
// concurrency limit.
func NewBitbucketHandler(cfg *config.Config, trigger ReviewTrigger) *BitbucketHandler {
	return &BitbucketHandler{
		trigger: trigger,
		config:  cfg,
		sem:     make(chan struct{}, cfg.Server.ConcurrencyLimit),
	}
}

// WaitForCompletion blocks until every in-flight review this handler
// queued has finished. Intended for graceful shutdown.
func (h *BitbucketHandler) WaitForCompletion() {
	h.wg.Wait()
}

// BitbucketPayload is the subset of a Bitbucket Server pull request webhook
// this handler needs.
type BitbucketPayload struct {
	EventKey   string `json:"eventKey"`
	Repository struct {
		Slug    string `json:"slug"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
	} `json:"repository"`
	PullRequest struct {
		ID int `json:"id"`
	} `json:"pullRequest"`
}

// ServeHTTP handles incoming Bitbucket webhook requests.
func (h *BitbucketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.WebhookRequests.WithLabelValues("received").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("read body failed", "error", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("error_read").Inc()
		return
	}

	if h.config.Server.WebhookSecret != "" {
		signature := r.Header.Get("X-Hub-Signature")
		if signature == "" || !verifyHMACSHA256(body, signature, h.config.Server.WebhookSecret) {
			slog.Warn("invalid or missing bitbucket signature")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			metrics.WebhookRequests.WithLabelValues("invalid_signature").Inc()
			return
		}
	}

	var payload BitbucketPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("parse bitbucket payload failed", "error", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("invalid_json").Inc()
		return
	}

	if payload.EventKey != "pr:opened" && payload.EventKey != "pr:updated" {
		slog.Debug("ignoring bitbucket event", "event_key", payload.EventKey)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Event %s ignored", payload.EventKey)
		metrics.WebhookRequests.WithLabelValues("ignored").Inc()
		return
	}

	owner := payload.Repository.Project.Key
	repo := payload.Repository.Slug
	number := payload.PullRequest.ID

	queued := h.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		prID := fmt.Sprintf("%s/%s#%d", owner, repo, number)
		if _, err := h.trigger.IncrementalReview(ctx, "bitbucket", prID, orchestrator.ReviewOptions{}); err != nil {
			slog.Error("review failed", "pr", prID, "error", err)
		}
	})
	if !queued {
		slog.Warn("concurrency limit, bitbucket webhook dropped", "pr_id", number, "repo", repo)
		metrics.WebhookRequests.WithLabelValues("dropped_concurrency").Inc()
		http.Error(w, "Server busy, please retry later", http.StatusTooManyRequests)
		return
	}

	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Pull request queued for review")
}

// enqueue acquires a semaphore slot and launches task in its own
// panic-recovering goroutine. It returns false without starting task if
// the pool is already at capacity.
func (h *BitbucketHandler) enqueue(task func()) bool {
	select {
	case h.sem <- struct{}{}:
	default:
		return false
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() { <-h.sem }()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered in webhook handler", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		task()
	}()
	return true
}

// verifyHMACSHA256 validates an "sha256=<hex>" HMAC signature header.
func verifyHMACSHA256(body []byte, signature, secret string) bool {
	parts := strings.SplitN(signature, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(parts[1]))
}
