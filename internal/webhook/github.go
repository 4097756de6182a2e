package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"agnusai-reviewer/internal/config"
	"agnusai-reviewer/internal/metrics"
	"agnusai-reviewer/internal/orchestrator"
)

// GitHubHandler handles incoming GitHub pull_request webhooks.
type GitHubHandler struct {
	trigger ReviewTrigger
	config  *config.Config
	sem     chan struct{}
	wg      sync.WaitGroup
}

// NewGitHubHandler builds a GitHubHandler bounded by cfg's concurrency
// limit.
func NewGitHubHandler(cfg *config.Config, trigger ReviewTrigger) *GitHubHandler {
	return &GitHubHandler{
		trigger: trigger,
		config:  cfg,
		sem:     make(chan struct{}, cfg.Server.ConcurrencyLimit),
	}
}

// WaitForCompletion blocks until every in-flight review this handler
// queued has finished.
func (h *GitHubHandler) WaitForCompletion() {
	h.wg.Wait()
}

// GitHubPullRequestEvent is the subset of a GitHub pull_request webhook
// this handler needs.
type GitHubPullRequestEvent struct {
	Action     string `json:"action"`
	Number     int    `json:"number"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (h *GitHubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.WebhookRequests.WithLabelValues("received").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Header.Get("X-GitHub-Event") != "pull_request" {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Event ignored")
		metrics.WebhookRequests.WithLabelValues("ignored").Inc()
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

	if h.config.Server.GitHubSecret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" || !verifyHMACSHA256(body, signature, h.config.Server.GitHubSecret) {
			slog.Warn("invalid or missing github signature")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			metrics.WebhookRequests.WithLabelValues("invalid_signature").Inc()
			return
		}
	}

	var event GitHubPullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Warn("parse github payload failed", "error", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("invalid_json").Inc()
		return
	}

	if event.Action != "opened" && event.Action != "synchronize" && event.Action != "reopened" {
		slog.Debug("ignoring github action", "action", event.Action)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Action %s ignored", event.Action)
		metrics.WebhookRequests.WithLabelValues("ignored").Inc()
		return
	}

	repoFullName := event.Repository.FullName
	number := event.Number

	queued := h.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		prID := fmt.Sprintf("%s#%d", repoFullName, number)
		opts := orchestrator.ReviewOptions{SkipCheckpoint: event.Action == "reopened"}
		if _, err := h.trigger.IncrementalReview(ctx, "github", prID, opts); err != nil {
			slog.Error("review failed", "pr", prID, "error", err)
		}
	})
	if !queued {
		slog.Warn("concurrency limit, github webhook dropped", "pr_number", number, "repo", repoFullName)
		metrics.WebhookRequests.WithLabelValues("dropped_concurrency").Inc()
		http.Error(w, "Server busy, please retry later", http.StatusTooManyRequests)
		return
	}

	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Pull request queued for review")
}

func (h *GitHubHandler) enqueue(task func()) bool {
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
				slog.Error("panic recovered in webhook handler", "panic", r)
			}
		}()
		task()
	}()
	return true
}
