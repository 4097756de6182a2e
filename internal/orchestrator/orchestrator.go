// Package orchestrator wires the review pipeline end to end: fetch the
// pull request and its diff, build the model prompt, call the LLM, parse
// its response, run the precision/dedup filter, post the survivors, and
// maintain the checkpoint. A KeyLock keyed on (platform, prId) makes one
// review task the natural unit of parallelism: concurrent webhook
// deliveries for the same pull request serialize, while distinct pull
// requests review concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agnusai-reviewer/internal/checkpoint"
	"agnusai-reviewer/internal/commentmgr"
	"agnusai-reviewer/internal/domain"
	"agnusai-reviewer/internal/errs"
	"agnusai-reviewer/internal/filter"
	"agnusai-reviewer/internal/incremental"
	"agnusai-reviewer/internal/llm"
	"agnusai-reviewer/internal/metrics"
	"agnusai-reviewer/internal/modelio"
	"agnusai-reviewer/internal/prompt"
	"agnusai-reviewer/internal/storage"
	synclock "agnusai-reviewer/internal/sync"
	"agnusai-reviewer/internal/vcs"
)

// Options configures a Runtime. New applies defaults to PrecisionThreshold,
// MaxComments, MaxCommentsPerFile, StaleCheckpointDays and
// RateLimitPerMinute when they are not positive; the other fields are used
// as given.
type Options struct {
	PrecisionThreshold     float64
	MaxComments            int
	MaxCommentsPerFile     int
	SkipDrafts             bool
	LenientOnTests         bool
	SkipPatterns           []string
	UpdateExistingComments bool
	MaxDiffChars           int
	StaleCheckpointDays    int
	RateLimitPerMinute     int
	CommentPosting         commentmgr.Config
}

// adapterResolver is the slice of vcs.Registry the orchestrator depends
// on, narrowed to an interface so tests can substitute a fake registry
// without standing up a real MCP connection.
type adapterResolver interface {
	Adapter(platform string) (vcs.Adapter, bool)
}

// Runtime is the explicitly constructed review pipeline: no package-level
// singleton holds its state (spec §9), so tests and multiple webhook
// listeners can each own an independent Runtime.
type Runtime struct {
	vcs     adapterResolver
	llm     llm.Client
	storage storage.Repository
	locks   *synclock.KeyLock
	limiter *filter.RateLimiter
	opts    Options

	idempotency *commentmgr.IdempotencyStore
}

// New builds a Runtime. store may be nil: the audit log is best-effort and
// its absence never blocks a review.
func New(registry adapterResolver, client llm.Client, store storage.Repository, opts Options) *Runtime {
	if opts.PrecisionThreshold <= 0 {
		opts.PrecisionThreshold = 0.7
	}
	if opts.MaxComments <= 0 {
		opts.MaxComments = 25
	}
	if opts.MaxCommentsPerFile <= 0 {
		opts.MaxCommentsPerFile = 5
	}
	if opts.StaleCheckpointDays <= 0 {
		opts.StaleCheckpointDays = 30
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 30
	}
	return &Runtime{
		vcs:     registry,
		llm:     client,
		storage: store,
		locks:   synclock.NewKeyLock(),
		limiter: filter.NewRateLimiter(opts.RateLimitPerMinute, time.Minute),
		opts:    opts,

		idempotency: commentmgr.NewIdempotencyStore(commentmgr.DefaultIdempotencyTTL),
	}
}

// ReviewOptions parameterizes a single review request.
type ReviewOptions struct {
	ForceFull      bool
	SkipCheckpoint bool
}

// Outcome reports what a review run actually did, for logging and the
// audit trail.
type Outcome struct {
	DiffOutcome  incremental.Outcome
	Summary      commentmgr.Summary
	SummaryText  string
	CommentsKept int
}

// Review runs a full, non-incremental review of prID ("owner/repo#number").
func (rt *Runtime) Review(ctx context.Context, platform, prID string) (Outcome, error) {
	return rt.run(ctx, platform, prID, ReviewOptions{ForceFull: true, SkipCheckpoint: true})
}

// IncrementalReview runs the checkpoint-aware review path: if a usable
// checkpoint exists and the head commit is a descendant of it, only the
// commits since the checkpoint are reviewed.
func (rt *Runtime) IncrementalReview(ctx context.Context, platform, prID string, opts ReviewOptions) (Outcome, error) {
	return rt.run(ctx, platform, prID, opts)
}

func (rt *Runtime) run(ctx context.Context, platform, prID string, opts ReviewOptions) (Outcome, error) {
	adapter, ok := rt.vcs.Adapter(platform)
	if !ok {
		return Outcome{}, errs.New(errs.KindFatal, "orchestrator.run", fmt.Errorf("no adapter registered for platform %q", platform))
	}

	lockKey := platform + ":" + prID
	rt.locks.Lock(lockKey)
	defer rt.locks.Unlock(lockKey)

	start := time.Now()
	pr, err := adapter.GetPullRequest(ctx, prID)
	if err != nil {
		metrics.PullRequestTotal.WithLabelValues("failed").Inc()
		return Outcome{}, errs.New(errs.KindNetwork, "orchestrator.run.fetch_pr", err)
	}
	metrics.PullRequestTotal.WithLabelValues("started").Inc()

	var existing []domain.DetailedReviewComment
	dedupAdapter, supportsDedup := vcs.HasDedupSupport(adapter)
	if supportsDedup {
		existing, err = dedupAdapter.ListReviewComments(ctx, prID)
		if err != nil {
			slog.Warn("list review comments failed, proceeding without history", "pr", prID, "error", err)
		}
	}

	diffResult, diffErr := rt.resolveDiff(ctx, adapter, prID, pr, opts)
	if diffErr != nil {
		metrics.PullRequestTotal.WithLabelValues("failed").Inc()
		return Outcome{}, diffErr
	}
	if diffResult.Outcome == incremental.OutcomeNoChange {
		slog.Info("pull request unchanged since checkpoint, skipping review", "pr", prID)
		metrics.PullRequestTotal.WithLabelValues("success").Inc()
		return Outcome{
			DiffOutcome: diffResult.Outcome,
			SummaryText: "No new changes since last review checkpoint.",
		}, nil
	}

	diff := diffResult.Diff

	promptText, truncated := prompt.Build(prompt.Input{PR: pr, Diff: diff}, prompt.Config{MaxDiffChars: rt.opts.MaxDiffChars})
	if truncated {
		slog.Warn("diff truncated to fit prompt budget", "pr", prID)
	}

	rawResponse, err := rt.llm.SimpleTextQuery(ctx, reviewerSystemPrompt, promptText)
	if err != nil {
		metrics.PullRequestTotal.WithLabelValues("failed").Inc()
		return Outcome{}, err
	}

	parsed := modelio.Parse(rawResponse)
	for _, w := range parsed.Warnings {
		slog.Warn("model output warning", "pr", prID, "warning", w)
	}

	resolvedComments := resolveCommentPaths(parsed.Result.Comments, diff, prID)

	dedupOut := filter.Dedupe(filter.Input{
		New:                filter.PrecisionFilter(resolvedComments, rt.opts.PrecisionThreshold),
		Existing:           existing,
		Diff:               diff,
		PR:                 pr,
		RateLimitRemaining: -1,
		Limiter:            rt.limiter,
		Config: filter.Config{
			MaxComments:        rt.opts.MaxComments,
			MaxCommentsPerFile: rt.opts.MaxCommentsPerFile,
			SkipDrafts:         rt.opts.SkipDrafts,
			LenientOnTests:     rt.opts.LenientOnTests,
			SkipPatterns:       rt.opts.SkipPatterns,
		},
	})
	for _, f := range dedupOut.Filtered {
		metrics.CommentsFiltered.WithLabelValues(string(f.Reason)).Inc()
	}
	if dedupOut.Aborted {
		slog.Info("review aborted by whole-PR guard", "pr", prID, "reason", dedupOut.AbortReason)
		metrics.PullRequestTotal.WithLabelValues("success").Inc()
		return Outcome{DiffOutcome: diffResult.Outcome}, nil
	}

	summaryText := parsed.Result.Summary
	if diffResult.Outcome == incremental.OutcomeIncremental {
		summaryText = fmt.Sprintf("[Incremental Review: %d new files] %s", len(diff.Files), summaryText)
	}

	result := domain.ReviewResult{
		Summary:  summaryText,
		Comments: dedupOut.Kept,
		Verdict:  parsed.Result.Verdict,
	}

	manager := commentmgr.NewManager(adapter, rt.idempotency, rt.opts.CommentPosting)

	summary, err := manager.PostReview(ctx, prID, pr, diff, result, existing)
	if err != nil {
		metrics.PullRequestTotal.WithLabelValues("failed").Inc()
		rt.audit(pr, result, diffResult.Outcome, start, "error")
		return Outcome{DiffOutcome: diffResult.Outcome, Summary: summary, SummaryText: summaryText}, err
	}

	metrics.PullRequestTotal.WithLabelValues("success").Inc()
	metrics.ProcessingDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	rt.audit(pr, result, diffResult.Outcome, start, "success")

	return Outcome{DiffOutcome: diffResult.Outcome, Summary: summary, SummaryText: summaryText, CommentsKept: len(dedupOut.Kept)}, nil
}

// resolveCommentPaths implements the canonical-diff-path resolution step:
// strip a single leading slash and drop, with a warning, any comment whose
// resolved path has no case-sensitive match in the diff.
func resolveCommentPaths(comments []domain.ReviewComment, diff domain.Diff, prID string) []domain.ReviewComment {
	kept := make([]domain.ReviewComment, 0, len(comments))
	for _, c := range comments {
		resolved := strings.TrimPrefix(c.Path, "/")
		if diff.FileByPath(resolved) == nil {
			slog.Warn("dropping comment for path not in diff", "pr", prID, "path", c.Path)
			continue
		}
		c.Path = resolved
		kept = append(kept, c)
	}
	return kept
}

func (rt *Runtime) resolveDiff(ctx context.Context, adapter vcs.Adapter, prID string, pr domain.PullRequest, opts ReviewOptions) (incremental.Result, error) {
	if opts.ForceFull || opts.SkipCheckpoint {
		diff, err := adapter.GetDiff(ctx, prID)
		if err != nil {
			return incremental.Result{}, errs.New(errs.KindNetwork, "orchestrator.resolveDiff", err)
		}
		return incremental.Result{Outcome: incremental.OutcomeFullMissingBase, Diff: diff}, nil
	}

	checkpointAdapter, ok := vcs.HasCheckpointSupport(adapter)
	if !ok {
		diff, err := adapter.GetDiff(ctx, prID)
		if err != nil {
			return incremental.Result{}, errs.New(errs.KindNetwork, "orchestrator.resolveDiff", err)
		}
		metrics.CheckpointOutcomes.WithLabelValues("missing").Inc()
		return incremental.Result{Outcome: incremental.OutcomeFullMissingBase, Diff: diff}, nil
	}

	_, cp, found, err := checkpointAdapter.FindCheckpoint(ctx, prID)
	if err != nil || !found {
		metrics.CheckpointOutcomes.WithLabelValues("missing").Inc()
		diff, diffErr := adapter.GetDiff(ctx, prID)
		if diffErr != nil {
			return incremental.Result{}, errs.New(errs.KindNetwork, "orchestrator.resolveDiff", diffErr)
		}
		return incremental.Result{Outcome: incremental.OutcomeFullMissingBase, Diff: diff}, nil
	}
	if checkpoint.IsStale(cp, rt.opts.StaleCheckpointDays) {
		metrics.CheckpointOutcomes.WithLabelValues("stale").Inc()
		diff, diffErr := adapter.GetDiff(ctx, prID)
		if diffErr != nil {
			return incremental.Result{}, errs.New(errs.KindNetwork, "orchestrator.resolveDiff", diffErr)
		}
		return incremental.Result{Outcome: incremental.OutcomeFullMissingBase, Diff: diff}, nil
	}
	metrics.CheckpointOutcomes.WithLabelValues("found").Inc()

	return incremental.GetIncrementalDiff(ctx, adapter, prID, pr, cp.Sha)
}

func (rt *Runtime) audit(pr domain.PullRequest, result domain.ReviewResult, outcome incremental.Outcome, start time.Time, status string) {
	if rt.storage == nil {
		return
	}
	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		record := &storage.ReviewRecord{
			ID:          fmt.Sprintf("%s-%d-%d", pr.Repo, pr.Number, time.Now().UnixNano()),
			PullRequest: &pr,
			Result:      &result,
			Outcome:     string(outcome),
			CreatedAt:   time.Now(),
			DurationMs:  time.Since(start).Milliseconds(),
			Status:      status,
		}
		if err := rt.storage.SaveReview(saveCtx, record); err != nil {
			slog.Warn("audit save failed", "error", err)
		}
	}()
}

const reviewerSystemPrompt = "You are an expert code reviewer. Review the diff for bugs, security issues, and maintainability concerns. Be precise; only flag what you are confident about."
