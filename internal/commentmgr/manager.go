package commentmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"agnusai-reviewer/internal/domain"
	"agnusai-reviewer/internal/metrics"
	"agnusai-reviewer/internal/vcs"
)

// DefaultMaxConcurrentPosts bounds parallel comment posting, the same
// ceiling internal/processor/pr_processor.go used for its errgroup.
const DefaultMaxConcurrentPosts = 5

// DefaultInterCommentDelay staggers comment dispatch to stay polite to
// platform rate limits.
const DefaultInterCommentDelay = 100 * time.Millisecond

// Config tunes the comment manager.
type Config struct {
	MaxConcurrentPosts     int
	InterCommentDelay      time.Duration
	UpdateExistingComments bool
}

// Manager posts a filtered review result to a VCS adapter, handling
// idempotent retries, metadata sentinels, and checkpoint maintenance.
type Manager struct {
	adapter     vcs.Adapter
	idempotency *IdempotencyStore
	cfg         Config
}

// NewManager builds a Manager for adapter, claiming idempotency keys
// against store.
func NewManager(adapter vcs.Adapter, store *IdempotencyStore, cfg Config) *Manager {
	if cfg.MaxConcurrentPosts <= 0 {
		cfg.MaxConcurrentPosts = DefaultMaxConcurrentPosts
	}
	if cfg.InterCommentDelay <= 0 {
		cfg.InterCommentDelay = DefaultInterCommentDelay
	}
	return &Manager{adapter: adapter, idempotency: store, cfg: cfg}
}

// PostResult reports what happened to a single kept comment.
type PostResult struct {
	Comment domain.ReviewComment
	Posted  domain.DetailedReviewComment
	Skipped bool // already claimed by a prior/concurrent run
	Err     error
}

// Summary is the outcome of PostReview.
type Summary struct {
	Posted                []PostResult
	SummaryCommentOK      bool
	CheckpointOK          bool
	FellBackToSummaryOnly bool
	FinalVerdict          domain.Verdict
}

// PostReview posts kept inline comments, the summary/verdict, and
// maintains the review checkpoint, in that order (spec §5: checkpoint
// write is always the last network call of a review). A platform rejection
// of the verdict because the posting account authored the pull request is
// handled by the adapter's SubmitReview, which retries with "comment".
func (m *Manager) PostReview(ctx context.Context, prID string, pr domain.PullRequest, diff domain.Diff, result domain.ReviewResult, existing []domain.DetailedReviewComment) (Summary, error) {
	verdict := result.Verdict

	posted := m.postComments(ctx, prID, pr, diff, result.Comments, existing)

	successCount := 0
	for _, p := range posted {
		if p.Err == nil {
			successCount++
		}
	}

	summary := Summary{Posted: posted, FinalVerdict: verdict}

	finalSummary := result.Summary
	if len(result.Comments) > 0 && successCount == 0 {
		summary.FellBackToSummaryOnly = true
		finalSummary = fallbackSummary(result.Summary, result.Comments)
		slog.Warn("all inline comment posts failed, falling back to summary-only", "pr", prID, "attempted", len(result.Comments))
	}

	if err := m.adapter.SubmitReview(ctx, prID, diff, domain.ReviewResult{
		Summary:  finalSummary,
		Comments: result.Comments,
		Verdict:  verdict,
	}); err != nil {
		return summary, fmt.Errorf("submit review %s: %w", prID, err)
	}
	summary.SummaryCommentOK = true
	metrics.ReviewOutcomes.WithLabelValues(string(verdict)).Inc()

	if err := m.writeCheckpoint(ctx, prID, pr, diff, successCount, verdict); err != nil {
		slog.Warn("checkpoint write failed", "pr", prID, "error", err)
		return summary, nil
	}
	summary.CheckpointOK = true

	return summary, nil
}

func (m *Manager) postComments(ctx context.Context, prID string, pr domain.PullRequest, diff domain.Diff, comments []domain.ReviewComment, existing []domain.DetailedReviewComment) []PostResult {
	results := make([]PostResult, len(comments))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrentPosts)

	dedupAdapter, supportsDedup := vcs.HasDedupSupport(m.adapter)

	for i, comment := range comments {
		i, comment := i, comment
		time.Sleep(m.cfg.InterCommentDelay)
		g.Go(func() error {
			results[i] = m.postOne(gCtx, prID, pr, diff, comment, existing, dedupAdapter, supportsDedup)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Manager) postOne(ctx context.Context, prID string, pr domain.PullRequest, diff domain.Diff, comment domain.ReviewComment, existing []domain.DetailedReviewComment, dedupAdapter vcs.DedupSupport, supportsDedup bool) PostResult {
	issue := issueID(comment.Path, comment.Line, comment.Body)
	key := IdempotencyKey(pr.HeadSha, comment.Path, comment.Line, issue)
	if !m.idempotency.Claim(key) {
		return PostResult{Comment: comment, Skipped: true}
	}

	fd := diff.FileByPath(comment.Path)
	var originalCode string
	if fd != nil {
		originalCode = OriginalCodeSnippet(*fd, comment.Line)
	}
	meta := BuildMetadata(pr.HeadSha, issue, originalCode)
	body := RenderCommentBody(comment, meta)

	if m.cfg.UpdateExistingComments && supportsDedup {
		if existingComment, ok := findExistingByIssue(existing, issue); ok {
			if err := dedupAdapter.UpdateComment(ctx, prID, existingComment.ID, body); err != nil {
				m.idempotency.Release(key)
				metrics.CommentPostFailures.WithLabelValues("update_error").Inc()
				return PostResult{Comment: comment, Err: err}
			}
			return PostResult{Comment: comment, Posted: existingComment}
		}
	}

	posted, err := m.adapter.AddInlineComment(ctx, prID, domain.ReviewComment{
		Path:       comment.Path,
		Line:       comment.Line,
		Body:       body,
		Severity:   comment.Severity,
		Suggestion: "",
		Confidence: comment.Confidence,
	})
	if err != nil {
		m.idempotency.Release(key)
		metrics.CommentPostFailures.WithLabelValues("api_error").Inc()
		slog.Error("post comment failed", "pr", prID, "path", comment.Path, "line", comment.Line, "error", err)
		return PostResult{Comment: comment, Err: err}
	}
	return PostResult{Comment: comment, Posted: posted}
}

func (m *Manager) writeCheckpoint(ctx context.Context, prID string, pr domain.PullRequest, diff domain.Diff, commentCount int, verdict domain.Verdict) error {
	checkpointAdapter, ok := vcs.HasCheckpointSupport(m.adapter)
	if !ok {
		return nil
	}

	existingID, _, _, err := checkpointAdapter.FindCheckpoint(ctx, prID)
	if err != nil {
		return err
	}

	files := make([]string, 0, len(diff.Files))
	for _, f := range diff.Files {
		files = append(files, f.Path)
	}
	sort.Strings(files)

	cp := domain.ReviewCheckpoint{
		Sha:           pr.HeadSha,
		Timestamp:     time.Now().Unix(),
		FilesReviewed: files,
		CommentCount:  commentCount,
		Verdict:       verdict,
	}
	return checkpointAdapter.WriteCheckpoint(ctx, prID, existingID, cp)
}

func findExistingByIssue(existing []domain.DetailedReviewComment, issue string) (domain.DetailedReviewComment, bool) {
	for _, c := range existing {
		if c.Metadata != nil && c.Metadata.IssueID == issue {
			return c, true
		}
	}
	return domain.DetailedReviewComment{}, false
}

func fallbackSummary(summary string, comments []domain.ReviewComment) string {
	out := summary + "\n\nInline comments could not be posted; findings are listed here instead:\n"
	for _, c := range comments {
		out += fmt.Sprintf("- %s:%d %s\n", c.Path, c.Line, c.Body)
	}
	return out
}
