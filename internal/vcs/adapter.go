package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"agnusai-reviewer/internal/checkpoint"
	"agnusai-reviewer/internal/diffmodel"
	"agnusai-reviewer/internal/domain"
	"agnusai-reviewer/internal/errs"
)

// toolNames is the per-platform mapping from the adapter's logical
// operations to the MCP tool names exposed by that platform's server.
// Bitbucket and GitHub MCP servers expose equivalent capabilities under
// different tool names and argument shapes; toolNames plus the arg
// builders below are the only things that differ between them.
type toolNames struct {
	getPullRequest    string
	getDiff           string
	getDiffRange      string
	getFileContent    string
	listComments      string
	addInlineComment  string
	addSummaryComment string
	updateComment     string
	replyToComment    string
	compareCommits    string
}

// mcpAdapter implements Adapter (and the optional capability interfaces)
// against an MCP server, for any platform whose tool surface fits the
// PR/diff/comment shape both Bitbucket and GitHub expose. Two platform
// constructors configure it with different tool names and server names;
// everything else is shared.
type mcpAdapter struct {
	platform string
	server   string
	client   *MCPClient
	tools    toolNames
}

func (a *mcpAdapter) Platform() string { return a.platform }

func (a *mcpAdapter) call(ctx context.Context, tool string, args map[string]any) (gjson.Result, error) {
	result, err := a.client.CallTool(ctx, a.server, tool, args)
	if err != nil {
		return gjson.Result{}, err
	}
	text, err := resultText(result)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.Parse(text), nil
}

func (a *mcpAdapter) GetPullRequest(ctx context.Context, prID string) (domain.PullRequest, error) {
	ref, err := parsePRID(prID)
	if err != nil {
		return domain.PullRequest{}, err
	}
	data, err := a.call(ctx, a.tools.getPullRequest, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number,
	})
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("get pull request %s: %w", prID, err)
	}
	return domain.PullRequest{
		Platform:     a.platform,
		Repo:         ref.Owner + "/" + ref.Repo,
		Number:       ref.Number,
		Title:        data.Get("title").String(),
		Description:  data.Get("description").String(),
		Author:       data.Get("author").String(),
		SourceBranch: data.Get("sourceBranch").String(),
		TargetBranch: data.Get("targetBranch").String(),
		HeadSha:      data.Get("headSha").String(),
		State:        domain.PRState(data.Get("state").String()),
		IsDraft:      data.Get("draft").Bool(),
		IsLocked:     data.Get("locked").Bool(),
	}, nil
}

func (a *mcpAdapter) GetDiff(ctx context.Context, prID string) (domain.Diff, error) {
	ref, err := parsePRID(prID)
	if err != nil {
		return domain.Diff{}, err
	}
	data, err := a.call(ctx, a.tools.getDiff, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number,
	})
	if err != nil {
		return domain.Diff{}, fmt.Errorf("get diff %s: %w", prID, err)
	}
	return parseDiffPayload(data), nil
}

func (a *mcpAdapter) GetFileContent(ctx context.Context, prID, path, sha string) (string, error) {
	ref, err := parsePRID(prID)
	if err != nil {
		return "", err
	}
	data, err := a.call(ctx, a.tools.getFileContent, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number, "path": path, "sha": sha,
	})
	if err != nil {
		return "", fmt.Errorf("get file content %s@%s: %w", path, sha, err)
	}
	return data.Get("content").String(), nil
}

// SubmitReview implements the §4.1 submitReview contract: inline comments
// whose (path,line) isn't in the PR's current diff are dropped before the
// platform ever sees them, and a rejection of an approve/request_changes
// verdict because the reviewer authored the pull request is retried once
// with verdict "comment", noting the original intent in the summary.
func (a *mcpAdapter) SubmitReview(ctx context.Context, prID string, diff domain.Diff, result domain.ReviewResult) error {
	ref, err := parsePRID(prID)
	if err != nil {
		return err
	}

	kept := make([]domain.ReviewComment, 0, len(result.Comments))
	for _, c := range result.Comments {
		fd := diff.FileByPath(c.Path)
		if fd == nil {
			slog.Warn("dropping inline comment for path not in diff", "pr", prID, "path", c.Path, "line", c.Line)
			continue
		}
		if _, ok := diffmodel.ChangedLines(*fd)[c.Line]; !ok {
			slog.Warn("dropping inline comment for line not in diff", "pr", prID, "path", c.Path, "line", c.Line)
			continue
		}
		kept = append(kept, c)
	}

	verdict := result.Verdict
	summary := result.Summary
	if err := a.submitReviewOnce(ctx, ref, summary, kept, verdict); err != nil {
		if !isOwnPRRejection(err) || (verdict != domain.VerdictApprove && verdict != domain.VerdictRequestChanges) {
			return fmt.Errorf("submit review %s: %w", prID, err)
		}
		rejection := errs.New(errs.KindPlatformRejected, "vcs.SubmitReview", err)
		slog.Warn("platform rejected verdict on own pull request, retrying as comment", "pr", prID, "verdict", verdict, "error", rejection)
		summary = summary + fmt.Sprintf("\n\n_Note: the intended verdict was %q; downgraded to \"comment\" because the reviewing account authored this pull request._", verdict)
		if retryErr := a.submitReviewOnce(ctx, ref, summary, kept, domain.VerdictComment); retryErr != nil {
			return fmt.Errorf("submit review %s (retry after platform rejection): %w", prID, retryErr)
		}
	}
	return nil
}

func (a *mcpAdapter) submitReviewOnce(ctx context.Context, ref prRef, summary string, comments []domain.ReviewComment, verdict domain.Verdict) error {
	commentArgs := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		commentArgs = append(commentArgs, map[string]any{"path": c.Path, "line": c.Line, "body": c.Body})
	}
	_, err := a.call(ctx, a.tools.addSummaryComment, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number,
		"body":     summary,
		"verdict":  string(verdict),
		"comments": commentArgs,
	})
	return err
}

// isOwnPRRejection reports whether err is the platform's rejection of a
// review verdict because the posting account authored the pull request.
func isOwnPRRejection(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "your own pull request")
}

func (a *mcpAdapter) AddInlineComment(ctx context.Context, prID string, comment domain.ReviewComment) (domain.DetailedReviewComment, error) {
	ref, err := parsePRID(prID)
	if err != nil {
		return domain.DetailedReviewComment{}, err
	}
	data, err := a.call(ctx, a.tools.addInlineComment, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number,
		"path": comment.Path, "line": comment.Line, "body": comment.Body,
	})
	if err != nil {
		return domain.DetailedReviewComment{}, fmt.Errorf("add inline comment %s:%d: %w", comment.Path, comment.Line, err)
	}
	return domain.DetailedReviewComment{
		ID:        data.Get("id").String(),
		Path:      comment.Path,
		Line:      comment.Line,
		Body:      comment.Body,
		CommitID:  data.Get("commitId").String(),
		CreatedAt: time.Now().UTC(),
		IsAuthored: true,
	}, nil
}

func (a *mcpAdapter) AddSummaryComment(ctx context.Context, prID, body string) error {
	ref, err := parsePRID(prID)
	if err != nil {
		return err
	}
	_, err = a.call(ctx, a.tools.addSummaryComment, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number, "body": body,
	})
	if err != nil {
		return fmt.Errorf("add summary comment %s: %w", prID, err)
	}
	return nil
}

// ListReviewComments implements DedupSupport.
func (a *mcpAdapter) ListReviewComments(ctx context.Context, prID string) ([]domain.DetailedReviewComment, error) {
	ref, err := parsePRID(prID)
	if err != nil {
		return nil, err
	}
	data, err := a.call(ctx, a.tools.listComments, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number,
	})
	if err != nil {
		return nil, fmt.Errorf("list review comments %s: %w", prID, err)
	}
	var comments []domain.DetailedReviewComment
	data.Get("comments").ForEach(func(_, c gjson.Result) bool {
		comments = append(comments, parseDetailedComment(c))
		return true
	})
	return comments, nil
}

// UpdateComment implements DedupSupport.
func (a *mcpAdapter) UpdateComment(ctx context.Context, prID, commentID, body string) error {
	ref, err := parsePRID(prID)
	if err != nil {
		return err
	}
	_, err = a.call(ctx, a.tools.updateComment, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number, "commentId": commentID, "body": body,
	})
	if err != nil {
		return fmt.Errorf("update comment %s: %w", commentID, err)
	}
	return nil
}

// ReplyToComment implements DedupSupport.
func (a *mcpAdapter) ReplyToComment(ctx context.Context, prID, parentID, body string) error {
	ref, err := parsePRID(prID)
	if err != nil {
		return err
	}
	_, err = a.call(ctx, a.tools.replyToComment, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number, "parentId": parentID, "body": body,
	})
	if err != nil {
		return fmt.Errorf("reply to comment %s: %w", parentID, err)
	}
	return nil
}

// CompareCommits implements IncrementalSupport.
func (a *mcpAdapter) CompareCommits(ctx context.Context, prID, baseSha, headSha string) (domain.CommitComparison, error) {
	ref, err := parsePRID(prID)
	if err != nil {
		return domain.CommitComparison{}, err
	}
	data, err := a.call(ctx, a.tools.compareCommits, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "base": baseSha, "head": headSha,
	})
	if err != nil {
		return domain.CommitComparison{}, fmt.Errorf("compare commits %s..%s: %w", baseSha, headSha, err)
	}
	var files []string
	data.Get("files").ForEach(func(_, f gjson.Result) bool {
		files = append(files, f.String())
		return true
	})
	return domain.CommitComparison{
		BaseSha:  baseSha,
		HeadSha:  headSha,
		Status:   domain.ComparisonStatus(data.Get("status").String()),
		AheadBy:  int(data.Get("aheadBy").Int()),
		BehindBy: int(data.Get("behindBy").Int()),
		Files:    files,
	}, nil
}

// GetDiffRange implements IncrementalSupport.
func (a *mcpAdapter) GetDiffRange(ctx context.Context, prID, baseSha, headSha string) (domain.Diff, error) {
	ref, err := parsePRID(prID)
	if err != nil {
		return domain.Diff{}, err
	}
	data, err := a.call(ctx, a.tools.getDiffRange, map[string]any{
		"owner": ref.Owner, "repo": ref.Repo, "base": baseSha, "head": headSha,
	})
	if err != nil {
		return domain.Diff{}, fmt.Errorf("get diff range %s..%s: %w", baseSha, headSha, err)
	}
	return parseDiffPayload(data), nil
}

// FindCheckpoint implements CheckpointSupport by scanning the PR's own
// comment stream for the newest checkpoint marker; the comment stream is
// both storage and cache, there is no secondary store.
func (a *mcpAdapter) FindCheckpoint(ctx context.Context, prID string) (string, domain.ReviewCheckpoint, bool, error) {
	comments, err := a.ListReviewComments(ctx, prID)
	if err != nil {
		return "", domain.ReviewCheckpoint{}, false, fmt.Errorf("find checkpoint %s: %w", prID, err)
	}
	id, cp, ok := checkpoint.FindCheckpointComment(comments)
	return id, cp, ok, nil
}

// WriteCheckpoint implements CheckpointSupport. When existingCommentID is
// non-empty the checkpoint comment is updated in place; otherwise a new
// comment carrying the marker is created.
func (a *mcpAdapter) WriteCheckpoint(ctx context.Context, prID, existingCommentID string, cp domain.ReviewCheckpoint) error {
	body := checkpoint.Serialize(cp)
	if existingCommentID != "" {
		return a.UpdateComment(ctx, prID, existingCommentID, body)
	}
	return a.AddSummaryComment(ctx, prID, body)
}

// RefreshState implements StateSupport.
func (a *mcpAdapter) RefreshState(ctx context.Context, prID string) (domain.PullRequest, error) {
	return a.GetPullRequest(ctx, prID)
}

func parseDiffPayload(data gjson.Result) domain.Diff {
	raw := data.Get("diff").String()
	if raw != "" {
		return diffmodel.ParseUnifiedDiff(raw)
	}
	// Some servers return an already-structured file list instead of raw text.
	var diff domain.Diff
	data.Get("files").ForEach(func(_, f gjson.Result) bool {
		var hunks []domain.Hunk
		f.Get("hunks").ForEach(func(_, h gjson.Result) bool {
			hunks = append(hunks, domain.Hunk{
				OldStart: int(h.Get("oldStart").Int()),
				OldLines: int(h.Get("oldLines").Int()),
				NewStart: int(h.Get("newStart").Int()),
				NewLines: int(h.Get("newLines").Int()),
				Content:  h.Get("content").String(),
			})
			return true
		})
		diff.Files = append(diff.Files, domain.FileDiff{
			Path:      f.Get("path").String(),
			OldPath:   f.Get("oldPath").String(),
			Status:    domain.FileStatus(f.Get("status").String()),
			Additions: int(f.Get("additions").Int()),
			Deletions: int(f.Get("deletions").Int()),
			Hunks:     hunks,
		})
		return true
	})
	return diff
}

func parseDetailedComment(c gjson.Result) domain.DetailedReviewComment {
	dc := domain.DetailedReviewComment{
		ID:           c.Get("id").String(),
		Path:         c.Get("path").String(),
		Line:         int(c.Get("line").Int()),
		OriginalLine: int(c.Get("originalLine").Int()),
		Body:         c.Get("body").String(),
		User: domain.CommentUser{
			Login: c.Get("author.login").String(),
			Type:  c.Get("author.type").String(),
		},
		InReplyToID: c.Get("inReplyToId").String(),
		CommitID:    c.Get("commitId").String(),
	}
	if ts := c.Get("createdAt").String(); ts != "" {
		dc.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	if ts := c.Get("updatedAt").String(); ts != "" {
		dc.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	if meta := c.Get("metadata"); meta.Exists() {
		dc.Metadata = &domain.CommentMetadata{
			CommitSha:    meta.Get("commitSha").String(),
			IssueID:      meta.Get("issueId").String(),
			OriginalCode: meta.Get("originalCode").String(),
			Timestamp:    meta.Get("timestamp").Int(),
		}
	}
	c.Get("replies").ForEach(func(_, r gjson.Result) bool {
		dc.Replies = append(dc.Replies, parseDetailedComment(r))
		return true
	})
	return dc
}
