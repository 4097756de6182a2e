// Package incremental implements the incremental diff engine (C10):
// classifying a pull request's head against a prior review checkpoint's
// sha and producing the minimal diff a follow-up review actually needs.
package incremental

import (
	"context"
	"fmt"

	"agnusai-reviewer/internal/domain"
	"agnusai-reviewer/internal/metrics"
	"agnusai-reviewer/internal/vcs"
)

// Outcome classifies how a review request relates to its checkpoint.
type Outcome string

const (
	// OutcomeNoChange means head equals the checkpoint sha; nothing to review.
	OutcomeNoChange Outcome = "no_change"
	// OutcomeIncremental means head is strictly ahead of the checkpoint sha
	// with no force-push in between; only the new commits need reviewing.
	OutcomeIncremental Outcome = "incremental"
	// OutcomeFullDiverged means the checkpoint sha is no longer an ancestor
	// of head (force-push, rebase, branch reset); a full review is required.
	OutcomeFullDiverged Outcome = "full_diverged"
	// OutcomeFullMissingBase means the adapter cannot compare commits at
	// all (no IncrementalSupport) or the checkpoint sha could not be
	// resolved; a full review is required.
	OutcomeFullMissingBase Outcome = "full_missing_base"
)

// Result is the outcome plus the diff to actually review.
type Result struct {
	Outcome    Outcome
	Diff       domain.Diff
	Comparison domain.CommitComparison
}

// GetIncrementalDiff implements spec §4.10: compare checkpointSha against
// the PR's current head, and return either the incremental slice or a
// signal that a full review is required.
func GetIncrementalDiff(ctx context.Context, adapter vcs.Adapter, prID string, pr domain.PullRequest, checkpointSha string) (Result, error) {
	incrementalAdapter, ok := vcs.HasIncrementalSupport(adapter)
	if !ok {
		metrics.IncrementalDiffOutcomes.WithLabelValues(string(OutcomeFullMissingBase)).Inc()
		diff, err := adapter.GetDiff(ctx, prID)
		if err != nil {
			return Result{}, fmt.Errorf("full diff fallback %s: %w", prID, err)
		}
		return Result{Outcome: OutcomeFullMissingBase, Diff: diff}, nil
	}

	comparison, err := incrementalAdapter.CompareCommits(ctx, prID, checkpointSha, pr.HeadSha)
	if err != nil {
		metrics.IncrementalDiffOutcomes.WithLabelValues(string(OutcomeFullMissingBase)).Inc()
		diff, fallbackErr := adapter.GetDiff(ctx, prID)
		if fallbackErr != nil {
			return Result{}, fmt.Errorf("compare commits %s failed (%v) and full diff fallback failed: %w", prID, err, fallbackErr)
		}
		return Result{Outcome: OutcomeFullMissingBase, Diff: diff, Comparison: comparison}, nil
	}

	switch comparison.Status {
	case domain.ComparisonIdentical:
		metrics.IncrementalDiffOutcomes.WithLabelValues(string(OutcomeNoChange)).Inc()
		return Result{Outcome: OutcomeNoChange, Comparison: comparison}, nil

	case domain.ComparisonAhead:
		diff, err := incrementalAdapter.GetDiffRange(ctx, prID, checkpointSha, pr.HeadSha)
		if err != nil {
			return Result{}, fmt.Errorf("get diff range %s..%s: %w", checkpointSha, pr.HeadSha, err)
		}
		metrics.IncrementalDiffOutcomes.WithLabelValues(string(OutcomeIncremental)).Inc()
		return Result{Outcome: OutcomeIncremental, Diff: diff, Comparison: comparison}, nil

	case domain.ComparisonDiverged, domain.ComparisonBehind:
		metrics.IncrementalDiffOutcomes.WithLabelValues(string(OutcomeFullDiverged)).Inc()
		diff, err := adapter.GetDiff(ctx, prID)
		if err != nil {
			return Result{}, fmt.Errorf("full diff after divergence %s: %w", prID, err)
		}
		return Result{Outcome: OutcomeFullDiverged, Diff: diff, Comparison: comparison}, nil

	default:
		metrics.IncrementalDiffOutcomes.WithLabelValues(string(OutcomeFullMissingBase)).Inc()
		diff, err := adapter.GetDiff(ctx, prID)
		if err != nil {
			return Result{}, fmt.Errorf("full diff for unknown comparison status %q: %w", comparison.Status, err)
		}
		return Result{Outcome: OutcomeFullMissingBase, Diff: diff, Comparison: comparison}, nil
	}
}
