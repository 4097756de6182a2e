package incremental

import (
	"context"
	"errors"
	"testing"

	"agnusai-reviewer/internal/domain"
)

type fakeFullAdapter struct {
	fullDiff domain.Diff
}

func (f *fakeFullAdapter) Platform() string { return "fake" }
func (f *fakeFullAdapter) GetPullRequest(ctx context.Context, prID string) (domain.PullRequest, error) {
	return domain.PullRequest{}, nil
}
func (f *fakeFullAdapter) GetDiff(ctx context.Context, prID string) (domain.Diff, error) {
	return f.fullDiff, nil
}
func (f *fakeFullAdapter) GetFileContent(ctx context.Context, prID, path, sha string) (string, error) {
	return "", nil
}
func (f *fakeFullAdapter) SubmitReview(ctx context.Context, prID string, diff domain.Diff, result domain.ReviewResult) error {
	return nil
}
func (f *fakeFullAdapter) AddInlineComment(ctx context.Context, prID string, comment domain.ReviewComment) (domain.DetailedReviewComment, error) {
	return domain.DetailedReviewComment{}, nil
}
func (f *fakeFullAdapter) AddSummaryComment(ctx context.Context, prID, body string) error { return nil }

type fakeIncrementalAdapter struct {
	fakeFullAdapter
	comparison domain.CommitComparison
	compareErr error
	rangeDiff  domain.Diff
	rangeErr   error
}

func (f *fakeIncrementalAdapter) CompareCommits(ctx context.Context, prID, base, head string) (domain.CommitComparison, error) {
	return f.comparison, f.compareErr
}

func (f *fakeIncrementalAdapter) GetDiffRange(ctx context.Context, prID, base, head string) (domain.Diff, error) {
	return f.rangeDiff, f.rangeErr
}

func TestGetIncrementalDiffNoChange(t *testing.T) {
	a := &fakeIncrementalAdapter{comparison: domain.CommitComparison{Status: domain.ComparisonIdentical}}
	res, err := GetIncrementalDiff(context.Background(), a, "o/r#1", domain.PullRequest{HeadSha: "h"}, "h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeNoChange {
		t.Fatalf("expected no_change, got %s", res.Outcome)
	}
}

func TestGetIncrementalDiffAhead(t *testing.T) {
	want := domain.Diff{Files: []domain.FileDiff{{Path: "a.go"}}}
	a := &fakeIncrementalAdapter{
		comparison: domain.CommitComparison{Status: domain.ComparisonAhead, AheadBy: 2},
		rangeDiff:  want,
	}
	res, err := GetIncrementalDiff(context.Background(), a, "o/r#1", domain.PullRequest{HeadSha: "h2"}, "h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeIncremental || len(res.Diff.Files) != 1 {
		t.Fatalf("expected incremental diff, got %+v", res)
	}
}

func TestGetIncrementalDiffDivergedFallsBackToFull(t *testing.T) {
	full := domain.Diff{Files: []domain.FileDiff{{Path: "a.go"}, {Path: "b.go"}}}
	a := &fakeIncrementalAdapter{
		fakeFullAdapter: fakeFullAdapter{fullDiff: full},
		comparison:      domain.CommitComparison{Status: domain.ComparisonDiverged, AheadBy: 3, BehindBy: 1},
	}
	res, err := GetIncrementalDiff(context.Background(), a, "o/r#1", domain.PullRequest{HeadSha: "h2"}, "h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeFullDiverged || len(res.Diff.Files) != 2 {
		t.Fatalf("expected full diverged fallback with full diff, got %+v", res)
	}
}

func TestGetIncrementalDiffCompareFailsFallsBackToFull(t *testing.T) {
	full := domain.Diff{Files: []domain.FileDiff{{Path: "a.go"}}}
	a := &fakeIncrementalAdapter{
		fakeFullAdapter: fakeFullAdapter{fullDiff: full},
		compareErr:      errors.New("base sha not found"),
	}
	res, err := GetIncrementalDiff(context.Background(), a, "o/r#1", domain.PullRequest{HeadSha: "h2"}, "missing-sha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeFullMissingBase || len(res.Diff.Files) != 1 {
		t.Fatalf("expected full_missing_base fallback, got %+v", res)
	}
}

func TestGetIncrementalDiffNoIncrementalSupport(t *testing.T) {
	full := domain.Diff{Files: []domain.FileDiff{{Path: "a.go"}}}
	a := &fakeFullAdapter{fullDiff: full}
	res, err := GetIncrementalDiff(context.Background(), a, "o/r#1", domain.PullRequest{HeadSha: "h2"}, "h1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeFullMissingBase || len(res.Diff.Files) != 1 {
		t.Fatalf("expected full_missing_base when adapter lacks IncrementalSupport, got %+v", res)
	}
}
