package filter

import (
	"testing"
	"time"

	"agnusai-reviewer/internal/domain"
)

func diffWith(path string, newStart, added int) domain.Diff {
	content := "@@ -1,1 +" + itoa(newStart) + ",1 @@\n"
	for i := 0; i < added; i++ {
		content += "+line\n"
	}
	return domain.Diff{Files: []domain.FileDiff{
		{Path: path, Status: domain.FileModified, Hunks: []domain.Hunk{{NewStart: newStart, Content: content}}},
	}}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestPrecisionFilter(t *testing.T) {
	comments := []domain.ReviewComment{
		{Confidence: 0.9}, {Confidence: 0.8}, {Confidence: 0.75}, {Confidence: 0.6}, {Confidence: 0.55},
	}
	kept := PrecisionFilter(comments, 0.7)
	if len(kept) != 3 {
		t.Fatalf("expected 3 kept, got %d", len(kept))
	}
}

func TestDedupeInvalidLineNumber(t *testing.T) {
	in := Input{
		New:  []domain.ReviewComment{{Path: "a.go", Line: 0, Body: "bad"}},
		Diff: diffWith("a.go", 1, 5),
		PR:   domain.PullRequest{State: domain.PRStateOpen},
		RateLimitRemaining: -1,
	}
	out := Dedupe(in)
	if len(out.Kept) != 0 || len(out.Filtered) != 1 || out.Filtered[0].Reason != ReasonInvalidLineNumber {
		t.Fatalf("expected invalid_line_number filter, got %+v", out)
	}
}

func TestDedupeBinaryFile(t *testing.T) {
	in := Input{
		New:  []domain.ReviewComment{{Path: "assets/logo.png", Line: 1, Body: "looks fine"}},
		Diff: diffWith("assets/logo.png", 1, 5),
		PR:   domain.PullRequest{State: domain.PRStateOpen},
		RateLimitRemaining: -1,
	}
	out := Dedupe(in)
	if len(out.Kept) != 0 || out.Filtered[0].Reason != ReasonBinaryFile {
		t.Fatalf("expected binary_file filter even before line checks, got %+v", out)
	}
}

func TestDedupeLineNotInDiff(t *testing.T) {
	in := Input{
		New:  []domain.ReviewComment{{Path: "a.go", Line: 999, Body: "ok"}},
		Diff: diffWith("a.go", 1, 5),
		PR:   domain.PullRequest{State: domain.PRStateOpen},
		RateLimitRemaining: -1,
	}
	out := Dedupe(in)
	if out.Filtered[0].Reason != ReasonLineNotInDiff {
		t.Fatalf("expected line_not_in_diff, got %+v", out.Filtered)
	}
}

func TestDedupeDuplicateLine(t *testing.T) {
	diff := diffWith("a.go", 1, 5)
	in := Input{
		New: []domain.ReviewComment{{Path: "a.go", Line: 2, Body: "same issue"}},
		Existing: []domain.DetailedReviewComment{
			{Path: "a.go", Line: 2, IsAuthored: true, Body: "same issue"},
		},
		Diff: diff,
		PR:   domain.PullRequest{State: domain.PRStateOpen},
		RateLimitRemaining: -1,
	}
	out := Dedupe(in)
	if out.Filtered[0].Reason != ReasonDuplicateLine {
		t.Fatalf("expected duplicate_line, got %+v", out.Filtered)
	}
}

func TestDedupeDismissed(t *testing.T) {
	diff := diffWith("a.go", 1, 5)
	issueID := IssueID("a.go", 3, "potential race")
	in := Input{
		New: []domain.ReviewComment{{Path: "a.go", Line: 3, Body: "potential race"}},
		Existing: []domain.DetailedReviewComment{
			{
				Path: "a.go", Line: 2, IsAuthored: true,
				Metadata: &domain.CommentMetadata{IssueID: issueID, OriginalCode: "oldCall()"},
				Replies:  []domain.DetailedReviewComment{{Body: "as designed, ignore"}},
			},
		},
		Diff: diff,
		PR:   domain.PullRequest{State: domain.PRStateOpen},
		RateLimitRemaining: -1,
	}
	out := Dedupe(in)
	if len(out.Kept) != 0 {
		t.Fatalf("expected comment to be dismissed, got kept=%+v filtered=%+v", out.Kept, out.Filtered)
	}
	found := false
	for _, f := range out.Filtered {
		if f.Reason == ReasonDismissed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected dismissed reason among filtered, got %+v", out.Filtered)
	}
}

func TestDedupeMaxCommentsPerFile(t *testing.T) {
	diff := diffWith("src/a.ts", 1, 10)
	var comments []domain.ReviewComment
	for i := 1; i <= 7; i++ {
		comments = append(comments, domain.ReviewComment{Path: "src/a.ts", Line: i, Body: "finding", Severity: domain.SeverityInfo, Confidence: 0.9})
	}
	in := Input{New: comments, Diff: diff, PR: domain.PullRequest{State: domain.PRStateOpen}, Config: Config{MaxCommentsPerFile: 5}, RateLimitRemaining: -1}
	out := Dedupe(in)
	if len(out.Kept) != 5 {
		t.Fatalf("expected 5 kept, got %d", len(out.Kept))
	}
	overflow := 0
	for _, f := range out.Filtered {
		if f.Reason == ReasonMaxCommentsPerFile {
			overflow++
		}
	}
	if overflow != 2 {
		t.Fatalf("expected 2 filtered as max_comments_per_file, got %d", overflow)
	}
}

func TestDedupeDraftAborts(t *testing.T) {
	in := Input{
		New:  []domain.ReviewComment{{Path: "a.go", Line: 1, Body: "x"}},
		Diff: diffWith("a.go", 1, 5),
		PR:   domain.PullRequest{IsDraft: true},
		Config: Config{SkipDrafts: true},
	}
	out := Dedupe(in)
	if !out.Aborted || out.AbortReason != ReasonDraftPR {
		t.Fatalf("expected draft_pr abort, got %+v", out)
	}
}

func TestSortOrder(t *testing.T) {
	diff := diffWith("a.go", 1, 3)
	in := Input{
		New: []domain.ReviewComment{
			{Path: "a.go", Line: 3, Body: "info", Severity: domain.SeverityInfo},
			{Path: "a.go", Line: 1, Body: "error", Severity: domain.SeverityError},
			{Path: "a.go", Line: 2, Body: "warning", Severity: domain.SeverityWarning},
		},
		Diff: diff,
		PR:   domain.PullRequest{State: domain.PRStateOpen},
		RateLimitRemaining: -1,
	}
	out := Dedupe(in)
	if len(out.Kept) != 3 {
		t.Fatalf("expected 3 kept, got %d: %+v", len(out.Kept), out.Filtered)
	}
	if out.Kept[0].Severity != domain.SeverityError || out.Kept[1].Severity != domain.SeverityWarning || out.Kept[2].Severity != domain.SeverityInfo {
		t.Fatalf("expected error<warning<info ordering, got %+v", out.Kept)
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	if !rl.Allow() || !rl.Allow() {
		t.Fatalf("expected first two requests to be allowed")
	}
	if rl.Allow() {
		t.Fatalf("expected third request to be rejected within window")
	}
	time.Sleep(60 * time.Millisecond)
	if !rl.Allow() {
		t.Fatalf("expected request to be allowed after window elapses")
	}
}
