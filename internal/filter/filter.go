// Package filter implements the precision filter (C6) and the
// deduplication engine (C7): the multi-reason chain that decides which
// model-proposed comments actually get posted, in the fixed precedence
// order spec §4.7 defines, plus the whole-PR guards, sort-and-cap, and
// cross-file consolidation steps that run around it.
package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"agnusai-reviewer/internal/diffmodel"
	"agnusai-reviewer/internal/domain"
)

// Reason identifies why a candidate comment was dropped, or why the whole
// review was aborted.
type Reason string

const (
	ReasonInvalidLineNumber  Reason = "invalid_line_number"
	ReasonEmptyComment       Reason = "empty_comment"
	ReasonVersionClaim       Reason = "version_claim"
	ReasonBinaryFile         Reason = "binary_file"
	ReasonSkipPattern        Reason = "skip_pattern"
	ReasonFileDeleted        Reason = "file_deleted"
	ReasonFileRenamed        Reason = "file_renamed"
	ReasonLineNotInDiff      Reason = "line_not_in_diff"
	ReasonLineDeleted        Reason = "line_deleted"
	ReasonDuplicateLine      Reason = "duplicate_line"
	ReasonCodeChanged        Reason = "code_changed"
	ReasonDismissed          Reason = "dismissed"
	ReasonMaxCommentsPerFile Reason = "max_comments_per_file"
	ReasonTestFileLenient    Reason = "test_file_lenient"
	ReasonMaxCommentsReached Reason = "max_comments_reached"

	ReasonDraftPR     Reason = "draft_pr"
	ReasonMergedPR    Reason = "merged_pr"
	ReasonClosedPR    Reason = "closed_pr"
	ReasonLockedPR    Reason = "locked_pr"
	ReasonRateLimited Reason = "rate_limited"
)

// PrecisionFilter drops every comment whose self-reported confidence is
// below threshold. It runs before deduplication so dropped comments never
// consume the per-file cap.
func PrecisionFilter(comments []domain.ReviewComment, threshold float64) []domain.ReviewComment {
	kept := make([]domain.ReviewComment, 0, len(comments))
	for _, c := range comments {
		if c.Confidence >= threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

// versionClaimPatterns catch unreliable version assertions a model might
// make based on stale training knowledge (spec §4.7 reason 3). This is a
// heuristic set, not exhaustive (spec §9 Open Question ii).
var versionClaimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)as of (version )?v?\d+(\.\d+)*`),
	regexp.MustCompile(`(?i)(available|fixed|introduced|deprecated|removed) (since|in) v?\d+(\.\d+)*`),
	regexp.MustCompile(`(?i)this (bug|issue) (was|is) fixed in v?\d+(\.\d+)*`),
	regexp.MustCompile(`(?i)upgrade to v?\d+(\.\d+)* to (fix|resolve)`),
}

// defaultSkipPatterns is the always-skip set from spec §4.7 reason 4.
var defaultSkipPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.ico", "*.bmp", "*.webp",
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
	"*.zip", "*.tar", "*.gz", "*.tgz", "*.jar", "*.war",
	"*.lock", "*-lock.json",
	"*.min.js", "*.min.css",
	"*.d.ts",
	"*.pb.*", "*_pb2.*",
	"*.generated.*",
	"__generated__/",
}

var testFilePatterns = []string{".test.", ".spec.", "__tests__/", "test/", "tests/"}

var dismissKeywords = []string{
	"wontfix", "won't fix", "will not fix", "as designed", "by design",
	"intended", "false positive", "resolved", "fixed", "done", "nit",
	"nitpick", "ignore",
}

// Config tunes the deduplication engine; it mirrors the §6 "Configuration
// (enumerated)" review knobs relevant to C7.
type Config struct {
	MaxComments        int
	MaxCommentsPerFile int
	SkipDrafts         bool
	LenientOnTests     bool
	SkipPatterns       []string
}

// FilteredComment pairs a dropped comment with the reason it was dropped.
type FilteredComment struct {
	Comment domain.ReviewComment
	Reason  Reason
}

// ConsolidatedGroup is a set of kept comments whose bodies share a
// 30-character lowercased prefix, extracted for the summary instead of
// being left as separate inline comments.
type ConsolidatedGroup struct {
	Prefix   string
	Comments []domain.ReviewComment
}

// Output is everything the dedup engine produces.
type Output struct {
	Kept         []domain.ReviewComment
	Filtered     []FilteredComment
	SkippedFiles []string
	Warnings     []string
	Consolidated []ConsolidatedGroup
	Aborted      bool
	AbortReason  Reason
}

// Input bundles everything the dedup engine needs to evaluate one review's
// candidate comments.
type Input struct {
	New      []domain.ReviewComment
	Existing []domain.DetailedReviewComment
	Diff     domain.Diff
	PR       domain.PullRequest
	Config   Config

	// RateLimitRemaining is the platform's self-reported remaining quota,
	// or -1 if the adapter has no rate-limit probe.
	RateLimitRemaining int
	// Limiter is the internal sliding-window limiter; nil disables the
	// internal check (only the platform probe runs).
	Limiter *RateLimiter
}

// Dedupe runs the whole-PR guards then the fixed-order per-comment filter
// chain from spec §4.7, followed by sort, cap, and consolidation.
func Dedupe(in Input) Output {
	var out Output

	if in.PR.IsDraft && in.Config.SkipDrafts {
		out.Aborted = true
		out.AbortReason = ReasonDraftPR
		out.Warnings = append(out.Warnings, "draft PR skipped")
		return out
	}
	if in.PR.IsLocked {
		out.Aborted = true
		out.AbortReason = ReasonLockedPR
		out.Warnings = append(out.Warnings, "locked PR skipped")
		return out
	}
	if in.PR.State == domain.PRStateMerged {
		out.Aborted = true
		out.AbortReason = ReasonMergedPR
		out.Warnings = append(out.Warnings, "merged PR skipped")
		return out
	}
	if in.PR.State == domain.PRStateClosed {
		out.Aborted = true
		out.AbortReason = ReasonClosedPR
		out.Warnings = append(out.Warnings, "closed PR skipped")
		return out
	}
	if in.RateLimitRemaining >= 0 && in.RateLimitRemaining < 10 {
		out.Aborted = true
		out.AbortReason = ReasonRateLimited
		out.Warnings = append(out.Warnings, "platform rate limit nearly exhausted")
		return out
	}
	if in.Limiter != nil && !in.Limiter.Allow() {
		out.Aborted = true
		out.AbortReason = ReasonRateLimited
		out.Warnings = append(out.Warnings, "internal rate limit exceeded")
		return out
	}

	maxPerFile := in.Config.MaxCommentsPerFile
	if maxPerFile <= 0 {
		maxPerFile = 5
	}
	maxTotal := in.Config.MaxComments
	if maxTotal <= 0 {
		maxTotal = 25
	}

	skipGlobs := append(append([]string{}, defaultSkipPatterns...), in.Config.SkipPatterns...)
	perFileCount := map[string]int{}
	skippedFiles := map[string]struct{}{}
	existingByPathLine := indexExisting(in.Existing)

	for _, c := range in.New {
		reason, ok := evaluateOne(c, in, skipGlobs, existingByPathLine, perFileCount, maxPerFile)
		if !ok {
			out.Filtered = append(out.Filtered, FilteredComment{Comment: c, Reason: reason})
			if reason == ReasonFileDeleted || reason == ReasonFileRenamed || reason == ReasonBinaryFile || reason == ReasonSkipPattern {
				skippedFiles[c.Path] = struct{}{}
			}
			continue
		}
		perFileCount[c.Path]++
		out.Kept = append(out.Kept, c)
	}

	sort.SliceStable(out.Kept, func(i, j int) bool {
		a, b := out.Kept[i], out.Kept[j]
		if domain.SeverityRank(a.Severity) != domain.SeverityRank(b.Severity) {
			return domain.SeverityRank(a.Severity) < domain.SeverityRank(b.Severity)
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})

	if len(out.Kept) > maxTotal {
		overflow := out.Kept[maxTotal:]
		out.Kept = out.Kept[:maxTotal]
		for _, c := range overflow {
			out.Filtered = append(out.Filtered, FilteredComment{Comment: c, Reason: ReasonMaxCommentsReached})
		}
	}

	for f := range skippedFiles {
		out.SkippedFiles = append(out.SkippedFiles, f)
	}
	sort.Strings(out.SkippedFiles)

	out.Consolidated = consolidate(out.Kept)

	return out
}

func evaluateOne(
	c domain.ReviewComment,
	in Input,
	skipGlobs []string,
	existingByPathLine map[string]domain.DetailedReviewComment,
	perFileCount map[string]int,
	maxPerFile int,
) (Reason, bool) {
	if c.Line < 1 {
		return ReasonInvalidLineNumber, false
	}
	if strings.TrimSpace(c.Body) == "" {
		return ReasonEmptyComment, false
	}
	for _, re := range versionClaimPatterns {
		if re.MatchString(c.Body) {
			return ReasonVersionClaim, false
		}
	}
	for _, g := range skipGlobs {
		if matchGlob(g, c.Path) {
			return ReasonBinaryFile, false
		}
	}

	fd := in.Diff.FileByPath(c.Path)
	if fd == nil {
		for _, f := range in.Diff.Files {
			if f.OldPath == c.Path {
				return ReasonFileRenamed, false
			}
		}
		return ReasonFileDeleted, false
	}

	changed := diffmodel.ChangedLines(*fd)
	if _, ok := changed[c.Line]; !ok {
		return ReasonLineNotInDiff, false
	}

	movement := diffmodel.TrackLineMovement(*fd)
	if newLine, ok := movement[c.Line]; ok && newLine == -1 {
		return ReasonLineDeleted, false
	}

	issueID := IssueID(c.Path, c.Line, c.Body)

	key := fmt.Sprintf("%s:%d", c.Path, c.Line)
	if existing, ok := existingByPathLine[key]; ok && existing.IsAuthored {
		return ReasonDuplicateLine, false
	}

	if existing, ok := findByIssueID(in.Existing, issueID, c.Line); ok {
		if existing.Metadata == nil || existing.Metadata.OriginalCode == "" {
			// Open Question (i): unconditional code_changed when there is
			// no recorded originalCode to compare against; this may
			// suppress still-valid findings.
			return ReasonCodeChanged, false
		}
		if fileStillContains(*fd, existing.Metadata.OriginalCode) {
			return ReasonCodeChanged, false
		}
		// original code no longer present anywhere in the new diff: treat
		// as a genuinely new finding, fall through to the dismissed check.
	}

	if dismissed(in.Existing, issueID) {
		return ReasonDismissed, false
	}

	if perFileCount[c.Path] >= maxPerFile {
		return ReasonMaxCommentsPerFile, false
	}

	if in.Config.LenientOnTests && isTestFile(c.Path) && c.Severity != domain.SeverityError {
		return ReasonTestFileLenient, false
	}

	return "", true
}

// IssueID computes the stable hash identifying a logical finding across
// line movements: sha256("path:line:body")[:16].
func IssueID(path string, line int, body string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", path, line, body)))
	return hex.EncodeToString(sum[:])[:16]
}

func indexExisting(existing []domain.DetailedReviewComment) map[string]domain.DetailedReviewComment {
	m := make(map[string]domain.DetailedReviewComment, len(existing))
	for _, c := range existing {
		key := fmt.Sprintf("%s:%d", c.Path, c.Line)
		m[key] = c
	}
	return m
}

func findByIssueID(existing []domain.DetailedReviewComment, issueID string, newLine int) (domain.DetailedReviewComment, bool) {
	for _, c := range existing {
		if c.Metadata != nil && c.Metadata.IssueID == issueID && c.Line != newLine {
			return c, true
		}
	}
	return domain.DetailedReviewComment{}, false
}

func fileStillContains(fd domain.FileDiff, snippet string) bool {
	for _, h := range fd.Hunks {
		if strings.Contains(h.Content, snippet) {
			return true
		}
	}
	return false
}

func dismissed(existing []domain.DetailedReviewComment, issueID string) bool {
	for _, c := range existing {
		if c.Metadata == nil || c.Metadata.IssueID != issueID {
			continue
		}
		for _, reply := range c.Replies {
			lower := strings.ToLower(reply.Body)
			for _, kw := range dismissKeywords {
				if strings.Contains(lower, kw) {
					return true
				}
			}
		}
	}
	return false
}

func isTestFile(p string) bool {
	lower := strings.ToLower(p)
	for _, pat := range testFilePatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, name string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.Contains(name, pattern)
	}
	if ok, err := path.Match(pattern, path.Base(name)); err == nil && ok {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// consolidate groups kept comments by a 30-character lowercased body
// prefix; groups of size >= 3 are extracted as consolidated suggestions.
func consolidate(kept []domain.ReviewComment) []ConsolidatedGroup {
	groups := map[string][]domain.ReviewComment{}
	var order []string
	for _, c := range kept {
		body := strings.ToLower(c.Body)
		prefixLen := 30
		if len(body) < prefixLen {
			prefixLen = len(body)
		}
		prefix := body[:prefixLen]
		if _, ok := groups[prefix]; !ok {
			order = append(order, prefix)
		}
		groups[prefix] = append(groups[prefix], c)
	}
	var result []ConsolidatedGroup
	for _, prefix := range order {
		if len(groups[prefix]) >= 3 {
			result = append(result, ConsolidatedGroup{Prefix: prefix, Comments: groups[prefix]})
		}
	}
	return result
}

// RateLimiter is a concurrency-safe sliding-window limiter, used both as
// the internal review-request cap in C7 and by the orchestrator runtime.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a limiter allowing at most limit events per
// window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window}
}

// Allow records one request and reports whether it is within the window's
// limit.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)
	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.events = kept

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
