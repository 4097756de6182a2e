package vcs

import (
	"context"

	"agnusai-reviewer/internal/domain"
)

// Adapter is the mandatory VCS operation set every platform must provide.
// A review can be produced and a verdict posted using only these methods;
// everything else is an optional capability discovered with a type
// assertion against the interfaces below.
type Adapter interface {
	Platform() string

	GetPullRequest(ctx context.Context, prID string) (domain.PullRequest, error)
	GetDiff(ctx context.Context, prID string) (domain.Diff, error)
	GetFileContent(ctx context.Context, prID, path, sha string) (string, error)
	SubmitReview(ctx context.Context, prID string, diff domain.Diff, result domain.ReviewResult) error
	AddInlineComment(ctx context.Context, prID string, comment domain.ReviewComment) (domain.DetailedReviewComment, error)
	AddSummaryComment(ctx context.Context, prID, body string) error
}

// DedupSupport is implemented by adapters that can list and mutate
// existing review comments, which the comment manager and deduplication
// engine need to avoid re-posting findings. Its absence degrades every
// review to post-only (no history is consulted or pruned).
type DedupSupport interface {
	ListReviewComments(ctx context.Context, prID string) ([]domain.DetailedReviewComment, error)
	UpdateComment(ctx context.Context, prID, commentID, body string) error
	ReplyToComment(ctx context.Context, prID, parentID, body string) error
}

// CheckpointSupport is implemented by adapters whose comment bodies can
// be round-tripped verbatim, which is required to embed and retrieve the
// checkpoint marker. Its absence forces every review to run in full mode.
type CheckpointSupport interface {
	FindCheckpoint(ctx context.Context, prID string) (commentID string, cp domain.ReviewCheckpoint, ok bool, err error)
	WriteCheckpoint(ctx context.Context, prID, existingCommentID string, cp domain.ReviewCheckpoint) error
}

// IncrementalSupport is implemented by adapters that can compare two
// commits server-side. Its absence forces every review to diff against
// the merge base from scratch.
type IncrementalSupport interface {
	CompareCommits(ctx context.Context, prID, baseSha, headSha string) (domain.CommitComparison, error)
	GetDiffRange(ctx context.Context, prID, baseSha, headSha string) (domain.Diff, error)
}

// StateSupport exposes lifecycle flags (draft/merged/closed/locked) beyond
// what GetPullRequest's State/IsDraft/IsLocked fields already carry; some
// platforms only expose these via a separate, more expensive call.
type StateSupport interface {
	RefreshState(ctx context.Context, prID string) (domain.PullRequest, error)
}

// HasDedupSupport reports whether a is capable of comment-history aware
// deduplication. Capabilities are discovered once, via a type assertion
// against the concrete adapter value built at construction time; there is
// no hot-swap or re-probing during a running review.
func HasDedupSupport(a Adapter) (DedupSupport, bool) {
	d, ok := a.(DedupSupport)
	return d, ok
}

// HasCheckpointSupport reports whether a can store and retrieve a review
// checkpoint.
func HasCheckpointSupport(a Adapter) (CheckpointSupport, bool) {
	c, ok := a.(CheckpointSupport)
	return c, ok
}

// HasIncrementalSupport reports whether a can compare commits server-side.
func HasIncrementalSupport(a Adapter) (IncrementalSupport, bool) {
	i, ok := a.(IncrementalSupport)
	return i, ok
}

// HasStateSupport reports whether a exposes a dedicated state refresh.
func HasStateSupport(a Adapter) (StateSupport, bool) {
	s, ok := a.(StateSupport)
	return s, ok
}

// Capabilities summarizes which optional capability interfaces an adapter
// implements.
type Capabilities struct {
	Dedup       bool
	Checkpoint  bool
	Incremental bool
	State       bool
}

// ProbeCapabilities reports which optional capability interfaces a
// implements. The answer follows from a's concrete type, so it never
// changes for the lifetime of an adapter instance.
func ProbeCapabilities(a Adapter) Capabilities {
	_, dedup := HasDedupSupport(a)
	_, checkpoint := HasCheckpointSupport(a)
	_, incremental := HasIncrementalSupport(a)
	_, state := HasStateSupport(a)
	return Capabilities{Dedup: dedup, Checkpoint: checkpoint, Incremental: incremental, State: state}
}
