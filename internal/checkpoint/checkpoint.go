// Package checkpoint implements the comment-embedded state machine: a
// review-state record serialized into a PR comment body behind a sentinel
// marker. The PR's own comment stream is both storage and cache; there is
// no secondary database for checkpoint state.
package checkpoint

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"agnusai-reviewer/internal/domain"
)

const (
	// Marker is the sentinel prefix wrapping a checkpoint's JSON payload.
	Marker = "<!-- AGNUSAI_CHECKPOINT: "
	// MarkerSuffix closes the sentinel.
	MarkerSuffix = " -->"
)

// rawCheckpoint mirrors the wire JSON shape; unknown fields are tolerated
// by json.Unmarshal automatically, and every field here is optional so the
// format can widen without breaking older checkpoints.
type rawCheckpoint struct {
	Sha           string          `json:"sha"`
	Timestamp     json.Number     `json:"timestamp"`
	FilesReviewed []string        `json:"filesReviewed"`
	CommentCount  int             `json:"commentCount"`
	Verdict       domain.Verdict  `json:"verdict"`
}

// Serialize renders a checkpoint into its wire form for embedding in a
// comment body.
func Serialize(cp domain.ReviewCheckpoint) string {
	if cp.Verdict == "" {
		cp.Verdict = domain.VerdictComment
	}
	if cp.FilesReviewed == nil {
		cp.FilesReviewed = []string{}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		// Marshal of a plain struct of strings/ints/slices cannot fail in
		// practice; fall back to an empty-ish payload rather than panic.
		data = []byte(`{"sha":"","timestamp":0}`)
	}
	return Marker + string(data) + MarkerSuffix
}

// Parse finds the first checkpoint marker in body and decodes it. It
// returns ok=false on malformed JSON or a missing required field (sha,
// timestamp) per spec: callers MUST fall back to a full review in that
// case, never treat a malformed checkpoint as "no checkpoint equals empty
// state".
func Parse(body string) (cp domain.ReviewCheckpoint, ok bool) {
	start := strings.Index(body, Marker)
	if start == -1 {
		return domain.ReviewCheckpoint{}, false
	}
	rest := body[start+len(Marker):]
	end := strings.Index(rest, MarkerSuffix)
	if end == -1 {
		return domain.ReviewCheckpoint{}, false
	}
	payload := rest[:end]

	var raw rawCheckpoint
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		slog.Warn("malformed checkpoint json", "error", err)
		return domain.ReviewCheckpoint{}, false
	}
	if raw.Sha == "" || raw.Timestamp == "" {
		slog.Warn("checkpoint missing required field", "sha", raw.Sha, "timestamp", raw.Timestamp)
		return domain.ReviewCheckpoint{}, false
	}
	ts, err := raw.Timestamp.Int64()
	if err != nil {
		slog.Warn("checkpoint timestamp not numeric", "value", string(raw.Timestamp))
		return domain.ReviewCheckpoint{}, false
	}

	verdict := raw.Verdict
	if verdict == "" {
		verdict = domain.VerdictComment
	}
	files := raw.FilesReviewed
	if files == nil {
		files = []string{}
	}

	return domain.ReviewCheckpoint{
		Sha:           raw.Sha,
		Timestamp:     ts,
		FilesReviewed: files,
		CommentCount:  raw.CommentCount,
		Verdict:       verdict,
	}, true
}

// FindCheckpointComment scans comments, parses every body, and returns the
// id and checkpoint of the one with the greatest timestamp. ok is false if
// no comment yielded a parseable checkpoint.
func FindCheckpointComment(comments []domain.DetailedReviewComment) (id string, cp domain.ReviewCheckpoint, ok bool) {
	var best domain.ReviewCheckpoint
	var bestID string
	found := false
	for _, c := range comments {
		parsed, parsedOK := Parse(c.Body)
		if !parsedOK {
			continue
		}
		if !found || parsed.Timestamp > best.Timestamp {
			best = parsed
			bestID = c.ID
			found = true
		}
	}
	return bestID, best, found
}

// IsStale reports whether cp is older than maxDays.
func IsStale(cp domain.ReviewCheckpoint, maxDays int) bool {
	nowMs := time.Now().UnixMilli()
	thresholdMs := int64(maxDays) * 86_400_000
	return nowMs-cp.Timestamp*1000 > thresholdMs
}

// ValidateSha reports whether the checkpoint's sha is still usable: either
// it matches head exactly, or the platform reports the checkpoint is some
// number of commits ahead of where comparison started (i.e. still
// resolvable), per spec §4.3.
func ValidateSha(cp domain.ReviewCheckpoint, head string, commitsAhead int) bool {
	return cp.Sha == head || commitsAhead > 0
}
