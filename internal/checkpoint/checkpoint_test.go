package checkpoint

import (
	"reflect"
	"testing"
	"time"

	"agnusai-reviewer/internal/domain"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	cases := []domain.ReviewCheckpoint{
		{Sha: "abc123", Timestamp: 1700000000, FilesReviewed: []string{}, CommentCount: 0, Verdict: domain.VerdictComment},
		{Sha: "def456", Timestamp: 1700000001, FilesReviewed: []string{"a/b.go", "path/with spaces/ and/trailing/"}, CommentCount: 3, Verdict: domain.VerdictApprove},
	}
	for _, cp := range cases {
		body := "some preamble\n" + Serialize(cp) + "\ntrailer"
		got, ok := Parse(body)
		if !ok {
			t.Fatalf("expected parseable checkpoint for %+v", cp)
		}
		if !reflect.DeepEqual(got, cp) {
			t.Errorf("round trip mismatch: want %+v got %+v", cp, got)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	_, ok := Parse("body with " + Marker + `{not json` + MarkerSuffix)
	if ok {
		t.Fatalf("expected malformed checkpoint to fail parsing")
	}
}

func TestParseMissingRequiredFields(t *testing.T) {
	_, ok := Parse(Marker + `{"filesReviewed":[]}` + MarkerSuffix)
	if ok {
		t.Fatalf("expected checkpoint missing sha/timestamp to fail")
	}
}

func TestParseNoMarker(t *testing.T) {
	_, ok := Parse("just a regular comment")
	if ok {
		t.Fatalf("expected no checkpoint found")
	}
}

func TestFindCheckpointCommentNewestWins(t *testing.T) {
	comments := []domain.DetailedReviewComment{
		{ID: "1", Body: Serialize(domain.ReviewCheckpoint{Sha: "old", Timestamp: 100})},
		{ID: "2", Body: "not a checkpoint"},
		{ID: "3", Body: Serialize(domain.ReviewCheckpoint{Sha: "newest", Timestamp: 300})},
		{ID: "4", Body: Serialize(domain.ReviewCheckpoint{Sha: "mid", Timestamp: 200})},
	}
	id, cp, ok := FindCheckpointComment(comments)
	if !ok {
		t.Fatalf("expected a checkpoint to be found")
	}
	if id != "3" || cp.Sha != "newest" {
		t.Errorf("expected newest checkpoint (id=3, sha=newest), got id=%s sha=%s", id, cp.Sha)
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now().Unix()
	fresh := domain.ReviewCheckpoint{Timestamp: now}
	if IsStale(fresh, 30) {
		t.Errorf("fresh checkpoint should not be stale")
	}
	old := domain.ReviewCheckpoint{Timestamp: now - 31*86_400}
	if !IsStale(old, 30) {
		t.Errorf("31-day-old checkpoint should be stale at threshold 30")
	}
}

func TestValidateSha(t *testing.T) {
	cp := domain.ReviewCheckpoint{Sha: "abc"}
	if !ValidateSha(cp, "abc", 0) {
		t.Errorf("matching sha should validate")
	}
	if !ValidateSha(cp, "def", 5) {
		t.Errorf("non-matching sha with commitsAhead>0 should validate")
	}
	if ValidateSha(cp, "def", 0) {
		t.Errorf("non-matching sha with no commits ahead should not validate")
	}
}
