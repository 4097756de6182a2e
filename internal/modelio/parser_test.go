package modelio

import (
	"testing"

	"agnusai-reviewer/internal/domain"
)

const wellFormed = `SUMMARY:
This change adds validation and fixes pagination.

[File: internal/handlers/signup.go, Line: 42]
Email is not validated. This is a Critical issue.
[Confidence: 0.9]

[File: internal/handlers/signup.go, Line: 50]
Minor naming nit. Major readability concern here.
[Confidence: 0.6]

VERDICT: request_changes
`

func TestParseWellFormed(t *testing.T) {
	res := Parse(wellFormed)
	if res.Truncated {
		t.Fatalf("did not expect truncation")
	}
	if res.Result.Verdict != domain.VerdictRequestChanges {
		t.Errorf("expected request_changes verdict, got %s", res.Result.Verdict)
	}
	if len(res.Result.Comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(res.Result.Comments))
	}
	c0 := res.Result.Comments[0]
	if c0.Path != "internal/handlers/signup.go" || c0.Line != 42 {
		t.Errorf("unexpected comment location: %+v", c0)
	}
	if c0.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", c0.Confidence)
	}
	if c0.Severity != domain.SeverityError {
		t.Errorf("expected error severity for Critical body, got %s", c0.Severity)
	}
	if res.Result.Summary == "" {
		t.Errorf("expected non-empty summary")
	}
}

func TestParseTruncatedNoVerdict(t *testing.T) {
	text := `SUMMARY:
partial response

[File: a.go, Line: 1]
issue one
[Confidence: 0.8]

[File: b.go, Line: 2]
issue two
[Confidence: 0.8]

[File: c.go, Line: 3]
issue three
[Confidence: 0.8]
`
	res := Parse(text)
	if !res.Truncated {
		t.Errorf("expected truncation signal when VERDICT is missing")
	}
	if len(res.Result.Comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(res.Result.Comments))
	}
	if res.Result.Verdict != domain.VerdictComment {
		t.Errorf("expected default verdict comment, got %s", res.Result.Verdict)
	}
}

func TestParseDefaultConfidence(t *testing.T) {
	text := "SUMMARY:\ns\n\n[File: a.go, Line: 1]\nno confidence tag here\n\nVERDICT: comment\n"
	res := Parse(text)
	if len(res.Result.Comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(res.Result.Comments))
	}
	if res.Result.Comments[0].Confidence != 0.5 {
		t.Errorf("expected default confidence 0.5, got %v", res.Result.Comments[0].Confidence)
	}
}

func TestParseEmptyBodySkipped(t *testing.T) {
	text := "SUMMARY:\ns\n\n[File: a.go, Line: 1]\n[Confidence: 0.9]\n\nVERDICT: comment\n"
	res := Parse(text)
	if len(res.Result.Comments) != 0 {
		t.Errorf("expected empty body comment to be dropped, got %d", len(res.Result.Comments))
	}
}

func TestParseInvalidLineSkipped(t *testing.T) {
	text := "SUMMARY:\ns\n\n[File: a.go, Line: notanumber]\nbody\n[Confidence: 0.9]\n\nVERDICT: comment\n"
	res := Parse(text)
	if len(res.Result.Comments) != 0 {
		t.Errorf("expected non-numeric line to be dropped, got %d", len(res.Result.Comments))
	}
}
