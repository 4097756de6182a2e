// Package modelio parses the model's raw textual output into a structured
// domain.ReviewResult. The wire grammar is plain text (SUMMARY:/[File:
// ...]/[Confidence: ...]/VERDICT:), never JSON, and the parser is a single
// pass over the string tolerant of surrounding whitespace.
package modelio

import (
	"regexp"
	"strconv"
	"strings"

	"agnusai-reviewer/internal/domain"
)

// ParseResult is the parsed model output plus parser-level diagnostics.
type ParseResult struct {
	Result    domain.ReviewResult
	Truncated bool
	Warnings  []string
}

var (
	fileMarkerRe  = regexp.MustCompile(`(?m)^\s*\[File:\s*([^,\]]+?)\s*,\s*Line:\s*([^\]]+?)\s*\]`)
	verdictRe     = regexp.MustCompile(`(?i)VERDICT:\s*(approve|request_changes|comment)`)
	confidenceRe  = regexp.MustCompile(`(?i)\[Confidence:\s*([0-9]*\.?[0-9]+)\s*\]`)
	summaryStartRe = regexp.MustCompile(`(?i)SUMMARY:`)
)

// Parse implements the C5 response-parser algorithm from spec §4.5.
func Parse(text string) ParseResult {
	var pr ParseResult

	pr.Result.Summary = extractSummary(text)

	fileMatches := fileMarkerRe.FindAllStringSubmatchIndex(text, -1)
	verdictLoc := verdictRe.FindStringSubmatchIndex(text)

	for i, m := range fileMatches {
		path := text[m[2]:m[3]]
		lineStr := text[m[4]:m[5]]

		bodyStart := m[1]
		bodyEnd := len(text)
		if i+1 < len(fileMatches) {
			bodyEnd = fileMatches[i+1][0]
		}
		if verdictLoc != nil && verdictLoc[0] < bodyEnd && verdictLoc[0] > bodyStart {
			bodyEnd = verdictLoc[0]
		}
		rawBody := text[bodyStart:bodyEnd]

		line, ok := parseLine(lineStr)
		body, confidence := extractConfidence(rawBody)
		body = strings.TrimSpace(body)
		if body == "" || !ok {
			continue
		}

		pr.Result.Comments = append(pr.Result.Comments, domain.ReviewComment{
			Path:       strings.TrimSpace(path),
			Line:       line,
			Body:       body,
			Severity:   classifySeverity(body),
			Confidence: confidence,
		})
	}

	if verdictLoc != nil {
		m := verdictRe.FindStringSubmatch(text)
		pr.Result.Verdict = domain.Verdict(strings.ToLower(m[1]))
	} else {
		pr.Result.Verdict = domain.VerdictComment
		pr.Warnings = append(pr.Warnings, "no VERDICT line found, defaulting to comment")
	}

	if len(fileMatches) > 0 && verdictLoc == nil {
		pr.Truncated = true
		pr.Warnings = append(pr.Warnings, "model output appears truncated: [File:] markers present but no VERDICT: line")
	}

	return pr
}

func extractSummary(text string) string {
	loc := summaryStartRe.FindStringIndex(text)
	if loc == nil {
		if len(text) > 500 {
			return strings.TrimSpace(text[:500])
		}
		return strings.TrimSpace(text)
	}
	start := loc[1]
	rest := text[start:]

	end := len(rest)
	if m := fileMarkerRe.FindStringIndex(rest); m != nil {
		end = m[0]
	}
	if m := verdictRe.FindStringIndex(rest); m != nil && m[0] < end {
		end = m[0]
	}
	return strings.TrimSpace(rest[:end])
}

func parseLine(s string) (int, bool) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// extractConfidence pulls the [Confidence: X.X] tag out of body, returning
// the body with the tag removed and the numeric confidence (default 0.5 if
// absent or out of range).
func extractConfidence(body string) (string, float64) {
	m := confidenceRe.FindStringSubmatchIndex(body)
	if m == nil {
		return body, 0.5
	}
	valStr := body[m[2]:m[3]]
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || val < 0 || val > 1 {
		val = 0.5
	}
	cleaned := body[:m[0]] + body[m[1]:]
	return cleaned, val
}

func classifySeverity(body string) domain.Severity {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "critical"):
		return domain.SeverityError
	case strings.Contains(lower, "major"):
		return domain.SeverityWarning
	default:
		return domain.SeverityInfo
	}
}
