// Package prompt builds the model input text from a pull request, its
// diff, and optional supplementary context (review skills, graph context,
// prior examples). It owns the truncation policy and the mandatory
// wire-format instructions the response parser depends on.
package prompt

import (
	"fmt"
	"strings"

	"agnusai-reviewer/internal/domain"
)

// DefaultMaxDiffChars is used when Config.MaxDiffChars is zero.
const DefaultMaxDiffChars = 30_000

// GraphContext is the optional blast-radius context the external
// symbol-graph indexer may supply. Its absence is silent.
type GraphContext struct {
	ChangedSymbols []string
	OneHopCallers  []string
	TwoHopCallers  []string
	SemanticHints  []string
}

// Config tunes prompt construction.
type Config struct {
	MaxDiffChars int
}

// Input is everything the prompt builder needs to produce one model
// request.
type Input struct {
	PR             domain.PullRequest
	Diff           domain.Diff
	ReviewSkills   string
	Graph          *GraphContext
	PriorExamples  []string
}

// Build renders the full prompt string and reports whether the diff
// section was truncated.
func Build(in Input, cfg Config) (text string, truncated bool) {
	maxChars := cfg.MaxDiffChars
	if maxChars <= 0 {
		maxChars = DefaultMaxDiffChars
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing pull request #%d: %q\n", in.PR.Number, in.PR.Title)
	if in.PR.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.PR.Description)
	}
	fmt.Fprintf(&b, "Author: %s. Source: %s -> Target: %s. HEAD: %s\n\n",
		in.PR.Author, in.PR.SourceBranch, in.PR.TargetBranch, in.PR.HeadSha)

	if in.ReviewSkills != "" {
		b.WriteString("Review guidance:\n")
		b.WriteString(in.ReviewSkills)
		b.WriteString("\n\n")
	}

	if rules := detectRuleSection(in.Diff); rules != "" {
		b.WriteString(rules)
		b.WriteString("\n")
	}

	if in.Graph != nil {
		b.WriteString(renderGraphContext(*in.Graph))
		b.WriteString("\n")
	}

	diffText, diffTruncated := buildDiffSection(in.Diff, maxChars)
	truncated = diffTruncated
	b.WriteString("Diff (unified format, file by file):\n")
	b.WriteString(diffText)
	b.WriteString("\n\n")

	if len(in.PriorExamples) > 0 {
		b.WriteString("Examples of prior accepted findings on this repository:\n")
		for _, ex := range in.PriorExamples {
			fmt.Fprintf(&b, "- %s\n", ex)
		}
		b.WriteString("\n")
	}

	b.WriteString(instructions(in.Diff))

	return b.String(), truncated
}

func buildDiffSection(diff domain.Diff, maxChars int) (string, bool) {
	var b strings.Builder
	for i, f := range diff.Files {
		header := fmt.Sprintf("--- FILE: %s (%s) ---\n", f.Path, f.Status)
		var fileBody strings.Builder
		fileBody.WriteString(header)
		for _, h := range f.Hunks {
			fileBody.WriteString(h.Content)
			fileBody.WriteString("\n")
		}

		if b.Len()+fileBody.Len() > maxChars {
			remaining := len(diff.Files) - i
			fmt.Fprintf(&b, "\n[Diff truncated — %d more files]\n", remaining)
			return b.String(), true
		}
		b.WriteString(fileBody.String())
	}
	return b.String(), false
}

func renderGraphContext(g GraphContext) string {
	var b strings.Builder
	b.WriteString("Change impact context:\n")
	if len(g.ChangedSymbols) > 0 {
		fmt.Fprintf(&b, "Changed symbols: %s\n", strings.Join(g.ChangedSymbols, ", "))
	}
	if len(g.OneHopCallers) > 0 {
		fmt.Fprintf(&b, "Direct callers: %s\n", strings.Join(g.OneHopCallers, ", "))
	}
	if len(g.TwoHopCallers) > 0 {
		fmt.Fprintf(&b, "Transitive callers: %s\n", strings.Join(g.TwoHopCallers, ", "))
	}
	if len(g.SemanticHints) > 0 {
		fmt.Fprintf(&b, "Related code (semantic neighbors): %s\n", strings.Join(g.SemanticHints, ", "))
	}
	return b.String()
}

// instructions renders the mandatory wire-format contract, including the
// list of valid file paths and one worked example.
func instructions(diff domain.Diff) string {
	paths := make([]string, 0, len(diff.Files))
	for _, f := range diff.Files {
		paths = append(paths, f.Path)
	}

	var b strings.Builder
	b.WriteString("Respond using exactly this format and nothing else:\n\n")
	b.WriteString("SUMMARY:\n<2-3 sentence summary>\n\n")
	b.WriteString("[File: <path>, Line: <n>]\n<markdown body>\n[Confidence: <0.0-1.0>]\n\n")
	b.WriteString("VERDICT: approve|request_changes|comment\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- The path in every [File: ...] marker MUST appear verbatim in the file list below.\n")
	b.WriteString("- The line number MUST be a changed line of that file (a line shown with a leading '+').\n")
	b.WriteString("- Every comment MUST include a [Confidence: X.X] tag.\n")
	b.WriteString("- The VERDICT line is mandatory and must be the last line.\n")
	b.WriteString("- Do not reference any file that is not in the list below.\n\n")
	fmt.Fprintf(&b, "Files in this diff: %s\n\n", strings.Join(paths, ", "))
	b.WriteString("Worked example:\n")
	b.WriteString("SUMMARY:\n")
	b.WriteString("This change adds input validation to the signup handler and fixes an off-by-one error in pagination.\n\n")
	b.WriteString("[File: internal/handlers/signup.go, Line: 42]\n")
	b.WriteString("Email is not validated before insertion; consider using `net/mail.ParseAddress`.\n")
	b.WriteString("[Confidence: 0.9]\n\n")
	b.WriteString("VERDICT: request_changes\n")
	return b.String()
}

// detectRuleSection inspects file extensions touched by the diff and
// returns a terse, optional rules section for the dominant language. It
// never changes the mandatory wire-format instructions.
func detectRuleSection(diff domain.Diff) string {
	counts := map[string]int{}
	for _, f := range diff.Files {
		switch {
		case strings.HasSuffix(f.Path, ".go"):
			counts["go"]++
		case strings.HasSuffix(f.Path, ".ts") || strings.HasSuffix(f.Path, ".tsx"):
			counts["typescript"]++
		case strings.HasSuffix(f.Path, ".py"):
			counts["python"]++
		case strings.HasSuffix(f.Path, ".java"):
			counts["java"]++
		}
	}
	lang, max := "", 0
	for l, c := range counts {
		if c > max {
			lang, max = l, c
		}
	}
	switch lang {
	case "go":
		return "Language rules (Go): flag unchecked errors, goroutine leaks, missing context propagation on blocking calls.\n"
	case "typescript":
		return "Language rules (TypeScript): flag `any` escapes, missing null checks on optional chaining targets, unresolved promises.\n"
	case "python":
		return "Language rules (Python): flag bare `except:`, mutable default arguments, missing type hints on public functions.\n"
	case "java":
		return "Language rules (Java): flag resource leaks (missing try-with-resources), unchecked exceptions swallowed silently.\n"
	default:
		return ""
	}
}
