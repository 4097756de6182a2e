// Package diffmodel parses unified diffs into domain.Diff values and
// derives the per-file line-number functions the rest of the orchestrator
// depends on: the set of changed new-side lines, and the old-to-new line
// movement map used to detect deleted and shifted lines.
package diffmodel

import (
	"regexp"
	"strconv"
	"strings"

	"agnusai-reviewer/internal/domain"
)

// hunkHeaderRe matches unified diff hunk headers, tolerating the omitted
// length form (`@@ -A +B @@` meaning one line on each side).
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseUnifiedDiff parses a raw unified diff (as returned by a VCS adapter
// for a whole PR or a commit range) into a domain.Diff.
func ParseUnifiedDiff(raw string) domain.Diff {
	var diff domain.Diff
	var cur *domain.FileDiff
	var curHunk *domain.Hunk
	var hunkLines []string

	flushHunk := func() {
		if cur != nil && curHunk != nil {
			curHunk.Content = strings.Join(hunkLines, "\n")
			cur.Hunks = append(cur.Hunks, *curHunk)
		}
		curHunk = nil
		hunkLines = nil
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			diff.Files = append(diff.Files, *cur)
		}
		cur = nil
	}

	lines := strings.Split(raw, "\n")
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			path := extractGitDiffPath(line)
			cur = &domain.FileDiff{Path: path, Status: domain.FileModified}
		case strings.HasPrefix(line, "new file mode"):
			if cur != nil {
				cur.Status = domain.FileAdded
			}
		case strings.HasPrefix(line, "deleted file mode"):
			if cur != nil {
				cur.Status = domain.FileDeleted
			}
		case strings.HasPrefix(line, "rename from "):
			if cur != nil {
				cur.OldPath = domain.NormalizePath(strings.TrimPrefix(line, "rename from "))
				cur.Status = domain.FileRenamed
			}
		case strings.HasPrefix(line, "rename to "):
			if cur != nil {
				cur.Path = domain.NormalizePath(strings.TrimPrefix(line, "rename to "))
			}
		case strings.HasPrefix(line, "--- "):
			// a/path or /dev/null; oldPath already set by rename handling,
			// otherwise leave blank for a plain modification.
		case strings.HasPrefix(line, "+++ "):
			if cur == nil {
				continue
			}
			p := domain.NormalizePath(strings.TrimPrefix(line, "+++ "))
			if p != "/dev/null" && p != "" {
				cur.Path = p
			}
		case strings.HasPrefix(line, "@@"):
			if cur == nil {
				continue
			}
			flushHunk()
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			curHunk = &domain.Hunk{
				OldStart: atoiDefault(m[1], 0),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewLines: atoiDefault(m[4], 1),
			}
			hunkLines = []string{line}
		default:
			if curHunk != nil {
				hunkLines = append(hunkLines, line)
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					cur.Additions++
				} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
					cur.Deletions++
				}
			}
		}
	}
	flushFile()
	return diff
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func extractGitDiffPath(header string) string {
	// "diff --git a/foo/bar.go b/foo/bar.go"
	parts := strings.Fields(header)
	if len(parts) < 4 {
		return ""
	}
	return domain.NormalizePath(parts[3])
}

// ChangedLines walks the hunks of a FileDiff with a cursor starting at
// NewStart; `+` lines contribute the cursor value and advance it, `-`
// lines do not advance the cursor, and context lines advance it without
// contributing. Hunk headers and no-newline markers are ignored.
func ChangedLines(file domain.FileDiff) map[int]struct{} {
	result := make(map[int]struct{})
	for _, h := range file.Hunks {
		cursor := h.NewStart
		for _, line := range strings.Split(h.Content, "\n") {
			switch {
			case strings.HasPrefix(line, "@@"):
				continue
			case strings.HasPrefix(line, `\`):
				continue
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				result[cursor] = struct{}{}
				cursor++
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				// deletion does not advance the new-side cursor
			default:
				cursor++
			}
		}
	}
	return result
}

// TrackLineMovement returns a map from old-side line number to new-side
// line number for every line present on the old side. Deleted lines map to
// -1. Added lines are not present in the result (they have no old-side
// line).
func TrackLineMovement(file domain.FileDiff) map[int]int {
	result := make(map[int]int)
	for _, h := range file.Hunks {
		oldCursor := h.OldStart
		newCursor := h.NewStart
		for _, line := range strings.Split(h.Content, "\n") {
			switch {
			case strings.HasPrefix(line, "@@"):
				continue
			case strings.HasPrefix(line, `\`):
				continue
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				newCursor++
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				result[oldCursor] = -1
				oldCursor++
			default:
				result[oldCursor] = newCursor
				oldCursor++
				newCursor++
			}
		}
	}
	return result
}
