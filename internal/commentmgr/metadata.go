package commentmgr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agnusai-reviewer/internal/domain"
	"agnusai-reviewer/internal/filter"
)

// AuthoringMarker tags every comment this system posts, distinguishing it
// from a human reviewer's comment at the same path/line when an adapter
// lacks a structured "author type" field.
const AuthoringMarker = "<!-- AGNUSAI: v1 -->"

const (
	metaPrefix = "<!-- AGNUSAI_META: "
	metaSuffix = " -->"
)

// MaxCommentBodyBytes bounds the rendered comment body, matching the
// smallest comment-length ceiling among target platforms; bodies longer
// than this are truncated before the sentinels are appended, never after,
// so the wire markers are always intact and parseable.
const MaxCommentBodyBytes = 65_000

// IdempotencyKey builds the posting key spec §4.8 defines:
// review-<sha7>-<sanitizedPath>-<line>-<issueId>.
func IdempotencyKey(headSha, path string, line int, issueID string) string {
	sha7 := headSha
	if len(sha7) > 7 {
		sha7 = sha7[:7]
	}
	sanitized := strings.ReplaceAll(path, "/", "_")
	return fmt.Sprintf("review-%s-%s-%d-%s", sha7, sanitized, line, issueID)
}

// BuildMetadata assembles the CommentMetadata embedded in a posted
// comment, keyed on the stable issue id so it survives line movement.
func BuildMetadata(commitSha string, issueID string, originalCode string) domain.CommentMetadata {
	return domain.CommentMetadata{
		CommitSha:    commitSha,
		IssueID:      issueID,
		OriginalCode: originalCode,
		Timestamp:    time.Now().Unix(),
	}
}

// RenderCommentBody embeds the authoring marker and metadata sentinel
// around comment's body and optional suggestion. The body is truncated,
// not the markers, if the combined length would exceed
// MaxCommentBodyBytes.
func RenderCommentBody(comment domain.ReviewComment, meta domain.CommentMetadata) string {
	body := comment.Body
	if comment.Suggestion != "" {
		body += "\n\n```suggestion\n" + comment.Suggestion + "\n```"
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = []byte(`{}`)
	}
	sentinel := "\n" + AuthoringMarker + "\n" + metaPrefix + string(metaJSON) + metaSuffix
	const truncatedMarker = "\n\n*[truncated]*"

	budget := MaxCommentBodyBytes - len(sentinel)
	if budget < 0 {
		budget = 0
	}
	if len(body) > budget {
		truncBudget := budget - len(truncatedMarker)
		if truncBudget < 0 {
			truncBudget = 0
		}
		body = body[:truncBudget] + truncatedMarker
	}
	return body + sentinel
}

// OriginalCodeSnippet extracts the hunk line(s) touching line in fd's
// content, used as CommentMetadata.OriginalCode so the dedup engine's
// code_changed check (spec §4.7, Open Question i) has something to
// compare against on the next run.
func OriginalCodeSnippet(fd domain.FileDiff, line int) string {
	changed := lineContent(fd, line)
	return changed
}

func lineContent(fd domain.FileDiff, target int) string {
	for _, h := range fd.Hunks {
		newLine := h.NewStart
		for _, raw := range strings.Split(h.Content, "\n") {
			switch {
			case strings.HasPrefix(raw, "+++"):
				continue
			case strings.HasPrefix(raw, "+"):
				if newLine == target {
					return raw[1:]
				}
				newLine++
			case strings.HasPrefix(raw, "-"):
				// old-side line, does not advance newLine
			case strings.HasPrefix(raw, "@@"):
				continue
			default:
				if strings.HasPrefix(raw, " ") && newLine == target {
					return strings.TrimPrefix(raw, " ")
				}
				newLine++
			}
		}
	}
	return ""
}

// issueID re-exports filter.IssueID so callers in this package do not
// need to import filter directly for the common case.
func issueID(path string, line int, body string) string {
	return filter.IssueID(path, line, body)
}
