// Package storage persists an audit trail of completed reviews. It is
// never the checkpoint source of truth — internal/checkpoint owns that,
// embedded in the PR's own comment stream — so a missing or corrupted
// audit log never blocks a review.
package storage

import (
	"context"
	"time"

	"agnusai-reviewer/internal/domain"
)

// ReviewRecord is one completed review, kept for audit and troubleshooting.
type ReviewRecord struct {
	ID          string               `json:"id"`
	PullRequest *domain.PullRequest  `json:"pull_request"`
	Result      *domain.ReviewResult `json:"result"`
	Outcome     string               `json:"outcome"`
	CreatedAt   time.Time            `json:"created_at"`
	DurationMs  int64                `json:"duration_ms"`
	Status      string               `json:"status"` // success, error
}

// Repository is the audit-log persistence boundary.
type Repository interface {
	SaveReview(ctx context.Context, record *ReviewRecord) error
	GetReview(ctx context.Context, id string) (*ReviewRecord, error)
	ListReviewsByPR(ctx context.Context, repo string, number int) ([]*ReviewRecord, error)
	ListRecentReviews(ctx context.Context, limit int) ([]*ReviewRecord, error)
	Close() error
}
