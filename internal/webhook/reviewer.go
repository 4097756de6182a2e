package webhook

import (
	"context"

	"agnusai-reviewer/internal/orchestrator"
)

// ReviewTrigger is the orchestrator surface a webhook handler needs: queue
// one review for a platform-qualified pull request.
type ReviewTrigger interface {
	IncrementalReview(ctx context.Context, platform, prID string, opts orchestrator.ReviewOptions) (orchestrator.Outcome, error)
}
