package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agnusai-reviewer/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "agnusai-storage-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	repo, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	pr := &domain.PullRequest{
		Repo:        "acme/widgets",
		Number:      101,
		Title:       "Test PR",
		Description: "A test PR",
		Author:      "tester",
	}

	result := &domain.ReviewResult{
		Summary: "looks good",
		Verdict: domain.VerdictApprove,
		Comments: []domain.ReviewComment{
			{Path: "main.go", Line: 10, Body: "nice"},
		},
	}

	record := &ReviewRecord{
		ID:          "test-record-1",
		PullRequest: pr,
		Result:      result,
		Outcome:     "incremental",
		CreatedAt:   time.Now().UTC(),
		DurationMs:  1500,
		Status:      "success",
	}

	ctx := context.Background()
	if err := repo.SaveReview(ctx, record); err != nil {
		t.Fatalf("SaveReview failed: %v", err)
	}

	saved, err := repo.GetReview(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetReview failed: %v", err)
	}
	if saved.ID != record.ID {
		t.Errorf("expected ID %s, got %s", record.ID, saved.ID)
	}
	if saved.PullRequest.Number != pr.Number {
		t.Errorf("expected PR number %d, got %d", pr.Number, saved.PullRequest.Number)
	}
	if saved.Outcome != "incremental" {
		t.Errorf("expected outcome incremental, got %s", saved.Outcome)
	}

	list, err := repo.ListReviewsByPR(ctx, "acme/widgets", 101)
	if err != nil {
		t.Fatalf("ListReviewsByPR failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 record, got %d", len(list))
	}

	recent, err := repo.ListRecentReviews(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentReviews failed: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("expected 1 record, got %d", len(recent))
	}
}
