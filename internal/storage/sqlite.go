package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, CGo-free

	"agnusai-reviewer/internal/domain"
)

// SQLiteRepository stores review audit records in a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (and migrates) a SQLite database at dsn.
func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS reviews (
        id          TEXT PRIMARY KEY,
        repo        TEXT NOT NULL,
        pr_number   INTEGER NOT NULL,
        pr_data     TEXT NOT NULL,
        result_data TEXT NOT NULL,
        outcome     TEXT NOT NULL DEFAULT '',
        created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
        duration_ms INTEGER,
        status      TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_reviews_pr ON reviews(repo, pr_number);
    CREATE INDEX IF NOT EXISTS idx_reviews_created ON reviews(created_at);
    `
	_, err := db.Exec(schema)
	return err
}

func (r *SQLiteRepository) SaveReview(ctx context.Context, record *ReviewRecord) error {
	prData, err := json.Marshal(record.PullRequest)
	if err != nil {
		return fmt.Errorf("marshal pr: %w", err)
	}
	resultData, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO reviews (id, repo, pr_number, pr_data, result_data, outcome, duration_ms, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, record.ID, record.PullRequest.Repo, record.PullRequest.Number,
		string(prData), string(resultData), record.Outcome, record.DurationMs, record.Status, record.CreatedAt)
	return err
}

func (r *SQLiteRepository) GetReview(ctx context.Context, id string) (*ReviewRecord, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT id, pr_data, result_data, outcome, created_at, duration_ms, status
        FROM reviews WHERE id = ?
    `, id)
	return scanReview(row)
}

func (r *SQLiteRepository) ListReviewsByPR(ctx context.Context, repo string, number int) ([]*ReviewRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, pr_data, result_data, outcome, created_at, duration_ms, status
        FROM reviews
        WHERE repo = ? AND pr_number = ?
        ORDER BY created_at DESC
    `, repo, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (r *SQLiteRepository) ListRecentReviews(ctx context.Context, limit int) ([]*ReviewRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, pr_data, result_data, outcome, created_at, duration_ms, status
        FROM reviews
        ORDER BY created_at DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// scanner lets scanReview accept either a *sql.Row or *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAll(rows *sql.Rows) ([]*ReviewRecord, error) {
	var records []*ReviewRecord
	for rows.Next() {
		record, err := scanReview(rows)
		if err != nil {
			slog.Warn("scan review failed", "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanReview(s scanner) (*ReviewRecord, error) {
	var id, prData, resultData, outcome, status string
	var createdAt time.Time
	var durationMs int64

	if err := s.Scan(&id, &prData, &resultData, &outcome, &createdAt, &durationMs, &status); err != nil {
		return nil, err
	}

	var pr domain.PullRequest
	if err := json.Unmarshal([]byte(prData), &pr); err != nil {
		return nil, fmt.Errorf("unmarshal pr: %w", err)
	}
	var result domain.ReviewResult
	if err := json.Unmarshal([]byte(resultData), &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	return &ReviewRecord{
		ID:          id,
		PullRequest: &pr,
		Result:      &result,
		Outcome:     outcome,
		CreatedAt:   createdAt,
		DurationMs:  durationMs,
		Status:      status,
	}, nil
}
