// Command reviewctl triggers a one-off review outside the webhook path,
// for backfilling a pull request the webhook missed or re-running a
// review after a configuration change.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"agnusai-reviewer/internal/commentmgr"
	"agnusai-reviewer/internal/config"
	"agnusai-reviewer/internal/llm"
	"agnusai-reviewer/internal/orchestrator"
	"agnusai-reviewer/internal/storage"
	"agnusai-reviewer/internal/vcs"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var forceFull bool
	var skipCheckpoint bool

	cmd := &cobra.Command{
		Use:   "reviewctl <platform> <owner/repo#number>",
		Short: "Trigger a pull request review outside the webhook path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, prID := args[0], args[1]

			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "warning: load .env file: %v\n", err)
			}

			cfg := config.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}

			registry := vcs.NewRegistry(cfg)
			defer registry.Close()

			llmClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)

			var store storage.Repository
			if cfg.Storage.Driver == "sqlite" {
				var err error
				store, err = storage.NewSQLiteRepository(cfg.Storage.DSN)
				if err != nil {
					return fmt.Errorf("init storage: %w", err)
				}
				defer store.Close()
			}

			runtime := orchestrator.New(registry, llmClient, store, orchestrator.Options{
				PrecisionThreshold:     cfg.Review.PrecisionThreshold,
				MaxComments:            cfg.Review.MaxComments,
				MaxCommentsPerFile:     cfg.Review.MaxCommentsPerFile,
				SkipDrafts:             cfg.Review.SkipDrafts,
				LenientOnTests:         cfg.Review.LenientOnTests,
				SkipPatterns:           cfg.Review.SkipPatterns,
				UpdateExistingComments: cfg.Review.UpdateExistingComments,
				MaxDiffChars:           cfg.Review.MaxDiffChars,
				StaleCheckpointDays:    cfg.Review.StaleCheckpointDays,
				CommentPosting: commentmgr.Config{
					UpdateExistingComments: cfg.Review.UpdateExistingComments,
				},
			})

			ctx := context.Background()
			var outcome orchestrator.Outcome
			var err error
			if forceFull {
				outcome, err = runtime.Review(ctx, platform, prID)
			} else {
				outcome, err = runtime.IncrementalReview(ctx, platform, prID, orchestrator.ReviewOptions{
					SkipCheckpoint: skipCheckpoint,
				})
			}
			if err != nil {
				return fmt.Errorf("review failed: %w", err)
			}

			slog.Info("review complete",
				"platform", platform,
				"pr", prID,
				"diff_outcome", outcome.DiffOutcome,
				"comments_kept", outcome.CommentsKept,
				"summary", outcome.SummaryText,
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceFull, "force-full", false, "ignore any checkpoint and review the entire diff")
	cmd.Flags().BoolVar(&skipCheckpoint, "skip-checkpoint", false, "review the full diff once without consuming the existing checkpoint")

	return cmd
}
