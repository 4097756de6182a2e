package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PullRequestTotal counts the total number of PRs processed, labeled by status.
	PullRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_pull_requests_total",
		Help: "The total number of processed pull requests",
	}, []string{"status"}) // status: started, success, failed

	// WebhookRequests counts incoming webhooks, labeled by status.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_webhook_requests_total",
		Help: "The total number of received webhook requests",
	}, []string{"status"}) // status: received, accepted, ignored, invalid_json, invalid_signature, error_read, dropped_concurrency

	// ProcessingDuration measures the time taken to process a PR (end-to-end).
	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_processing_duration_seconds",
		Help:    "Time taken to process a pull request",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"}) // result: success, error

	// MCPToolCalls counts MCP tool executions
	MCPToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_mcp_tool_calls_total",
		Help: "The total number of MCP tool calls",
	}, []string{"server", "tool", "status"}) // status: success, error

	// CommentPostFailures counts failed comment posts
	CommentPostFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pr_review_comment_failures_total",
		Help: "Total number of failed comment posts",
	}, []string{"reason"})

	// PayloadParseFailures counts failed payload parsing attempts
	PayloadParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_payload_parse_failures_total",
		Help: "Total number of webhook payloads that failed to parse",
	}, []string{"failure_type"}) // failure_type: gjson, llm, both

	// CommentsFiltered counts candidate comments dropped by the
	// deduplication engine, labeled by the dedup Reason that dropped them.
	CommentsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_comments_filtered_total",
		Help: "Total number of candidate review comments dropped before posting",
	}, []string{"reason"})

	// ReviewOutcomes counts completed reviews by verdict.
	ReviewOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_review_outcomes_total",
		Help: "Total number of completed reviews, labeled by verdict",
	}, []string{"verdict"})

	// CheckpointOutcomes counts how an incremental review's checkpoint
	// lookup resolved.
	CheckpointOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_checkpoint_outcomes_total",
		Help: "Total number of checkpoint resolutions, labeled by outcome",
	}, []string{"outcome"}) // outcome: found, missing, stale

	// IncrementalDiffOutcomes counts how getIncrementalDiff classified a
	// review request.
	IncrementalDiffOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_incremental_diff_outcomes_total",
		Help: "Total number of incremental diff classifications",
	}, []string{"outcome"}) // outcome: incremental, full_diverged, full_missing_base, no_change
)
