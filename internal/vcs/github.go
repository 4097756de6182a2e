package vcs

// NewGitHubAdapter builds an Adapter backed by a GitHub MCP server.
// GitHub addresses pull requests by owner/repo/number, which maps
// directly onto prRef.
func NewGitHubAdapter(client *MCPClient, server string) Adapter {
	return &mcpAdapter{
		platform: "github",
		server:   server,
		client:   client,
		tools: toolNames{
			getPullRequest:    "github_get_pull_request",
			getDiff:           "github_get_pull_request_diff",
			getDiffRange:      "github_compare_commits_diff",
			getFileContent:    "github_get_file_content",
			listComments:      "github_list_review_comments",
			addInlineComment:  "github_create_review_comment",
			addSummaryComment: "github_create_issue_comment",
			updateComment:     "github_update_review_comment",
			replyToComment:    "github_reply_to_review_comment",
			compareCommits:    "github_compare_commits",
		},
	}
}
