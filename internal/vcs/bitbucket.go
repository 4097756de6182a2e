package vcs

// NewBitbucketAdapter builds an Adapter backed by a Bitbucket MCP server.
// Bitbucket Server/Cloud expose pull request comments, diffs and commit
// comparison through a project/repo/pull-request-id triple, which the
// shared mcpAdapter addresses through prRef's Owner (project key) and
// Repo (repo slug) fields.
func NewBitbucketAdapter(client *MCPClient, server string) Adapter {
	return &mcpAdapter{
		platform: "bitbucket",
		server:   server,
		client:   client,
		tools: toolNames{
			getPullRequest:    "bitbucket_get_pull_request",
			getDiff:           "bitbucket_get_pull_request_diff",
			getDiffRange:      "bitbucket_get_diff_range",
			getFileContent:    "bitbucket_get_file_content",
			listComments:      "bitbucket_list_pull_request_comments",
			addInlineComment:  "bitbucket_add_inline_comment",
			addSummaryComment: "bitbucket_add_comment",
			updateComment:     "bitbucket_update_comment",
			replyToComment:    "bitbucket_reply_to_comment",
			compareCommits:    "bitbucket_compare_commits",
		},
	}
}
