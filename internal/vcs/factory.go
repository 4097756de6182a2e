package vcs

import "agnusai-reviewer/internal/config"

const (
	bitbucketServer = "bitbucket"
	githubServer    = "github"
)

// Registry holds the constructed adapters for every platform the running
// process is configured against, keyed by platform name.
type Registry struct {
	client   *MCPClient
	adapters map[string]Adapter
}

// NewRegistry builds an MCPClient from cfg and registers an adapter for
// every platform with a non-empty endpoint. It does not probe
// capabilities; callers discover them with the Has*Support type assertions.
func NewRegistry(cfg *config.Config) *Registry {
	client := NewMCPClient(RetryConfig{
		Attempts:   cfg.MCP.Retry.Attempts,
		Backoff:    cfg.MCP.Retry.Backoff,
		MaxBackoff: cfg.MCP.Retry.MaxBackoff,
	})

	reg := &Registry{client: client, adapters: make(map[string]Adapter)}

	if cfg.MCP.Bitbucket.Endpoint != "" {
		client.Register(bitbucketServer, cfg.MCP.Bitbucket.Endpoint, cfg.MCP.Bitbucket.Token, cfg.MCP.Bitbucket.AuthHeader, cfg.MCP.Bitbucket.AllowedTools)
		reg.adapters["bitbucket"] = NewBitbucketAdapter(client, bitbucketServer)
	}
	if cfg.MCP.GitHub.Endpoint != "" {
		client.Register(githubServer, cfg.MCP.GitHub.Endpoint, cfg.MCP.GitHub.Token, cfg.MCP.GitHub.AuthHeader, cfg.MCP.GitHub.AllowedTools)
		reg.adapters["github"] = NewGitHubAdapter(client, githubServer)
	}

	return reg
}

// Adapter returns the registered adapter for platform, if any.
func (r *Registry) Adapter(platform string) (Adapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}

// Close releases all underlying MCP connections.
func (r *Registry) Close() error {
	return r.client.Close()
}
