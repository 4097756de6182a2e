package vcs

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// defaultMCPTimeout bounds the HTTP transport's client timeout when the
// endpoint does not otherwise specify one.
const defaultMCPTimeout = 30 * time.Second

// TokenRoundTripper injects an auth token into every outbound request,
// either as a Bearer Authorization header or a caller-named header.
type TokenRoundTripper struct {
	Base       http.RoundTripper
	Token      string
	AuthHeader string
}

func (t *TokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		if t.AuthHeader != "" {
			req.Header.Set(t.AuthHeader, t.Token)
		} else {
			req.Header.Set("Authorization", "Bearer "+t.Token)
		}
	}
	if t.Base == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.Base.RoundTrip(req)
}

// DefaultTransportFactory builds an mcp.Transport for stdio:// or
// http(s):// endpoints. Platform MCP servers are reached over HTTP/SSE in
// production; stdio is kept for local development against a server binary.
func DefaultTransportFactory(ctx context.Context, endpoint, token, authHeader string) (mcp.Transport, error) {
	switch {
	case strings.HasPrefix(endpoint, "stdio://"):
		return newStdioTransport(ctx, endpoint, token)
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return newSSETransport(endpoint, token, authHeader)
	default:
		return nil, fmt.Errorf("unsupported mcp endpoint scheme: %s", endpoint)
	}
}

func newStdioTransport(ctx context.Context, endpoint, token string) (mcp.Transport, error) {
	cmdLine := strings.TrimPrefix(endpoint, "stdio://")
	parts := splitWithQuotes(cmdLine)
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid stdio endpoint: %s", endpoint)
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if token != "" {
		cmd.Env = append(cmd.Environ(), "MCP_TOKEN="+token)
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func newSSETransport(endpoint, token, authHeader string) (mcp.Transport, error) {
	httpClient := &http.Client{Timeout: defaultMCPTimeout}
	if token != "" {
		httpClient.Transport = &TokenRoundTripper{
			Base:       http.DefaultTransport,
			Token:      token,
			AuthHeader: authHeader,
		}
	}
	return &mcp.SSEClientTransport{Endpoint: endpoint, HTTPClient: httpClient}, nil
}

func splitWithQuotes(s string) []string {
	var args []string
	var current []rune
	inQuote := false
	quoteChar := rune(0)

	for _, c := range s {
		if inQuote {
			if c == quoteChar {
				inQuote = false
			} else {
				current = append(current, c)
			}
		} else {
			switch c {
			case '"', '\'':
				inQuote = true
				quoteChar = c
			case ' ', '\t':
				if len(current) > 0 {
					args = append(args, string(current))
					current = nil
				}
			default:
				current = append(current, c)
			}
		}
	}
	if len(current) > 0 {
		args = append(args, string(current))
	}
	return args
}
