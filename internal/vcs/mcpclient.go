// Package vcs implements the VCS adapter contract (C1): a
// platform-agnostic set of operations against a pull-request hosting
// service, backed by the Model Context Protocol. mcpclient.go adapts the
// teacher's MCP connection manager (transport factory, circuit breaker,
// singleflight reconnect) with the ADK toolset-conversion layer stripped
// out, calling the MCP go-sdk's client session directly.
package vcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"
)

// TransportFactory creates a new MCP transport for one server endpoint.
type TransportFactory func(ctx context.Context, endpoint, token, authHeader string) (mcp.Transport, error)

const (
	circuitFailureThreshold = 3
	circuitOpenDuration     = 30 * time.Second
)

type circuitState struct {
	failures    int
	lastFailure time.Time
	openUntil   time.Time
}

func (cs *circuitState) isOpen() bool {
	return cs != nil && time.Now().Before(cs.openUntil)
}

type endpointInfo struct {
	endpoint     string
	token        string
	authHeader   string
	allowedTools []string
}

// RetryConfig tunes per-call retry and reconnect backoff.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// MCPClient manages one MCP server connection with circuit-breaker
// protection and singleflight-deduplicated reconnects.
type MCPClient struct {
	retry            RetryConfig
	transportFactory TransportFactory

	mu        sync.RWMutex
	endpoints map[string]endpointInfo
	sessions  map[string]*mcp.ClientSession
	stale     map[string]bool
	circuits  map[string]*circuitState

	requestGroup singleflight.Group
	baseCtx      context.Context
	cancel       context.CancelFunc
}

// NewMCPClient constructs a client using the default HTTP/stdio transport
// factory; tests may override it with SetTransportFactory.
func NewMCPClient(retry RetryConfig) *MCPClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &MCPClient{
		retry:            retry,
		transportFactory: DefaultTransportFactory,
		endpoints:        make(map[string]endpointInfo),
		sessions:         make(map[string]*mcp.ClientSession),
		stale:            make(map[string]bool),
		circuits:         make(map[string]*circuitState),
		baseCtx:          ctx,
		cancel:           cancel,
	}
}

// SetTransportFactory overrides how transports are created (used by tests
// and by alternate deployment topologies).
func (c *MCPClient) SetTransportFactory(tf TransportFactory) {
	c.transportFactory = tf
}

// Register configures one named server endpoint. It does not connect
// eagerly; the first CallTool triggers connection.
func (c *MCPClient) Register(name, endpoint, token, authHeader string, allowedTools []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[name] = endpointInfo{endpoint: endpoint, token: token, authHeader: authHeader, allowedTools: allowedTools}
}

// Close releases all sessions.
func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	var errs []error
	for name, session := range c.sessions {
		if closer, ok := any(session).(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
		delete(c.sessions, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close sessions: %v", errs)
	}
	return nil
}

func (c *MCPClient) getOrReconnect(ctx context.Context, name string) (*mcp.ClientSession, error) {
	c.mu.RLock()
	session, hasSession := c.sessions[name]
	isStale := c.stale[name]
	circuit := c.circuits[name]
	c.mu.RUnlock()

	if circuit.isOpen() {
		return nil, fmt.Errorf("circuit open: %s", name)
	}
	if hasSession && !isStale {
		return session, nil
	}

	val, err, _ := c.requestGroup.Do(name, func() (interface{}, error) {
		c.mu.RLock()
		session, hasSession := c.sessions[name]
		isStale := c.stale[name]
		c.mu.RUnlock()
		if hasSession && !isStale {
			return session, nil
		}
		return c.reconnect(ctx, name)
	})
	if err != nil {
		c.recordFailure(name)
		return nil, err
	}
	return val.(*mcp.ClientSession), nil
}

func (c *MCPClient) recordFailure(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	circuit := c.circuits[name]
	if circuit == nil {
		circuit = &circuitState{}
		c.circuits[name] = circuit
	}
	circuit.failures++
	circuit.lastFailure = time.Now()
	if circuit.failures >= circuitFailureThreshold {
		circuit.openUntil = time.Now().Add(circuitOpenDuration)
		slog.Warn("mcp circuit breaker opened", "server", name, "failures", circuit.failures)
	}
}

func (c *MCPClient) reconnect(ctx context.Context, name string) (*mcp.ClientSession, error) {
	c.mu.RLock()
	info, ok := c.endpoints[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcp server not configured: %s", name)
	}

	transport, err := c.transportFactory(c.baseCtx, info.endpoint, info.token, info.authHeader)
	if err != nil {
		return nil, fmt.Errorf("create transport %s: %w", name, err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "agnusai-reviewer", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}

	c.mu.Lock()
	c.sessions[name] = session
	c.stale[name] = false
	delete(c.circuits, name)
	c.mu.Unlock()

	slog.Info("mcp connected", "server", name)
	return session, nil
}

func (c *MCPClient) forceReconnect(name string) {
	c.mu.Lock()
	c.stale[name] = true
	c.mu.Unlock()
}

func (c *MCPClient) backoff(ctx context.Context, attempt int) {
	d := c.retry.Backoff * time.Duration(1<<attempt)
	if c.retry.MaxBackoff > 0 && d > c.retry.MaxBackoff {
		d = c.retry.MaxBackoff
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// CallTool calls toolName on server with retry-and-reconnect semantics. If
// the endpoint was registered with a non-empty allow-list, toolName must
// appear in it.
func (c *MCPClient) CallTool(ctx context.Context, server, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	info := c.endpoints[server]
	c.mu.RUnlock()
	if len(info.allowedTools) > 0 && !contains(info.allowedTools, toolName) {
		return nil, fmt.Errorf("tool %s not in allowed_tools for server %s", toolName, server)
	}

	maxAttempts := c.retry.Attempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		session, err := c.getOrReconnect(ctx, server)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts-1 {
				c.backoff(ctx, attempt)
				continue
			}
			return nil, lastErr
		}

		result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: args})
		if err == nil {
			return result, nil
		}

		lastErr = err
		slog.Warn("mcp call tool failed", "server", server, "tool", toolName, "attempt", attempt, "error", err)
		c.forceReconnect(server)
		c.recordFailure(server)
		if attempt < maxAttempts-1 {
			c.backoff(ctx, attempt)
		}
	}
	return nil, fmt.Errorf("call tool %s/%s: %d attempts exhausted: %w", server, toolName, maxAttempts, lastErr)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
