// Package toolserver resolves the tool identifiers declared on incident
// cards into live MCP server sessions.
package toolserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/jneo8/mcp-sentinel/internal/models"
)

// sessionTimeout bounds both the HTTP transport and the initialize handshake.
const sessionTimeout = 30 * time.Second

const clientName = "mcp-sentinel"

// Handle is a resolved tool handle understood by the agent runtime. The
// registry produces remote *Session handles; callers may also supply
// *LocalTool handles for in-process tools.
type Handle interface {
	Name() string
}

// LocalTool is an in-process tool exposed directly to the agent runtime.
type LocalTool struct {
	ToolName        string
	ToolDescription string
	InputSchema     map[string]any
	Invoke          func(ctx context.Context, args map[string]any) (string, error)
}

// Name implements Handle.
func (t *LocalTool) Name() string { return t.ToolName }

// Description distinguishes local tools from remote sessions during handle
// partitioning.
func (t *LocalTool) Description() string { return t.ToolDescription }

// Session is a handle on one remote MCP tool server. Construction is cheap
// and offline; Connect opens the streamable HTTP session. A session is owned
// by exactly one incident execution and never reused.
type Session struct {
	name    string
	config  models.ToolServerConfig
	allowed []string // nil means every tool the server exposes

	mu        sync.Mutex
	client    *mcpclient.Client
	toolCache []mcp.Tool
}

// Name implements Handle.
func (s *Session) Name() string { return s.name }

// AllowedTools returns the tool allow-list; nil means unrestricted.
func (s *Session) AllowedTools() []string { return s.allowed }

// ServerURL returns the configured endpoint.
func (s *Session) ServerURL() string { return s.config.ServerURL }

// Connect opens the streamable HTTP transport and performs the MCP
// initialize handshake.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	headers := make(map[string]string, len(s.config.Headers)+1)
	for k, v := range s.config.Headers {
		headers[k] = v
	}
	if s.config.Authorization != "" {
		if _, ok := headers["Authorization"]; !ok {
			headers["Authorization"] = s.config.Authorization
		}
	}

	c, err := mcpclient.NewStreamableHttpClient(
		s.config.ServerURL,
		transport.WithHTTPHeaders(headers),
		transport.WithHTTPTimeout(sessionTimeout),
	)
	if err != nil {
		return fmt.Errorf("create MCP client for %s: %w", s.name, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	if err := c.Start(connectCtx); err != nil {
		return fmt.Errorf("start MCP session %s: %w", s.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: "1.0.0",
	}
	result, err := c.Initialize(connectCtx, initReq)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize MCP session %s: %w", s.name, err)
	}

	log.Info().
		Str("server", s.name).
		Str("url", s.config.ServerURL).
		Str("server_name", result.ServerInfo.Name).
		Str("server_version", result.ServerInfo.Version).
		Msg("Connected to MCP server")

	s.client = c
	return nil
}

// Cleanup closes the session. Safe to call whether or not Connect succeeded,
// and safe to call more than once.
func (s *Session) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.toolCache = nil
	if err != nil {
		return fmt.Errorf("close MCP session %s: %w", s.name, err)
	}
	return nil
}

// ListTools returns the tools the server exposes, filtered by the session
// allow-list. The first successful listing is cached for the session's
// lifetime.
func (s *Session) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, fmt.Errorf("MCP session %s is not connected", s.name)
	}
	if s.toolCache == nil {
		resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return nil, fmt.Errorf("list tools on %s: %w", s.name, err)
		}
		s.toolCache = resp.Tools
	}
	return filterTools(s.toolCache, s.allowed), nil
}

// CallTool invokes a tool on the server.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("MCP session %s is not connected", s.name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call tool %s.%s: %w", s.name, name, err)
	}
	return result, nil
}

func filterTools(tools []mcp.Tool, allowed []string) []mcp.Tool {
	if allowed == nil {
		return tools
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}
	filtered := make([]mcp.Tool, 0, len(allowed))
	for _, tool := range tools {
		if _, ok := allowedSet[tool.Name]; ok {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}
