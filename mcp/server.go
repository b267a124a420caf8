package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/fujiwara/ridge"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mashiike/fxchat"
)

const ServerName = "currency-exchange-server"

// Server exposes a ToolExecutor as an MCP server.
type Server struct {
	name string
	s    *server.MCPServer
}

func NewServer(ctx context.Context, serverName string, version string, exec fxchat.ToolExecutor) (*Server, error) {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
	)
	tools, err := exec.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	for _, desc := range tools {
		if err := addTool(ctx, s, desc, exec); err != nil {
			return nil, err
		}
	}
	return &Server{name: serverName, s: s}, nil
}

func addTool(ctx context.Context, s *server.MCPServer, desc fxchat.ToolDescriptor, exec fxchat.ToolExecutor) error {
	bs, err := json.Marshal(desc.InputSchema)
	if err != nil {
		return fmt.Errorf("marshal input schema of `%s`: %w", desc.Name, err)
	}
	tool := mcp.NewToolWithRawSchema(desc.Name, desc.Description, bs)
	s.AddTool(tool, newToolHandler(desc.Name, exec))
	slog.DebugContext(ctx, "add mcp tool", "name", desc.Name)
	return nil
}

func newToolHandler(name string, exec fxchat.ToolExecutor) server.ToolHandlerFunc {
	return func(ctx context.Context, mcpReq mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := exec.CallTool(ctx, fxchat.ToolCallRequest{
			Name:      name,
			Arguments: mcpReq.GetArguments(),
		})
		if err != nil {
			slog.ErrorContext(ctx, "tool execution failed", "name", name, "details", err)
			return mcp.NewToolResultError(fmt.Sprintf("failed to execute: %v", err)), nil
		}
		callToolResult := &mcp.CallToolResult{
			Content: make([]mcp.Content, 0, len(res.Content)),
			IsError: res.IsError,
		}
		for _, block := range res.Content {
			if block.Type != fxchat.BlockTypeText {
				slog.WarnContext(ctx, "skip non-text tool content", "name", name, "type", block.Type)
				continue
			}
			callToolResult.Content = append(callToolResult.Content, mcp.NewTextContent(block.Text))
		}
		return callToolResult, nil
	}
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) ListenAndServeSSE(addr string, opts ...server.SSEOption) error {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse address: %w", err)
	}
	if u.Hostname() == "" {
		u.Host = "localhost" + u.Host
	}
	if hostname := u.Hostname(); hostname == "localhost" || hostname == "127.0.0.1" {
		u.Scheme = "http"
	}
	options := []server.SSEOption{
		server.WithBaseURL(u.String()),
	}
	options = append(options, opts...)
	sseServer := server.NewSSEServer(s.s, options...)
	ridge.Run(addr, "/", sseServer)
	return nil
}

// ServeStdio blocks serving on stdin/stdout until the input is closed.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.s)
}
