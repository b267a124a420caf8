package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mashiike/fxchat"
)

const (
	ClientName         = "fxchat-currency-client"
	DefaultInitTimeout = 10 * time.Second
)

// Client is a connected tool-execution channel backed by one MCP server.
type Client struct {
	name        string
	transport   string
	impl        *client.Client
	callTimeout time.Duration
}

var _ fxchat.ToolExecutor = (*Client)(nil)

// NewClient starts the configured transport and performs the MCP handshake.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{name: cfg.Name, callTimeout: cfg.CallTimeout}
	var err error
	if cfg.Command != "" {
		c.transport = "stdio"
		err = prepareStdioClient(ctx, c, cfg)
	} else {
		c.transport = "sse"
		err = prepareSSEClient(ctx, c, cfg)
	}
	if err != nil {
		return nil, err
	}
	initTimeout := cfg.InitTimeout
	if initTimeout <= 0 {
		initTimeout = DefaultInitTimeout
	}
	// the handshake never completes when the server process dies during startup
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err := c.initialize(initCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("mcp server `%s`: %w", cfg.Name, err)
	}
	return c, nil
}

// NewInProcessClient connects directly to s without any transport.
func NewInProcessClient(ctx context.Context, s *Server) (*Client, error) {
	impl, err := client.NewInProcessClient(s.s)
	if err != nil {
		return nil, err
	}
	c := &Client{name: s.name, transport: "inprocess", impl: impl}
	if err := c.impl.Start(ctx); err != nil {
		return nil, fmt.Errorf("start in-process transport: %w", err)
	}
	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func prepareStdioClient(_ context.Context, c *Client, cfg ClientConfig) error {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	// starts the subprocess immediately
	impl, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return fmt.Errorf("spawn `%s`: %w", cfg.Command, err)
	}
	c.impl = impl
	if stderr, ok := client.GetStderr(impl); ok {
		go drainStderr(cfg.Name, stderr)
	}
	return nil
}

// drainStderr forwards the subprocess stderr to the log until the process exits.
func drainStderr(name string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Info("mcp server stderr", "server", name, "line", scanner.Text())
	}
}

func prepareSSEClient(ctx context.Context, c *Client, cfg ClientConfig) error {
	impl, err := client.NewSSEMCPClient(cfg.Endpoint)
	if err != nil {
		return err
	}
	if err := impl.Start(ctx); err != nil {
		return fmt.Errorf("connect `%s`: %w", cfg.Endpoint, err)
	}
	c.impl = impl
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    ClientName,
		Version: fxchat.Version,
	}
	initResult, err := c.impl.Initialize(ctx, initRequest)
	if err != nil {
		return fmt.Errorf("initialize mcp client: %w", err)
	}
	slog.InfoContext(ctx, "initialized mcp client",
		"transport", c.transport,
		"server", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
	)
	return nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Close() error {
	if c.impl == nil {
		return nil
	}
	return c.impl.Close()
}

func (c *Client) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Client) ListTools(ctx context.Context) ([]fxchat.ToolDescriptor, error) {
	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()
	tools, err := c.impl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	ret := make([]fxchat.ToolDescriptor, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		schema, err := inputSchemaMap(tool)
		if err != nil {
			return nil, fmt.Errorf("input schema for tool `%s`: %w", tool.Name, err)
		}
		slog.DebugContext(ctx, "found mcp tool", "name", tool.Name)
		ret = append(ret, fxchat.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return ret, nil
}

func inputSchemaMap(tool mcp.Tool) (map[string]any, error) {
	var bs []byte
	var err error
	if len(tool.RawInputSchema) > 0 {
		bs = tool.RawInputSchema
	} else {
		bs, err = json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, err
		}
	}
	var s map[string]any
	if err := json.Unmarshal(bs, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// CallTool forwards the call to the server. Transport and protocol failures
// are returned as errors; tool failures come back as error results.
func (c *Client) CallTool(ctx context.Context, req fxchat.ToolCallRequest) (*fxchat.ToolCallResult, error) {
	mcpReq := mcp.CallToolRequest{}
	mcpReq.Params.Name = req.Name
	mcpReq.Params.Arguments = req.Arguments
	slog.DebugContext(ctx, "calling mcp tool", "name", req.Name, "args", req.Arguments)
	ctx, cancel := c.withCallTimeout(ctx)
	defer cancel()
	res, err := c.impl.CallTool(ctx, mcpReq)
	if err != nil {
		return nil, fmt.Errorf("call tool `%s`: %w", req.Name, err)
	}
	ret := &fxchat.ToolCallResult{
		Content: make([]fxchat.ContentBlock, 0, len(res.Content)),
		IsError: res.IsError,
	}
	for _, content := range res.Content {
		block, ok := contentToBlock(content)
		if !ok {
			slog.WarnContext(ctx, "skip unsupported tool content", "name", req.Name, "type", fmt.Sprintf("%T", content))
			continue
		}
		ret.Content = append(ret.Content, block)
	}
	return ret, nil
}

func contentToBlock(content mcp.Content) (fxchat.ContentBlock, bool) {
	if text, ok := mcp.AsTextContent(content); ok {
		return fxchat.TextBlock(text.Text), true
	}
	if res, ok := mcp.AsEmbeddedResource(content); ok {
		if text, ok := mcp.AsTextResourceContents(res.Resource); ok {
			return fxchat.TextBlock(text.Text), true
		}
	}
	return fxchat.ContentBlock{}, false
}
