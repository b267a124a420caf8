package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mashiike/fxchat"
)

// ClientMux merges the tools of several MCP servers into one tool-execution channel.
// Calls are routed to the first server that lists the requested tool.
type ClientMux struct {
	clients []*Client
}

var _ fxchat.ToolExecutor = (*ClientMux)(nil)

func NewClientMuxFromConfig(ctx context.Context, cfg *Config) (*ClientMux, error) {
	if cfg == nil || len(cfg.Servers) == 0 {
		return nil, ErrNoServers
	}
	mux := &ClientMux{}
	for _, name := range cfg.Names() {
		clientCfg := cfg.Servers[name]
		clientCfg.Name = name
		c, err := NewClient(ctx, clientCfg)
		if err != nil {
			if cerr := mux.Close(); cerr != nil {
				slog.WarnContext(ctx, "failed to close clients", "details", cerr)
			}
			return nil, fmt.Errorf("failed to create client `%s`: %w", name, err)
		}
		mux.clients = append(mux.clients, c)
	}
	return mux, nil
}

func NewClientMux(clients ...*Client) *ClientMux {
	return &ClientMux{clients: clients}
}

func (mux *ClientMux) Close() error {
	var errs []error
	for _, c := range mux.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close `%s`: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (mux *ClientMux) ListTools(ctx context.Context) ([]fxchat.ToolDescriptor, error) {
	tools := make([]fxchat.ToolDescriptor, 0)
	for _, c := range mux.clients {
		ts, err := c.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("server `%s`: %w", c.Name(), err)
		}
		tools = append(tools, ts...)
	}
	return tools, nil
}

func (mux *ClientMux) CallTool(ctx context.Context, req fxchat.ToolCallRequest) (*fxchat.ToolCallResult, error) {
	for _, c := range mux.clients {
		ts, err := c.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("server `%s`: %w", c.Name(), err)
		}
		if _, ok := fxchat.FindTool(ts, req.Name); ok {
			return c.CallTool(ctx, req)
		}
	}
	return fxchat.NewToolErrorResult("Unknown tool: %s", req.Name), nil
}
