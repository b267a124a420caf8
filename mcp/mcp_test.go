package mcp_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/Songmu/flextime"
	"github.com/mashiike/fxchat"
	"github.com/mashiike/fxchat/exchange"
	"github.com/mashiike/fxchat/mcp"
	"github.com/mashiike/fxchat/rate"
	"github.com/stretchr/testify/require"
)

func newInProcessClient(t *testing.T) *mcp.Client {
	t.Helper()
	ctx := context.Background()
	exec := exchange.NewExecutor(rate.NewService(rate.ProviderFunc(
		func(_ context.Context, base string, currencies ...string) (map[string]float64, error) {
			if base == "USD" && len(currencies) == 1 && currencies[0] == "EUR" {
				return map[string]float64{"EUR": 0.92}, nil
			}
			return map[string]float64{}, nil
		},
	)))
	s, err := mcp.NewServer(ctx, mcp.ServerName, "test", exec)
	require.NoError(t, err)
	c, err := mcp.NewInProcessClient(ctx, s)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInProcess__ListTools(t *testing.T) {
	c := newInProcessClient(t)
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	expected := exchange.Tools()[0]
	require.Equal(t, expected.Name, tools[0].Name)
	require.Equal(t, expected.Description, tools[0].Description)
	require.Equal(t, "object", tools[0].InputSchema["type"])
	require.Equal(t, expected.InputSchema["properties"], tools[0].InputSchema["properties"])
	require.ElementsMatch(t, expected.InputSchema["required"], tools[0].InputSchema["required"])
}

func TestInProcess__CallTool(t *testing.T) {
	restore := flextime.Fix(time.Date(2025, 3, 1, 12, 30, 45, 123000000, time.UTC))
	defer restore()
	c := newInProcessClient(t)
	ctx := context.Background()

	res, err := c.CallTool(ctx, fxchat.ToolCallRequest{
		Name:      exchange.ToolName,
		Arguments: map[string]any{"from_currency": "usd", "to_currency": "eur", "amount": 100},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	require.JSONEq(t, `{
		"from_currency": "USD",
		"to_currency": "EUR",
		"amount": 100,
		"exchange_rate": 0.92,
		"converted_amount": 92,
		"timestamp": "2025-03-01T12:30:45.123Z"
	}`, res.Content[0].Text)

	res, err = c.CallTool(ctx, fxchat.ToolCallRequest{
		Name:      exchange.ToolName,
		Arguments: map[string]any{"from_currency": "USD", "to_currency": "XYZ"},
	})
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Equal(t, "Error getting exchange rate: exchange rate not found for USD to XYZ", fxchat.JoinText(res.Content))
}

func TestInProcess__UnknownToolIsProtocolError(t *testing.T) {
	c := newInProcessClient(t)
	_, err := c.CallTool(context.Background(), fxchat.ToolCallRequest{Name: "get_weather"})
	require.Error(t, err)
}

func TestClientMux(t *testing.T) {
	mux := mcp.NewClientMux(newInProcessClient(t))
	ctx := context.Background()
	tools, err := mux.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	res, err := mux.CallTool(ctx, fxchat.ToolCallRequest{Name: "get_weather"})
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Equal(t, "Unknown tool: get_weather", fxchat.JoinText(res.Content))

	res, err = mux.CallTool(ctx, fxchat.ToolCallRequest{
		Name:      exchange.ToolName,
		Arguments: map[string]any{"from_currency": "USD"},
	})
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("FXCHAT_TEST_CURRENCY_KEY", "k")
	dir := t.TempDir()
	path := filepath.Join(dir, "fxchat.jsonnet")
	require.NoError(t, os.WriteFile(path, []byte(`{
  mcpServers: {
    currency: {
      command: 'fxchat',
      args: ['mcp-server', '--transport', std.extVar('transport')],
      env: { CURRENCY_API_KEY: std.native('mustEnv')('FXCHAT_TEST_CURRENCY_KEY') },
    },
    remote: { endpoint: 'http://localhost:8081/sse' },
  },
}`), 0o644))
	cfg, err := mcp.LoadConfig(path, map[string]string{"transport": "stdio"})
	require.NoError(t, err)
	require.Equal(t, []string{"currency", "remote"}, cfg.Names())
	require.Equal(t, "currency", cfg.Servers["currency"].Name)
	require.Equal(t, map[string]string{"CURRENCY_API_KEY": "k"}, cfg.Servers["currency"].Env)
	require.Equal(t, []string{"mcp-server", "--transport", "stdio"}, cfg.Servers["currency"].Args)
	require.Equal(t, "http://localhost:8081/sse", cfg.Servers["remote"].Endpoint)
}

func TestLoadConfig__Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty":     `{}`,
		"both":      `{"mcpServers":{"x":{"command":"a","endpoint":"http://b"}}}`,
		"neither":   `{"mcpServers":{"x":{}}}`,
		"malformed": `{"mcpServers":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := mcp.LoadConfig(path, nil)
			require.Error(t, err)
		})
	}
}

func TestNewClientMuxFromConfig__ServerExitsAtStartup(t *testing.T) {
	command, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false command not available")
	}
	cfg := &mcp.Config{
		Servers: map[string]mcp.ClientConfig{
			"broken": {Name: "broken", Command: command},
		},
	}
	cfg.SetTimeouts(500*time.Millisecond, 0)
	start := time.Now()
	mux, err := mcp.NewClientMuxFromConfig(context.Background(), cfg)
	require.Error(t, err)
	require.Nil(t, mux)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestConfig__SetTimeouts(t *testing.T) {
	cfg, err := mcp.SelfConfig(nil)
	require.NoError(t, err)
	cfg.SetTimeouts(3*time.Second, time.Second)
	require.Equal(t, 3*time.Second, cfg.Servers[mcp.ServerName].InitTimeout)
	require.Equal(t, time.Second, cfg.Servers[mcp.ServerName].CallTimeout)
	require.Equal(t, []string{"mcp-server"}, cfg.Servers[mcp.ServerName].Args)
}
