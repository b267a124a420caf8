package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mashiike/fxchat"
	"github.com/mashiike/fxchat/exchange"
	"github.com/mashiike/fxchat/rate"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var c CLI
	parser, err := kong.New(&c, kong.Name("fxchat"))
	require.NoError(t, err)
	k, err := parser.Parse(args)
	require.NoError(t, err)
	return &c, k
}

func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		// restores the original value on cleanup
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestParse__ServeDefaults(t *testing.T) {
	unsetenv(t, "PORT", "MODEL_PROVIDER", "MODEL_ID", "MAX_TOKENS", "MAX_ROUND_TRIPS", "REQUEST_TIMEOUT", "MCP_INIT_TIMEOUT", "MCP_CALL_TIMEOUT")
	c, k := parse(t)
	require.Equal(t, "serve", k.Command())
	require.Equal(t, 8000, c.Serve.Port)
	require.Equal(t, "anthropic", c.Serve.ModelProvider)
	require.Equal(t, "claude-3-5-sonnet-latest", c.Serve.ModelID)
	require.EqualValues(t, 4096, c.Serve.MaxTokens)
	require.Equal(t, 10, c.Serve.MaxRoundTrips)
	require.Zero(t, c.Serve.RequestTimeout)
	require.Equal(t, 10*time.Second, c.MCPInitTimeout)
	require.Equal(t, 30*time.Second, c.MCPCallTimeout)
}

func TestParse__ServeEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("MODEL_ID", "gpt-4o-mini")
	t.Setenv("CURRENCY_API_KEY", "test-key")
	c, k := parse(t, "serve", "--request-timeout", "30s")
	require.Equal(t, "serve", k.Command())
	require.Equal(t, 9090, c.Serve.Port)
	require.Equal(t, "openai", c.Serve.ModelProvider)
	require.Equal(t, "gpt-4o-mini", c.Serve.ModelID)
	require.Equal(t, "test-key", c.CurrencyAPIKey)
	require.Equal(t, 30*time.Second, c.Serve.RequestTimeout)
}

func TestParse__Commands(t *testing.T) {
	cases := []struct {
		args    []string
		command string
	}{
		{args: []string{"mcp-server", "--transport", "sse"}, command: "mcp-server"},
		{args: []string{"chat", "convert 100 USD to EUR"}, command: "chat <prompt>"},
		{args: []string{"convert", "USD", "EUR", "--amount", "100"}, command: "convert <from> <to>"},
		{args: []string{"tools"}, command: "tools"},
		{args: []string{"version"}, command: "version"},
	}
	for _, tc := range cases {
		t.Run(tc.command, func(t *testing.T) {
			_, k := parse(t, tc.args...)
			require.Equal(t, tc.command, k.Command())
		})
	}
	c, _ := parse(t, "convert", "usd", "jpy", "--amount", "2.5")
	require.Equal(t, "usd", c.Convert.From)
	require.Equal(t, "jpy", c.Convert.To)
	require.Equal(t, 2.5, c.Convert.Amount)
}

func TestParse__InvalidTransport(t *testing.T) {
	var c CLI
	parser, err := kong.New(&c, kong.Name("fxchat"))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"mcp-server", "--transport", "grpc"})
	require.Error(t, err)
}

func TestNewOrchestrator__ScopedProvider(t *testing.T) {
	ctx, manager := fxchat.WithModelProviderManager(context.Background())
	var got *fxchat.GenerateRequest
	require.NoError(t, manager.Register("scripted", fxchat.ModelProviderFunc(
		func(_ context.Context, req *fxchat.GenerateRequest) (*fxchat.GenerateResponse, error) {
			got = req
			return &fxchat.GenerateResponse{
				StopReason: fxchat.StopReasonEndTurn,
				Content:    []fxchat.ContentBlock{fxchat.TextBlock("hello")},
			}, nil
		},
	)))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := &CLI{}
	o, err := c.newOrchestrator(ctx, ModelOption{
		ModelProvider: "scripted",
		ModelID:       "test-model",
		SystemPrompt:  "Answer: {{ .Prompt | upper }}",
	}, logger)
	require.NoError(t, err)

	exec := exchange.NewExecutor(rate.NewService(rate.ProviderFunc(
		func(_ context.Context, _ string, _ ...string) (map[string]float64, error) {
			return map[string]float64{}, nil
		},
	)))
	result, err := o.Run(ctx, exec, "hi")
	require.NoError(t, err)
	require.Equal(t, "hello", result.Text)
	require.Equal(t, "test-model", got.ModelID)
	require.Equal(t, "Answer: HI", got.System)
	require.Len(t, got.Tools, 1)

	// registrations stay inside the scoped manager
	_, err = fxchat.GetModelProvider(context.Background(), "scripted")
	require.ErrorIs(t, err, fxchat.ErrModelProviderNotFound)

	_, err = c.newOrchestrator(ctx, ModelOption{ModelProvider: "missing"}, logger)
	require.ErrorIs(t, err, fxchat.ErrModelProviderNotFound)
}
