package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/mashiike/fxchat"
	"github.com/mashiike/fxchat/exchange"
	"github.com/mashiike/fxchat/gateway"
	"github.com/mashiike/fxchat/jsonutil"
	"github.com/mashiike/fxchat/mcp"
	"github.com/mashiike/fxchat/rate"
	"github.com/mashiike/slogutils"
)

type CLI struct {
	LogFormat           string            `help:"Log format" enum:"json,text" default:"json" env:"LOG_FORMAT"`
	Color               bool              `help:"Enable color output" negatable:"" default:"true"`
	Debug               bool              `help:"Enable debug mode" env:"DEBUG"`
	Config              string            `help:"Config file (jsonnet) with mcpServers" env:"FXCHAT_CONFIG" type:"path"`
	ExtVar              map[string]string `help:"External string values for Jsonnet" env:"EXT_VAR"`
	CurrencyAPIKey      string            `help:"freecurrencyapi.com API key" env:"CURRENCY_API_KEY"`
	CurrencyAPIEndpoint string            `help:"freecurrencyapi.com endpoint" env:"CURRENCY_API_ENDPOINT" default:"https://api.freecurrencyapi.com"`
	MCPInProcess        bool              `name:"mcp-in-process" help:"Run the currency tool server in-process instead of as a subprocess" env:"MCP_IN_PROCESS"`
	MCPInitTimeout      time.Duration     `name:"mcp-init-timeout" help:"Deadline for the MCP handshake" env:"MCP_INIT_TIMEOUT" default:"10s"`
	MCPCallTimeout      time.Duration     `name:"mcp-call-timeout" help:"Deadline for each MCP tool call, 0 means none" env:"MCP_CALL_TIMEOUT" default:"30s"`

	Serve     ServeOption     `cmd:"" help:"Start the HTTP gateway" default:"withargs"`
	MCPServer MCPServerOption `cmd:"" name:"mcp-server" help:"Run the currency exchange MCP server"`
	Chat      ChatOption      `cmd:"" help:"Send one prompt through the model and tool loop"`
	Convert   ConvertOption   `cmd:"" help:"Convert an amount between currencies without the model"`
	Tools     struct{}        `cmd:"" help:"List the tools offered to the model"`
	Version   struct{}        `cmd:"" help:"Show version"`
}

type ModelOption struct {
	ModelProvider string `help:"Model provider name" env:"MODEL_PROVIDER" default:"anthropic"`
	ModelID       string `help:"Model ID" env:"MODEL_ID" default:"claude-3-5-sonnet-latest"`
	MaxTokens     int64  `help:"Max output tokens per model call" env:"MAX_TOKENS" default:"4096"`
	MaxRoundTrips int    `help:"Max model calls per prompt" env:"MAX_ROUND_TRIPS" default:"10"`
	SystemPrompt  string `help:"System prompt template" env:"SYSTEM_PROMPT"`
}

type ServeOption struct {
	ModelOption
	Port           int           `help:"Listen port" env:"PORT" default:"8000"`
	RequestTimeout time.Duration `help:"Per-request timeout, 0 means none" env:"REQUEST_TIMEOUT" default:"0s"`
}

type MCPServerOption struct {
	Transport string `help:"MCP transport" enum:"stdio,sse" default:"stdio"`
	Addr      string `help:"Listen address for sse transport" default:":8081"`
}

type ChatOption struct {
	ModelOption
	Prompt       string `arg:"" help:"Prompt text"`
	OutputFormat string `help:"Output format" enum:"json,text" default:"text"`
}

type ConvertOption struct {
	From   string  `arg:"" help:"Source currency code"`
	To     string  `arg:"" help:"Target currency code"`
	Amount float64 `help:"Amount to convert" default:"1"`
}

func newLogger(level slog.Level, format string, c bool) *slog.Logger {
	var f func(io.Writer, *slog.HandlerOptions) slog.Handler
	switch format {
	case "text":
		f = func(w io.Writer, ho *slog.HandlerOptions) slog.Handler {
			return slog.NewTextHandler(w, ho)
		}
	default:
		f = func(w io.Writer, ho *slog.HandlerOptions) slog.Handler {
			return slog.NewJSONHandler(w, ho)
		}
	}
	var modifierFuncs map[slog.Level]slogutils.ModifierFunc
	if c {
		modifierFuncs = map[slog.Level]slogutils.ModifierFunc{
			slog.LevelDebug: slogutils.Color(color.FgBlack),
			slog.LevelInfo:  nil,
			slog.LevelWarn:  slogutils.Color(color.FgYellow),
			slog.LevelError: slogutils.Color(color.FgRed, color.Bold),
		}
	}
	// stdout is reserved for command output and the stdio MCP transport
	middleware := slogutils.NewMiddleware(
		f,
		slogutils.MiddlewareOptions{
			Writer:        os.Stderr,
			ModifierFuncs: modifierFuncs,
			HandlerOptions: &slog.HandlerOptions{
				Level: level,
			},
		},
	)
	return slog.New(middleware)
}

func (c *CLI) Run(ctx context.Context) int {
	k := kong.Parse(c,
		kong.Name("fxchat"),
		kong.Description("fxchat is an LLM chat gateway with a currency exchange tool."),
		kong.UsageOnError(),
	)
	logLevel := slog.LevelInfo
	if c.Debug {
		logLevel = slog.LevelDebug
	}
	logger := newLogger(logLevel, c.LogFormat, c.Color)
	slog.SetDefault(logger)
	if err := c.run(ctx, k, logger); err != nil {
		logger.Error("runtime error", "details", err)
		return 1
	}
	return 0
}

func (c *CLI) run(ctx context.Context, k *kong.Context, logger *slog.Logger) error {
	switch k.Command() {
	case "version":
		fmt.Printf("fxchat version %s\n", fxchat.Version)
		return nil
	case "serve":
		return c.runServe(ctx, logger)
	case "mcp-server":
		return c.runMCPServer(ctx)
	case "chat <prompt>":
		return c.runChat(ctx, logger)
	case "convert <from> <to>":
		return c.runConvert(ctx)
	case "tools":
		return c.runTools(ctx)
	default:
		return fmt.Errorf("unknown command: %s", k.Command())
	}
}

func (c *CLI) newRateService() (*rate.Service, error) {
	p, err := rate.NewFreeCurrencyAPI(rate.FreeCurrencyAPIConfig{
		APIKey:   c.CurrencyAPIKey,
		Endpoint: c.CurrencyAPIEndpoint,
	})
	if err != nil {
		return nil, err
	}
	return rate.NewService(p), nil
}

func (c *CLI) newMCPServer(ctx context.Context) (*mcp.Server, error) {
	svc, err := c.newRateService()
	if err != nil {
		return nil, err
	}
	return mcp.NewServer(ctx, mcp.ServerName, fxchat.Version, exchange.NewExecutor(svc))
}

// toolChannel is a connected tool-execution channel plus its cleanup.
type toolChannel interface {
	fxchat.ToolExecutor
	Close() error
}

func (c *CLI) connectTools(ctx context.Context) (toolChannel, error) {
	if c.MCPInProcess {
		s, err := c.newMCPServer(ctx)
		if err != nil {
			return nil, err
		}
		return mcp.NewInProcessClient(ctx, s)
	}
	var cfg *mcp.Config
	var err error
	if c.Config != "" {
		cfg, err = mcp.LoadConfig(c.Config, c.ExtVar)
	} else {
		env := map[string]string{}
		if c.CurrencyAPIKey != "" {
			env["CURRENCY_API_KEY"] = c.CurrencyAPIKey
		}
		cfg, err = mcp.SelfConfig(env)
	}
	if err != nil {
		return nil, err
	}
	cfg.SetTimeouts(c.MCPInitTimeout, c.MCPCallTimeout)
	return mcp.NewClientMuxFromConfig(ctx, cfg)
}

func (c *CLI) newOrchestrator(ctx context.Context, opt ModelOption, logger *slog.Logger) (*fxchat.Orchestrator, error) {
	provider, err := fxchat.GetModelProvider(ctx, opt.ModelProvider)
	if err != nil {
		return nil, fmt.Errorf("available providers %v: %w", fxchat.ModelProviders(ctx), err)
	}
	sp, err := fxchat.ParseSystemPrompt(opt.SystemPrompt)
	if err != nil {
		return nil, err
	}
	return fxchat.NewOrchestrator(fxchat.OrchestratorConfig{
		Provider:      provider,
		ModelID:       opt.ModelID,
		MaxTokens:     opt.MaxTokens,
		MaxRoundTrips: opt.MaxRoundTrips,
		SystemPrompt:  sp,
		Logger:        logger,
	})
}

func (c *CLI) runServe(ctx context.Context, logger *slog.Logger) error {
	o, err := c.newOrchestrator(ctx, c.Serve.ModelOption, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	cfg := gateway.HandlerConfig{
		Runner:         o,
		RequestTimeout: c.Serve.RequestTimeout,
		Logger:         logger,
	}
	tools, err := c.connectTools(ctx)
	if err != nil {
		// keep serving; chat requests answer 503 until restarted
		logger.ErrorContext(ctx, "failed to connect to MCP server", "details", err)
	} else {
		defer tools.Close()
		cfg.Tools = tools
	}
	h, err := gateway.NewHandler(cfg)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", c.Serve.Port)
	logger.InfoContext(ctx, "gateway listening", "addr", addr, "provider", c.Serve.ModelProvider, "model", c.Serve.ModelID)
	h.ListenAndServe(addr)
	return nil
}

func (c *CLI) runMCPServer(ctx context.Context) error {
	s, err := c.newMCPServer(ctx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	switch c.MCPServer.Transport {
	case "sse":
		slog.InfoContext(ctx, "mcp server listening", "addr", c.MCPServer.Addr)
		return s.ListenAndServeSSE(c.MCPServer.Addr)
	default:
		slog.InfoContext(ctx, "mcp server running on stdio")
		return s.ServeStdio()
	}
}

func (c *CLI) runChat(ctx context.Context, logger *slog.Logger) error {
	o, err := c.newOrchestrator(ctx, c.Chat.ModelOption, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	tools, err := c.connectTools(ctx)
	if err != nil {
		return fmt.Errorf("connect tools: %w", err)
	}
	defer tools.Close()
	result, err := o.Run(ctx, tools, c.Chat.Prompt)
	if err != nil {
		return err
	}
	switch c.Chat.OutputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		fmt.Println(result.Text)
		return nil
	}
}

func (c *CLI) runConvert(ctx context.Context) error {
	svc, err := c.newRateService()
	if err != nil {
		return err
	}
	quote, err := svc.Convert(ctx, c.Convert.From, c.Convert.To, c.Convert.Amount)
	if err != nil {
		return err
	}
	s, err := jsonutil.MarshalIndentString(quote)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}

func (c *CLI) runTools(ctx context.Context) error {
	tools, err := c.connectTools(ctx)
	if err != nil {
		return fmt.Errorf("connect tools: %w", err)
	}
	defer tools.Close()
	descriptors, err := tools.ListTools(ctx)
	if err != nil {
		return err
	}
	s, err := jsonutil.MarshalIndentString(descriptors)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}
