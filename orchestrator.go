package fxchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
)

const (
	DefaultModelID       = "claude-3-5-sonnet-latest"
	DefaultMaxTokens     = 4096
	DefaultMaxRoundTrips = 10
)

var (
	ErrToolLoopExceeded = errors.New("tool loop exceeded")
	ErrToolsUnavailable = errors.New("tool execution channel not available")
	ErrEmptyPrompt      = errors.New("prompt is empty")
)

type OrchestratorConfig struct {
	Provider      ModelProvider
	ModelID       string
	MaxTokens     int64
	MaxRoundTrips int
	SystemPrompt  *SystemPrompt
	Logger        *slog.Logger
}

// Orchestrator drives the model/tool exchange for a single prompt.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	provider      ModelProvider
	modelID       string
	maxTokens     int64
	maxRoundTrips int
	system        *SystemPrompt
	logger        *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("model provider is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxRoundTrips <= 0 {
		cfg.MaxRoundTrips = DefaultMaxRoundTrips
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	}
	return &Orchestrator{
		provider:      cfg.Provider,
		modelID:       cfg.ModelID,
		maxTokens:     cfg.MaxTokens,
		maxRoundTrips: cfg.MaxRoundTrips,
		system:        cfg.SystemPrompt,
		logger:        cfg.Logger,
	}, nil
}

type Result struct {
	Text       string    `json:"text"`
	Model      string    `json:"model,omitempty"`
	Usage      Usage     `json:"usage"`
	RoundTrips int       `json:"round_trips"`
	Transcript []Message `json:"transcript"`
}

// Run sends prompt to the model and executes the tool calls it requests until
// the model stops asking for tools.
func (o *Orchestrator) Run(ctx context.Context, tools ToolExecutor, prompt string) (*Result, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if tools == nil {
		return nil, ErrToolsUnavailable
	}
	descriptors, err := tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	o.logger.InfoContext(ctx, "tools available", "tools", names)
	system, err := o.system.Render(prompt)
	if err != nil {
		return nil, err
	}

	transcript := []Message{UserMessage(TextBlock(prompt))}
	result := &Result{}
	for {
		resp, err := o.provider.Generate(ctx, &GenerateRequest{
			ModelID:   o.modelID,
			MaxTokens: o.maxTokens,
			System:    system,
			Tools:     descriptors,
			Messages:  slices.Clone(transcript),
		})
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		result.RoundTrips++
		result.Usage = result.Usage.Add(resp.Usage)
		result.Model = resp.Model
		o.logger.DebugContext(ctx, "model response", "stop_reason", resp.StopReason, "blocks", len(resp.Content), "round_trip", result.RoundTrips)

		assistant := AssistantMessage(resp.Content...)
		if err := assistant.Validate(); err != nil {
			return nil, fmt.Errorf("invalid model response: %w", err)
		}
		toolUse, found := FirstToolUse(resp.Content)
		if resp.StopReason != StopReasonToolUse || !found {
			transcript = append(transcript, assistant)
			result.Text = JoinText(resp.Content)
			result.Transcript = transcript
			return result, nil
		}
		if result.RoundTrips >= o.maxRoundTrips {
			return nil, fmt.Errorf("%w: model still requesting `%s` after %d round trips", ErrToolLoopExceeded, toolUse.Name, result.RoundTrips)
		}
		transcript = append(transcript, assistant)

		toolResult, err := o.callTool(ctx, tools, descriptors, toolUse)
		if err != nil {
			return nil, err
		}
		content, err := toolResult.ContentJSON()
		if err != nil {
			return nil, fmt.Errorf("encode tool result: %w", err)
		}
		transcript = append(transcript, UserMessage(ToolResultBlock(toolUse.ID, content, toolResult.IsError)))
	}
}

func (o *Orchestrator) callTool(ctx context.Context, tools ToolExecutor, descriptors []ToolDescriptor, toolUse ContentBlock) (*ToolCallResult, error) {
	if _, ok := FindTool(descriptors, toolUse.Name); !ok {
		o.logger.WarnContext(ctx, "model requested unknown tool", "tool", toolUse.Name, "tool_use_id", toolUse.ID)
		return NewToolErrorResult("Unknown tool: %s", toolUse.Name), nil
	}
	res, err := tools.CallTool(ctx, ToolCallRequest{
		Name:      toolUse.Name,
		Arguments: toolUse.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("call tool `%s`: %w", toolUse.Name, err)
	}
	o.logger.InfoContext(ctx, "tool used", "tool", toolUse.Name, "tool_use_id", toolUse.ID, "is_error", res.IsError)
	o.logger.DebugContext(ctx, "tool response", "tool", toolUse.Name, "content", res.Content)
	return res, nil
}
