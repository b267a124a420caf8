package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mashiike/fxchat"
)

func init() {
	// Register the provider
	fxchat.RegisterModelProvider("anthropic", &ModelProvider{})
}

// MessagesAPI is satisfied by *anthropic.MessageService.
type MessagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type ModelProvider struct {
	init   sync.Once
	client MessagesAPI
}

func NewWithClient(client MessagesAPI) *ModelProvider {
	return &ModelProvider{client: client}
}

// initClient reads ANTHROPIC_API_KEY (and ANTHROPIC_BASE_URL) from the environment.
func (p *ModelProvider) initClient() {
	p.init.Do(func() {
		if p.client != nil {
			return
		}
		c := anthropic.NewClient()
		p.client = &c.Messages
	})
}

func (p *ModelProvider) Generate(ctx context.Context, req *fxchat.GenerateRequest) (*fxchat.GenerateResponse, error) {
	p.initClient()
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.ModelID),
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: convertInputSchema(tool.InputSchema),
		}})
	}
	for _, msg := range req.Messages {
		m, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		params.Messages = append(params.Messages, m)
	}
	slog.DebugContext(ctx, "create message", "model", req.ModelID, "messages", len(params.Messages))
	resp, err := p.client.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			slog.WarnContext(ctx, "anthropic api error", "status", apiErr.StatusCode, "request_id", apiErr.RequestID)
		}
		return nil, fmt.Errorf("create message: %w", err)
	}
	return convertResponse(resp)
}

func convertInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	ret := anthropic.ToolInputSchemaParam{
		Properties: schema["properties"],
	}
	switch required := schema["required"].(type) {
	case []string:
		ret.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				ret.Required = append(ret.Required, s)
			}
		}
	}
	for k, v := range schema {
		switch k {
		case "type", "properties", "required":
			continue
		}
		if ret.ExtraFields == nil {
			ret.ExtraFields = make(map[string]any)
		}
		ret.ExtraFields[k] = v
	}
	return ret
}

func convertMessage(msg fxchat.Message) (anthropic.MessageParam, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case fxchat.BlockTypeText:
			blocks = append(blocks, anthropic.NewTextBlock(block.Text))
		case fxchat.BlockTypeToolUse:
			input, err := block.InputJSON()
			if err != nil {
				return anthropic.MessageParam{}, fmt.Errorf("marshal tool input: %w", err)
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(block.ID, input, block.Name))
		case fxchat.BlockTypeToolResult:
			blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
		default:
			return anthropic.MessageParam{}, fmt.Errorf("%w: unsupported block type %q", fxchat.ErrInvalidMessageContent, block.Type)
		}
	}
	switch msg.Role {
	case fxchat.RoleUser:
		return anthropic.NewUserMessage(blocks...), nil
	case fxchat.RoleAssistant:
		return anthropic.NewAssistantMessage(blocks...), nil
	default:
		return anthropic.MessageParam{}, fxchat.ErrInvalidMessageRole
	}
}

func convertResponse(resp *anthropic.Message) (*fxchat.GenerateResponse, error) {
	ret := &fxchat.GenerateResponse{
		StopReason: string(resp.StopReason),
		Model:      string(resp.Model),
		Usage: fxchat.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			ret.Content = append(ret.Content, fxchat.TextBlock(block.Text))
		case "tool_use":
			var input map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, fmt.Errorf("unmarshal input of `%s`: %w", block.Name, err)
				}
			}
			ret.Content = append(ret.Content, fxchat.ToolUseBlock(block.ID, block.Name, input))
		default:
			slog.Debug("skip unsupported content block", "type", block.Type)
		}
	}
	return ret, nil
}
