package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mashiike/fxchat"
	"github.com/sashabaranov/go-openai"
)

func init() {
	// Register the provider
	fxchat.RegisterModelProvider("openai", &ModelProvider{})
}

type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type ModelProvider struct {
	init    sync.Once
	client  OpenAIClient
	initErr error
}

func NewWithClient(client OpenAIClient) *ModelProvider {
	return &ModelProvider{client: client}
}

func (p *ModelProvider) initClient() error {
	p.init.Do(func() {
		if p.client != nil {
			return
		}
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			p.initErr = errors.New("missing OPENAI_API_KEY")
			return
		}
		cfg := openai.DefaultConfig(apiKey)
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			cfg.BaseURL = baseURL
		}
		p.client = openai.NewClientWithConfig(cfg)
	})
	return p.initErr
}

func (p *ModelProvider) Generate(ctx context.Context, req *fxchat.GenerateRequest) (*fxchat.GenerateResponse, error) {
	if err := p.initClient(); err != nil {
		return nil, err
	}
	chatReq := openai.ChatCompletionRequest{
		Model:               req.ModelID,
		MaxCompletionTokens: int(req.MaxTokens),
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		msgs, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		chatReq.Messages = append(chatReq.Messages, msgs...)
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	slog.DebugContext(ctx, "create chat completion", "model", req.ModelID, "messages", len(chatReq.Messages))
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			slog.WarnContext(ctx, "openai api error", "status", apiErr.HTTPStatusCode, "type", apiErr.Type, "message", apiErr.Message)
		}
		return nil, fmt.Errorf("create chat completion: %w", err)
	}
	return convertResponse(resp)
}

// convertMessage maps one transcript message to chat messages. Tool results
// become separate messages with the tool role.
func convertMessage(msg fxchat.Message) ([]openai.ChatCompletionMessage, error) {
	var role string
	switch msg.Role {
	case fxchat.RoleUser:
		role = openai.ChatMessageRoleUser
	case fxchat.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	default:
		return nil, fxchat.ErrInvalidMessageRole
	}
	var ret []openai.ChatCompletionMessage
	var text strings.Builder
	var toolCalls []openai.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case fxchat.BlockTypeText:
			text.WriteString(block.Text)
		case fxchat.BlockTypeToolUse:
			args, err := block.InputJSON()
			if err != nil {
				return nil, fmt.Errorf("marshal tool input: %w", err)
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		case fxchat.BlockTypeToolResult:
			ret = append(ret, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    block.Content,
				ToolCallID: block.ToolUseID,
			})
		default:
			return nil, fmt.Errorf("%w: unsupported block type %q", fxchat.ErrInvalidMessageContent, block.Type)
		}
	}
	if text.Len() > 0 || len(toolCalls) > 0 {
		ret = append(ret, openai.ChatCompletionMessage{
			Role:      role,
			Content:   text.String(),
			ToolCalls: toolCalls,
		})
	}
	return ret, nil
}

func convertResponse(resp openai.ChatCompletionResponse) (*fxchat.GenerateResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion has no choices")
	}
	choice := resp.Choices[0]
	ret := &fxchat.GenerateResponse{
		StopReason: convertFinishReason(choice.FinishReason),
		Model:      resp.Model,
		Usage: fxchat.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}
	if choice.Message.Content != "" {
		ret.Content = append(ret.Content, fxchat.TextBlock(choice.Message.Content))
	}
	for _, call := range choice.Message.ToolCalls {
		var input map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("unmarshal arguments of `%s`: %w", call.Function.Name, err)
			}
		}
		ret.Content = append(ret.Content, fxchat.ToolUseBlock(call.ID, call.Function.Name, input))
	}
	return ret, nil
}

func convertFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return fxchat.StopReasonEndTurn
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return fxchat.StopReasonToolUse
	case openai.FinishReasonLength:
		return fxchat.StopReasonMaxTokens
	default:
		return string(reason)
	}
}
