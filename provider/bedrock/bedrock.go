package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/mashiike/fxchat"
)

func init() {
	// Register the provider
	fxchat.RegisterModelProvider("bedrock", &ModelProvider{})
}

type BedrockAPIClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type ModelProvider struct {
	init    sync.Once
	awsCfg  *aws.Config
	client  BedrockAPIClient
	initErr error
}

func NewWithClient(client BedrockAPIClient) *ModelProvider {
	return &ModelProvider{client: client}
}

func (p *ModelProvider) initClient(ctx context.Context) error {
	p.init.Do(func() {
		if p.client != nil {
			return
		}
		if p.awsCfg == nil {
			awsCfg, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				p.initErr = err
				return
			}
			p.awsCfg = &awsCfg
		}
		p.client = bedrockruntime.NewFromConfig(*p.awsCfg)
	})
	return p.initErr
}

func (p *ModelProvider) Generate(ctx context.Context, req *fxchat.GenerateRequest) (*fxchat.GenerateResponse, error) {
	if err := p.initClient(ctx); err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.ModelID),
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.MaxTokens)),
		}
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{
				Value: req.System,
			},
		}
	}
	toolNames := make(map[string]string, len(req.Tools))
	if len(req.Tools) > 0 {
		input.ToolConfig = &types.ToolConfiguration{
			Tools: make([]types.Tool, 0, len(req.Tools)),
		}
		for _, tool := range req.Tools {
			name := NormalizeToolName(tool.Name)
			toolNames[name] = tool.Name
			input.ToolConfig.Tools = append(input.ToolConfig.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(name),
					Description: aws.String(tool.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(tool.InputSchema),
					},
				},
			})
		}
	}
	for _, msg := range req.Messages {
		tMsg, err := convertMessage(msg)
		if err != nil {
			return nil, err
		}
		input.Messages = append(input.Messages, tMsg)
	}
	slog.DebugContext(ctx, "call converse", "model_id", req.ModelID, "messages", len(input.Messages))
	output, err := p.client.Converse(ctx, input)
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) {
			slog.WarnContext(ctx, "bedrock api error", "code", ae.ErrorCode(), "message", ae.ErrorMessage())
		}
		return nil, fmt.Errorf("converse: %w", err)
	}
	return convertOutput(req.ModelID, output, toolNames)
}

var (
	toolNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

func NormalizeToolName(input string) string {
	normalized := toolNameRe.ReplaceAllString(input, "_")
	normalized = strings.Trim(normalized, "_")
	if len(normalized) > 64 {
		normalized = normalized[:64]
	}
	if normalized == "" {
		return "default_tool"
	}
	return normalized
}

func convertMessage(msg fxchat.Message) (types.Message, error) {
	var tMsg types.Message
	switch msg.Role {
	case fxchat.RoleUser:
		tMsg.Role = types.ConversationRoleUser
	case fxchat.RoleAssistant:
		tMsg.Role = types.ConversationRoleAssistant
	default:
		return tMsg, fxchat.ErrInvalidMessageRole
	}
	for _, block := range msg.Content {
		switch block.Type {
		case fxchat.BlockTypeText:
			tMsg.Content = append(tMsg.Content, &types.ContentBlockMemberText{
				Value: block.Text,
			})
		case fxchat.BlockTypeToolUse:
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			tMsg.Content = append(tMsg.Content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(block.ID),
					Name:      aws.String(NormalizeToolName(block.Name)),
					Input:     document.NewLazyDocument(input),
				},
			})
		case fxchat.BlockTypeToolResult:
			status := types.ToolResultStatusSuccess
			if block.IsError {
				status = types.ToolResultStatusError
			}
			tMsg.Content = append(tMsg.Content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(block.ToolUseID),
					Status:    status,
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{
							Value: block.Content,
						},
					},
				},
			})
		default:
			return tMsg, fmt.Errorf("%w: unsupported block type %q", fxchat.ErrInvalidMessageContent, block.Type)
		}
	}
	return tMsg, nil
}

func convertOutput(modelID string, output *bedrockruntime.ConverseOutput, toolNames map[string]string) (*fxchat.GenerateResponse, error) {
	resp := &fxchat.GenerateResponse{
		StopReason: convertStopReason(output.StopReason),
		Model:      modelID,
	}
	if output.Usage != nil {
		resp.Usage.InputTokens = int64(aws.ToInt32(output.Usage.InputTokens))
		resp.Usage.OutputTokens = int64(aws.ToInt32(output.Usage.OutputTokens))
	}
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("unsupported converse output: %T", output.Output)
	}
	for _, cb := range msg.Value.Content {
		switch cb := cb.(type) {
		case *types.ContentBlockMemberText:
			resp.Content = append(resp.Content, fxchat.TextBlock(cb.Value))
		case *types.ContentBlockMemberToolUse:
			var input map[string]any
			if cb.Value.Input != nil {
				bs, err := cb.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return nil, fmt.Errorf("marshal tool input: %w", err)
				}
				if err := json.Unmarshal(bs, &input); err != nil {
					return nil, fmt.Errorf("unmarshal tool input: %w", err)
				}
			}
			name := aws.ToString(cb.Value.Name)
			if original, ok := toolNames[name]; ok {
				name = original
			}
			resp.Content = append(resp.Content, fxchat.ToolUseBlock(aws.ToString(cb.Value.ToolUseId), name, input))
		default:
			slog.Debug("skip unsupported content block", "type", fmt.Sprintf("%T", cb))
		}
	}
	return resp, nil
}

func convertStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonEndTurn:
		return fxchat.StopReasonEndTurn
	case types.StopReasonToolUse:
		return fxchat.StopReasonToolUse
	case types.StopReasonMaxTokens:
		return fxchat.StopReasonMaxTokens
	case types.StopReasonStopSequence:
		return fxchat.StopReasonStopSequence
	default:
		return string(reason)
	}
}
