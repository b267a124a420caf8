package bedrock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/mashiike/fxchat"
	"github.com/mashiike/fxchat/provider/bedrock"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	inputs  []*bedrockruntime.ConverseInput
	outputs []*bedrockruntime.ConverseOutput
	err     error
}

func (c *fakeClient) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	c.inputs = append(c.inputs, params)
	if c.err != nil {
		return nil, c.err
	}
	out := c.outputs[0]
	c.outputs = c.outputs[1:]
	return out, nil
}

func TestGenerate__ToolUse(t *testing.T) {
	client := &fakeClient{
		outputs: []*bedrockruntime.ConverseOutput{
			{
				StopReason: types.StopReasonToolUse,
				Usage: &types.TokenUsage{
					InputTokens:  aws.Int32(120),
					OutputTokens: aws.Int32(30),
				},
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberText{Value: "Let me check."},
							&types.ContentBlockMemberToolUse{
								Value: types.ToolUseBlock{
									ToolUseId: aws.String("tooluse_1"),
									Name:      aws.String("get_exchange_rate"),
									Input: document.NewLazyDocument(map[string]any{
										"from_currency": "USD",
										"to_currency":   "EUR",
										"amount":        100,
									}),
								},
							},
						},
					},
				},
			},
		},
	}
	p := bedrock.NewWithClient(client)
	resp, err := p.Generate(context.Background(), &fxchat.GenerateRequest{
		ModelID:   "anthropic.claude-3-5-sonnet-20240620-v1:0",
		MaxTokens: 4096,
		System:    "You are a currency assistant.",
		Tools: []fxchat.ToolDescriptor{
			{
				Name:        "get_exchange_rate",
				Description: "Get exchange rate",
				InputSchema: map[string]any{"type": "object"},
			},
		},
		Messages: []fxchat.Message{
			fxchat.UserMessage(fxchat.TextBlock("Convert 100 USD to EUR")),
		},
	})
	require.NoError(t, err)
	require.Equal(t, fxchat.StopReasonToolUse, resp.StopReason)
	require.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", resp.Model)
	require.Equal(t, fxchat.Usage{InputTokens: 120, OutputTokens: 30}, resp.Usage)
	require.Len(t, resp.Content, 2)
	require.Equal(t, fxchat.TextBlock("Let me check."), resp.Content[0])
	use, ok := fxchat.FirstToolUse(resp.Content)
	require.True(t, ok)
	require.Equal(t, "tooluse_1", use.ID)
	require.Equal(t, "get_exchange_rate", use.Name)
	require.Equal(t, "USD", use.Input["from_currency"])
	require.EqualValues(t, 100, use.Input["amount"])

	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	require.Equal(t, int32(4096), aws.ToInt32(input.InferenceConfig.MaxTokens))
	require.Len(t, input.System, 1)
	require.Len(t, input.ToolConfig.Tools, 1)
	spec, ok := input.ToolConfig.Tools[0].(*types.ToolMemberToolSpec)
	require.True(t, ok)
	require.Equal(t, "get_exchange_rate", aws.ToString(spec.Value.Name))
	require.Len(t, input.Messages, 1)
	require.Equal(t, types.ConversationRoleUser, input.Messages[0].Role)
}

func TestGenerate__ToolResultRoundTrip(t *testing.T) {
	client := &fakeClient{
		outputs: []*bedrockruntime.ConverseOutput{
			{
				StopReason: types.StopReasonEndTurn,
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberText{Value: "100 USD is 92 EUR."},
						},
					},
				},
			},
		},
	}
	p := bedrock.NewWithClient(client)
	resp, err := p.Generate(context.Background(), &fxchat.GenerateRequest{
		ModelID: "model",
		Messages: []fxchat.Message{
			fxchat.UserMessage(fxchat.TextBlock("Convert 100 USD to EUR")),
			fxchat.AssistantMessage(fxchat.ToolUseBlock("tooluse_1", "get_exchange_rate", map[string]any{"from_currency": "USD"})),
			fxchat.UserMessage(fxchat.ToolResultBlock("tooluse_1", `[{"type":"text","text":"boom"}]`, true)),
		},
	})
	require.NoError(t, err)
	require.Equal(t, fxchat.StopReasonEndTurn, resp.StopReason)
	require.Equal(t, "100 USD is 92 EUR.", fxchat.JoinText(resp.Content))

	input := client.inputs[0]
	require.Nil(t, input.InferenceConfig)
	require.Nil(t, input.ToolConfig)
	require.Len(t, input.Messages, 3)
	result, ok := input.Messages[2].Content[0].(*types.ContentBlockMemberToolResult)
	require.True(t, ok)
	require.Equal(t, "tooluse_1", aws.ToString(result.Value.ToolUseId))
	require.Equal(t, types.ToolResultStatusError, result.Value.Status)
}

func TestGenerate__InvalidRole(t *testing.T) {
	p := bedrock.NewWithClient(&fakeClient{})
	_, err := p.Generate(context.Background(), &fxchat.GenerateRequest{
		ModelID:  "model",
		Messages: []fxchat.Message{{Role: "system", Content: []fxchat.ContentBlock{fxchat.TextBlock("x")}}},
	})
	require.ErrorIs(t, err, fxchat.ErrInvalidMessageRole)
}

func TestGenerate__APIError(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Too many requests"}
	p := bedrock.NewWithClient(&fakeClient{err: apiErr})
	_, err := p.Generate(context.Background(), &fxchat.GenerateRequest{
		ModelID:  "model",
		Messages: []fxchat.Message{fxchat.UserMessage(fxchat.TextBlock("hi"))},
	})
	var ae smithy.APIError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, "ThrottlingException", ae.ErrorCode())
}

func TestNormalizeToolName(t *testing.T) {
	require.Equal(t, "get_exchange_rate", bedrock.NormalizeToolName("get_exchange_rate"))
	require.Equal(t, "currency_get_rate", bedrock.NormalizeToolName("currency.get rate"))
	require.Equal(t, "default_tool", bedrock.NormalizeToolName("..."))
}
