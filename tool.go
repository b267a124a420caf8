package fxchat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type ToolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

func NewToolTextResult(text string) *ToolCallResult {
	return &ToolCallResult{Content: []ContentBlock{TextBlock(text)}}
}

func NewToolErrorResult(format string, args ...any) *ToolCallResult {
	return &ToolCallResult{
		Content: []ContentBlock{TextBlock(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

// ContentJSON encodes the result content the way it is handed back to the model.
func (r *ToolCallResult) ContentJSON() (string, error) {
	type textContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	out := make([]textContent, 0, len(r.Content))
	for _, b := range r.Content {
		if b.Type != BlockTypeText {
			continue
		}
		out = append(out, textContent{Type: b.Type, Text: b.Text})
	}
	bs, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

// ToolExecutor is the tool-execution channel seen by the orchestrator.
type ToolExecutor interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResult, error)
}

func FindTool(tools []ToolDescriptor, name string) (ToolDescriptor, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

func GenerateInputSchema[T any]() (map[string]any, error) {
	var v T
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	bs, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(bs, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w (schema=%q)", err, string(bs))
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}
