package fxchat

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrInvalidMessageRole    = errors.New("invalid message role")
	ErrInvalidMessageContent = errors.New("invalid message content")
)

type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

func UserMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: blocks}
}

func AssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ContentBlock is a tagged variant. Type selects which of the remaining fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

func (b ContentBlock) Validate() error {
	switch b.Type {
	case BlockTypeText:
		return nil
	case BlockTypeToolUse:
		if b.ID == "" || b.Name == "" {
			return ErrInvalidMessageContent
		}
		return nil
	case BlockTypeToolResult:
		if b.ToolUseID == "" {
			return ErrInvalidMessageContent
		}
		return nil
	default:
		return ErrInvalidMessageContent
	}
}

func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return ErrInvalidMessageRole
	}
	for _, b := range m.Content {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FirstToolUse returns the first tool_use block in response order.
func FirstToolUse(blocks []ContentBlock) (ContentBlock, bool) {
	for _, b := range blocks {
		if b.Type == BlockTypeToolUse {
			return b, true
		}
	}
	return ContentBlock{}, false
}

// JoinText concatenates every text block in order with no separator.
func JoinText(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == BlockTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// InputJSON returns the tool_use input encoded as a JSON object, "{}" when empty.
func (b ContentBlock) InputJSON() (json.RawMessage, error) {
	if len(b.Input) == 0 {
		return json.RawMessage(`{}`), nil
	}
	bs, err := json.Marshal(b.Input)
	if err != nil {
		return nil, err
	}
	return bs, nil
}
