// Package llm talks to the language model that drives webpilot.
//
// The Client interface is the narrow completion surface the agent loop,
// analyzer and instruction generator depend on. AnthropicClient implements
// it over the Messages API; Service layers plain-text and JSON helpers on
// top for callers that do not use tools.
package llm

import (
	"context"
	"strings"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// StopReason reports why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopSequence     StopReason = "stop_sequence"
	StopPauseTurn    StopReason = "pause_turn"
	StopRefusal      StopReason = "refusal"
	StopReasonAbsent StopReason = ""
)

// ContentBlock is one element of a message. Only the fields relevant to
// Type are set.
type ContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserText builds a user turn holding plain text.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// ToolResult builds a user turn answering the tool call with id toolUseID.
func ToolResult(toolUseID, content string, isError bool) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}}}
}

// Tool describes a callable capability offered to the model.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request is one completion call.
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	MaxTokens   int      // zero uses the client default
	Temperature *float64 // nil uses the client default
}

// Response is the model's reply.
type Response struct {
	Content    []ContentBlock // raw assistant content, appended to the conversation verbatim
	Text       string         // concatenated text blocks
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// AssistantMessage returns the reply as a conversation turn.
func (r *Response) AssistantMessage() Message {
	return Message{Role: RoleAssistant, Content: r.Content}
}

// Client completes a conversation.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Logger is the logging surface used by this package.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// parseContent splits raw blocks into text and tool calls.
func parseContent(blocks []ContentBlock) (string, []ToolCall) {
	var texts []string
	var calls []ToolCall
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case BlockToolUse:
			input := b.Input
			if input == nil {
				input = map[string]interface{}{}
			}
			calls = append(calls, ToolCall{ID: b.ID, Name: b.Name, Input: input})
		}
	}
	return strings.Join(texts, "\n"), calls
}
