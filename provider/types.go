// Package provider defines the LLM provider interface and common types.
package provider

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one unit of message content: free text, a tool invocation
// requested by the model, or the result of a tool invocation.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text content (BlockText).
	Text string `json:"text,omitempty"`

	// Tool invocation (BlockToolUse).
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result (BlockToolResult).
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool invocation block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool result block tagged with the originating
// tool call ID.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is a single conversation message.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage creates a user message with a single text block.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantMessage creates an assistant message from content blocks.
func AssistantMessage(content ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage creates a tool message carrying one tool result block.
func ToolResultMessage(toolUseID, content string, isError bool) Message {
	return Message{Role: RoleTool, Content: []ContentBlock{ToolResultBlock(toolUseID, content, isError)}}
}

// ToolDef declares a tool to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"` // JSON Schema
}

// Request is a single completion request. It is constructed fresh for every
// provider call from the current conversation context.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int
	Temperature float64
}

// StopReason classifies why a completion ended.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Usage reports token consumption for a single provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a complete provider response.
type Response struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason StopReason
	Usage      Usage
}

// HasToolUse returns true if the response requests any tool invocation.
func (r *Response) HasToolUse() bool {
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// ToolUses returns the tool invocation blocks in the order they appear.
func (r *Response) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// TextContent joins the non-empty text blocks of the response. Tool
// invocation blocks are never surfaced as raw text.
func (r *Response) TextContent() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
