// Package llm is a streaming client for OpenAI-compatible chat completion
// APIs. It owns the wire protocol: request construction, SSE chunk
// decoding, and accumulation of fragmented tool calls across a round.
package llm

import (
	"fmt"
)

// Message roles on the chat completions wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported by the provider.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Message is one chat completions message. Content is a pointer because
// assistant tool-call messages legitimately carry null content.
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []WireCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Text builds a message with plain text content.
func Text(role, content string) Message {
	return Message{Role: role, Content: &content}
}

// WireCall is a completed tool call in request/response message form.
type WireCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function WireFunc `json:"function"`
}

// WireFunc is the function part of a wire tool call.
type WireFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes one callable tool to the model. Parameters is
// a JSON schema value (anything that marshals to a schema object).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  any
}

// ToolCall is one fully accumulated tool call from a streaming round.
type ToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// RoundResult is the outcome of one streaming round.
type RoundResult struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// HasToolCalls reports whether the model requested any tool executions.
func (r *RoundResult) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// ServiceError reports a non-2xx response from the provider.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("llm: provider returned status %d: %s", e.StatusCode, e.Body)
}
