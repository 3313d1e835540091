// Package conversation provides persistence for assistant conversations
// and their messages.
//
// Responsibilities: create and look up conversations, append messages with
// gap-free sequence numbers, derive titles. Access enforcement lives in the
// API layer; this package only records the owner and access level.
package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// AccessLevel controls who may read and continue a conversation.
type AccessLevel string

const (
	// AccessPublic conversations are reachable by any caller, subject to
	// ownership checks.
	AccessPublic AccessLevel = "public"

	// AccessAdmin conversations are reachable only by admin callers.
	AccessAdmin AccessLevel = "admin"
)

// Valid reports whether the access level is one of the known values.
func (a AccessLevel) Valid() bool {
	return a == AccessPublic || a == AccessAdmin
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// TitleMaxLength is the maximum derived title length in runes.
const TitleMaxLength = 80

// Conversation is one assistant conversation. OwnerID is nil for
// anonymous conversations.
type Conversation struct {
	ID          uuid.UUID
	OwnerID     *string
	Title       string
	AccessLevel AccessLevel
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OwnedBy reports whether the conversation belongs to the given user.
// Anonymous conversations belong to nobody.
func (c *Conversation) OwnedBy(userID string) bool {
	return c.OwnerID != nil && userID != "" && *c.OwnerID == userID
}

// ToolCall records one model-requested tool invocation on an assistant
// message. Arguments is the raw JSON argument string as the model
// produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single conversation message. Content is nil for assistant
// messages that carry only tool calls. Tool result messages set
// ToolCallID and ToolName to link back to the assistant message that
// requested them.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        *string
	ToolCalls      []ToolCall
	ToolCallID     *string
	ToolName       *string
	SequenceNumber int32
	CreatedAt      time.Time
}

// TextContent returns the message content, or "" when nil.
func (m *Message) TextContent() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// NewUserMessage builds a user message with the given text.
func NewUserMessage(text string) *Message {
	return &Message{Role: RoleUser, Content: &text}
}

// NewAssistantMessage builds an assistant message. Tool calls may be
// empty; content may be "" for pure tool-call turns, stored as NULL.
func NewAssistantMessage(text string, calls []ToolCall) *Message {
	m := &Message{Role: RoleAssistant, ToolCalls: calls}
	if text != "" {
		m.Content = &text
	}
	return m
}

// NewToolMessage builds a tool result message linked to the assistant
// tool call that requested it.
func NewToolMessage(callID, toolName, result string) *Message {
	return &Message{
		Role:       RoleTool,
		Content:    &result,
		ToolCallID: &callID,
		ToolName:   &toolName,
	}
}

// DeriveTitle derives a conversation title from the first user message.
// Whitespace runs collapse to single spaces and the result is truncated
// to TitleMaxLength runes with a trailing ellipsis.
func DeriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	runes := []rune(title)
	if len(runes) <= TitleMaxLength {
		return title
	}
	return string(runes[:TitleMaxLength]) + "..."
}
