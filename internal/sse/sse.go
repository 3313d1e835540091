// Package sse implements the assistant stream wire protocol on top of
// Server-Sent Events. Writer encodes events on the server side; Decoder
// incrementally parses them on the client side, tolerating arbitrary
// chunk boundaries.
//
// Every frame has the form:
//
//	event: <type>\n
//	data: <JSON payload>\n
//	\n
//
// The done and error events are terminal: nothing follows them on a stream.
package sse

// Stream event types.
const (
	EventStatus         = "status"
	EventContent        = "content"
	EventToolCall       = "tool_call"
	EventConversationID = "conversation_id"
	EventTitle          = "title"
	EventDone           = "done"
	EventError          = "error"
)

// IsTerminal reports whether the event type ends the stream.
func IsTerminal(event string) bool {
	return event == EventDone || event == EventError
}

// Payload types carried in the data field.

// StatusPayload reports coarse request progress ("thinking", "responding").
type StatusPayload struct {
	State string `json:"state"`
}

// ContentPayload carries a fragment of assistant text.
type ContentPayload struct {
	Text string `json:"text"`
}

// ToolCallPayload announces a tool invocation by name.
type ToolCallPayload struct {
	Name string `json:"name"`
}

// ConversationIDPayload tells the client which conversation the stream
// belongs to. Sent once, before any content.
type ConversationIDPayload struct {
	ID string `json:"id"`
}

// TitlePayload carries the server-derived conversation title.
type TitlePayload struct {
	Title string `json:"title"`
}

// ErrorPayload is the terminal error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
