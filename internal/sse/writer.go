package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrStreamClosed is returned when writing after a terminal event.
var ErrStreamClosed = errors.New("sse: stream already closed by terminal event")

// Writer wraps an http.ResponseWriter for SSE streaming.
// It is not safe for concurrent use; a stream belongs to one goroutine.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

// NewWriter creates a new SSE writer and sets the streaming headers.
// Headers are committed on the first write, so callers must perform all
// status-code decisions (auth failures included) through events, not
// response codes.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent marshals data as JSON and sends it as a named event,
// flushing immediately. Terminal events close the writer.
func (w *Writer) WriteEvent(event string, data any) error {
	if w.closed {
		return ErrStreamClosed
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if err := w.writeFrame(event, string(payload)); err != nil {
		return err
	}

	if IsTerminal(event) {
		w.closed = true
	}
	return nil
}

// writeFrame writes one SSE frame. Each line of the data gets its own
// "data: " prefix per the SSE format; JSON never contains raw newlines
// but the split keeps the writer correct for any payload.
func (w *Writer) writeFrame(event, data string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}

	for line := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}

	// Empty line terminates the event
	if _, err := w.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteStatus sends a progress status event.
func (w *Writer) WriteStatus(state string) error {
	return w.WriteEvent(EventStatus, StatusPayload{State: state})
}

// WriteContent sends a fragment of assistant text.
func (w *Writer) WriteContent(text string) error {
	return w.WriteEvent(EventContent, ContentPayload{Text: text})
}

// WriteToolCall announces a tool invocation.
func (w *Writer) WriteToolCall(name string) error {
	return w.WriteEvent(EventToolCall, ToolCallPayload{Name: name})
}

// WriteConversationID tells the client which conversation this stream
// belongs to.
func (w *Writer) WriteConversationID(id string) error {
	return w.WriteEvent(EventConversationID, ConversationIDPayload{ID: id})
}

// WriteTitle sends the derived conversation title.
func (w *Writer) WriteTitle(title string) error {
	return w.WriteEvent(EventTitle, TitlePayload{Title: title})
}

// WriteDone sends the terminal success event and closes the stream.
func (w *Writer) WriteDone() error {
	return w.WriteEvent(EventDone, struct{}{})
}

// WriteError sends the terminal error event and closes the stream.
func (w *Writer) WriteError(code, message string) error {
	return w.WriteEvent(EventError, ErrorPayload{Code: code, Message: message})
}
