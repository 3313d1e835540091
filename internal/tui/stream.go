package tui

import (
	"context"
	"fmt"
	"log/slog"

	tea "charm.land/bubbletea/v2"

	"github.com/shiplog/shiplog/internal/sse"
)

// streamBufferSize is sized for ~1.5s burst at 60 FPS refresh rate.
// Prevents backpressure during UI render delays while keeping memory
// bounded.
const streamBufferSize = 100

// streamEvent is a discriminated union for all stream events. A single
// channel with a union type keeps the select logic simple and avoids
// multi-channel closure handling.
type streamEvent struct {
	// Exactly one of these groups is set per event
	text           string // Content fragment
	status         string // Status line ("thinking", ...)
	toolName       string // Tool invocation about to run
	conversationID string // Server-assigned conversation for a fresh chat
	title          string // Server-derived conversation title
	done           bool   // Stream completed successfully
	err            error  // Stream failed (transport or server error event)
}

// Stream message types for Bubble Tea.
type streamStartedMsg struct {
	eventCh <-chan streamEvent
	cancel  context.CancelFunc
}

type streamContentMsg struct {
	text string
}

type streamStatusMsg struct {
	status string
}

type streamToolMsg struct {
	name string
}

type streamConversationMsg struct {
	id string
}

type streamTitleMsg struct {
	title string
}

type streamDoneMsg struct{}

type streamErrorMsg struct {
	err error
}

// drainTickMsg drives the typewriter render loop.
type drainTickMsg struct{}

// startStream opens the chat stream and spawns the decode goroutine.
//
// Goroutine lifecycle: exits when the stream reaches a terminal event,
// the context is canceled, or the connection drops. Channel closure
// signals completion.
func (t *TUI) startStream(message string) tea.Cmd {
	client := t.client
	conversationID := t.conversationID
	parent := t.ctx

	return func() tea.Msg {
		eventCh := make(chan streamEvent, streamBufferSize)
		ctx, cancel := context.WithTimeout(parent, streamTimeout)

		go func() {
			defer cancel()
			defer close(eventCh)

			defer func() {
				if r := recover(); r != nil {
					slog.Error("stream panic recovered", "panic", r)
					select {
					case eventCh <- streamEvent{err: fmt.Errorf("stream panic: %v", r)}:
					default:
					}
				}
			}()

			body, err := client.OpenStream(ctx, conversationID, message)
			if err != nil {
				select {
				case eventCh <- streamEvent{err: err}:
				case <-ctx.Done():
				}
				return
			}
			defer body.Close()

			var dec sse.Decoder
			buf := make([]byte, 4096)
			for {
				n, readErr := body.Read(buf)
				for _, ev := range dec.Feed(buf[:n]) {
					event, terminal := translateEvent(ev)
					select {
					case eventCh <- event:
					case <-ctx.Done():
						return
					}
					if terminal {
						return
					}
				}

				if readErr != nil {
					// Connection ended without a terminal event.
					err := ctx.Err()
					if err == nil {
						err = fmt.Errorf("stream ended unexpectedly: %w", readErr)
					}
					select {
					case eventCh <- streamEvent{err: err}:
					default:
					}
					return
				}
			}
		}()

		return streamStartedMsg{
			eventCh: eventCh,
			cancel:  cancel,
		}
	}
}

// translateEvent maps a wire event onto the union type. The second
// return is true for terminal events.
func translateEvent(ev sse.Event) (streamEvent, bool) {
	switch ev.Type {
	case sse.EventContent:
		return streamEvent{text: ev.Field("text")}, false
	case sse.EventStatus:
		return streamEvent{status: ev.Field("state")}, false
	case sse.EventToolCall:
		return streamEvent{toolName: ev.Field("name")}, false
	case sse.EventConversationID:
		return streamEvent{conversationID: ev.Field("id")}, false
	case sse.EventTitle:
		return streamEvent{title: ev.Field("title")}, false
	case sse.EventDone:
		return streamEvent{done: true}, true
	case sse.EventError:
		msg := ev.Field("message")
		if msg == "" {
			msg = ev.String()
		}
		return streamEvent{err: fmt.Errorf("%s", msg)}, true
	default:
		// Unknown event types are ignored for forward compatibility.
		return streamEvent{}, false
	}
}

// listenForStream waits for the next stream event. Empty events are
// skipped via loop instead of recursion.
func listenForStream(eventCh <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			event, ok := <-eventCh
			if !ok {
				return nil
			}

			switch {
			case event.err != nil:
				return streamErrorMsg{err: event.err}
			case event.done:
				return streamDoneMsg{}
			case event.conversationID != "":
				return streamConversationMsg{id: event.conversationID}
			case event.title != "":
				return streamTitleMsg{title: event.title}
			case event.toolName != "":
				return streamToolMsg{name: event.toolName}
			case event.status != "":
				return streamStatusMsg{status: event.status}
			case event.text != "":
				return streamContentMsg{text: event.text}
			default:
				continue
			}
		}
	}
}
