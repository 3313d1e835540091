package sse

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Event is one decoded stream event. Data holds the JSON-decoded payload
// when the data field parsed as JSON; otherwise Data is nil and Raw holds
// the verbatim string. Raw is always populated.
type Event struct {
	Type string
	Data any
	Raw  string
}

// String returns the data field as a flat string for display, preferring
// a decoded JSON string value over the raw text.
func (e Event) String() string {
	if s, ok := e.Data.(string); ok {
		return s
	}
	return e.Raw
}

// Field extracts a string field from a JSON object payload. Returns ""
// when the payload is not an object or the field is absent.
func (e Event) Field(name string) string {
	obj, ok := e.Data.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[name].(string)
	return s
}

// Decoder incrementally parses an SSE byte stream. Feed it chunks split
// at any byte boundary; it returns events as their terminating blank
// lines arrive. Not safe for concurrent use.
type Decoder struct {
	buf       bytes.Buffer
	eventType string
	dataLines []string
}

// Feed appends a chunk to the decoder and returns all events completed
// by it, in stream order. A chunk may complete zero, one, or many events.
func (d *Decoder) Feed(p []byte) []Event {
	d.buf.Write(p)

	var events []Event
	for {
		line, ok := d.nextLine()
		if !ok {
			return events
		}
		if ev, done := d.consumeLine(line); done {
			events = append(events, ev)
		}
	}
}

// nextLine pops one complete line from the buffer. The final partial
// line stays buffered until its newline arrives.
func (d *Decoder) nextLine() (string, bool) {
	raw := d.buf.Bytes()
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(raw[:idx])
	d.buf.Next(idx + 1)
	return strings.TrimSuffix(line, "\r"), true
}

// consumeLine processes one line, returning a finished event on the
// blank line that terminates a frame.
func (d *Decoder) consumeLine(line string) (Event, bool) {
	switch {
	case line == "":
		if d.eventType == "" && len(d.dataLines) == 0 {
			return Event{}, false // stray blank line between frames
		}
		ev := d.finish()
		return ev, true

	case strings.HasPrefix(line, ":"):
		return Event{}, false // comment, per the SSE format

	case strings.HasPrefix(line, "event:"):
		d.eventType = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")

	case strings.HasPrefix(line, "data:"):
		d.dataLines = append(d.dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
	// unknown fields (id, retry) are ignored
	return Event{}, false
}

// finish assembles the buffered frame into an Event and resets state.
// The data field is JSON-decoded when possible; anything that does not
// parse is kept as the raw string so malformed frames still surface.
func (d *Decoder) finish() Event {
	raw := strings.Join(d.dataLines, "\n")
	ev := Event{Type: d.eventType, Raw: raw}
	if ev.Type == "" {
		ev.Type = "message"
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		ev.Data = decoded
	}

	d.eventType = ""
	d.dataLines = nil
	return ev
}
