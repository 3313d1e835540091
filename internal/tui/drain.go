package tui

// Drain rates in runes per frame, stepped by backlog size so the
// typewriter keeps up with bursty delivery without ever looking jumpy.
const (
	drainSlowRate   = 2
	drainMediumRate = 4
	drainFastRate   = 8

	drainSlowLimit   = 50
	drainMediumLimit = 150
)

// drainBuffer smooths bursty content delivery into a steady typewriter
// feed. Fragments go in as they arrive off the wire; the render loop
// pulls a few runes per frame, more when the backlog grows. Not safe
// for concurrent use; Bubble Tea's event loop serializes access.
type drainBuffer struct {
	pending []rune
}

// Push appends a content fragment to the backlog.
func (d *drainBuffer) Push(text string) {
	d.pending = append(d.pending, []rune(text)...)
}

// Len returns the number of runes waiting to be rendered.
func (d *drainBuffer) Len() int {
	return len(d.pending)
}

// Next pops the next frame's worth of runes. The amount steps up with
// the backlog: 2 runes when small, 4 when moderate, 8 when the server
// is far ahead of the renderer.
func (d *drainBuffer) Next() string {
	if len(d.pending) == 0 {
		return ""
	}

	n := drainSlowRate
	switch backlog := len(d.pending); {
	case backlog > drainMediumLimit:
		n = drainFastRate
	case backlog > drainSlowLimit:
		n = drainMediumRate
	}
	if n > len(d.pending) {
		n = len(d.pending)
	}

	out := string(d.pending[:n])
	d.pending = d.pending[n:]
	return out
}

// Flush drains everything at once. Used when a terminal event arrives
// and the remaining text must land synchronously.
func (d *drainBuffer) Flush() string {
	out := string(d.pending)
	d.pending = nil
	return out
}
