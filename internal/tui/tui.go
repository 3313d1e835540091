// Package tui is the terminal client for the assistant. It opens the
// event stream against the server, renders content through a smoothing
// drain buffer, and persists the active conversation between runs.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// State represents the TUI state machine.
type State int

// TUI state machine states.
const (
	StateInput     State = iota // Awaiting user input
	StateThinking               // Request sent, nothing rendered yet
	StateStreaming              // Rendering streamed response
)

// Memory bounds to prevent unbounded growth.
const (
	maxMessages = 200 // Maximum messages stored
	maxHistory  = 100 // Maximum input history entries
)

// streamTimeout bounds a single stream end to end.
const streamTimeout = 5 * time.Minute

// drainInterval is the typewriter frame period.
const drainInterval = 30 * time.Millisecond

// Message role constants for display.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
	roleError     = "error"
)

// Layout constants for viewport height calculation.
const (
	separatorLines = 2 // Separator lines above and below input
	helpLines      = 1 // Help bar height
	promptLines    = 1 // Prompt prefix line
	minViewport    = 3 // Minimum viewport height
)

// Message is a conversation message for display.
type Message struct {
	Role string // "user", "assistant", "system", "error"
	Text string
}

// Options configures a TUI.
type Options struct {
	StateDir string           // Directory for persisted client state
	Restore  []HistoryMessage // Messages restored from a past conversation
	ConvID   string           // Conversation to resume, empty starts fresh
	Title    string           // Title of the resumed conversation
}

// TUI is the Bubble Tea model for the terminal client.
type TUI struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	// State machine
	state     State
	lastCtrlC time.Time

	// Output
	spinner    spinner.Model
	drain      drainBuffer
	draining   bool // a drain tick is scheduled
	statusLine string
	errText    string
	viewBuf    strings.Builder
	messages   []Message

	// Scrollable message viewport
	viewport viewport.Model

	// Help bar for keyboard shortcuts
	help help.Model
	keys keyMap

	// Stream management. No WaitGroup: Bubble Tea's event loop is the
	// synchronization point, channel closure signals goroutine exit.
	streamCancel  context.CancelFunc
	streamEventCh <-chan streamEvent
	pendingDone   bool // done arrived, waiting for the drain to empty

	// Server connection and persisted conversation identity
	client            *Client
	conversationID    string
	conversationTitle string
	stateDir          string

	ctx       context.Context
	ctxCancel context.CancelFunc

	// Dimensions
	width  int
	height int

	styles Styles

	// Markdown rendering (nil = graceful degradation to plain text)
	markdown *markdownRenderer
}

// addMessage appends a message and enforces the maxMessages bound.
func (t *TUI) addMessage(msg Message) {
	t.messages = append(t.messages, msg)
	if len(t.messages) > maxMessages {
		t.messages = t.messages[len(t.messages)-maxMessages:]
	}
}

// New creates a TUI model.
//
// ctx MUST be the same context passed to tea.WithContext() so
// cancellation behaves consistently.
func New(ctx context.Context, client *Client, opts Options) (*TUI, error) {
	if client == nil {
		return nil, errors.New("tui.New: client is required")
	}
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}

	ctx, cancel := context.WithCancel(ctx)

	// Multi-line input: Enter submits, Shift+Enter adds a newline.
	ta := textarea.New()
	ta.Placeholder = "Ask about your changelog..."
	ta.SetHeight(1)
	ta.SetWidth(120)
	ta.MaxWidth = 0
	ta.ShowLineNumbers = false

	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{
		Focused: cleanStyle,
		Blurred: cleanStyle,
	})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Keys are routed explicitly in handleKey; the viewport's own
	// bindings would conflict with textarea and history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{}

	t := &TUI{
		client:            client,
		conversationID:    opts.ConvID,
		conversationTitle: opts.Title,
		stateDir:          opts.StateDir,
		ctx:               ctx,
		ctxCancel:         cancel,
		input:             ta,
		spinner:           sp,
		viewport:          vp,
		help:              help.New(),
		keys:              newKeyMap(),
		styles:            DefaultStyles(),
		history:           make([]string, 0, maxHistory),
		markdown:          newMarkdownRenderer(80),
		width:             80,
	}

	for _, msg := range opts.Restore {
		switch msg.Role {
		case roleUser:
			t.addMessage(Message{Role: roleUser, Text: msg.Content})
		case roleAssistant:
			if msg.Content != "" {
				t.addMessage(Message{Role: roleAssistant, Text: msg.Content})
			}
		}
		// Tool messages are context plumbing, not display material.
	}

	return t, nil
}

// Init implements tea.Model.
func (t *TUI) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		t.spinner.Tick,
		t.input.Focus(),
	)
}

// Update implements tea.Model.
//
//nolint:gocognit,gocyclo // Bubble Tea Update requires a type switch over all message types
func (t *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return t.handleKey(msg)

	case tea.WindowSizeMsg:
		t.width = msg.Width
		t.height = msg.Height

		inputHeight := t.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		t.viewport.SetWidth(msg.Width)
		t.viewport.SetHeight(vpHeight)
		t.input.SetWidth(msg.Width - 4)
		t.help.SetWidth(msg.Width)
		t.markdown.UpdateWidth(msg.Width)

		t.rebuildViewportContent()
		return t, nil

	case tea.MouseWheelMsg:
		var cmd tea.Cmd
		t.viewport, cmd = t.viewport.Update(msg)
		return t, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		t.spinner, cmd = t.spinner.Update(msg)
		if t.state == StateThinking {
			t.rebuildViewportContent()
		}
		return t, cmd

	case streamStartedMsg:
		t.streamCancel = msg.cancel
		t.streamEventCh = msg.eventCh
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, listenForStream(msg.eventCh)

	case streamConversationMsg:
		t.conversationID = msg.id
		return t, listenForStream(t.streamEventCh)

	case streamTitleMsg:
		t.conversationTitle = msg.title
		return t, listenForStream(t.streamEventCh)

	case streamStatusMsg:
		t.statusLine = msg.status
		t.rebuildViewportContent()
		return t, listenForStream(t.streamEventCh)

	case streamToolMsg:
		t.statusLine = toolStatusLine(msg.name)
		t.rebuildViewportContent()
		return t, listenForStream(t.streamEventCh)

	case streamContentMsg:
		t.drain.Push(msg.text)
		t.state = StateStreaming
		t.statusLine = ""
		cmds := []tea.Cmd{listenForStream(t.streamEventCh)}
		if !t.draining {
			t.draining = true
			cmds = append(cmds, drainTick())
		}
		return t, tea.Batch(cmds...)

	case drainTickMsg:
		return t.handleDrainTick()

	case streamDoneMsg:
		// Flush the remaining backlog synchronously; the conversation
		// just finished and partial rendering would look broken.
		t.appendToAssistant(t.drain.Flush())
		t.draining = false
		t.finishStream()
		t.persistState()
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, t.input.Focus()

	case streamErrorMsg:
		t.appendToAssistant(t.drain.Flush())
		t.draining = false
		t.finishStream()

		// Drop the assistant placeholder only if nothing reached it.
		t.removeEmptyAssistantPlaceholder()

		switch {
		case errors.Is(msg.err, context.Canceled):
			t.addMessage(Message{Role: roleSystem, Text: "(Canceled)"})
		case errors.Is(msg.err, context.DeadlineExceeded):
			t.addMessage(Message{Role: roleError, Text: "The request timed out. Try a simpler question."})
		default:
			t.errText = msg.err.Error()
			t.addMessage(Message{Role: roleError, Text: msg.err.Error()})
		}
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, t.input.Focus()
	}

	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return t, cmd
}

// handleDrainTick renders one typewriter frame and schedules the next
// while backlog remains.
func (t *TUI) handleDrainTick() (tea.Model, tea.Cmd) {
	if chunk := t.drain.Next(); chunk != "" {
		t.appendToAssistant(chunk)
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
	}

	if t.drain.Len() > 0 {
		return t, drainTick()
	}
	t.draining = false
	return t, nil
}

// appendToAssistant adds text to the trailing assistant placeholder.
func (t *TUI) appendToAssistant(text string) {
	if text == "" {
		return
	}
	if n := len(t.messages); n > 0 && t.messages[n-1].Role == roleAssistant {
		t.messages[n-1].Text += text
		return
	}
	t.addMessage(Message{Role: roleAssistant, Text: text})
}

// removeEmptyAssistantPlaceholder drops the trailing assistant message
// when it never received content.
func (t *TUI) removeEmptyAssistantPlaceholder() {
	if n := len(t.messages); n > 0 && t.messages[n-1].Role == roleAssistant && t.messages[n-1].Text == "" {
		t.messages = t.messages[:n-1]
	}
}

// finishStream tears down stream resources and returns to input state.
func (t *TUI) finishStream() {
	t.state = StateInput
	t.statusLine = ""
	if t.streamCancel != nil {
		t.streamCancel()
		t.streamCancel = nil
	}
	t.streamEventCh = nil
}

// persistState records the active conversation and server identity so
// the next run resumes where this one left off.
func (t *TUI) persistState() {
	if t.stateDir == "" {
		return
	}
	err := SaveState(t.stateDir, &ClientState{
		UID:            t.client.UID(),
		ConversationID: t.conversationID,
		Title:          t.conversationTitle,
	})
	if err != nil {
		t.addMessage(Message{Role: roleSystem, Text: "(failed to save session state)"})
	}
}

// drainTick schedules the next typewriter frame.
func drainTick() tea.Cmd {
	return tea.Tick(drainInterval, func(time.Time) tea.Msg {
		return drainTickMsg{}
	})
}

// toolStatusLine maps a tool name to a human status line.
func toolStatusLine(name string) string {
	switch name {
	case "list_products":
		return "Looking up products..."
	case "search_entries":
		return "Searching changelog entries..."
	case "get_entry":
		return "Fetching entry details..."
	default:
		return "Running " + name + "..."
	}
}

// View implements tea.Model.
func (t *TUI) View() tea.View {
	t.viewBuf.Reset()

	_, _ = t.viewBuf.WriteString(t.viewport.View())
	_, _ = t.viewBuf.WriteString("\n")

	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	// Input is always visible; users can type while a reply streams.
	_, _ = t.viewBuf.WriteString(t.styles.Prompt.Render("> "))
	_, _ = t.viewBuf.WriteString(t.input.View())
	_, _ = t.viewBuf.WriteString("\n")

	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	_, _ = t.viewBuf.WriteString(t.renderStatusBar())

	v := tea.NewView(t.viewBuf.String())
	v.AltScreen = true
	return v
}

// rebuildViewportContent reconstructs the viewport from messages and
// stream state.
func (t *TUI) rebuildViewportContent() {
	var b strings.Builder

	_, _ = b.WriteString(t.styles.RenderBanner())
	_, _ = b.WriteString("\n")
	if t.conversationTitle != "" {
		_, _ = b.WriteString(t.styles.Header.Render(t.conversationTitle))
		_, _ = b.WriteString("\n\n")
	} else {
		_, _ = b.WriteString(t.styles.RenderWelcomeTips())
		_, _ = b.WriteString("\n")
	}

	for i, msg := range t.messages {
		switch msg.Role {
		case roleUser:
			_, _ = b.WriteString(t.styles.User.Render("You> "))
			_, _ = b.WriteString(msg.Text)
		case roleAssistant:
			_, _ = b.WriteString(t.styles.Assistant.Render("Shiplog> "))
			if t.state == StateStreaming && i == len(t.messages)-1 {
				// Markdown rendering waits for the full message;
				// partial markup renders badly.
				_, _ = b.WriteString(msg.Text)
			} else {
				_, _ = b.WriteString(t.markdown.Render(msg.Text))
			}
		case roleSystem:
			_, _ = b.WriteString(t.styles.System.Render(msg.Text))
		case roleError:
			_, _ = b.WriteString(t.styles.Error.Render("Error: " + msg.Text))
		}
		_, _ = b.WriteString("\n\n")
	}

	if t.statusLine != "" {
		_, _ = b.WriteString(t.spinner.View())
		_, _ = b.WriteString(" ")
		_, _ = b.WriteString(t.styles.System.Render(t.statusLine))
		_, _ = b.WriteString("\n\n")
	} else if t.state == StateThinking {
		_, _ = b.WriteString(t.spinner.View())
		_, _ = b.WriteString(" Thinking...\n\n")
	}

	t.viewport.SetContent(b.String())
}

// renderSeparator returns a horizontal line separator.
func (t *TUI) renderSeparator() string {
	width := t.width
	if width <= 0 {
		width = 80
	}
	return t.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns state-appropriate keyboard shortcut help.
func (t *TUI) renderStatusBar() string {
	var bindings []key.Binding
	switch t.state {
	case StateInput:
		bindings = []key.Binding{
			t.keys.Submit, t.keys.NewLine, t.keys.History,
			t.keys.Cancel, t.keys.Quit, t.keys.ScrollUp,
		}
	case StateThinking, StateStreaming:
		bindings = []key.Binding{
			t.keys.EscCancel, t.keys.Cancel,
			t.keys.ScrollUp, t.keys.ScrollDown,
		}
	}
	return t.help.ShortHelpView(bindings)
}
