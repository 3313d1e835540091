package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"go.uber.org/goleak"
)

// goleakOptions returns standard goleak options for all TUI tests.
// Filters out persistent goroutines that outlive individual tests.
func goleakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*http2clientConnReadLoop).run"),
	}
}

// newTestTUI creates a TUI with initialized components for testing.
func newTestTUI(t *testing.T) *TUI {
	t.Helper()

	client, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:9"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ta := textarea.New()
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	return &TUI{
		state:    StateInput,
		input:    ta,
		spinner:  spinner.New(),
		viewport: viewport.New(viewport.WithWidth(80), viewport.WithHeight(20)),
		history:  make([]string, 0),
		keys:     newKeyMap(),
		styles:   DefaultStyles(),
		markdown: newMarkdownRenderer(80),
		client:   client,
		ctx:      context.Background(),
		width:    80,
	}
}

func TestNew_Validation(t *testing.T) {
	client, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:9"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := New(context.Background(), nil, Options{}); err == nil {
		t.Error("expected error for nil client")
	}
	//lint:ignore SA1012 intentionally testing nil context handling
	if _, err := New(nil, client, Options{}); err == nil { //nolint:staticcheck
		t.Error("expected error for nil context")
	}
	if _, err := New(context.Background(), client, Options{}); err != nil {
		t.Errorf("expected valid TUI, got error: %v", err)
	}
}

func TestNew_RestoresHistoryMessages(t *testing.T) {
	client, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:9"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tui, err := New(context.Background(), client, Options{
		ConvID: "c1",
		Title:  "Release questions",
		Restore: []HistoryMessage{
			{Role: "user", Content: "what shipped last week?"},
			{Role: "assistant", Content: "Three entries shipped."},
			{Role: "tool", Content: "{\"entries\":[]}"},
			{Role: "assistant", Content: ""},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if len(tui.messages) != 2 {
		t.Fatalf("expected 2 display messages, got %d", len(tui.messages))
	}
	if tui.messages[0].Role != roleUser || tui.messages[1].Role != roleAssistant {
		t.Errorf("unexpected roles: %s, %s", tui.messages[0].Role, tui.messages[1].Role)
	}
	if tui.conversationID != "c1" || tui.conversationTitle != "Release questions" {
		t.Errorf("conversation identity not restored: %q %q", tui.conversationID, tui.conversationTitle)
	}
}

func TestHandleSlashCommands(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tests := []struct {
		name     string
		cmd      string
		wantExit bool
		wantMsgs int // messages added on top of the pre-populated one
	}{
		{"help", "/help", false, 1},
		{"clear", "/clear", false, 0},
		{"exit", "/exit", true, 0},
		{"quit", "/quit", true, 0},
		{"unknown", "/unknown", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tui := newTestTUI(t)
			tui.messages = []Message{{Role: roleUser, Text: "hello"}}

			model, cmd := tui.handleSlashCommand(tt.cmd)
			result := model.(*TUI)

			if tt.wantExit {
				if cmd == nil {
					t.Error("expected quit command")
				}
				return
			}
			if tt.cmd == cmdClear {
				if len(result.messages) != 0 {
					t.Error("/clear should clear messages")
				}
				return
			}
			if len(result.messages) != 1+tt.wantMsgs {
				t.Errorf("expected %d messages, got %d", 1+tt.wantMsgs, len(result.messages))
			}
		})
	}
}

func TestSlashNew_ResetsConversation(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.conversationID = "old-id"
	tui.conversationTitle = "Old title"
	tui.messages = []Message{{Role: roleUser, Text: "hi"}}

	model, _ := tui.handleSlashCommand(cmdNew)
	result := model.(*TUI)

	if result.conversationID != "" || result.conversationTitle != "" {
		t.Errorf("conversation identity not reset: %q %q", result.conversationID, result.conversationTitle)
	}
	if len(result.messages) != 1 || result.messages[0].Role != roleSystem {
		t.Errorf("expected single system message, got %+v", result.messages)
	}
}

func TestHistoryNavigation(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.history = []string{"first", "second", "third"}
	tui.historyIdx = 3

	tests := []struct {
		delta    int
		expected string
	}{
		{-1, "third"},
		{-1, "second"},
		{-1, "first"},
		{-1, "first"}, // Stays at first
		{1, "second"},
		{1, "third"},
		{1, ""}, // Past end = empty
		{1, ""},
	}

	for i, tt := range tests {
		model, _ := tui.navigateHistory(tt.delta)
		tui = model.(*TUI)
		if tui.input.Value() != tt.expected {
			t.Errorf("step %d: got %q, want %q", i, tui.input.Value(), tt.expected)
		}
	}
}

func TestCtrlC_ClearsInput(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.input.SetValue("some input")

	model, _ := tui.handleCtrlC()
	result := model.(*TUI)

	if result.input.Value() != "" {
		t.Error("first Ctrl+C should clear input")
	}
}

func TestDoubleCtrlC_Exits(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.lastCtrlC = time.Now()

	_, cmd := tui.handleCtrlC()
	if cmd == nil {
		t.Error("double Ctrl+C should return quit command")
	}
}

func TestCtrlC_CancelsStreamAndKeepsPartial(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateStreaming
	tui.messages = []Message{
		{Role: roleUser, Text: "question"},
		{Role: roleAssistant, Text: "partial "},
	}
	tui.drain.Push("answer")
	canceled := false
	tui.streamCancel = func() { canceled = true }

	model, _ := tui.handleCtrlC()
	result := model.(*TUI)

	if !canceled {
		t.Error("stream context was not canceled")
	}
	if result.state != StateInput {
		t.Errorf("state = %v, want StateInput", result.state)
	}
	if got := result.messages[1].Text; got != "partial answer" {
		t.Errorf("buffered text not flushed on cancel: %q", got)
	}
	last := result.messages[len(result.messages)-1]
	if last.Role != roleSystem || last.Text != "(Canceled)" {
		t.Errorf("expected cancel marker, got %+v", last)
	}
}

func TestStreamContentDrainsIntoPlaceholder(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateThinking
	tui.messages = []Message{
		{Role: roleUser, Text: "question"},
		{Role: roleAssistant, Text: ""},
	}

	model, cmd := tui.Update(streamContentMsg{text: "hello world"})
	tui = model.(*TUI)
	if cmd == nil {
		t.Fatal("content message should schedule listen + drain tick")
	}
	if tui.state != StateStreaming {
		t.Errorf("state = %v, want StateStreaming", tui.state)
	}

	// Drive drain ticks until the backlog empties. Backlog is 11 runes
	// so ticks step 2 runes at a time.
	for range 10 {
		model, _ = tui.Update(drainTickMsg{})
		tui = model.(*TUI)
		if tui.drain.Len() == 0 {
			break
		}
	}

	if got := tui.messages[1].Text; got != "hello world" {
		t.Errorf("drained text = %q, want %q", got, "hello world")
	}
}

func TestStreamDoneFlushesRemainingBacklog(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateStreaming
	tui.messages = []Message{
		{Role: roleUser, Text: "question"},
		{Role: roleAssistant, Text: "partial"},
	}
	tui.drain.Push(" and the rest")

	model, _ := tui.Update(streamDoneMsg{})
	tui = model.(*TUI)

	if tui.state != StateInput {
		t.Errorf("state = %v, want StateInput", tui.state)
	}
	if got := tui.messages[1].Text; got != "partial and the rest" {
		t.Errorf("done did not flush backlog: %q", got)
	}
	if tui.drain.Len() != 0 {
		t.Errorf("drain backlog = %d after done", tui.drain.Len())
	}
}

func TestStreamErrorRemovesEmptyPlaceholder(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateThinking
	tui.messages = []Message{
		{Role: roleUser, Text: "question"},
		{Role: roleAssistant, Text: ""},
	}

	model, _ := tui.Update(streamErrorMsg{err: errors.New("the assistant is temporarily unavailable")})
	tui = model.(*TUI)

	if tui.state != StateInput {
		t.Errorf("state = %v, want StateInput", tui.state)
	}
	for _, m := range tui.messages {
		if m.Role == roleAssistant {
			t.Error("empty assistant placeholder should be removed on error")
		}
	}
	last := tui.messages[len(tui.messages)-1]
	if last.Role != roleError {
		t.Errorf("expected trailing error message, got %+v", last)
	}
}

func TestStreamErrorKeepsPartialContent(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.state = StateStreaming
	tui.messages = []Message{
		{Role: roleUser, Text: "question"},
		{Role: roleAssistant, Text: "partial answer"},
	}

	model, _ := tui.Update(streamErrorMsg{err: errors.New("stream ended unexpectedly")})
	tui = model.(*TUI)

	if tui.messages[1].Text != "partial answer" {
		t.Errorf("partial content lost on error: %q", tui.messages[1].Text)
	}
}

func TestStreamConversationAndTitlePersisted(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	dir := t.TempDir()
	tui := newTestTUI(t)
	tui.stateDir = dir
	tui.state = StateStreaming
	tui.messages = []Message{
		{Role: roleUser, Text: "question"},
		{Role: roleAssistant, Text: "the answer"},
	}

	model, _ := tui.Update(streamConversationMsg{id: "conv-42"})
	tui = model.(*TUI)
	model, _ = tui.Update(streamTitleMsg{title: "Release questions"})
	tui = model.(*TUI)
	model, _ = tui.Update(streamDoneMsg{})
	tui = model.(*TUI)

	st, err := LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.ConversationID != "conv-42" {
		t.Errorf("persisted conversation = %q, want conv-42", st.ConversationID)
	}
	if st.Title != "Release questions" {
		t.Errorf("persisted title = %q", st.Title)
	}
}

func TestSubmitAddsPlaceholder(t *testing.T) {
	tui := newTestTUI(t)
	tui.input.SetValue("what shipped?")

	model, cmd := tui.handleSubmit()
	result := model.(*TUI)

	if cmd == nil {
		t.Fatal("submit should return stream + spinner commands")
	}
	if result.state != StateThinking {
		t.Errorf("state = %v, want StateThinking", result.state)
	}
	n := len(result.messages)
	if n != 2 || result.messages[n-2].Role != roleUser || result.messages[n-1].Role != roleAssistant {
		t.Fatalf("expected user + assistant placeholder, got %+v", result.messages)
	}
	if result.messages[n-1].Text != "" {
		t.Error("assistant placeholder should start empty")
	}
	if result.input.Value() != "" {
		t.Error("input should be cleared after submit")
	}
}

func TestUpdate_KeyPressCtrlC(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	tui := newTestTUI(t)
	tui.input.SetValue("test")

	key := tea.Key{Code: 'c', Mod: tea.ModCtrl}
	model, _ := tui.Update(tea.KeyPressMsg(key))
	result := model.(*TUI)

	if result.input.Value() != "" {
		t.Error("Ctrl+C should clear input")
	}
}

func TestToolStatusLine(t *testing.T) {
	tests := []struct {
		tool string
		want string
	}{
		{"list_products", "Looking up products..."},
		{"search_entries", "Searching changelog entries..."},
		{"get_entry", "Fetching entry details..."},
		{"summarize_release", "Running summarize_release..."},
	}
	for _, tt := range tests {
		if got := toolStatusLine(tt.tool); got != tt.want {
			t.Errorf("toolStatusLine(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}
}
