// Package agent runs the assistant's tool-calling loop. The orchestrator
// drives streaming model rounds, executes requested tools, and feeds
// results back until the model answers in plain text or the iteration
// budget runs out.
//
// The orchestrator is stateless: callers pass the conversation history in
// and persist the returned new messages themselves.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shiplog/shiplog/internal/catalog"
	"github.com/shiplog/shiplog/internal/conversation"
	"github.com/shiplog/shiplog/internal/llm"
	"github.com/shiplog/shiplog/internal/tools"
)

// DefaultMaxIterations bounds the tool loop when Config leaves it zero.
const DefaultMaxIterations = 10

// LLMClient is the model surface the orchestrator needs. Satisfied by
// *llm.Client.
type LLMClient interface {
	StreamChat(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition, onText func(string) error) (*llm.RoundResult, error)
}

// ToolExecutor is the tool surface. Satisfied by *tools.Executor.
type ToolExecutor interface {
	Definitions() []tools.Definition
	Execute(ctx context.Context, name, argsJSON string, tier catalog.Tier) string
}

// Emitter receives stream events as the loop produces them. Both methods
// may return an error to abort the run (client disconnected).
type Emitter interface {
	// OnContent receives assistant text fragments in arrival order.
	OnContent(text string) error

	// OnToolCall is invoked before each tool execution.
	OnToolCall(name string) error
}

// Config configures an Orchestrator.
type Config struct {
	LLM           LLMClient
	Tools         ToolExecutor
	Logger        *slog.Logger
	MaxIterations int
}

func (c *Config) validate() error {
	if c.LLM == nil {
		return errors.New("agent: LLM client is required")
	}
	if c.Tools == nil {
		return errors.New("agent: tool executor is required")
	}
	return nil
}

// Orchestrator runs the bounded tool-calling loop. Stateless and safe
// for concurrent use.
type Orchestrator struct {
	llm           LLMClient
	tools         ToolExecutor
	logger        *slog.Logger
	maxIterations int
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		llm:           cfg.LLM,
		tools:         cfg.Tools,
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
	}, nil
}

// Result is the outcome of one run.
type Result struct {
	// NewMessages are the messages this run produced, in order: assistant
	// tool-call turns, tool results, and the final assistant answer. The
	// caller persists them.
	NewMessages []*conversation.Message

	// FinalText is the last assistant text, "" when the run exhausted its
	// iteration budget mid-loop.
	FinalText string

	// Rounds is how many model rounds ran.
	Rounds int

	// Exhausted is true when the iteration budget ran out before the
	// model produced a plain answer. Still a success: everything that
	// was produced is in NewMessages.
	Exhausted bool
}

// Run drives the loop for one request. History is the stored context
// (already capped by the caller); systemPrompt is injected fresh at the
// front of every round's message list.
func (o *Orchestrator) Run(ctx context.Context, systemPrompt string, history []*conversation.Message, tier catalog.Tier, emit Emitter) (*Result, error) {
	defs := toolDefinitions(o.tools.Definitions())

	working := make([]llm.Message, 0, len(history)+1)
	working = append(working, llm.Text(llm.RoleSystem, systemPrompt))
	for _, msg := range history {
		working = append(working, toWire(msg))
	}

	result := &Result{}
	for round := 0; round < o.maxIterations; round++ {
		result.Rounds = round + 1

		roundResult, err := o.llm.StreamChat(ctx, working, defs, emit.OnContent)
		if err != nil {
			return nil, fmt.Errorf("model round %d: %w", round+1, err)
		}

		if !roundResult.HasToolCalls() {
			final := conversation.NewAssistantMessage(roundResult.Text, nil)
			result.NewMessages = append(result.NewMessages, final)
			result.FinalText = roundResult.Text
			return result, nil
		}

		calls := toConvCalls(roundResult.ToolCalls)
		assistant := conversation.NewAssistantMessage(roundResult.Text, calls)
		result.NewMessages = append(result.NewMessages, assistant)
		working = append(working, toWire(assistant))

		for _, call := range roundResult.ToolCalls {
			if err := emit.OnToolCall(call.Name); err != nil {
				return nil, err
			}

			output := o.tools.Execute(ctx, call.Name, call.Arguments, tier)
			toolMsg := conversation.NewToolMessage(call.ID, call.Name, output)
			result.NewMessages = append(result.NewMessages, toolMsg)
			working = append(working, toWire(toolMsg))
		}
	}

	// Budget exhausted with the model still asking for tools. Return what
	// exists; the conversation stays usable.
	o.logger.Warn("tool loop exhausted iteration budget",
		"max_iterations", o.maxIterations)
	result.Exhausted = true
	return result, nil
}

// toWire converts a stored message to its chat completions form.
func toWire(msg *conversation.Message) llm.Message {
	wire := llm.Message{Role: msg.Role, Content: msg.Content}

	for _, call := range msg.ToolCalls {
		wire.ToolCalls = append(wire.ToolCalls, llm.WireCall{
			ID:   call.ID,
			Type: "function",
			Function: llm.WireFunc{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}

	if msg.Role == conversation.RoleTool {
		if msg.ToolCallID != nil {
			wire.ToolCallID = *msg.ToolCallID
		}
		if msg.ToolName != nil {
			wire.Name = *msg.ToolName
		}
	}
	return wire
}

func toConvCalls(calls []llm.ToolCall) []conversation.ToolCall {
	out := make([]conversation.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = conversation.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func toolDefinitions(defs []tools.Definition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return out
}
