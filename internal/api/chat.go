package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/shiplog/shiplog/internal/agent"
	"github.com/shiplog/shiplog/internal/catalog"
	"github.com/shiplog/shiplog/internal/conversation"
	"github.com/shiplog/shiplog/internal/llm"
	"github.com/shiplog/shiplog/internal/sse"
)

// messageMaxLength bounds the incoming user message in characters.
const messageMaxLength = 4000

// systemPrompt is injected fresh at the front of every request's
// context; stored system messages are never replayed.
const systemPrompt = `You are the Shiplog assistant. You answer questions about products and
their changelog entries using the tools available to you. Keep answers
concise and grounded in tool results; when a search returns nothing,
say so rather than inventing entries. Format answers in Markdown.`

// Runner drives one assistant run. Satisfied by *agent.Orchestrator.
type Runner interface {
	Run(ctx context.Context, systemPrompt string, history []*conversation.Message, tier catalog.Tier, emit agent.Emitter) (*agent.Result, error)
}

// chatHandler serves the streaming chat endpoint.
type chatHandler struct {
	store          ConversationStore
	runner         Runner
	logger         *slog.Logger
	maxContextMsgs int32
}

// chatRequest is the body of POST /api/v1/chat/stream.
type chatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// streamEmitter relays orchestrator events onto the wire. Write errors
// propagate back into the loop and abort the run.
type streamEmitter struct {
	w *sse.Writer
}

func (e *streamEmitter) OnContent(text string) error {
	return e.w.WriteContent(text)
}

func (e *streamEmitter) OnToolCall(name string) error {
	return e.w.WriteToolCall(name)
}

// stream handles POST /api/v1/chat/stream.
//
// Request validation failures are ordinary JSON errors; once the event
// stream is open, every failure becomes a single terminal error event
// because headers are already committed.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}
	if utf8.RuneCountInString(req.Message) > messageMaxLength {
		writeError(w, http.StatusBadRequest, "message_too_long", "message exceeds 4000 characters", h.logger)
		return
	}

	var requestedID uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "invalid conversation ID", h.logger)
			return
		}
		requestedID = id
	}

	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusBadRequest, "user_required", "user identity required", h.logger)
		return
	}
	tier := tierFromContext(r.Context())

	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	ctx := r.Context()

	// Headers are committed from here on. Resolve or create the
	// conversation; failures become terminal error events.
	var conv *conversation.Conversation
	isNew := requestedID == uuid.Nil
	if isNew {
		// A new conversation inherits the caller's tier, so an admin's
		// chat history stays out of public reach.
		access := conversation.AccessPublic
		if tier == catalog.TierAdmin {
			access = conversation.AccessAdmin
		}
		conv, err = h.store.Create(ctx, &userID, access)
		if err != nil {
			h.logger.Error("creating conversation", "error", err)
			_ = sw.WriteError("create_failed", "failed to create conversation")
			return
		}
		if err := sw.WriteConversationID(conv.ID.String()); err != nil {
			return
		}
	} else {
		conv, err = h.store.Get(ctx, requestedID)
		if err != nil {
			if errors.Is(err, conversation.ErrNotFound) {
				_ = sw.WriteError("not_found", "conversation not found")
				return
			}
			h.logger.Error("getting conversation", "error", err, "conversation_id", requestedID)
			_ = sw.WriteError("get_failed", "failed to load conversation")
			return
		}
		if !canAccess(conv, userID, tier) {
			h.logger.Warn("chat access denied", "conversation_id", conv.ID, "caller", userID)
			_ = sw.WriteError("access_denied", "conversation access denied")
			return
		}
	}

	userMsg := conversation.NewUserMessage(req.Message)
	if err := h.store.AddMessages(ctx, conv.ID, []*conversation.Message{userMsg}); err != nil {
		h.logger.Error("persisting user message", "error", err, "conversation_id", conv.ID)
		_ = sw.WriteError("persist_failed", "failed to save message")
		return
	}

	if err := sw.WriteStatus("thinking"); err != nil {
		return
	}

	history, err := h.store.RecentMessages(ctx, conv.ID, h.maxContextMsgs)
	if err != nil {
		h.logger.Error("loading context", "error", err, "conversation_id", conv.ID)
		_ = sw.WriteError("context_failed", "failed to load conversation history")
		return
	}
	history = dropSystemMessages(history)

	result, err := h.runner.Run(ctx, systemPrompt, history, tier, &streamEmitter{w: sw})
	if err != nil {
		h.handleRunError(ctx, sw, conv.ID, err)
		return
	}

	if err := h.store.AddMessages(ctx, conv.ID, result.NewMessages); err != nil {
		h.logger.Error("persisting assistant messages", "error", err, "conversation_id", conv.ID)
		_ = sw.WriteError("persist_failed", "failed to save response")
		return
	}

	if isNew {
		title := conversation.DeriveTitle(req.Message)
		if err := h.store.UpdateTitle(ctx, conv.ID, title); err != nil {
			h.logger.Error("updating title", "error", err, "conversation_id", conv.ID)
		} else if err := sw.WriteTitle(title); err != nil {
			return
		}
	}

	_ = sw.WriteDone()

	h.logger.Info("chat stream completed",
		"conversation_id", conv.ID,
		"rounds", result.Rounds,
		"exhausted", result.Exhausted,
		"new_messages", len(result.NewMessages),
	)
}

// handleRunError maps orchestrator failures to terminal error events.
// Cancellation by the client surfaces nothing: the connection is gone.
func (h *chatHandler) handleRunError(ctx context.Context, sw *sse.Writer, convID uuid.UUID, err error) {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		h.logger.Info("client disconnected mid-stream", "conversation_id", convID)
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("model round timed out", "conversation_id", convID)
		_ = sw.WriteError("timeout", "the assistant took too long, please try again")
	default:
		var svcErr *llm.ServiceError
		if errors.As(err, &svcErr) {
			h.logger.Error("model provider error",
				"conversation_id", convID,
				"status", svcErr.StatusCode,
			)
			_ = sw.WriteError("upstream_error", "the assistant is temporarily unavailable")
			return
		}
		h.logger.Error("chat run failed", "error", err, "conversation_id", convID)
		_ = sw.WriteError("stream_error", "the assistant encountered an error")
	}
}

// dropSystemMessages strips stored system messages from the context
// window. A fresh system prompt is injected per request instead.
func dropSystemMessages(msgs []*conversation.Message) []*conversation.Message {
	out := msgs[:0]
	for _, msg := range msgs {
		if msg.Role == conversation.RoleSystem {
			continue
		}
		out = append(out, msg)
	}
	return out
}
