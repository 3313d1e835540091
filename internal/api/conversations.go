package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shiplog/shiplog/internal/catalog"
	"github.com/shiplog/shiplog/internal/conversation"
)

const (
	conversationsDefaultLimit = 50
	messagesDefaultLimit      = 200
)

// ConversationStore is the persistence surface the handlers need.
// Satisfied by *conversation.Store.
type ConversationStore interface {
	Create(ctx context.Context, ownerID *string, access conversation.AccessLevel) (*conversation.Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	List(ctx context.Context, ownerID string, limit, offset int32) ([]*conversation.Conversation, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	Delete(ctx context.Context, id uuid.UUID) error
	Messages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*conversation.Message, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, n int32) ([]*conversation.Message, error)
	AddMessages(ctx context.Context, conversationID uuid.UUID, messages []*conversation.Message) error
}

// conversationHandler serves the conversation CRUD endpoints.
type conversationHandler struct {
	store  ConversationStore
	logger *slog.Logger
}

// canAccess decides whether a caller may read a conversation.
// Admin tier reads everything. Admin-level conversations require admin
// tier. Ownerless public conversations are readable by anyone;
// owned ones only by their owner.
func canAccess(conv *conversation.Conversation, userID string, tier catalog.Tier) bool {
	if tier == catalog.TierAdmin {
		return true
	}
	if conv.AccessLevel == conversation.AccessAdmin {
		return false
	}
	if conv.OwnerID == nil {
		return true
	}
	return conv.OwnedBy(userID)
}

// requireReadable parses the {id} path value, loads the conversation,
// and checks read access. Writes the error response and returns false
// on any failure.
func (h *conversationHandler) requireReadable(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "conversation ID required", h.logger)
		return nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conversation ID", h.logger)
		return nil, false
	}

	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return nil, false
		}
		h.logger.Error("getting conversation", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get conversation", h.logger)
		return nil, false
	}

	userID, _ := userIDFromContext(r.Context())
	if !canAccess(conv, userID, tierFromContext(r.Context())) {
		h.logger.Warn("conversation access denied",
			"conversation_id", id,
			"caller", userID,
			"path", r.URL.Path,
		)
		writeError(w, http.StatusForbidden, "access_denied", "conversation access denied", h.logger)
		return nil, false
	}

	return conv, true
}

// conversationItem is the JSON representation of a conversation in responses.
type conversationItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	AccessLevel string `json:"accessLevel"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func toConversationItem(conv *conversation.Conversation) conversationItem {
	return conversationItem{
		ID:          conv.ID.String(),
		Title:       conv.Title,
		AccessLevel: string(conv.AccessLevel),
		CreatedAt:   conv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   conv.UpdatedAt.Format(time.RFC3339),
	}
}

// messageItem is the JSON representation of a message in list responses.
type messageItem struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolName  string `json:"toolName,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// list handles GET /api/v1/conversations. Returns the caller's
// conversations ordered by most recently updated.
func (h *conversationHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"items": []conversationItem{}}, h.logger)
		return
	}

	limit := min(parseIntParam(r, "limit", conversationsDefaultLimit), 200)
	offset := parseIntParam(r, "offset", 0)
	if offset > 10000 {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be 10000 or less", h.logger)
		return
	}

	convs, err := h.store.List(r.Context(), userID, int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("listing conversations", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list conversations", h.logger)
		return
	}

	items := make([]conversationItem, len(convs))
	for i, conv := range convs {
		items[i] = toConversationItem(conv)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items}, h.logger)
}

// createRequest is the body of POST /api/v1/conversations.
type createRequest struct {
	AccessLevel string `json:"accessLevel,omitempty"`
}

// create handles POST /api/v1/conversations. The admin access level
// requires the admin tier.
func (h *conversationHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok || userID == "" {
		writeError(w, http.StatusBadRequest, "user_required", "user identity required", h.logger)
		return
	}

	var req createRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
			return
		}
	}

	access := conversation.AccessPublic
	if req.AccessLevel != "" {
		access = conversation.AccessLevel(req.AccessLevel)
		if !access.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_access_level", "access level must be public or admin", h.logger)
			return
		}
	}
	if access == conversation.AccessAdmin && tierFromContext(r.Context()) != catalog.TierAdmin {
		writeError(w, http.StatusForbidden, "access_denied", "admin tier required", h.logger)
		return
	}

	conv, err := h.store.Create(r.Context(), &userID, access)
	if err != nil {
		h.logger.Error("creating conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create conversation", h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, toConversationItem(conv), h.logger)
}

// get handles GET /api/v1/conversations/{id}.
func (h *conversationHandler) get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.requireReadable(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toConversationItem(conv), h.logger)
}

// messages handles GET /api/v1/conversations/{id}/messages. Returns
// messages ordered by sequence number, system messages excluded.
func (h *conversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.requireReadable(w, r)
	if !ok {
		return
	}

	limit := min(parseIntParam(r, "limit", messagesDefaultLimit), 1000)

	msgs, err := h.store.Messages(r.Context(), conv.ID, int32(limit))
	if err != nil {
		h.logger.Error("getting messages", "error", err, "conversation_id", conv.ID)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get messages", h.logger)
		return
	}

	items := make([]messageItem, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == conversation.RoleSystem {
			continue
		}
		item := messageItem{
			ID:        msg.ID.String(),
			Role:      msg.Role,
			Content:   msg.TextContent(),
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
		if msg.ToolName != nil {
			item.ToolName = *msg.ToolName
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items}, h.logger)
}

// delete handles DELETE /api/v1/conversations/{id}. Owner-only: the
// admin tier does not bypass ownership here.
func (h *conversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.requireReadable(w, r)
	if !ok {
		return
	}

	userID, _ := userIDFromContext(r.Context())
	if !conv.OwnedBy(userID) {
		h.logger.Warn("conversation delete denied",
			"conversation_id", conv.ID,
			"caller", userID,
		)
		writeError(w, http.StatusForbidden, "access_denied", "only the owner may delete a conversation", h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), conv.ID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		h.logger.Error("deleting conversation", "error", err, "conversation_id", conv.ID)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete conversation", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}
