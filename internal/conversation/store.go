package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs. Defined here so
// tests can substitute a transaction or a lighter fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages conversation persistence on PostgreSQL.
// Safe for concurrent use; sequence numbers are serialized per
// conversation by a row lock inside AddMessages.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

const conversationColumns = "id, owner_id, title, access_level, created_at, updated_at"

// Create inserts a new conversation. ownerID nil means anonymous.
func (s *Store) Create(ctx context.Context, ownerID *string, access AccessLevel) (*Conversation, error) {
	if !access.Valid() {
		return nil, fmt.Errorf("invalid access level %q", access)
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO conversations (owner_id, access_level)
		 VALUES ($1, $2)
		 RETURNING `+conversationColumns,
		ownerID, access)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "access", conv.AccessLevel)
	return conv, nil
}

// Get retrieves a conversation by ID. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return conv, nil
}

// List returns a user's conversations ordered by most recently updated.
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int32) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE owner_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// UpdateTitle sets the conversation title.
func (s *Store) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
		id, title)
	if err != nil {
		return fmt.Errorf("update title for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a conversation and all its messages (CASCADE).
// Ownership is the caller's responsibility.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

const messageColumns = "id, conversation_id, role, content, tool_calls, tool_call_id, tool_name, sequence_number, created_at"

// Messages retrieves up to limit messages ordered by sequence number
// ascending. limit <= 0 means no limit.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*Message, error) {
	query := `SELECT ` + messageColumns + `
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY sequence_number ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// RecentMessages retrieves the last n messages, still ordered oldest
// first. Used to build the model context window.
func (s *Store) RecentMessages(ctx context.Context, conversationID uuid.UUID, n int32) ([]*Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM (
		     SELECT `+messageColumns+`
		     FROM messages
		     WHERE conversation_id = $1
		     ORDER BY sequence_number DESC
		     LIMIT $2
		 ) recent
		 ORDER BY sequence_number ASC`,
		conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("get recent messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// AddMessages appends messages to a conversation in one transaction.
// The conversation row is locked for the duration so concurrent appends
// cannot produce duplicate sequence numbers. Sequence numbers are
// written back into the given messages.
func (s *Store) AddMessages(ctx context.Context, conversationID uuid.UUID, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	// Lock the conversation row; serializes sequence assignment
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock conversation: %w", err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = $1`,
		conversationID).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("get max sequence number: %w", err)
	}

	for i, msg := range messages {
		var toolCallsJSON []byte
		if len(msg.ToolCalls) > 0 {
			toolCallsJSON, err = json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls for message %d: %w", i, err)
			}
		}

		seq := maxSeq + int32(i) + 1
		err = tx.QueryRow(ctx,
			`INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, tool_name, sequence_number)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at`,
			conversationID, msg.Role, msg.Content, toolCallsJSON, msg.ToolCallID, msg.ToolName, seq,
		).Scan(&msg.ID, &msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
		msg.ConversationID = conversationID
		msg.SequenceNumber = seq
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("added messages", "conversation_id", conversationID, "count", len(messages))
	return nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.AccessLevel, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func collectMessages(rows pgx.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var msg Message
		var toolCallsJSON []byte
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&toolCallsJSON, &msg.ToolCallID, &msg.ToolName, &msg.SequenceNumber, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return messages, nil
}
