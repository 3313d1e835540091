//go:build integration

package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/shiplog/shiplog/internal/log"
	"github.com/shiplog/shiplog/internal/testutil"
)

func TestStoreIntegration(t *testing.T) {
	container, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(container.Pool, log.NewNop())

	t.Run("create and get", func(t *testing.T) {
		owner := "user-1"
		conv, err := store.Create(ctx, &owner, AccessPublic)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if conv.ID == uuid.Nil {
			t.Error("conversation ID not assigned")
		}
		if !conv.OwnedBy("user-1") {
			t.Error("owner not recorded")
		}

		got, err := store.Get(ctx, conv.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.AccessLevel != AccessPublic {
			t.Errorf("access level = %q", got.AccessLevel)
		}
	})

	t.Run("create anonymous", func(t *testing.T) {
		conv, err := store.Create(ctx, nil, AccessPublic)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if conv.OwnerID != nil {
			t.Error("anonymous conversation should have nil owner")
		}
	})

	t.Run("create rejects bad access level", func(t *testing.T) {
		if _, err := store.Create(ctx, nil, AccessLevel("secret")); err == nil {
			t.Error("expected error for invalid access level")
		}
	})

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("list scoped to owner and ordered", func(t *testing.T) {
		owner := "list-owner"
		var created []uuid.UUID
		for i := range 3 {
			conv, err := store.Create(ctx, &owner, AccessPublic)
			if err != nil {
				t.Fatalf("Create %d: %v", i, err)
			}
			created = append(created, conv.ID)
		}
		other := "someone-else"
		if _, err := store.Create(ctx, &other, AccessPublic); err != nil {
			t.Fatalf("Create other: %v", err)
		}

		// Touch the first conversation so it sorts to the top.
		if err := store.UpdateTitle(ctx, created[0], "bumped"); err != nil {
			t.Fatalf("UpdateTitle: %v", err)
		}

		convs, err := store.List(ctx, owner, 10, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(convs) != 3 {
			t.Fatalf("expected 3 conversations, got %d", len(convs))
		}
		if convs[0].ID != created[0] {
			t.Error("list not ordered by updated_at desc")
		}

		page, err := store.List(ctx, owner, 2, 2)
		if err != nil {
			t.Fatalf("List paged: %v", err)
		}
		if len(page) != 1 {
			t.Errorf("expected 1 conversation on second page, got %d", len(page))
		}
	})

	t.Run("update title missing returns ErrNotFound", func(t *testing.T) {
		err := store.UpdateTitle(ctx, uuid.New(), "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("messages roundtrip with sequence numbers", func(t *testing.T) {
		conv, err := store.Create(ctx, nil, AccessPublic)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		calls := []ToolCall{{ID: "call_1", Name: "search_entries", Arguments: `{"query":"auth"}`}}
		batch := []*Message{
			NewUserMessage("what shipped?"),
			NewAssistantMessage("", calls),
			NewToolMessage("call_1", "search_entries", `{"entries":[]}`),
			NewAssistantMessage("Nothing matched.", nil),
		}
		if err := store.AddMessages(ctx, conv.ID, batch); err != nil {
			t.Fatalf("AddMessages: %v", err)
		}

		msgs, err := store.Messages(ctx, conv.ID, 100)
		if err != nil {
			t.Fatalf("Messages: %v", err)
		}
		if len(msgs) != 4 {
			t.Fatalf("expected 4 messages, got %d", len(msgs))
		}
		for i, m := range msgs {
			if m.SequenceNumber != int32(i+1) {
				t.Errorf("message %d sequence = %d, want %d", i, m.SequenceNumber, i+1)
			}
		}
		if msgs[1].Content != nil {
			t.Error("tool-call-only assistant message should have NULL content")
		}
		if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Name != "search_entries" {
			t.Errorf("tool calls not persisted: %+v", msgs[1].ToolCalls)
		}
		if msgs[2].ToolCallID == nil || *msgs[2].ToolCallID != "call_1" {
			t.Error("tool result link not persisted")
		}

		// A second batch continues the sequence.
		if err := store.AddMessages(ctx, conv.ID, []*Message{NewUserMessage("thanks")}); err != nil {
			t.Fatalf("AddMessages second batch: %v", err)
		}
		msgs, err = store.Messages(ctx, conv.ID, 100)
		if err != nil {
			t.Fatalf("Messages: %v", err)
		}
		if msgs[len(msgs)-1].SequenceNumber != 5 {
			t.Errorf("continued sequence = %d, want 5", msgs[len(msgs)-1].SequenceNumber)
		}
	})

	t.Run("recent messages returns tail in order", func(t *testing.T) {
		conv, err := store.Create(ctx, nil, AccessPublic)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		var batch []*Message
		for i := range 10 {
			batch = append(batch, NewUserMessage(fmt.Sprintf("message %d", i)))
		}
		if err := store.AddMessages(ctx, conv.ID, batch); err != nil {
			t.Fatalf("AddMessages: %v", err)
		}

		recent, err := store.RecentMessages(ctx, conv.ID, 3)
		if err != nil {
			t.Fatalf("RecentMessages: %v", err)
		}
		if len(recent) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(recent))
		}
		if recent[0].TextContent() != "message 7" || recent[2].TextContent() != "message 9" {
			t.Errorf("unexpected tail: %q .. %q", recent[0].TextContent(), recent[2].TextContent())
		}
	})

	t.Run("add messages to missing conversation fails", func(t *testing.T) {
		err := store.AddMessages(ctx, uuid.New(), []*Message{NewUserMessage("hi")})
		if err == nil {
			t.Error("expected error for missing conversation")
		}
	})

	t.Run("delete cascades messages", func(t *testing.T) {
		conv, err := store.Create(ctx, nil, AccessPublic)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := store.AddMessages(ctx, conv.ID, []*Message{NewUserMessage("bye")}); err != nil {
			t.Fatalf("AddMessages: %v", err)
		}

		if err := store.Delete(ctx, conv.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Get(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("conversation still present after delete: %v", err)
		}

		var count int
		err = container.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conv.ID).Scan(&count)
		if err != nil {
			t.Fatalf("count messages: %v", err)
		}
		if count != 0 {
			t.Errorf("%d messages survived the cascade", count)
		}
	})

	t.Run("delete missing returns ErrNotFound", func(t *testing.T) {
		if err := store.Delete(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}
