package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/shiplog/shiplog/internal/catalog"
	"github.com/shiplog/shiplog/internal/conversation"
)

func TestCanAccess(t *testing.T) {
	owner := uuid.New().String()
	other := uuid.New().String()

	owned := &conversation.Conversation{OwnerID: &owner, AccessLevel: conversation.AccessPublic}
	anon := &conversation.Conversation{AccessLevel: conversation.AccessPublic}
	adminOnly := &conversation.Conversation{AccessLevel: conversation.AccessAdmin}

	tests := []struct {
		name   string
		conv   *conversation.Conversation
		userID string
		tier   catalog.Tier
		want   bool
	}{
		{"owner reads own", owned, owner, catalog.TierPublic, true},
		{"other user denied", owned, other, catalog.TierPublic, false},
		{"admin reads anything", owned, other, catalog.TierAdmin, true},
		{"anonymous public open to all", anon, other, catalog.TierPublic, true},
		{"admin level denied for public tier", adminOnly, other, catalog.TierPublic, false},
		{"admin level open to admin tier", adminOnly, other, catalog.TierAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canAccess(tt.conv, tt.userID, tt.tier); got != tt.want {
				t.Errorf("canAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, userID, adminToken string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "" {
		addUserCookie(req, userID)
	}
	if adminToken != "" {
		req.Header.Set(adminTokenHeader, adminToken)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func errorCode(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestListConversationsScopedToCaller(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, answerRunner(), "")

	alice := uuid.New().String()
	bob := uuid.New().String()
	if _, err := store.Create(context.Background(), &alice, conversation.AccessPublic); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(context.Background(), &bob, conversation.AccessPublic); err != nil {
		t.Fatal(err)
	}

	resp, body := doJSON(t, ts, http.MethodGet, "/api/v1/conversations", alice, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1 (only the caller's)", len(items))
	}
}

func TestCreateConversation(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, answerRunner(), "admintoken")
	userID := uuid.New().String()

	t.Run("default public", func(t *testing.T) {
		resp, body := doJSON(t, ts, http.MethodPost, "/api/v1/conversations", userID, "", nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		if body["accessLevel"] != "public" {
			t.Errorf("accessLevel = %v, want public", body["accessLevel"])
		}
	})

	t.Run("admin level needs admin tier", func(t *testing.T) {
		resp, body := doJSON(t, ts, http.MethodPost, "/api/v1/conversations", userID, "", createRequest{AccessLevel: "admin"})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
		if errorCode(body) != "access_denied" {
			t.Errorf("code = %q, want access_denied", errorCode(body))
		}
	})

	t.Run("admin level with token", func(t *testing.T) {
		resp, body := doJSON(t, ts, http.MethodPost, "/api/v1/conversations", userID, "admintoken", createRequest{AccessLevel: "admin"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		if body["accessLevel"] != "admin" {
			t.Errorf("accessLevel = %v, want admin", body["accessLevel"])
		}
	})

	t.Run("bogus level rejected", func(t *testing.T) {
		resp, _ := doJSON(t, ts, http.MethodPost, "/api/v1/conversations", userID, "", createRequest{AccessLevel: "secret"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestGetConversationAccess(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, answerRunner(), "")
	owner := uuid.New().String()

	conv, err := store.Create(context.Background(), &owner, conversation.AccessPublic)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("owner", func(t *testing.T) {
		resp, body := doJSON(t, ts, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), owner, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if body["id"] != conv.ID.String() {
			t.Errorf("id = %v", body["id"])
		}
	})

	t.Run("stranger", func(t *testing.T) {
		resp, body := doJSON(t, ts, http.MethodGet, "/api/v1/conversations/"+conv.ID.String(), uuid.New().String(), "", nil)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
		if errorCode(body) != "access_denied" {
			t.Errorf("code = %q", errorCode(body))
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		resp, _ := doJSON(t, ts, http.MethodGet, "/api/v1/conversations/"+uuid.New().String(), owner, "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		resp, _ := doJSON(t, ts, http.MethodGet, "/api/v1/conversations/banana", owner, "", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestConversationMessagesExcludeSystem(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, answerRunner(), "")
	owner := uuid.New().String()

	conv, err := store.Create(context.Background(), &owner, conversation.AccessPublic)
	if err != nil {
		t.Fatal(err)
	}
	stale := "old prompt"
	err = store.AddMessages(context.Background(), conv.ID, []*conversation.Message{
		{Role: conversation.RoleSystem, Content: &stale},
		conversation.NewUserMessage("hello"),
		conversation.NewAssistantMessage("hi there", nil),
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := doJSON(t, ts, http.MethodGet, "/api/v1/conversations/"+conv.ID.String()+"/messages", owner, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	items, _ := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (system excluded)", len(items))
	}
	first, _ := items[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "hello" {
		t.Errorf("first item = %v", first)
	}
}

func TestDeleteConversationOwnerOnly(t *testing.T) {
	store := newFakeStore()
	ts := newTestServer(t, store, answerRunner(), "admintoken")
	owner := uuid.New().String()

	conv, err := store.Create(context.Background(), &owner, conversation.AccessPublic)
	if err != nil {
		t.Fatal(err)
	}

	// Admin tier can read but not delete someone else's conversation.
	resp, body := doJSON(t, ts, http.MethodDelete, "/api/v1/conversations/"+conv.ID.String(), uuid.New().String(), "admintoken", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin delete status = %d, want 403", resp.StatusCode)
	}
	if errorCode(body) != "access_denied" {
		t.Errorf("code = %q", errorCode(body))
	}

	resp, _ = doJSON(t, ts, http.MethodDelete, "/api/v1/conversations/"+conv.ID.String(), owner, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner delete status = %d, want 200", resp.StatusCode)
	}

	if _, err := store.Get(context.Background(), conv.ID); err == nil {
		t.Error("conversation still present after delete")
	}
}
