package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Client talks to the assistant server. It carries the uid cookie so
// the server keeps recognizing this installation across runs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	adminToken string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	AdminToken string        // Optional: enables the admin tier
	UID        string        // Previously issued uid cookie value, may be empty
	Timeout    time.Duration // Non-streaming request timeout (0 = 15s)
}

// NewClient creates a Client. The streaming endpoint ignores Timeout;
// streams are bounded by their caller's context instead.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("tui: server URL is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("tui: invalid server URL %q", cfg.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("tui: create cookie jar: %w", err)
	}
	if cfg.UID != "" {
		jar.SetCookies(u, []*http.Cookie{{Name: "uid", Value: cfg.UID}})
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Jar: jar, Timeout: timeout},
		adminToken: cfg.AdminToken,
	}, nil
}

// UID returns the current uid cookie value so the caller can persist
// it. Empty until the server has issued one.
func (c *Client) UID() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(u) {
		if cookie.Name == "uid" {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("tui: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("tui: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}
	return req, nil
}

// apiError extracts the server's error message from a JSON error body.
func apiError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("server: %s", body.Error.Message)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

// chatPayload is the body of the streaming chat request.
type chatPayload struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// OpenStream starts a streaming chat request and hands back the raw
// response body. The caller decodes the event protocol and closes the
// body; ctx cancellation aborts the stream.
func (c *Client) OpenStream(ctx context.Context, conversationID, message string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/chat/stream", chatPayload{
		ConversationID: conversationID,
		Message:        message,
	})
	if err != nil {
		return nil, err
	}

	// No client-level timeout: streams outlive it. ctx bounds the call.
	streamClient := &http.Client{Jar: c.httpClient.Jar}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tui: open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp.Body, nil
}

// ConversationSummary is one row in the conversation list.
type ConversationSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updatedAt"`
}

// Conversations lists the caller's conversations, newest first.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/conversations", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tui: list conversations: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var body struct {
		Items []ConversationSummary `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("tui: decode conversations: %w", err)
	}
	return body.Items, nil
}

// HistoryMessage is one restored message from a past conversation.
type HistoryMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ToolName string `json:"toolName,omitempty"`
}

// History fetches the messages of a conversation for restore.
func (c *Client) History(ctx context.Context, conversationID string) ([]HistoryMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tui: load history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var body struct {
		Items []HistoryMessage `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("tui: decode history: %w", err)
	}
	return body.Items, nil
}

// DeleteConversation removes a conversation the caller owns.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/conversations/"+conversationID, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tui: delete conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}
