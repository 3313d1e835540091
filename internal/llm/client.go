package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// defaultRoundTimeout bounds one full streaming round, distinct from
	// caller cancellation.
	defaultRoundTimeout = 120 * time.Second

	// errorBodyLimit caps how much of an error response is retained.
	errorBodyLimit = 4096

	doneSentinel = "[DONE]"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the provider's API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey authenticates with the provider.
	APIKey string

	// Model is the model identifier sent with every request.
	Model string

	// Temperature and MaxTokens are passed through to the provider.
	Temperature float32
	MaxTokens   int

	// RoundTimeout bounds one streaming round. Zero means the default.
	RoundTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("llm: BaseURL is required")
	}
	if c.APIKey == "" {
		return errors.New("llm: APIKey is required")
	}
	if c.Model == "" {
		return errors.New("llm: Model is required")
	}
	return nil
}

// Client streams chat completions from an OpenAI-compatible provider.
// Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. The configuration is validated eagerly so
// a missing API key fails at startup, not mid-request.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = defaultRoundTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No client-level timeout: the per-round context bounds the
		// whole streaming read, which a fixed Timeout would truncate.
		httpClient = &http.Client{}
	}

	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}, nil
}

// wire request/response types

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []wireTool `json:"tools,omitempty"`
	Temperature float32    `json:"temperature"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Stream      bool       `json:"stream"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   *string         `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// StreamChat runs one streaming round. Text fragments are passed to
// onText as they arrive; tool call fragments are accumulated by index
// and returned complete in the RoundResult. An onText error aborts the
// round and is returned unwrapped.
//
// The round is bounded by the configured RoundTimeout in addition to the
// caller's context: errors.Is(err, context.DeadlineExceeded) means the
// round timed out, errors.Is(err, context.Canceled) means the caller
// went away.
func (c *Client) StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition, onText func(string) error) (*RoundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RoundTimeout)
	defer cancel()

	resp, err := c.send(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return c.readStream(ctx, resp.Body, onText)
}

func (c *Client) send(ctx context.Context, messages []Message, tools []ToolDefinition) (*http.Response, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      true,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Surface the context cause so callers can tell timeout from
		// cancellation with errors.Is.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("chat completions request: %w", ctxErr)
		}
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	return resp, nil
}

// readStream consumes the SSE body line by line: "data: " chunks until
// the [DONE] sentinel. Malformed chunks are skipped, never fatal.
func (c *Client) readStream(ctx context.Context, body io.Reader, onText func(string) error) (*RoundResult, error) {
	var (
		text         strings.Builder
		finishReason string
		accumulator  = make(map[int]*ToolCall)
	)

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		// EOF may still carry a final unterminated line; process it
		// before returning what arrived.
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("read stream: %w", ctxErr)
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == doneSentinel {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Debug("skipping malformed stream chunk", "error", err, "data", data)
			} else {
				for _, choice := range chunk.Choices {
					if choice.FinishReason != nil && *choice.FinishReason != "" {
						finishReason = *choice.FinishReason
					}

					if choice.Delta.Content != nil && *choice.Delta.Content != "" {
						text.WriteString(*choice.Delta.Content)
						if onText != nil {
							if err := onText(*choice.Delta.Content); err != nil {
								return nil, err
							}
						}
					}

					for _, delta := range choice.Delta.ToolCalls {
						accumulate(accumulator, delta)
					}
				}
			}
		}

		if eof {
			break
		}
	}

	result := &RoundResult{
		Text:         text.String(),
		ToolCalls:    collectCalls(accumulator),
		FinishReason: finishReason,
	}
	if result.FinishReason == "" && result.HasToolCalls() {
		result.FinishReason = FinishToolCalls
	}
	return result, nil
}

// accumulate merges one tool call fragment into the round accumulator.
// The first fragment for an index carries id and name; later fragments
// append argument text. Providers may also resend id/name, which
// overwrite only when non-empty.
func accumulate(acc map[int]*ToolCall, delta toolCallDelta) {
	existing, ok := acc[delta.Index]
	if !ok {
		acc[delta.Index] = &ToolCall{
			Index:     delta.Index,
			ID:        delta.ID,
			Name:      delta.Function.Name,
			Arguments: delta.Function.Arguments,
		}
		return
	}

	if delta.ID != "" {
		existing.ID = delta.ID
	}
	if delta.Function.Name != "" {
		existing.Name = delta.Function.Name
	}
	existing.Arguments += delta.Function.Arguments
}

func collectCalls(acc map[int]*ToolCall) []ToolCall {
	if len(acc) == 0 {
		return nil
	}
	calls := make([]ToolCall, 0, len(acc))
	for _, tc := range acc {
		calls = append(calls, *tc)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].Index < calls[j].Index })
	return calls
}
