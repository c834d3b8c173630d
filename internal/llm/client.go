// Package llm talks to an OpenAI-compatible chat-completions endpoint and
// layers the two-stage document classification prompts on top.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxConcurrentCalls caps parallel completions across the whole process so
// a batch run cannot trip provider rate limits.
const maxConcurrentCalls = 5

// Config holds the provider connection parameters.
type Config struct {
	APIURL    string
	APIKey    string
	Model     string
	MiniModel string // cheaper model for stage-1 triage and minimal prompts
	MaxTokens int
	Timeout   time.Duration
}

// Usage is the token accounting of one completion. ServerCostUSD is only
// populated by providers that report cost inline (OpenRouter does, OpenAI
// does not).
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	ServerCostUSD    float64 `json:"server_cost_usd,omitempty"`
}

func (u *Usage) add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.ServerCostUSD += other.ServerCostUSD
}

// Client is safe for concurrent use. All calls share one semaphore.
type Client struct {
	cfg     Config
	hc      *http.Client
	gate    *semaphore.Weighted
	waiting atomic.Int64
}

// QueueDepth reports how many calls are currently queued or in flight on
// the semaphore.
func (c *Client) QueueDepth() int64 { return c.waiting.Load() }

func New(cfg Config) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MiniModel == "" {
		cfg.MiniModel = cfg.Model
	}
	return &Client{
		cfg:  cfg,
		hc:   &http.Client{Timeout: cfg.Timeout},
		gate: semaphore.NewWeighted(maxConcurrentCalls),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// complete runs one chat completion and returns the raw assistant text.
func (c *Client) complete(ctx context.Context, model, system, user string) (string, Usage, error) {
	c.waiting.Add(1)
	defer c.waiting.Add(-1)
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return "", Usage{}, fmt.Errorf("acquire llm slot: %w", err)
	}
	defer c.gate.Release(1)

	body, _ := json.Marshal(map[string]interface{}{
		"model": model,
		"messages": []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": 0,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("completion HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int     `json:"prompt_tokens"`
			CompletionTokens int     `json:"completion_tokens"`
			TotalTokens      int     `json:"total_tokens"`
			Cost             float64 `json:"cost"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("empty completion response")
	}

	usage := Usage{
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		ServerCostUSD:    result.Usage.Cost,
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), usage, nil
}

// cleanJSON strips markdown fences models wrap around JSON despite being
// told not to.
func cleanJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if i := strings.LastIndex(raw, "```"); i >= 0 {
			raw = raw[:i]
		}
	}
	return strings.TrimSpace(raw)
}

// decodeJSON parses an LLM JSON payload after fence stripping.
func decodeJSON(raw string, v interface{}) error {
	cleaned := cleanJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("parse llm json: %w (raw: %.120s)", err, cleaned)
	}
	return nil
}
