package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
)

// Client calls an Anthropic-compatible Messages API for both oracle
// contracts. It implements Decider and BatchResolver.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client

	// Rate limiting: max calls per minute.
	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
}

// NewClient creates an oracle client. Returns nil if apiKey is empty
// (oracle calls disabled; agents idle).
func NewClient(apiKey, model string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxPerMin: 30,
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type apiResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Decide requests one agent's next action. Transport and API failures wrap
// ErrUnavailable so the scheduler skips the turn rather than crashing.
func (c *Client) Decide(ctx context.Context, dc DecisionContext) (string, error) {
	system := fmt.Sprintf(
		"You are %s, an autonomous agent of %s in a running geopolitical simulation. "+
			"Decide your next action and respond with a single JSON object with fields "+
			"action_type, summary, target, is_public, relocate_to, affected_entities, reasoning.",
		dc.AgentID, dc.Entity,
	)

	var b strings.Builder
	fmt.Fprintf(&b, "GAME TIME: %s\n\n", dc.GameTime.Format(time.RFC3339))
	if dc.Agenda != "" {
		fmt.Fprintf(&b, "AGENDA: %s\n\n", dc.Agenda)
	}
	if len(dc.Memory) > 0 {
		b.WriteString("RECENT EVENTS:\n")
		for _, m := range dc.Memory {
			fmt.Fprintf(&b, "- %s\n", m)
		}
		b.WriteString("\n")
	}
	b.WriteString("Respond with one JSON object only.")

	return c.complete(ctx, system, b.String(), 512)
}

// ResolveBatch requests outcomes for a uniform group of pending events. The
// response is expected to embed a JSON array with one object per event, in
// input order.
func (c *Client) ResolveBatch(ctx context.Context, br BatchRequest) (string, error) {
	eventsJSON, err := json.MarshalIndent(br.Events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal batch events: %w", err)
	}

	system := "You are the resolver for a geopolitical simulation. For each event, " +
		"write a brief narrative outcome (1-2 sentences). Metric effects are computed " +
		"separately. Respond with a JSON array of objects {event_id, outcome}, same order as input."

	var b strings.Builder
	fmt.Fprintf(&b, "GAME TIME: %s\n", br.GameTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "ACTION TYPE: %s\n\n", br.ActionType)
	fmt.Fprintf(&b, "EVENTS:\n%s\n\nReturn ONLY the JSON array.", eventsJSON)

	return c.complete(ctx, system, b.String(), 1024)
}

func (c *Client) complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("oracle client not configured: %w", ErrUnavailable)
	}

	// Rate limiting.
	c.mu.Lock()
	now := time.Now()
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	if c.callCount >= c.maxPerMin {
		c.mu.Unlock()
		return "", fmt.Errorf("rate limit exceeded (%d calls/min): %w", c.maxPerMin, ErrUnavailable)
	}
	c.callCount++
	c.mu.Unlock()

	req := apiRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []message{
			{Role: "user", Content: userPrompt},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("oracle call: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %v: %w", err, ErrUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle API status %d: %s: %w", resp.StatusCode, truncate(string(respBody), 200), ErrUnavailable)
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %v: %w", err, ErrUnavailable)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty response content: %w", ErrUnavailable)
	}
	return parsed.Content[0].Text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
