// Package capability wraps the external text-generation backend behind
// a small request/response client. Workers and the routing engine never
// talk to the backend directly.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Sentinel errors distinguishing the failure classes callers care
// about. Wrap-checked with errors.Is.
var (
	ErrAuth      = errors.New("capability: authentication rejected")
	ErrMalformed = errors.New("capability: malformed response")
	ErrBackend   = errors.New("capability: backend error")
)

// Classification is the primary classifier's output.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate produces text for the given prompt. system carries extra
// grounding prepended as a system message; it may be empty.
func (c *Client) Generate(ctx context.Context, prompt, system string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})
	return c.complete(ctx, msgs)
}

const classifyPrompt = `Classify the following request into exactly one label:
"notifier" (composing or sending a message or notification),
"research" (researching, investigating or analyzing a topic),
"generalist" (anything else).
Respond with only a JSON object {"label": "...", "confidence": 0.0-1.0}.

Request: %s`

// Classify asks the backend to label a request text. A response that
// cannot be parsed into a known label is reported as ErrMalformed so
// the caller can fall back.
func (c *Client) Classify(ctx context.Context, text string) (Classification, error) {
	raw, err := c.complete(ctx, []chatMessage{
		{Role: "user", Content: fmt.Sprintf(classifyPrompt, text)},
	})
	if err != nil {
		return Classification{}, err
	}

	var cl Classification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &cl); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch cl.Label {
	case "notifier", "research", "generalist":
	default:
		return Classification{}, fmt.Errorf("%w: unknown label %q", ErrMalformed, cl.Label)
	}
	if cl.Confidence < 0 || cl.Confidence > 1 {
		return Classification{}, fmt.Errorf("%w: confidence %v out of range", ErrMalformed, cl.Confidence)
	}
	return cl, nil
}

func (c *Client) complete(ctx context.Context, msgs []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("capability call: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w (status %d)", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, string(b))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty choices", ErrMalformed)
	}

	log.Debug().Str("model", c.model).Msg("capability call completed")
	return cr.Choices[0].Message.Content, nil
}

// extractJSON trims markdown code fences and surrounding prose that
// chat models wrap around JSON answers.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
