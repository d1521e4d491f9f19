package anthropic

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

	"github.com/rarehotdog/pjt.mayhem/pkg/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 800
)

// ErrMissingKey is returned by every call when no API key is configured.
var ErrMissingKey = errors.New("ANTHROPIC_API_KEY is not configured.")

// Client implements llm.Provider against the Anthropic Messages API.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

var _ llm.Provider = (*Client)(nil)

func New(config *llm.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string         { return "anthropic" }
func (c *Client) DefaultModel() string { return c.config.Model }

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete sends a Messages API request. Text blocks of the answer are
// joined with newlines.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.config.APIKey == "" {
		return nil, ErrMissingKey
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := messagesRequest{
		Model:     model,
		System:    req.System,
		Messages:  alternate(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.Temperature != 0 {
		temp := req.Temperature
		body.Temperature = &temp
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &llm.APIError{Provider: "Anthropic", Status: resp.StatusCode, Body: string(respBody)}
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var parts []string
	for _, block := range out.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, "\n"))
	if text == "" {
		return nil, fmt.Errorf("Anthropic Messages API returned empty output")
	}

	return &llm.Response{
		Content: text,
		Model:   model,
		Usage: llm.Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

// alternate coerces history into the user/assistant alternation the API
// requires: leading assistant turns are dropped and consecutive turns of the
// same role are merged.
func alternate(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if len(out) == 0 && m.Role == "assistant" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
