package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

// ErrMissingKey is returned by every call when no API key is configured.
var ErrMissingKey = errors.New("OPENAI_API_KEY is not configured.")

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

var _ llm.Provider = (*Client)(nil)

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Name() string         { return "openai" }
func (c *Client) DefaultModel() string { return c.config.Model }

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []llm.Message `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	Model   string        `json:"model"`
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

// choice represents a single completion choice.
type choice struct {
	Message llm.Message `json:"message"`
}

// responseUsage is the OpenAI token usage format.
type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Complete sends a chat completion request and returns the full response.
// The system prompt, when set, is sent as the first message.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.config.APIKey == "" {
		return nil, ErrMissingKey
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, llm.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	reqBody := chatRequest{
		Model:    model,
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		reqBody.MaxCompletionTokens = req.MaxTokens
	} else if c.config.MaxTokens > 0 {
		reqBody.MaxCompletionTokens = c.config.MaxTokens
	}

	if req.Temperature != 0 {
		temp := req.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.config.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &llm.APIError{Provider: "OpenAI", Status: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("OpenAI returned empty output")
	}

	return &llm.Response{
		Content: content,
		Model:   model,
		Usage: llm.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
	}, nil
}
