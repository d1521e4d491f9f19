package llm

import (
	"context"
	"math"
	"time"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Name is the short provider label stored with messages and cost logs.
	Name() string

	// DefaultModel is used when a request does not name a model.
	DefaultModel() string

	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// EstimateCost prices usage at per-1K token rates, rounded to six decimals.
// No reported tokens costs nothing.
func EstimateCost(u Usage, inputPer1K, outputPer1K float64) float64 {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return 0
	}
	cost := float64(u.InputTokens)/1000*inputPer1K + float64(u.OutputTokens)/1000*outputPer1K
	return math.Round(cost*1e6) / 1e6
}
