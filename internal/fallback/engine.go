// Package fallback runs a generation through the primary provider's model
// candidates and then, once, through the secondary provider.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	promptctx "github.com/rarehotdog/pjt.mayhem/internal/context"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
	"github.com/rarehotdog/pjt.mayhem/pkg/llm"
)

// Rates are per-1K token prices in USD.
type Rates struct {
	Input  float64
	Output float64
}

// Config controls the cascade.
type Config struct {
	// Candidates are primary-provider models in try order. The provider's
	// default model is always tried first.
	Candidates     []string
	PrimaryRates   Rates
	SecondaryRates Rates
	Timeout        time.Duration
}

// Result is a successful generation.
type Result struct {
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Text             string        `json:"text"`
	TokensIn         int           `json:"tokens_in"`
	TokensOut        int           `json:"tokens_out"`
	EstimatedCostUSD float64       `json:"estimated_cost_usd"`
	AttemptedModels  []string      `json:"attempted_models"`
	FallbackFrom     string        `json:"fallback_from,omitempty"`
	Error            string        `json:"error,omitempty"`
	Latency          time.Duration `json:"latency"`
}

// Generator is what callers depend on.
type Generator interface {
	Generate(ctx context.Context, in promptctx.Input) (*Result, error)
	Summarize(ctx context.Context, history []types.HistoryMessage, timezone string) (*Result, error)
}

// Engine implements Generator over two providers.
type Engine struct {
	primary   llm.Provider
	secondary llm.Provider
	prompts   *promptctx.Engine
	cfg       Config
	now       func() time.Time
}

var _ Generator = (*Engine)(nil)

func New(primary, secondary llm.Provider, prompts *promptctx.Engine, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 16 * time.Second
	}
	return &Engine{
		primary:   primary,
		secondary: secondary,
		prompts:   prompts,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Candidates returns the primary models in try order: default first,
// duplicates and blanks removed.
func (e *Engine) Candidates() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range append([]string{e.primary.DefaultModel()}, e.cfg.Candidates...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Generate runs the cascade. It never retries the secondary provider.
func (e *Engine) Generate(ctx context.Context, in promptctx.Input) (*Result, error) {
	req := e.prompts.Build(in)

	var (
		attempted []string
		failures  []string
	)
	for _, model := range e.Candidates() {
		attempted = append(attempted, model)
		start := e.now()
		resp, err := e.call(ctx, e.primary, model, req)
		if err != nil {
			failures = append(failures, model+": "+redact.Error(err))
			slog.Warn("primary provider failed", "provider", e.primary.Name(), "model", model, "error", redact.Error(err))
			continue
		}
		return e.result(e.primary.Name(), resp, e.cfg.PrimaryRates, attempted, start), nil
	}

	primaryErr := strings.Join(failures, " | ")
	if primaryErr == "" {
		primaryErr = "unknown"
	}

	start := e.now()
	resp, err := e.call(ctx, e.secondary, "", req)
	if err != nil {
		return nil, fmt.Errorf("Both providers failed. %s=%s %s=%s",
			e.primary.Name(), primaryErr, e.secondary.Name(), redact.Error(err))
	}
	res := e.result(e.secondary.Name(), resp, e.cfg.SecondaryRates, attempted, start)
	res.FallbackFrom = e.primary.Name()
	res.Error = primaryErr
	return res, nil
}

// Summarize generates the fixed five-line summary of history.
func (e *Engine) Summarize(ctx context.Context, history []types.HistoryMessage, timezone string) (*Result, error) {
	return e.Generate(ctx, promptctx.Input{
		History:  history,
		UserText: promptctx.SummaryPrompt,
		Timezone: timezone,
	})
}

func (e *Engine) call(ctx context.Context, p llm.Provider, model string, req *llm.Request) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	r := *req
	r.Model = model
	resp, err := p.Complete(ctx, &r)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", e.cfg.Timeout, err)
		}
		return nil, err
	}
	text := Normalize(resp.Content)
	if text == "" {
		return nil, errors.New("empty output")
	}
	resp.Content = text
	return resp, nil
}

func (e *Engine) result(provider string, resp *llm.Response, rates Rates, attempted []string, start time.Time) *Result {
	return &Result{
		Provider:         provider,
		Model:            resp.Model,
		Text:             resp.Content,
		TokensIn:         resp.Usage.InputTokens,
		TokensOut:        resp.Usage.OutputTokens,
		EstimatedCostUSD: llm.EstimateCost(resp.Usage, rates.Input, rates.Output),
		AttemptedModels:  attempted,
		Latency:          e.now().Sub(start),
	}
}

var htmlTag = regexp.MustCompile(`(?i)</?(p|br|div|ul|ol|li|b|strong|i|em|h[1-6]|a|code|pre)\b[^>]*>`)

// Normalize trims output and converts HTML answers to Markdown.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	if !htmlTag.MatchString(text) {
		return text
	}
	md, err := htmltomarkdown.ConvertString(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(md)
}
