// internal/context/engine.go
package context

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
	"github.com/rarehotdog/pjt.mayhem/pkg/llm"
)

const (
	DefaultMaxOutputTokens = 700
	DefaultTemperature     = 0.7
)

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens bounds system prompt, history, user text and output together.
func New(model string, maxTokens int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
	}, nil
}

// countTokens returns the token count for a string.
func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// Input describes one generation.
type Input struct {
	Persona     persona.ID
	Timezone    string
	History     []types.HistoryMessage
	UserText    string
	MaxTokens   int
	Temperature float64
}

// Build assembles the request: persona system prompt, as much recent
// history as fits the budget (newest kept first), then the user text.
func (e *Engine) Build(in Input) *llm.Request {
	maxOut := in.MaxTokens
	if maxOut <= 0 {
		maxOut = DefaultMaxOutputTokens
	}
	temp := in.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}

	system := SystemPrompt(in.Persona, in.Timezone)
	budget := e.maxTokens - maxOut - e.countTokens(system) - e.countTokens(in.UserText)

	kept := 0
	used := 0
	for i := len(in.History) - 1; i >= 0; i-- {
		n := e.countTokens(in.History[i].Content)
		if used+n > budget {
			break
		}
		used += n
		kept++
	}
	history := in.History[len(in.History)-kept:]

	messages := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		messages = append(messages, llm.Message{Role: string(h.Role), Content: h.Content})
	}
	messages = append(messages, llm.Message{Role: string(types.RoleUser), Content: in.UserText})

	return &llm.Request{
		System:      system,
		Messages:    messages,
		MaxTokens:   maxOut,
		Temperature: temp,
	}
}

// SystemPrompt returns the persona role prompt followed by the shared rules.
func SystemPrompt(id persona.ID, timezone string) string {
	return renderSystem(persona.RolePrompt(id), timezone)
}
