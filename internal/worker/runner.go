package worker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const (
	DefaultTimeout = 10 * time.Minute
	historyLines   = 20
)

// DefaultCommand runs the prompt through the claude CLI.
var DefaultCommand = []string{"claude", "-p"}

// Runner executes one prompt and returns its output.
type Runner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// CommandRunner appends the prompt as the last argument of a command.
type CommandRunner struct {
	Command []string
	Timeout time.Duration
}

// NewCommandRunner falls back to DefaultCommand and DefaultTimeout.
func NewCommandRunner(command []string, timeout time.Duration) *CommandRunner {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandRunner{Command: command, Timeout: timeout}
}

func (r *CommandRunner) Run(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := append(append([]string{}, r.Command[1:]...), prompt)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		return text, fmt.Errorf("command failed: %w\nOutput: %s", err, text)
	}
	if text == "" {
		return "", fmt.Errorf("command produced no output")
	}
	return text, nil
}

// BuildPrompt prefers an explicit payload prompt, else renders the recent
// history followed by the user text.
func BuildPrompt(p types.JobPayload) string {
	if strings.TrimSpace(p.Prompt) != "" {
		return p.Prompt
	}
	history := p.History
	if len(history) > historyLines {
		history = history[len(history)-historyLines:]
	}
	var b strings.Builder
	if p.FocusContext != "" {
		b.WriteString(p.FocusContext)
		b.WriteString("\n\n")
	}
	if len(history) > 0 {
		b.WriteString("최근 대화:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("요청:\n")
	b.WriteString(p.UserText)
	return b.String()
}
