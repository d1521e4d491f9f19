package gateway

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// LaneKey identifies one FIFO lane: a persona talking in one chat.
type LaneKey struct {
	Persona persona.ID
	ChatID  int64
}

func (k LaneKey) String() string {
	return fmt.Sprintf("%s:%d", k.Persona, k.ChatID)
}

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Outcome is what a processed Run hands back to a waiting caller.
type Outcome struct {
	Result *types.ProcessResult
	Err    error
}

// Run is one inbound update waiting in its lane.
type Run struct {
	Lane      LaneKey
	Persona   persona.ID
	Update    *tgbotapi.Update
	Source    string
	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time

	// done is nil for fire-and-forget runs.
	done chan Outcome
}

// NewRun creates a queued Run for update addressed to id.
func NewRun(id persona.ID, update *tgbotapi.Update, source string) *Run {
	return &Run{
		Lane:      LaneKey{Persona: id, ChatID: chatIDOf(update)},
		Persona:   id,
		Update:    update,
		Source:    source,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

func (r *Run) finish(res *types.ProcessResult, err error) {
	now := time.Now()
	r.EndedAt = &now
	if err != nil {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusComplete
	}
	if r.done != nil {
		r.done <- Outcome{Result: res, Err: err}
	}
}

func chatIDOf(update *tgbotapi.Update) int64 {
	if update == nil || update.Message == nil || update.Message.Chat == nil {
		return 0
	}
	return update.Message.Chat.ID
}
