// internal/types/ids.go
package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

type ThreadID string
type MessageID string
type JobID string
type ReminderJobID string
type ActionID string

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func NewMessageID() MessageID {
	return MessageID(newUUID())
}

func NewReminderJobID() ReminderJobID {
	return ReminderJobID(newUUID())
}

func NewActionID() ActionID {
	return ActionID(newUUID())
}

// NewJobID returns a lexicographically time-ordered id for local jobs.
func NewJobID() JobID {
	return JobID(strings.ToLower(ulid.Make().String()))
}

// NewThreadID builds the conversation key for one persona in one chat.
func NewThreadID(bot persona.ID, chatID int64) ThreadID {
	return ThreadID(fmt.Sprintf("telegram:%s:%d", bot, chatID))
}
