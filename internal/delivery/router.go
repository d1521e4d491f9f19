// Package delivery routes outbound flow results to a direct chat with a
// group fallback.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
)

// FallbackBanner precedes a message that could not reach its DM target.
const FallbackBanner = "⚠️ DM 전달 실패로 그룹방에 공유합니다."

// ErrNoTarget is returned when neither a DM nor a group chat is known.
var ErrNoTarget = errors.New("no delivery target configured")

// Target describes where a message should go.
type Target struct {
	Persona     persona.ID
	DMChatID    int64
	GroupChatID int64
	Text        string
	Silent      bool
}

// Delivery reports where a message landed.
type Delivery struct {
	ChatID    int64  `json:"chatId"`
	MessageID int    `json:"messageId"`
	Fallback  bool   `json:"fallback"`
	DMError   string `json:"dmError,omitempty"`
}

// Router sends through a telegram.Messenger.
type Router struct {
	out telegram.Messenger
}

// NewRouter creates a Router.
func NewRouter(out telegram.Messenger) *Router {
	return &Router{out: out}
}

// DeliverWithFallback tries the DM chat first. When that fails or is not
// configured, the text goes to the group prefixed with FallbackBanner.
func (r *Router) DeliverWithFallback(ctx context.Context, t Target) (*Delivery, error) {
	var dmErr error
	if t.DMChatID != 0 {
		id, err := r.out.Send(ctx, telegram.Outbound{
			Persona: t.Persona,
			ChatID:  t.DMChatID,
			Text:    t.Text,
			Silent:  t.Silent,
		})
		if err == nil {
			return &Delivery{ChatID: t.DMChatID, MessageID: id}, nil
		}
		dmErr = err
		slog.Warn("dm delivery failed, falling back to group",
			"persona", string(t.Persona),
			"chat_id", t.DMChatID,
			"error", redact.Error(err),
		)
	} else {
		dmErr = errors.New("dm chat not configured")
	}

	if t.GroupChatID == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTarget, redact.Error(dmErr))
	}

	id, err := r.out.Send(ctx, telegram.Outbound{
		Persona: t.Persona,
		ChatID:  t.GroupChatID,
		Text:    FallbackBanner + "\n\n" + t.Text,
		Silent:  t.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("deliver to dm and group failed: dm=%s group=%s", redact.Error(dmErr), redact.Error(err))
	}
	return &Delivery{
		ChatID:    t.GroupChatID,
		MessageID: id,
		Fallback:  true,
		DMError:   redact.Error(dmErr),
	}, nil
}
