// Package ledger records every inbound update (and every scheduled flow
// slot) exactly once so that redelivered work is detected and skipped.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// Repository is the storage contract. InsertIfAbsent must be atomic against
// a uniqueness constraint on (bot, update id) and report false when a row
// already exists.
type Repository interface {
	FindUpdate(ctx context.Context, bot persona.ID, updateID int64) (*types.InboundRecord, error)
	InsertUpdateIfAbsent(ctx context.Context, rec *types.InboundRecord) (bool, error)
	UpdateUpdateStatus(ctx context.Context, bot persona.ID, updateID int64, status types.UpdateStatus, errText string, at time.Time) error
}

type Key struct {
	Bot      persona.ID
	UpdateID int64
}

type Meta struct {
	Source string
	UserID int64
	ChatID int64
}

type Reservation struct {
	Reserved bool
	Record   *types.InboundRecord
}

type Ledger struct {
	repo Repository
	now  func() time.Time
}

func New(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Reserve claims key. When a record already exists, Reserved is false and
// Record holds the existing row; callers must skip all side effects.
func (l *Ledger) Reserve(ctx context.Context, key Key, meta Meta) (Reservation, error) {
	existing, err := l.repo.FindUpdate(ctx, key.Bot, key.UpdateID)
	if err != nil {
		return Reservation{}, fmt.Errorf("find update: %w", err)
	}
	if existing != nil {
		return Reservation{Reserved: false, Record: existing}, nil
	}

	rec := &types.InboundRecord{
		BotID:     key.Bot,
		UpdateID:  key.UpdateID,
		Source:    meta.Source,
		UserID:    meta.UserID,
		ChatID:    meta.ChatID,
		Status:    types.StatusReceived,
		CreatedAt: l.now().UTC(),
	}
	inserted, err := l.repo.InsertUpdateIfAbsent(ctx, rec)
	if err != nil {
		return Reservation{}, fmt.Errorf("insert update: %w", err)
	}
	if !inserted {
		// Lost a concurrent insert race.
		existing, err := l.repo.FindUpdate(ctx, key.Bot, key.UpdateID)
		if err != nil {
			return Reservation{}, fmt.Errorf("find update: %w", err)
		}
		if existing == nil {
			existing = rec
		}
		return Reservation{Reserved: false, Record: existing}, nil
	}
	return Reservation{Reserved: true, Record: rec}, nil
}

// MarkStatus records the outcome of a reserved key.
func (l *Ledger) MarkStatus(ctx context.Context, key Key, status types.UpdateStatus, errText string) error {
	if err := l.repo.UpdateUpdateStatus(ctx, key.Bot, key.UpdateID, status, errText, l.now().UTC()); err != nil {
		return fmt.Errorf("mark update %d %s: %w", key.UpdateID, status, err)
	}
	return nil
}

// SlotKey synthesises a deterministic update id for a scheduled flow run on
// a local date ("YYYY-MM-DD"). Codes must be in [0, 99]. Slot keys are
// negative; transport update ids never are.
func SlotKey(dateKey string, flowCode int) (int64, error) {
	d, err := time.Parse("2006-01-02", dateKey)
	if err != nil {
		return 0, fmt.Errorf("parse date key %q: %w", dateKey, err)
	}
	if flowCode < 0 || flowCode > 99 {
		return 0, fmt.Errorf("flow code %d out of range", flowCode)
	}
	ymd := int64(d.Year())*10000 + int64(d.Month())*100 + int64(d.Day())
	return -(ymd*100 + int64(flowCode)), nil
}
