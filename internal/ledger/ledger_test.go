package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

func TestReserve_SecondCallIsDuplicate(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryRepository())
	key := Key{Bot: persona.Tyler, UpdateID: 100}

	first, err := l.Reserve(ctx, key, Meta{Source: "webhook", UserID: 1, ChatID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Reserved || first.Record.Status != types.StatusReceived {
		t.Fatalf("expected fresh reservation, got %+v", first)
	}

	second, err := l.Reserve(ctx, key, Meta{Source: "webhook"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Reserved {
		t.Fatal("second reserve must report duplicate")
	}
	if second.Record.Source != "webhook" || second.Record.UserID != 1 {
		t.Errorf("expected existing record, got %+v", second.Record)
	}
}

func TestReserve_IndependentPerBot(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryRepository())
	a, _ := l.Reserve(ctx, Key{Bot: persona.Tyler, UpdateID: 5}, Meta{})
	b, _ := l.Reserve(ctx, Key{Bot: persona.Zhuge, UpdateID: 5}, Meta{})
	if !a.Reserved || !b.Reserved {
		t.Error("same update id under different bots must both reserve")
	}
}

func TestReserve_ConcurrentExactlyOnce(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryRepository())
	key := Key{Bot: persona.Jensen, UpdateID: 77}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := l.Reserve(ctx, key, Meta{})
			if err != nil {
				t.Error(err)
				return
			}
			if r.Reserved {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one reservation, got %d", wins)
	}
}

// racingRepo hides the row from the first lookup to simulate a concurrent
// insert between find and insert.
type racingRepo struct {
	*MemoryRepository
	hidden bool
}

func (r *racingRepo) FindUpdate(ctx context.Context, bot persona.ID, id int64) (*types.InboundRecord, error) {
	if !r.hidden {
		r.hidden = true
		return nil, nil
	}
	return r.MemoryRepository.FindUpdate(ctx, bot, id)
}

func TestReserve_LostInsertRaceIsDuplicate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRepository()
	mem.InsertUpdateIfAbsent(ctx, &types.InboundRecord{BotID: persona.Tyler, UpdateID: 9, Status: types.StatusProcessed})

	l := New(&racingRepo{MemoryRepository: mem})
	r, err := l.Reserve(ctx, Key{Bot: persona.Tyler, UpdateID: 9}, Meta{})
	if err != nil {
		t.Fatalf("lost race must not error: %v", err)
	}
	if r.Reserved || r.Record.Status != types.StatusProcessed {
		t.Errorf("expected existing processed record, got %+v", r)
	}
}

func TestMarkStatus_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	l := New(repo)
	key := Key{Bot: persona.Tyler, UpdateID: 1}
	l.Reserve(ctx, key, Meta{})

	if err := l.MarkStatus(ctx, key, types.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkStatus(ctx, key, types.StatusProcessed, ""); err != nil {
		t.Fatal(err)
	}
	rec, _ := repo.FindUpdate(ctx, persona.Tyler, 1)
	if rec.Status != types.StatusProcessed || rec.Error != "" || rec.ProcessedAt == nil {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestSlotKey(t *testing.T) {
	got, err := SlotKey("2026-03-01", 12)
	if err != nil {
		t.Fatal(err)
	}
	if got != -2026030112 {
		t.Errorf("expected -2026030112, got %d", got)
	}
	again, _ := SlotKey("2026-03-01", 12)
	if again != got {
		t.Error("slot key must be deterministic")
	}
	if _, err := SlotKey("2026/03/01", 1); err == nil {
		t.Error("expected parse error")
	}
	if _, err := SlotKey("2026-03-01", 100); err == nil {
		t.Error("expected range error")
	}
}
