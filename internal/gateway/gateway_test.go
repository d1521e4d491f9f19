package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

type recordingProcessor struct {
	mu    sync.Mutex
	seen  []int
	err   error
	delay time.Duration
}

func (p *recordingProcessor) ProcessUpdate(ctx context.Context, id persona.ID, update *tgbotapi.Update, source string) (*types.ProcessResult, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.seen = append(p.seen, update.UpdateID)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &types.ProcessResult{Status: types.StatusProcessed, RequestedBotID: id}, nil
}

func textUpdate(updateID int, chatID int64, text string) *tgbotapi.Update {
	return &tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: updateID,
			From:      &tgbotapi.User{ID: 7},
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "private"},
			Text:      text,
		},
	}
}

func TestGatewayDispatch(t *testing.T) {
	proc := &recordingProcessor{}
	gw := New(proc, 2)
	gw.Start(context.Background())
	defer gw.Stop()

	res, err := gw.Dispatch(context.Background(), persona.Zhuge, textUpdate(1, 10, "hi"), "webhook")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusProcessed || res.RequestedBotID != persona.Zhuge {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestGatewayDispatchError(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("boom")}
	gw := New(proc, 1)
	gw.Start(context.Background())
	defer gw.Stop()

	if _, err := gw.Dispatch(context.Background(), persona.Tyler, textUpdate(1, 10, "hi"), "webhook"); err == nil {
		t.Error("expected processor error to surface")
	}
}

func TestGatewayDispatchContextCancel(t *testing.T) {
	proc := &recordingProcessor{delay: 200 * time.Millisecond}
	gw := New(proc, 1)
	gw.Start(context.Background())
	defer gw.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := gw.Dispatch(ctx, persona.Tyler, textUpdate(1, 10, "hi"), "webhook"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestGatewaySubmitKeepsChatOrder(t *testing.T) {
	proc := &recordingProcessor{}
	gw := New(proc, 4)
	gw.Start(context.Background())
	defer gw.Stop()

	for i := 1; i <= 5; i++ {
		if err := gw.Submit(persona.Tyler, textUpdate(i, 99, "msg"), "polling"); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		proc.mu.Lock()
		n := len(proc.seen)
		proc.mu.Unlock()
		if n == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 5 processed, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	for i, id := range proc.seen {
		if id != i+1 {
			t.Fatalf("order broken: %v", proc.seen)
		}
	}
}
