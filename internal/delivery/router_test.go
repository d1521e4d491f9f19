package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
)

type fakeMessenger struct {
	fail map[int64]error
	sent []telegram.Outbound
}

func (f *fakeMessenger) Send(ctx context.Context, msg telegram.Outbound) (int, error) {
	if err := f.fail[msg.ChatID]; err != nil {
		return 0, err
	}
	f.sent = append(f.sent, msg)
	return len(f.sent), nil
}

func TestDeliverDM(t *testing.T) {
	out := &fakeMessenger{}
	r := NewRouter(out)

	d, err := r.DeliverWithFallback(context.Background(), Target{
		Persona: persona.Jensen, DMChatID: 10, GroupChatID: -20, Text: "go",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.ChatID != 10 || d.Fallback {
		t.Errorf("expected DM delivery, got %+v", d)
	}
	if len(out.sent) != 1 || out.sent[0].Text != "go" {
		t.Errorf("unexpected sends: %+v", out.sent)
	}
}

func TestDeliverFallsBackToGroup(t *testing.T) {
	out := &fakeMessenger{fail: map[int64]error{10: errors.New("chat not found")}}
	r := NewRouter(out)

	d, err := r.DeliverWithFallback(context.Background(), Target{
		Persona: persona.Jensen, DMChatID: 10, GroupChatID: -20, Text: "go",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.ChatID != -20 || !d.Fallback || d.DMError == "" {
		t.Errorf("expected group fallback, got %+v", d)
	}
	if !strings.HasPrefix(out.sent[0].Text, FallbackBanner+"\n\n") {
		t.Errorf("expected banner, got %q", out.sent[0].Text)
	}
}

func TestDeliverNoDMConfigured(t *testing.T) {
	out := &fakeMessenger{}
	d, err := NewRouter(out).DeliverWithFallback(context.Background(), Target{
		Persona: persona.Jensen, GroupChatID: -20, Text: "go",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Fallback || d.ChatID != -20 {
		t.Errorf("expected group delivery, got %+v", d)
	}
}

func TestDeliverBothFail(t *testing.T) {
	out := &fakeMessenger{fail: map[int64]error{
		10:  errors.New("dm down"),
		-20: errors.New("group down"),
	}}
	_, err := NewRouter(out).DeliverWithFallback(context.Background(), Target{
		Persona: persona.Jensen, DMChatID: 10, GroupChatID: -20, Text: "go",
	})
	if err == nil || !strings.Contains(err.Error(), "dm down") || !strings.Contains(err.Error(), "group down") {
		t.Errorf("expected combined error, got %v", err)
	}
}

func TestDeliverNoTarget(t *testing.T) {
	_, err := NewRouter(&fakeMessenger{}).DeliverWithFallback(context.Background(), Target{Persona: persona.Jensen, Text: "go"})
	if !errors.Is(err, ErrNoTarget) {
		t.Errorf("expected ErrNoTarget, got %v", err)
	}
}
