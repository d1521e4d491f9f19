//go:build integration

package test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/assistant"
	"github.com/rarehotdog/pjt.mayhem/internal/config"
	promptctx "github.com/rarehotdog/pjt.mayhem/internal/context"
	"github.com/rarehotdog/pjt.mayhem/internal/delivery"
	"github.com/rarehotdog/pjt.mayhem/internal/fallback"
	"github.com/rarehotdog/pjt.mayhem/internal/gateway"
	"github.com/rarehotdog/pjt.mayhem/internal/jobs"
	"github.com/rarehotdog/pjt.mayhem/internal/ledger"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/ratelimit"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
	"github.com/rarehotdog/pjt.mayhem/internal/webhook"
	"github.com/rarehotdog/pjt.mayhem/internal/worker"
	"github.com/rarehotdog/pjt.mayhem/pkg/llm"
)

// scriptedProvider answers every call with text, or fails with err.
type scriptedProvider struct {
	name  string
	model string
	text  string
	err   error

	mu    sync.Mutex
	calls int
}

func (p *scriptedProvider) Name() string         { return p.name }
func (p *scriptedProvider) DefaultModel() string { return p.model }

func (p *scriptedProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	return &llm.Response{Content: p.text, Model: model, Usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}, nil
}

// botAPI records sendMessage calls.
type botAPI struct {
	mu    sync.Mutex
	texts []string
	chats []string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	b.mu.Lock()
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		b.texts = append(b.texts, r.PostForm.Get("text"))
		b.chats = append(b.chats, r.PostForm.Get("chat_id"))
	}
	n := len(b.texts)
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true,"result":{"message_id":` + strconv.Itoa(n) + `,"date":0,"chat":{"id":1,"type":"private"}}}`))
}

func (b *botAPI) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

type stack struct {
	http    *httptest.Server
	api     *botAPI
	store   *state.Store
	primary *scriptedProvider
	second  *scriptedProvider
}

func newStack(t *testing.T, primaryErr error) *stack {
	t.Helper()
	api := &botAPI{}
	tg := httptest.NewServer(api)
	t.Cleanup(tg.Close)

	env := map[string]string{
		"TELEGRAM_ALLOWED_USER_IDS": "7",
		"TELEGRAM_ALLOWED_CHAT_IDS": "7,-100500",
		"LOCAL_WORKER_SECRET":       "w-secret",
	}
	cfg := config.FromEnv(func(k string) string { return env[k] })
	for _, id := range persona.All() {
		cfg.Bots[id] = config.BotConfig{Token: "1:" + string(id), Secret: "sec-" + string(id), Username: string(id) + "_bot"}
	}
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Anthropic.APIKey = "ak-test"
	cfg.Telegram.APIEndpoint = tg.URL + "/bot%s/%s"
	cfg.Telegram.SendRatePerSec = 1000
	holder := config.NewHolder(filepath.Join(t.TempDir(), "config.json"), cfg)

	db, err := state.Open(filepath.Join(t.TempDir(), "mayhem.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store := state.NewStore(db)

	primary := &scriptedProvider{name: "openai", model: "gpt-test", text: "기본 답변", err: primaryErr}
	second := &scriptedProvider{name: "anthropic", model: "claude-test", text: "백업 답변"}
	prompts, err := promptctx.New("gpt-4", cfg.Assistant.MaxContextTokens)
	if err != nil {
		t.Fatal(err)
	}
	gen := fallback.New(primary, second, prompts, fallback.Config{Timeout: 5 * time.Second})

	sender := telegram.NewSender(holder, telegram.WithHTTPClient(tg.Client()))
	queue := jobs.NewQueue(store)
	ldg := ledger.New(store)
	limits := ratelimit.NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc := assistant.New(assistant.Deps{
		Config:    holder,
		Store:     store,
		Ledger:    ldg,
		Jobs:      queue,
		Generator: gen,
		Messenger: sender,
		Limiter:   ratelimit.New(limits),
	})
	svc.Start(ctx)
	t.Cleanup(svc.Stop)

	gw := gateway.New(svc, 4)
	gw.Start(ctx)
	t.Cleanup(gw.Stop)

	batches := scheduler.NewCoordinator(scheduler.Deps{
		Config:    holder,
		Store:     store,
		Composer:  svc,
		Messenger: sender,
		Ledger:    ldg,
		Jobs:      queue,
		Router:    delivery.NewRouter(sender),
	})
	srv := httptest.NewServer(webhook.NewServer(webhook.Deps{
		Config:     holder,
		Dispatcher: gw,
		Batches:    batches,
		Jobs:       queue,
		Store:      store,
		Composer:   svc,
		Messenger:  sender,
	}))
	t.Cleanup(srv.Close)

	return &stack{http: srv, api: api, store: store, primary: primary, second: second}
}

func (s *stack) postUpdate(t *testing.T, bot persona.ID, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, s.http.URL+"/telegram/webhook/"+string(bot), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SecretHeader, "sec-"+string(bot))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

const dmUpdate = `{"update_id": 1001, "message": {"message_id": 5, "date": 0, "text": "오늘 할 일 정리해줘", "chat": {"id": 7, "type": "private"}, "from": {"id": 7, "first_name": "Kim"}}}`

func TestWebhookToReply(t *testing.T) {
	s := newStack(t, nil)

	if resp := s.postUpdate(t, persona.Tyler, dmUpdate); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	sent := s.api.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "기본 답변") {
		t.Fatalf("expected primary reply, got %v", sent)
	}

	// Telegram redelivers the same update: nothing new is sent.
	if resp := s.postUpdate(t, persona.Tyler, dmUpdate); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", resp.StatusCode)
	}
	if got := len(s.api.sent()); got != 1 {
		t.Errorf("expected no second reply, got %d sends", got)
	}

	// The same update id for another persona is independent.
	s.postUpdate(t, persona.Zhuge, dmUpdate)
	if got := len(s.api.sent()); got != 2 {
		t.Errorf("expected a reply from the second persona, got %d sends", got)
	}
}

func TestWebhookFallsBackToSecondary(t *testing.T) {
	s := newStack(t, &llm.APIError{Provider: "OpenAI", Status: 503, Body: "overloaded"})

	s.postUpdate(t, persona.Tyler, dmUpdate)
	sent := s.api.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "백업 답변") {
		t.Fatalf("expected secondary reply, got %v", sent)
	}
	if s.second.calls != 1 {
		t.Errorf("expected one secondary call, got %d", s.second.calls)
	}
}

func TestHeavyRequestRoundTripsThroughWorker(t *testing.T) {
	s := newStack(t, errors.New("primary must not be called"))

	heavy := `{"update_id": 2001, "message": {"message_id": 9, "date": 0, "text": "블로그 초안 써줘", "chat": {"id": 7, "type": "private"}, "from": {"id": 7}}}`
	s.postUpdate(t, persona.Tyler, heavy)
	if sent := s.api.sent(); len(sent) != 1 {
		t.Fatalf("expected a queue notice, got %v", sent)
	}

	w := worker.New(worker.NewClient(s.http.URL, "w-secret"), runnerFunc(func(prompt string) (string, error) {
		if !strings.Contains(prompt, "블로그 초안 써줘") {
			t.Errorf("prompt lost the user text: %q", prompt)
		}
		return "로컬 초안 완성", nil
	}), worker.Options{ID: "it-worker"})

	handled, err := w.RunOnce(context.Background())
	if err != nil || !handled {
		t.Fatalf("expected the worker to handle the job: %v %v", handled, err)
	}
	sent := s.api.sent()
	if len(sent) != 2 || !strings.Contains(sent[1], "로컬 초안 완성") {
		t.Fatalf("expected worker output delivered, got %v", sent)
	}

	handled, err = w.RunOnce(context.Background())
	if err != nil || handled {
		t.Errorf("expected an empty queue, got %v %v", handled, err)
	}
}

type runnerFunc func(prompt string) (string, error)

func (f runnerFunc) Run(_ context.Context, prompt string) (string, error) { return f(prompt) }
