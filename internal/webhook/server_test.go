package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/assistant"
	"github.com/rarehotdog/pjt.mayhem/internal/config"
	promptctx "github.com/rarehotdog/pjt.mayhem/internal/context"
	"github.com/rarehotdog/pjt.mayhem/internal/jobs"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const workerAuth = "Bearer w-secret"

type fakeDispatcher struct {
	mu      sync.Mutex
	updates []*tgbotapi.Update
	err     error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, id persona.ID, u *tgbotapi.Update, source string) (*types.ProcessResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
	if d.err != nil {
		return nil, d.err
	}
	return &types.ProcessResult{Status: types.StatusProcessed, RequestedBotID: id, EffectiveBotID: id}, nil
}

type fakeRunner struct {
	mu        sync.Mutex
	reminders []scheduler.ReminderOptions
	ops       []scheduler.OpsOptions
}

func (f *fakeRunner) RunReminders(_ context.Context, opts scheduler.ReminderOptions) (*scheduler.ReminderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, opts)
	return &scheduler.ReminderResult{Persona: opts.Persona, Kind: opts.Kind, Source: opts.Source}, nil
}

func (f *fakeRunner) RunOpsFlow(_ context.Context, opts scheduler.OpsOptions) (*scheduler.OpsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, opts)
	return &scheduler.OpsResult{OK: true, Flow: opts.Flow, Source: opts.Source}, nil
}

type fakeComposer struct {
	inputs []promptctx.Input
	paths  []string
}

func (c *fakeComposer) Compose(_ context.Context, in promptctx.Input) (assistant.Reply, error) {
	c.inputs = append(c.inputs, in)
	return assistant.Reply{Text: "클라우드 답변", Provider: "openai", Model: "gpt-test"}, nil
}

func (c *fakeComposer) LogCost(_ context.Context, _ persona.ID, _ assistant.Reply, path string) {
	c.paths = append(c.paths, path)
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []telegram.Outbound
}

func (m *fakeMessenger) Send(_ context.Context, out telegram.Outbound) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, out)
	return len(m.sent), nil
}

type fixture struct {
	srv      *Server
	cfg      *config.Config
	store    *state.Store
	queue    *jobs.Queue
	dispatch *fakeDispatcher
	runner   *fakeRunner
	composer *fakeComposer
	out      *fakeMessenger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := map[string]string{
		"TELEGRAM_ALLOWED_USER_IDS": "7",
		"TELEGRAM_ALLOWED_CHAT_IDS": "7,-100500",
	}
	cfg := config.FromEnv(func(k string) string { return env[k] })
	for _, id := range persona.All() {
		cfg.Bots[id] = config.BotConfig{Token: "tok-" + string(id), Secret: "sec-" + string(id), Username: string(id) + "_bot"}
	}
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Anthropic.APIKey = "ak-test"
	cfg.Worker.Secret = "w-secret"
	cfg.Worker.CronSecret = "c-secret"

	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store := state.NewStore(db)

	f := &fixture{
		cfg:      cfg,
		store:    store,
		queue:    jobs.NewQueue(store),
		dispatch: &fakeDispatcher{},
		runner:   &fakeRunner{},
		composer: &fakeComposer{},
		out:      &fakeMessenger{},
	}
	f.srv = NewServer(Deps{
		Config:     config.NewHolder(filepath.Join(t.TempDir(), "config.json"), cfg),
		Dispatcher: f.dispatch,
		Batches:    f.runner,
		Jobs:       f.queue,
		Store:      store,
		Composer:   f.composer,
		Messenger:  f.out,
	})
	return f
}

func (f *fixture) do(method, path, auth, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w, resp := f.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["ok"] != true || resp["configured"] != true || resp["configuredPrimaryBot"] != true {
		t.Errorf("unexpected health: %v", resp)
	}
	tables, _ := resp["tables"].(map[string]any)
	if _, ok := tables["local_jobs"]; !ok {
		t.Errorf("expected table counts, got %v", resp["tables"])
	}
}

func TestTelegramWebhook(t *testing.T) {
	f := newFixture(t)
	update := `{"update_id": 42, "message": {"message_id": 1, "text": "hi", "chat": {"id": 7, "type": "private"}, "from": {"id": 7}}}`

	cases := []struct {
		name   string
		path   string
		secret string
		body   string
		want   int
	}{
		{"unknown bot", "/telegram/webhook/nobody", "x", update, http.StatusNotFound},
		{"bad secret", "/telegram/webhook/tyler_durden", "wrong", update, http.StatusForbidden},
		{"missing update id", "/telegram/webhook/tyler_durden", "sec-tyler_durden", `{"message": {}}`, http.StatusBadRequest},
		{"string update id", "/telegram/webhook/tyler_durden", "sec-tyler_durden", `{"update_id": "42"}`, http.StatusBadRequest},
		{"ok", "/telegram/webhook/tyler_durden", "sec-tyler_durden", update, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := f.do(http.MethodPost, tc.path, "", tc.body, SecretHeader, tc.secret)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
	if len(f.dispatch.updates) != 1 || f.dispatch.updates[0].UpdateID != 42 {
		t.Fatalf("expected exactly one dispatched update, got %d", len(f.dispatch.updates))
	}
}

func TestTelegramWebhook_Alias(t *testing.T) {
	f := newFixture(t)
	body := `{"update_id": 1}`
	w, resp := f.do(http.MethodPost, "/telegram/webhook/alfred_sentry", "", body, SecretHeader, "sec-michael_corleone")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["requestedBotId"] != "alfred_sentry" || resp["botId"] != "michael_corleone" {
		t.Errorf("unexpected ids: %v", resp)
	}
}

func TestTelegramWebhook_ConfigMissing(t *testing.T) {
	f := newFixture(t)
	f.cfg.Bots[persona.Zhuge] = config.BotConfig{}
	w, resp := f.do(http.MethodPost, "/telegram/webhook/zhuge_liang", "", `{"update_id": 1}`, SecretHeader, "sec-zhuge_liang")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if resp["error"] != "assistant config missing" {
		t.Errorf("unexpected error: %v", resp["error"])
	}
}

func TestTelegramWebhook_DispatchError(t *testing.T) {
	f := newFixture(t)
	f.dispatch.err = errors.New("boom")
	w, resp := f.do(http.MethodPost, "/telegram/webhook/tyler_durden", "", `{"update_id": 1}`, SecretHeader, "sec-tyler_durden")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if resp["ok"] != false {
		t.Errorf("expected ok=false, got %v", resp)
	}
}

func TestReminderRun(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(http.MethodPost, "/telegram/reminder/run", "Bearer nope", `{}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	w, _ = f.do(http.MethodPost, "/telegram/reminder/run", "Bearer c-secret", `{"kind":"noon"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad kind, got %d", w.Code)
	}
	w, _ = f.do(http.MethodPost, "/telegram/reminder/run", "Bearer c-secret", `{"kind":"evening_review"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w, _ = f.do(http.MethodGet, "/telegram/reminder/run?kind=morning_plan", "Bearer c-secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if len(f.runner.reminders) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(f.runner.reminders))
	}
	post, get := f.runner.reminders[0], f.runner.reminders[1]
	if post.Kind != types.EveningReview || post.Source != "reminder_endpoint_post" || post.Persona != persona.Tyler {
		t.Errorf("unexpected post run: %+v", post)
	}
	if get.Kind != types.MorningPlan || get.Source != "reminder_endpoint_get" {
		t.Errorf("unexpected get run: %+v", get)
	}
}

func TestOpsRun(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(http.MethodPost, "/telegram/ops/run/not_a_flow", "Bearer c-secret", `{}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w, _ = f.do(http.MethodPost, "/telegram/ops/run/market_3h", "Bearer c-secret", `{"mode":"fast"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w, _ = f.do(http.MethodPost, "/telegram/ops/run/market_3h", "", `{}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	w, _ = f.do(http.MethodPost, "/telegram/ops/run/market_3h", "Bearer c-secret", `{"mode":"local_queue","chatId":-100500}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.runner.ops) != 1 {
		t.Fatalf("expected one run, got %d", len(f.runner.ops))
	}
	got := f.runner.ops[0]
	if got.Flow != "market_3h" || got.Mode != scheduler.ModeLocalQueue || got.ChatID != -100500 || got.Source != "ops_endpoint_post" {
		t.Errorf("unexpected ops options: %+v", got)
	}
}

func TestLocalJobs_Auth(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/assistant/local-jobs/enqueue", "/assistant/local-jobs/claim", "/assistant/local-jobs/complete", "/assistant/actions/approve"} {
		w, _ := f.do(http.MethodPost, path, "Bearer c-secret", `{}`)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestLocalJobs_Lifecycle(t *testing.T) {
	f := newFixture(t)
	thread := types.NewThreadID(persona.Tyler, 7)

	w, _ := f.do(http.MethodPost, "/assistant/local-jobs/enqueue", workerAuth, `{"botId":"nobody","chatId":7}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown bot, got %d", w.Code)
	}

	body := `{"botId":"tyler_durden","chatId":7,"threadId":"` + string(thread) + `","payload":{"taskType":"chat_reply","userText":"블로그","header":"🧠 결과","replyToMessageId":55}}`
	w, resp := f.do(http.MethodPost, "/assistant/local-jobs/enqueue", workerAuth, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	job := resp["job"].(map[string]any)
	jobID := job["job_id"].(string)
	if job["mode"] != string(types.ModeLocalHeavy) {
		t.Errorf("expected default local_heavy mode, got %v", job["mode"])
	}

	w, _ = f.do(http.MethodPost, "/assistant/local-jobs/claim", workerAuth, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without workerId, got %d", w.Code)
	}
	w, resp = f.do(http.MethodPost, "/assistant/local-jobs/claim", workerAuth, `{"workerId":"w1"}`)
	if w.Code != http.StatusOK || resp["job"] == nil {
		t.Fatalf("expected claimed job, got %d %v", w.Code, resp)
	}
	_, resp = f.do(http.MethodPost, "/assistant/local-jobs/claim", workerAuth, `{"workerId":"w1"}`)
	if resp["job"] != nil {
		t.Errorf("expected empty queue, got %v", resp["job"])
	}

	w, _ = f.do(http.MethodPost, "/assistant/local-jobs/complete", workerAuth, `{"jobId":"`+jobID+`","status":"done"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without outputText, got %d", w.Code)
	}
	w, _ = f.do(http.MethodPost, "/assistant/local-jobs/complete", workerAuth, `{"jobId":"`+jobID+`","status":"done","outputText":"x","workerId":"w2"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for another worker, got %d", w.Code)
	}
	w, _ = f.do(http.MethodPost, "/assistant/local-jobs/complete", workerAuth, `{"jobId":"missing","status":"done","outputText":"x"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w, resp = f.do(http.MethodPost, "/assistant/local-jobs/complete", workerAuth, `{"jobId":"`+jobID+`","status":"done","outputText":"초안","workerId":"w1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["job"].(map[string]any)["status"] != string(types.JobDone) {
		t.Errorf("expected done, got %v", resp["job"])
	}
	if len(f.out.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(f.out.sent))
	}
	if sent := f.out.sent[0]; sent.Text != "🧠 결과\n\n초안" || sent.ReplyTo != 55 || sent.ChatID != 7 {
		t.Errorf("unexpected send: %+v", sent)
	}

	msgs, err := f.store.RecentMessages(context.Background(), persona.Tyler, thread, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Model != "local-worker" || msgs[0].Metadata["localJobId"] != jobID {
		t.Errorf("expected recorded worker message, got %+v", msgs)
	}
}

func (f *fixture) claimed(t *testing.T, payload types.JobPayload, flow string) *types.LocalJob {
	t.Helper()
	ctx := context.Background()
	job, err := f.queue.Enqueue(ctx, jobs.EnqueueInput{FlowID: flow, Persona: persona.Tyler, ChatID: -100500, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.queue.Claim(ctx, "w1", ""); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestLocalJobs_FailedChatFallsBackToCloud(t *testing.T) {
	f := newFixture(t)
	job := f.claimed(t, types.JobPayload{TaskType: types.TaskChatReply, UserText: "리서치 해줘", ReplyToMessageID: 9}, "")

	w, resp := f.do(http.MethodPost, "/assistant/local-jobs/complete", workerAuth, `{"jobId":"`+string(job.ID)+`","status":"failed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	done := resp["job"].(map[string]any)
	if done["status"] != string(types.JobFailed) || done["error"] != "worker_failed" {
		t.Errorf("unexpected job: %v", done)
	}
	if len(f.composer.inputs) != 1 {
		t.Fatalf("expected one cloud compose, got %d", len(f.composer.inputs))
	}
	in := f.composer.inputs[0]
	if in.MaxTokens != 220 || in.Timezone != "Asia/Seoul" || in.UserText != "리서치 해줘" {
		t.Errorf("unexpected compose input: %+v", in)
	}
	if len(f.out.sent) != 1 || !strings.HasPrefix(f.out.sent[0].Text, assistant.LocalFailureBanner) || f.out.sent[0].ReplyTo != 9 {
		t.Errorf("unexpected fallback send: %+v", f.out.sent)
	}
	if len(f.composer.paths) != 1 || f.composer.paths[0] != "local_worker_fallback:chat" {
		t.Errorf("expected cost logged, got %v", f.composer.paths)
	}
}

func TestLocalJobs_FailedOpsReruns(t *testing.T) {
	f := newFixture(t)
	job := f.claimed(t, types.JobPayload{TaskType: types.TaskOpsFlow}, "market_3h")

	w, _ := f.do(http.MethodPost, "/assistant/local-jobs/complete", workerAuth, `{"jobId":"`+string(job.ID)+`","status":"failed","error":"ollama down"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.runner.ops) != 1 {
		t.Fatalf("expected cloud rerun, got %d", len(f.runner.ops))
	}
	got := f.runner.ops[0]
	if got.Flow != "market_3h" || got.Mode != scheduler.ModeCloud || got.Source != SourceWorkerFallback || got.ChatID != -100500 {
		t.Errorf("unexpected rerun: %+v", got)
	}
}

func TestLocalJobs_FailedOtherNotifies(t *testing.T) {
	f := newFixture(t)
	job := f.claimed(t, types.JobPayload{TaskType: "custom"}, "")

	w, _ := f.do(http.MethodPost, "/assistant/local-jobs/complete", workerAuth, `{"jobId":"`+string(job.ID)+`","status":"failed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(f.out.sent) != 1 || !strings.Contains(f.out.sent[0].Text, string(job.ID)) {
		t.Errorf("expected failure notice, got %+v", f.out.sent)
	}
}

func TestActionApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, _ := f.do(http.MethodPost, "/assistant/actions/approve", workerAuth, `{"actionId":"nope"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	now := time.Now().UTC()
	action := &types.ActionApproval{
		ID:          types.NewActionID(),
		RequestedBy: persona.Corleone,
		ActionType:  "deploy",
		Status:      types.ApprovalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.store.CreateApproval(ctx, action); err != nil {
		t.Fatal(err)
	}

	w, resp := f.do(http.MethodPost, "/assistant/actions/approve", workerAuth, `{"actionId":"`+string(action.ID)+`","approvedBy":7,"evidence":"checked"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := resp["action"].(map[string]any)
	if got["status"] != string(types.ApprovalApproved) || got["approved_by"] != "7" {
		t.Errorf("unexpected action: %v", got)
	}
}
