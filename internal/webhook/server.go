// Package webhook serves the HTTP surface: Telegram webhooks, batch
// triggers, the local worker API and health.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/config"
	"github.com/rarehotdog/pjt.mayhem/internal/jobs"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Dispatcher processes one inbound update and waits for the result.
type Dispatcher interface {
	Dispatch(ctx context.Context, id persona.ID, update *tgbotapi.Update, source string) (*types.ProcessResult, error)
}

// Store is the persistence the HTTP surface reads and writes directly.
type Store interface {
	types.MessageStore
	types.ApprovalStore
	TableCounts(ctx context.Context) map[string]int64
}

// Deps are the collaborators of a Server.
type Deps struct {
	Config     *config.Holder
	Dispatcher Dispatcher
	Batches    scheduler.Runner
	Jobs       *jobs.Queue
	Store      Store
	Composer   scheduler.Composer
	Messenger  telegram.Messenger
}

// Server is the HTTP handler for every endpoint.
type Server struct {
	cfg      *config.Holder
	dispatch Dispatcher
	batches  scheduler.Runner
	jobs     *jobs.Queue
	store    Store
	composer scheduler.Composer
	out      telegram.Messenger
	mux      *http.ServeMux
	now      func() time.Time
}

// NewServer creates a Server and registers its routes.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:      d.Config,
		dispatch: d.Dispatcher,
		batches:  d.Batches,
		jobs:     d.Jobs,
		store:    d.Store,
		composer: d.Composer,
		out:      d.Messenger,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /telegram/webhook/{botId}", s.handleTelegramWebhook)
	s.mux.HandleFunc("GET /telegram/reminder/run", s.handleReminderRun("reminder_endpoint_get"))
	s.mux.HandleFunc("POST /telegram/reminder/run", s.handleReminderRun("reminder_endpoint_post"))
	s.mux.HandleFunc("GET /telegram/ops/run/{flow}", s.handleOpsRun("ops_endpoint_get"))
	s.mux.HandleFunc("POST /telegram/ops/run/{flow}", s.handleOpsRun("ops_endpoint_post"))
	s.mux.HandleFunc("POST /assistant/local-jobs/enqueue", s.handleJobEnqueue)
	s.mux.HandleFunc("POST /assistant/local-jobs/claim", s.handleJobClaim)
	s.mux.HandleFunc("POST /assistant/local-jobs/complete", s.handleJobComplete)
	s.mux.HandleFunc("POST /assistant/actions/approve", s.handleActionApprove)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	var tables map[string]int64
	if s.store != nil {
		tables = s.store.TableCounts(r.Context())
	}
	missing := cfg.MissingKeys()
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                   true,
		"configured":           cfg.Configured(),
		"configuredPrimaryBot": cfg.Configured(persona.Tyler),
		"missing":              missing,
		"config":               cfg.Summarize(),
		"tables":               tables,
		"checkedAt":            s.now().UTC().Format(time.RFC3339),
	})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

// fail writes the error envelope {"ok":false,"error":…,"details":…}.
func fail(w http.ResponseWriter, status int, message string, details any) {
	body := map[string]any{"ok": false, "error": message}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
