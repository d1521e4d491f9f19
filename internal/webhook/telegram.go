package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/format"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

// SourceWebhook tags updates that arrived through a Telegram webhook.
const SourceWebhook = "webhook"

// SecretHeader carries the per-bot webhook secret.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("botId")
	id, ok := persona.Canonical(raw)
	if !ok {
		fail(w, http.StatusNotFound, "unknown bot_id", map[string]any{"botId": raw})
		return
	}

	cfg := s.cfg.Get()
	if missing := cfg.MissingKeys(id); len(missing) > 0 {
		fail(w, http.StatusServiceUnavailable, "assistant config missing", map[string]any{"missing": missing})
		return
	}
	if !cfg.WebhookSecretValid(r.Header.Get(SecretHeader), id) {
		fail(w, http.StatusForbidden, "forbidden", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid telegram update payload", nil)
		return
	}
	update, ok := parseUpdate(body)
	if !ok {
		fail(w, http.StatusBadRequest, "invalid telegram update payload", nil)
		return
	}

	result, err := s.dispatch.Dispatch(r.Context(), id, update, SourceWebhook)
	if err != nil {
		msg := redact.Error(err)
		slog.Error("telegram webhook processing failed", "persona", string(id), "update_id", update.UpdateID, "error", msg)
		fail(w, http.StatusInternalServerError, "telegram webhook processing failed", map[string]any{
			"requestedBotId": raw,
			"botId":          id,
			"message":        msg,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"requestedBotId": raw,
		"botId":          id,
		"result":         result,
	})
}

// parseUpdate accepts only objects with a numeric update_id.
func parseUpdate(body []byte) (*tgbotapi.Update, bool) {
	var probe map[string]any
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, false
	}
	if _, ok := probe["update_id"].(float64); !ok {
		return nil, false
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, false
	}
	return &update, true
}

type reminderRunRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleReminderRun(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := s.cfg.Get()
		if missing := cfg.MissingKeys(persona.Tyler); len(missing) > 0 {
			fail(w, http.StatusServiceUnavailable, "assistant config missing", map[string]any{"missing": missing})
			return
		}
		if !cfg.CronAuthorized(r.Header.Get("Authorization")) {
			fail(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}

		var req reminderRunRequest
		if r.Method == http.MethodPost {
			if err := decodeBody(w, r, &req); err != nil {
				fail(w, http.StatusBadRequest, "invalid reminder run payload", err.Error())
				return
			}
		}
		kind, ok := types.ParseReminderKind(req.Kind)
		if req.Kind != "" && !ok {
			fail(w, http.StatusBadRequest, "invalid reminder run payload", map[string]any{"kind": req.Kind})
			return
		}
		if !ok {
			kind, _ = types.ParseReminderKind(r.URL.Query().Get("kind"))
		}

		result, err := s.batches.RunReminders(r.Context(), scheduler.ReminderOptions{
			Persona: persona.Tyler,
			Kind:    kind,
			Source:  source,
		})
		if err != nil {
			fail(w, http.StatusInternalServerError, "reminder batch failed", map[string]any{"message": redact.Error(err)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
	}
}

type opsRunRequest struct {
	Mode   string `json:"mode"`
	ChatID int64  `json:"chatId"`
}

func (s *Server) handleOpsRun(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := r.PathValue("flow")
		if _, ok := format.LookupFlow(flow); !ok {
			fail(w, http.StatusNotFound, "invalid ops flow", map[string]any{"flow": flow})
			return
		}

		cfg := s.cfg.Get()
		if missing := cfg.MissingKeys(); len(missing) > 0 {
			fail(w, http.StatusServiceUnavailable, "assistant config missing", map[string]any{"missing": missing})
			return
		}
		if !cfg.CronAuthorized(r.Header.Get("Authorization")) {
			fail(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}

		var req opsRunRequest
		if err := decodeBody(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, "invalid ops run payload", err.Error())
			return
		}
		if req.Mode != "" && req.Mode != scheduler.ModeCloud && req.Mode != scheduler.ModeLocalQueue {
			fail(w, http.StatusBadRequest, "invalid ops run payload", map[string]any{"mode": req.Mode})
			return
		}

		result, err := s.batches.RunOpsFlow(r.Context(), scheduler.OpsOptions{
			Flow:   flow,
			ChatID: req.ChatID,
			Mode:   req.Mode,
			Source: source,
		})
		if err != nil {
			fail(w, http.StatusInternalServerError, "ops flow failed", map[string]any{"message": redact.Error(err), "flow": flow})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
	}
}
