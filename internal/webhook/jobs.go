package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rarehotdog/pjt.mayhem/internal/assistant"
	promptctx "github.com/rarehotdog/pjt.mayhem/internal/context"
	"github.com/rarehotdog/pjt.mayhem/internal/format"
	"github.com/rarehotdog/pjt.mayhem/internal/jobs"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const (
	// SourceWorkerFallback tags ops flows rerun in the cloud after a local
	// worker failure.
	SourceWorkerFallback = "local_worker_fallback"

	workerModel         = "local-worker"
	fallbackMaxTokens   = 220
	fallbackTemperature = 0.2
	fallbackTimezone    = "Asia/Seoul"
)

type enqueueRequest struct {
	FlowID   string           `json:"flowId"`
	BotID    string           `json:"botId"`
	ChatID   int64            `json:"chatId"`
	UserID   int64            `json:"userId"`
	ThreadID string           `json:"threadId"`
	Mode     string           `json:"mode"`
	Payload  types.JobPayload `json:"payload"`
}

type claimRequest struct {
	WorkerID string `json:"workerId"`
	FlowID   string `json:"flowId"`
}

type completeRequest struct {
	JobID      string         `json:"jobId"`
	Status     string         `json:"status"`
	OutputText string         `json:"outputText"`
	Error      string         `json:"error"`
	WorkerID   string         `json:"workerId"`
	Metadata   map[string]any `json:"metadata"`
}

type approveRequest struct {
	ActionID   string `json:"actionId"`
	ApprovedBy *int64 `json:"approvedBy"`
	Evidence   string `json:"evidence"`
}

func (s *Server) workerAuthorized(w http.ResponseWriter, r *http.Request) bool {
	if !s.cfg.Get().WorkerAuthorized(r.Header.Get("Authorization")) {
		fail(w, http.StatusUnauthorized, "unauthorized", nil)
		return false
	}
	return true
}

func (s *Server) handleJobEnqueue(w http.ResponseWriter, r *http.Request) {
	if !s.workerAuthorized(w, r) {
		return
	}
	var req enqueueRequest
	if err := decodeBody(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid enqueue payload", err.Error())
		return
	}
	id, ok := persona.Canonical(req.BotID)
	mode := types.JobMode(req.Mode)
	if mode == "" {
		mode = types.ModeLocalHeavy
	}
	if !ok || req.ChatID == 0 || (mode != types.ModeLocalHeavy && mode != types.ModeCloudShort) {
		fail(w, http.StatusBadRequest, "invalid enqueue payload", map[string]any{
			"botId":  req.BotID,
			"chatId": req.ChatID,
			"mode":   req.Mode,
		})
		return
	}

	job, err := s.jobs.Enqueue(r.Context(), jobs.EnqueueInput{
		FlowID:   req.FlowID,
		Persona:  id,
		ChatID:   req.ChatID,
		UserID:   req.UserID,
		ThreadID: types.ThreadID(req.ThreadID),
		Mode:     mode,
		Payload:  req.Payload,
	})
	if err != nil {
		fail(w, http.StatusInternalServerError, "local job enqueue failed", map[string]any{"message": redact.Error(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

func (s *Server) handleJobClaim(w http.ResponseWriter, r *http.Request) {
	if !s.workerAuthorized(w, r) {
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil || req.WorkerID == "" {
		fail(w, http.StatusBadRequest, "invalid claim payload", nil)
		return
	}
	job, err := s.jobs.Claim(r.Context(), req.WorkerID, req.FlowID)
	if err != nil {
		fail(w, http.StatusInternalServerError, "local job claim failed", map[string]any{"message": redact.Error(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

func (s *Server) handleJobComplete(w http.ResponseWriter, r *http.Request) {
	if !s.workerAuthorized(w, r) {
		return
	}
	var req completeRequest
	if err := decodeBody(w, r, &req); err != nil || req.JobID == "" ||
		(req.Status != string(types.JobDone) && req.Status != string(types.JobFailed)) {
		fail(w, http.StatusBadRequest, "invalid complete payload", nil)
		return
	}
	done := req.Status == string(types.JobDone)
	if done && req.OutputText == "" {
		fail(w, http.StatusBadRequest, "outputText is required when status=done", nil)
		return
	}

	in := jobs.CompleteInput{WorkerID: req.WorkerID}
	if !done {
		in.Error = req.Error
		if in.Error == "" {
			in.Error = "worker_failed"
		}
	}
	job, err := s.jobs.Complete(r.Context(), types.JobID(req.JobID), in)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		fail(w, http.StatusNotFound, "local job not found", map[string]any{"jobId": req.JobID})
		return
	case errors.Is(err, jobs.ErrClaimMismatch):
		fail(w, http.StatusConflict, "local job claimed by another worker", map[string]any{"jobId": req.JobID})
		return
	case err != nil:
		fail(w, http.StatusInternalServerError, "local job complete failed", map[string]any{"message": redact.Error(err)})
		return
	}

	if done {
		err = s.deliverOutput(r.Context(), job, req.OutputText, req.Metadata)
	} else {
		err = s.recoverFailure(r.Context(), job)
	}
	if err != nil {
		slog.Error("local job follow-up failed", "job_id", string(job.ID), "error", redact.Error(err))
		fail(w, http.StatusInternalServerError, "local job complete failed", map[string]any{"message": redact.Error(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": job})
}

// deliverOutput posts a finished job's text and records it on the thread.
func (s *Server) deliverOutput(ctx context.Context, job *types.LocalJob, output string, meta map[string]any) error {
	text := output
	if job.Payload.Header != "" {
		text = job.Payload.Header + "\n\n" + output
	}
	if skip, _ := meta["skipSend"].(bool); !skip {
		if _, err := s.out.Send(ctx, telegram.Outbound{
			Persona: job.BotID,
			ChatID:  job.ChatID,
			Text:    text,
			ReplyTo: job.Payload.ReplyToMessageID,
		}); err != nil {
			return fmt.Errorf("send job output: %w", err)
		}
	}
	if job.ThreadID == "" {
		return nil
	}
	metadata := map[string]any{"localJobId": string(job.ID)}
	for k, v := range meta {
		metadata[k] = v
	}
	return s.store.AppendMessage(ctx, &types.Message{
		ID:        types.NewMessageID(),
		BotID:     job.BotID,
		ThreadID:  job.ThreadID,
		Role:      types.RoleAssistant,
		Content:   text,
		Provider:  assistant.ProviderNone,
		Model:     workerModel,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	})
}

// recoverFailure answers a failed job through the cloud path.
func (s *Server) recoverFailure(ctx context.Context, job *types.LocalJob) error {
	switch job.Payload.TaskType {
	case types.TaskOpsFlow:
		if _, ok := format.LookupFlow(job.FlowID); ok {
			_, err := s.batches.RunOpsFlow(ctx, scheduler.OpsOptions{
				Flow:   job.FlowID,
				ChatID: job.ChatID,
				Mode:   scheduler.ModeCloud,
				Source: SourceWorkerFallback,
			})
			return err
		}
	case types.TaskChatReply:
		if job.Payload.UserText != "" {
			return s.chatFallback(ctx, job)
		}
	}

	text := fmt.Sprintf("로컬 작업 실패: %s\n잠시 후 재시도하거나 /ops 로 상태를 확인하세요.", job.ID)
	if _, err := s.out.Send(ctx, telegram.Outbound{Persona: job.BotID, ChatID: job.ChatID, Text: text}); err != nil {
		slog.Warn("local failure notice failed", "job_id", string(job.ID), "error", redact.Error(err))
	}
	return nil
}

func (s *Server) chatFallback(ctx context.Context, job *types.LocalJob) error {
	tz := job.Payload.Timezone
	if tz == "" {
		tz = fallbackTimezone
	}
	reply, err := s.composer.Compose(ctx, promptctx.Input{
		Persona:     job.BotID,
		Timezone:    tz,
		History:     job.Payload.History,
		UserText:    job.Payload.UserText,
		MaxTokens:   fallbackMaxTokens,
		Temperature: fallbackTemperature,
	})
	if err != nil {
		return fmt.Errorf("cloud fallback: %w", err)
	}
	text := assistant.LocalFailureBanner + "\n\n" + reply.Text
	if _, err := s.out.Send(ctx, telegram.Outbound{
		Persona: job.BotID,
		ChatID:  job.ChatID,
		Text:    text,
		ReplyTo: job.Payload.ReplyToMessageID,
	}); err != nil {
		return fmt.Errorf("send cloud fallback: %w", err)
	}
	s.composer.LogCost(ctx, job.BotID, reply, "local_worker_fallback:chat")
	if job.ThreadID != "" {
		if err := s.store.AppendMessage(ctx, &types.Message{
			ID:        types.NewMessageID(),
			BotID:     job.BotID,
			ThreadID:  job.ThreadID,
			Role:      types.RoleAssistant,
			Content:   text,
			Provider:  reply.Provider,
			Model:     reply.Model,
			Metadata:  map[string]any{"localJobId": string(job.ID), "fallback": true},
			CreatedAt: s.now().UTC(),
		}); err != nil {
			slog.Warn("append fallback message failed", "job_id", string(job.ID), "error", redact.Error(err))
		}
	}
	return nil
}

func (s *Server) handleActionApprove(w http.ResponseWriter, r *http.Request) {
	if !s.workerAuthorized(w, r) {
		return
	}
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil || req.ActionID == "" {
		fail(w, http.StatusBadRequest, "invalid approve payload", nil)
		return
	}
	id := types.ActionID(req.ActionID)
	if _, err := s.store.GetApproval(r.Context(), id); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			fail(w, http.StatusNotFound, "action not found", map[string]any{"actionId": req.ActionID})
			return
		}
		fail(w, http.StatusInternalServerError, "action approve failed", map[string]any{"message": redact.Error(err)})
		return
	}

	approvedBy := ""
	if req.ApprovedBy != nil {
		approvedBy = strconv.FormatInt(*req.ApprovedBy, 10)
	}
	var evidence map[string]any
	if req.Evidence != "" {
		evidence = map[string]any{"note": req.Evidence}
	}
	action, err := s.store.UpdateApproval(r.Context(), id, types.ApprovalApproved, approvedBy, evidence, s.now().UTC())
	if err != nil {
		fail(w, http.StatusInternalServerError, "action approve failed", map[string]any{"message": redact.Error(err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "action": action})
}
