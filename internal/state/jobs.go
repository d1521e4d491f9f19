package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/types"
)

const jobColumns = `job_id, flow_id, bot_id, chat_id, user_id, thread_id, mode, payload, status, claimed_by, attempt_count, error, created_at, updated_at, completed_at`

func scanJob(row rowScanner) (*types.LocalJob, error) {
	var (
		j                                  types.LocalJob
		jobID, botID, mode, status         string
		payload, createdAt, updatedAt      string
		flowID, threadID, claimedBy, errTx sql.NullString
		completedAt                        sql.NullString
		userID                             sql.NullInt64
	)
	if err := row.Scan(&jobID, &flowID, &botID, &j.ChatID, &userID, &threadID, &mode, &payload, &status,
		&claimedBy, &j.AttemptCount, &errTx, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	j.ID = types.JobID(jobID)
	j.FlowID = flowID.String
	j.BotID = persona.ID(botID)
	j.UserID = userID.Int64
	j.ThreadID = types.ThreadID(threadID.String)
	j.Mode = types.JobMode(mode)
	j.Status = types.JobStatus(status)
	j.ClaimedBy = claimedBy.String
	j.Error = errTx.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.CompletedAt = parseTimePtr(completedAt)
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &j, nil
}

func (s *Store) InsertJob(ctx context.Context, j *types.LocalJob) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	_, err = execWithRetry(ctx, s.db, `
		INSERT INTO local_jobs (job_id, flow_id, bot_id, chat_id, user_id, thread_id, mode, payload, status, attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(j.ID), nullString(j.FlowID), string(j.BotID), j.ChatID, nullInt(j.UserID), nullString(string(j.ThreadID)),
		string(j.Mode), string(payload), string(j.Status), j.AttemptCount, formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert local job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id types.JobID) (*types.LocalJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM local_jobs WHERE job_id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get local job: %w", err)
	}
	return j, nil
}

// ClaimJob picks the oldest queued job (optionally for one flow) and moves
// it to claimed with a conditional update, retrying when another claimant
// wins the row.
func (s *Store) ClaimJob(ctx context.Context, workerID, flowID string, now time.Time) (*types.LocalJob, error) {
	for attempt := 0; attempt < 3; attempt++ {
		job, err := s.claimOnce(ctx, workerID, flowID, now)
		if errors.Is(err, errClaimLost) {
			continue
		}
		return job, err
	}
	return nil, nil
}

var errClaimLost = errors.New("claim lost")

func (s *Store) claimOnce(ctx context.Context, workerID, flowID string, now time.Time) (*types.LocalJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT job_id FROM local_jobs WHERE status = ?`
	args := []any{string(types.JobQueued)}
	if flowID != "" {
		query += ` AND flow_id = ?`
		args = append(args, flowID)
	}
	query += ` ORDER BY seq ASC LIMIT 1`

	var jobID string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query queued job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE local_jobs
		SET status = ?, claimed_by = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE job_id = ? AND status = ?`,
		string(types.JobClaimed), workerID, formatTime(now), jobID, string(types.JobQueued))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errClaimLost
	}

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM local_jobs WHERE job_id = ?`, jobID))
	if err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

func (s *Store) FinishJob(ctx context.Context, id types.JobID, status types.JobStatus, errText string, now time.Time) (*types.LocalJob, error) {
	res, err := execWithRetry(ctx, s.db, `
		UPDATE local_jobs SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ?`,
		string(status), nullString(errText), formatTime(now), formatTime(now), string(id))
	if err != nil {
		return nil, fmt.Errorf("finish local job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetJob(ctx, id)
}

func (s *Store) CreateReminderJob(ctx context.Context, job *types.ReminderJob) (*types.ReminderJob, bool, error) {
	now := formatTime(time.Now())
	res, err := execWithRetry(ctx, s.db, `
		INSERT INTO reminder_jobs (job_id, bot_id, user_id, chat_id, kind, schedule_date, scheduled_for, timezone, status, attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (bot_id, user_id, kind, schedule_date) DO NOTHING`,
		string(job.ID), string(job.BotID), job.UserID, job.ChatID, string(job.Kind), job.ScheduleDate,
		formatTime(job.ScheduledFor), job.Timezone, string(job.Status), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert reminder job: %w", err)
	}
	created := false
	if n, _ := res.RowsAffected(); n == 1 {
		created = true
	}

	var (
		stored                     types.ReminderJob
		jobID, botID, kind, status string
		scheduledFor, createdAt    string
		lastError, sentAt          sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT job_id, bot_id, user_id, chat_id, kind, schedule_date, scheduled_for, timezone, status, attempt_count, last_error, sent_at, created_at
		FROM reminder_jobs WHERE bot_id = ? AND user_id = ? AND kind = ? AND schedule_date = ?`,
		string(job.BotID), job.UserID, string(job.Kind), job.ScheduleDate).
		Scan(&jobID, &botID, &stored.UserID, &stored.ChatID, &kind, &stored.ScheduleDate, &scheduledFor,
			&stored.Timezone, &status, &stored.AttemptCount, &lastError, &sentAt, &createdAt)
	if err != nil {
		return nil, false, fmt.Errorf("select reminder job: %w", err)
	}
	stored.ID = types.ReminderJobID(jobID)
	stored.BotID = persona.ID(botID)
	stored.Kind = types.ReminderKind(kind)
	stored.Status = types.ReminderStatus(status)
	stored.ScheduledFor = parseTime(scheduledFor)
	stored.LastError = lastError.String
	stored.SentAt = parseTimePtr(sentAt)
	stored.CreatedAt = parseTime(createdAt)
	return &stored, created, nil
}

func (s *Store) UpdateReminderJob(ctx context.Context, id types.ReminderJobID, status types.ReminderStatus, lastError string, sentAt *time.Time, incrementAttempt bool) error {
	inc := 0
	if incrementAttempt {
		inc = 1
	}
	_, err := execWithRetry(ctx, s.db, `
		UPDATE reminder_jobs
		SET status = ?, last_error = ?, sent_at = COALESCE(?, sent_at), attempt_count = attempt_count + ?, updated_at = ?
		WHERE job_id = ?`,
		string(status), nullString(lastError), formatTimePtr(sentAt), inc, formatTime(time.Now()), string(id))
	if err != nil {
		return fmt.Errorf("update reminder job: %w", err)
	}
	return nil
}

func (s *Store) CreateApproval(ctx context.Context, a *types.ActionApproval) error {
	payload, err := encodeJSON(a.Payload)
	if err != nil {
		return err
	}
	_, err = execWithRetry(ctx, s.db, `
		INSERT INTO action_approvals (action_id, requested_by_bot, action_type, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), string(a.RequestedBy), a.ActionType, nullString(payload), string(a.Status),
		formatTime(a.CreatedAt), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id types.ActionID) (*types.ActionApproval, error) {
	var (
		a                               types.ActionApproval
		actionID, bot, status           string
		createdAt, updatedAt            string
		payload, approvedBy, approvedAt sql.NullString
		evidence                        sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT action_id, requested_by_bot, action_type, payload, status, approved_by, approved_at, evidence, created_at, updated_at
		FROM action_approvals WHERE action_id = ?`, string(id)).
		Scan(&actionID, &bot, &a.ActionType, &payload, &status, &approvedBy, &approvedAt, &evidence, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	a.ID = types.ActionID(actionID)
	a.RequestedBy = persona.ID(bot)
	a.Status = types.ApprovalStatus(status)
	a.Payload = decodeJSONMap(payload.String)
	a.ApprovedBy = approvedBy.String
	a.ApprovedAt = parseTimePtr(approvedAt)
	a.Evidence = decodeJSONMap(evidence.String)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// UpdateApproval transitions an approval. Approved and executed states
// stamp approver and time.
func (s *Store) UpdateApproval(ctx context.Context, id types.ActionID, status types.ApprovalStatus, approvedBy string, evidence map[string]any, now time.Time) (*types.ActionApproval, error) {
	ev, err := encodeJSON(evidence)
	if err != nil {
		return nil, err
	}
	var by, at any
	if status == types.ApprovalApproved || status == types.ApprovalExecuted {
		by = nullString(approvedBy)
		at = formatTime(now)
	}
	res, err := execWithRetry(ctx, s.db, `
		UPDATE action_approvals
		SET status = ?, approved_by = COALESCE(?, approved_by), approved_at = COALESCE(?, approved_at),
			evidence = COALESCE(?, evidence), updated_at = ?
		WHERE action_id = ?`,
		string(status), by, at, nullString(ev), formatTime(now), string(id))
	if err != nil {
		return nil, fmt.Errorf("update approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetApproval(ctx, id)
}

func (s *Store) AppendCost(ctx context.Context, e *types.CostEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := execWithRetry(ctx, s.db, `
		INSERT INTO cost_logs (bot_id, provider, model, tokens_in, tokens_out, estimated_cost, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.BotID), e.Provider, e.Model, e.TokensIn, e.TokensOut, e.EstimatedCostUSD, e.Path, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert cost log: %w", err)
	}
	return nil
}

// CostSummary aggregates cost logs since the given time, with per-bot
// totals ordered by cost.
func (s *Store) CostSummary(ctx context.Context, since time.Time) (*types.CostSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bot_id, COALESCE(SUM(tokens_in + tokens_out), 0), COALESCE(SUM(estimated_cost), 0), COUNT(*)
		FROM cost_logs WHERE created_at >= ?
		GROUP BY bot_id
		ORDER BY SUM(estimated_cost) DESC, bot_id`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("cost summary: %w", err)
	}
	defer rows.Close()

	sum := &types.CostSummary{From: since.UTC(), ByBot: []types.BotCost{}}
	for rows.Next() {
		var (
			bc  types.BotCost
			bot string
		)
		if err := rows.Scan(&bot, &bc.Tokens, &bc.CostUSD, &bc.Calls); err != nil {
			return nil, fmt.Errorf("scan cost row: %w", err)
		}
		bc.BotID = persona.ID(bot)
		bc.CostUSD = roundCost(bc.CostUSD)
		sum.ByBot = append(sum.ByBot, bc)
		sum.TotalTokens += bc.Tokens
		sum.TotalCostUSD += bc.CostUSD
		sum.Calls += bc.Calls
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sum.TotalCostUSD = roundCost(sum.TotalCostUSD)
	return sum, nil
}

func roundCost(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}
