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

// Store implements the assistant's persistence on SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for lifecycle management.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) FindUpdate(ctx context.Context, bot persona.ID, updateID int64) (*types.InboundRecord, error) {
	var (
		rec                  types.InboundRecord
		botID, createdAt     string
		userID, chatID       sql.NullInt64
		errText, processedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT bot_id, update_id, source, user_id, chat_id, status, error, created_at, processed_at
		FROM telegram_updates WHERE bot_id = ? AND update_id = ?`, string(bot), updateID).
		Scan(&botID, &rec.UpdateID, &rec.Source, &userID, &chatID, &rec.Status, &errText, &createdAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select update: %w", err)
	}
	rec.BotID = persona.ID(botID)
	rec.UserID = userID.Int64
	rec.ChatID = chatID.Int64
	rec.Error = errText.String
	rec.CreatedAt = parseTime(createdAt)
	rec.ProcessedAt = parseTimePtr(processedAt)
	return &rec, nil
}

func (s *Store) InsertUpdateIfAbsent(ctx context.Context, rec *types.InboundRecord) (bool, error) {
	res, err := execWithRetry(ctx, s.db, `
		INSERT INTO telegram_updates (bot_id, update_id, source, user_id, chat_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bot_id, update_id) DO NOTHING`,
		string(rec.BotID), rec.UpdateID, rec.Source, nullInt(rec.UserID), nullInt(rec.ChatID), string(rec.Status), formatTime(rec.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) UpdateUpdateStatus(ctx context.Context, bot persona.ID, updateID int64, status types.UpdateStatus, errText string, at time.Time) error {
	_, err := execWithRetry(ctx, s.db, `
		UPDATE telegram_updates SET status = ?, error = ?, processed_at = ?
		WHERE bot_id = ? AND update_id = ?`,
		string(status), nullString(errText), formatTime(at), string(bot), updateID)
	return err
}

func (s *Store) UpsertUser(ctx context.Context, u *types.User) error {
	now := formatTime(time.Now())
	_, err := execWithRetry(ctx, s.db, `
		INSERT INTO users (user_id, chat_id, username, first_name, language_code, timezone, reminders_paused, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			username = excluded.username,
			first_name = excluded.first_name,
			language_code = excluded.language_code,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		u.UserID, u.ChatID, nullString(u.Username), nullString(u.FirstName), nullString(u.LanguageCode),
		u.Timezone, boolInt(u.RemindersPaused), now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

const userColumns = `user_id, chat_id, username, first_name, language_code, timezone, reminders_paused, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*types.User, error) {
	var (
		u                     types.User
		username, first, lang sql.NullString
		paused                int
		createdAt, updatedAt  string
	)
	if err := row.Scan(&u.UserID, &u.ChatID, &username, &first, &lang, &u.Timezone, &paused, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Username = username.String
	u.FirstName = first.String
	u.LanguageCode = lang.String
	u.RemindersPaused = paused != 0
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) SetRemindersPaused(ctx context.Context, userID int64, paused bool) error {
	res, err := execWithRetry(ctx, s.db, `UPDATE users SET reminders_paused = ?, updated_at = ? WHERE user_id = ?`,
		boolInt(paused), formatTime(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("set reminders paused: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) TouchThread(ctx context.Context, t *types.Thread) error {
	last := t.LastMessageAt
	if last.IsZero() {
		last = time.Now()
	}
	_, err := execWithRetry(ctx, s.db, `
		INSERT INTO threads (bot_id, thread_id, user_id, chat_id, summary, locale, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bot_id, thread_id) DO UPDATE SET
			user_id = excluded.user_id,
			chat_id = excluded.chat_id,
			locale = COALESCE(excluded.locale, threads.locale),
			last_message_at = excluded.last_message_at`,
		string(t.BotID), string(t.ThreadID), t.UserID, t.ChatID, nullString(t.Summary), nullString(t.Locale),
		formatTime(last), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

func (s *Store) UpdateThreadSummary(ctx context.Context, bot persona.ID, id types.ThreadID, summary string) error {
	_, err := execWithRetry(ctx, s.db, `UPDATE threads SET summary = ? WHERE bot_id = ? AND thread_id = ?`,
		summary, string(bot), string(id))
	if err != nil {
		return fmt.Errorf("update thread summary: %w", err)
	}
	return nil
}

func (s *Store) GetThread(ctx context.Context, bot persona.ID, id types.ThreadID) (*types.Thread, error) {
	var (
		t               types.Thread
		summary, locale sql.NullString
		last            string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, summary, locale, last_message_at FROM threads
		WHERE bot_id = ? AND thread_id = ?`, string(bot), string(id)).
		Scan(&t.UserID, &t.ChatID, &summary, &locale, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	t.BotID = bot
	t.ThreadID = id
	t.Summary = summary.String
	t.Locale = locale.String
	t.LastMessageAt = parseTime(last)
	return &t, nil
}

func (s *Store) AppendMessage(ctx context.Context, m *types.Message) error {
	if m.ID == "" {
		m.ID = types.NewMessageID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	meta, err := encodeJSON(m.Metadata)
	if err != nil {
		return err
	}
	_, err = execWithRetry(ctx, s.db, `
		INSERT INTO messages (message_id, bot_id, thread_id, update_id, role, content, provider, model, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.ID), string(m.BotID), string(m.ThreadID), nullInt(m.UpdateID), string(m.Role), m.Content,
		nullString(m.Provider), nullString(m.Model), nullString(meta), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, bot persona.ID, id types.ThreadID, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, update_id, role, content, provider, model, metadata, created_at
		FROM messages WHERE bot_id = ? AND thread_id = ?
		ORDER BY seq DESC LIMIT ?`, string(bot), string(id), limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var (
			m                         types.Message
			msgID, role, createdAt    string
			updateID                  sql.NullInt64
			provider, model, metadata sql.NullString
		)
		if err := rows.Scan(&msgID, &updateID, &role, &m.Content, &provider, &model, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID = types.MessageID(msgID)
		m.BotID = bot
		m.ThreadID = id
		m.UpdateID = updateID.Int64
		m.Role = types.Role(role)
		m.Provider = provider.String
		m.Model = model.String
		m.Metadata = decodeJSONMap(metadata.String)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// TableCounts returns the row count of each tracked table. Tables that
// cannot be counted report -1.
func (s *Store) TableCounts(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(trackedTables))
	for _, table := range trackedTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			n = -1
		}
		out[table] = n
	}
	return out
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	if string(data) == "null" || string(data) == "{}" {
		return "", nil
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}
