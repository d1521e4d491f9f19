package state

const schemaSQL = `
CREATE TABLE IF NOT EXISTS telegram_updates (
	bot_id TEXT NOT NULL,
	update_id INTEGER NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	user_id INTEGER,
	chat_id INTEGER,
	status TEXT NOT NULL,
	error TEXT,
	created_at TEXT NOT NULL,
	processed_at TEXT,
	PRIMARY KEY (bot_id, update_id)
);

CREATE TABLE IF NOT EXISTS users (
	user_id INTEGER PRIMARY KEY,
	chat_id INTEGER NOT NULL,
	username TEXT,
	first_name TEXT,
	language_code TEXT,
	timezone TEXT NOT NULL,
	reminders_paused INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	bot_id TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	chat_id INTEGER NOT NULL,
	summary TEXT,
	locale TEXT,
	last_message_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (bot_id, thread_id)
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	bot_id TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	update_id INTEGER,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	provider TEXT,
	model TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(bot_id, thread_id, seq);

CREATE TABLE IF NOT EXISTS reminder_jobs (
	job_id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	chat_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	schedule_date TEXT NOT NULL,
	scheduled_for TEXT NOT NULL,
	timezone TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	sent_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (bot_id, user_id, kind, schedule_date)
);

CREATE TABLE IF NOT EXISTS local_jobs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL UNIQUE,
	flow_id TEXT,
	bot_id TEXT NOT NULL,
	chat_id INTEGER NOT NULL,
	user_id INTEGER,
	thread_id TEXT,
	mode TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	claimed_by TEXT,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_local_jobs_status ON local_jobs(status, seq);

CREATE TABLE IF NOT EXISTS action_approvals (
	action_id TEXT PRIMARY KEY,
	requested_by_bot TEXT NOT NULL,
	action_type TEXT NOT NULL,
	payload TEXT,
	status TEXT NOT NULL,
	approved_by TEXT,
	approved_at TEXT,
	evidence TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cost_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	tokens_in INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	estimated_cost REAL NOT NULL DEFAULT 0,
	path TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_logs_created ON cost_logs(created_at);
`

// trackedTables are reported by the health endpoint.
var trackedTables = []string{
	"telegram_updates",
	"users",
	"threads",
	"messages",
	"reminder_jobs",
	"local_jobs",
	"action_approvals",
	"cost_logs",
}
