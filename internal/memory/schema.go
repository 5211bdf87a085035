// Package memory implements the SQLite-backed store behind every stateful
// operation the gateway performs: conversations, messages, recall, facts,
// aliases, scheduled tasks, outcomes, lessons, CLI session handles, audit
// entries and limitations (spec §3/§4.3). Grounded on the teacher's direct-
// SQL store style (internal/store/pg/*.go: one method per operation, no
// ORM) and on jaakkos-stringwork's internal/repository/sqlite/store.go for
// the modernc.org/sqlite driver-usage and schema-as-const-string idiom.
package memory

// schema is applied on every Open via CREATE TABLE IF NOT EXISTS, so it is
// safe to run against both a brand-new database file and one already
// carrying data from a previous tracked-migration version.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	project TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	started_at TEXT NOT NULL,
	last_activity_at TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content, content='messages', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content) VALUES('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS facts (
	sender_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	system INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (sender_id, key)
);

CREATE TABLE IF NOT EXISTS aliases (
	alias TEXT PRIMARY KEY,
	canonical TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	project TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT 'reminder',
	description TEXT NOT NULL,
	run_at TEXT NOT NULL,
	recurrence TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	retries INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lessons (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	rule TEXT NOT NULL,
	occurrences INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cli_sessions (
	channel TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	project TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (channel, sender_id, project)
);

CREATE TABLE IF NOT EXISTS audit (
	id TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	channel TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS limitations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	title_norm TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_conversations_lookup ON conversations(channel, sender_id, project, status);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_pending ON tasks(status, run_at);
CREATE INDEX IF NOT EXISTS idx_tasks_sender ON tasks(sender_id, status);
CREATE INDEX IF NOT EXISTS idx_outcomes_task ON outcomes(task_id, created_at);
CREATE INDEX IF NOT EXISTS idx_lessons_group ON lessons(sender_id, domain, project);
CREATE UNIQUE INDEX IF NOT EXISTS idx_limitations_title ON limitations(title_norm);
`
