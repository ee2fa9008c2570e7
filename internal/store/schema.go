package store

import "database/sql"

// schema is applied idempotently on every startup. Tables and indices
// use CREATE IF NOT EXISTS so there is no migration history to track.
const schema = `
CREATE TABLE IF NOT EXISTS services (
	identity     TEXT PRIMARY KEY,
	port         INTEGER NOT NULL UNIQUE,
	pid          INTEGER,
	claimed_at   INTEGER NOT NULL,
	last_seen    INTEGER NOT NULL,
	expires_at   INTEGER,
	health_path  TEXT,
	endpoints    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_services_expires_at ON services(expires_at);

CREATE TABLE IF NOT EXISTS locks (
	name         TEXT PRIMARY KEY,
	owner        TEXT NOT NULL,
	pid          INTEGER,
	acquired_at  INTEGER NOT NULL,
	expires_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_locks_expires_at ON locks(expires_at);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel    TEXT NOT NULL,
	payload    BLOB NOT NULL,
	compression INTEGER NOT NULL DEFAULT 0,
	sender     TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages(channel, id);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

CREATE TABLE IF NOT EXISTS agents (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	purpose         TEXT,
	identity        TEXT,
	worktree_id     TEXT,
	registered_at   INTEGER NOT NULL,
	last_heartbeat  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_identity ON agents(identity);
CREATE INDEX IF NOT EXISTS idx_agents_last_heartbeat ON agents(last_heartbeat);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	purpose     TEXT,
	created_by  TEXT,
	identity    TEXT,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','completed','abandoned'))
);
CREATE INDEX IF NOT EXISTS idx_sessions_created_by ON sessions(created_by);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS notes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	type        TEXT,
	content     TEXT NOT NULL,
	created_by  TEXT,
	created_at  INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_notes_session_id ON notes(session_id, id);

CREATE TABLE IF NOT EXISTS file_claims (
	session_id  TEXT NOT NULL,
	path        TEXT NOT NULL,
	claimed_at  INTEGER NOT NULL,
	PRIMARY KEY (session_id, path),
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_file_claims_path ON file_claims(path);

CREATE TABLE IF NOT EXISTS resurrection_entries (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	dead_agent_id    TEXT NOT NULL,
	identity         TEXT,
	sessions_snapshot TEXT NOT NULL DEFAULT '[]',
	notes_snapshot    TEXT NOT NULL DEFAULT '{}',
	created_at       INTEGER NOT NULL,
	state            TEXT NOT NULL DEFAULT 'pending'
		CHECK(state IN ('pending','claimed','done','abandoned','dismissed')),
	claimed_by       TEXT
);
CREATE INDEX IF NOT EXISTS idx_resurrection_state ON resurrection_entries(state);
CREATE INDEX IF NOT EXISTS idx_resurrection_identity ON resurrection_entries(identity);

CREATE TABLE IF NOT EXISTS changelog_entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	identity    TEXT NOT NULL,
	type        TEXT NOT NULL CHECK(type IN ('feature','fix','refactor','docs','chore','breaking')),
	summary     TEXT NOT NULL,
	description TEXT,
	session_id  TEXT,
	agent_id    TEXT,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changelog_identity ON changelog_entries(identity);
CREATE INDEX IF NOT EXISTS idx_changelog_created_at ON changelog_entries(created_at);

CREATE TABLE IF NOT EXISTS activity_entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	action     TEXT NOT NULL,
	target     TEXT,
	details    TEXT,
	agent_id   TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_entries(type);
CREATE INDEX IF NOT EXISTS idx_activity_agent_id ON activity_entries(agent_id);
CREATE INDEX IF NOT EXISTS idx_activity_created_at ON activity_entries(created_at);
`

// Migrate applies the embedded schema. It is idempotent and safe to
// call on every startup.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
