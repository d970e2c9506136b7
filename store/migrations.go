package store

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS processed_messages (
	id           TEXT PRIMARY KEY,
	processed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS email_logs (
	id            TEXT PRIMARY KEY,
	message_id    TEXT NOT NULL,
	from_addr     TEXT NOT NULL DEFAULT '',
	to_addr       TEXT NOT NULL DEFAULT '',
	date          TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0,
	reply_subject TEXT,
	reply_body    TEXT,
	action_status TEXT NOT NULL DEFAULT '',
	processed_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_email_logs_processed_at ON email_logs(processed_at);
CREATE INDEX IF NOT EXISTS idx_email_logs_category ON email_logs(category);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
