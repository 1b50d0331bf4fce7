package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_elements (
	queue    TEXT NOT NULL,
	position INTEGER NOT NULL,
	id       TEXT NOT NULL,
	payload  BLOB NOT NULL,
	PRIMARY KEY (queue, id)
);

CREATE INDEX IF NOT EXISTS idx_queue_elements_position
	ON queue_elements(queue, position);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS drafts (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	from_addr   TEXT NOT NULL DEFAULT '',
	to_addrs    TEXT NOT NULL DEFAULT '[]',
	cc_addrs    TEXT NOT NULL DEFAULT '[]',
	bcc_addrs   TEXT NOT NULL DEFAULT '[]',
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	in_reply_to TEXT NOT NULL DEFAULT '',
	remote_uid  INTEGER NOT NULL DEFAULT 0,
	sent        INTEGER NOT NULL DEFAULT 0 CHECK(sent IN (0, 1)),
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	draft_id     TEXT NOT NULL REFERENCES drafts(id) ON DELETE CASCADE,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	data         BLOB NOT NULL,
	public_key   INTEGER NOT NULL DEFAULT 0 CHECK(public_key IN (0, 1)),
	uploaded     INTEGER NOT NULL DEFAULT 0 CHECK(uploaded IN (0, 1)),
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_drafts_owner_id ON drafts(owner_id);
CREATE INDEX IF NOT EXISTS idx_attachments_draft_id ON attachments(draft_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
