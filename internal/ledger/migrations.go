package ledger

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// sqliteMigrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS answered (
	question_id  TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	answered_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (question_id, recipient_id)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_answered_answered_at
	ON answered(answered_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

// postgresSchema is applied idempotently on every open.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS answered (
	question_id  TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	answered_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (question_id, recipient_id)
);

CREATE INDEX IF NOT EXISTS idx_answered_answered_at
	ON answered(answered_at);
`
