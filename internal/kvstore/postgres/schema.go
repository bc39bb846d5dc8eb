package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
