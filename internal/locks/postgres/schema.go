package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS job_locks (
	job_name TEXT PRIMARY KEY,
	holder_id TEXT NOT NULL,
	locked_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT job_name_nonempty CHECK (job_name <> ''),
	CONSTRAINT holder_id_nonempty CHECK (holder_id <> '')
);

CREATE INDEX IF NOT EXISTS job_locks_expires_at_idx ON job_locks (expires_at);
`
