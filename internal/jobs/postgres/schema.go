package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS job_executions (
	execution_id TEXT PRIMARY KEY,
	job_name TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	result BYTEA,
	started_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT execution_id_nonempty CHECK (execution_id <> ''),
	CONSTRAINT job_name_nonempty CHECK (job_name <> ''),
	CONSTRAINT status_known CHECK (status IN ('running', 'completed', 'failed')),
	CONSTRAINT duration_nonneg CHECK (duration_ms >= 0)
);

CREATE INDEX IF NOT EXISTS job_executions_job_started_idx ON job_executions (job_name, started_at DESC);
CREATE INDEX IF NOT EXISTS job_executions_running_idx ON job_executions (started_at) WHERE status = 'running';
`
