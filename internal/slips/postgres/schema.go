package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS prediction_slips (
	slip_id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	cycle_id BIGINT NOT NULL,
	is_evaluated BOOLEAN NOT NULL DEFAULT FALSE,
	correct_count INTEGER NOT NULL DEFAULT 0,
	final_score INTEGER NOT NULL DEFAULT 0,
	rank INTEGER,
	submitted_at TIMESTAMPTZ NOT NULL,
	evaluated_at TIMESTAMPTZ,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT slip_id_nonempty CHECK (slip_id <> ''),
	CONSTRAINT owner_nonempty CHECK (owner_id <> ''),
	CONSTRAINT evaluated_has_time CHECK ((evaluated_at IS NULL) = (NOT is_evaluated))
);

CREATE TABLE IF NOT EXISTS slip_predictions (
	slip_id TEXT NOT NULL REFERENCES prediction_slips (slip_id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	entity_id TEXT NOT NULL,
	market TEXT NOT NULL,
	selection TEXT NOT NULL,
	total_line INTEGER NOT NULL DEFAULT 0,

	PRIMARY KEY (slip_id, position),
	CONSTRAINT entity_id_nonempty CHECK (entity_id <> ''),
	CONSTRAINT line_only_on_totals CHECK ((market = 'total') = (total_line > 0))
);

CREATE INDEX IF NOT EXISTS slips_unevaluated_idx ON prediction_slips (cycle_id, submitted_at) WHERE NOT is_evaluated;
CREATE INDEX IF NOT EXISTS slips_cycle_idx ON prediction_slips (cycle_id);
`
