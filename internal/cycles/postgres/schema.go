package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cycles (
	cycle_id BIGINT PRIMARY KEY,
	cycle_start_time TIMESTAMPTZ NOT NULL,
	cycle_end_time TIMESTAMPTZ NOT NULL,
	is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
	resolved_at TIMESTAMPTZ,
	evaluation_completed BOOLEAN NOT NULL DEFAULT FALSE,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT cycle_window_valid CHECK (cycle_end_time > cycle_start_time),
	CONSTRAINT resolved_has_time CHECK ((resolved_at IS NULL) = (NOT is_resolved)),
	CONSTRAINT evaluated_after_resolved CHECK (is_resolved OR NOT evaluation_completed)
);

CREATE TABLE IF NOT EXISTS cycle_entities (
	cycle_id BIGINT NOT NULL REFERENCES cycles (cycle_id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	entity_id TEXT NOT NULL,
	total_lines INTEGER[] NOT NULL DEFAULT '{}',

	PRIMARY KEY (cycle_id, position),
	CONSTRAINT cycle_entity_unique UNIQUE (cycle_id, entity_id),
	CONSTRAINT entity_id_nonempty CHECK (entity_id <> '')
);

CREATE INDEX IF NOT EXISTS cycles_unresolved_idx ON cycles (cycle_end_time) WHERE NOT is_resolved;
CREATE INDEX IF NOT EXISTS cycles_unevaluated_idx ON cycles (resolved_at) WHERE is_resolved AND NOT evaluation_completed;
`
