package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entity_results (
	entity_id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'scheduled',
	scheduled_at TIMESTAMPTZ NOT NULL,

	home_score INTEGER,
	away_score INTEGER,
	ht_home_score INTEGER,
	ht_away_score INTEGER,

	outcome_moneyline TEXT,
	outcome_total_15 TEXT,
	outcome_total_25 TEXT,
	outcome_total_35 TEXT,
	outcome_both_score TEXT,
	outcome_ht_moneyline TEXT,

	finished_at TIMESTAMPTZ,
	fetched_at TIMESTAMPTZ,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT entity_id_nonempty CHECK (entity_id <> ''),
	CONSTRAINT scores_paired CHECK ((home_score IS NULL) = (away_score IS NULL)),
	CONSTRAINT ht_scores_paired CHECK ((ht_home_score IS NULL) = (ht_away_score IS NULL)),
	CONSTRAINT outcomes_need_scores CHECK (outcome_moneyline IS NULL OR home_score IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS entity_results_due_idx ON entity_results (scheduled_at) WHERE outcome_moneyline IS NULL;
CREATE INDEX IF NOT EXISTS entity_results_status_idx ON entity_results (status, scheduled_at);
`
