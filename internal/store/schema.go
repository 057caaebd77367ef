package store

// schemaVersion1 is the initial schema.
const schemaVersion1 = 1

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersion1

// schemaV1 is the full DDL for a fresh install. Times are RFC3339 UTC
// strings; tag sets and profiles are JSON-serialized TEXT columns validated
// at the repository boundary.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS patterns (
	id                 TEXT PRIMARY KEY,
	workspace_id       TEXT NOT NULL,
	project_id         TEXT NOT NULL,
	pattern_key        TEXT NOT NULL,
	content_hash       TEXT NOT NULL,
	content            TEXT NOT NULL,
	failure_mode       TEXT NOT NULL,
	category           TEXT NOT NULL,
	severity           TEXT NOT NULL,
	severity_max       TEXT NOT NULL,
	alternative        TEXT,
	carrier_stage      TEXT NOT NULL,
	primary_quote_type TEXT NOT NULL,
	technologies       TEXT,
	task_types         TEXT,
	touches            TEXT,
	confidence         REAL NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'active',
	permanent          INTEGER NOT NULL DEFAULT 0,
	superseded_by      TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	UNIQUE(workspace_id, project_id, pattern_key)
);
CREATE INDEX IF NOT EXISTS idx_patterns_workspace_key
	ON patterns(workspace_id, pattern_key);
CREATE INDEX IF NOT EXISTS idx_patterns_scope_status
	ON patterns(workspace_id, project_id, status);

CREATE TABLE IF NOT EXISTS occurrences (
	id                  TEXT PRIMARY KEY,
	pattern_id          TEXT,
	alert_id            TEXT,
	workspace_id        TEXT NOT NULL,
	project_id          TEXT NOT NULL,
	finding_id          TEXT NOT NULL,
	issue_id            TEXT,
	pr_number           INTEGER NOT NULL DEFAULT 0,
	severity            TEXT NOT NULL,
	evidence            TEXT,
	carrier_fingerprint TEXT,
	origin_fingerprint  TEXT,
	provenance_chain    TEXT,
	excerpt_hashes      TEXT,
	was_injected        INTEGER NOT NULL DEFAULT 0,
	was_adhered_to      INTEGER,
	status              TEXT NOT NULL DEFAULT 'active',
	inactive_reason     TEXT,
	created_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_occurrences_pattern ON occurrences(pattern_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_alert ON occurrences(alert_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_scope
	ON occurrences(workspace_id, project_id);

CREATE TABLE IF NOT EXISTS alerts (
	id                  TEXT PRIMARY KEY,
	workspace_id        TEXT NOT NULL,
	project_id          TEXT NOT NULL,
	alert_key           TEXT NOT NULL,
	content             TEXT NOT NULL,
	alternative         TEXT,
	category            TEXT NOT NULL,
	severity            TEXT NOT NULL,
	quote_type          TEXT NOT NULL,
	touches             TEXT,
	inject_into         TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'active',
	promoted_pattern_id TEXT,
	created_at          TEXT NOT NULL,
	expires_at          TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active_key
	ON alerts(workspace_id, project_id, alert_key) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_alerts_expiry ON alerts(status, expires_at);

CREATE TABLE IF NOT EXISTS principles (
	id              TEXT PRIMARY KEY,
	workspace_id    TEXT NOT NULL,
	origin          TEXT NOT NULL,
	promotion_key   TEXT NOT NULL,
	text            TEXT NOT NULL,
	rationale       TEXT,
	category        TEXT NOT NULL,
	severity        TEXT NOT NULL,
	touches         TEXT,
	inject_into     TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0,
	permanent       INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'active',
	archived_reason TEXT,
	archived_by     TEXT,
	archived_at     TEXT,
	created_at      TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_principles_active_key
	ON principles(workspace_id, promotion_key) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS kill_switches (
	workspace_id   TEXT NOT NULL,
	project_id     TEXT NOT NULL,
	state          TEXT NOT NULL,
	reason         TEXT,
	entered_at     TEXT NOT NULL,
	auto_resume_at TEXT,
	PRIMARY KEY(workspace_id, project_id)
);

CREATE TABLE IF NOT EXISTS outcomes (
	id                  TEXT PRIMARY KEY,
	workspace_id        TEXT NOT NULL,
	project_id          TEXT NOT NULL,
	issue_key           TEXT,
	carrier_quote_type  TEXT NOT NULL,
	pattern_created     INTEGER NOT NULL DEFAULT 0,
	injection_occurred  INTEGER NOT NULL DEFAULT 0,
	recurrence_observed INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_scope_created
	ON outcomes(workspace_id, project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS injection_logs (
	id            TEXT PRIMARY KEY,
	workspace_id  TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	issue_id      TEXT,
	target        TEXT NOT NULL,
	task_profile  TEXT NOT NULL,
	pattern_ids   TEXT,
	principle_ids TEXT,
	alert_ids     TEXT,
	summary       TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_injection_logs_issue
	ON injection_logs(workspace_id, project_id, issue_id, created_at DESC);

CREATE TABLE IF NOT EXISTS tagging_misses (
	id             TEXT PRIMARY KEY,
	workspace_id   TEXT NOT NULL,
	project_id     TEXT NOT NULL,
	pattern_id     TEXT NOT NULL,
	issue_id       TEXT NOT NULL,
	actual_profile TEXT NOT NULL,
	required_match TEXT NOT NULL,
	missing_tags   TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	resolution     TEXT,
	created_at     TEXT NOT NULL,
	resolved_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_tagging_misses_status
	ON tagging_misses(workspace_id, project_id, status);
`
