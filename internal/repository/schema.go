package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaCaseSnapshots = `
CREATE TABLE IF NOT EXISTS case_snapshots (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    identity TEXT NOT NULL,
    tradelines TEXT NOT NULL,
    standing TEXT,
    willfulness TEXT,
    actual_harm TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_case_snapshots_tenant ON case_snapshots(tenant_id);
CREATE INDEX IF NOT EXISTS idx_case_snapshots_created ON case_snapshots(tenant_id, created_at);
`

// Case results are append-only: the primary key is the result
// fingerprint, so re-analysis of a changed snapshot or config inserts a
// new row and never overwrites an old one.
const schemaCaseResults = `
CREATE TABLE IF NOT EXISTS case_results (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    snapshot_id TEXT NOT NULL,
    engine_version TEXT NOT NULL,
    complete INTEGER NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_case_results_tenant ON case_results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_case_results_snapshot ON case_results(tenant_id, snapshot_id);
CREATE INDEX IF NOT EXISTS idx_case_results_generated ON case_results(tenant_id, generated_at);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    citations TEXT,
    detail TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_tenant ON custom_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_custom_rules_enabled ON custom_rules(tenant_id, enabled);
`

// Engine configs are versioned by insertion: the active config for a
// tenant is the most recently stored row.
const schemaEngineConfigs = `
CREATE TABLE IF NOT EXISTS engine_configs (
    tenant_id TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_engine_configs_tenant ON engine_configs(tenant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCaseSnapshots,
		schemaCaseResults,
		schemaCustomRules,
		schemaEngineConfigs,
	}
}
