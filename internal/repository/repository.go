// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-credit/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores a case snapshot with tenant isolation.
func (r *SQLRepository) SaveSnapshot(ctx context.Context, tenantID string, snap *domain.CaseSnapshot) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("%w: snapshot with an ID is required", ErrInvalidInput)
	}

	identity, _ := json.Marshal(snap.Identity)
	tradelines, _ := json.Marshal(snap.Tradelines)
	standing, _ := json.Marshal(snap.Standing)
	willfulness, _ := json.Marshal(snap.Willfulness)
	actualHarm, _ := json.Marshal(snap.ActualHarm)

	query := `
		INSERT INTO case_snapshots (
			id, tenant_id, identity, tradelines, standing, willfulness, actual_harm, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			identity = excluded.identity,
			tradelines = excluded.tradelines,
			standing = excluded.standing,
			willfulness = excluded.willfulness,
			actual_harm = excluded.actual_harm,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		snap.ID, tenantID,
		string(identity), string(tradelines),
		string(standing), string(willfulness), string(actualHarm),
		snap.CreatedAt,
	)
	return err
}

// GetSnapshot retrieves a case snapshot by ID with tenant isolation.
func (r *SQLRepository) GetSnapshot(ctx context.Context, tenantID string, snapID string) (*domain.CaseSnapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, identity, tradelines, standing, willfulness, actual_harm, created_at
		FROM case_snapshots
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, snapID)
	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return snap, err
}

// ListSnapshots retrieves snapshots created since a point in time.
func (r *SQLRepository) ListSnapshots(ctx context.Context, tenantID string, since time.Time) ([]*domain.CaseSnapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, identity, tradelines, standing, willfulness, actual_harm, created_at
		FROM case_snapshots
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*domain.CaseSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

func scanSnapshot(scan func(...any) error) (*domain.CaseSnapshot, error) {
	var snap domain.CaseSnapshot
	var identity, tradelines, standing, willfulness, actualHarm string

	if err := scan(
		&snap.ID, &snap.TenantID,
		&identity, &tradelines, &standing, &willfulness, &actualHarm,
		&snap.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(identity), &snap.Identity); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot identity: %w", err)
	}
	if err := json.Unmarshal([]byte(tradelines), &snap.Tradelines); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot tradelines: %w", err)
	}
	if standing != "" {
		json.Unmarshal([]byte(standing), &snap.Standing)
	}
	if willfulness != "" {
		json.Unmarshal([]byte(willfulness), &snap.Willfulness)
	}
	if actualHarm != "" {
		json.Unmarshal([]byte(actualHarm), &snap.ActualHarm)
	}

	return &snap, nil
}

// SaveCaseResult stores a case result. Results are append-only: the
// fingerprint ID is the primary key and an existing row is never
// overwritten, so a duplicate save of the same result is a no-op.
func (r *SQLRepository) SaveCaseResult(ctx context.Context, tenantID string, result *domain.CaseResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: result with an ID is required", ErrInvalidInput)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal case result: %w", err)
	}

	complete := 0
	if result.Complete {
		complete = 1
	}

	query := `
		INSERT INTO case_results (
			id, tenant_id, snapshot_id, engine_version, complete, body, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID, result.SnapshotID,
		result.EngineVersion, complete, string(body), result.GeneratedAt,
	)
	return err
}

// GetCaseResult retrieves a case result by ID with tenant isolation.
func (r *SQLRepository) GetCaseResult(ctx context.Context, tenantID string, resultID string) (*domain.CaseResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT body FROM case_results
		WHERE tenant_id = ? AND id = ?
	`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, resultID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.CaseResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, fmt.Errorf("failed to parse case result: %w", err)
	}
	return &result, nil
}

// GetLatestResultForSnapshot retrieves the most recent result produced
// for a snapshot.
func (r *SQLRepository) GetLatestResultForSnapshot(ctx context.Context, tenantID string, snapID string) (*domain.CaseResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT body FROM case_results
		WHERE tenant_id = ? AND snapshot_id = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, snapID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.CaseResult
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return nil, fmt.Errorf("failed to parse case result: %w", err)
	}
	return &result, nil
}

// SaveCustomRule stores a custom rule configuration with tenant isolation.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, tenantID string, rule *domain.CustomRuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule with an ID is required", ErrInvalidInput)
	}

	citations, _ := json.Marshal(rule.Citations)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO custom_rules (
			id, tenant_id, name, description, version, expression,
			severity, citations, detail, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			citations = excluded.citations,
			detail = excluded.detail,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression,
		string(rule.Severity), string(citations), rule.Detail, enabled,
		now, now,
	)
	return err
}

// GetCustomRule retrieves the latest enabled version of a custom rule.
func (r *SQLRepository) GetCustomRule(ctx context.Context, tenantID string, ruleID string) (*domain.CustomRuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, severity, citations, detail, enabled
		FROM custom_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID)
	rule, err := scanCustomRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListCustomRules retrieves all enabled custom rules for a tenant.
func (r *SQLRepository) ListCustomRules(ctx context.Context, tenantID string) ([]*domain.CustomRuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, severity, citations, detail, enabled
		FROM custom_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CustomRuleConfig
	for rows.Next() {
		rule, err := scanCustomRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func scanCustomRule(scan func(...any) error) (*domain.CustomRuleConfig, error) {
	var rule domain.CustomRuleConfig
	var severity, citations string
	var enabled int

	if err := scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &severity, &citations, &rule.Detail, &enabled,
	); err != nil {
		return nil, err
	}

	rule.Severity = domain.Severity(severity)
	rule.Enabled = enabled == 1
	if citations != "" {
		json.Unmarshal([]byte(citations), &rule.Citations)
	}

	return &rule, nil
}

// SaveEngineConfig stores a new engine configuration version. Configs
// are validated before storage so a bad table never becomes active.
func (r *SQLRepository) SaveEngineConfig(ctx context.Context, tenantID string, cfg *domain.EngineConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if cfg == nil {
		return fmt.Errorf("%w: config is required", ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal engine config: %w", err)
	}

	query := `
		INSERT INTO engine_configs (tenant_id, body, created_at)
		VALUES (?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, string(body), time.Now().UTC())
	return err
}

// GetEngineConfig retrieves the active (most recently stored) engine
// configuration for a tenant. Returns ErrNotFound when none has been
// stored; callers fall back to defaults.
func (r *SQLRepository) GetEngineConfig(ctx context.Context, tenantID string) (*domain.EngineConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT body FROM engine_configs
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cfg domain.EngineConfig
	if err := json.Unmarshal([]byte(body), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
