// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Case snapshot operations
	SaveSnapshot(ctx context.Context, tenantID string, snap *CaseSnapshot) error
	GetSnapshot(ctx context.Context, tenantID string, snapID string) (*CaseSnapshot, error)
	ListSnapshots(ctx context.Context, tenantID string, since time.Time) ([]*CaseSnapshot, error)

	// Case result operations. Results are append-only: re-analysis of a
	// snapshot stores a new result, never overwrites one.
	SaveCaseResult(ctx context.Context, tenantID string, result *CaseResult) error
	GetCaseResult(ctx context.Context, tenantID string, resultID string) (*CaseResult, error)
	GetLatestResultForSnapshot(ctx context.Context, tenantID string, snapID string) (*CaseResult, error)

	// Custom rule configuration operations
	SaveCustomRule(ctx context.Context, tenantID string, rule *CustomRuleConfig) error
	GetCustomRule(ctx context.Context, tenantID string, ruleID string) (*CustomRuleConfig, error)
	ListCustomRules(ctx context.Context, tenantID string) ([]*CustomRuleConfig, error)

	// Engine configuration versions. The active config is the latest
	// stored row; a nil result means the caller should use defaults.
	SaveEngineConfig(ctx context.Context, tenantID string, cfg *EngineConfig) error
	GetEngineConfig(ctx context.Context, tenantID string) (*EngineConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
