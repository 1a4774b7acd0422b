package dbcontext

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// migrationsTable records applied migrations inside the context schema.
const migrationsTable = "_dbcontext_migrations"

// Migration is a DDL script applied once per schema. Unqualified names in SQL
// resolve to the context schema.
type Migration struct {
	ID          string // Unique identifier (e.g., "001", "20240115120000", or any string)
	Description string // Human-readable description
	SQL         string // SQL statements to execute
}

// MigrationResult represents the result of running migrations
type MigrationResult struct {
	Applied   []AppliedMigration
	Skipped   []string // IDs that were already applied
	TotalTime time.Duration
}

// AppliedMigration is a row of the migrations table.
type AppliedMigration struct {
	ID          string `db:"id,pk"`
	Description string
	Checksum    string
	AppliedAt   time.Time
	DurationMs  int64 `db:"duration_ms"`
}

// Duration returns how long the migration took to apply.
func (m AppliedMigration) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

// MigrationStatusEntry represents the status of a single migration
type MigrationStatusEntry struct {
	ID            string
	Description   string
	Checksum      string
	Applied       bool
	ChecksumMatch bool // Only relevant if Applied is true
}

// Migrate applies migrations in order, skipping those already recorded. Each
// migration runs in its own transaction together with its bookkeeping row.
// A recorded migration whose SQL changed stops the run with
// ErrMigrationChanged.
func (ac *AutonomousContext) Migrate(ctx context.Context, migrations []Migration) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{
		Applied: make([]AppliedMigration, 0),
		Skipped: make([]string, 0),
	}

	applied, err := ac.appliedChecksums(ctx)
	if err != nil {
		return nil, err
	}

	for _, m := range migrations {
		checksum := checksumSQL(m.SQL)

		if existing, ok := applied[m.ID]; ok {
			if existing != checksum {
				return nil, fmt.Errorf("dbcontext.Migrate: migration %s (checksum %s, recorded %s): %w",
					m.ID, checksum, existing, ErrMigrationChanged)
			}
			result.Skipped = append(result.Skipped, m.ID)
			continue
		}

		record, err := ac.applyMigration(ctx, m, checksum)
		if err != nil {
			return nil, err
		}
		result.Applied = append(result.Applied, *record)
	}

	result.TotalTime = time.Since(start)
	return result, nil
}

// MigrationStatus reports which migrations are recorded and whether their SQL
// is unchanged.
func (ac *AutonomousContext) MigrationStatus(ctx context.Context, migrations []Migration) ([]MigrationStatusEntry, error) {
	applied, err := ac.appliedChecksums(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]MigrationStatusEntry, 0, len(migrations))
	for _, m := range migrations {
		checksum := checksumSQL(m.SQL)
		entry := MigrationStatusEntry{
			ID:          m.ID,
			Description: m.Description,
			Checksum:    checksum,
		}

		if appliedChecksum, ok := applied[m.ID]; ok {
			entry.Applied = true
			entry.ChecksumMatch = appliedChecksum == checksum
		}

		result = append(result, entry)
	}

	return result, nil
}

// AppliedMigrations returns the recorded migrations, oldest first.
func (ac *AutonomousContext) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	if err := ac.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	return SelectAndRetrieveAs[AppliedMigration](ctx, ac,
		"SELECT id, description, checksum, applied_at, duration_ms FROM "+ac.c.builder.qualify(migrationsTable)+
			" ORDER BY applied_at, id")
}

func (ac *AutonomousContext) ensureMigrationsTable(ctx context.Context) error {
	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + quoteIdent(ac.Schema()),
		`CREATE TABLE IF NOT EXISTS ` + ac.c.builder.qualify(migrationsTable) + ` (
			id          VARCHAR(255) PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			checksum    VARCHAR(64) NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			duration_ms BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := ac.ExecuteStatement(ctx, stmt); err != nil {
			return fmt.Errorf("dbcontext.Migrate: create migrations table: %w", err)
		}
	}
	return nil
}

func (ac *AutonomousContext) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := ac.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(rows))
	for _, row := range rows {
		result[row.ID] = row.Checksum
	}
	return result, nil
}

func (ac *AutonomousContext) applyMigration(ctx context.Context, m Migration, checksum string) (*AppliedMigration, error) {
	tc := ac.AsTransactional()
	defer tc.Close()

	if err := tc.BeginTransaction(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	if _, err := tc.ExecuteStatement(ctx, "SET LOCAL search_path TO "+quoteIdent(ac.Schema())); err != nil {
		return nil, err
	}
	if _, err := tc.ExecuteStatement(ctx, m.SQL); err != nil {
		return nil, fmt.Errorf("dbcontext.Migrate: migration %s failed (%s): %w", m.ID, truncateSQL(m.SQL, 200), err)
	}

	record := &AppliedMigration{
		ID:          m.ID,
		Description: m.Description,
		Checksum:    checksum,
		AppliedAt:   time.Now(),
		DurationMs:  time.Since(started).Milliseconds(),
	}
	if err := Insert(ctx, tc, record, Table(migrationsTable)); err != nil {
		return nil, fmt.Errorf("dbcontext.Migrate: record migration %s: %w", m.ID, err)
	}

	if err := tc.CommitTransaction(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// checksumSQL creates a SHA256 checksum of SQL content
func checksumSQL(sql string) string {
	hash := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(hash[:])
}

// truncateSQL truncates SQL for error messages
func truncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen] + "..."
}
