package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationManager applies the embedded journal migrations.
type MigrationManager struct {
	db     *sql.DB
	driver string // sqlite or postgres
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB, driver string) *MigrationManager {
	return &MigrationManager{db: db, driver: driver}
}

// MigrationStatus represents the status of migrations.
type MigrationStatus struct {
	UpToDate bool
	Pending  []string
	Current  string
	Total    int
}

// Check reports which migrations are pending.
func (m *MigrationManager) Check(ctx context.Context) (*MigrationStatus, error) {
	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	versions, err := m.versions()
	if err != nil {
		return nil, err
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current version: %w", err)
	}

	status := &MigrationStatus{Current: current, Total: len(versions), Pending: []string{}}
	for _, v := range versions {
		if v > current {
			status.Pending = append(status.Pending, v)
		}
	}
	status.UpToDate = len(status.Pending) == 0
	return status, nil
}

// Migrate applies every pending migration, each in its own transaction.
func (m *MigrationManager) Migrate(ctx context.Context) (*MigrationStatus, error) {
	status, err := m.Check(ctx)
	if err != nil {
		return nil, err
	}

	for _, version := range status.Pending {
		if err := m.apply(ctx, version); err != nil {
			return nil, fmt.Errorf("run migration %s: %w", version, err)
		}
		status.Current = version
	}
	status.Pending = []string{}
	status.UpToDate = true
	return status, nil
}

func (m *MigrationManager) ensureSchemaMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// versions lists migration base names usable by the driver, in order.
// A "<name>_sqlite.sql" file replaces "<name>.sql" on SQLite.
func (m *MigrationManager) versions() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		base := strings.TrimSuffix(strings.TrimSuffix(name, ".sql"), "_sqlite")
		seen[base] = true
	}

	versions := make([]string, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (m *MigrationManager) script(version string) ([]byte, error) {
	if m.driver == "sqlite" {
		data, err := migrationFiles.ReadFile("migrations/" + version + "_sqlite.sql")
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return migrationFiles.ReadFile("migrations/" + version + ".sql")
}

func (m *MigrationManager) currentVersion(ctx context.Context) (string, error) {
	var version sql.NullString
	err := m.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return "", err
	}
	return version.String, nil
}

func (m *MigrationManager) apply(ctx context.Context, version string) error {
	data, err := m.script(version)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)",
		version, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
