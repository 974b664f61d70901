package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migrator runs SQL migration files in order.
// Compatible with golang-migrate file naming: {version}_{name}.up.sql / .down.sql
type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger zerolog.Logger
}

// MigrationStatus is one migration file and whether it is applied.
type MigrationStatus struct {
	Version  string
	Filename string
	Applied  bool
}

func NewMigrator(db *sql.DB, files fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, files: files, logger: logger}
}

// Up applies all pending up-migrations in order and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.getAppliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("get applied versions: %w", err)
	}

	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}

	count := 0
	for _, f := range files {
		version := extractVersion(f)
		if applied[version] {
			continue
		}

		content, err := fs.ReadFile(m.files, f)
		if err != nil {
			return count, fmt.Errorf("read migration %s: %w", f, err)
		}
		if err := m.exec(ctx, string(content),
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`, version, f,
		); err != nil {
			return count, fmt.Errorf("migration %s: %w", f, err)
		}
		m.logger.Info().Str("file", f).Msg("applied migration")
		count++
	}

	return count, nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}

	var version, filename string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest migration: %w", err)
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	content, err := fs.ReadFile(m.files, downFile)
	if err != nil {
		return fmt.Errorf("read down migration %s: %w", downFile, err)
	}
	if err := m.exec(ctx, string(content),
		`DELETE FROM public.schema_migrations WHERE version = $1`, version,
	); err != nil {
		return fmt.Errorf("down migration %s: %w", downFile, err)
	}

	m.logger.Info().Str("file", downFile).Msg("rolled back migration")
	return nil
}

// Status lists every up-migration with its applied flag.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.getAppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		v := extractVersion(f)
		out = append(out, MigrationStatus{Version: v, Filename: f, Applied: applied[v]})
	}
	return out, nil
}

// exec runs a migration body and its bookkeeping statement in one tx.
func (m *Migrator) exec(ctx context.Context, body, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) getAppliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) listMigrationFiles(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}

	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix from a migration filename,
// e.g. "000001_event_log.up.sql" -> "000001".
func extractVersion(filename string) string {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) > 0 {
		return parts[0]
	}
	return filename
}
