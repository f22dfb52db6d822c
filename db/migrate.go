package db

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// bootstrapVersion creates schema_migrations and must sort first
const bootstrapVersion = "000"

// Migration is one embedded run-history schema change, named NNN_description.sql
type Migration struct {
	Version string
	File    string
	SQL     string
}

// Migrations returns the embedded migrations in version order
func Migrations() ([]Migration, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			return nil, errors.Newf("migration %s is not named NNN_description.sql", entry.Name())
		}
		body, err := migrationFS.ReadFile(path.Join(migrationDir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", entry.Name())
		}
		out = append(out, Migration{Version: version, File: entry.Name(), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	if len(out) == 0 || out[0].Version != bootstrapVersion {
		return nil, errors.AssertionFailedf("first migration must be %s", bootstrapVersion)
	}
	return out, nil
}

// Migrate applies every pending migration, each in its own transaction, and
// returns the schema version the database is at afterwards.
func Migrate(ctx context.Context, conn *sql.DB, log *zap.SugaredLogger) (string, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	all, err := Migrations()
	if err != nil {
		return "", err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return "", err
	}

	count := 0
	for _, m := range all {
		if applied[m.Version] {
			log.Debugw("Migration already applied", logger.FieldMigration, m.File)
			continue
		}
		log.Infow("Applying migration", logger.FieldMigration, m.File, logger.FieldSchemaVersion, m.Version)
		if err := apply(ctx, conn, m); err != nil {
			return "", err
		}
		count++
	}

	version, err := SchemaVersion(ctx, conn)
	if err != nil {
		return "", err
	}
	log.Infow("History schema ready", logger.FieldSchemaVersion, version, "applied", count)
	return version, nil
}

// SchemaVersion returns the newest applied migration version, or "" for a
// database that was never migrated
func SchemaVersion(ctx context.Context, conn *sql.DB) (string, error) {
	ok, err := hasMigrationTable(ctx, conn)
	if err != nil || !ok {
		return "", err
	}
	var version sql.NullString
	if err := conn.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return "", MarkClosed(errors.Wrap(err, "read schema version"))
	}
	return version.String, nil
}

func hasMigrationTable(ctx context.Context, conn *sql.DB) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&n)
	if err != nil {
		return false, MarkClosed(errors.Wrap(err, "inspect schema"))
	}
	return n == 1, nil
}

func appliedVersions(ctx context.Context, conn *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)
	ok, err := hasMigrationTable(ctx, conn)
	if err != nil || !ok {
		return applied, err
	}

	rows, err := conn.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, MarkClosed(errors.Wrap(err, "list applied migrations"))
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan migration version")
		}
		applied[v] = true
	}
	return applied, errors.Wrap(rows.Err(), "iterate applied migrations")
}

// apply runs one migration and records it; 000 creates the table it records itself in
func apply(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return MarkClosed(errors.Wrapf(err, "begin %s", m.File))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return errors.Wrapf(err, "execute %s", m.File)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return errors.Wrapf(err, "record %s", m.File)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.File)
}
