// Package persist appends sensor readings to the destination table.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/windturbine/db"
	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row holds one value per table column, in column order
type Row []string

// Table is an append-only destination with text columns.
// Every failure returned by its methods is marked errors.ErrPersistence.
type Table struct {
	db      *sql.DB
	driver  string
	name    string
	columns []string
	log     *zap.SugaredLogger

	// serialises schema creation within this process
	schemaMu sync.Mutex
}

// NewTable validates the table and column names for use as SQL identifiers
func NewTable(conn *sql.DB, driver, name string, columns []string, log *zap.SugaredLogger) (*Table, error) {
	if !identifier.MatchString(name) {
		return nil, errors.Newf("invalid table name %q", name)
	}
	if len(columns) == 0 {
		return nil, errors.New("table needs at least one column")
	}
	for _, c := range columns {
		if !identifier.MatchString(c) {
			return nil, errors.Newf("invalid column name %q", c)
		}
	}
	if driver != db.DriverSQLite && driver != db.DriverPostgres {
		return nil, errors.Newf("unsupported destination driver %q", driver)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Table{
		db:      conn,
		driver:  driver,
		name:    name,
		columns: append([]string(nil), columns...),
		log:     log,
	}, nil
}

// Name returns the table name
func (t *Table) Name() string { return t.name }

// Columns returns the column names in order
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// EnsureSchema creates the table if it is absent. Safe to call from any
// number of runs at once.
func (t *Table) EnsureSchema(ctx context.Context) error {
	t.schemaMu.Lock()
	defer t.schemaMu.Unlock()

	cols := make([]string, len(t.columns))
	for i, c := range t.columns {
		cols[i] = quote(c) + " TEXT"
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(t.name), strings.Join(cols, ", "))

	if _, err := t.db.ExecContext(ctx, stmt); err != nil {
		// Another process can win the race on postgres
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return t.fail(err, "create table %s", t.name)
	}
	t.log.Debugw("Destination schema ensured", logger.FieldTable, t.name, logger.FieldDriver, t.driver)
	return nil
}

// Append inserts one row. Values are bound as parameters and stored as text.
func (t *Table) Append(ctx context.Context, row Row) error {
	if len(row) != len(t.columns) {
		return errors.Mark(
			errors.Newf("row has %d values, table %s has %d columns", len(row), t.name, len(t.columns)),
			errors.ErrPersistence)
	}

	args := make([]interface{}, len(row))
	for i, v := range row {
		args[i] = v
	}
	if _, err := t.db.ExecContext(ctx, t.insertStatement(), args...); err != nil {
		return t.fail(err, "insert into %s", t.name)
	}
	t.log.Infow("Row appended", logger.FieldTable, t.name)
	return nil
}

// Count returns the number of rows in the table
func (t *Table) Count(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(t.name)).Scan(&n)
	if err != nil {
		return 0, t.fail(err, "count %s", t.name)
	}
	return n, nil
}

// Rows returns every row in insertion order
func (t *Table) Rows(ctx context.Context) ([]Row, error) {
	cols := make([]string, len(t.columns))
	for i, c := range t.columns {
		cols[i] = quote(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quote(t.name))
	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, t.fail(err, "select from %s", t.name)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values := make([]sql.NullString, len(t.columns))
		dest := make([]interface{}, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, t.fail(err, "scan %s", t.name)
		}
		row := make(Row, len(values))
		for i, v := range values {
			row[i] = v.String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, t.fail(err, "iterate %s", t.name)
	}
	return out, nil
}

func (t *Table) insertStatement() string {
	cols := make([]string, len(t.columns))
	marks := make([]string, len(t.columns))
	for i, c := range t.columns {
		cols[i] = quote(c)
		marks[i] = t.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(t.name), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

func (t *Table) placeholder(n int) string {
	if t.driver == db.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (t *Table) fail(err error, format string, args ...interface{}) error {
	return errors.Mark(db.MarkClosed(errors.Wrapf(err, format, args...)), errors.ErrPersistence)
}

func quote(ident string) string {
	return `"` + ident + `"`
}
