package persist

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/windturbine/db"
	"github.com/teranos/windturbine/errors"
	wttest "github.com/teranos/windturbine/internal/testing"
)

var sensorColumns = []string{"idtemp", "powerfactor", "hydraulicpressure", "temperature", "timestamp"}

func newSQLiteTable(t *testing.T) *Table {
	t.Helper()
	conn := wttest.CreateTestDB(t)
	table, err := NewTable(conn, db.DriverSQLite, "sensors", sensorColumns, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return table
}

func TestNewTable_RejectsBadIdentifiers(t *testing.T) {
	conn := wttest.CreateTestDB(t)

	_, err := NewTable(conn, db.DriverSQLite, "sensors; DROP TABLE x", sensorColumns, nil)
	assert.Error(t, err)

	_, err = NewTable(conn, db.DriverSQLite, "sensors", []string{"ok", "not ok"}, nil)
	assert.Error(t, err)

	_, err = NewTable(conn, db.DriverSQLite, "sensors", nil, nil)
	assert.Error(t, err)

	_, err = NewTable(conn, "mysql", "sensors", sensorColumns, nil)
	assert.Error(t, err)
}

func TestTable_EnsureSchemaIdempotent(t *testing.T) {
	table := newSQLiteTable(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, table.EnsureSchema(ctx))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, table.EnsureSchema(ctx))
		}()
	}
	wg.Wait()

	var tables int
	require.NoError(t, table.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sensors'`).Scan(&tables))
	assert.Equal(t, 1, tables)

	rows, err := table.db.Query(`SELECT name, type FROM pragma_table_info('sensors') ORDER BY cid`)
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name, typ string
		require.NoError(t, rows.Scan(&name, &typ))
		assert.Equal(t, "TEXT", typ)
		names = append(names, name)
	}
	assert.Equal(t, sensorColumns, names)
}

func TestTable_AppendStoresText(t *testing.T) {
	table := newSQLiteTable(t)
	ctx := context.Background()
	require.NoError(t, table.EnsureSchema(ctx))

	row := Row{"T1", "0.90", "120", "26.5", "2024-01-01T00:00:00"}
	require.NoError(t, table.Append(ctx, row))
	require.NoError(t, table.Append(ctx, Row{"T2", "1", "2", "3", "'); DROP TABLE sensors; --"}))

	n, err := table.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := table.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, row, rows[0])
	assert.Equal(t, "'); DROP TABLE sensors; --", rows[1][4])
}

func TestTable_AppendWrongArity(t *testing.T) {
	table := newSQLiteTable(t)
	err := table.Append(context.Background(), Row{"T1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
}

func TestTable_AppendWithoutSchema(t *testing.T) {
	table := newSQLiteTable(t)
	err := table.Append(context.Background(), Row{"a", "b", "c", "d", "e"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
	assert.Equal(t, errors.KindPersistence, errors.KindOf(err))
}

func TestTable_PostgresPlaceholders(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	table, err := NewTable(conn, db.DriverPostgres, "sensors", sensorColumns, nil)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "sensors" ("idtemp" TEXT, "powerfactor" TEXT, "hydraulicpressure" TEXT, "temperature" TEXT, "timestamp" TEXT)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sensors" ("idtemp", "powerfactor", "hydraulicpressure", "temperature", "timestamp") VALUES ($1, $2, $3, $4, $5)`)).
		WithArgs("T1", "0.9", "120", "26.5", "ts").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	require.NoError(t, table.EnsureSchema(ctx))
	require.NoError(t, table.Append(ctx, Row{"T1", "0.9", "120", "26.5", "ts"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTable_ConcurrentCreateRace(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	table, err := NewTable(conn, db.DriverPostgres, "sensors", sensorColumns, nil)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").
		WillReturnError(errors.New(`pq: relation "sensors" already exists`))
	assert.NoError(t, table.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTable_ConnectivityFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	table, err := NewTable(conn, db.DriverSQLite, "sensors", sensorColumns, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("connection refused"))
	err = table.Append(context.Background(), Row{"a", "b", "c", "d", "e"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
	assert.Contains(t, err.Error(), "connection refused")

}

func TestTable_ClosedDatabase(t *testing.T) {
	table := newSQLiteTable(t)
	require.NoError(t, table.db.Close())

	err := table.Append(context.Background(), Row{"a", "b", "c", "d", "e"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrDatabaseClosed))
	assert.True(t, errors.Is(err, errors.ErrPersistence))
}
