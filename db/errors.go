package db

import (
	"strings"

	"github.com/teranos/windturbine/errors"
)

// ErrDatabaseClosed marks a query that reached a database after Close.
// The daemon hits this when shutdown closes the history store while a run
// is still reporting step outcomes.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err came from a closed *sql.DB, either
// already marked with ErrDatabaseClosed or as the raw database/sql error.
func IsDatabaseClosed(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDatabaseClosed):
		return true
	default:
		// database/sql does not export its closed error
		return strings.Contains(err.Error(), "sql: database is closed")
	}
}

// MarkClosed adds the ErrDatabaseClosed mark to err when it came from a
// closed database and returns it unchanged otherwise.
func MarkClosed(err error) error {
	if err != nil && !errors.Is(err, ErrDatabaseClosed) && IsDatabaseClosed(err) {
		return errors.Mark(err, ErrDatabaseClosed)
	}
	return err
}
