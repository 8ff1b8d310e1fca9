package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidWindow is returned for negative pagination windows.
var ErrInvalidWindow = errors.New("store: invalid window")

// DB wraps a SQLite database connection for the app-owned wire.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode, a busy timeout and
// foreign key enforcement on every pooled connection.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// IsConstraintViolation reports whether err was caused by a SQLite
// constraint failure (foreign key, primary key, unique, not null, check).
func IsConstraintViolation(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// IsForeignKeyViolation reports whether err was caused by a foreign key
// constraint failure.
func IsForeignKeyViolation(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// inClause returns "?, ?, ?" for n placeholders and the args as []any.
func inClause(values []string) (string, []any) {
	args := make([]any, len(values))
	buf := make([]byte, 0, len(values)*3)
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = append(buf, '?')
		args[i] = v
	}
	return string(buf), args
}
