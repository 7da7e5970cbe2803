package repo

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"facilitrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowID converts an opaque id to the integer key used by SQLite. Ids that
// are not integers can never match a row.
func rowID(id domain.ID) (int64, bool) {
	n, err := strconv.ParseInt(id.String(), 10, 64)
	return n, err == nil && n > 0
}

func idOf(n int64) domain.ID {
	return domain.ID(strconv.FormatInt(n, 10))
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableDate(d domain.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func scanDate(v sql.NullString) (domain.Date, error) {
	if !v.Valid || v.String == "" {
		return domain.Date{}, nil
	}
	return domain.ParseDate(v.String)
}

// conflict maps SQLite unique violations to ErrConflict.
func conflict(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrConflict
	}
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
