// Package sqlstore persists users, chat rooms and messages in PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the database handle with its SQL dialect
type Store struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
	tx     *TxManager
	now    func() time.Time
}

// New wraps db and creates the schema if needed
func New(ctx context.Context, db *sql.DB, driver string) (*Store, error) {
	s, err := newStore(db, driver)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(db *sql.DB, driver string) (*Store, error) {
	var format sq.PlaceholderFormat
	switch driver {
	case DriverPostgres:
		format = sq.Dollar
	case DriverSQLite:
		format = sq.Question
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	return &Store{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(format),
		tx:     NewTxManager(db),
		now:    utcNow,
	}, nil
}

// utcNow truncates to microseconds, the precision PostgreSQL keeps
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// SetClock replaces the store's time source
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the SQL driver name
func (s *Store) Driver() string {
	return s.driver
}

// Migrate creates tables and indexes that do not exist yet
func (s *Store) Migrate(ctx context.Context) error {
	ddl := schema
	if s.driver == DriverPostgres {
		ddl = strings.ReplaceAll(ddl, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
		ddl = strings.ReplaceAll(ddl, "TIMESTAMP", "TIMESTAMPTZ")
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// lockRoom serializes writers of one room for the rest of tx.
// SQLite runs on a single connection, so the plain read is enough there.
func (s *Store) lockRoom(ctx context.Context, tx querier, roomID string) error {
	q := s.sb.Select("id").From("chat_rooms").Where(sq.Eq{"id": roomID, "is_active": true})
	if s.driver == DriverPostgres {
		q = q.Suffix("FOR UPDATE")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build lock query: %w", err)
	}

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return errRoomGone
		}
		return fmt.Errorf("failed to lock room: %w", err)
	}
	return nil
}
