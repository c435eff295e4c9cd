// Package sqldb stores migration history through database/sql and sqlx. It
// supports MySQL and SQLite.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-runner/internal/database"
	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
)

// DefaultTable is the history table used when no other is configured.
const DefaultTable = "migrations"

type row struct {
	Name   string    `db:"name"`
	Status string    `db:"status"`
	Date   time.Time `db:"date"`
	Error  string    `db:"error"`
}

// Store implements storage.Storage on a sqlx database.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	table   string // quoted
	owner   string
	closeDB bool
	log     logrus.FieldLogger
}

var _ storage.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*options)

type options struct {
	table string
	log   logrus.FieldLogger
}

// WithTable sets the history table name.
func WithTable(name string) Option {
	return func(o *options) { o.table = name }
}

// WithLogger sets the logger for backend diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// New creates a Store on an open database and makes sure the history table
// exists. db.DriverName selects the SQL dialect.
func New(ctx context.Context, db *sqlx.DB, opts ...Option) (*Store, error) {
	o := options{table: DefaultTable, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	var d dialect

	switch db.DriverName() {
	case database.DriverMySQL:
		d = mysqlDialect
	case database.DriverSQLite:
		d = sqliteDialect
	default:
		return nil, migerr.StorageInit(fmt.Errorf("%w: %q", database.ErrUnsupportedDriver, db.DriverName()))
	}

	s := &Store{
		db:      db,
		dialect: d,
		table:   d.quote(o.table),
		owner:   uuid.NewString(),
		log:     o.log.WithFields(logrus.Fields{"storage": d.driver, "table": o.table}),
	}

	if err := s.EnsureTable(ctx); err != nil {
		return nil, migerr.StorageInit(err)
	}

	return s, nil
}

// Open connects with driver and dsn and creates a Store that closes the
// connection on End.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	db, err := database.Open(ctx, driver, dsn)
	if err != nil {
		return nil, migerr.StorageInit(err)
	}

	s, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	s.closeDB = true

	return s, nil
}

func (s *Store) q(format string) string {
	return fmt.Sprintf(format, s.table)
}

// EnsureTable creates the history table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.q(s.dialect.createTable)); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTableCreation, err)
	}

	return nil
}

// Lock implements storage.Storage. Rows are inserted in one transaction;
// the primary key decides which process owns each migration.
func (s *Store) Lock(ctx context.Context, migrations []migration.Migration) ([]migration.Migration, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning lock transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	locked := make([]migration.Migration, 0, len(migrations))
	now := time.Now().UTC()

	for _, m := range migrations {
		res, err := tx.ExecContext(ctx, s.q(s.dialect.lock), m.Name, now, s.owner)
		if err != nil {
			return nil, fmt.Errorf("locking migration %s: %w", m.Name, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("locking migration %s: %w", m.Name, err)
		}

		if n == 1 {
			locked = append(locked, m)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing lock transaction: %w", err)
	}

	s.log.WithField("locked", len(locked)).Debug("claimed migrations")

	return locked, nil
}

// Unlock implements storage.Storage.
func (s *Store) Unlock(ctx context.Context, migrations []migration.Migration) error {
	if len(migrations) == 0 {
		return nil
	}

	query, args, err := sqlx.In(s.q(unlockSQL), storage.Names(migrations), s.owner)
	if err != nil {
		return fmt.Errorf("building unlock query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("unlocking migrations: %w", err)
	}

	return nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, m migration.Migration) error {
	res, err := s.db.ExecContext(ctx, s.q(removeSQL), m.Name)
	if err != nil {
		return fmt.Errorf("removing migration %s: %w", m.Name, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("migration %s: %w", m.Name, storage.ErrEntryNotFound)
	}

	return nil
}

// History implements storage.Storage.
func (s *Store) History(ctx context.Context) iter.Seq2[migration.HistoryEntry, error] {
	return func(yield func(migration.HistoryEntry, error) bool) {
		rows, err := s.db.QueryxContext(ctx, s.q(historySQL))
		if err != nil {
			yield(migration.HistoryEntry{}, fmt.Errorf("querying migration history: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var r row
			if err := rows.StructScan(&r); err != nil {
				yield(migration.HistoryEntry{}, fmt.Errorf("scanning migration row: %w", err))
				return
			}

			entry := migration.HistoryEntry{
				Name:   r.Name,
				Status: migration.Status(r.Status),
				Date:   r.Date,
				Error:  r.Error,
			}

			if !yield(entry, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(migration.HistoryEntry{}, fmt.Errorf("reading migration history: %w", err))
		}
	}
}

// OnSuccess implements storage.Storage.
func (s *Store) OnSuccess(ctx context.Context, o migration.Outcome) error {
	return s.finish(ctx, o.Name, migration.StatusDone, sql.NullString{})
}

// OnError implements storage.Storage.
func (s *Store) OnError(ctx context.Context, o migration.Outcome, err error) error {
	return s.finish(ctx, o.Name, migration.StatusFailed, sql.NullString{String: migerr.Serialize(err), Valid: true})
}

// finish updates the locked row, inserting one when the migration was never
// locked through this table.
func (s *Store) finish(ctx context.Context, name string, status migration.Status, serialized sql.NullString) error {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.q(updateSQL), string(status), now, serialized, name)
	if err != nil {
		return fmt.Errorf("recording migration %s as %s: %w", name, status, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, s.q(insertSQL), name, string(status), now, serialized); err != nil {
		return fmt.Errorf("recording migration %s as %s: %w", name, status, err)
	}

	return nil
}

// End implements storage.Storage.
func (s *Store) End(_ context.Context) error {
	if !s.closeDB {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}

	return nil
}
