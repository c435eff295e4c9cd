// Package postgres stores migration history in a PostgreSQL table. Lock
// claims are serialized with a transaction-level advisory lock.
package postgres

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-runner/internal/database"
	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
)

// DefaultTable is the history table used when no other is configured.
const DefaultTable = "migrations"

// Store implements storage.Storage on PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	tableName string
	table     string // quoted identifier
	key       int64
	owner     string
	closePool bool
	log       logrus.FieldLogger
}

var _ storage.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTable sets the history table, optionally schema qualified.
func WithTable(name string) Option {
	return func(s *Store) { s.tableName = name }
}

// WithLogger sets the logger for backend diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a Store on an existing pool and makes sure the history table
// exists. The pool stays owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	s := &Store{
		pool:      pool,
		tableName: DefaultTable,
		owner:     uuid.NewString(),
		log:       logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.table = pgx.Identifier(strings.Split(s.tableName, ".")).Sanitize()
	s.key = database.LockKey(s.tableName)
	s.log = s.log.WithFields(logrus.Fields{"storage": "postgres", "table": s.tableName})

	if err := s.EnsureTable(ctx); err != nil {
		return nil, migerr.StorageInit(err)
	}

	return s, nil
}

// Open connects to databaseURL and creates a Store that closes the pool on End.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	pool, err := database.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, migerr.StorageInit(err)
	}

	s, err := New(ctx, pool, opts...)
	if err != nil {
		pool.Close()

		return nil, err
	}

	s.closePool = true

	return s, nil
}

// EnsureTable creates the history table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(createTableSQL, s.table))
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTableCreation, err)
	}

	return nil
}

// Lock implements storage.Storage.
func (s *Store) Lock(ctx context.Context, migrations []migration.Migration) ([]migration.Migration, error) {
	locked := make([]migration.Migration, 0, len(migrations))

	err := database.WithXactLock(ctx, s.pool, s.key, func(tx pgx.Tx) error {
		query := fmt.Sprintf(lockSQL, s.table)

		for _, m := range migrations {
			tag, err := tx.Exec(ctx, query, m.Name, s.owner)
			if err != nil {
				return fmt.Errorf("locking migration %s: %w", m.Name, err)
			}

			if tag.RowsAffected() == 1 {
				locked = append(locked, m)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("locked", len(locked)).Debug("claimed migrations")

	return locked, nil
}

// Unlock implements storage.Storage.
func (s *Store) Unlock(ctx context.Context, migrations []migration.Migration) error {
	if len(migrations) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(unlockSQL, s.table), storage.Names(migrations), s.owner)
	if err != nil {
		return fmt.Errorf("unlocking migrations: %w", err)
	}

	s.log.WithField("released", tag.RowsAffected()).Debug("released migrations")

	return nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, m migration.Migration) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(removeSQL, s.table), m.Name)
	if err != nil {
		return fmt.Errorf("removing migration %s: %w", m.Name, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("migration %s: %w", m.Name, storage.ErrEntryNotFound)
	}

	return nil
}

// History implements storage.Storage. Rows are streamed while the caller
// iterates.
func (s *Store) History(ctx context.Context) iter.Seq2[migration.HistoryEntry, error] {
	return func(yield func(migration.HistoryEntry, error) bool) {
		rows, err := s.pool.Query(ctx, fmt.Sprintf(historySQL, s.table))
		if err != nil {
			yield(migration.HistoryEntry{}, fmt.Errorf("querying migration history: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e      migration.HistoryEntry
				status string
			)

			if err := rows.Scan(&e.Name, &status, &e.Date, &e.Error); err != nil {
				yield(migration.HistoryEntry{}, fmt.Errorf("scanning migration row: %w", err))
				return
			}

			e.Status = migration.Status(status)

			if !yield(e, nil) {
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
	return s.finish(ctx, o.Name, migration.StatusDone, nil)
}

// OnError implements storage.Storage.
func (s *Store) OnError(ctx context.Context, o migration.Outcome, err error) error {
	return s.finish(ctx, o.Name, migration.StatusFailed, migerr.Serialize(err))
}

func (s *Store) finish(ctx context.Context, name string, status migration.Status, serialized any) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(finishSQL, s.table), name, string(status), time.Now().UTC(), serialized)
	if err != nil {
		return fmt.Errorf("recording migration %s as %s: %w", name, status, err)
	}

	return nil
}

// End implements storage.Storage.
func (s *Store) End(_ context.Context) error {
	if s.closePool {
		s.pool.Close()
	}

	return nil
}
