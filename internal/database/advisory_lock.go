package database

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
)

// LockKey derives the advisory lock identifier for a history table, so that
// runners sharing a table serialize their lock claims while runners using
// different tables do not contend.
func LockKey(table string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("migration-runner:" + table))

	return int64(h.Sum64()) //nolint:gosec // wrap-around is fine for a lock key
}

// AcquireXactLock blocks until the transaction-level advisory lock for key is
// held. The lock is released when tx commits or rolls back.
func AcquireXactLock(ctx context.Context, tx pgx.Tx, key int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return fmt.Errorf("%w: %w", ErrLockNotAcquired, err)
	}

	return nil
}

// TxBeginner is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithXactLock runs fn inside a transaction that holds the advisory lock for
// key. The transaction commits when fn returns nil and rolls back otherwise.
func WithXactLock(ctx context.Context, beginner TxBeginner, key int64, fn func(tx pgx.Tx) error) error {
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if err := AcquireXactLock(ctx, tx, key); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
