package sqlfile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execInTransaction runs fn inside a database transaction.
// On success the transaction is committed; on error it is rolled back.
func execInTransaction(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // rollback on committed tx returns ErrTxClosed

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// execWithoutTransaction executes SQL directly on the pool. Statements such
// as CREATE INDEX CONCURRENTLY cannot run inside a transaction block.
func execWithoutTransaction(ctx context.Context, pool *pgxpool.Pool, sql string) error {
	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("executing outside transaction: %w", err)
	}

	return nil
}

// setLocalTimeout sets a timeout setting for the rest of tx only.
func setLocalTimeout(ctx context.Context, tx pgx.Tx, setting string, timeout time.Duration) error {
	sql := fmt.Sprintf("SET LOCAL %s = '%dms'", setting, timeout.Milliseconds())

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("setting %s: %w", setting, err)
	}

	return nil
}
