// Package storage defines the contract between the migration runner and a
// backend that records migration history and arbitrates which process owns
// a migration.
package storage

import (
	"context"
	"errors"
	"iter"

	"github.com/aqasim81/migration-runner/internal/migration"
)

// ErrEntryNotFound indicates Remove was called for a migration without history.
var ErrEntryNotFound = errors.New("migration history entry not found")

// ErrTableCreation indicates a backend could not create its history table.
var ErrTableCreation = errors.New("creating migration history table")

// Storage is implemented once per backend. All methods may be called with a
// context that is never cancelled; implementations must not rely on
// cancellation to release resources.
type Storage interface {
	// Lock claims every given migration that no other process has locked or
	// finished, and returns the subset now owned by the caller. The claim
	// for one call must be atomic with respect to other callers.
	Lock(ctx context.Context, migrations []migration.Migration) ([]migration.Migration, error)

	// Unlock releases migrations that are still locked by the caller.
	// Finished migrations are left untouched. Calling it twice is harmless.
	Unlock(ctx context.Context, migrations []migration.Migration) error

	// Remove deletes the history entry of a migration.
	Remove(ctx context.Context, m migration.Migration) error

	// History yields every non-locked entry, oldest first. Failed entries
	// carry their serialized error.
	History(ctx context.Context) iter.Seq2[migration.HistoryEntry, error]

	// OnSuccess records a locked migration as done.
	OnSuccess(ctx context.Context, o migration.Outcome) error

	// OnError records a locked migration as failed with err.
	OnError(ctx context.Context, o migration.Outcome, err error) error

	// End releases backend resources. It is called exactly once per command.
	End(ctx context.Context) error
}

// Names returns the names of migrations, preserving order.
func Names(migrations []migration.Migration) []string {
	names := make([]string, len(migrations))
	for i, m := range migrations {
		names[i] = m.Name
	}

	return names
}
