//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-runner/internal/database"
	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
	"github.com/aqasim81/migration-runner/internal/storage/postgres"
	"github.com/aqasim81/migration-runner/internal/storage/redis"
	"github.com/aqasim81/migration-runner/internal/storage/sqldb"
)

// opener returns a new session on the backend under test. Sessions created
// with the same namespace share history but own separate locks.
type opener func(t *testing.T, namespace string) storage.Storage

func TestStorage_postgres(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)

	runStorageContract(t, func(t *testing.T, namespace string) storage.Storage {
		t.Helper()

		s, err := postgres.New(context.Background(), pool, postgres.WithTable(namespace))
		require.NoError(t, err)

		return s
	})
}

func TestStorage_mysql(t *testing.T) {
	t.Parallel()

	db, err := database.Open(context.Background(), database.DriverMySQL, SetupMySQL(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runStorageContract(t, func(t *testing.T, namespace string) storage.Storage {
		t.Helper()

		s, err := sqldb.New(context.Background(), db, sqldb.WithTable(namespace))
		require.NoError(t, err)

		return s
	})
}

func TestStorage_redis(t *testing.T) {
	t.Parallel()

	url := SetupRedis(t)

	runStorageContract(t, func(t *testing.T, namespace string) storage.Storage {
		t.Helper()

		s, err := redis.Open(context.Background(), url, redis.WithPrefix(namespace))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.End(context.Background()) })

		return s
	})
}

func named(names ...string) []migration.Migration {
	ms := make([]migration.Migration, len(names))
	for i, n := range names {
		ms[i] = migration.New("/app", "migrations", n)
	}

	return ms
}

func readHistory(t *testing.T, s storage.Storage) []migration.HistoryEntry {
	t.Helper()

	var out []migration.HistoryEntry

	for e, err := range s.History(context.Background()) {
		require.NoError(t, err)

		out = append(out, e)
	}

	return out
}

func runStorageContract(t *testing.T, open opener) {
	t.Helper()

	t.Run("lock is exclusive and hidden from history", func(t *testing.T) {
		ctx := context.Background()
		first := open(t, "lock_exclusive")
		second := open(t, "lock_exclusive")
		all := named("001_a.sql", "002_b.sql", "003_c.sql")

		locked, err := first.Lock(ctx, all[:2])
		require.NoError(t, err)
		assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, storage.Names(locked))

		locked, err = second.Lock(ctx, all)
		require.NoError(t, err)
		assert.Equal(t, []string{"003_c.sql"}, storage.Names(locked))

		assert.Empty(t, readHistory(t, first))
	})

	t.Run("finished entries survive unlock", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, "finish")
		all := named("001_a.sql", "002_b.sql", "003_c.sql")

		_, err := s.Lock(ctx, all)
		require.NoError(t, err)

		require.NoError(t, s.OnSuccess(ctx, migration.Untagged(all[0]).Done(0)))

		runErr := migerr.MigrationRun(all[1].RelativeFilePath, errors.New("relation \"users\" already exists"))
		require.NoError(t, s.OnError(ctx, migration.Untagged(all[1]).Failed(0, runErr), runErr))

		require.NoError(t, s.Unlock(ctx, all))
		require.NoError(t, s.Unlock(ctx, all), "unlock twice")

		got := readHistory(t, s)
		require.Len(t, got, 2)
		assert.Equal(t, "001_a.sql", got[0].Name)
		assert.Equal(t, migration.StatusDone, got[0].Status)
		assert.False(t, got[0].Date.IsZero())
		require.NoError(t, got[0].Err())

		assert.Equal(t, "002_b.sql", got[1].Name)
		assert.Equal(t, migration.StatusFailed, got[1].Status)
		require.ErrorIs(t, got[1].Err(), migerr.ErrMigrationRun)
		assert.Contains(t, got[1].Err().Error(), "already exists")

		locked, err := s.Lock(ctx, all)
		require.NoError(t, err)
		assert.Equal(t, []string{"003_c.sql"}, storage.Names(locked))
	})

	t.Run("unlock only releases own claims", func(t *testing.T) {
		ctx := context.Background()
		owner := open(t, "owner")
		other := open(t, "owner")
		all := named("001_a.sql")

		_, err := owner.Lock(ctx, all)
		require.NoError(t, err)

		require.NoError(t, other.Unlock(ctx, all))

		locked, err := other.Lock(ctx, all)
		require.NoError(t, err)
		assert.Empty(t, locked)

		require.NoError(t, owner.Unlock(ctx, all))

		locked, err = other.Lock(ctx, all)
		require.NoError(t, err)
		assert.Len(t, locked, 1)
	})

	t.Run("remove", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, "remove")
		m := named("001_a.sql")[0]

		require.NoError(t, s.OnSuccess(ctx, migration.Untagged(m).Done(0)))
		require.NoError(t, s.Remove(ctx, m))
		assert.Empty(t, readHistory(t, s))

		require.ErrorIs(t, s.Remove(ctx, m), storage.ErrEntryNotFound)
	})

	t.Run("concurrent lock claims each migration once", func(t *testing.T) {
		ctx := context.Background()
		all := named("001_a.sql", "002_b.sql", "003_c.sql", "004_d.sql", "005_e.sql")

		const sessions = 6

		stores := make([]storage.Storage, sessions)
		for i := range stores {
			stores[i] = open(t, "concurrent")
		}

		var (
			mu     sync.Mutex
			claims = map[string]int{}
			wg     sync.WaitGroup
		)

		for _, s := range stores {
			wg.Add(1)

			go func() {
				defer wg.Done()

				locked, err := s.Lock(ctx, all)
				assert.NoError(t, err)

				mu.Lock()
				defer mu.Unlock()

				for _, m := range locked {
					claims[m.Name]++
				}
			}()
		}

		wg.Wait()

		for _, m := range all {
			assert.Equal(t, 1, claims[m.Name], fmt.Sprintf("claims of %s", m.Name))
		}
	})
}
