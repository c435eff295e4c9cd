//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-runner/internal/database"
)

func TestNewPool_validConnection_succeeds(t *testing.T) {
	t.Parallel()

	dsn := SetupPostgresDSN(t)
	ctx := context.Background()

	pool, err := database.NewPool(ctx, dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
	})

	var result int

	err = pool.QueryRow(ctx, "SELECT 1").Scan(&result)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestOpen_mysqlNormalizesDSN(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, err := database.Open(ctx, database.DriverMySQL, SetupMySQL(t))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	var got []int
	require.NoError(t, db.SelectContext(ctx, &got, "SELECT 1 UNION ALL SELECT 2"))
	assert.Equal(t, []int{1, 2}, got)

	_, err = db.ExecContext(ctx, "CREATE TABLE t1 (id INT); CREATE TABLE t2 (id INT)")
	require.NoError(t, err, "multi statements are enabled")
}
