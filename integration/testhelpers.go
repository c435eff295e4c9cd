//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	mysqlImage    = "mysql:8.4"
	redisImage    = "redis:7-alpine"
	testDB        = "migrate_test"
	testUser      = "migrate"
	testPassword  = "migrate"
)

// startContainer starts req and terminates it when the test completes. It
// returns the host and the mapped port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) (string, string) {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)

	return host, mapped.Port()
}

// SetupPostgresDSN starts a PostgreSQL 16 container and returns its URL.
func SetupPostgresDSN(t *testing.T) string {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDB,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", testUser, testPassword, host, port, testDB)
}

// SetupPostgres starts a PostgreSQL container and returns a pool closed
// when the test completes.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, SetupPostgresDSN(t))
	require.NoError(t, err)

	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))

	return pool
}

// SetupMySQL starts a MySQL 8 container and returns a go-sql-driver DSN.
func SetupMySQL(t *testing.T) string {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      testDB,
			"MYSQL_USER":          testUser,
			"MYSQL_PASSWORD":      testPassword,
			"MYSQL_ROOT_PASSWORD": testPassword,
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").
			WithStartupTimeout(120 * time.Second),
	}, "3306/tcp")

	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", testUser, testPassword, host, port, testDB)
}

// SetupRedis starts a Redis 7 container and returns its URL.
func SetupRedis(t *testing.T) string {
	t.Helper()

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")

	return fmt.Sprintf("redis://%s:%s/0", host, port)
}
