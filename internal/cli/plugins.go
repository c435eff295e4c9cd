package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/aqasim81/migration-runner/internal/config"
	"github.com/aqasim81/migration-runner/internal/database"
	"github.com/aqasim81/migration-runner/internal/loader"
	"github.com/aqasim81/migration-runner/internal/loader/script"
	"github.com/aqasim81/migration-runner/internal/loader/sqlexec"
	"github.com/aqasim81/migration-runner/internal/loader/sqlfile"
	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/reporter"
	"github.com/aqasim81/migration-runner/internal/storage"
	"github.com/aqasim81/migration-runner/internal/storage/postgres"
	"github.com/aqasim81/migration-runner/internal/storage/redis"
	"github.com/aqasim81/migration-runner/internal/storage/sqldb"
)

// Plugin names accepted by --storage, --plugin and --reporter.
const (
	pluginPostgres = "postgres"
	pluginMySQL    = "mysql"
	pluginSQLite   = "sqlite"
	pluginRedis    = "redis"
	pluginScript   = "script"

	reporterPretty = "pretty"
	reporterJSON   = "json"
)

// sqlDrivers maps SQL plugin names to database/sql driver names.
var sqlDrivers = map[string]string{ //nolint:gochecknoglobals // read-only lookup table
	pluginMySQL:  database.DriverMySQL,
	pluginSQLite: database.DriverSQLite,
}

// connections opens database handles on first use so the storage and the
// loader plugins share them.
type connections struct {
	cfg  *config.Config
	log  logrus.FieldLogger
	pool *pgxpool.Pool
	dbs  map[string]*sqlx.DB
}

func newConnections(cfg *config.Config, log logrus.FieldLogger) *connections {
	return &connections{cfg: cfg, log: log, dbs: make(map[string]*sqlx.DB)}
}

func (c *connections) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}

	if c.cfg.DatabaseURL == "" {
		return nil, migerr.MissingOption("database-url")
	}

	c.log.WithField("url", config.RedactURL(c.cfg.DatabaseURL)).Debug("connecting to postgres")

	pool, err := database.NewPool(ctx, c.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	c.pool = pool

	return pool, nil
}

func (c *connections) sql(ctx context.Context, driver string) (*sqlx.DB, error) {
	if db, ok := c.dbs[driver]; ok {
		return db, nil
	}

	if c.cfg.DatabaseURL == "" {
		return nil, migerr.MissingOption("database-url")
	}

	c.log.WithFields(logrus.Fields{
		"driver": driver,
		"dsn":    config.RedactURL(c.cfg.DatabaseURL),
	}).Debug("connecting")

	db, err := database.Open(ctx, driver, c.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	c.dbs[driver] = db

	return db, nil
}

// Close closes every handle opened so far.
func (c *connections) Close() {
	if c.pool != nil {
		c.pool.Close()
	}

	for driver, db := range c.dbs {
		if err := db.Close(); err != nil {
			c.log.WithError(err).WithField("driver", driver).Warn("closing database")
		}
	}
}

// storageOpener creates the Storage named by cfg.Storage.
type storageOpener func(ctx context.Context, cfg *config.Config, conns *connections, log logrus.FieldLogger) (storage.Storage, error)

func openStorage(ctx context.Context, cfg *config.Config, conns *connections, log logrus.FieldLogger) (storage.Storage, error) {
	s, err := newStorage(ctx, cfg, conns, log)
	if err != nil {
		if migerr.IsStructured(err) {
			return nil, err
		}

		return nil, migerr.StorageInit(err)
	}

	return s, nil
}

func newStorage(ctx context.Context, cfg *config.Config, conns *connections, log logrus.FieldLogger) (storage.Storage, error) {
	switch cfg.Storage {
	case pluginPostgres:
		pool, err := conns.postgres(ctx)
		if err != nil {
			return nil, err
		}

		s, err := postgres.New(ctx, pool, postgres.WithTable(cfg.Table), postgres.WithLogger(log))
		if err != nil {
			return nil, err
		}

		return s, nil
	case pluginMySQL, pluginSQLite:
		db, err := conns.sql(ctx, sqlDrivers[cfg.Storage])
		if err != nil {
			return nil, err
		}

		s, err := sqldb.New(ctx, db, sqldb.WithTable(cfg.Table), sqldb.WithLogger(log))
		if err != nil {
			return nil, err
		}

		return s, nil
	case pluginRedis:
		if cfg.RedisURL == "" {
			return nil, migerr.MissingOption("redis-url")
		}

		s, err := redis.Open(ctx, cfg.RedisURL, redis.WithPrefix(cfg.RedisPrefix), redis.WithLogger(log))
		if err != nil {
			return nil, err
		}

		return s, nil
	default:
		return nil, migerr.BadOption("storage", "Unknown storage plugin: "+cfg.Storage)
	}
}

// loaderNames returns the configured loader plugins, or the loader matching
// the storage backend followed by the script loader.
func loaderNames(cfg *config.Config) []string {
	if len(cfg.Plugins) > 0 {
		return cfg.Plugins
	}

	switch cfg.Storage {
	case pluginPostgres, pluginMySQL, pluginSQLite:
		return []string{cfg.Storage, pluginScript}
	default:
		return []string{pluginScript}
	}
}

// checkLoaders rejects unknown loader plugin names before anything connects.
func checkLoaders(names []string) error {
	for _, name := range names {
		switch name {
		case pluginPostgres, pluginMySQL, pluginSQLite, pluginScript:
		default:
			return migerr.BadOption("plugin", "Unknown loader plugin: "+name)
		}
	}

	return nil
}

func buildLoaders(ctx context.Context, cfg *config.Config, conns *connections, log logrus.FieldLogger) (*loader.Set, error) {
	names := loaderNames(cfg)
	if err := checkLoaders(names); err != nil {
		return nil, err
	}

	loaders := make([]loader.Loader, 0, len(names))

	for _, name := range names {
		l, err := newLoader(ctx, name, cfg, conns, log)
		if err != nil {
			return nil, fmt.Errorf("loader plugin %s: %w", name, err)
		}

		loaders = append(loaders, l)
	}

	return loader.NewSet(loaders...), nil
}

func newLoader(ctx context.Context, name string, cfg *config.Config, conns *connections, log logrus.FieldLogger) (loader.Loader, error) {
	log = log.WithField("plugin", name)

	switch name {
	case pluginPostgres:
		pool, err := conns.postgres(ctx)
		if err != nil {
			return nil, err
		}

		return sqlfile.New(pool,
			sqlfile.WithLockTimeout(cfg.LockTimeout),
			sqlfile.WithStatementTimeout(cfg.StatementTimeout),
			sqlfile.WithLogger(log),
		), nil
	case pluginMySQL, pluginSQLite:
		db, err := conns.sql(ctx, sqlDrivers[name])
		if err != nil {
			return nil, err
		}

		return sqlexec.New(db, log), nil
	default:
		return script.New(script.WithLogger(log)), nil
	}
}

// newReporter builds the reporter named by name, wrapped for tracing when tp
// is set.
func newReporter(name string, out io.Writer, tp trace.TracerProvider) (reporter.Reporter, error) {
	var rep reporter.Reporter

	switch name {
	case reporterPretty:
		rep = reporter.NewPretty(out)
	case reporterJSON:
		rep = reporter.NewJSON(out)
	default:
		return nil, migerr.BadOption("reporter", "Unknown reporter plugin: "+name)
	}

	if tp != nil {
		rep = reporter.NewTracing(rep, tp)
	}

	return rep, nil
}
