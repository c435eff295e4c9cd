// Package sqlfile loads .sql migrations and runs them on PostgreSQL.
// Files are parsed before they run, so syntax errors fail validation
// instead of a half-applied run.
package sqlfile

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-runner/internal/loader"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/parser"
)

// Loader runs .sql files through a pgx pool.
type Loader struct {
	pool             *pgxpool.Pool
	lockTimeout      time.Duration
	statementTimeout time.Duration
	log              logrus.FieldLogger
}

var (
	_ loader.Loader    = (*Loader)(nil)
	_ loader.Validator = (*Loader)(nil)
)

// Option configures a Loader.
type Option func(*Loader)

// WithLockTimeout sets lock_timeout for transactional migrations.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Loader) { l.lockTimeout = d }
}

// WithStatementTimeout sets statement_timeout for transactional migrations.
func WithStatementTimeout(d time.Duration) Option {
	return func(l *Loader) { l.statementTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Loader) { l.log = log }
}

// New creates a Loader on pool.
func New(pool *pgxpool.Pool, opts ...Option) *Loader {
	l := &Loader{pool: pool, log: logrus.StandardLogger()}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Extensions implements loader.Loader.
func (l *Loader) Extensions() []string {
	return []string{".sql"}
}

// Validate implements loader.Validator.
func (l *Loader) Validate(_ context.Context, m migration.Migration) error {
	_, err := parseFile(m)

	return err
}

// Load implements loader.Loader.
func (l *Loader) Load(_ context.Context, m migration.Migration) (loader.Func, error) {
	parsed, err := parseFile(m)
	if err != nil {
		return nil, err
	}

	log := l.log.WithField("migration", m.Name)

	if parsed.RequiresNoTransaction() || parsed.HasTransactionControl() {
		return func(ctx context.Context) error {
			log.Debug("executing outside transaction")

			return execWithoutTransaction(ctx, l.pool, parsed.SQL)
		}, nil
	}

	return func(ctx context.Context) error {
		log.Debug("executing in transaction")

		return execInTransaction(ctx, l.pool, func(tx pgx.Tx) error {
			if l.lockTimeout > 0 {
				if err := setLocalTimeout(ctx, tx, "lock_timeout", l.lockTimeout); err != nil {
					return err
				}
			}

			if l.statementTimeout > 0 {
				if err := setLocalTimeout(ctx, tx, "statement_timeout", l.statementTimeout); err != nil {
					return err
				}
			}

			if _, err := tx.Exec(ctx, parsed.SQL); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}

			return nil
		})
	}, nil
}

func parseFile(m migration.Migration) (*parser.ParseResult, error) {
	content, err := os.ReadFile(m.FilePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.RelativeFilePath, err)
	}

	parsed, err := parser.Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.RelativeFilePath, err)
	}

	return parsed, nil
}
