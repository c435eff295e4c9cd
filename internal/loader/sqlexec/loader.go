// Package sqlexec runs .sql migrations through database/sql. It serves the
// MySQL and SQLite plugins.
package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-runner/internal/loader"
	"github.com/aqasim81/migration-runner/internal/migration"
)

// ErrEmptyMigration indicates a migration file without statements.
var ErrEmptyMigration = errors.New("migration file is empty")

// Loader executes .sql files with sqlx.
type Loader struct {
	db  *sqlx.DB
	log logrus.FieldLogger
}

var (
	_ loader.Loader    = (*Loader)(nil)
	_ loader.Validator = (*Loader)(nil)
)

// New creates a Loader on db.
func New(db *sqlx.DB, log logrus.FieldLogger) *Loader {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Loader{db: db, log: log}
}

// Extensions implements loader.Loader.
func (l *Loader) Extensions() []string {
	return []string{".sql"}
}

// Validate implements loader.Validator.
func (l *Loader) Validate(_ context.Context, m migration.Migration) error {
	_, err := readStatements(m)

	return err
}

// Load implements loader.Loader. The file runs in one transaction; MySQL
// commits DDL implicitly, so only DML is rolled back there on failure.
func (l *Loader) Load(_ context.Context, m migration.Migration) (loader.Func, error) {
	content, err := readStatements(m)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		l.log.WithFields(logrus.Fields{"migration": m.Name, "driver": l.db.DriverName()}).Debug("executing migration")

		tx, err := l.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}

		defer tx.Rollback() //nolint:errcheck // rollback on committed tx returns ErrTxDone

		if _, err := tx.ExecContext(ctx, content); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}

		return nil
	}, nil
}

func readStatements(m migration.Migration) (string, error) {
	content, err := os.ReadFile(m.FilePath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", m.RelativeFilePath, err)
	}

	if strings.TrimSpace(string(content)) == "" {
		return "", fmt.Errorf("%s: %w", m.RelativeFilePath, ErrEmptyMigration)
	}

	return string(content), nil
}
