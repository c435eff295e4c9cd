// Package script runs shell migrations. The child process is not tied to
// the run context: an aborted run deserts it and the script keeps going.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-runner/internal/loader"
	"github.com/aqasim81/migration-runner/internal/migration"
)

// DefaultShell interprets migration scripts.
const DefaultShell = "/bin/sh"

// ErrNotRegularFile indicates a migration path that is not a plain file.
var ErrNotRegularFile = errors.New("migration is not a regular file")

// Loader runs .sh files with a shell.
type Loader struct {
	shell string
	env   []string
	log   logrus.FieldLogger
}

var (
	_ loader.Loader    = (*Loader)(nil)
	_ loader.Validator = (*Loader)(nil)
)

// Option configures a Loader.
type Option func(*Loader)

// WithShell sets the interpreter.
func WithShell(shell string) Option {
	return func(l *Loader) { l.shell = shell }
}

// WithEnv appends KEY=VALUE pairs to the script environment.
func WithEnv(env ...string) Option {
	return func(l *Loader) { l.env = append(l.env, env...) }
}

// WithLogger sets the logger that receives script output.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Loader) { l.log = log }
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{shell: DefaultShell, log: logrus.StandardLogger()}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Extensions implements loader.Loader.
func (l *Loader) Extensions() []string {
	return []string{".sh"}
}

// Validate implements loader.Validator.
func (l *Loader) Validate(_ context.Context, m migration.Migration) error {
	info, err := os.Stat(m.FilePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", m.RelativeFilePath, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", m.RelativeFilePath, ErrNotRegularFile)
	}

	return nil
}

// Load implements loader.Loader.
func (l *Loader) Load(ctx context.Context, m migration.Migration) (loader.Func, error) {
	if err := l.Validate(ctx, m); err != nil {
		return nil, err
	}

	return func(context.Context) error {
		var stderr bytes.Buffer

		stdout := l.log.WithField("migration", m.Name).WriterLevel(logrus.InfoLevel)
		defer stdout.Close()

		//nolint:gosec,noctx // running the migration file is the point; it must outlive an abort
		cmd := exec.Command(l.shell, m.FilePath)
		cmd.Dir = m.Cwd
		cmd.Env = append(os.Environ(), l.env...)
		cmd.Env = append(cmd.Env, "MIGRATION_NAME="+m.Name, "MIGRATION_FILE="+m.FilePath)
		cmd.Stdout = stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("%w: %s", err, msg)
			}

			return err
		}

		return nil
	}, nil
}
