// Package executor runs collected migrations against a Storage: it
// validates and locks the migrations it intends to run, executes them one at
// a time and reports every transition.
package executor

import (
	"context"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/reporter"
	"github.com/aqasim81/migration-runner/internal/storage"
)

// ValidateFunc checks that a migration can be loaded without running it.
type ValidateFunc func(ctx context.Context, m migration.Migration) error

// ExecuteFunc runs a migration.
type ExecuteFunc func(ctx context.Context, m migration.Migration) error

// Executor holds the configuration of migration runs. It keeps no state
// between runs and may be reused.
type Executor struct {
	store        storage.Storage
	reporter     reporter.Reporter
	dryRun       bool
	limit        int
	from         string
	to           string
	abortRespite time.Duration
	validate     ValidateFunc
	execute      ExecuteFunc
	now          func() time.Time
	log          logrus.FieldLogger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDryRun reports what would run without locking or executing anything.
func WithDryRun(b bool) Option {
	return func(e *Executor) { e.dryRun = b }
}

// WithLimit caps how many pending migrations a run executes. Zero or less
// means no limit.
func WithLimit(n int) Option {
	return func(e *Executor) { e.limit = n }
}

// WithFrom skips pending migrations whose name sorts before name.
func WithFrom(name string) Option {
	return func(e *Executor) { e.from = boundaryName(name) }
}

// WithTo skips pending migrations whose name sorts after name.
func WithTo(name string) Option {
	return func(e *Executor) { e.to = boundaryName(name) }
}

// WithAbortRespite sets how long an aborted run waits for in-flight work.
// A zero respite also gives up on releasing locks after an abort.
func WithAbortRespite(d time.Duration) Option {
	return func(e *Executor) { e.abortRespite = d }
}

// WithValidate sets the validation callback.
func WithValidate(fn ValidateFunc) Option {
	return func(e *Executor) { e.validate = fn }
}

// WithExecute sets the execution callback.
func WithExecute(fn ExecuteFunc) Option {
	return func(e *Executor) { e.execute = fn }
}

// WithLogger sets the logger for run diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) { e.log = l }
}

// New creates an Executor for store. A nil reporter discards events.
func New(store storage.Storage, rep reporter.Reporter, opts ...Option) *Executor {
	e := &Executor{
		store:        store,
		reporter:     rep,
		abortRespite: DefaultAbortRespite,
		now:          time.Now,
		log:          logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.reporter == nil {
		e.reporter = reporter.Base{}
	}

	if e.validate == nil {
		e.validate = func(context.Context, migration.Migration) error { return nil }
	}

	if e.execute == nil {
		e.execute = func(context.Context, migration.Migration) error { return ErrNoExecute }
	}

	return e
}

// Run consumes the collected sequence once and returns the outcome of every
// migration in sequence order together with the single error of the run.
//
// Cancelling ctx aborts the run: no further migration starts, and in-flight
// storage locking or migration execution is deserted after the abort
// respite. Collaborators are called with a context that is not cancelled.
//
// A sequence error or a failure to record an outcome ends the run early;
// Run then returns nil outcomes and that error.
func (e *Executor) Run(ctx context.Context, seq iter.Seq2[migration.Outcome, error]) ([]migration.Outcome, error) {
	r := &run{
		Executor: e,
		abortCtx: ctx,
		ctx:      context.WithoutCancel(ctx),
		dry:      e.dryRun,
	}

	return r.do(seq)
}

// boundaryName reduces a path given for --from or --to to a migration name.
func boundaryName(s string) string {
	if strings.ContainsAny(s, `/\`) {
		return filepath.Base(filepath.FromSlash(s))
	}

	return s
}
