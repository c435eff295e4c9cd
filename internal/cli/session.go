package cli

import (
	"context"

	"github.com/google/uuid"

	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/reporter"
	"github.com/aqasim81/migration-runner/internal/storage"
)

// session is one reported command invocation.
type session struct {
	*app

	rep   reporter.Reporter
	conns *connections
}

// finishWatch marks the app as reported when the command's final error has
// been shown.
type finishWatch struct {
	reporter.Reporter

	app *app
}

func (f finishWatch) OnFinished(ctx context.Context, outcomes []migration.Outcome, err error) {
	f.Reporter.OnFinished(ctx, outcomes, err)

	if err != nil {
		f.app.reported = true
	}
}

// session starts reporting command and runs fn. Database handles opened
// during fn are closed when it returns.
func (a *app) session(ctx context.Context, command string, dry bool, fn func(ctx context.Context, s *session) error) error {
	tp, shutdown, err := a.newTracer(ctx, a.cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			a.log.WithError(err).Warn("flushing traces")
		}
	}()

	rep, err := newReporter(a.cfg.Reporter, a.out, tp)
	if err != nil {
		return err
	}

	s := &session{
		app:   a,
		rep:   finishWatch{Reporter: rep, app: a},
		conns: newConnections(a.cfg, a.log),
	}
	defer s.conns.Close()

	s.rep.OnInit(ctx, reporter.Info{
		Command:   command,
		Version:   version,
		Cwd:       a.cwd,
		Directory: a.cfg.Directory,
		Dry:       dry,
		RunID:     uuid.NewString(),
	})

	return fn(ctx, s)
}

// fail reports an error that ended the command before it produced outcomes.
func (s *session) fail(ctx context.Context, err error) error {
	s.rep.OnFinished(ctx, nil, err)

	return err
}

// withStorage opens the configured storage, runs fn and ends the storage.
func (s *session) withStorage(ctx context.Context, fn func(st storage.Storage) error) error {
	st, err := s.openStorage(ctx, s.cfg, s.conns, s.log)
	if err != nil {
		return s.fail(ctx, err)
	}

	defer func() {
		if err := st.End(context.WithoutCancel(ctx)); err != nil {
			s.log.WithError(err).Warn("closing storage")
		}
	}()

	return fn(st)
}
