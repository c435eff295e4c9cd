// Package reporter receives the timeline of a command. Reporters observe; they
// never influence control flow.
package reporter

import (
	"context"

	"github.com/aqasim81/migration-runner/internal/migration"
)

// Info describes the command being reported.
type Info struct {
	Command   string // "up", "list", "new" or "remove"
	Version   string
	Cwd       string
	Directory string
	Dry       bool
	RunID     string
}

// Reporter is notified of every state transition of a command, in order.
type Reporter interface {
	OnInit(ctx context.Context, info Info)
	OnAbort(ctx context.Context, reason error)
	OnCollectedMigrations(ctx context.Context, collected []migration.Outcome)
	OnLockedMigrations(ctx context.Context, locked []migration.Migration)
	OnNewMigration(ctx context.Context, m migration.Migration, content []byte)
	OnMigrationRemoveStart(ctx context.Context, m migration.Migration)
	OnMigrationRemoveSuccess(ctx context.Context, m migration.Migration)
	OnMigrationRemoveError(ctx context.Context, m migration.Migration, err error)
	OnMigrationStart(ctx context.Context, o migration.Outcome)
	OnMigrationSuccess(ctx context.Context, o migration.Outcome)
	OnMigrationError(ctx context.Context, o migration.Outcome, err error)
	OnMigrationSkip(ctx context.Context, o migration.Outcome)
	// OnFinished is called once per command. outcomes is nil when the
	// command failed before producing any.
	OnFinished(ctx context.Context, outcomes []migration.Outcome, err error)
}

// Base implements every Reporter method as a no-op. Embed it to implement
// only the callbacks you need.
type Base struct{}

var _ Reporter = Base{}

func (Base) OnInit(context.Context, Info)                                      {}
func (Base) OnAbort(context.Context, error)                                    {}
func (Base) OnCollectedMigrations(context.Context, []migration.Outcome)        {}
func (Base) OnLockedMigrations(context.Context, []migration.Migration)         {}
func (Base) OnNewMigration(context.Context, migration.Migration, []byte)       {}
func (Base) OnMigrationRemoveStart(context.Context, migration.Migration)       {}
func (Base) OnMigrationRemoveSuccess(context.Context, migration.Migration)     {}
func (Base) OnMigrationRemoveError(context.Context, migration.Migration, error) {}
func (Base) OnMigrationStart(context.Context, migration.Outcome)               {}
func (Base) OnMigrationSuccess(context.Context, migration.Outcome)             {}
func (Base) OnMigrationError(context.Context, migration.Outcome, error)        {}
func (Base) OnMigrationSkip(context.Context, migration.Outcome)                {}
func (Base) OnFinished(context.Context, []migration.Outcome, error)            {}

// Multi fans every callback out to each reporter in order.
type Multi []Reporter

var _ Reporter = Multi{}

func (m Multi) OnInit(ctx context.Context, info Info) {
	for _, r := range m {
		r.OnInit(ctx, info)
	}
}

func (m Multi) OnAbort(ctx context.Context, reason error) {
	for _, r := range m {
		r.OnAbort(ctx, reason)
	}
}

func (m Multi) OnCollectedMigrations(ctx context.Context, collected []migration.Outcome) {
	for _, r := range m {
		r.OnCollectedMigrations(ctx, collected)
	}
}

func (m Multi) OnLockedMigrations(ctx context.Context, locked []migration.Migration) {
	for _, r := range m {
		r.OnLockedMigrations(ctx, locked)
	}
}

func (m Multi) OnNewMigration(ctx context.Context, mig migration.Migration, content []byte) {
	for _, r := range m {
		r.OnNewMigration(ctx, mig, content)
	}
}

func (m Multi) OnMigrationRemoveStart(ctx context.Context, mig migration.Migration) {
	for _, r := range m {
		r.OnMigrationRemoveStart(ctx, mig)
	}
}

func (m Multi) OnMigrationRemoveSuccess(ctx context.Context, mig migration.Migration) {
	for _, r := range m {
		r.OnMigrationRemoveSuccess(ctx, mig)
	}
}

func (m Multi) OnMigrationRemoveError(ctx context.Context, mig migration.Migration, err error) {
	for _, r := range m {
		r.OnMigrationRemoveError(ctx, mig, err)
	}
}

func (m Multi) OnMigrationStart(ctx context.Context, o migration.Outcome) {
	for _, r := range m {
		r.OnMigrationStart(ctx, o)
	}
}

func (m Multi) OnMigrationSuccess(ctx context.Context, o migration.Outcome) {
	for _, r := range m {
		r.OnMigrationSuccess(ctx, o)
	}
}

func (m Multi) OnMigrationError(ctx context.Context, o migration.Outcome, err error) {
	for _, r := range m {
		r.OnMigrationError(ctx, o, err)
	}
}

func (m Multi) OnMigrationSkip(ctx context.Context, o migration.Outcome) {
	for _, r := range m {
		r.OnMigrationSkip(ctx, o)
	}
}

func (m Multi) OnFinished(ctx context.Context, outcomes []migration.Outcome, err error) {
	for _, r := range m {
		r.OnFinished(ctx, outcomes, err)
	}
}
