package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List migrations and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runList(cmd.Context())
		},
	}
}

func (a *app) runList(ctx context.Context) error {
	return a.session(ctx, "list", false, func(ctx context.Context, s *session) error {
		return s.withStorage(ctx, func(st storage.Storage) error {
			history := st.History(context.WithoutCancel(ctx))

			var (
				outcomes []migration.Outcome
				failure  error
			)

			for o, err := range migration.Collect(s.cwd, s.cfg.Directory, history, nil) {
				if err != nil {
					return s.fail(ctx, err)
				}

				if !o.Finished() {
					o = o.WithStatus(migration.StatusPending)
				}

				if o.Status == migration.StatusFailed && failure == nil {
					failure = o.Err
				}

				outcomes = append(outcomes, o)
			}

			s.rep.OnCollectedMigrations(ctx, outcomes)

			for _, o := range outcomes {
				switch o.Status {
				case migration.StatusDone:
					s.rep.OnMigrationSuccess(ctx, o)
				case migration.StatusFailed:
					s.rep.OnMigrationError(ctx, o, o.Err)
				default:
					s.rep.OnMigrationSkip(ctx, o)
				}
			}

			s.rep.OnFinished(ctx, outcomes, failure)

			return failure
		})
	})
}
