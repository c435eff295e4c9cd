package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
)

func newRemoveCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "remove <name|path>",
		Short: "Remove a migration from the history",
		Long: `Remove the history entry of a migration so it runs again. Failed entries
are always removed; entries of successful migrations need --force.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return migerr.MissingArguments("name")
			}

			if len(args) > 1 {
				return migerr.Usage(fmt.Sprintf("remove takes one migration, got %d", len(args)))
			}

			return a.runRemove(cmd.Context(), args[0], force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "also remove migrations that ran successfully")

	return cmd
}

func (a *app) runRemove(ctx context.Context, nameOrPath string, force bool) error {
	return a.session(ctx, "remove", false, func(ctx context.Context, s *session) error {
		m, err := migration.Find(s.cwd, s.cfg.Directory, nameOrPath)
		if err != nil {
			return s.fail(ctx, err)
		}

		return s.withStorage(ctx, func(st storage.Storage) error {
			entry, err := findEntry(ctx, st, m)
			if err != nil {
				return s.fail(ctx, err)
			}

			if entry.Status != migration.StatusFailed && !force {
				return s.fail(ctx, migerr.OptionNeeded("force",
					fmt.Sprintf("The migration %q is not in a failed state, use --force to remove it", m.Name)))
			}

			// Legacy entries are stored without the file extension.
			target := m
			target.Name = entry.Name

			s.rep.OnMigrationRemoveStart(ctx, m)

			if err := st.Remove(context.WithoutCancel(ctx), target); err != nil {
				if errors.Is(err, storage.ErrEntryNotFound) {
					err = migerr.MigrationNotRun(m.Name)
				} else {
					err = migerr.MigrationRemoval(m.RelativeFilePath, err)
				}

				s.rep.OnMigrationRemoveError(ctx, m, err)

				return s.fail(ctx, err)
			}

			s.rep.OnMigrationRemoveSuccess(ctx, m)
			s.rep.OnFinished(ctx, nil, nil)

			return nil
		})
	})
}

// findEntry returns the history entry recorded for m.
func findEntry(ctx context.Context, st storage.Storage, m migration.Migration) (migration.HistoryEntry, error) {
	for entry, err := range st.History(context.WithoutCancel(ctx)) {
		if err != nil {
			return migration.HistoryEntry{}, err
		}

		if migration.MatchesEntry(m, entry.Name) {
			return entry, nil
		}
	}

	return migration.HistoryEntry{}, migerr.MigrationNotRun(m.Name)
}
