package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
)

func newNewCmd(a *app) *cobra.Command {
	var template, extension string

	cmd := &cobra.Command{
		Use:   "new <name...>",
		Short: "Create a new migration file",
		Long: `Create a timestamped migration file in the migrations directory. The
file starts from --template when given, otherwise from a short stub for the
extension.`,
		Example: "  migrate new add users table\n  migrate new backfill --extension .sh",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return migerr.MissingArguments("name")
			}

			opts := migration.NewFileOptions{
				Name:      strings.Join(args, " "),
				Template:  a.cfg.Template,
				Extension: a.cfg.Extension,
			}

			if cmd.Flags().Changed("template") {
				opts.Template = template
			}

			switch {
			case cmd.Flags().Changed("extension"):
				opts.Extension = extension
			case opts.Template != "":
				opts.Extension = "" // taken from the template name
			}

			return a.runNew(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "file to copy into the new migration")
	cmd.Flags().StringVarP(&extension, "extension", "x", "", "file extension of the new migration (default: from template, else .sql)")

	return cmd
}

func (a *app) runNew(ctx context.Context, opts migration.NewFileOptions) error {
	return a.session(ctx, "new", false, func(ctx context.Context, s *session) error {
		m, content, err := migration.NewFile(s.cwd, s.cfg.Directory, opts)
		if err != nil {
			return s.fail(ctx, err)
		}

		s.rep.OnNewMigration(ctx, m, content)
		s.rep.OnFinished(ctx, nil, nil)

		return nil
	})
}
