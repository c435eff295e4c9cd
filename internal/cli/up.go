package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-runner/internal/executor"
	"github.com/aqasim81/migration-runner/internal/loader"
	"github.com/aqasim81/migration-runner/internal/migration"
	"github.com/aqasim81/migration-runner/internal/storage"
)

type upOptions struct {
	dry          bool
	limit        int
	from         string
	to           string
	noExecution  bool
	abortRespite time.Duration
	lockTimeout  time.Duration
	stmtTimeout  time.Duration
}

func newUpCmd(a *app) *cobra.Command {
	var opts upOptions

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Run pending migrations",
		Long: `Run every pending migration in order. Migrations after a failed one are
skipped, and migrations locked by another runner are left to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()

			if flags.Changed("abort-respite") {
				a.cfg.AbortRespite = opts.abortRespite
			}

			if flags.Changed("lock-timeout") {
				a.cfg.LockTimeout = opts.lockTimeout
			}

			if flags.Changed("statement-timeout") {
				a.cfg.StatementTimeout = opts.stmtTimeout
			}

			return a.runUp(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.dry, "dry", false, "show what would run without locking or executing anything")
	flags.IntVar(&opts.limit, "limit", 0, "run at most this many pending migrations")
	flags.StringVar(&opts.from, "from", "", "skip pending migrations before this one")
	flags.StringVar(&opts.to, "to", "", "skip pending migrations after this one")
	flags.BoolVar(&opts.noExecution, "no-execution", false, "record pending migrations as done without running them")
	flags.DurationVar(&opts.abortRespite, "abort-respite", 0, "how long an interrupted run waits for in-flight work (e.g. 10s)")
	flags.DurationVar(&opts.lockTimeout, "lock-timeout", 0, "PostgreSQL lock_timeout for each migration (e.g. 5s)")
	flags.DurationVar(&opts.stmtTimeout, "statement-timeout", 0, "PostgreSQL statement_timeout for each migration (e.g. 30s)")

	return cmd
}

func (a *app) runUp(ctx context.Context, opts upOptions) error {
	if err := checkLoaders(loaderNames(a.cfg)); err != nil {
		return err
	}

	return a.session(ctx, "up", opts.dry, func(ctx context.Context, s *session) error {
		return s.withStorage(ctx, func(st storage.Storage) error {
			loaders, err := buildLoaders(ctx, s.cfg, s.conns, s.log)
			if err != nil {
				return s.fail(ctx, err)
			}

			execute := executor.ExecuteFunc(loaders.Execute)
			if opts.noExecution {
				execute = loader.WithoutExecution()
			}

			ex := executor.New(st, s.rep,
				executor.WithDryRun(opts.dry),
				executor.WithLimit(opts.limit),
				executor.WithFrom(opts.from),
				executor.WithTo(opts.to),
				executor.WithAbortRespite(s.cfg.AbortRespite),
				executor.WithValidate(loaders.Validate),
				executor.WithExecute(execute),
				executor.WithLogger(s.log),
			)

			history := st.History(context.WithoutCancel(ctx))
			_, err = ex.Run(ctx, migration.Collect(s.cwd, s.cfg.Directory, history, nil))

			return err
		})
	})
}
