// Package cli implements the migrate command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-runner/internal/config"
	"github.com/aqasim81/migration-runner/internal/log"
	"github.com/aqasim81/migration-runner/internal/migerr"
)

const version = "0.1.0"

// app is the state shared by the commands of one invocation. It is filled
// in by the root command's PersistentPreRunE.
type app struct {
	out    io.Writer
	errOut io.Writer

	cfg *config.Config
	log *logrus.Logger
	cwd string

	// reported is set once a reporter has shown the command's final error.
	reported bool

	openStorage storageOpener
	newTracer   tracerFactory
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:         out,
		errOut:      errOut,
		openStorage: openStorage,
		newTracer:   newTracerProvider,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:     "migrate",
		Version: version,
		Short:   "Run database migrations safely from many processes at once",
		Long: `migrate runs migration files in order against a shared history.
Concurrent runners lock the migrations they execute, a failure stops every
migration after it, and an interrupted run gives in-flight work a respite
before giving up on it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.String("config", "migrate.yml", "path to configuration file")
	flags.String("cwd", "", "working directory paths are resolved against (default: current directory)")
	flags.StringP("directory", "d", "", "directory containing the migration files")
	flags.StringP("storage", "s", "", "storage plugin: postgres, mysql, sqlite or redis")
	flags.StringP("reporter", "r", "", "reporter plugin: pretty or json")
	flags.StringArrayP("plugin", "p", nil, "loader plugin, repeatable: postgres, mysql, sqlite or script")
	flags.String("database-url", "", "database connection string")
	flags.String("redis-url", "", "redis connection URL")
	flags.String("table", "", "name of the migration history table")
	flags.Bool("trace", false, "export an OpenTelemetry span per migration")
	flags.Bool("verbose", false, "enable debug logging")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return migerr.Usage(err.Error())
	})

	root.AddCommand(
		newUpCmd(a),
		newListCmd(a),
		newNewCmd(a),
		newRemoveCmd(a),
	)

	return root
}

// Execute runs the command line and exits. Called from main.
func Execute() {
	ctx, stop := signalContext(context.Background())
	code := run(ctx, newApp(os.Stdout, os.Stderr), os.Args[1:])

	stop()
	os.Exit(code)
}

// run executes args and returns the process exit code.
func run(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}

	if !a.reported {
		fmt.Fprintf(a.errOut, "Error: %v\n", err)
	}

	if migerr.IsUsage(err) {
		fmt.Fprintln(a.errOut)
		cmd.SetOut(a.errOut)
		_ = cmd.Usage()
	}

	return 1
}

// loadConfig loads configuration with precedence:
// flag > env > .env file > config file > defaults.
func (a *app) loadConfig(cmd *cobra.Command) error {
	flags := cmd.Flags()

	cwd, _ := flags.GetString("cwd")
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}

		cwd = wd
	}

	a.cwd = cwd

	verbose, _ := flags.GetBool("verbose")
	a.log = log.New(a.errOut, verbose)

	if err := config.LoadDotEnv(filepath.Join(cwd, config.DefaultDotEnv), false); err != nil {
		return err
	}

	configPath, _ := flags.GetString("config")
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(cwd, configPath)
	}

	cfg, err := config.Load(configPath, !flags.Changed("config"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	config.MergeEnv(cfg)
	mergeFlags(cmd, cfg)

	a.cfg = cfg

	a.log.WithFields(logrus.Fields{
		"storage":   cfg.Storage,
		"directory": cfg.Directory,
		"database":  config.RedactURL(cfg.DatabaseURL),
	}).Debug("configuration loaded")

	return nil
}

// mergeFlags overrides config with explicitly set flags.
func mergeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	strs := map[string]*string{
		"directory":    &cfg.Directory,
		"storage":      &cfg.Storage,
		"reporter":     &cfg.Reporter,
		"database-url": &cfg.DatabaseURL,
		"redis-url":    &cfg.RedisURL,
		"table":        &cfg.Table,
	}

	for name, dst := range strs {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	if flags.Changed("plugin") {
		cfg.Plugins, _ = flags.GetStringArray("plugin")
	}

	if flags.Changed("trace") {
		cfg.Trace, _ = flags.GetBool("trace")
	}
}
