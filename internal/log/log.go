// Package log builds the logrus logger used for diagnostics.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LevelEnv names the environment variable that sets the log level.
const LevelEnv = "MIGRATE_LOG_LEVEL"

// New returns a text logger writing to w. Verbose forces debug level;
// otherwise the level comes from MIGRATE_LOG_LEVEL and defaults to warn so
// diagnostics stay out of reporter output.
func New(w io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(levelFromEnv(os.Getenv(LevelEnv)))

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	return logger
}

func levelFromEnv(v string) logrus.Level {
	if v == "" {
		return logrus.WarnLevel
	}

	level, err := logrus.ParseLevel(strings.ToLower(v))
	if err != nil {
		return logrus.WarnLevel
	}

	return level
}
