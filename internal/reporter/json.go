package reporter

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
)

// JSON writes one JSON object per event through a logrus JSONFormatter.
type JSON struct {
	log *logrus.Entry
}

var _ Reporter = (*JSON)(nil)

// NewJSON creates a JSON reporter writing to out.
func NewJSON(out io.Writer) *JSON {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap:        logrus.FieldMap{logrus.FieldKeyMsg: "event"},
	})

	return &JSON{log: logrus.NewEntry(logger)}
}

func outcomeFields(o migration.Outcome) logrus.Fields {
	status := o.Status
	if status == migration.StatusNone {
		status = migration.StatusPending
	}

	return logrus.Fields{
		"migration":   o.Name,
		"path":        o.RelativeFilePath,
		"status":      string(status),
		"duration_ms": o.Duration.Milliseconds(),
	}
}

func errorFields(err error) logrus.Fields {
	return logrus.Fields{
		"error":      err.Error(),
		"error_code": migerr.KindOf(err).Code(),
	}
}

func (j *JSON) OnInit(_ context.Context, info Info) {
	j.log = j.log.WithField("run_id", info.RunID)
	j.log.WithFields(logrus.Fields{
		"command":   info.Command,
		"version":   info.Version,
		"cwd":       info.Cwd,
		"directory": info.Directory,
		"dry":       info.Dry,
	}).Info("init")
}

func (j *JSON) OnAbort(_ context.Context, reason error) {
	j.log.WithFields(errorFields(reason)).Warn("abort")
}

func (j *JSON) OnCollectedMigrations(_ context.Context, collected []migration.Outcome) {
	j.log.WithField("count", len(collected)).Info("collected")
}

func (j *JSON) OnLockedMigrations(_ context.Context, locked []migration.Migration) {
	names := make([]string, len(locked))
	for i, m := range locked {
		names[i] = m.Name
	}

	j.log.WithFields(logrus.Fields{"count": len(locked), "migrations": names}).Info("locked")
}

func (j *JSON) OnNewMigration(_ context.Context, m migration.Migration, content []byte) {
	j.log.WithFields(logrus.Fields{"migration": m.Name, "path": m.RelativeFilePath, "bytes": len(content)}).Info("new")
}

func (j *JSON) OnMigrationRemoveStart(_ context.Context, m migration.Migration) {
	j.log.WithField("migration", m.Name).Info("remove_start")
}

func (j *JSON) OnMigrationRemoveSuccess(_ context.Context, m migration.Migration) {
	j.log.WithField("migration", m.Name).Info("remove_success")
}

func (j *JSON) OnMigrationRemoveError(_ context.Context, m migration.Migration, err error) {
	j.log.WithField("migration", m.Name).WithFields(errorFields(err)).Error("remove_error")
}

func (j *JSON) OnMigrationStart(_ context.Context, o migration.Outcome) {
	j.log.WithFields(outcomeFields(o)).Info("start")
}

func (j *JSON) OnMigrationSuccess(_ context.Context, o migration.Outcome) {
	j.log.WithFields(outcomeFields(o)).Info("success")
}

func (j *JSON) OnMigrationError(_ context.Context, o migration.Outcome, err error) {
	j.log.WithFields(outcomeFields(o)).WithFields(errorFields(err)).Error("error")
}

func (j *JSON) OnMigrationSkip(_ context.Context, o migration.Outcome) {
	j.log.WithFields(outcomeFields(o)).Info("skip")
}

func (j *JSON) OnFinished(_ context.Context, outcomes []migration.Outcome, err error) {
	entry := j.log.WithField("count", len(outcomes))

	if err != nil {
		entry.WithFields(errorFields(err)).Error("finished")

		return
	}

	entry.Info("finished")
}
