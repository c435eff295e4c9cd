package migration

import (
	"path/filepath"
	"time"

	"github.com/aqasim81/migration-runner/internal/migerr"
)

// Status is the state of a migration within a run or in history.
type Status string

// Migration statuses. An empty status means the migration has not been
// evaluated yet.
const (
	StatusNone    Status = ""
	StatusPending Status = "pending"
	StatusSkipped Status = "skipped"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	// StatusLocked is only stored by backends while a run owns a migration.
	// It never appears in history returned to the runner.
	StatusLocked Status = "locked"
)

// Migration identifies a single migration file.
type Migration struct {
	Name             string // "20240101120000000_create_users.sql", includes extension
	Directory        string // directory as given by the user, relative to Cwd
	FilePath         string // absolute path of the file
	RelativeFilePath string // path relative to Cwd, used in messages
	Extension        string // ".sql"
	Cwd              string // working root the paths were resolved against
}

// New builds a Migration for the file name inside directory, resolved
// against cwd.
func New(cwd, directory, name string) Migration {
	dir := directory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cwd, directory)
	}

	filePath := filepath.Join(dir, name)

	rel, err := filepath.Rel(cwd, filePath)
	if err != nil {
		rel = filePath
	}

	return Migration{
		Name:             name,
		Directory:        directory,
		FilePath:         filePath,
		RelativeFilePath: rel,
		Extension:        filepath.Ext(name),
		Cwd:              cwd,
	}
}

// Outcome is a Migration tagged with what happened to it. Outcomes are
// values; changing the status always yields a new Outcome.
type Outcome struct {
	Migration

	Status   Status
	Duration time.Duration
	Err      error // set iff Status is StatusFailed
}

// Untagged wraps m in an Outcome that has not been evaluated yet.
func Untagged(m Migration) Outcome {
	return Outcome{Migration: m}
}

// Finished reports whether the outcome carries a status.
func (o Outcome) Finished() bool {
	return o.Status != StatusNone
}

// WithStatus returns a copy of o with the given non-failed status.
func (o Outcome) WithStatus(s Status) Outcome {
	return Outcome{Migration: o.Migration, Status: s}
}

// Done returns a copy of o marked as successfully executed.
func (o Outcome) Done(d time.Duration) Outcome {
	return Outcome{Migration: o.Migration, Status: StatusDone, Duration: d}
}

// Failed returns a copy of o marked as failed with err.
func (o Outcome) Failed(d time.Duration, err error) Outcome {
	return Outcome{Migration: o.Migration, Status: StatusFailed, Duration: d, Err: err}
}

// HistoryEntry is a past attempt as recorded by a storage backend.
type HistoryEntry struct {
	Name   string
	Status Status
	Date   time.Time
	Error  string // serialized with migerr.Serialize, set iff Status is StatusFailed
}

// Err restores the stored error, or nil when there is none.
func (h HistoryEntry) Err() error {
	return migerr.Deserialize(h.Error)
}
