// Package migerr defines the closed set of error kinds surfaced by the
// migration runner. Every error carries a Kind so callers can select and
// prioritize errors without inspecting message text.
package migerr

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Kind classifies an Error.
type Kind int

// Error kinds. The zero value is never produced by this package.
const (
	KindUsage Kind = iota + 1
	KindMissingOption
	KindMissingArguments
	KindOptionNeeded
	KindBadOption
	KindUnexpected
	KindMigrationHistory
	KindMigrationLoad
	KindMigrationRun
	KindMigrationNotRun
	KindMigrationRemove
	KindStorageInit
	KindCommandAbort
	KindExecutionDeserted
)

var kindCodes = map[Kind]string{ //nolint:gochecknoglobals // read-only lookup table
	KindUsage:             "ERR_USAGE",
	KindMissingOption:     "ERR_MISSING_OPT",
	KindMissingArguments:  "ERR_MISSING_ARGS",
	KindOptionNeeded:      "ERR_OPT_NEEDED",
	KindBadOption:         "ERR_BAD_OPT",
	KindUnexpected:        "ERR_UNEXPECTED",
	KindMigrationHistory:  "ERR_MIGRATION_HISTORY",
	KindMigrationLoad:     "ERR_MIGRATION_LOAD",
	KindMigrationRun:      "ERR_MIGRATION_RUN",
	KindMigrationNotRun:   "ERR_MIGRATION_NOT_RUN",
	KindMigrationRemove:   "ERR_MIGRATION_REMOVE",
	KindStorageInit:       "ERR_STORAGE_INIT",
	KindCommandAbort:      "ERR_COMMAND_ABORT",
	KindExecutionDeserted: "ERR_EXECUTION_DESERTED",
}

var kindNames = map[Kind]string{ //nolint:gochecknoglobals // read-only lookup table
	KindUsage:             "usage error",
	KindMissingOption:     "missing option",
	KindMissingArguments:  "missing arguments",
	KindOptionNeeded:      "option needed",
	KindBadOption:         "bad option",
	KindUnexpected:        "unexpected error",
	KindMigrationHistory:  "migration history error",
	KindMigrationLoad:     "migration load error",
	KindMigrationRun:      "migration run error",
	KindMigrationNotRun:   "migration not run",
	KindMigrationRemove:   "migration removal error",
	KindStorageInit:       "storage initialization error",
	KindCommandAbort:      "command aborted",
	KindExecutionDeserted: "execution deserted",
}

// Code returns the stable machine-readable code, e.g. "ERR_BAD_OPT".
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}

	return "ERR_UNKNOWN"
}

// String returns a short human-readable label for the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}

	return "unknown error"
}

// kindFromCode is the inverse of Code.
func kindFromCode(code string) (Kind, bool) {
	for k, c := range kindCodes {
		if c == code {
			return k, true
		}
	}

	return 0, false
}

// Error is a structured migration runner error.
type Error struct {
	Kind      Kind
	Message   string
	Option    string // set for option related kinds
	Migration string // relative path or name of the migration involved, if any
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}

	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors of the same kind, so errors.Is(err, ErrBadOption)
// holds for any bad option error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Message == "" && t.Option == "" && t.Migration == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks. Never return these directly.
var (
	ErrUsage             = &Error{Kind: KindUsage}
	ErrMissingOption     = &Error{Kind: KindMissingOption}
	ErrMissingArguments  = &Error{Kind: KindMissingArguments}
	ErrOptionNeeded      = &Error{Kind: KindOptionNeeded}
	ErrBadOption         = &Error{Kind: KindBadOption}
	ErrUnexpected        = &Error{Kind: KindUnexpected}
	ErrMigrationHistory  = &Error{Kind: KindMigrationHistory}
	ErrMigrationLoad     = &Error{Kind: KindMigrationLoad}
	ErrMigrationRun      = &Error{Kind: KindMigrationRun}
	ErrMigrationNotRun   = &Error{Kind: KindMigrationNotRun}
	ErrMigrationRemove   = &Error{Kind: KindMigrationRemove}
	ErrStorageInit       = &Error{Kind: KindStorageInit}
	ErrCommandAbort      = &Error{Kind: KindCommandAbort}
	ErrExecutionDeserted = &Error{Kind: KindExecutionDeserted}
)

// KindOf returns the kind of the outermost structured error in err's chain,
// or 0 if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// IsStructured reports whether err itself is a *Error. Wrapping a structured
// error with fmt.Errorf hides it from this check on purpose.
func IsStructured(err error) bool {
	_, ok := err.(*Error) //nolint:errorlint // only the outermost error counts

	return ok
}

// IsUsage reports whether err should be presented together with command help.
func IsUsage(err error) bool {
	switch KindOf(err) {
	case KindUsage, KindMissingOption, KindMissingArguments:
		return true
	default:
		return false
	}
}

// Usage returns a generic usage error.
func Usage(message string) *Error {
	return &Error{Kind: KindUsage, Message: message}
}

// MissingOption reports a required option that was not given.
func MissingOption(option string) *Error {
	return &Error{
		Kind:    KindMissingOption,
		Message: "Missing required option: " + option,
		Option:  option,
	}
}

// MissingArguments reports a required positional argument that was not given.
func MissingArguments(argument string) *Error {
	return &Error{
		Kind:    KindMissingArguments,
		Message: fmt.Sprintf("Missing %s argument", argument),
	}
}

// OptionNeeded reports an operation that requires an explicit override flag.
func OptionNeeded(option, message string) *Error {
	return &Error{Kind: KindOptionNeeded, Message: message, Option: option}
}

// BadOption reports an invalid or unsupported option value.
func BadOption(option, message string) *Error {
	return &Error{Kind: KindBadOption, Message: message, Option: option}
}

// Unexpected wraps an error that does not fit any other kind.
func Unexpected(cause error) *Error {
	return &Error{Kind: KindUnexpected, Message: "Unexpected error", Cause: cause}
}

// MigrationHistory reports a previously failed migration that blocks runs.
func MigrationHistory(name string, cause error) *Error {
	return &Error{
		Kind:      KindMigrationHistory,
		Message:   fmt.Sprintf("Migration %s is in a failed state, it should be fixed and removed", name),
		Migration: name,
		Cause:     cause,
	}
}

// MigrationLoad reports a loader that could not produce a runnable migration.
func MigrationLoad(relativePath string, cause error) *Error {
	return &Error{
		Kind:      KindMigrationLoad,
		Message:   "Failed to load migration file: " + relativePath,
		Migration: relativePath,
		Cause:     cause,
	}
}

// MigrationRun wraps an unstructured failure raised by migration code.
func MigrationRun(relativePath string, cause error) *Error {
	return &Error{
		Kind:      KindMigrationRun,
		Message:   "Failed to run migration: " + relativePath,
		Migration: relativePath,
		Cause:     cause,
	}
}

// MigrationNotRun reports a migration that has no history entry.
func MigrationNotRun(name string) *Error {
	return &Error{
		Kind:      KindMigrationNotRun,
		Message:   fmt.Sprintf("Migration %q is not in the migration history", name),
		Migration: name,
	}
}

// MigrationRemoval wraps a storage failure while removing a history entry.
func MigrationRemoval(relativePath string, cause error) *Error {
	return &Error{
		Kind:      KindMigrationRemove,
		Message:   "Failed to remove migration: " + relativePath,
		Migration: relativePath,
		Cause:     cause,
	}
}

// StorageInit wraps a failure to connect to or prepare the storage backend.
func StorageInit(cause error) *Error {
	return &Error{Kind: KindStorageInit, Message: "Could not initialize storage", Cause: cause}
}

// CommandAbortFromSignal builds the abort reason used when a signal arrives.
func CommandAbortFromSignal(sig os.Signal) *Error {
	return &Error{Kind: KindCommandAbort, Message: "Command aborted due to signal: " + sig.String()}
}

// CommandAbort converts an arbitrary cancellation cause into an abort reason.
// Structured causes are returned unchanged.
func CommandAbort(cause error) error {
	if IsStructured(cause) {
		return cause
	}

	return &Error{Kind: KindCommandAbort, Message: "Command aborted", Cause: cause}
}

// ExecutionDeserted reports an operation abandoned after the abort respite.
func ExecutionDeserted(respite time.Duration, reason error) *Error {
	return &Error{
		Kind:    KindExecutionDeserted,
		Message: "Deserted after " + respite.String(),
		Cause:   reason,
	}
}
