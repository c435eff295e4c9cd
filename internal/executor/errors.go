package executor

import "errors"

// ErrNoExecute indicates a run reached a migration without an execute function.
var ErrNoExecute = errors.New("no execute function configured")

// ErrPanic wraps a panic recovered from a storage call or a migration.
var ErrPanic = errors.New("panic")
