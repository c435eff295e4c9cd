package database

import "errors"

// ErrInvalidDatabaseURL indicates the provided database URL could not be parsed.
var ErrInvalidDatabaseURL = errors.New("invalid database URL")

// ErrConnectionFailed indicates a connection to the database could not be established.
var ErrConnectionFailed = errors.New("database connection failed")

// ErrLockNotAcquired indicates the advisory lock guarding history writes could not be taken.
var ErrLockNotAcquired = errors.New("migration lock not acquired")

// ErrUnsupportedDriver indicates a database/sql driver name this package does not know.
var ErrUnsupportedDriver = errors.New("unsupported database driver")
