package sqldb

import (
	"github.com/aqasim81/migration-runner/internal/database"
)

// dialect holds the statements that differ between database/sql backends.
// Each statement takes the quoted table name as its only format verb.
type dialect struct {
	driver      string
	quote       func(string) string
	createTable string
	lock        string
}

var mysqlDialect = dialect{ //nolint:gochecknoglobals // read-only statement set
	driver: database.DriverMySQL,
	quote:  func(s string) string { return "`" + s + "`" },
	createTable: `CREATE TABLE IF NOT EXISTS %s (
    name   VARCHAR(255) NOT NULL PRIMARY KEY,
    status VARCHAR(32)  NOT NULL,
    date   DATETIME(6)  NOT NULL,
    error  TEXT         NULL,
    owner  VARCHAR(64)  NULL
)`,
	lock: `INSERT IGNORE INTO %s (name, status, date, owner) VALUES (?, 'locked', ?, ?)`,
}

var sqliteDialect = dialect{ //nolint:gochecknoglobals // read-only statement set
	driver: database.DriverSQLite,
	quote:  func(s string) string { return `"` + s + `"` },
	createTable: `CREATE TABLE IF NOT EXISTS %s (
    name   TEXT NOT NULL PRIMARY KEY,
    status TEXT NOT NULL,
    date   DATETIME NOT NULL,
    error  TEXT NULL,
    owner  TEXT NULL
)`,
	lock: `INSERT OR IGNORE INTO %s (name, status, date, owner) VALUES (?, 'locked', ?, ?)`,
}

// Statements shared by both dialects.
const (
	unlockSQL  = `DELETE FROM %s WHERE name IN (?) AND status = 'locked' AND owner = ?`
	removeSQL  = `DELETE FROM %s WHERE name = ?`
	historySQL = `SELECT name, status, date, COALESCE(error, '') AS error
FROM %s
WHERE status <> 'locked'
ORDER BY date, name`
	updateSQL = `UPDATE %s SET status = ?, date = ?, error = ?, owner = NULL WHERE name = ?`
	insertSQL = `INSERT INTO %s (name, status, date, error) VALUES (?, ?, ?, ?)`
)
