package postgres

// Statements take the quoted table identifier as their only format verb.
const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    name    TEXT PRIMARY KEY,
    status  TEXT NOT NULL,
    date    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    error   JSONB,
    owner   TEXT
)`

	lockSQL = `INSERT INTO %s (name, status, owner)
VALUES ($1, 'locked', $2)
ON CONFLICT (name) DO NOTHING`

	unlockSQL = `DELETE FROM %s
WHERE name = ANY($1) AND status = 'locked' AND owner = $2`

	removeSQL = `DELETE FROM %s WHERE name = $1`

	historySQL = `SELECT name, status, date, COALESCE(error::text, '')
FROM %s
WHERE status <> 'locked'
ORDER BY date, name`

	finishSQL = `INSERT INTO %s (name, status, date, error)
VALUES ($1, $2, $3, $4::jsonb)
ON CONFLICT (name) DO UPDATE SET
    status = EXCLUDED.status,
    date   = EXCLUDED.date,
    error  = EXCLUDED.error,
    owner  = NULL`
)
