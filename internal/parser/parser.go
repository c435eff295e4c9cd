package parser //nolint:revive // intentional: does not conflict with go/parser in internal package

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ParseResult holds the parsed statements of a PostgreSQL migration file.
type ParseResult struct {
	Stmts []*pg_query.RawStmt
	SQL   string
}

// Parse parses a PostgreSQL SQL string.
// Returns an empty result (zero statements) for empty or whitespace-only input.
func Parse(sql string) (*ParseResult, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return &ParseResult{SQL: sql}, nil
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parsing SQL: %w", err)
	}

	return &ParseResult{
		Stmts: tree.Stmts,
		SQL:   sql,
	}, nil
}

// RequiresNoTransaction reports whether any statement cannot run inside a
// transaction block, such as CREATE INDEX CONCURRENTLY or VACUUM.
func (r *ParseResult) RequiresNoTransaction() bool {
	for _, stmt := range r.Stmts {
		switch node := stmt.Stmt.Node.(type) {
		case *pg_query.Node_IndexStmt:
			if node.IndexStmt != nil && node.IndexStmt.Concurrent {
				return true
			}
		case *pg_query.Node_DropStmt:
			if node.DropStmt != nil && node.DropStmt.Concurrent {
				return true
			}
		case *pg_query.Node_VacuumStmt:
			return true
		case *pg_query.Node_AlterEnumStmt:
			return true
		}
	}

	return false
}

// HasTransactionControl reports whether the file manages its own
// transaction with BEGIN, COMMIT or ROLLBACK.
func (r *ParseResult) HasTransactionControl() bool {
	for _, stmt := range r.Stmts {
		if _, ok := stmt.Stmt.Node.(*pg_query.Node_TransactionStmt); ok {
			return true
		}
	}

	return false
}
