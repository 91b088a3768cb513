// Package store is the persistence layer consumed by the HTTP handlers.
package store

import (
	"context"

	"github.com/pkg/errors"
)

// ErrConstraint is returned (wrapped) when a write violates a constraint,
// such as a duplicate unique column.
var ErrConstraint = errors.New("constraint violation")

// Row is one result row keyed by column name. NULL columns are empty strings.
type Row map[string]string

// Result describes the effect of Execute
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Store runs SQL against a backing database. User input must only ever be
// passed through args, never concatenated into query text.
type Store interface {
	// Query runs a read statement and returns all rows.
	Query(ctx context.Context, query string, args ...any) ([]Row, error)

	// Execute runs a parameterized write statement.
	Execute(ctx context.Context, stmt string, args ...any) (Result, error)

	// LastInsertID returns the id assigned by the most recent insert.
	LastInsertID() int64

	Close() error
}
