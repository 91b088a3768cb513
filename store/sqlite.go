package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"modernc.org/sqlite"

	httperrors "github.com/nczempin/minihttpd/errors"
)

// sqliteConstraint is the primary result code SQLITE_CONSTRAINT; extended
// codes keep it in the low byte.
const sqliteConstraint = 19

// SQLite is a Store backed by an embedded SQLite database. A single mutex
// serialises every call, so the underlying connection is never used
// concurrently.
type SQLite struct {
	mu     sync.Mutex
	db     *sql.DB
	lastID int64
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping sqlite %s", path)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}

	var result []Row
	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i].String
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}

	return result, nil
}

func (s *SQLite) Execute(ctx context.Context, stmt string, args ...any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, classify(err, "execute")
	}

	var out Result
	if out.RowsAffected, err = res.RowsAffected(); err != nil {
		return Result{}, errors.Wrap(err, "rows affected")
	}
	if out.LastInsertID, err = res.LastInsertId(); err != nil {
		return Result{}, errors.Wrap(err, "last insert id")
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), "INSERT") {
		s.lastID = out.LastInsertID
	}

	return out, nil
}

func (s *SQLite) LastInsertID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// classify turns a driver error into an ErrorStorage error. Constraint
// violations keep ErrConstraint in the chain for errors.Is.
func classify(err error, op string) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteConstraint {
		return httperrors.NewStorageError(op, errors.Wrap(ErrConstraint, sqliteErr.Error()))
	}
	return httperrors.NewStorageError(op, err)
}
