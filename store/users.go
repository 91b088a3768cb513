package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const usersSchema = `CREATE TABLE IF NOT EXISTS users(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE
);`

// updatableColumns lists, in statement order, the user columns a client may change.
var updatableColumns = []string{"name", "email"}

// Users is the repository for the users table
type Users struct {
	store Store
}

func NewUsers(s Store) *Users {
	return &Users{store: s}
}

// Migrate creates the users table if it does not exist
func (u *Users) Migrate(ctx context.Context) error {
	if _, err := u.store.Execute(ctx, usersSchema); err != nil {
		return errors.WithMessage(err, "create users table")
	}
	return nil
}

// List returns every user. There is no pagination; the result grows with
// the table.
func (u *Users) List(ctx context.Context) ([]Row, error) {
	rows, err := u.store.Query(ctx, "SELECT id, name, email FROM users ORDER BY id;")
	if err != nil {
		return nil, errors.WithMessage(err, "list users")
	}
	return rows, nil
}

// Create inserts a user and returns its assigned id
func (u *Users) Create(ctx context.Context, name, email string) (int64, error) {
	res, err := u.store.Execute(ctx, "INSERT INTO users (name, email) VALUES (?, ?);", name, email)
	if err != nil {
		return 0, errors.WithMessage(err, "insert user")
	}
	return res.LastInsertID, nil
}

// Update changes only the supplied updatable fields of user id and returns
// the number of rows changed. Keys other than name and email are ignored.
func (u *Users) Update(ctx context.Context, id int64, fields map[string]string) (int64, error) {
	var (
		set  []string
		args []any
	)
	for _, col := range updatableColumns {
		if v, ok := fields[col]; ok {
			set = append(set, col+" = ?")
			args = append(args, v)
		}
	}
	if len(set) == 0 {
		return 0, errors.New("no updatable fields")
	}
	args = append(args, id)

	stmt := "UPDATE users SET " + strings.Join(set, ", ") + " WHERE id = ?;"
	res, err := u.store.Execute(ctx, stmt, args...)
	if err != nil {
		return 0, errors.WithMessage(err, "update user "+strconv.FormatInt(id, 10))
	}
	return res.RowsAffected, nil
}

// Count returns the number of users
func (u *Users) Count(ctx context.Context) (int, error) {
	rows, err := u.store.Query(ctx, "SELECT COUNT(*) AS n FROM users;")
	if err != nil {
		return 0, errors.WithMessage(err, "count users")
	}
	if len(rows) != 1 {
		return 0, errors.New("count users: no result row")
	}
	n, err := strconv.Atoi(rows[0]["n"])
	if err != nil {
		return 0, errors.Wrap(err, "count users")
	}
	return n, nil
}
