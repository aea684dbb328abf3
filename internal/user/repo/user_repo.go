package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ovaphlow/pitchfork/service-user-admin/internal/user/entity"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already in use")
)

const userColumns = `id, name, email, status, created_at, updated_at`

// Filter is the listing predicate. Empty fields match everything.
type Filter struct {
	Search string
	Status string
}

// UserRepo provides data access for the users table using sqlx. The same
// queries run on PostgreSQL and SQLite; placeholders are rebound per driver.
type UserRepo struct {
	db *sqlx.DB
	// Now stamps created_at / updated_at.
	Now func() time.Time
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db, Now: time.Now}
}

// EnsureTable creates the users table and its indexes if they do not exist.
// The unique index on email is the authoritative uniqueness check.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	ddl := sqliteDDL
	if r.db.DriverName() == "postgres" {
		ddl = postgresDDL
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure users table: %w", err)
	}
	return nil
}

const postgresDDL = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);
CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at DESC);
`

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);
CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at DESC);
`

// buildWhere translates f into a WHERE clause with `?` placeholders. The
// search term is ORed across name and email; status is ANDed on top.
func buildWhere(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Search != "" {
		like := "%" + escapeLike(f.Search) + "%"
		clauses = append(clauses, `(name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	if f.Status != "" && f.Status != entity.StatusAll {
		clauses = append(clauses, `status = ?`)
		args = append(args, f.Status)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// List returns one page of users matching f, newest first.
func (r *UserRepo) List(ctx context.Context, f Filter, limit, offset int) ([]entity.User, error) {
	where, args := buildWhere(f)
	q := `SELECT ` + userColumns + ` FROM users` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	users := make([]entity.User, 0, limit)
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Count returns the number of users matching f.
func (r *UserRepo) Count(ctx context.Context, f Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM users`+where), args...); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// GetByID fetches a user or returns ErrNotFound.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByEmail fetches a user by exact email or returns ErrNotFound.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, r.db.Rebind(q), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// Create inserts u, stamping both timestamps, and returns the stored row.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (*entity.User, error) {
	now := r.now()
	const q = `INSERT INTO users (id, name, email, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(q), u.ID, u.Name, u.Email, u.Status, now, now); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return r.GetByID(ctx, u.ID)
}

// Update overwrites name, email and status of the user with u.ID.
func (r *UserRepo) Update(ctx context.Context, u *entity.User) (*entity.User, error) {
	const q = `UPDATE users SET name = ?, email = ?, status = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), u.Name, u.Email, u.Status, r.now(), u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, u.ID)
}

// ToggleStatus flips active/inactive in a single statement.
func (r *UserRepo) ToggleStatus(ctx context.Context, id string) (*entity.User, error) {
	const q = `UPDATE users
		SET status = CASE WHEN status = 'active' THEN 'inactive' ELSE 'active' END, updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), r.now(), id)
	if err != nil {
		return nil, fmt.Errorf("toggle user status: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes the user permanently.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(res)
}

// DeleteAll empties the table and returns the number of removed rows.
func (r *UserRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users`)
	if err != nil {
		return 0, fmt.Errorf("delete users: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns row counts grouped by status.
func (r *UserRepo) CountByStatus(ctx context.Context) (map[entity.Status]int, error) {
	var rows []struct {
		Status entity.Status `db:"status"`
		N      int           `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM users GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count users by status: %w", err)
	}
	out := make(map[entity.Status]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

func (r *UserRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint != "users_pkey"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed: users.email")
}
