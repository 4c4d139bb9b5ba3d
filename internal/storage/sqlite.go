package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgellow/nimbus/internal/emailutil"
	"github.com/dgellow/nimbus/internal/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ UserStore = (*SQLiteStore)(nil)

// Provider id columns are NULL when unlinked so the UNIQUE constraints only
// apply to linked accounts.
const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
	google_id  TEXT UNIQUE,
	github_id  TEXT UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const userColumns = `id, email, name, role, google_id, github_id, created_at, updated_at`

// SQLiteStore implements UserStore over a single SQLite file
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection keeps inserts serialized
	// and lets the UNIQUE constraints arbitrate concurrent first logins.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(usersSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.LogInfoWithFields("storage", "SQLite user store opened", map[string]any{
		"path": path,
	})
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                  User
		role               string
		googleID, githubID sql.NullString
		created, updated   int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &googleID, &githubID, &created, &updated); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	u.GoogleID = googleID.String
	u.GitHubID = githubID.String
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return &u, nil
}

func (s *SQLiteStore) findOne(ctx context.Context, where string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) FindByProviderID(ctx context.Context, p Provider, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	switch p {
	case ProviderGoogle:
		return s.findOne(ctx, "google_id = ?", id)
	case ProviderGitHub:
		return s.findOne(ctx, "github_id = ?", id)
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
}

func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, "email = ?", emailutil.Normalize(email))
}

func (s *SQLiteStore) Create(ctx context.Context, u User) (*User, error) {
	u.Email = emailutil.Normalize(u.Email)
	if u.Role == "" {
		u.Role = RoleUser
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, string(u.Role),
		nullable(u.GoogleID), nullable(u.GitHubID),
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	log.LogDebugWithFields("storage", "User created", map[string]any{
		"user_id": u.ID,
		"backend": "sqlite",
	})
	return &u, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *SQLiteStore) SetRole(ctx context.Context, email string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE email = ?`,
		string(role), toMillis(s.now()), emailutil.Normalize(email),
	)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Close releases the underlying database
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
