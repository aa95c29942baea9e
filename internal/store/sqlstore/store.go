// Package sqlstore persists auth users in PostgreSQL (pgx) or SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"vetrai.org/internal/auth"
)

const pgErrUniqueViolation = "23505"

var _ auth.UserStore = (*Store)(nil)

// Store implements auth.UserStore over the auth_users table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New wraps an existing handle. The driver name decides the placeholder style.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects using a URL: postgres://… / postgresql://… for PostgreSQL,
// sqlite://<path> for SQLite (sqlite://:memory: for a private in-memory db).
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	var (
		db  *sqlx.DB
		err error
	)
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		db, err = sqlx.Open("pgx", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return nil, errors.New("sqlite path is required")
		}
		if path != ":memory:" {
			path = filepath.Clean(path)
		}
		db, err = sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One writer at a time; also keeps :memory: databases on a single connection.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database url %q", redact(databaseURL))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

func redact(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i+3] + "…"
	}
	return "…"
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type userRow struct {
	ID             int64     `db:"id"`
	Username       string    `db:"username"`
	Email          string    `db:"email"`
	HashedPassword string    `db:"hashed_password"`
	FullName       *string   `db:"full_name"`
	IsActive       bool      `db:"is_active"`
	IsSuperuser    bool      `db:"is_superuser"`
	OrgID          int64     `db:"org_id"`
	Role           string    `db:"role"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r userRow) toUser() *auth.User {
	return &auth.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.HashedPassword,
		FullName:     r.FullName,
		IsActive:     r.IsActive,
		IsSuperuser:  r.IsSuperuser,
		OrgID:        r.OrgID,
		Role:         auth.Role(r.Role),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

const selectUser = `select id, username, email, hashed_password, full_name, is_active, is_superuser, org_id, role, created_at, updated_at from auth_users`

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `select count(*) from auth_users`); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	if u.OrgID == 0 {
		u.OrgID = auth.DefaultOrgID
	}
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	now := s.now().UTC().Truncate(time.Microsecond)

	q := s.db.Rebind(`
		insert into auth_users (username, email, hashed_password, full_name, is_active, is_superuser, org_id, role, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		returning id`)
	var id int64
	err := s.db.QueryRowxContext(ctx, q,
		u.Username, u.Email, u.PasswordHash, u.FullName,
		u.IsActive, u.IsSuperuser, u.OrgID, string(u.Role), now, now,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findOne(ctx, s.db.Rebind(selectUser+` where username = ?`), username)
}

func (s *Store) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.findOne(ctx, s.db.Rebind(selectUser+` where id = ?`), id)
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*auth.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return row.toUser(), nil
}

func (s *Store) UpdateRole(ctx context.Context, id int64, role auth.Role, orgID int64) error {
	return s.update(ctx, `update auth_users set role = ?, org_id = ?, updated_at = ? where id = ?`,
		string(role), orgID, s.now().UTC(), id)
}

func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	return s.update(ctx, `update auth_users set is_active = ?, updated_at = ? where id = ?`,
		active, s.now().UTC(), id)
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return s.update(ctx, `update auth_users set hashed_password = ?, updated_at = ? where id = ?`,
		passwordHash, s.now().UTC(), id)
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
