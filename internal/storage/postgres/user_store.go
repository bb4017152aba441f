// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable receives curated users when no table is configured.
const DefaultTable = "curated_users"

// UserStoreConfig controls the Postgres connection pool used for curated users.
type UserStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// UserStore upserts curated users keyed by identity key.
type UserStore struct {
	pool  execCloser
	table string
}

var _ crawler.UserStore = (*UserStore)(nil)

// NewUserStore connects a pool using cfg.
func NewUserStore(ctx context.Context, cfg UserStoreConfig) (*UserStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &UserStore{pool: pool, table: table}, nil
}

// NewUserStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewUserStoreWithPool(pool execCloser, table string) (*UserStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &UserStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *UserStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the users table when it does not exist.
func (s *UserStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT PRIMARY KEY,
	login TEXT NOT NULL,
	avatar_url TEXT NOT NULL,
	created_at TIMESTAMPTZ,
	bio TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// UpsertUsers writes users in one transaction and returns the number of rows
// affected. A failure rolls back the whole batch.
func (s *UserStore) UpsertUsers(ctx context.Context, users []crawler.CuratedEntity) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("user store is not configured")
	}
	if len(users) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, login, avatar_url, created_at, bio, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (id) DO UPDATE SET
	login = EXCLUDED.login,
	avatar_url = EXCLUDED.avatar_url,
	created_at = EXCLUDED.created_at,
	bio = EXCLUDED.bio,
	updated_at = now()`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	affected := 0
	for _, u := range users {
		tag, err := tx.Exec(ctx, query, u.ID, u.Login, u.AvatarURL, createdAt(u.CreatedAt), u.Bio)
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("upsert user %d: %w", u.ID, err)
		}
		affected += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return affected, nil
}

func createdAt(ts crawler.Timestamp) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
