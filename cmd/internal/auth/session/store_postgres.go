package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a TokenStore backed by a key/value table in PostgreSQL.
//
// Ownership model:
//   - A store built with NewPostgresStore does NOT own the pool; Close is a no-op.
//   - A store built with OpenPostgresStore owns the pool it opened and closes it.
type PostgresStore struct {
	pool      *pgxpool.Pool
	schema    string
	key       string
	ownsPool  bool
	closeOnce sync.Once
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "chatline").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("session: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithStorageKey sets the row key the credential is stored under (default: "accessToken").
func WithStorageKey(key string) PostgresOption {
	return func(s *PostgresStore) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return errors.New("session: empty storage key")
		}
		s.key = key
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed TokenStore on a caller-owned pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "chatline",
		key:    "accessToken",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

// OpenPostgresStore connects to cfg.DatabaseURL, ensures the table exists and
// returns a store that owns the pool.
func OpenPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	conn, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: connect postgres: %w", err)
	}
	conn.Release()

	st, err := NewPostgresStore(pool, WithSchema(cfg.PostgresSchema), WithStorageKey(cfg.StorageKey))
	if err != nil {
		pool.Close()
		return nil, err
	}
	st.ownsPool = true

	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

// EnsureSchema creates the schema and key/value table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	kv := pgIdent(s.schema, "client_kv")
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;
CREATE TABLE IF NOT EXISTS %s (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`, pgx.Identifier{s.schema}.Sanitize(), kv)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("session: ensure schema: %w", err)
	}
	return nil
}

// Load returns the stored credential.
func (s *PostgresStore) Load(ctx context.Context) (string, error) {
	kv := pgIdent(s.schema, "client_kv")

	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM `+kv+` WHERE key = $1`, s.key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrNoCredential
	}
	return v, nil
}

// Save upserts the credential.
func (s *PostgresStore) Save(ctx context.Context, credential string) error {
	kv := pgIdent(s.schema, "client_kv")

	_, err := s.pool.Exec(ctx, `
INSERT INTO `+kv+` (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.key, credential,
	)
	return err
}

// Delete removes the credential row.
func (s *PostgresStore) Delete(ctx context.Context) error {
	kv := pgIdent(s.schema, "client_kv")

	_, err := s.pool.Exec(ctx, `DELETE FROM `+kv+` WHERE key = $1`, s.key)
	return err
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.closeOnce.Do(s.pool.Close)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
