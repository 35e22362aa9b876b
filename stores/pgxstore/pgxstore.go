// Package pgxstore keeps the schema version of a PostgreSQL database, using
// pgx through its database/sql driver.
package pgxstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jonathonwebb/schemarev"
)

const lockName = "schemarev"

// PgxStore serializes runners with a session-level advisory lock, held on a
// connection pinned for the duration of the lock.
type PgxStore struct {
	instance *sql.DB

	mu   sync.Mutex
	conn *sql.Conn
}

var _ schemarev.Store = (*PgxStore)(nil)

// Open connects to dsn with the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping: %w", err), db.Close())
	}
	return db, nil
}

func New(db *sql.DB) *PgxStore {
	return &PgxStore{instance: db}
}

func (s *PgxStore) DB() *sql.DB {
	return s.instance
}

func (s *PgxStore) Dialect() schemarev.Dialect {
	return Dialect{}
}

func (s *PgxStore) Init(ctx context.Context) error {
	_, err := s.instance.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schemarev_version (
		version_num VARCHAR(32) PRIMARY KEY,
		applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (s *PgxStore) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return schemarev.ErrLocked
	}

	conn, err := s.instance.Conn(ctx)
	if err != nil {
		return err
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey(lockName)).Scan(&ok); err != nil {
		return errors.Join(err, conn.Close())
	}
	if !ok {
		if err := conn.Close(); err != nil {
			return err
		}
		return schemarev.ErrLocked
	}
	s.conn = conn
	return nil
}

func (s *PgxStore) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockKey(lockName))
	return errors.Join(err, conn.Close())
}

func (s *PgxStore) Version(ctx context.Context) (string, error) {
	var version string
	err := s.instance.QueryRowContext(ctx, "SELECT version_num FROM schemarev_version LIMIT 1").Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", schemarev.ErrInitialVersion
		}
		return "", err
	}
	return version, nil
}

func (s *PgxStore) SetVersion(ctx context.Context, q schemarev.Querier, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM schemarev_version"); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	_, err := q.ExecContext(ctx, "INSERT INTO schemarev_version (version_num) VALUES ($1)", id)
	return err
}

func (s *PgxStore) Transact(ctx context.Context, fn func(schemarev.Querier) error) error {
	return schemarev.Transact(ctx, s.instance, fn)
}

// lockKey hashes name into the positive int64 range pg_advisory_lock takes.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
