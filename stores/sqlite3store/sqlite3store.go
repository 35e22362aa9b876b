package sqlite3store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jonathonwebb/schemarev"
	"github.com/mattn/go-sqlite3"
)

type Sqlite3Store struct {
	instance *sql.DB
}

var _ schemarev.Store = (*Sqlite3Store)(nil)

func New(db *sql.DB) *Sqlite3Store {
	return &Sqlite3Store{db}
}

func (s *Sqlite3Store) DB() *sql.DB {
	return s.instance
}

func (s *Sqlite3Store) Dialect() schemarev.Dialect {
	return Dialect{}
}

func (s *Sqlite3Store) Init(ctx context.Context) error {
	return s.Transact(ctx, func(q schemarev.Querier) error {
		if _, err := q.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_lock (id INTEGER PRIMARY KEY)"); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schemarev_version (version_num TEXT PRIMARY KEY NOT NULL, applied_at DATETIME NOT NULL DEFAULT (datetime('now')))"); err != nil {
			return err
		}
		return nil
	})
}

func (s *Sqlite3Store) Lock(ctx context.Context) error {
	_, err := s.instance.ExecContext(ctx, "INSERT INTO schema_lock (id) VALUES (1)")
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return schemarev.ErrLocked
	}
	return err
}

func (s *Sqlite3Store) Release(ctx context.Context) error {
	_, err := s.instance.ExecContext(ctx, "DELETE FROM schema_lock WHERE id = 1")
	return err
}

func (s *Sqlite3Store) Version(ctx context.Context) (string, error) {
	row := s.instance.QueryRowContext(ctx, "SELECT version_num FROM schemarev_version LIMIT 1")
	var version string
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", schemarev.ErrInitialVersion
		}
		return "", err
	}
	return version, nil
}

func (s *Sqlite3Store) SetVersion(ctx context.Context, q schemarev.Querier, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM schemarev_version"); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if _, err := q.ExecContext(ctx, "INSERT INTO schemarev_version (version_num) VALUES (?)", id); err != nil {
		return err
	}
	return nil
}

func (s *Sqlite3Store) Transact(ctx context.Context, fn func(schemarev.Querier) error) error {
	return schemarev.Transact(ctx, s.instance, fn)
}
