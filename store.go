package schemarev

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrLocked         = errors.New("version store is locked")
	ErrInitialVersion = errors.New("no revision applied")
)

// Store tracks the current revision of a database and serializes runners.
//
// Version returns ErrInitialVersion when no revision is applied. SetVersion
// records id as current through q, so the change commits with the revision
// that caused it; an empty id returns the database to base. Transact runs fn
// in one transaction and rolls back if fn fails.
type Store interface {
	DB() *sql.DB
	Dialect() Dialect

	Init(ctx context.Context) error
	Lock(ctx context.Context) error
	Release(ctx context.Context) error

	Version(ctx context.Context) (string, error)
	SetVersion(ctx context.Context, q Querier, id string) error
	Transact(ctx context.Context, fn func(q Querier) error) error
}

// Transact is the shared implementation of Store.Transact for stores backed
// by *sql.DB.
func Transact(ctx context.Context, db *sql.DB, fn func(q Querier) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
