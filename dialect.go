package schemarev

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNoSuchTable  = errors.New("no such table")
	ErrNoSuchColumn = errors.New("no such column")
	ErrColumnExists = errors.New("column already exists")
	ErrUnsupported  = errors.New("unsupported by dialect")
)

// Querier is the part of *sql.DB and *sql.Tx that dialects issue DDL through.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// ColumnInfo describes a column as currently present in the database.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// Recreate controls whether a batch alteration rebuilds the table.
type Recreate int

const (
	// RecreateAuto rebuilds only when the engine cannot alter in place.
	RecreateAuto Recreate = iota
	RecreateAlways
	RecreateNever
)

func (r Recreate) String() string {
	switch r {
	case RecreateAuto:
		return "auto"
	case RecreateAlways:
		return "always"
	case RecreateNever:
		return "never"
	default:
		return fmt.Sprintf("Recreate(%d)", int(r))
	}
}

// ParseRecreate parses the names returned by Recreate.String.
func ParseRecreate(s string) (Recreate, error) {
	switch s {
	case "", "auto":
		return RecreateAuto, nil
	case "always":
		return RecreateAlways, nil
	case "never":
		return RecreateNever, nil
	default:
		return RecreateAuto, fmt.Errorf("invalid recreate strategy: %q", s)
	}
}

// Dialect applies column alterations for one database engine.
//
// TableColumns returns ErrNoSuchTable when the table does not exist.
// AlterTable applies ops in order as one alteration of the table and may
// return ErrUnsupported when the requested strategy cannot be honoured.
type Dialect interface {
	Name() string
	TableColumns(ctx context.Context, q Querier, table string) ([]ColumnInfo, error)
	AlterTable(ctx context.Context, q Querier, table string, ops []ColumnOp, recreate Recreate) error
}
