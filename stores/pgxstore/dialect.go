package pgxstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonathonwebb/schemarev"
)

// PostgreSQL error codes mapped onto the schemarev sentinels.
const (
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
	codeDuplicateColumn = "42701"
)

// Dialect alters PostgreSQL tables in place. A batch becomes a single
// ALTER TABLE statement; tables are never rebuilt.
type Dialect struct{}

var _ schemarev.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) TableColumns(ctx context.Context, q schemarev.Querier, table string) ([]schemarev.ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var cols []schemarev.ColumnInfo
	for rows.Next() {
		var c schemarev.ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", schemarev.ErrNoSuchTable, table)
	}
	return cols, nil
}

func (Dialect) AlterTable(ctx context.Context, q schemarev.Querier, table string, ops []schemarev.ColumnOp, recreate schemarev.Recreate) error {
	if recreate == schemarev.RecreateAlways {
		return fmt.Errorf("%w: postgres alters tables in place, recreate=%s", schemarev.ErrUnsupported, recreate)
	}
	stmt, err := alterTableSQL(table, ops)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return mapError(err)
	}
	return nil
}

func alterTableSQL(table string, ops []schemarev.ColumnOp) (string, error) {
	actions := make([]string, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case schemarev.OpAddColumn:
			actions = append(actions, "ADD COLUMN "+columnDef(op.Column))
		case schemarev.OpDropColumn:
			actions = append(actions, "DROP COLUMN "+pgx.Identifier{op.Column.Name}.Sanitize())
		default:
			return "", fmt.Errorf("%w: %s", schemarev.ErrUnsupported, op.Kind)
		}
	}
	return fmt.Sprintf("ALTER TABLE %s %s", pgx.Identifier{table}.Sanitize(), strings.Join(actions, ", ")), nil
}

func columnDef(c schemarev.Column) string {
	def := pgx.Identifier{c.Name}.Sanitize() + " " + columnType(c.Type)
	if !c.Nullable {
		def += " NOT NULL"
	}
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	return def
}

func columnType(t schemarev.ColumnType) string {
	switch t.Kind {
	case schemarev.KindDateTime:
		return "TIMESTAMP WITHOUT TIME ZONE"
	default:
		return t.String()
	}
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUndefinedTable:
		return fmt.Errorf("%w: %w", schemarev.ErrNoSuchTable, err)
	case codeUndefinedColumn:
		return fmt.Errorf("%w: %w", schemarev.ErrNoSuchColumn, err)
	case codeDuplicateColumn:
		return fmt.Errorf("%w: %w", schemarev.ErrColumnExists, err)
	}
	return err
}
