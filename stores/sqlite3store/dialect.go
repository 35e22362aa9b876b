package sqlite3store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jonathonwebb/schemarev"
	"github.com/mattn/go-sqlite3"
)

const tmpTablePrefix = "_schemarev_tmp_"

// Dialect alters SQLite tables. Batches that drop columns are applied by
// rebuilding the table unless RecreateNever is requested, in which case the
// native ALTER TABLE statements are used one at a time.
type Dialect struct{}

var _ schemarev.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite3" }

type tableColumn struct {
	name    string
	typ     string
	notNull bool
	dflt    sql.NullString
	pk      int
}

func readColumns(ctx context.Context, q schemarev.Querier, table string) ([]tableColumn, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []tableColumn
	for rows.Next() {
		var c tableColumn
		if err := rows.Scan(&c.name, &c.typ, &c.notNull, &c.dflt, &c.pk); err != nil {
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

func (Dialect) TableColumns(ctx context.Context, q schemarev.Querier, table string) ([]schemarev.ColumnInfo, error) {
	cols, err := readColumns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	infos := make([]schemarev.ColumnInfo, len(cols))
	for i, c := range cols {
		infos[i] = schemarev.ColumnInfo{Name: c.name, Type: c.typ, Nullable: !c.notNull}
	}
	return infos, nil
}

func (d Dialect) AlterTable(ctx context.Context, q schemarev.Querier, table string, ops []schemarev.ColumnOp, recreate schemarev.Recreate) error {
	rebuild := recreate == schemarev.RecreateAlways
	if recreate == schemarev.RecreateAuto {
		rebuild = slices.ContainsFunc(ops, func(op schemarev.ColumnOp) bool {
			return op.Kind == schemarev.OpDropColumn
		})
	}
	if rebuild {
		return d.rebuild(ctx, q, table, ops)
	}

	for _, op := range ops {
		var stmt string
		switch op.Kind {
		case schemarev.OpAddColumn:
			stmt = fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), columnDef(op.Column))
		case schemarev.OpDropColumn:
			stmt = fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(table), quoteIdent(op.Column.Name))
		default:
			return fmt.Errorf("%w: %s", schemarev.ErrUnsupported, op.Kind)
		}
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return mapError(err)
		}
	}
	return nil
}

type rebuildColumn struct {
	name string
	def  string
	copy bool
	pk   int
}

type index struct {
	name string
	sql  string
}

// rebuild applies ops by creating a new table with the resulting columns,
// copying the surviving data across and swapping it in. Indexes that do not
// reference a dropped column are recreated. Triggers on the table are lost.
func (d Dialect) rebuild(ctx context.Context, q schemarev.Querier, table string, ops []schemarev.ColumnOp) error {
	existing, err := readColumns(ctx, q, table)
	if err != nil {
		return err
	}

	cols := make([]rebuildColumn, 0, len(existing)+len(ops))
	for _, c := range existing {
		def := quoteIdent(c.name)
		if c.typ != "" {
			def += " " + c.typ
		}
		if c.notNull {
			def += " NOT NULL"
		}
		if c.dflt.Valid {
			def += " DEFAULT " + c.dflt.String
		}
		cols = append(cols, rebuildColumn{name: c.name, def: def, copy: true, pk: c.pk})
	}

	dropped := map[string]bool{}
	for _, op := range ops {
		switch op.Kind {
		case schemarev.OpDropColumn:
			i := slices.IndexFunc(cols, func(c rebuildColumn) bool { return c.name == op.Column.Name })
			if i < 0 {
				return fmt.Errorf("%w: %s.%s", schemarev.ErrNoSuchColumn, table, op.Column.Name)
			}
			cols = slices.Delete(cols, i, i+1)
			dropped[op.Column.Name] = true
		case schemarev.OpAddColumn:
			if slices.ContainsFunc(cols, func(c rebuildColumn) bool { return c.name == op.Column.Name }) {
				return fmt.Errorf("%w: %s.%s", schemarev.ErrColumnExists, table, op.Column.Name)
			}
			cols = append(cols, rebuildColumn{name: op.Column.Name, def: columnDef(op.Column)})
		default:
			return fmt.Errorf("%w: %s", schemarev.ErrUnsupported, op.Kind)
		}
	}

	indexes, err := d.keptIndexes(ctx, q, table, dropped)
	if err != nil {
		return err
	}

	tmp := tmpTablePrefix + table
	if _, err := q.ExecContext(ctx, createTableSQL(tmp, cols)); err != nil {
		return mapError(err)
	}

	var copied []string
	for _, c := range cols {
		if c.copy {
			copied = append(copied, quoteIdent(c.name))
		}
	}
	if len(copied) > 0 {
		list := strings.Join(copied, ", ")
		stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", quoteIdent(tmp), list, list, quoteIdent(table))
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return mapError(err)
		}
	}

	if _, err := q.ExecContext(ctx, "DROP TABLE "+quoteIdent(table)); err != nil {
		return mapError(err)
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(tmp), quoteIdent(table))); err != nil {
		return mapError(err)
	}
	for _, idx := range indexes {
		if _, err := q.ExecContext(ctx, idx.sql); err != nil {
			return fmt.Errorf("recreate index %s: %w", idx.name, mapError(err))
		}
	}
	return nil
}

func createTableSQL(name string, cols []rebuildColumn) string {
	var pks []rebuildColumn
	for _, c := range cols {
		if c.pk > 0 {
			pks = append(pks, c)
		}
	}
	slices.SortFunc(pks, func(a, b rebuildColumn) int { return a.pk - b.pk })

	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		def := c.def
		if len(pks) == 1 && c.pk > 0 {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	if len(pks) > 1 {
		names := make([]string, len(pks))
		for i, c := range pks {
			names[i] = quoteIdent(c.name)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(names, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
}

// keptIndexes returns the explicitly created indexes of table that survive
// dropping the given columns. Automatic indexes have no SQL and come back
// with the table definition.
func (Dialect) keptIndexes(ctx context.Context, q schemarev.Querier, table string, dropped map[string]bool) ([]index, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name", table)
	if err != nil {
		return nil, err
	}
	var all []index
	for rows.Next() {
		var idx index
		if err := rows.Scan(&idx.name, &idx.sql); err != nil {
			rows.Close()
			return nil, err
		}
		all = append(all, idx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var kept []index
	for _, idx := range all {
		cols, err := indexColumns(ctx, q, idx.name)
		if err != nil {
			return nil, err
		}
		if !slices.ContainsFunc(cols, func(c string) bool { return dropped[c] }) {
			kept = append(kept, idx)
		}
	}
	return kept, nil
}

func indexColumns(ctx context.Context, q schemarev.Querier, name string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_index_info(?)", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var col sql.NullString
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		if col.Valid {
			cols = append(cols, col.String)
		}
	}
	return cols, rows.Err()
}

func columnDef(c schemarev.Column) string {
	def := quoteIdent(c.Name) + " " + c.Type.String()
	if !c.Nullable {
		def += " NOT NULL"
	}
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	return def
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return fmt.Errorf("%w: %w", schemarev.ErrNoSuchTable, err)
	case strings.Contains(msg, "no such column"):
		return fmt.Errorf("%w: %w", schemarev.ErrNoSuchColumn, err)
	case strings.Contains(msg, "duplicate column name"):
		return fmt.Errorf("%w: %w", schemarev.ErrColumnExists, err)
	case strings.Contains(msg, "cannot drop"):
		return fmt.Errorf("%w: %w", schemarev.ErrUnsupported, err)
	}
	return err
}
