package schemarev

import (
	"context"
	"fmt"
)

type TypeKind int

const (
	KindDateTime TypeKind = iota + 1
	KindString
	KindInteger
	KindText
	KindBoolean
)

// ColumnType is a portable column type. Dialects decide the concrete
// spelling; String gives the generic one.
type ColumnType struct {
	Kind   TypeKind
	Length int
}

func DateTime() ColumnType { return ColumnType{Kind: KindDateTime} }
func String(n int) ColumnType { return ColumnType{Kind: KindString, Length: n} }
func Integer() ColumnType { return ColumnType{Kind: KindInteger} }
func Text() ColumnType { return ColumnType{Kind: KindText} }
func Boolean() ColumnType { return ColumnType{Kind: KindBoolean} }

func (t ColumnType) IsZero() bool { return t.Kind == 0 }

func (t ColumnType) String() string {
	switch t.Kind {
	case KindDateTime:
		return "DATETIME"
	case KindString:
		if t.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", t.Length)
		}
		return "VARCHAR"
	case KindInteger:
		return "INTEGER"
	case KindText:
		return "TEXT"
	case KindBoolean:
		return "BOOLEAN"
	default:
		return fmt.Sprintf("TypeKind(%d)", int(t.Kind))
	}
}

// Column is a column definition used when adding columns. Default is a raw
// SQL expression and is omitted when empty.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  string
}

type OpKind int

const (
	OpAddColumn OpKind = iota + 1
	OpDropColumn
)

func (k OpKind) String() string {
	switch k {
	case OpAddColumn:
		return "add_column"
	case OpDropColumn:
		return "drop_column"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// ColumnOp is a single column alteration. Drops only use Column.Name.
type ColumnOp struct {
	Kind   OpKind
	Column Column
}

func AddColumnOp(col Column) ColumnOp {
	return ColumnOp{Kind: OpAddColumn, Column: col}
}

func DropColumnOp(name string) ColumnOp {
	return ColumnOp{Kind: OpDropColumn, Column: Column{Name: name}}
}

// Ops is handed to revisions to alter the schema. It is bound to a single
// transaction and is not safe for concurrent use.
type Ops struct {
	q       Querier
	dialect Dialect
}

func NewOps(q Querier, d Dialect) *Ops {
	return &Ops{q: q, dialect: d}
}

// Batch collects the alterations of one table.
type Batch struct {
	table    string
	ops      []ColumnOp
	recreate Recreate
}

func (b *Batch) Table() string { return b.table }

func (b *Batch) AddColumn(col Column) {
	b.ops = append(b.ops, AddColumnOp(col))
}

func (b *Batch) DropColumn(name string) {
	b.ops = append(b.ops, DropColumnOp(name))
}

type BatchOption func(*Batch)

func WithRecreate(r Recreate) BatchOption {
	return func(b *Batch) { b.recreate = r }
}

// BatchAlterTable collects the alterations fn makes to table and applies them
// as one alteration once fn returns, so an engine that has to rebuild the
// table does so once.
func (o *Ops) BatchAlterTable(ctx context.Context, table string, fn func(*Batch) error, opts ...BatchOption) error {
	b := &Batch{table: table}
	for _, opt := range opts {
		opt(b)
	}
	if err := fn(b); err != nil {
		return fmt.Errorf("batch %s: %w", table, err)
	}
	return o.apply(ctx, b)
}

func (o *Ops) AddColumn(ctx context.Context, table string, col Column) error {
	return o.apply(ctx, &Batch{table: table, ops: []ColumnOp{AddColumnOp(col)}})
}

func (o *Ops) DropColumn(ctx context.Context, table, name string) error {
	return o.apply(ctx, &Batch{table: table, ops: []ColumnOp{DropColumnOp(name)}})
}

// Execute runs a raw statement in the revision's transaction.
func (o *Ops) Execute(ctx context.Context, query string, args ...any) error {
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

func (o *Ops) apply(ctx context.Context, b *Batch) error {
	if len(b.ops) == 0 {
		return nil
	}

	existing, err := o.dialect.TableColumns(ctx, o.q, b.table)
	if err != nil {
		return fmt.Errorf("alter %s: %w", b.table, err)
	}
	if err := checkOps(b.table, existing, b.ops); err != nil {
		return err
	}

	if err := o.dialect.AlterTable(ctx, o.q, b.table, b.ops, b.recreate); err != nil {
		return fmt.Errorf("alter %s: %w", b.table, err)
	}
	return nil
}

// checkOps replays ops against the existing column set so that a drop of a
// missing column or an add of a present one fails before anything changes.
func checkOps(table string, existing []ColumnInfo, ops []ColumnOp) error {
	present := make(map[string]bool, len(existing))
	for _, c := range existing {
		present[c.Name] = true
	}

	for _, op := range ops {
		name := op.Column.Name
		if name == "" {
			return fmt.Errorf("alter %s: %s: empty column name", table, op.Kind)
		}
		switch op.Kind {
		case OpDropColumn:
			if !present[name] {
				return fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, table, name)
			}
			delete(present, name)
		case OpAddColumn:
			if present[name] {
				return fmt.Errorf("%w: %s.%s", ErrColumnExists, table, name)
			}
			if op.Column.Type.IsZero() {
				return fmt.Errorf("alter %s: add_column %s: missing type", table, name)
			}
			present[name] = true
		default:
			return fmt.Errorf("alter %s: unknown op %s", table, op.Kind)
		}
	}

	if len(present) == 0 {
		return fmt.Errorf("%w: alter %s would leave the table without columns", ErrUnsupported, table)
	}
	return nil
}
