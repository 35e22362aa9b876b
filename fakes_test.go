package schemarev_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"slices"
	"sync"

	"github.com/jonathonwebb/schemarev"
)

type alterCall struct {
	Table    string
	Ops      []schemarev.ColumnOp
	Recreate schemarev.Recreate
}

// fakeDialect keeps table columns in memory and records every alteration.
type fakeDialect struct {
	tables   map[string][]string
	calls    []alterCall
	alterErr error
}

func newFakeDialect(tables map[string][]string) *fakeDialect {
	d := &fakeDialect{tables: map[string][]string{}}
	for name, cols := range tables {
		d.tables[name] = slices.Clone(cols)
	}
	return d
}

func (d *fakeDialect) Name() string { return "fake" }

func (d *fakeDialect) TableColumns(_ context.Context, _ schemarev.Querier, table string) ([]schemarev.ColumnInfo, error) {
	cols, ok := d.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schemarev.ErrNoSuchTable, table)
	}
	infos := make([]schemarev.ColumnInfo, len(cols))
	for i, c := range cols {
		infos[i] = schemarev.ColumnInfo{Name: c, Nullable: true}
	}
	return infos, nil
}

func (d *fakeDialect) AlterTable(_ context.Context, _ schemarev.Querier, table string, ops []schemarev.ColumnOp, recreate schemarev.Recreate) error {
	d.calls = append(d.calls, alterCall{Table: table, Ops: slices.Clone(ops), Recreate: recreate})
	if d.alterErr != nil {
		return d.alterErr
	}
	cols := d.tables[table]
	for _, op := range ops {
		switch op.Kind {
		case schemarev.OpDropColumn:
			cols = slices.DeleteFunc(cols, func(c string) bool { return c == op.Column.Name })
		case schemarev.OpAddColumn:
			cols = append(cols, op.Column.Name)
		}
	}
	d.tables[table] = cols
	return nil
}

type fakeStore struct {
	version  string
	stamped  []string
	locked   bool
	dialect  *fakeDialect
	mu       sync.Mutex
	rollback int

	initCalls    int
	lockCalls    int
	releaseCalls int
	versionCalls int

	initFunc    func(context.Context, *fakeStore) error
	lockFunc    func(context.Context, *fakeStore) error
	releaseFunc func(context.Context, *fakeStore) error
	versionFunc func(context.Context, *fakeStore) (string, error)
	setFunc     func(context.Context, string, *fakeStore) error
}

func defaultLockFunc(_ context.Context, s *fakeStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return schemarev.ErrLocked
	}
	s.locked = true
	return nil
}

func defaultReleaseFunc(_ context.Context, s *fakeStore) error {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
	return nil
}

func defaultVersionFunc(_ context.Context, s *fakeStore) (string, error) {
	if s.version == "" {
		return "", schemarev.ErrInitialVersion
	}
	return s.version, nil
}

func (s *fakeStore) DB() *sql.DB { return nil }

func (s *fakeStore) Dialect() schemarev.Dialect {
	if s.dialect == nil {
		s.dialect = newFakeDialect(nil)
	}
	return s.dialect
}

func (s *fakeStore) Init(ctx context.Context) error {
	s.initCalls += 1
	if s.initFunc != nil {
		return s.initFunc(ctx, s)
	}
	return nil
}

func (s *fakeStore) Lock(ctx context.Context) error {
	s.lockCalls += 1
	if s.lockFunc != nil {
		return s.lockFunc(ctx, s)
	}
	return defaultLockFunc(ctx, s)
}

func (s *fakeStore) Release(ctx context.Context) error {
	s.releaseCalls += 1
	if s.releaseFunc != nil {
		return s.releaseFunc(ctx, s)
	}
	return defaultReleaseFunc(ctx, s)
}

func (s *fakeStore) Version(ctx context.Context) (string, error) {
	s.versionCalls += 1
	if s.versionFunc != nil {
		return s.versionFunc(ctx, s)
	}
	return defaultVersionFunc(ctx, s)
}

func (s *fakeStore) SetVersion(ctx context.Context, _ schemarev.Querier, id string) error {
	if s.setFunc != nil {
		if err := s.setFunc(ctx, id, s); err != nil {
			return err
		}
	}
	s.version = id
	s.stamped = append(s.stamped, id)
	return nil
}

// Transact undoes version changes made by a failing fn, standing in for a
// rolled back transaction.
func (s *fakeStore) Transact(_ context.Context, fn func(schemarev.Querier) error) error {
	version, n := s.version, len(s.stamped)
	if err := fn(nil); err != nil {
		s.version = version
		s.stamped = s.stamped[:n]
		s.rollback += 1
		return err
	}
	return nil
}

type execCall struct {
	Query string
	Args  []any
}

// recordingQuerier records Exec calls. Queries are not supported.
type recordingQuerier struct {
	execs []execCall
}

func (q *recordingQuerier) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	q.execs = append(q.execs, execCall{Query: query, Args: args})
	return driver.RowsAffected(0), nil
}

func (q *recordingQuerier) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, fmt.Errorf("query not supported")
}

func (q *recordingQuerier) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}
