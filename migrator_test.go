package schemarev_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonathonwebb/schemarev"
)

type recorder struct {
	calls []string
}

func (r *recorder) step(dir, id string) func(context.Context, *schemarev.Ops) error {
	return func(context.Context, *schemarev.Ops) error {
		r.calls = append(r.calls, dir+":"+id)
		return nil
	}
}

func failingStep(context.Context, *schemarev.Ops) error {
	return fmt.Errorf("test revision error")
}

// chain builds a linear history of ids, each revising the one before it.
// The revision named fail errors in both directions.
func (r *recorder) chain(t *testing.T, fail string, ids ...string) *schemarev.History {
	t.Helper()

	var revs []*schemarev.Revision
	down := ""
	for _, id := range ids {
		rev := &schemarev.Revision{ID: id, Down: down, UpFunc: r.step("up", id), DownFunc: r.step("down", id)}
		if id == fail {
			rev.UpFunc = failingStep
			rev.DownFunc = failingStep
		}
		revs = append(revs, rev)
		down = id
	}

	h, err := schemarev.NewHistory(revs...)
	if err != nil {
		t.Fatalf("failed to build history: %v", err)
	}
	return h
}

func TestMigrator_Upgrade(t *testing.T) {
	cases := []struct {
		name              string
		store             *fakeStore
		target            string
		fail              string
		holdLockOnFailure bool

		wantErr     bool
		wantVersion string
		wantCalls   []string
		wantLocked  bool
	}{
		{
			name:   "none_applied",
			store:  &fakeStore{},
			target: "head",

			wantVersion: "c3",
			wantCalls:   []string{"up:a1", "up:b2", "up:c3"},
		},
		{
			name:   "some_applied",
			store:  &fakeStore{version: "a1"},
			target: "head",

			wantVersion: "c3",
			wantCalls:   []string{"up:b2", "up:c3"},
		},
		{
			name:   "all_applied",
			store:  &fakeStore{version: "c3"},
			target: "head",

			wantVersion: "c3",
		},
		{
			name:   "to_specific_revision",
			store:  &fakeStore{version: "a1"},
			target: "b2",

			wantVersion: "b2",
			wantCalls:   []string{"up:b2"},
		},
		{
			name:   "relative",
			store:  &fakeStore{},
			target: "+2",

			wantVersion: "b2",
			wantCalls:   []string{"up:a1", "up:b2"},
		},
		{
			name:   "prefix",
			store:  &fakeStore{},
			target: "c",

			wantVersion: "c3",
			wantCalls:   []string{"up:a1", "up:b2", "up:c3"},
		},
		{
			name:   "target_behind_current",
			store:  &fakeStore{version: "c3"},
			target: "a1",

			wantErr:     true,
			wantVersion: "c3",
		},
		{
			name:   "unknown_target",
			store:  &fakeStore{},
			target: "zz",

			wantErr: true,
		},
		{
			name:   "unknown_current",
			store:  &fakeStore{version: "x9"},
			target: "head",

			wantErr:     true,
			wantVersion: "x9",
		},
		{
			name: "init_err",
			store: &fakeStore{
				initFunc: func(context.Context, *fakeStore) error { return fmt.Errorf("test init error") },
			},
			target: "head",

			wantErr: true,
		},
		{
			name: "lock_err",
			store: &fakeStore{
				lockFunc: func(context.Context, *fakeStore) error { return fmt.Errorf("test lock error") },
			},
			target: "head",

			wantErr: true,
		},
		{
			name:   "locked_by_other",
			store:  &fakeStore{locked: true},
			target: "head",

			wantErr:    true,
			wantLocked: true,
		},
		{
			name: "release_err",
			store: &fakeStore{
				releaseFunc: func(context.Context, *fakeStore) error { return fmt.Errorf("test release error") },
			},
			target: "head",

			wantErr:     true,
			wantVersion: "c3",
			wantCalls:   []string{"up:a1", "up:b2", "up:c3"},
			wantLocked:  true,
		},
		{
			name: "version_err",
			store: &fakeStore{
				versionFunc: func(context.Context, *fakeStore) (string, error) { return "", fmt.Errorf("test version error") },
			},
			target: "head",

			wantErr: true,
		},
		{
			name:   "up_err",
			store:  &fakeStore{},
			target: "head",
			fail:   "b2",

			wantErr:     true,
			wantVersion: "a1",
			wantCalls:   []string{"up:a1"},
		},
		{
			name:              "up_err_hold_lock",
			store:             &fakeStore{},
			target:            "head",
			fail:              "b2",
			holdLockOnFailure: true,

			wantErr:     true,
			wantVersion: "a1",
			wantCalls:   []string{"up:a1"},
			wantLocked:  true,
		},
		{
			name: "set_version_err",
			store: &fakeStore{
				setFunc: func(_ context.Context, id string, _ *fakeStore) error {
					if id == "b2" {
						return fmt.Errorf("test set version error")
					}
					return nil
				},
			},
			target: "head",

			wantErr:     true,
			wantVersion: "a1",
			wantCalls:   []string{"up:a1", "up:b2"},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			m := &schemarev.Migrator{
				Store:             tt.store,
				History:           rec.chain(t, tt.fail, "a1", "b2", "c3"),
				HoldLockOnFailure: tt.holdLockOnFailure,
			}

			err := m.Upgrade(context.Background(), tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Upgrade() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.store.version != tt.wantVersion {
				t.Errorf("version = %q, want %q", tt.store.version, tt.wantVersion)
			}
			if diff := cmp.Diff(tt.wantCalls, rec.calls, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if tt.store.locked != tt.wantLocked {
				t.Errorf("locked = %v, want %v", tt.store.locked, tt.wantLocked)
			}
		})
	}
}

func TestMigrator_Downgrade(t *testing.T) {
	cases := []struct {
		name              string
		store             *fakeStore
		target            string
		fail              string
		holdLockOnFailure bool

		wantErr     bool
		wantVersion string
		wantCalls   []string
		wantLocked  bool
	}{
		{
			name:   "revert_all",
			store:  &fakeStore{version: "c3"},
			target: "base",

			wantVersion: "",
			wantCalls:   []string{"down:c3", "down:b2", "down:a1"},
		},
		{
			name:   "revert_partial",
			store:  &fakeStore{version: "c3"},
			target: "a1",

			wantVersion: "a1",
			wantCalls:   []string{"down:c3", "down:b2"},
		},
		{
			name:   "relative",
			store:  &fakeStore{version: "c3"},
			target: "-1",

			wantVersion: "b2",
			wantCalls:   []string{"down:c3"},
		},
		{
			name:   "already_at_target",
			store:  &fakeStore{version: "b2"},
			target: "b2",

			wantVersion: "b2",
		},
		{
			name:   "at_base",
			store:  &fakeStore{},
			target: "base",

			wantVersion: "",
		},
		{
			name:   "target_ahead_of_current",
			store:  &fakeStore{version: "a1"},
			target: "c3",

			wantErr:     true,
			wantVersion: "a1",
		},
		{
			name:   "relative_past_base",
			store:  &fakeStore{version: "a1"},
			target: "-2",

			wantErr:     true,
			wantVersion: "a1",
		},
		{
			name:   "down_err",
			store:  &fakeStore{version: "c3"},
			target: "base",
			fail:   "b2",

			wantErr:     true,
			wantVersion: "b2",
			wantCalls:   []string{"down:c3"},
		},
		{
			name:              "down_err_hold_lock",
			store:             &fakeStore{version: "c3"},
			target:            "base",
			fail:              "b2",
			holdLockOnFailure: true,

			wantErr:     true,
			wantVersion: "b2",
			wantCalls:   []string{"down:c3"},
			wantLocked:  true,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			m := &schemarev.Migrator{
				Store:             tt.store,
				History:           rec.chain(t, tt.fail, "a1", "b2", "c3"),
				HoldLockOnFailure: tt.holdLockOnFailure,
			}

			err := m.Downgrade(context.Background(), tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Downgrade() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.store.version != tt.wantVersion {
				t.Errorf("version = %q, want %q", tt.store.version, tt.wantVersion)
			}
			if diff := cmp.Diff(tt.wantCalls, rec.calls, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if tt.store.locked != tt.wantLocked {
				t.Errorf("locked = %v, want %v", tt.store.locked, tt.wantLocked)
			}
		})
	}
}

func TestMigrator_Stamp(t *testing.T) {
	rec := &recorder{}
	store := &fakeStore{}
	m := &schemarev.Migrator{Store: store, History: rec.chain(t, "", "a1", "b2", "c3")}

	if err := m.Stamp(context.Background(), "b2"); err != nil {
		t.Fatalf("Stamp() unexpected error = %v", err)
	}
	if err := m.Stamp(context.Background(), "base"); err != nil {
		t.Fatalf("Stamp() unexpected error = %v", err)
	}

	if diff := cmp.Diff([]string{"b2", ""}, store.stamped); diff != "" {
		t.Errorf("stamped mismatch (-want +got):\n%s", diff)
	}
	if len(rec.calls) != 0 {
		t.Errorf("Stamp() ran revisions: %v", rec.calls)
	}
	if store.locked {
		t.Error("Stamp() left the store locked")
	}
}

func TestMigrator_CurrentAndPlan(t *testing.T) {
	rec := &recorder{}
	store := &fakeStore{version: "b2"}
	m := &schemarev.Migrator{Store: store, History: rec.chain(t, "", "a1", "b2", "c3")}

	current, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() unexpected error = %v", err)
	}
	if current != "b2" {
		t.Errorf("Current() = %q, want %q", current, "b2")
	}

	tests := []struct {
		target  string
		wantDir schemarev.Direction
		wantIDs []string
	}{
		{"head", schemarev.DirectionUp, []string{"c3"}},
		{"base", schemarev.DirectionDown, []string{"b2", "a1"}},
		{"b2", schemarev.DirectionNone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			plan, err := m.Plan(context.Background(), tt.target)
			if err != nil {
				t.Fatalf("Plan() unexpected error = %v", err)
			}
			if plan.Direction != tt.wantDir {
				t.Errorf("Plan().Direction = %v, want %v", plan.Direction, tt.wantDir)
			}
			if diff := cmp.Diff(tt.wantIDs, ids(plan.Steps), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Plan().Steps mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if len(rec.calls) != 0 {
		t.Errorf("Plan() ran revisions: %v", rec.calls)
	}
}

func TestMigrator_PropagatesOpsErrors(t *testing.T) {
	dialect := newFakeDialect(map[string][]string{"waybill_log": {"id", "approved_by"}})
	store := &fakeStore{dialect: dialect}

	h, err := schemarev.NewHistory(&schemarev.Revision{
		ID: "a1",
		UpFunc: func(ctx context.Context, op *schemarev.Ops) error {
			return op.DropColumn(ctx, "waybill_log", "approval_status")
		},
		DownFunc: failingStep,
	})
	if err != nil {
		t.Fatalf("failed to build history: %v", err)
	}

	m := &schemarev.Migrator{Store: store, History: h}
	err = m.Upgrade(context.Background(), "head")
	if !errors.Is(err, schemarev.ErrNoSuchColumn) {
		t.Fatalf("Upgrade() error = %v, want ErrNoSuchColumn", err)
	}
	if store.version != "" {
		t.Errorf("version = %q after failed upgrade, want base", store.version)
	}
	if store.rollback != 1 {
		t.Errorf("rollbacks = %d, want 1", store.rollback)
	}
	if len(dialect.calls) != 0 {
		t.Errorf("dialect altered tables after a failed check: %v", dialect.calls)
	}
}

func TestMigrator_MissingDependencies(t *testing.T) {
	if err := (&schemarev.Migrator{}).Upgrade(context.Background(), "head"); err == nil {
		t.Error("Upgrade() without store expected error but got nil")
	}
	if err := (&schemarev.Migrator{Store: &fakeStore{}}).Downgrade(context.Background(), "base"); err == nil {
		t.Error("Downgrade() without history expected error but got nil")
	}
}
