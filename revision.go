package schemarev

import (
	"context"
	"fmt"
)

// Revision is one step in the schema history. Down names the parent revision
// and is empty for a root.
type Revision struct {
	ID           string
	Down         string
	BranchLabels []string
	DependsOn    []string
	Message      string

	UpFunc   func(context.Context, *Ops) error
	DownFunc func(context.Context, *Ops) error
}

func (r *Revision) Up(ctx context.Context, ops *Ops) error {
	if r.UpFunc == nil {
		return fmt.Errorf("revision %s: missing up func", r.ID)
	}
	return r.UpFunc(ctx, ops)
}

func (r *Revision) Down(ctx context.Context, ops *Ops) error {
	if r.DownFunc == nil {
		return fmt.Errorf("revision %s: missing down func", r.ID)
	}
	return r.DownFunc(ctx, ops)
}

func (r *Revision) String() string {
	parent := r.Down
	if parent == "" {
		parent = "<base>"
	}
	if r.Message == "" {
		return fmt.Sprintf("%s -> %s", parent, r.ID)
	}
	return fmt.Sprintf("%s -> %s, %s", parent, r.ID, r.Message)
}
