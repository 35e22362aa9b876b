package revisions

import (
	"context"

	"github.com/jonathonwebb/schemarev"
)

// Baseline stands for the schema as the earlier tool left it. It has no
// operations of its own.
var Baseline = &schemarev.Revision{
	ID:       "262db18d21a7",
	Message:  "baseline",
	UpFunc:   noop,
	DownFunc: noop,
}

func noop(context.Context, *schemarev.Ops) error { return nil }
