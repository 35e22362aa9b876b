// Package revisions holds the schema history of the waybill database.
//
// The history starts at 262db18d21a7. Revisions before it were managed by an
// earlier tool and are not reproduced here; databases created by it are
// stamped at the baseline before upgrading.
package revisions

import "github.com/jonathonwebb/schemarev"

// All returns every revision in the order they were written.
func All() []*schemarev.Revision {
	return []*schemarev.Revision{
		Baseline,
		DropApprovalColumns,
	}
}

func History() (*schemarev.History, error) {
	return schemarev.NewHistory(All()...)
}
