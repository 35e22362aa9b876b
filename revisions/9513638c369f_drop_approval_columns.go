package revisions

import (
	"context"

	"github.com/jonathonwebb/schemarev"
)

var DropApprovalColumns = &schemarev.Revision{
	ID:       "9513638c369f",
	Down:     "262db18d21a7",
	Message:  "drop approval columns from secondary_approvers and waybill_log",
	UpFunc:   dropApprovalColumnsUp,
	DownFunc: dropApprovalColumnsDown,
}

func dropApprovalColumnsUp(ctx context.Context, op *schemarev.Ops) error {
	if err := op.BatchAlterTable(ctx, "secondary_approvers", func(b *schemarev.Batch) error {
		b.DropColumn("approved_at")
		return nil
	}); err != nil {
		return err
	}

	return op.BatchAlterTable(ctx, "waybill_log", func(b *schemarev.Batch) error {
		b.DropColumn("approved_by")
		b.DropColumn("approval_status")
		b.DropColumn("approval_time")
		return nil
	})
}

func dropApprovalColumnsDown(ctx context.Context, op *schemarev.Ops) error {
	if err := op.BatchAlterTable(ctx, "waybill_log", func(b *schemarev.Batch) error {
		b.AddColumn(schemarev.Column{Name: "approval_time", Type: schemarev.DateTime(), Nullable: true})
		b.AddColumn(schemarev.Column{Name: "approval_status", Type: schemarev.String(50), Nullable: true})
		b.AddColumn(schemarev.Column{Name: "approved_by", Type: schemarev.String(50), Nullable: true})
		return nil
	}); err != nil {
		return err
	}

	return op.BatchAlterTable(ctx, "secondary_approvers", func(b *schemarev.Batch) error {
		b.AddColumn(schemarev.Column{Name: "approved_at", Type: schemarev.DateTime(), Nullable: true})
		return nil
	})
}
