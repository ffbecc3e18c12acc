package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that drives reconciliation of
// transfers stuck in the broadcast status.
type Scheduler interface {
	// CreateReconcileSchedule creates (or retunes) the schedule that
	// triggers ReconcileTransfersWorkflow on the given interval.
	CreateReconcileSchedule(ctx context.Context, interval time.Duration) error

	// DeleteReconcileSchedule deletes the reconciliation schedule.
	// This stops pending transfers from being swept.
	DeleteReconcileSchedule(ctx context.Context) error
}

// TransferSubmitter starts the durable submission workflow for a signed
// transfer.
type TransferSubmitter interface {
	// SubmitTransfer starts SubmitTransferWorkflow and returns its
	// workflow ID. A transfer that is already being submitted collides
	// on the workflow ID and returns an error.
	SubmitTransfer(ctx context.Context, input SubmitTransferInput) (string, error)
}

// reconcileScheduleID is fixed: one reconciliation loop serves the whole
// journal.
const reconcileScheduleID = "reconcile-pending-transfers"

// submitWorkflowID returns the workflow ID for a transfer submission.
// Reusing the transfer ID makes concurrent duplicate submissions collide
// in Temporal.
func submitWorkflowID(transferID string) string {
	return "submit-transfer-" + transferID
}
