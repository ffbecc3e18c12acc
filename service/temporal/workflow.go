package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/solforge/service/db"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SubmitTransferWorkflow broadcasts a signed transfer and durably tracks
// it to a terminal journal status.
//
// The steps, each an activity: broadcast the signed transaction exactly
// once, record the signature in the journal, wait for finalized
// commitment, then record the terminal outcome and publish the
// lifecycle event.
//
// Broadcast runs with a single attempt: re-sending the same wire bytes
// after an ambiguous failure risks double submission. Every other step
// retries on the standard policy. If confirmation polling itself fails,
// the entry stays in the broadcast status and the reconciliation
// workflow decides its fate later.
func SubmitTransferWorkflow(ctx workflow.Context, input SubmitTransferInput) (*SubmitTransferResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SubmitTransferWorkflow started",
		"transfer_id", input.TransferID,
		"wallet", input.WalletAddress,
	)

	result := &SubmitTransferResult{
		TransferID: input.TransferID,
		SubmitTime: workflow.Now(ctx),
	}

	// Standard options for journal and confirmation activities.
	// ConfirmTransfer blocks for up to the assembler's confirmation
	// timeout, so the activity timeout stays comfortably above it.
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: Broadcast with a single attempt.
	broadcastCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var broadcastResult *BroadcastTransferResult
	err := workflow.ExecuteActivity(broadcastCtx, a.BroadcastTransfer, BroadcastTransferInput{
		TransferID:        input.TransferID,
		WalletAddress:     input.WalletAddress,
		TransactionBase64: input.TransactionBase64,
	}).Get(ctx, &broadcastResult)
	if err != nil {
		logger.Error("failed to broadcast transfer",
			"transfer_id", input.TransferID,
			"error", err,
		)

		// Record the failure so the journal reflects the terminal state.
		reason := fmt.Sprintf("broadcast failed: %v", err)
		recordErr := workflow.ExecuteActivity(ctx, a.RecordTransferOutcome, RecordTransferOutcomeInput{
			TransferID:    input.TransferID,
			WalletAddress: input.WalletAddress,
			Status:        db.StatusFailed,
			FailureReason: &reason,
		}).Get(ctx, nil)
		if recordErr != nil {
			logger.Error("failed to record broadcast failure",
				"transfer_id", input.TransferID,
				"error", recordErr,
			)
		}

		result.Status = db.StatusFailed
		result.Error = &reason
		return result, fmt.Errorf("failed to broadcast transfer: %w", err)
	}

	result.Signature = &broadcastResult.Signature
	logger.Info("broadcast transfer",
		"transfer_id", input.TransferID,
		"signature", broadcastResult.Signature,
	)

	// Step 2: Record the signature in the journal. A failure here is
	// logged but not fatal; the transaction is already on the wire and
	// the outcome step retries the journal write.
	err = workflow.ExecuteActivity(ctx, a.MarkTransferBroadcast, MarkTransferBroadcastInput{
		TransferID:    input.TransferID,
		WalletAddress: input.WalletAddress,
		Signature:     broadcastResult.Signature,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to mark transfer broadcast",
			"transfer_id", input.TransferID,
			"error", err,
		)
	}

	// Step 3: Wait for the on-chain outcome.
	var confirmResult *ConfirmTransferResult
	err = workflow.ExecuteActivity(ctx, a.ConfirmTransfer, ConfirmTransferInput{
		TransferID:    input.TransferID,
		WalletAddress: input.WalletAddress,
		Signature:     broadcastResult.Signature,
	}).Get(ctx, &confirmResult)
	if err != nil {
		// Confirmation polling failed; the transfer may still land. Leave
		// the entry in the broadcast status for reconciliation instead of
		// guessing a terminal state.
		logger.Error("failed to confirm transfer",
			"transfer_id", input.TransferID,
			"signature", broadcastResult.Signature,
			"error", err,
		)
		errMsg := fmt.Sprintf("confirmation failed: %v", err)
		result.Status = db.StatusBroadcast
		result.Error = &errMsg
		return result, fmt.Errorf("failed to confirm transfer: %w", err)
	}

	// Step 4: Record the terminal outcome.
	err = workflow.ExecuteActivity(ctx, a.RecordTransferOutcome, RecordTransferOutcomeInput{
		TransferID:    input.TransferID,
		WalletAddress: input.WalletAddress,
		Status:        confirmResult.Status,
		FailureReason: confirmResult.FailureReason,
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("failed to record transfer outcome",
			"transfer_id", input.TransferID,
			"status", confirmResult.Status,
			"error", err,
		)
		errMsg := fmt.Sprintf("failed to record outcome: %v", err)
		result.Status = confirmResult.Status
		result.Error = &errMsg
		return result, fmt.Errorf("failed to record transfer outcome: %w", err)
	}

	result.Status = confirmResult.Status
	logger.Info("SubmitTransferWorkflow completed",
		"transfer_id", input.TransferID,
		"signature", broadcastResult.Signature,
		"status", result.Status,
	)

	return result, nil
}

// ReconcileTransfersWorkflow sweeps journal entries stuck in the
// broadcast status and settles them against the chain. It is triggered
// by a Temporal schedule at a configured interval.
//
// For each pending entry:
//   - a finalized signature confirms the transfer
//   - an on-chain error fails it
//   - an unknown signature older than the staleness cutoff fails it
//     (its blockhash has long expired, so it can never land)
//   - anything else is left for the next pass
func ReconcileTransfersWorkflow(ctx workflow.Context, input ReconcileTransfersInput) (*ReconcileTransfersResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileTransfersWorkflow started")

	if input.Limit == 0 {
		input.Limit = 100
	}
	if input.StaleAfter == 0 {
		input.StaleAfter = 10 * time.Minute
	}

	result := &ReconcileTransfersResult{
		ReconcileTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var pending *ListPendingTransfersResult
	err := workflow.ExecuteActivity(ctx, a.ListPendingTransfers, ListPendingTransfersInput{
		Limit: input.Limit,
	}).Get(ctx, &pending)
	if err != nil {
		errMsg := fmt.Sprintf("failed to list pending transfers: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to list pending transfers: %w", err)
	}

	if len(pending.Transfers) == 0 {
		logger.Info("no pending transfers to reconcile")
		return result, nil
	}

	logger.Info("reconciling pending transfers", "count", len(pending.Transfers))

	for _, tr := range pending.Transfers {
		result.Checked++

		var status *CheckSignatureStatusResult
		err := workflow.ExecuteActivity(ctx, a.CheckSignatureStatus, CheckSignatureStatusInput{
			WalletAddress: tr.WalletAddress,
			Signature:     tr.Signature,
		}).Get(ctx, &status)
		if err != nil {
			// Log and move on; this entry stays pending until the next pass.
			logger.Warn("failed to check signature status",
				"transfer_id", tr.TransferID,
				"signature", tr.Signature,
				"error", err,
			)
			result.Pending++
			continue
		}

		outcome := RecordTransferOutcomeInput{
			TransferID:    tr.TransferID,
			WalletAddress: tr.WalletAddress,
		}
		switch {
		case status.Known && status.Err != nil:
			reason := fmt.Sprintf("transaction failed on-chain: %s", *status.Err)
			outcome.Status = db.StatusFailed
			outcome.FailureReason = &reason
		case status.Known && status.Finalized:
			outcome.Status = db.StatusConfirmed
		case !status.Known && workflow.Now(ctx).Sub(tr.UpdatedAt) > input.StaleAfter:
			reason := "transaction expired before confirmation"
			outcome.Status = db.StatusFailed
			outcome.FailureReason = &reason
		default:
			// Known but not yet finalized, or unknown but still fresh.
			result.Pending++
			continue
		}

		err = workflow.ExecuteActivity(ctx, a.RecordTransferOutcome, outcome).Get(ctx, nil)
		if err != nil {
			logger.Warn("failed to record reconciled outcome",
				"transfer_id", tr.TransferID,
				"status", outcome.Status,
				"error", err,
			)
			result.Pending++
			continue
		}

		if outcome.Status == db.StatusConfirmed {
			result.Confirmed++
		} else {
			result.Failed++
		}
	}

	logger.Info("ReconcileTransfersWorkflow completed",
		"checked", result.Checked,
		"confirmed", result.Confirmed,
		"failed", result.Failed,
		"pending", result.Pending,
	)

	return result, nil
}
