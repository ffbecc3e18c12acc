package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// WaitForConfirmation polls signature statuses until the transaction is
// finalized, fails on-chain, or the configured timeout elapses. Poll
// errors are logged and retried on the next tick; only on-chain failure
// and timeout end the wait early.
func (a *Assembler) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(a.confirmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.recordConfirmation("timeout", start)
			return fmt.Errorf("confirmation of %s timed out after %s: %w", sig, a.confirmTimeout, ctx.Err())
		case <-ticker.C:
			status, err := a.SignatureStatus(ctx, sig)
			if err != nil {
				a.logger.WarnContext(ctx, "signature status poll failed",
					"signature", sig.String(),
					"error", err,
				)
				continue
			}
			if status == nil {
				// Not yet visible to this node.
				continue
			}
			if status.Err != nil {
				a.recordConfirmation("failed", start)
				return fmt.Errorf("%w: transaction %s failed on-chain: %v", ErrBroadcastFailed, sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				a.logger.InfoContext(ctx, "transaction finalized",
					"signature", sig.String(),
					"slot", status.Slot,
				)
				a.recordConfirmation("finalized", start)
				return nil
			}
		}
	}
}

func (a *Assembler) recordConfirmation(status string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordConfirmationDuration(status, time.Since(start).Seconds())
}

// BroadcastAndConfirm sends a signed artifact and waits for finalized
// commitment.
func (a *Assembler) BroadcastAndConfirm(ctx context.Context, artifact *Artifact) (solana.Signature, error) {
	sig, err := a.Broadcast(ctx, artifact)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := a.WaitForConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// SignatureStatus returns the node's view of a signature, or nil when
// the signature is unknown to it.
func (a *Assembler) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := a.rpc.GetSignatureStatuses(ctx, true, sig)
	a.recordRPC("GetSignatureStatuses", err, start)
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}
