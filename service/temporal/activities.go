package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solforge/service/db"
	"github.com/brojonat/solforge/service/metrics"
	natspkg "github.com/brojonat/solforge/service/nats"
	"github.com/brojonat/solforge/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SubmitTransferInput is the input for the transfer submission workflow.
type SubmitTransferInput struct {
	TransferID        string `json:"transfer_id"`
	WalletAddress     string `json:"wallet_address"`
	TransactionBase64 string `json:"transaction_base64"`
}

// SubmitTransferResult contains the outcome of a transfer submission.
type SubmitTransferResult struct {
	TransferID string    `json:"transfer_id"`
	Signature  *string   `json:"signature,omitempty"`
	Status     string    `json:"status"`
	SubmitTime time.Time `json:"submit_time"`
	Error      *string   `json:"error,omitempty"`
}

// BroadcastTransferInput contains parameters for the BroadcastTransfer activity.
type BroadcastTransferInput struct {
	TransferID        string `json:"transfer_id"`
	WalletAddress     string `json:"wallet_address"`
	TransactionBase64 string `json:"transaction_base64"`
}

// BroadcastTransferResult contains the result of broadcasting a transfer.
type BroadcastTransferResult struct {
	Signature string `json:"signature"`
}

// MarkTransferBroadcastInput contains parameters for the MarkTransferBroadcast activity.
type MarkTransferBroadcastInput struct {
	TransferID    string `json:"transfer_id"`
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
}

// ConfirmTransferInput contains parameters for the ConfirmTransfer activity.
type ConfirmTransferInput struct {
	TransferID    string `json:"transfer_id"`
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
}

// ConfirmTransferResult contains the observed on-chain outcome.
type ConfirmTransferResult struct {
	Status        string  `json:"status"` // db.StatusConfirmed or db.StatusFailed
	FailureReason *string `json:"failure_reason,omitempty"`
}

// RecordTransferOutcomeInput contains parameters for the RecordTransferOutcome activity.
type RecordTransferOutcomeInput struct {
	TransferID    string  `json:"transfer_id"`
	WalletAddress string  `json:"wallet_address"`
	Status        string  `json:"status"` // db.StatusConfirmed or db.StatusFailed
	FailureReason *string `json:"failure_reason,omitempty"`
}

// ReconcileTransfersInput is the input for the reconciliation workflow.
type ReconcileTransfersInput struct {
	Limit      int32         `json:"limit"`       // max journal entries per run, defaults to 100
	StaleAfter time.Duration `json:"stale_after"` // unknown signatures older than this are failed, defaults to 10m
}

// ReconcileTransfersResult summarizes one reconciliation pass.
type ReconcileTransfersResult struct {
	Checked       int       `json:"checked"`
	Confirmed     int       `json:"confirmed"`
	Failed        int       `json:"failed"`
	Pending       int       `json:"pending"`
	ReconcileTime time.Time `json:"reconcile_time"`
	Error         *string   `json:"error,omitempty"`
}

// ListPendingTransfersInput contains parameters for the ListPendingTransfers activity.
type ListPendingTransfersInput struct {
	Limit int32 `json:"limit"`
}

// PendingTransfer is a journal entry awaiting confirmation.
type PendingTransfer struct {
	TransferID    string    `json:"transfer_id"`
	WalletAddress string    `json:"wallet_address"`
	Signature     string    `json:"signature"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ListPendingTransfersResult contains the result of the ListPendingTransfers activity.
type ListPendingTransfersResult struct {
	Transfers []PendingTransfer `json:"transfers"`
}

// CheckSignatureStatusInput contains parameters for the CheckSignatureStatus activity.
type CheckSignatureStatusInput struct {
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
}

// CheckSignatureStatusResult describes the node's view of a signature.
type CheckSignatureStatusResult struct {
	Known     bool    `json:"known"`
	Finalized bool    `json:"finalized"`
	Err       *string `json:"err,omitempty"` // on-chain execution error, if any
}

// StoreInterface is the slice of the journal activities touch. Tests
// substitute an in-memory fake.
type StoreInterface interface {
	GetTransfer(ctx context.Context, id uuid.UUID) (*db.Transfer, error)
	ListTransfersByStatus(ctx context.Context, status string, limit int32) ([]*db.Transfer, error)
	MarkTransferBroadcast(ctx context.Context, id uuid.UUID, signature string) (*db.Transfer, error)
	MarkTransferConfirmed(ctx context.Context, id uuid.UUID) (*db.Transfer, error)
	MarkTransferFailed(ctx context.Context, id uuid.UUID, reason string) (*db.Transfer, error)
}

// SolanaClientInterface is the broadcast-and-confirm surface of the
// assembler, narrowed so activity tests can stub the chain.
type SolanaClientInterface interface {
	BroadcastTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solanago.Signature) error
	SignatureStatus(ctx context.Context, sig solanago.Signature) (*rpc.SignatureStatusesResult, error)
}

// PublisherInterface carries lifecycle events out to JetStream.
type PublisherInterface interface {
	PublishTransfer(ctx context.Context, event *natspkg.TransferEvent) error
	PublishTransferBatch(ctx context.Context, events []*natspkg.TransferEvent) error
}

// Activities bundles the journal, chain client, and event publisher
// behind the activity methods the workflows execute.
type Activities struct {
	store     StoreInterface
	solana    SolanaClientInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities wires the activity dependencies. A nil m disables
// metric recording.
func NewActivities(
	store StoreInterface,
	solanaClient SolanaClientInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		solana:    solanaClient,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// BroadcastTransfer decodes a signed transaction and sends it to the
// network. It is invoked with a single-attempt retry policy: re-sending
// after an ambiguous failure risks double submission, so stragglers are
// left to the reconciliation workflow instead.
func (a *Activities) BroadcastTransfer(ctx context.Context, input BroadcastTransferInput) (*BroadcastTransferResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("BroadcastTransfer", input.WalletAddress, time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "broadcasting transfer",
		"transfer_id", input.TransferID,
		"wallet", input.WalletAddress,
	)

	tx, err := solana.DecodeTransactionBase64(input.TransactionBase64)
	if err != nil {
		a.logger.ErrorContext(ctx, "invalid transaction payload",
			"transfer_id", input.TransferID,
			"error", err,
		)
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	sig, err := a.solana.BroadcastTransaction(ctx, tx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to broadcast transfer",
			"transfer_id", input.TransferID,
			"error", err,
		)
		return nil, fmt.Errorf("broadcast transfer %s: %w", input.TransferID, err)
	}

	a.logger.InfoContext(ctx, "broadcast transfer",
		"transfer_id", input.TransferID,
		"signature", sig.String(),
	)

	return &BroadcastTransferResult{Signature: sig.String()}, nil
}

// MarkTransferBroadcast records the broadcast signature in the journal and
// publishes the lifecycle event. Safe to retry: re-marking a broadcast
// entry as broadcast is a no-op transition.
func (a *Activities) MarkTransferBroadcast(ctx context.Context, input MarkTransferBroadcastInput) error {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("MarkTransferBroadcast", input.WalletAddress, time.Since(start).Seconds())
		}
	}()

	id, err := uuid.Parse(input.TransferID)
	if err != nil {
		return fmt.Errorf("invalid transfer id %q: %w", input.TransferID, err)
	}

	tr, err := a.store.MarkTransferBroadcast(ctx, id, input.Signature)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to mark transfer broadcast",
			"transfer_id", input.TransferID,
			"error", err,
		)
		return fmt.Errorf("mark transfer %s broadcast: %w", input.TransferID, err)
	}

	a.publishEvent(ctx, tr)
	return nil
}

// ConfirmTransfer waits for the broadcast transaction to finalize. An
// on-chain failure is a successfully observed outcome, not an activity
// error; only infrastructure problems (RPC outage, poll timeout) surface
// as errors and trigger retries.
func (a *Activities) ConfirmTransfer(ctx context.Context, input ConfirmTransferInput) (*ConfirmTransferResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("ConfirmTransfer", input.WalletAddress, time.Since(start).Seconds())
		}
	}()

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", input.Signature, err)
	}

	a.logger.DebugContext(ctx, "waiting for confirmation",
		"transfer_id", input.TransferID,
		"signature", input.Signature,
	)

	err = a.solana.WaitForConfirmation(ctx, sig)
	if err != nil {
		if errors.Is(err, solana.ErrBroadcastFailed) {
			reason := err.Error()
			a.logger.WarnContext(ctx, "transfer failed on-chain",
				"transfer_id", input.TransferID,
				"signature", input.Signature,
				"reason", reason,
			)
			return &ConfirmTransferResult{
				Status:        db.StatusFailed,
				FailureReason: &reason,
			}, nil
		}
		a.logger.WarnContext(ctx, "confirmation wait failed",
			"transfer_id", input.TransferID,
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("confirm transfer %s: %w", input.TransferID, err)
	}

	a.logger.InfoContext(ctx, "transfer finalized",
		"transfer_id", input.TransferID,
		"signature", input.Signature,
	)

	return &ConfirmTransferResult{Status: db.StatusConfirmed}, nil
}

// RecordTransferOutcome moves a journal entry to its terminal status and
// publishes the lifecycle event. Retries are idempotent: re-marking an
// entry with the status it already has succeeds, and a terminal-state
// conflict is detected by re-reading the entry.
func (a *Activities) RecordTransferOutcome(ctx context.Context, input RecordTransferOutcomeInput) error {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("RecordTransferOutcome", input.WalletAddress, time.Since(start).Seconds())
		}
	}()

	id, err := uuid.Parse(input.TransferID)
	if err != nil {
		return fmt.Errorf("invalid transfer id %q: %w", input.TransferID, err)
	}

	var tr *db.Transfer
	switch input.Status {
	case db.StatusConfirmed:
		tr, err = a.store.MarkTransferConfirmed(ctx, id)
	case db.StatusFailed:
		reason := "transfer failed"
		if input.FailureReason != nil {
			reason = *input.FailureReason
		}
		tr, err = a.store.MarkTransferFailed(ctx, id, reason)
	default:
		return fmt.Errorf("invalid terminal status %q", input.Status)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		// The guard refused the transition. If the entry already carries a
		// terminal status the transition raced with another writer; agreeing
		// outcomes are fine, conflicting ones are not.
		existing, getErr := a.store.GetTransfer(ctx, id)
		if getErr != nil {
			return fmt.Errorf("mark transfer %s %s: %w", input.TransferID, input.Status, err)
		}
		if existing.Status == input.Status {
			a.logger.DebugContext(ctx, "transfer already in terminal status",
				"transfer_id", input.TransferID,
				"status", input.Status,
			)
			return nil
		}
		return fmt.Errorf("transfer %s is %s, cannot mark %s", input.TransferID, existing.Status, input.Status)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record transfer outcome",
			"transfer_id", input.TransferID,
			"status", input.Status,
			"error", err,
		)
		return fmt.Errorf("mark transfer %s %s: %w", input.TransferID, input.Status, err)
	}

	a.logger.InfoContext(ctx, "recorded transfer outcome",
		"transfer_id", input.TransferID,
		"status", input.Status,
	)

	a.publishEvent(ctx, tr)
	return nil
}

// ListPendingTransfers fetches journal entries stuck in the broadcast
// status for reconciliation.
func (a *Activities) ListPendingTransfers(ctx context.Context, input ListPendingTransfersInput) (*ListPendingTransfersResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("ListPendingTransfers", "", time.Since(start).Seconds())
		}
	}()

	limit := input.Limit
	if limit == 0 {
		limit = 100
	}

	transfers, err := a.store.ListTransfersByStatus(ctx, db.StatusBroadcast, limit)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to list pending transfers", "error", err)
		return nil, fmt.Errorf("list pending transfers: %w", err)
	}

	result := &ListPendingTransfersResult{
		Transfers: make([]PendingTransfer, 0, len(transfers)),
	}
	for _, tr := range transfers {
		if tr.Signature == nil {
			// Broadcast entries always carry a signature; skip anything
			// malformed rather than crash the reconciliation pass.
			a.logger.WarnContext(ctx, "broadcast transfer without signature, skipping",
				"transfer_id", tr.ID.String(),
			)
			continue
		}
		result.Transfers = append(result.Transfers, PendingTransfer{
			TransferID:    tr.ID.String(),
			WalletAddress: tr.WalletAddress,
			Signature:     *tr.Signature,
			UpdatedAt:     tr.UpdatedAt,
		})
	}

	a.logger.DebugContext(ctx, "listed pending transfers", "count", len(result.Transfers))
	return result, nil
}

// CheckSignatureStatus asks the node for its view of a signature without
// blocking on confirmation.
func (a *Activities) CheckSignatureStatus(ctx context.Context, input CheckSignatureStatusInput) (*CheckSignatureStatusResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("CheckSignatureStatus", input.WalletAddress, time.Since(start).Seconds())
		}
	}()

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", input.Signature, err)
	}

	status, err := a.solana.SignatureStatus(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("check signature status: %w", err)
	}
	if status == nil {
		return &CheckSignatureStatusResult{Known: false}, nil
	}

	result := &CheckSignatureStatusResult{Known: true}
	if status.Err != nil {
		errStr := fmt.Sprintf("%v", status.Err)
		result.Err = &errStr
	}
	if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		result.Finalized = true
	}
	return result, nil
}

// publishEvent publishes a transfer lifecycle event. Journal writes are
// the source of truth; NATS publishing is best-effort.
func (a *Activities) publishEvent(ctx context.Context, tr *db.Transfer) {
	if a.publisher == nil || tr == nil {
		return
	}
	if err := a.publisher.PublishTransfer(ctx, natspkg.FromDBTransfer(tr)); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish transfer event",
			"transfer_id", tr.ID.String(),
			"status", tr.Status,
			"error", err,
		)
	}
}
