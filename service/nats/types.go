package nats

import (
	"time"

	"github.com/brojonat/solforge/service/db"
)

// TransferEvent represents a transfer lifecycle event published to NATS.
// One event is published per status change, to the subject
// "transfers.{wallet_address}" in JetStream.
type TransferEvent struct {
	// Journal identifiers
	TransferID    string `json:"transfer_id"`
	WalletAddress string `json:"wallet_address"`

	// Transfer details
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Memo      string `json:"memo,omitempty"`

	// Lifecycle
	Status        string `json:"status"`
	Signature     string `json:"signature,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromDBTransfer converts a journal entry to a TransferEvent for publishing.
func FromDBTransfer(tr *db.Transfer) *TransferEvent {
	event := &TransferEvent{
		TransferID:    tr.ID.String(),
		WalletAddress: tr.WalletAddress,
		Recipient:     tr.Recipient,
		Asset:         tr.Asset,
		Amount:        tr.Amount.String(),
		Status:        tr.Status,
		PublishedAt:   time.Now().UTC(),
	}

	// Nullable journal columns flatten to empty strings on the wire.
	if tr.Signature != nil {
		event.Signature = *tr.Signature
	}
	if tr.FailureReason != nil {
		event.FailureReason = *tr.FailureReason
	}
	if tr.Memo != nil {
		event.Memo = *tr.Memo
	}

	return event
}
