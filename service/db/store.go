package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Transfer status values. A transfer moves forward through these and
// never leaves a terminal state (confirmed, failed).
const (
	StatusAssembled = "assembled"
	StatusSigned    = "signed"
	StatusBroadcast = "broadcast"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Store provides database operations for the transfer journal.
// All SQL is hand-written; the schema lives in schema.sql.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing connection pool. The caller owns the
// pool's lifecycle.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Transfer is one journal entry: a transfer that was assembled by this
// service, tracked through signing, broadcast, and confirmation.
type Transfer struct {
	ID            uuid.UUID
	WalletAddress string
	Recipient     string
	Asset         string // mint address; the native mint denotes SOL
	Amount        decimal.Decimal
	Memo          *string
	Signature     *string // nil until broadcast
	Status        string
	FailureReason *string
	Payload       json.RawMessage // serialized artifact and request metadata
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateTransferParams contains the parameters for journaling a transfer.
type CreateTransferParams struct {
	ID            uuid.UUID // zero value generates a fresh id
	WalletAddress string
	Recipient     string
	Asset         string
	Amount        decimal.Decimal
	Memo          *string
	Status        string // empty defaults to StatusAssembled
	Payload       json.RawMessage
}

// ListTransfersByWalletParams contains pagination parameters.
type ListTransfersByWalletParams struct {
	WalletAddress string
	Limit         int32
	Offset        int32
}

const transferColumns = `id, wallet_address, recipient, asset, amount, memo, signature, status, failure_reason, payload, created_at, updated_at`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*Transfer, error) {
	var tr Transfer
	var amount string
	err := row.Scan(
		&tr.ID,
		&tr.WalletAddress,
		&tr.Recipient,
		&tr.Asset,
		&amount,
		&tr.Memo,
		&tr.Signature,
		&tr.Status,
		&tr.FailureReason,
		&tr.Payload,
		&tr.CreatedAt,
		&tr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tr.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	return &tr, nil
}

// CreateTransfer inserts a new journal entry. The caller may supply an id
// for idempotent retries; otherwise one is generated.
func (s *Store) CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	status := params.Status
	if status == "" {
		status = StatusAssembled
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfers (id, wallet_address, recipient, asset, amount, memo, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+transferColumns,
		id, params.WalletAddress, params.Recipient, params.Asset,
		params.Amount.String(), params.Memo, status, params.Payload,
	)
	return scanTransfer(row)
}

// GetTransfer retrieves a journal entry by its id.
func (s *Store) GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE id = $1`,
		id,
	)
	return scanTransfer(row)
}

// GetTransferBySignature retrieves a journal entry by its broadcast
// signature.
func (s *Store) GetTransferBySignature(ctx context.Context, signature string) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE signature = $1`,
		signature,
	)
	return scanTransfer(row)
}

// ListTransfersByWallet retrieves journal entries for a wallet with
// pagination, newest first.
func (s *Store) ListTransfersByWallet(ctx context.Context, params ListTransfersByWalletParams) ([]*Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		params.WalletAddress, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransfers(rows)
}

// ListTransfersByStatus retrieves journal entries in a given status,
// oldest first. The reconciler uses this to find transfers stuck in
// flight.
func (s *Store) ListTransfersByStatus(ctx context.Context, status string, limit int32) ([]*Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransfers(rows)
}

// ListTransfersSince retrieves journal entries for a wallet created at or
// after the given time, oldest first.
func (s *Store) ListTransfersSince(ctx context.Context, walletAddress string, since time.Time) ([]*Transfer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE wallet_address = $1 AND created_at >= $2
		ORDER BY created_at ASC`,
		walletAddress, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransfers(rows)
}

// CountTransfersByWallet counts journal entries for a wallet.
func (s *Store) CountTransfersByWallet(ctx context.Context, walletAddress string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM transfers
		WHERE wallet_address = $1`,
		walletAddress,
	).Scan(&count)
	return count, err
}

// MarkTransferSigned records a signed artifact payload and moves the
// entry to the signed status. Calling it again with a fresh payload is
// allowed; calling it after broadcast is not and yields pgx.ErrNoRows.
func (s *Store) MarkTransferSigned(ctx context.Context, id uuid.UUID, payload json.RawMessage) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2, payload = $3, updated_at = now()
		WHERE id = $1 AND status IN ($4, $2)
		RETURNING `+transferColumns,
		id, StatusSigned, payload, StatusAssembled,
	)
	return scanTransfer(row)
}

// MarkTransferBroadcast records the broadcast signature and moves the
// entry to the broadcast status. Terminal entries are never updated;
// attempting to yields pgx.ErrNoRows.
func (s *Store) MarkTransferBroadcast(ctx context.Context, id uuid.UUID, signature string) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2, signature = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5)
		RETURNING `+transferColumns,
		id, StatusBroadcast, signature, StatusConfirmed, StatusFailed,
	)
	return scanTransfer(row)
}

// MarkTransferConfirmed moves the entry to the confirmed status. A failed
// entry cannot be confirmed; attempting to yields pgx.ErrNoRows.
func (s *Store) MarkTransferConfirmed(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status <> $3
		RETURNING `+transferColumns,
		id, StatusConfirmed, StatusFailed,
	)
	return scanTransfer(row)
}

// MarkTransferFailed records the failure reason and moves the entry to
// the failed status. A confirmed entry cannot fail; attempting to yields
// pgx.ErrNoRows.
func (s *Store) MarkTransferFailed(ctx context.Context, id uuid.UUID, reason string) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND status <> $4
		RETURNING `+transferColumns,
		id, StatusFailed, reason, StatusConfirmed,
	)
	return scanTransfer(row)
}

// DeleteTransfersOlderThan deletes journal entries created before the
// given time.
func (s *Store) DeleteTransfersOlderThan(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM transfers
		WHERE created_at < $1`,
		before,
	)
	return err
}

func collectTransfers(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]*Transfer, error) {
	var transfers []*Transfer
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transfers, nil
}
