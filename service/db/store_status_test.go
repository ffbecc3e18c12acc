package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalTransfer(t *testing.T, store *TestStore, wallet string) *Transfer {
	t.Helper()

	tr, err := store.CreateTransfer(context.Background(), CreateTransferParams{
		WalletAddress: wallet,
		Recipient:     "recipient123",
		Asset:         "So11111111111111111111111111111111111111112",
		Amount:        decimal.RequireFromString("0.25"),
	})
	require.NoError(t, err)
	return tr
}

func TestMarkTransferSigned(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	created := journalTransfer(t, store, "wallet123")

	payload := json.RawMessage(`{"transaction":"c2lnbmVk","signed":true}`)
	tr, err := store.MarkTransferSigned(ctx, created.ID, payload)
	require.NoError(t, err)

	assert.Equal(t, StatusSigned, tr.Status)
	assert.JSONEq(t, string(payload), string(tr.Payload))
	assert.True(t, tr.UpdatedAt.After(created.UpdatedAt) || tr.UpdatedAt.Equal(created.UpdatedAt))

	// Re-signing with a fresh payload is allowed (retry after a bridge
	// timeout produces a new artifact).
	payload2 := json.RawMessage(`{"transaction":"cmVzaWduZWQ=","signed":true}`)
	tr, err = store.MarkTransferSigned(ctx, created.ID, payload2)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload2), string(tr.Payload))
}

func TestMarkTransferSigned_AfterBroadcast(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	created := journalTransfer(t, store, "wallet123")

	_, err := store.MarkTransferBroadcast(ctx, created.ID, "sigABC")
	require.NoError(t, err)

	// A broadcast transfer can no longer move back to signed.
	_, err = store.MarkTransferSigned(ctx, created.ID, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMarkTransferBroadcast(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	created := journalTransfer(t, store, "wallet123")

	tr, err := store.MarkTransferBroadcast(ctx, created.ID, "sigXYZ")
	require.NoError(t, err)

	assert.Equal(t, StatusBroadcast, tr.Status)
	require.NotNil(t, tr.Signature)
	assert.Equal(t, "sigXYZ", *tr.Signature)
}

func TestMarkTransferConfirmed(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	created := journalTransfer(t, store, "wallet123")

	_, err := store.MarkTransferBroadcast(ctx, created.ID, "sigConfirm")
	require.NoError(t, err)

	tr, err := store.MarkTransferConfirmed(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, tr.Status)
	require.NotNil(t, tr.Signature)
	assert.Equal(t, "sigConfirm", *tr.Signature)
}

func TestMarkTransferFailed(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	created := journalTransfer(t, store, "wallet123")

	tr, err := store.MarkTransferFailed(ctx, created.ID, "blockhash expired")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, tr.Status)
	require.NotNil(t, tr.FailureReason)
	assert.Equal(t, "blockhash expired", *tr.FailureReason)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	t.Run("confirmed cannot fail", func(t *testing.T) {
		created := journalTransfer(t, store, "walletTerminal")
		_, err := store.MarkTransferBroadcast(ctx, created.ID, "sigFinal1")
		require.NoError(t, err)
		_, err = store.MarkTransferConfirmed(ctx, created.ID)
		require.NoError(t, err)

		_, err = store.MarkTransferFailed(ctx, created.ID, "late failure")
		require.Error(t, err)
		assert.ErrorIs(t, err, pgx.ErrNoRows)

		tr, err := store.GetTransfer(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, tr.Status)
		assert.Nil(t, tr.FailureReason)
	})

	t.Run("failed cannot confirm", func(t *testing.T) {
		created := journalTransfer(t, store, "walletTerminal")
		_, err := store.MarkTransferFailed(ctx, created.ID, "simulation error")
		require.NoError(t, err)

		_, err = store.MarkTransferConfirmed(ctx, created.ID)
		require.Error(t, err)
		assert.ErrorIs(t, err, pgx.ErrNoRows)
	})

	t.Run("terminal entries are never re-broadcast", func(t *testing.T) {
		created := journalTransfer(t, store, "walletTerminal")
		_, err := store.MarkTransferFailed(ctx, created.ID, "simulation error")
		require.NoError(t, err)

		_, err = store.MarkTransferBroadcast(ctx, created.ID, "sigFinal2")
		require.Error(t, err)
		assert.ErrorIs(t, err, pgx.ErrNoRows)
	})
}

func TestListTransfersByStatus(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	baseTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// Two broadcast transfers with controlled creation times, one
	// confirmed, one still assembled.
	ids := make([]uuid.UUID, 2)
	for i := 0; i < 2; i++ {
		tr := journalTransfer(t, store, "walletReconcile")
		_, err := store.MarkTransferBroadcast(ctx, tr.ID, "sigPending"+string(rune('A'+i)))
		require.NoError(t, err)
		ids[i] = tr.ID
		store.MustExec(t, "UPDATE transfers SET created_at = $1 WHERE id = $2",
			baseTime.Add(time.Duration(i)*time.Minute), tr.ID)
	}

	confirmed := journalTransfer(t, store, "walletReconcile")
	_, err := store.MarkTransferBroadcast(ctx, confirmed.ID, "sigDone")
	require.NoError(t, err)
	_, err = store.MarkTransferConfirmed(ctx, confirmed.ID)
	require.NoError(t, err)

	journalTransfer(t, store, "walletReconcile")

	transfers, err := store.ListTransfersByStatus(ctx, StatusBroadcast, 10)
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	// Oldest first, so the reconciler drains the backlog in order.
	assert.Equal(t, ids[0], transfers[0].ID)
	assert.Equal(t, ids[1], transfers[1].ID)
}
