package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solforge/service/config"
	"github.com/brojonat/solforge/service/db"
	"github.com/brojonat/solforge/service/metrics"
	natspkg "github.com/brojonat/solforge/service/nats"
	"github.com/brojonat/solforge/service/priorityfee"
	"github.com/brojonat/solforge/service/privy"
	"github.com/brojonat/solforge/service/solana"
	"github.com/brojonat/solforge/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - a serialized transaction tops out near 1.2KB
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

// Base58 alphabet; 0, O, I and l are excluded by the encoding.
var validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// handleCreateTransfer returns a handler that runs the full transfer
// pipeline: assemble, sign (locally or via the delegated bridge), journal,
// and optionally broadcast.
// POST /api/v1/transfers
func handleCreateTransfer(
	store *db.Store,
	wallet *solana.WalletHandle,
	assembler *solana.Assembler,
	bridge *privy.Bridge,
	submitter temporal.TransferSubmitter,
	publisher natspkg.Publisher,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *slog.Logger,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Recipient string `json:"recipient"`
			Asset     string `json:"asset"`  // "sol" or a mint address
			Amount    string `json:"amount"` // decimal, human units
			Memo      string `json:"memo"`
			NoSign    bool   `json:"no_sign"`
			Broadcast bool   `json:"broadcast"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode transfer request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		// Validate recipient
		if err := validateAddress(req.Recipient); err != nil {
			logger.Debug("invalid recipient", "recipient", req.Recipient, "error", err)
			writeError(w, fmt.Sprintf("invalid recipient: %v", err), http.StatusBadRequest)
			return
		}
		recipient, err := solanago.PublicKeyFromBase58(req.Recipient)
		if err != nil {
			writeError(w, "invalid recipient: not a valid Solana address", http.StatusBadRequest)
			return
		}

		// Validate asset
		asset, err := parseAsset(req.Asset)
		if err != nil {
			logger.Debug("invalid asset", "asset", req.Asset, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Validate amount
		if req.Amount == "" {
			writeError(w, "amount is required", http.StatusBadRequest)
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, "invalid amount: must be a decimal number", http.StatusBadRequest)
			return
		}
		if amount.Sign() <= 0 {
			writeError(w, "amount must be positive", http.StatusBadRequest)
			return
		}

		// Broadcast requires a signature; reject upfront rather than after
		// the journal entry is written.
		delegated := !req.NoSign && !wallet.CanSign() && bridge != nil && cfg.PrivyWalletID != ""
		willSign := (wallet.CanSign() && !req.NoSign) || delegated
		if req.Broadcast && !willSign {
			writeError(w, "cannot broadcast: no signer available for this transfer", http.StatusBadRequest)
			return
		}

		plan := solana.TransferPlan{
			Asset:         asset,
			Amount:        amount,
			Recipient:     recipient,
			Memo:          req.Memo,
			FeePercentage: cfg.FeePercentage,
			NoSigner:      req.NoSign,
		}

		artifact, err := assembler.AssembleTransfer(r.Context(), wallet, plan)
		if err != nil {
			writeAssemblyError(r.Context(), w, err, logger)
			return
		}

		txB64, err := artifact.Base64()
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to serialize artifact", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Journal the assembled transfer before anything irreversible
		var memo *string
		if req.Memo != "" {
			memo = &req.Memo
		}
		tr, err := store.CreateTransfer(r.Context(), db.CreateTransferParams{
			WalletAddress: wallet.Pubkey().String(),
			Recipient:     req.Recipient,
			Asset:         asset.String(),
			Amount:        amount,
			Memo:          memo,
			Payload:       marshalArtifactPayload(txB64, artifact.Signed),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to journal transfer", "error", err)
			writeError(w, "failed to journal transfer", http.StatusInternalServerError)
			return
		}
		publishTransferEvent(r.Context(), publisher, tr, logger)

		// Delegated signing: hand the unsigned artifact to the bridge
		if !artifact.Signed && delegated {
			signedB64, err := bridge.SignTransaction(r.Context(), cfg.PrivyWalletID, txB64)
			if err != nil {
				recordSigned(m, "delegated", "error")
				logger.ErrorContext(r.Context(), "delegated signing failed",
					"transfer_id", tr.ID,
					"wallet_id", cfg.PrivyWalletID,
					"error", err,
				)
				writeError(w, "delegated signing failed", http.StatusInternalServerError)
				return
			}
			signedTx, err := solana.DecodeTransactionBase64(signedB64)
			if err != nil {
				recordSigned(m, "delegated", "error")
				logger.ErrorContext(r.Context(), "delegated signer returned undecodable transaction",
					"transfer_id", tr.ID,
					"error", err,
				)
				writeError(w, "delegated signing failed", http.StatusInternalServerError)
				return
			}
			recordSigned(m, "delegated", "success")
			artifact = solana.NewSignedArtifact(signedTx)
			txB64 = signedB64
		} else if artifact.Signed {
			recordSigned(m, "local", "success")
		}

		if artifact.Signed {
			tr, err = store.MarkTransferSigned(r.Context(), tr.ID, marshalArtifactPayload(txB64, true))
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to journal signed transfer", "error", err)
				writeError(w, "failed to journal transfer", http.StatusInternalServerError)
				return
			}
			publishTransferEvent(r.Context(), publisher, tr, logger)
		}

		resp := createTransferResponse{
			Transfer:          transferToResponse(tr),
			TransactionBase64: txB64,
			Signed:            artifact.Signed,
		}

		if req.Broadcast {
			if submitter != nil {
				// Durable path: the workflow broadcasts exactly once and
				// polls confirmation; the journal and event stream follow.
				workflowID, err := submitter.SubmitTransfer(r.Context(), temporal.SubmitTransferInput{
					TransferID:        tr.ID.String(),
					WalletAddress:     tr.WalletAddress,
					TransactionBase64: txB64,
				})
				if err != nil {
					logger.ErrorContext(r.Context(), "failed to start submit workflow", "transfer_id", tr.ID, "error", err)
					writeError(w, "failed to submit transfer for broadcast", http.StatusInternalServerError)
					return
				}
				resp.WorkflowID = workflowID
				logger.InfoContext(r.Context(), "transfer submitted for durable broadcast",
					"transfer_id", tr.ID,
					"workflow_id", workflowID,
				)
			} else {
				sig, err := assembler.Broadcast(r.Context(), artifact)
				if err != nil {
					logger.ErrorContext(r.Context(), "broadcast failed", "transfer_id", tr.ID, "error", err)
					writeError(w, "broadcast failed", http.StatusInternalServerError)
					return
				}
				if marked, err := store.MarkTransferBroadcast(r.Context(), tr.ID, sig.String()); err != nil {
					// The transaction is on the wire; the journal lags behind.
					logger.ErrorContext(r.Context(), "failed to journal broadcast", "transfer_id", tr.ID, "error", err)
				} else {
					tr = marked
					publishTransferEvent(r.Context(), publisher, tr, logger)
				}
				resp.Transfer = transferToResponse(tr)
				resp.Signature = sig.String()
			}
		}

		logger.InfoContext(r.Context(), "transfer created",
			"transfer_id", tr.ID,
			"wallet", tr.WalletAddress,
			"recipient", tr.Recipient,
			"asset", tr.Asset,
			"amount", tr.Amount.String(),
			"status", tr.Status,
		)
		writeJSON(w, resp, http.StatusCreated)
	})
}

// handleGetTransfer returns a handler that retrieves one journal entry.
// GET /api/v1/transfers/{id}
func handleGetTransfer(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid transfer id: must be a UUID", http.StatusBadRequest)
			return
		}

		tr, err := store.GetTransfer(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "transfer not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get transfer", "transfer_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, transferToResponse(tr), http.StatusOK)
	})
}

// handleListTransfers returns a handler that lists journal entries for a
// specific wallet.
// GET /api/v1/transfers?wallet_address=ADDRESS&limit=N&offset=N
func handleListTransfers(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		walletAddress := r.URL.Query().Get("wallet_address")
		if walletAddress == "" {
			writeError(w, "wallet_address query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(walletAddress); err != nil {
			logger.Debug("invalid address", "address", walletAddress, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := queryInt(r, "limit", 100, 1, 1000)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := queryInt(r, "offset", 0, 0, math.MaxInt32)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		transfers, err := store.ListTransfersByWallet(r.Context(), db.ListTransfersByWalletParams{
			WalletAddress: walletAddress,
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			logger.Error("failed to list transfers", "wallet", walletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("transfers listed", "wallet", walletAddress, "count", len(transfers))

		resp := make([]transferResponse, len(transfers))
		for i := range transfers {
			resp[i] = transferToResponse(transfers[i])
		}

		writeJSON(w, map[string]interface{}{
			"transfers": resp,
			"count":     len(resp),
			"limit":     limit,
			"offset":    offset,
		}, http.StatusOK)
	})
}

// handleSignTransaction returns a handler that signs an externally
// assembled transaction, either with the service wallet's local key or
// through the delegated signing bridge when a wallet_id is supplied.
// POST /api/v1/transactions/sign
func handleSignTransaction(wallet *solana.WalletHandle, bridge *privy.Bridge, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Transaction string `json:"transaction"` // base64
			WalletID    string `json:"wallet_id"`   // custodial wallet id; empty selects local signing
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode sign request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if req.Transaction == "" {
			writeError(w, "transaction is required", http.StatusBadRequest)
			return
		}

		tx, err := solana.DecodeTransactionBase64(req.Transaction)
		if err != nil {
			logger.Debug("undecodable transaction", "error", err)
			writeError(w, "invalid transaction: must be a base64-encoded Solana transaction", http.StatusBadRequest)
			return
		}

		// Delegated path
		if req.WalletID != "" {
			if bridge == nil {
				writeError(w, "delegated signing is not configured", http.StatusNotImplemented)
				return
			}
			signedB64, err := bridge.SignTransaction(r.Context(), req.WalletID, req.Transaction)
			if err != nil {
				recordSigned(m, "delegated", "error")
				logger.ErrorContext(r.Context(), "delegated signing failed", "wallet_id", req.WalletID, "error", err)
				writeError(w, "delegated signing failed", http.StatusInternalServerError)
				return
			}
			signedTx, err := solana.DecodeTransactionBase64(signedB64)
			if err != nil {
				recordSigned(m, "delegated", "error")
				logger.ErrorContext(r.Context(), "delegated signer returned undecodable transaction", "error", err)
				writeError(w, "delegated signing failed", http.StatusInternalServerError)
				return
			}
			recordSigned(m, "delegated", "success")
			writeJSON(w, signTransactionResponse{
				TransactionBase64: signedB64,
				Signer:            "delegated",
				Signature:         firstSignature(signedTx),
			}, http.StatusOK)
			return
		}

		// Local path
		if wallet == nil || !wallet.CanSign() {
			writeError(w, "no local signing key configured; supply a wallet_id for delegated signing", http.StatusBadRequest)
			return
		}
		if err := wallet.SignTransaction(tx); err != nil {
			recordSigned(m, "local", "error")
			logger.ErrorContext(r.Context(), "local signing failed", "error", err)
			writeError(w, "signing failed", http.StatusInternalServerError)
			return
		}
		recordSigned(m, "local", "success")

		signedB64, err := solana.NewSignedArtifact(tx).Base64()
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to serialize signed transaction", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, signTransactionResponse{
			TransactionBase64: signedB64,
			Signer:            "local",
			Signature:         firstSignature(tx),
		}, http.StatusOK)
	})
}

// handleBroadcastTransaction returns a handler that sends a signed
// transaction, either directly through the RPC client or durably through
// the workflow engine when durable is requested.
// POST /api/v1/transactions/broadcast
func handleBroadcastTransaction(
	store *db.Store,
	assembler *solana.Assembler,
	submitter temporal.TransferSubmitter,
	publisher natspkg.Publisher,
	logger *slog.Logger,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Transaction string `json:"transaction"` // base64, signed
			TransferID  string `json:"transfer_id"` // links the journal entry
			Durable     bool   `json:"durable"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode broadcast request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if req.Transaction == "" {
			writeError(w, "transaction is required", http.StatusBadRequest)
			return
		}

		tx, err := solana.DecodeTransactionBase64(req.Transaction)
		if err != nil {
			logger.Debug("undecodable transaction", "error", err)
			writeError(w, "invalid transaction: must be a base64-encoded Solana transaction", http.StatusBadRequest)
			return
		}
		if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
			writeError(w, "transaction is not signed", http.StatusBadRequest)
			return
		}

		// Durable path: the workflow owns broadcast, confirmation polling,
		// and the journal transitions.
		if req.Durable {
			if submitter == nil {
				writeError(w, "durable broadcast is not configured", http.StatusNotImplemented)
				return
			}
			if req.TransferID == "" {
				writeError(w, "transfer_id is required for durable broadcast", http.StatusBadRequest)
				return
			}
			id, err := uuid.Parse(req.TransferID)
			if err != nil {
				writeError(w, "invalid transfer_id: must be a UUID", http.StatusBadRequest)
				return
			}
			tr, err := store.GetTransfer(r.Context(), id)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					writeError(w, "transfer not found", http.StatusNotFound)
					return
				}
				logger.Error("failed to get transfer", "transfer_id", id, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}

			workflowID, err := submitter.SubmitTransfer(r.Context(), temporal.SubmitTransferInput{
				TransferID:        tr.ID.String(),
				WalletAddress:     tr.WalletAddress,
				TransactionBase64: req.Transaction,
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start submit workflow", "transfer_id", tr.ID, "error", err)
				writeError(w, "failed to submit transfer for broadcast", http.StatusInternalServerError)
				return
			}

			logger.InfoContext(r.Context(), "transaction submitted for durable broadcast",
				"transfer_id", tr.ID,
				"workflow_id", workflowID,
			)
			writeJSON(w, broadcastTransactionResponse{
				TransferID: tr.ID.String(),
				WorkflowID: workflowID,
			}, http.StatusAccepted)
			return
		}

		// Direct path: one send, no retries.
		sig, err := assembler.BroadcastTransaction(r.Context(), tx)
		if err != nil {
			logger.ErrorContext(r.Context(), "broadcast failed", "error", err)
			writeError(w, "broadcast failed", http.StatusInternalServerError)
			return
		}

		resp := broadcastTransactionResponse{Signature: sig.String()}
		if req.TransferID != "" {
			if id, err := uuid.Parse(req.TransferID); err != nil {
				logger.Warn("broadcast succeeded but transfer_id is not a UUID", "transfer_id", req.TransferID)
			} else if tr, err := store.MarkTransferBroadcast(r.Context(), id, sig.String()); err != nil {
				// The transaction is on the wire regardless; the journal lags.
				logger.ErrorContext(r.Context(), "failed to journal broadcast", "transfer_id", id, "error", err)
			} else {
				resp.TransferID = tr.ID.String()
				publishTransferEvent(r.Context(), publisher, tr, logger)
			}
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// handleEstimateFee returns a handler that prices compute units for a
// draft transaction via the configured provider.
// GET /api/v1/fees/estimate?transaction=BASE64
func handleEstimateFee(provider priorityfee.Provider, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txB64 := r.URL.Query().Get("transaction")
		if txB64 == "" {
			writeError(w, "transaction query parameter is required", http.StatusBadRequest)
			return
		}

		tx, err := solana.DecodeTransactionBase64(txB64)
		if err != nil {
			logger.Debug("undecodable transaction", "error", err)
			writeError(w, "invalid transaction: must be a base64-encoded Solana transaction", http.StatusBadRequest)
			return
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			logger.Error("failed to re-serialize transaction", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		price, err := provider.EstimateComputeUnitPrice(r.Context(), base58.Encode(raw))
		if err != nil {
			logger.ErrorContext(r.Context(), "fee estimation failed", "provider", provider.Name(), "error", err)
			writeError(w, "fee estimation failed", http.StatusInternalServerError)
			return
		}

		logger.Debug("fee estimated", "provider", provider.Name(), "micro_lamports", price)
		writeJSON(w, map[string]interface{}{
			"provider":           provider.Name(),
			"compute_unit_price": price, // micro-lamports per compute unit
		}, http.StatusOK)
	})
}

// createTransferResponse is the JSON response for a created transfer.
type createTransferResponse struct {
	Transfer          transferResponse `json:"transfer"`
	TransactionBase64 string           `json:"transaction_base64"`
	Signed            bool             `json:"signed"`
	Signature         string           `json:"signature,omitempty"`
	WorkflowID        string           `json:"workflow_id,omitempty"`
}

// signTransactionResponse is the JSON response for a signing request.
type signTransactionResponse struct {
	TransactionBase64 string `json:"transaction_base64"`
	Signer            string `json:"signer"` // "local" or "delegated"
	Signature         string `json:"signature"`
}

// broadcastTransactionResponse is the JSON response for a broadcast request.
type broadcastTransactionResponse struct {
	Signature  string `json:"signature,omitempty"`
	TransferID string `json:"transfer_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// transferResponse is the JSON response format for a journal entry.
type transferResponse struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Recipient     string    `json:"recipient"`
	Asset         string    `json:"asset"`
	Amount        string    `json:"amount"`
	Memo          *string   `json:"memo,omitempty"`
	Signature     *string   `json:"signature,omitempty"`
	Status        string    `json:"status"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// transferToResponse converts a journal entry to its response format.
func transferToResponse(tr *db.Transfer) transferResponse {
	return transferResponse{
		ID:            tr.ID.String(),
		WalletAddress: tr.WalletAddress,
		Recipient:     tr.Recipient,
		Asset:         tr.Asset,
		Amount:        tr.Amount.String(),
		Memo:          tr.Memo,
		Signature:     tr.Signature,
		Status:        tr.Status,
		FailureReason: tr.FailureReason,
		CreatedAt:     tr.CreatedAt,
		UpdatedAt:     tr.UpdatedAt,
	}
}

// artifactPayload is the journal payload: the serialized transaction at
// the moment of the status transition.
type artifactPayload struct {
	TransactionBase64 string `json:"transaction_base64"`
	Signed            bool   `json:"signed"`
}

func marshalArtifactPayload(txB64 string, signed bool) json.RawMessage {
	raw, _ := json.Marshal(artifactPayload{TransactionBase64: txB64, Signed: signed})
	return raw
}

// publishTransferEvent publishes a lifecycle event, best effort. The
// journal is the source of truth; a missed event is recoverable from it.
func publishTransferEvent(ctx context.Context, publisher natspkg.Publisher, tr *db.Transfer, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	if err := publisher.PublishTransfer(ctx, natspkg.FromDBTransfer(tr)); err != nil {
		logger.WarnContext(ctx, "failed to publish transfer event",
			"transfer_id", tr.ID,
			"status", tr.Status,
			"error", err,
		)
	}
}

// writeAssemblyError maps assembly pipeline failures to HTTP statuses.
// Plan problems the caller can fix get a 400 with the pipeline's message;
// infrastructure failures get a generic 500.
func writeAssemblyError(ctx context.Context, w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, solana.ErrAccountNotFound),
		errors.Is(err, solana.ErrUnsupportedProgram),
		errors.Is(err, solana.ErrInvalidInstructionData),
		errors.Is(err, solana.ErrSimulationFailed):
		logger.DebugContext(ctx, "assembly rejected", "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		logger.ErrorContext(ctx, "assembly failed", "error", err)
		writeError(w, "failed to assemble transfer", http.StatusInternalServerError)
	}
}

func recordSigned(m *metrics.Metrics, signer, status string) {
	if m == nil {
		return
	}
	m.RecordTransactionSigned(signer, status)
}

func firstSignature(tx *solanago.Transaction) string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return tx.Signatures[0].String()
}

// parseAsset resolves the request's asset field: "sol" (any case) or
// empty selects the native mint, anything else must be a valid mint
// address.
func parseAsset(asset string) (solanago.PublicKey, error) {
	if asset == "" || strings.EqualFold(asset, "sol") {
		return solana.NativeMint, nil
	}
	if err := validateAddress(asset); err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid asset: %v", err)
	}
	mint, err := solanago.PublicKeyFromBase58(asset)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid asset: not a valid mint address")
	}
	return mint, nil
}

// queryInt reads an integer query parameter, using def when the
// parameter is absent and rejecting values outside [min, max].
func queryInt(r *http.Request, name string, def, min, max int) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return int32(def), nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return int32(v), nil
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress rejects anything that is not plausibly a base58
// Solana address before it reaches the journal or an RPC call. The
// base58 alphabet check also rules out control bytes and injection
// punctuation, so no separate screening pass is needed.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: %d character maximum", maxAddressLength)
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("address contains invalid characters: expected base58")
	}
	return nil
}
