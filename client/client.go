package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is one journal entry as returned by the service.
type Transfer struct {
	ID            string          `json:"id"`
	WalletAddress string          `json:"wallet_address"`
	Recipient     string          `json:"recipient"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          *string         `json:"memo,omitempty"`
	Signature     *string         `json:"signature,omitempty"`
	Status        string          `json:"status"` // assembled, signed, broadcast, confirmed, failed
	FailureReason *string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CreateTransferRequest describes a transfer to assemble. Amount is a
// decimal string in human units (e.g. "0.25"). Asset is "sol" or a mint
// address; empty selects SOL.
type CreateTransferRequest struct {
	Recipient string `json:"recipient"`
	Asset     string `json:"asset,omitempty"`
	Amount    string `json:"amount"`
	Memo      string `json:"memo,omitempty"`
	NoSign    bool   `json:"no_sign,omitempty"`
	Broadcast bool   `json:"broadcast,omitempty"`
}

// CreateTransferResult is the server's response to a creation request.
// Signature is set when the server broadcast directly; WorkflowID when it
// handed the broadcast to the durable submission workflow.
type CreateTransferResult struct {
	Transfer          Transfer `json:"transfer"`
	TransactionBase64 string   `json:"transaction_base64"`
	Signed            bool     `json:"signed"`
	Signature         string   `json:"signature,omitempty"`
	WorkflowID        string   `json:"workflow_id,omitempty"`
}

// SignResult is the server's response to a signing request.
type SignResult struct {
	TransactionBase64 string `json:"transaction_base64"`
	Signer            string `json:"signer"` // "local" or "delegated"
	Signature         string `json:"signature"`
}

// BroadcastResult is the server's response to a broadcast request.
type BroadcastResult struct {
	Signature  string `json:"signature,omitempty"`
	TransferID string `json:"transfer_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// FeeEstimate is the priced compute-unit rate for a draft transaction.
type FeeEstimate struct {
	Provider         string `json:"provider"`
	ComputeUnitPrice uint64 `json:"compute_unit_price"` // micro-lamports per compute unit
}

// Client is the HTTP client for the solforge transfer service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new transfer service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateTransfer asks the server to assemble (and, depending on the
// request, sign and broadcast) a transfer from the service wallet.
func (c *Client) CreateTransfer(ctx context.Context, request CreateTransferRequest) (*CreateTransferResult, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.parseErrorResponse(resp)
	}

	var result CreateTransferResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("transfer created",
		"transfer_id", result.Transfer.ID,
		"status", result.Transfer.Status,
		"signed", result.Signed,
	)
	return &result, nil
}

// GetTransfer retrieves one journal entry by id.
func (c *Client) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	u := fmt.Sprintf("%s/api/v1/transfers/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var transfer Transfer
	if err := json.NewDecoder(resp.Body).Decode(&transfer); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &transfer, nil
}

// ListTransfers retrieves the journal entries for a wallet, newest first.
// Zero limit and offset fall back to the server defaults.
func (c *Client) ListTransfers(ctx context.Context, walletAddress string, limit, offset int) ([]*Transfer, error) {
	q := url.Values{}
	q.Set("wallet_address", walletAddress)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/transfers?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Transfers []*Transfer `json:"transfers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Transfers, nil
}

// SignTransaction asks the server to sign a base64-encoded transaction.
// A non-empty walletID routes the request through the delegated signing
// bridge instead of the server's local key.
func (c *Client) SignTransaction(ctx context.Context, txBase64, walletID string) (*SignResult, error) {
	reqBody := struct {
		Transaction string `json:"transaction"`
		WalletID    string `json:"wallet_id,omitempty"`
	}{
		Transaction: txBase64,
		WalletID:    walletID,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transactions/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var result SignResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("transaction signed", "signer", result.Signer, "signature", result.Signature)
	return &result, nil
}

// BroadcastTransaction sends a signed base64-encoded transaction. A
// non-empty transferID links the send to its journal entry. With durable
// set, the server hands the send to the submission workflow and responds
// with its workflow id instead of a signature.
func (c *Client) BroadcastTransaction(ctx context.Context, txBase64, transferID string, durable bool) (*BroadcastResult, error) {
	reqBody := struct {
		Transaction string `json:"transaction"`
		TransferID  string `json:"transfer_id,omitempty"`
		Durable     bool   `json:"durable,omitempty"`
	}{
		Transaction: txBase64,
		TransferID:  transferID,
		Durable:     durable,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/transactions/broadcast", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Direct broadcasts answer 200; durable submissions answer 202.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}

	var result BroadcastResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// EstimateFee prices compute units for a base64-encoded draft transaction
// via the server's configured provider.
func (c *Client) EstimateFee(ctx context.Context, txBase64 string) (*FeeEstimate, error) {
	u := c.baseURL + "/api/v1/fees/estimate?transaction=" + url.QueryEscape(txBase64)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var estimate FeeEstimate
	if err := json.NewDecoder(resp.Body).Decode(&estimate); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &estimate, nil
}

// parseErrorResponse extracts the server's error payload; when the body
// is not the usual JSON shape the raw bytes go into the error instead.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
