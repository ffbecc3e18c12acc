// Package privy signs Solana transactions with keys held by Privy's
// custodial wallet service. The wallet key never leaves Privy; each
// request carries app credentials plus an authorization signature
// computed over the canonical request payload with a separate ECDSA
// key.
package privy

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the Privy wallet API host.
const DefaultBaseURL = "https://api.privy.io"

// Bridge submits transactions to Privy's wallet RPC for delegated
// signing.
type Bridge struct {
	baseURL    string
	appID      string
	appSecret  string
	authKey    *ecdsa.PrivateKey
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBridge creates a bridge. authorizationKey accepts any of the
// formats ParseAuthorizationKey handles. baseURL may be empty, which
// selects DefaultBaseURL; httpClient may be nil.
func NewBridge(baseURL, appID, appSecret, authorizationKey string, httpClient *http.Client, logger *slog.Logger) (*Bridge, error) {
	if appID == "" || appSecret == "" {
		return nil, fmt.Errorf("privy app credentials are required")
	}
	key, err := ParseAuthorizationKey(authorizationKey)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Bridge{
		baseURL:    baseURL,
		appID:      appID,
		appSecret:  appSecret,
		authKey:    key,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SignTransaction submits an unsigned base64-encoded transaction and
// returns the signed transaction, base64-encoded. The signed bytes are
// identical to what local signing would produce over the same message
// and signer order.
func (b *Bridge) SignTransaction(ctx context.Context, walletID, txB64 string) (string, error) {
	resp, err := b.walletRPC(ctx, walletID, "signTransaction", txB64)
	if err != nil {
		return "", err
	}
	if resp.Data.SignedTransaction == "" {
		return "", fmt.Errorf("privy returned no signed transaction")
	}
	return resp.Data.SignedTransaction, nil
}

// SignAndSendTransaction signs and broadcasts in one call on Privy's
// side, returning the transaction hash.
func (b *Bridge) SignAndSendTransaction(ctx context.Context, walletID, txB64 string) (string, error) {
	resp, err := b.walletRPC(ctx, walletID, "signAndSendTransaction", txB64)
	if err != nil {
		return "", err
	}
	if resp.Data.Hash == "" {
		return "", fmt.Errorf("privy returned no transaction hash")
	}
	return resp.Data.Hash, nil
}

// rpcResponse is the wallet RPC response envelope.
type rpcResponse struct {
	Method string `json:"method"`
	Data   struct {
		SignedTransaction string `json:"signed_transaction"`
		Hash              string `json:"hash"`
		Encoding          string `json:"encoding"`
	} `json:"data"`
}

func (b *Bridge) walletRPC(ctx context.Context, walletID, method, txB64 string) (*rpcResponse, error) {
	u := fmt.Sprintf("%s/v1/wallets/%s/rpc", b.baseURL, url.PathEscape(walletID))
	body := map[string]interface{}{
		"method":     method,
		"params":     map[string]interface{}{"transaction": txB64, "encoding": "base64"},
		"chain_type": "solana",
	}

	signature, err := b.authorizationSignature(u, body)
	if err != nil {
		return nil, err
	}

	// The request body uses the same canonical serialization the
	// signature covers, so the service verifies against identical bytes.
	payload, err := canonicalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("privy-app-id", b.appID)
	req.Header.Set("privy-authorization-signature", signature)
	req.SetBasicAuth(b.appID, b.appSecret)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("privy %s returned status %d: %s", method, resp.StatusCode, string(raw))
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	b.logger.Debug("privy wallet rpc complete", "wallet_id", walletID, "method", method)
	return &out, nil
}

// authorizationSignature signs the canonical request payload. The
// service reconstructs the exact same byte sequence and verifies the
// signature against it, so any serialization drift invalidates the
// request.
func (b *Bridge) authorizationSignature(requestURL string, body map[string]interface{}) (string, error) {
	payload := map[string]interface{}{
		"version": 1,
		"method":  "POST",
		"url":     requestURL,
		"body":    body,
		"headers": map[string]string{"privy-app-id": b.appID},
	}
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	digest := sha256.Sum256(canonical)
	sig, err := ecdsa.SignASN1(rand.Reader, b.authKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// canonicalJSON serializes with lexicographically sorted keys (a
// property of Go map marshaling) and HTML escaping off, so characters
// like '&' survive verbatim.
func canonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
