package privy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultAuthBaseURL is the Privy user API host.
const DefaultAuthBaseURL = "https://auth.privy.io"

// ErrNoDelegatedWallet indicates the user exists but has no delegated
// embedded wallet linked.
var ErrNoDelegatedWallet = errors.New("privy: user has no delegated embedded wallet")

// EmbeddedWallet is a delegated embedded wallet linked to a Privy user.
type EmbeddedWallet struct {
	WalletID string
	Address  string
}

// Directory looks up and provisions Privy-managed wallets.
type Directory struct {
	baseURL    string // wallet API host
	authURL    string // user API host
	appID      string
	appSecret  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDirectory creates a directory client. Empty base URLs select the
// production hosts; httpClient may be nil.
func NewDirectory(baseURL, authURL, appID, appSecret string, httpClient *http.Client, logger *slog.Logger) (*Directory, error) {
	if appID == "" || appSecret == "" {
		return nil, fmt.Errorf("privy app credentials are required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if authURL == "" {
		authURL = DefaultAuthBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Directory{
		baseURL:    baseURL,
		authURL:    authURL,
		appID:      appID,
		appSecret:  appSecret,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// linkedAccount is one entry of a user's linked_accounts list.
type linkedAccount struct {
	ID            string `json:"id"`
	ConnectorType string `json:"connector_type"`
	Delegated     bool   `json:"delegated"`
	PublicKey     string `json:"public_key"`
}

// FindEmbeddedWallet returns the user's delegated embedded wallet.
// Users without one get ErrNoDelegatedWallet.
func (d *Directory) FindEmbeddedWallet(ctx context.Context, userID string) (*EmbeddedWallet, error) {
	u := fmt.Sprintf("%s/api/v1/users/%s", d.authURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("privy-app-id", d.appID)
	req.SetBasicAuth(d.appID, d.appSecret)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("privy user lookup returned status %d: %s", resp.StatusCode, string(raw))
	}

	var user struct {
		LinkedAccounts []linkedAccount `json:"linked_accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	for _, acct := range user.LinkedAccounts {
		if acct.ConnectorType == "embedded" && acct.Delegated {
			return &EmbeddedWallet{WalletID: acct.ID, Address: acct.PublicKey}, nil
		}
	}
	return nil, ErrNoDelegatedWallet
}

// CreateWallet provisions a new Solana wallet for a user. When ownerID
// is non-empty the wallet is assigned to that owning entity instead of
// the user directly.
func (d *Directory) CreateWallet(ctx context.Context, userID, ownerID string) (*EmbeddedWallet, error) {
	body := map[string]interface{}{
		"chain_type": "solana",
	}
	if ownerID != "" {
		body["owner_id"] = ownerID
	} else {
		body["owner"] = map[string]string{"user_id": userID}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.baseURL+"/v1/wallets", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("privy-app-id", d.appID)
	req.SetBasicAuth(d.appID, d.appSecret)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("privy create wallet returned status %d: %s", resp.StatusCode, string(raw))
	}

	var wallet struct {
		ID      string `json:"id"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wallet); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	d.logger.Debug("privy wallet created", "wallet_id", wallet.ID, "address", wallet.Address)
	return &EmbeddedWallet{WalletID: wallet.ID, Address: wallet.Address}, nil
}
