// Package jupiter wraps the Jupiter Earn, Trigger, and Recurring APIs.
// Endpoints return either a base64-encoded transaction plus a requestId
// or a raw instruction payload; both feed the assembler without
// semantic transformation.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the Jupiter API host. Product clients append their
// own path prefix (lend/v1, trigger/v1, recurring/v1). An API key is
// required; free-tier keys come from portal.jup.ag.
const DefaultBaseURL = "https://api.jup.ag"

// api is the shared transport for the product clients.
type api struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func newAPI(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) api {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return api{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (a api) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (a api) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// OrderResponse carries a signable transaction for an order action.
// RequestID pairs with the signed transaction on the execute call.
type OrderResponse struct {
	Order       string `json:"order,omitempty"`
	Transaction string `json:"transaction"`
	RequestID   string `json:"requestId"`
}

// CancelOrdersResponse carries one transaction per batch of cancelled
// orders.
type CancelOrdersResponse struct {
	Transactions []string `json:"transactions"`
	RequestID    string   `json:"requestId"`
}

// ExecuteResponse reports the outcome of an executed order
// transaction. Jupiter broadcasts and confirms server-side.
type ExecuteResponse struct {
	Status    string `json:"status"`
	Signature string `json:"signature"`
	Error     string `json:"error"`
	Code      int    `json:"code"`
}

func (a api) execute(ctx context.Context, signedTxB64, requestID string) (*ExecuteResponse, error) {
	body := map[string]string{
		"signedTransaction": signedTxB64,
		"requestId":         requestID,
	}
	var out ExecuteResponse
	if err := a.postJSON(ctx, "/execute", body, &out); err != nil {
		return nil, err
	}
	if !isSuccess(out.Status) {
		return &out, fmt.Errorf("execute returned status %q: %s", out.Status, out.Error)
	}
	return &out, nil
}

func isSuccess(status string) bool {
	return status == "Success" || status == "success"
}
