package priorityfee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Helius prices compute units with the getPriorityFeeEstimate extension
// method that Helius exposes alongside the standard JSON-RPC surface.
// The endpoint is the same URL the RPC client talks to.
type Helius struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHelius creates a Helius provider. httpClient may be nil, in which
// case a client with a 10 second timeout is used.
func NewHelius(endpoint string, httpClient *http.Client, logger *slog.Logger) *Helius {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Helius{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Name implements Provider.
func (h *Helius) Name() string { return "helius" }

// EstimateComputeUnitPrice implements Provider. It asks for the
// recommended estimate, which Helius computes from recent fee markets
// across the accounts the transaction touches.
func (h *Helius) EstimateComputeUnitPrice(ctx context.Context, txBase58 string) (uint64, error) {
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "getPriorityFeeEstimate",
		"params": []interface{}{
			map[string]interface{}{
				"transaction": txBase58,
				"options":     map[string]interface{}{"recommended": true},
			},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", h.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("getPriorityFeeEstimate returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out struct {
		Result *struct {
			PriorityFeeEstimate float64 `json:"priorityFeeEstimate"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != nil {
		return 0, fmt.Errorf("getPriorityFeeEstimate error %d: %s", out.Error.Code, out.Error.Message)
	}
	if out.Result == nil {
		return 0, fmt.Errorf("getPriorityFeeEstimate returned no result")
	}

	price := uint64(out.Result.PriorityFeeEstimate)
	h.logger.Debug("estimated priority fee", "micro_lamports", price)
	return price, nil
}
