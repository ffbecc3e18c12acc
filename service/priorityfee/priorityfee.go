// Package priorityfee prices compute units for draft transactions.
// Providers are selected once at configuration time and passed into the
// assembler; nothing in the pipeline inspects endpoint URLs at request
// time.
package priorityfee

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Provider estimates a compute-unit price for a draft transaction.
type Provider interface {
	// EstimateComputeUnitPrice returns a price in micro-lamports for the
	// base58-encoded transaction. Implementations fail loudly; a caller
	// that wants best-effort pricing must ignore the error itself.
	EstimateComputeUnitPrice(ctx context.Context, txBase58 string) (uint64, error)

	// Name identifies the provider in logs and error messages.
	Name() string
}

// New builds the provider named in configuration. Supported names are
// "helius" (the getPriorityFeeEstimate extension on the RPC endpoint),
// "static" (a fixed price), and "none" or empty, which returns a nil
// Provider and disables priority pricing.
func New(name, endpoint string, staticPrice uint64, logger *slog.Logger) (Provider, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "helius":
		return NewHelius(endpoint, nil, logger), nil
	case "static":
		return NewStatic(staticPrice), nil
	default:
		return nil, fmt.Errorf("unknown priority fee provider %q", name)
	}
}

// ForEndpoint resolves the "auto" provider name by inspecting the RPC
// endpoint host once, here at configuration time. Helius endpoints are
// the only ones known to expose getPriorityFeeEstimate; every other
// endpoint gets no provider. Any other name defers to New.
func ForEndpoint(name, endpoint string, staticPrice uint64, logger *slog.Logger) (Provider, error) {
	if strings.ToLower(name) != "auto" {
		return New(name, endpoint, staticPrice, logger)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("priority fee auto-detection: parse endpoint: %w", err)
	}
	if strings.Contains(u.Hostname(), "helius") {
		return NewHelius(endpoint, nil, logger), nil
	}
	return nil, nil
}
