package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/brojonat/solforge/service/solana"
)

// Mints the earn product accepts.
const (
	earnSOLMint  = "So11111111111111111111111111111111111111112"
	earnUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// NormalizeEarnAsset maps the symbols SOL and USDC to their mints and
// rejects any asset outside the earn allowlist.
func NormalizeEarnAsset(asset string) (string, error) {
	trimmed := strings.TrimSpace(asset)
	switch strings.ToUpper(trimmed) {
	case "SOL":
		return earnSOLMint, nil
	case "USDC":
		return earnUSDCMint, nil
	}
	if trimmed == earnSOLMint || trimmed == earnUSDCMint {
		return trimmed, nil
	}
	return "", fmt.Errorf("asset %q is not supported for earn, only SOL and USDC", asset)
}

// Earn is the client for Jupiter's lend API. The instruction endpoints
// return raw instructions that the assembler compiles as-is.
type Earn struct {
	api
}

// NewEarn creates an earn client. baseURL may be empty, selecting the
// production host.
func NewEarn(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Earn {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Earn{api: newAPI(baseURL+"/lend/v1", apiKey, httpClient, logger)}
}

// DepositInstruction fetches the instruction depositing amount (base
// units, decimal string) of asset for signer.
func (e *Earn) DepositInstruction(ctx context.Context, asset, signer, amount string) (*solana.RawInstruction, error) {
	return e.instruction(ctx, "/earn/deposit-instructions", map[string]string{
		"asset": asset, "signer": signer, "amount": amount,
	})
}

// WithdrawInstruction fetches the instruction withdrawing amount (base
// units) of asset for signer.
func (e *Earn) WithdrawInstruction(ctx context.Context, asset, signer, amount string) (*solana.RawInstruction, error) {
	return e.instruction(ctx, "/earn/withdraw-instructions", map[string]string{
		"asset": asset, "signer": signer, "amount": amount,
	})
}

// MintInstruction fetches the instruction minting the given number of
// vault shares.
func (e *Earn) MintInstruction(ctx context.Context, asset, signer, shares string) (*solana.RawInstruction, error) {
	return e.instruction(ctx, "/earn/mint-instructions", map[string]string{
		"asset": asset, "signer": signer, "shares": shares,
	})
}

// RedeemInstruction fetches the instruction redeeming the given number
// of vault shares.
func (e *Earn) RedeemInstruction(ctx context.Context, asset, signer, shares string) (*solana.RawInstruction, error) {
	return e.instruction(ctx, "/earn/redeem-instructions", map[string]string{
		"asset": asset, "signer": signer, "shares": shares,
	})
}

func (e *Earn) instruction(ctx context.Context, path string, body map[string]string) (*solana.RawInstruction, error) {
	var out solana.RawInstruction
	if err := e.postJSON(ctx, path, body, &out); err != nil {
		return nil, err
	}
	if out.ProgramID == "" {
		return nil, fmt.Errorf("%s returned no instruction", path)
	}
	return &out, nil
}

// Tokens lists the earn-eligible tokens. The payload is passed through
// for display.
func (e *Earn) Tokens(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := e.getJSON(ctx, "/earn/tokens", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Positions returns the earn positions held by the given users.
func (e *Earn) Positions(ctx context.Context, users []string) (json.RawMessage, error) {
	query := url.Values{"users": {strings.Join(users, ",")}}
	var out json.RawMessage
	if err := e.getJSON(ctx, "/earn/positions", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Earnings returns accrued earnings for a user's positions.
func (e *Earn) Earnings(ctx context.Context, user string, positions []string) (json.RawMessage, error) {
	query := url.Values{
		"user":      {user},
		"positions": {strings.Join(positions, ",")},
	}
	var out json.RawMessage
	if err := e.getJSON(ctx, "/earn/earnings", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}
