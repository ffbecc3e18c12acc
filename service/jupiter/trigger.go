package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Trigger is the client for Jupiter's limit-order API.
type Trigger struct {
	api
}

// NewTrigger creates a trigger client. baseURL may be empty, selecting
// the production host.
func NewTrigger(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Trigger {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Trigger{api: newAPI(baseURL+"/trigger/v1", apiKey, httpClient, logger)}
}

// CreateTriggerOrderParams are the createOrder inputs. Amounts are base
// units rendered as decimal strings, as the API requires.
type CreateTriggerOrderParams struct {
	InputMint    string
	OutputMint   string
	Maker        string
	Payer        string // defaults to Maker
	MakingAmount string
	TakingAmount string
	ExpiredAt    int64  // unix seconds, zero means no expiry
	FeeBps       int    // integrator fee, zero means none
	FeeAccount   string // referral token account for the fee
	// ComputeUnitPrice defaults to "auto", letting Jupiter price the
	// transaction.
	ComputeUnitPrice string
}

// CreateOrder places a limit order and returns the transaction to
// sign.
func (t *Trigger) CreateOrder(ctx context.Context, p CreateTriggerOrderParams) (*OrderResponse, error) {
	if p.ExpiredAt != 0 && p.ExpiredAt <= time.Now().Unix() {
		return nil, fmt.Errorf("expiredAt %d is in the past", p.ExpiredAt)
	}

	payer := p.Payer
	if payer == "" {
		payer = p.Maker
	}
	computeUnitPrice := p.ComputeUnitPrice
	if computeUnitPrice == "" {
		computeUnitPrice = "auto"
	}

	params := map[string]interface{}{
		"makingAmount": p.MakingAmount,
		"takingAmount": p.TakingAmount,
	}
	if p.ExpiredAt != 0 {
		params["expiredAt"] = strconv.FormatInt(p.ExpiredAt, 10)
	}
	if p.FeeBps > 0 {
		params["feeBps"] = strconv.Itoa(p.FeeBps)
	}

	body := map[string]interface{}{
		"inputMint":        p.InputMint,
		"outputMint":       p.OutputMint,
		"maker":            p.Maker,
		"payer":            payer,
		"params":           params,
		"computeUnitPrice": computeUnitPrice,
	}
	if p.FeeAccount != "" {
		body["feeAccount"] = p.FeeAccount
	}

	var out OrderResponse
	if err := t.postJSON(ctx, "/createOrder", body, &out); err != nil {
		return nil, err
	}
	if out.Transaction == "" {
		return nil, fmt.Errorf("createOrder returned no transaction")
	}
	return &out, nil
}

// CancelOrder cancels a single order. payer may be empty.
func (t *Trigger) CancelOrder(ctx context.Context, maker, order, payer string) (*OrderResponse, error) {
	body := map[string]interface{}{
		"maker":            maker,
		"order":            order,
		"computeUnitPrice": "auto",
	}
	if payer != "" {
		body["payer"] = payer
	}

	var out OrderResponse
	if err := t.postJSON(ctx, "/cancelOrder", body, &out); err != nil {
		return nil, err
	}
	if out.Transaction == "" {
		return nil, fmt.Errorf("cancelOrder returned no transaction")
	}
	return &out, nil
}

// CancelOrders cancels the listed orders, or every active order when
// orders is empty. The API batches five orders per transaction.
func (t *Trigger) CancelOrders(ctx context.Context, maker string, orders []string, payer string) (*CancelOrdersResponse, error) {
	body := map[string]interface{}{
		"maker":            maker,
		"computeUnitPrice": "auto",
	}
	if len(orders) > 0 {
		body["orders"] = orders
	}
	if payer != "" {
		body["payer"] = payer
	}

	var out CancelOrdersResponse
	if err := t.postJSON(ctx, "/cancelOrders", body, &out); err != nil {
		return nil, err
	}
	if len(out.Transactions) == 0 {
		return nil, fmt.Errorf("cancelOrders returned no transactions")
	}
	return &out, nil
}

// Execute submits a signed order transaction; Jupiter broadcasts and
// waits for confirmation.
func (t *Trigger) Execute(ctx context.Context, signedTxB64, requestID string) (*ExecuteResponse, error) {
	return t.execute(ctx, signedTxB64, requestID)
}

// Orders lists a user's orders. status is "active" or "history"; pages
// hold ten orders.
func (t *Trigger) Orders(ctx context.Context, user, status string, page int) (json.RawMessage, error) {
	if status == "" {
		status = "active"
	}
	if page < 1 {
		page = 1
	}
	query := url.Values{
		"user":        {user},
		"orderStatus": {status},
		"page":        {strconv.Itoa(page)},
	}

	var out json.RawMessage
	if err := t.getJSON(ctx, "/getTriggerOrders", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}
