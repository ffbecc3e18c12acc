package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// Recurring is the client for Jupiter's time-based DCA API.
type Recurring struct {
	api
}

// NewRecurring creates a recurring-order client. baseURL may be empty,
// selecting the production host.
func NewRecurring(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Recurring {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Recurring{api: newAPI(baseURL+"/recurring/v1", apiKey, httpClient, logger)}
}

// CreateRecurringOrderParams are the createOrder inputs for a
// time-based order: InAmount base units are split over NumberOfOrders
// executions, IntervalSeconds apart.
type CreateRecurringOrderParams struct {
	InputMint       string
	OutputMint      string
	User            string
	Payer           string // defaults to User
	InAmount        uint64
	NumberOfOrders  int
	IntervalSeconds int64
	MinPrice        float64 // zero means unbounded
	MaxPrice        float64 // zero means unbounded
	StartAt         int64   // unix seconds, zero means immediately
}

// CreateOrder opens a recurring order and returns the transaction to
// sign.
func (r *Recurring) CreateOrder(ctx context.Context, p CreateRecurringOrderParams) (*OrderResponse, error) {
	if p.InAmount == 0 || p.NumberOfOrders <= 0 || p.IntervalSeconds <= 0 {
		return nil, fmt.Errorf("inAmount, numberOfOrders and interval must all be positive")
	}

	payer := p.Payer
	if payer == "" {
		payer = p.User
	}

	// Unset bounds are sent as explicit nulls.
	timeParams := map[string]interface{}{
		"inAmount":       p.InAmount,
		"numberOfOrders": p.NumberOfOrders,
		"interval":       p.IntervalSeconds,
		"minPrice":       nil,
		"maxPrice":       nil,
		"startAt":        nil,
	}
	if p.MinPrice > 0 {
		timeParams["minPrice"] = p.MinPrice
	}
	if p.MaxPrice > 0 {
		timeParams["maxPrice"] = p.MaxPrice
	}
	if p.StartAt > 0 {
		timeParams["startAt"] = p.StartAt
	}

	body := map[string]interface{}{
		"user":       p.User,
		"payer":      payer,
		"inputMint":  p.InputMint,
		"outputMint": p.OutputMint,
		"params":     map[string]interface{}{"time": timeParams},
	}

	var out OrderResponse
	if err := r.postJSON(ctx, "/createOrder", body, &out); err != nil {
		return nil, err
	}
	if out.Transaction == "" {
		return nil, fmt.Errorf("createOrder returned no transaction")
	}
	return &out, nil
}

// CancelOrder closes a recurring order and returns the unspent balance
// withdrawal transaction to sign.
func (r *Recurring) CancelOrder(ctx context.Context, user, order, payer string) (*OrderResponse, error) {
	body := map[string]interface{}{
		"user":  user,
		"order": order,
	}
	if payer != "" {
		body["payer"] = payer
	}

	var out OrderResponse
	if err := r.postJSON(ctx, "/cancelOrder", body, &out); err != nil {
		return nil, err
	}
	if out.Transaction == "" {
		return nil, fmt.Errorf("cancelOrder returned no transaction")
	}
	return &out, nil
}

// Execute submits a signed order transaction; Jupiter broadcasts and
// waits for confirmation.
func (r *Recurring) Execute(ctx context.Context, signedTxB64, requestID string) (*ExecuteResponse, error) {
	return r.execute(ctx, signedTxB64, requestID)
}

// Orders lists a user's recurring orders. status is "active" or
// "history".
func (r *Recurring) Orders(ctx context.Context, user, status string, page int) (json.RawMessage, error) {
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
	if err := r.getJSON(ctx, "/getRecurringOrders", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}
