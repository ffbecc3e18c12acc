package jupiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRecurringOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recurring/v1/createOrder", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-address", body["user"])
		assert.Equal(t, "user-address", body["payer"], "payer defaults to user")

		params, ok := body["params"].(map[string]interface{})
		require.True(t, ok)
		timeParams, ok := params["time"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(10_000_000), timeParams["inAmount"])
		assert.Equal(t, float64(10), timeParams["numberOfOrders"])
		assert.Equal(t, float64(3600), timeParams["interval"])

		// Unset bounds arrive as explicit nulls.
		minPrice, present := timeParams["minPrice"]
		assert.True(t, present)
		assert.Nil(t, minPrice)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"order": "order-pubkey", "transaction": "cmVjdXJyaW5n", "requestId": "req-3"}`))
	}))
	defer server.Close()

	recurring := NewRecurring(server.URL, "test-key", nil, nil)
	order, err := recurring.CreateOrder(context.Background(), CreateRecurringOrderParams{
		InputMint:       earnUSDCMint,
		OutputMint:      earnSOLMint,
		User:            "user-address",
		InAmount:        10_000_000,
		NumberOfOrders:  10,
		IntervalSeconds: 3600,
	})
	require.NoError(t, err)
	assert.Equal(t, "cmVjdXJyaW5n", order.Transaction)
	assert.Equal(t, "req-3", order.RequestID)
}

func TestCreateRecurringOrder_PriceBounds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		timeParams := body["params"].(map[string]interface{})["time"].(map[string]interface{})
		assert.Equal(t, 0.5, timeParams["minPrice"])
		assert.Equal(t, 2.0, timeParams["maxPrice"])
		assert.Equal(t, float64(1_900_000_000), timeParams["startAt"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transaction": "dHg=", "requestId": "req-4"}`))
	}))
	defer server.Close()

	recurring := NewRecurring(server.URL, "test-key", nil, nil)
	_, err := recurring.CreateOrder(context.Background(), CreateRecurringOrderParams{
		InputMint:       earnUSDCMint,
		OutputMint:      earnSOLMint,
		User:            "user-address",
		InAmount:        1,
		NumberOfOrders:  1,
		IntervalSeconds: 60,
		MinPrice:        0.5,
		MaxPrice:        2.0,
		StartAt:         1_900_000_000,
	})
	require.NoError(t, err)
}

func TestCreateRecurringOrder_Validation(t *testing.T) {
	recurring := NewRecurring("http://unused", "test-key", nil, nil)

	_, err := recurring.CreateOrder(context.Background(), CreateRecurringOrderParams{
		InputMint:       earnUSDCMint,
		OutputMint:      earnSOLMint,
		User:            "user-address",
		InAmount:        0,
		NumberOfOrders:  10,
		IntervalSeconds: 3600,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must all be positive")
}

func TestRecurringCancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recurring/v1/cancelOrder", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-address", body["user"])
		assert.Equal(t, "order-pubkey", body["order"])
		_, hasPayer := body["payer"]
		assert.False(t, hasPayer)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transaction": "Y2FuY2Vs", "requestId": "req-5"}`))
	}))
	defer server.Close()

	recurring := NewRecurring(server.URL, "test-key", nil, nil)
	result, err := recurring.CancelOrder(context.Background(), "user-address", "order-pubkey", "")
	require.NoError(t, err)
	assert.Equal(t, "Y2FuY2Vs", result.Transaction)
}
