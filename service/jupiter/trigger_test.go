package jupiter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trigger/v1/createOrder", r.URL.Path)

		var body struct {
			InputMint  string `json:"inputMint"`
			OutputMint string `json:"outputMint"`
			Maker      string `json:"maker"`
			Payer      string `json:"payer"`
			Params     struct {
				MakingAmount string `json:"makingAmount"`
				TakingAmount string `json:"takingAmount"`
				ExpiredAt    string `json:"expiredAt"`
			} `json:"params"`
			ComputeUnitPrice string `json:"computeUnitPrice"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "maker-address", body.Maker)
		assert.Equal(t, "maker-address", body.Payer, "payer defaults to maker")
		assert.Equal(t, "1000000", body.Params.MakingAmount)
		assert.Equal(t, "5000000", body.Params.TakingAmount)
		assert.Empty(t, body.Params.ExpiredAt)
		assert.Equal(t, "auto", body.ComputeUnitPrice)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"order": "order-pubkey", "transaction": "dHJpZ2dlcg==", "requestId": "req-1"}`))
	}))
	defer server.Close()

	trigger := NewTrigger(server.URL, "test-key", nil, nil)
	order, err := trigger.CreateOrder(context.Background(), CreateTriggerOrderParams{
		InputMint:    earnSOLMint,
		OutputMint:   earnUSDCMint,
		Maker:        "maker-address",
		MakingAmount: "1000000",
		TakingAmount: "5000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "order-pubkey", order.Order)
	assert.Equal(t, "dHJpZ2dlcg==", order.Transaction)
	assert.Equal(t, "req-1", order.RequestID)
}

func TestCreateOrder_ExpiredAtInPast(t *testing.T) {
	trigger := NewTrigger("http://unused", "test-key", nil, nil)
	_, err := trigger.CreateOrder(context.Background(), CreateTriggerOrderParams{
		InputMint:    earnSOLMint,
		OutputMint:   earnUSDCMint,
		Maker:        "maker-address",
		MakingAmount: "1",
		TakingAmount: "1",
		ExpiredAt:    time.Now().Add(-time.Hour).Unix(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in the past")
}

func TestCreateOrder_NoTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"requestId": "req-1"}`))
	}))
	defer server.Close()

	trigger := NewTrigger(server.URL, "test-key", nil, nil)
	_, err := trigger.CreateOrder(context.Background(), CreateTriggerOrderParams{
		InputMint:    earnSOLMint,
		OutputMint:   earnUSDCMint,
		Maker:        "maker-address",
		MakingAmount: "1",
		TakingAmount: "1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction")
}

func TestCancelOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trigger/v1/cancelOrders", r.URL.Path)

		var body struct {
			Maker  string   `json:"maker"`
			Orders []string `json:"orders"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"o1", "o2"}, body.Orders)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transactions": ["dHgx", "dHgy"], "requestId": "req-2"}`))
	}))
	defer server.Close()

	trigger := NewTrigger(server.URL, "test-key", nil, nil)
	result, err := trigger.CancelOrders(context.Background(), "maker-address", []string{"o1", "o2"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"dHgx", "dHgy"}, result.Transactions)
}

func TestExecute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/trigger/v1/execute", r.URL.Path)

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "c2lnbmVk", body["signedTransaction"])
			assert.Equal(t, "req-1", body["requestId"])

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status": "Success", "signature": "abc123"}`))
		}))
		defer server.Close()

		trigger := NewTrigger(server.URL, "test-key", nil, nil)
		result, err := trigger.Execute(context.Background(), "c2lnbmVk", "req-1")
		require.NoError(t, err)
		assert.Equal(t, "abc123", result.Signature)
	})

	t.Run("failed status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status": "Failed", "error": "slippage exceeded", "code": 7}`))
		}))
		defer server.Close()

		trigger := NewTrigger(server.URL, "test-key", nil, nil)
		result, err := trigger.Execute(context.Background(), "c2lnbmVk", "req-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slippage exceeded")
		require.NotNil(t, result)
		assert.Equal(t, 7, result.Code)
	})
}

func TestOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trigger/v1/getTriggerOrders", r.URL.Path)
		assert.Equal(t, "user-address", r.URL.Query().Get("user"))
		assert.Equal(t, "history", r.URL.Query().Get("orderStatus"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orders": [], "total": 0, "page": 2}`))
	}))
	defer server.Close()

	trigger := NewTrigger(server.URL, "test-key", nil, nil)
	orders, err := trigger.Orders(context.Background(), "user-address", "history", 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"orders": [], "total": 0, "page": 2}`, string(orders))
}
