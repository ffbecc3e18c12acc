package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/brojonat/solforge/client"
	"github.com/itchyny/gojq"
)

func TestJQFilterMatching(t *testing.T) {
	tests := []struct {
		name        string
		event       string
		jqFilter    string
		expectMatch bool
	}{
		{
			name:        "status match",
			event:       `{"status": "confirmed"}`,
			jqFilter:    `.status == "confirmed"`,
			expectMatch: true,
		},
		{
			name:        "status mismatch",
			event:       `{"status": "broadcast"}`,
			jqFilter:    `.status == "confirmed"`,
			expectMatch: false,
		},
		{
			name:        "amount threshold",
			event:       `{"amount": "0.75"}`,
			jqFilter:    `.amount | tonumber >= 0.5`,
			expectMatch: true,
		},
		{
			name:        "amount below threshold",
			event:       `{"amount": "0.25"}`,
			jqFilter:    `.amount | tonumber >= 0.5`,
			expectMatch: false,
		},
		{
			name:        "contains on nested value",
			event:       `{"status": "failed", "failure_reason": "blockhash expired"}`,
			jqFilter:    `.failure_reason | contains("blockhash")`,
			expectMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := gojq.Parse(tt.jqFilter)
			if err != nil {
				t.Fatalf("parse jq filter: %v", err)
			}
			code, err := gojq.Compile(query)
			if err != nil {
				t.Fatalf("compile jq filter: %v", err)
			}

			var decoded interface{}
			if err := json.Unmarshal([]byte(tt.event), &decoded); err != nil {
				t.Fatalf("failed to parse event: %v", err)
			}

			v, ok := code.Run(decoded).Next()
			if !ok {
				t.Fatal("jq filter returned no result")
			}
			if filterErr, isErr := v.(error); isErr {
				t.Fatalf("jq filter error: %v", filterErr)
			}

			if matched := isTruthy(v); matched != tt.expectMatch {
				t.Errorf("expected match=%v, got match=%v (jq result: %v)", tt.expectMatch, matched, v)
			}
		})
	}
}

func TestEventMatches(t *testing.T) {
	event := &client.TransferEvent{
		TransferID:    "t-1",
		WalletAddress: "wallet-1",
		Status:        "confirmed",
		Signature:     "sig-1",
	}

	compile := func(expr string) *gojq.Code {
		t.Helper()
		query, err := gojq.Parse(expr)
		if err != nil {
			t.Fatalf("failed to parse %q: %v", expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			t.Fatalf("failed to compile %q: %v", expr, err)
		}
		return code
	}

	if !eventMatches(event, nil) {
		t.Error("expected no filters to match everything")
	}

	all := []*gojq.Code{
		compile(`.status == "confirmed"`),
		compile(`.transfer_id == "t-1"`),
	}
	if !eventMatches(event, all) {
		t.Error("expected event to satisfy both filters")
	}

	mixed := []*gojq.Code{
		compile(`.status == "confirmed"`),
		compile(`.transfer_id == "t-2"`),
	}
	if eventMatches(event, mixed) {
		t.Error("expected one failing filter to reject the event")
	}
}

func TestTransferCommand(t *testing.T) {
	os.Unsetenv("SOLFORGE_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/transfers" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req struct {
			Recipient string `json:"recipient"`
			Asset     string `json:"asset"`
			Amount    string `json:"amount"`
			Broadcast bool   `json:"broadcast"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Recipient != "recipient-wallet" {
			t.Errorf("unexpected recipient: %s", req.Recipient)
		}
		if req.Amount != "0.25" {
			t.Errorf("unexpected amount: %s", req.Amount)
		}
		if req.Asset != "sol" {
			t.Errorf("unexpected asset: %s", req.Asset)
		}
		if req.Broadcast {
			t.Error("broadcast should be false without --broadcast")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{
			"transfer": {
				"id": "3fa85f64-5717-4562-b3fc-2c963f66afa6",
				"wallet_address": "service-wallet",
				"recipient": "recipient-wallet",
				"asset": "sol",
				"amount": "0.25",
				"status": "signed",
				"created_at": "2025-01-01T00:00:00Z",
				"updated_at": "2025-01-01T00:00:00Z"
			},
			"transaction_base64": "c2lnbmVkLXR4",
			"signed": true,
			"signature": "sig-abc"
		}`)
	}))
	defer server.Close()

	output, err := runApp(t,
		"--server-url", server.URL,
		"transfer", "--recipient", "recipient-wallet", "--amount", "0.25",
	)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	if !strings.Contains(output, "3fa85f64-5717-4562-b3fc-2c963f66afa6") {
		t.Errorf("expected transfer id in output, got: %s", output)
	}
	if !strings.Contains(output, "sig-abc") {
		t.Errorf("expected signature in output, got: %s", output)
	}
}

func TestTransferCommand_NoSignJSON(t *testing.T) {
	os.Unsetenv("SOLFORGE_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			NoSign bool `json:"no_sign"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if !req.NoSign {
			t.Error("expected no_sign to be set")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{
			"transfer": {
				"id": "3fa85f64-5717-4562-b3fc-2c963f66afa6",
				"wallet_address": "service-wallet",
				"recipient": "recipient-wallet",
				"asset": "sol",
				"amount": "1",
				"status": "assembled",
				"created_at": "2025-01-01T00:00:00Z",
				"updated_at": "2025-01-01T00:00:00Z"
			},
			"transaction_base64": "dW5zaWduZWQtdHg=",
			"signed": false
		}`)
	}))
	defer server.Close()

	output, err := runApp(t,
		"--server-url", server.URL, "--json",
		"transfer", "--recipient", "recipient-wallet", "--amount", "1", "--no-sign",
	)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	var result client.CreateTransferResult
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if result.Signed {
		t.Error("expected unsigned result")
	}
	if result.TransactionBase64 != "dW5zaWduZWQtdHg=" {
		t.Errorf("unexpected artifact: %s", result.TransactionBase64)
	}
}

func TestSignCommand(t *testing.T) {
	os.Unsetenv("SOLFORGE_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/transactions/sign" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req struct {
			Transaction string `json:"transaction"`
			WalletID    string `json:"wallet_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Transaction != "dW5zaWduZWQ=" {
			t.Errorf("unexpected transaction: %s", req.Transaction)
		}
		if req.WalletID != "wallet-id-1" {
			t.Errorf("unexpected wallet id: %s", req.WalletID)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"transaction_base64": "c2lnbmVk", "signer": "delegated", "signature": "sig-xyz"}`)
	}))
	defer server.Close()

	output, err := runApp(t,
		"--server-url", server.URL,
		"sign", "--wallet-id", "wallet-id-1", "dW5zaWduZWQ=",
	)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	if !strings.Contains(output, "c2lnbmVk") {
		t.Errorf("expected signed transaction on stdout, got: %s", output)
	}
}

func TestBroadcastCommand_Durable(t *testing.T) {
	os.Unsetenv("SOLFORGE_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/v1/transactions/broadcast" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req struct {
			Transaction string `json:"transaction"`
			TransferID  string `json:"transfer_id"`
			Durable     bool   `json:"durable"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if !req.Durable {
			t.Error("expected durable flag in request")
		}
		if req.TransferID != "transfer-1" {
			t.Errorf("unexpected transfer id: %s", req.TransferID)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"workflow_id": "submit-transfer-transfer-1", "transfer_id": "transfer-1"}`)
	}))
	defer server.Close()

	output, err := runApp(t,
		"--server-url", server.URL,
		"broadcast", "--transfer-id", "transfer-1", "--durable", "c2lnbmVk",
	)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	if !strings.Contains(output, "submit-transfer-transfer-1") {
		t.Errorf("expected workflow id in output, got: %s", output)
	}
}

func TestFeeEstimateCommand(t *testing.T) {
	os.Unsetenv("SOLFORGE_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/api/v1/fees/estimate" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.URL.Query().Get("transaction"); got != "ZHJhZnQ=" {
			t.Errorf("unexpected transaction param: %s", got)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"provider": "helius", "compute_unit_price": 1234}`)
	}))
	defer server.Close()

	output, err := runApp(t,
		"--server-url", server.URL,
		"fee", "estimate", "ZHJhZnQ=",
	)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	if !strings.Contains(output, "helius") {
		t.Errorf("expected provider in output, got: %s", output)
	}
	if !strings.Contains(output, "1234") {
		t.Errorf("expected compute unit price in output, got: %s", output)
	}
}

func TestAwaitCommand_MustJQ(t *testing.T) {
	os.Unsetenv("SOLFORGE_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/stream/transfers/wallet-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not support flushing")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":\"wallet-1\"}\n\n")
		flusher.Flush()

		// First event should not satisfy the filter.
		fmt.Fprintf(w, "event: transfer\ndata: %s\n\n",
			`{"transfer_id":"t-1","wallet_address":"wallet-1","recipient":"r","asset":"sol","amount":"0.5","status":"broadcast","published_at":"2025-01-01T00:00:00Z"}`)
		flusher.Flush()

		fmt.Fprintf(w, "event: transfer\ndata: %s\n\n",
			`{"transfer_id":"t-1","wallet_address":"wallet-1","recipient":"r","asset":"sol","amount":"0.5","status":"confirmed","signature":"sig-1","published_at":"2025-01-01T00:00:01Z"}`)
		flusher.Flush()

		<-r.Context().Done()
	}))
	defer server.Close()

	output, err := runApp(t,
		"--server-url", server.URL, "--json",
		"await", "--wallet", "wallet-1", "--timeout", "10s",
		"--must-jq", `.status == "confirmed"`,
	)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	var event client.TransferEvent
	if err := json.Unmarshal([]byte(output), &event); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if event.Status != "confirmed" {
		t.Errorf("expected confirmed event, got %s", event.Status)
	}
	if event.Signature != "sig-1" {
		t.Errorf("expected signature sig-1, got %s", event.Signature)
	}
}

func TestTransferCommand_Await(t *testing.T) {
	os.Unsetenv("SOLFORGE_SERVER_URL")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/v1/transfers":
			var req struct {
				Broadcast bool `json:"broadcast"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			if !req.Broadcast {
				t.Error("--await should imply broadcast")
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{
				"transfer": {
					"id": "t-42",
					"wallet_address": "wallet-1",
					"recipient": "r",
					"asset": "sol",
					"amount": "0.5",
					"status": "broadcast",
					"created_at": "2025-01-01T00:00:00Z",
					"updated_at": "2025-01-01T00:00:00Z"
				},
				"transaction_base64": "c2lnbmVk",
				"signed": true,
				"workflow_id": "submit-transfer-t-42"
			}`)

		case r.Method == "GET" && r.URL.Path == "/api/v1/stream/transfers/wallet-1":
			flusher := w.(http.Flusher)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":\"wallet-1\"}\n\n")
			flusher.Flush()
			fmt.Fprintf(w, "event: transfer\ndata: %s\n\n",
				`{"transfer_id":"t-42","wallet_address":"wallet-1","recipient":"r","asset":"sol","amount":"0.5","status":"confirmed","signature":"sig-42","published_at":"2025-01-01T00:00:01Z"}`)
			flusher.Flush()
			<-r.Context().Done()

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	output, err := runApp(t,
		"--server-url", server.URL, "--json",
		"transfer", "--recipient", "r", "--amount", "0.5", "--await", "--timeout", "10s",
	)
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	var event client.TransferEvent
	if err := json.Unmarshal([]byte(output), &event); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if event.TransferID != "t-42" || event.Status != "confirmed" {
		t.Errorf("unexpected event: %+v", event)
	}
}
