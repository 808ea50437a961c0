package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExecute_SendsIdempotencyKeyAndParsesResult(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/charges" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")

		var req ChargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode charge request: %v", err)
		}
		if req.Amount != 10000 || req.Currency != "ZAR" {
			t.Fatalf("unexpected charge payload: %+v", req)
		}

		json.NewEncoder(w).Encode(ChargeResult{Reference: "gw_ref", Status: ChargeSucceeded})
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	result, err := client.Execute(context.Background(), "key-1", "transfer", 10000, "27821234567", "")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Status != ChargeSucceeded || result.Reference != "gw_ref" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotKey != "key-1" {
		t.Fatalf("expected idempotency key header, got %q", gotKey)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
}

func TestExecute_ServerErrorIsTimeoutUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	_, err := client.Execute(context.Background(), "key-2", "transfer", 10000, "27821234567", "")
	if !errors.Is(err, ErrTimeoutUnknown) {
		t.Fatalf("expected ErrTimeoutUnknown on 5xx, got %v", err)
	}
}

func TestExecute_UnreachableGatewayIsTimeoutUnknown(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "sk_test")
	_, err := client.Execute(context.Background(), "key-3", "transfer", 10000, "27821234567", "")
	if !errors.Is(err, ErrTimeoutUnknown) {
		t.Fatalf("expected ErrTimeoutUnknown on transport failure, got %v", err)
	}
}

func TestCheckStatus_NotFoundMeansDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/charges/key-4" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	result, err := client.CheckStatus(context.Background(), "key-4")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Status != ChargeDeclined {
		t.Fatalf("expected declined for unknown charge, got %s", result.Status)
	}
}

func TestGetBalance_ParsesAmounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/acc-1/balance" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(BalanceResult{AvailableBalance: 123456, LedgerBalance: 130000})
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	result, err := client.GetBalance(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.AvailableBalance != 123456 {
		t.Fatalf("expected available balance, got %d", result.AvailableBalance)
	}
}
