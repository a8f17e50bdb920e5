package fanbases

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChargeSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/charges" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req ChargeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.AmountCents != 2500 || req.CustomerID != "cus_1" {
			t.Errorf("unexpected charge request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ch_123","status":"succeeded","amount_cents":2500}`))
	}))
	defer srv.Close()

	client := NewClient("sk_test", srv.URL+"/", time.Second)
	charge, err := client.Charge(context.Background(), &ChargeRequest{CustomerID: "cus_1", AmountCents: 2500})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if charge.ID != "ch_123" || charge.Status != StatusSucceeded {
		t.Fatalf("unexpected charge %+v", charge)
	}
}

func TestGetTransactionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transactions/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/transactions/broken":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"upstream down"}`))
		default:
			w.Write([]byte(`{"id":"pi_1","status":"succeeded","amount_cents":1000}`))
		}
	}))
	defer srv.Close()

	client := NewClient("sk_test", srv.URL, time.Second)
	ctx := context.Background()

	if _, err := client.GetTransaction(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.GetTransaction(ctx, "broken"); err == nil {
		t.Error("expected error for 502 response")
	}
	txn, err := client.GetTransaction(ctx, "pi_1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !txn.Succeeded() {
		t.Errorf("expected succeeded transaction, got %+v", txn)
	}
}

func TestUnconfiguredClient(t *testing.T) {
	client := NewClient("", "http://unused", time.Second)
	if client.Configured() {
		t.Fatal("expected unconfigured client")
	}
	if _, err := client.GetTransaction(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
