package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/curaline/telecare-platform/pkg/logging"
)

func TestHTTPGatewayCreateRefund(t *testing.T) {
	var gotAuth, gotIdem string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/refunds" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "re_123",
			"status":  "succeeded",
			"amount":  5000,
			"created": 1700000000,
		})
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "sk_test", logging.NewText("error"))
	refund, err := gw.CreateRefund(context.Background(), CreateRefundRequest{
		ChargeRef:   "ch_123",
		AmountCents: 5000,
		Reason:      "requested_by_customer",
	})
	if err != nil {
		t.Fatalf("CreateRefund: %v", err)
	}
	if refund.ID != "re_123" || refund.AmountCents != 5000 {
		t.Errorf("refund = %+v", refund)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotIdem != "refund-ch_123" {
		t.Errorf("idempotency key = %q", gotIdem)
	}
	if gotBody["charge"] != "ch_123" {
		t.Errorf("request body charge = %v", gotBody["charge"])
	}
}

func TestHTTPGatewayServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "sk_test", logging.NewText("error"))
	_, err := gw.CreateRefund(context.Background(), CreateRefundRequest{ChargeRef: "ch_1", AmountCents: 100})

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want *GatewayError", err)
	}
	if !gwErr.Transient {
		t.Error("5xx should be transient")
	}
}

func TestHTTPGatewayRejectionIsNotTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "charge_already_refunded"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "sk_test", logging.NewText("error"))
	_, err := gw.CreateRefund(context.Background(), CreateRefundRequest{ChargeRef: "ch_1", AmountCents: 100})

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want *GatewayError", err)
	}
	if gwErr.Transient {
		t.Error("4xx rejection must not be retried")
	}
	if gwErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", gwErr.StatusCode)
	}
}

func TestHTTPGatewayNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	gw := NewHTTPGateway(server.URL, "sk_test", logging.NewText("error"))
	_, err := gw.CreateRefund(context.Background(), CreateRefundRequest{ChargeRef: "ch_1", AmountCents: 100})

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want *GatewayError", err)
	}
	if !gwErr.Transient {
		t.Error("network failure should be transient")
	}
}

func TestHTTPGatewayRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "sk_test", logging.NewText("error"))
	_, err := gw.CreateRefund(context.Background(), CreateRefundRequest{ChargeRef: "ch_1", AmountCents: 100})

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want *GatewayError", err)
	}
	if !gwErr.Transient {
		t.Error("429 should be transient")
	}
}
