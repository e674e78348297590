package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/curaline/telecare-platform/internal/billing"
	"github.com/curaline/telecare-platform/pkg/logging"
)

// emptyBillStore satisfies the coordinator's storage needs with an empty
// dataset.
type emptyBillStore struct{}

func (emptyBillStore) GetBillByID(context.Context, uuid.UUID) (*billing.Bill, error) {
	return nil, billing.ErrBillNotFound
}

func (emptyBillStore) GetBillByAppointment(context.Context, uuid.UUID) (*billing.Bill, error) {
	return nil, billing.ErrBillNotFound
}

func (emptyBillStore) GetTransactionByBill(context.Context, uuid.UUID) (*billing.PaymentTransaction, error) {
	return nil, billing.ErrTransactionNotFound
}

func (emptyBillStore) GetTransactionByIntentRef(context.Context, string) (*billing.PaymentTransaction, error) {
	return nil, billing.ErrTransactionNotFound
}

func (emptyBillStore) GetTransactionByChargeRef(context.Context, string) (*billing.PaymentTransaction, error) {
	return nil, billing.ErrTransactionNotFound
}

func (emptyBillStore) MarkBillPaid(context.Context, uuid.UUID, string) (bool, error) {
	return false, nil
}

func (emptyBillStore) CancelBill(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (emptyBillStore) SetTransactionStatus(context.Context, uuid.UUID, billing.TransactionStatus, string) (bool, error) {
	return false, nil
}

func (emptyBillStore) MarkRefundProcessing(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func (emptyBillStore) MarkRefundFailed(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (emptyBillStore) ApplyRefundOutcome(context.Context, uuid.UUID, uuid.UUID, string, int64) (bool, error) {
	return false, nil
}

type noopOutbox struct{}

func (noopOutbox) Insert(context.Context, string, any) (uuid.UUID, error) { return uuid.New(), nil }

type noopGateway struct{}

func (noopGateway) CreateRefund(context.Context, billing.CreateRefundRequest) (*billing.Refund, error) {
	return nil, errors.New("not reachable in router tests")
}

type noopProcessed struct{}

func (noopProcessed) AlreadyProcessed(context.Context, string, string) (bool, error) {
	return false, nil
}

func (noopProcessed) MarkProcessed(context.Context, string, string) (bool, error) { return true, nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.NewText("error")
	coordinator := billing.NewCoordinator(emptyBillStore{}, noopGateway{}, noopOutbox{}, logger)
	reconciler := billing.NewReconciler(emptyBillStore{}, nil, noopOutbox{}, logger)

	cfg := &Config{
		Logger:             logger,
		WebhookHandler:     billing.NewWebhookHandler("whsec_router", reconciler, noopProcessed{}, logger),
		RefundHandler:      billing.NewRefundHandler(coordinator, logger),
		OperatorAuthSecret: "router-secret",
	}
	return New(cfg)
}

func TestRouterHealthz(t *testing.T) {
	r := newTestRouter(t)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestRouterHealthzDegraded(t *testing.T) {
	cfg := &Config{
		Readiness: func(context.Context) error { return errors.New("db down") },
	}
	r := New(cfg)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestRouterWebhookRejectsUnsigned(t *testing.T) {
	r := newTestRouter(t)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil))

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for unsigned webhook", rr.Code)
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	r := newTestRouter(t)
	target := "/admin/appointments/" + uuid.NewString() + "/refund"

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", rr.Code)
	}
}

func TestRouterAdminRefundStatusNotFound(t *testing.T) {
	r := newTestRouter(t)
	target := "/admin/appointments/" + uuid.NewString() + "/refund"

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer "+routerToken(t, "router-secret"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown appointment", rr.Code)
	}
}

func routerToken(t *testing.T, secret string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "ops-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
