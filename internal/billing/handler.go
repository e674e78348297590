package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/curaline/telecare-platform/internal/http/middleware"
	"github.com/curaline/telecare-platform/pkg/logging"
)

// RefundHandler exposes operator-facing refund actions.
type RefundHandler struct {
	coordinator *Coordinator
	logger      *logging.Logger
}

// NewRefundHandler creates a refund handler.
func NewRefundHandler(coordinator *Coordinator, logger *logging.Logger) *RefundHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefundHandler{coordinator: coordinator, logger: logger}
}

type refundRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type refundResponse struct {
	Outcome     RefundOutcome `json:"outcome"`
	RefundRef   string        `json:"refund_ref,omitempty"`
	AmountCents int64         `json:"amount_cents,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// ProcessRefund handles POST /admin/appointments/{appointmentID}/refund.
func (h *RefundHandler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		req.Actor = middleware.OperatorSubject(r.Context())
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	result, err := h.coordinator.ProcessCancellationRefund(r.Context(), appointmentID, req.Reason, req.Actor)
	if err != nil {
		h.logger.Error("refund processing failed", "appointment_id", appointmentID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if result.Outcome == RefundAttemptFailed {
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(refundResponse{
		Outcome:     result.Outcome,
		RefundRef:   result.RefundRef,
		AmountCents: result.AmountCents,
		Message:     result.Message,
	})
}

type refundStatusResponse struct {
	BillID            uuid.UUID     `json:"bill_id"`
	BillingStatus     BillingStatus `json:"billing_status"`
	RefundStatus      RefundStatus  `json:"refund_status"`
	AmountCents       int64         `json:"amount_cents"`
	RefundAmountCents int64         `json:"refund_amount_cents"`
	RefundRef         *string       `json:"refund_ref,omitempty"`
}

// GetRefundStatus handles GET /admin/appointments/{appointmentID}/refund.
func (h *RefundHandler) GetRefundStatus(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	view, err := h.coordinator.GetRefundStatus(r.Context(), appointmentID)
	if err != nil {
		if errors.Is(err, ErrBillNotFound) {
			http.Error(w, "no bill for appointment", http.StatusNotFound)
			return
		}
		h.logger.Error("refund status lookup failed", "appointment_id", appointmentID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(refundStatusResponse{
		BillID:            view.BillID,
		BillingStatus:     view.BillingStatus,
		RefundStatus:      view.RefundStatus,
		AmountCents:       view.AmountCents,
		RefundAmountCents: view.RefundAmountCents,
		RefundRef:         view.RefundRef,
	})
}
