package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curaline/telecare-platform/internal/appointments"
	"github.com/curaline/telecare-platform/internal/events"
	"github.com/curaline/telecare-platform/pkg/logging"
)

// Gateway webhook event types. These names are the external contract and
// must match the provider's taxonomy exactly.
const (
	EventPaymentSucceeded      = "payment_intent.succeeded"
	EventPaymentFailed         = "payment_intent.payment_failed"
	EventPaymentCanceled       = "payment_intent.canceled"
	EventPaymentRequiresAction = "payment_intent.requires_action"
	EventRefundCreated         = "refund.created"
)

// GatewayEvent is the decoded, provider-agnostic form of a webhook event.
type GatewayEvent struct {
	ID          string
	Type        string
	IntentRef   string
	ChargeRef   string
	RefundRef   string
	AmountCents int64
	CreatedAt   time.Time
}

type billStore interface {
	GetBillByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetBillByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Bill, error)
	GetTransactionByBill(ctx context.Context, billID uuid.UUID) (*PaymentTransaction, error)
	GetTransactionByIntentRef(ctx context.Context, intentRef string) (*PaymentTransaction, error)
	GetTransactionByChargeRef(ctx context.Context, chargeRef string) (*PaymentTransaction, error)
	MarkBillPaid(ctx context.Context, billID uuid.UUID, chargeRef string) (bool, error)
	SetTransactionStatus(ctx context.Context, txID uuid.UUID, status TransactionStatus, chargeRef string) (bool, error)
	MarkRefundProcessing(ctx context.Context, billID uuid.UUID) (bool, error)
	MarkRefundFailed(ctx context.Context, billID, txID uuid.UUID) error
	ApplyRefundOutcome(ctx context.Context, billID, txID uuid.UUID, refundRef string, amountCents int64) (bool, error)
}

type appointmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to appointments.Status) (*appointments.Appointment, error)
}

type outboxWriter interface {
	Insert(ctx context.Context, eventType string, payload any) (uuid.UUID, error)
}

// Reconciler applies gateway-reported outcomes to local billing state. The
// feed is at-least-once and unordered, so every write is conditional and a
// replayed event lands as a no-op.
type Reconciler struct {
	bills  billStore
	appts  appointmentStore
	outbox outboxWriter
	logger *logging.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(bills billStore, appts appointmentStore, outbox outboxWriter, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{bills: bills, appts: appts, outbox: outbox, logger: logger}
}

// Apply routes one gateway event into local state. A nil return means the
// event is settled from the gateway's perspective and must not be
// redelivered; an error means a local fault worth a retry.
func (r *Reconciler) Apply(ctx context.Context, evt GatewayEvent) error {
	switch evt.Type {
	case EventPaymentSucceeded:
		return r.applyPaymentSucceeded(ctx, evt)
	case EventPaymentFailed:
		return r.applyTransactionOutcome(ctx, evt, TxFailed)
	case EventPaymentCanceled:
		return r.applyTransactionOutcome(ctx, evt, TxCancelled)
	case EventPaymentRequiresAction:
		return r.applyTransactionOutcome(ctx, evt, TxProcessing)
	case EventRefundCreated:
		return r.applyRefundCreated(ctx, evt)
	default:
		r.logger.Warn("ignoring unhandled gateway event type", "event_id", evt.ID, "type", evt.Type)
		return nil
	}
}

func (r *Reconciler) applyPaymentSucceeded(ctx context.Context, evt GatewayEvent) error {
	tx, err := r.bills.GetTransactionByIntentRef(ctx, evt.IntentRef)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			// Unknown subject: nothing local to reconcile against, and a
			// redelivery cannot change that.
			r.logger.Warn("payment succeeded for unknown intent", "event_id", evt.ID, "intent_ref", evt.IntentRef)
			return nil
		}
		return fmt.Errorf("billing: load transaction: %w", err)
	}

	bill, err := r.bills.GetBillByID(ctx, tx.BillID)
	if err != nil {
		if errors.Is(err, ErrBillNotFound) {
			r.logger.Error("transaction without bill", "tx_id", tx.ID, "bill_id", tx.BillID)
			return nil
		}
		return fmt.Errorf("billing: load bill: %w", err)
	}

	paid, err := r.bills.MarkBillPaid(ctx, bill.ID, evt.ChargeRef)
	if err != nil {
		return err
	}
	if !paid {
		// Either a plain redelivery or an earlier delivery that failed after
		// the bill write. The follow-up writes are conditional, so fall
		// through and let them converge instead of acknowledging a
		// half-applied event.
		r.logger.Debug("bill already paid, reconciling follow-up state", "event_id", evt.ID, "bill_id", bill.ID)
	}

	if _, err := r.bills.SetTransactionStatus(ctx, tx.ID, TxCompleted, evt.ChargeRef); err != nil {
		return err
	}

	return r.advanceAppointmentAfterPayment(ctx, bill)
}

// advanceAppointmentAfterPayment moves a pending_payment appointment to
// pending once its bill is settled. A payment that lands on an appointment
// already cancelled cannot advance anything; it flags the bill for an
// operator refund instead.
func (r *Reconciler) advanceAppointmentAfterPayment(ctx context.Context, bill *Bill) error {
	appt, err := r.appts.GetByID(ctx, bill.AppointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrAppointmentNotFound) {
			r.logger.Error("bill without appointment", "appointment_id", bill.AppointmentID)
			return nil
		}
		return fmt.Errorf("billing: load appointment: %w", err)
	}
	if appt.Status == appointments.StatusCancelled {
		return r.flagRefundRequired(ctx, bill, "payment settled on a cancelled appointment")
	}
	if appt.Status != appointments.StatusPendingPayment {
		return nil
	}
	if err := appointments.ValidateTransition(appt.Status, appointments.StatusPending, appt.Mode); err != nil {
		r.logger.Error("payment settled but transition rejected", "appointment_id", appt.ID, "error", err)
		return nil
	}
	if _, err := r.appts.UpdateStatus(ctx, appt.ID, appointments.StatusPendingPayment, appointments.StatusPending); err != nil {
		if errors.Is(err, appointments.ErrAppointmentNotFound) {
			// Lost a race with the auto-cancel sweep or another event.
			r.logger.Warn("appointment moved before payment applied", "appointment_id", appt.ID)
			return r.flagRefundRequired(ctx, bill, "appointment cancelled while payment was applied")
		}
		return fmt.Errorf("billing: advance appointment: %w", err)
	}
	r.logger.Info("appointment advanced after payment", "appointment_id", appt.ID)
	return nil
}

// flagRefundRequired alerts operators that charged money is stranded on an
// appointment that cannot proceed. The manual refund path picks it up.
func (r *Reconciler) flagRefundRequired(ctx context.Context, bill *Bill, reason string) error {
	if _, err := r.outbox.Insert(ctx, events.TypeRefundRequired, events.RefundRequiredV1{
		AppointmentID: bill.AppointmentID,
		BillID:        bill.ID,
		AmountCents:   bill.AmountCents,
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("billing: enqueue refund required: %w", err)
	}
	r.logger.Warn("paid bill needs operator refund",
		"bill_id", bill.ID, "appointment_id", bill.AppointmentID, "reason", reason)
	return nil
}

func (r *Reconciler) applyTransactionOutcome(ctx context.Context, evt GatewayEvent, status TransactionStatus) error {
	tx, err := r.bills.GetTransactionByIntentRef(ctx, evt.IntentRef)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			r.logger.Warn("gateway event for unknown intent", "event_id", evt.ID, "type", evt.Type, "intent_ref", evt.IntentRef)
			return nil
		}
		return fmt.Errorf("billing: load transaction: %w", err)
	}

	moved, err := r.bills.SetTransactionStatus(ctx, tx.ID, status, evt.ChargeRef)
	if err != nil {
		return err
	}
	if moved {
		r.logger.Info("transaction updated from gateway event",
			"event_id", evt.ID, "tx_id", tx.ID, "status", status)
	}
	// The appointment stays in pending_payment; the auto-cancel sweep owns
	// the exit path if no successful payment ever lands.
	return nil
}

func (r *Reconciler) applyRefundCreated(ctx context.Context, evt GatewayEvent) error {
	tx, err := r.lookupRefundTransaction(ctx, evt)
	if err != nil {
		return err
	}
	if tx == nil {
		r.logger.Warn("refund created for unknown charge", "event_id", evt.ID, "charge_ref", evt.ChargeRef)
		return nil
	}

	bill, err := r.bills.GetBillByID(ctx, tx.BillID)
	if err != nil {
		if errors.Is(err, ErrBillNotFound) {
			r.logger.Error("transaction without bill", "tx_id", tx.ID, "bill_id", tx.BillID)
			return nil
		}
		return fmt.Errorf("billing: load bill: %w", err)
	}

	amount := evt.AmountCents
	if amount <= 0 {
		amount = tx.AmountCents
	}
	if amount > tx.AmountCents {
		r.logger.Warn("gateway refund exceeds transaction amount, clamping",
			"event_id", evt.ID, "reported_cents", amount, "transaction_cents", tx.AmountCents)
		amount = tx.AmountCents
	}

	applied, err := r.bills.ApplyRefundOutcome(ctx, bill.ID, tx.ID, evt.RefundRef, amount)
	if err != nil {
		return err
	}
	if !applied {
		r.logger.Debug("refund already applied", "event_id", evt.ID, "refund_ref", evt.RefundRef)
		return nil
	}

	if _, err := r.outbox.Insert(ctx, events.TypeRefundCompleted, events.RefundCompletedV1{
		AppointmentID: bill.AppointmentID,
		BillID:        bill.ID,
		RefundRef:     evt.RefundRef,
		AmountCents:   amount,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("billing: enqueue refund completed: %w", err)
	}

	r.logger.Info("refund reconciled from gateway event",
		"event_id", evt.ID, "bill_id", bill.ID, "refund_ref", evt.RefundRef, "amount_cents", amount)
	return nil
}

func (r *Reconciler) lookupRefundTransaction(ctx context.Context, evt GatewayEvent) (*PaymentTransaction, error) {
	if evt.ChargeRef != "" {
		tx, err := r.bills.GetTransactionByChargeRef(ctx, evt.ChargeRef)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, fmt.Errorf("billing: load transaction by charge: %w", err)
		}
	}
	if evt.IntentRef != "" {
		tx, err := r.bills.GetTransactionByIntentRef(ctx, evt.IntentRef)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, fmt.Errorf("billing: load transaction by intent: %w", err)
		}
	}
	return nil, nil
}
