package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curaline/telecare-platform/internal/events"
	"github.com/curaline/telecare-platform/pkg/logging"
)

// RefundOutcome tags the three-way result of a refund attempt. Callers must
// branch on all three.
type RefundOutcome string

const (
	RefundSuccessful    RefundOutcome = "successful"
	RefundAttemptFailed RefundOutcome = "failed"
	RefundNotRequired   RefundOutcome = "not_required"
)

// RefundResult is the outcome of ProcessCancellationRefund.
type RefundResult struct {
	Outcome     RefundOutcome
	RefundRef   string
	AmountCents int64
	Message     string
}

// RefundStatusView is the read model for operator-facing refund lookups.
type RefundStatusView struct {
	BillID            uuid.UUID
	BillingStatus     BillingStatus
	RefundStatus      RefundStatus
	AmountCents       int64
	RefundAmountCents int64
	RefundRef         *string
}

// Coordinator drives refunds for cancelled appointments: eligibility,
// the gateway call with bounded retry, and the idempotent local update it
// shares with the webhook reconciliation path.
type Coordinator struct {
	bills        billStore
	gateway      Gateway
	outbox       outboxWriter
	logger       *logging.Logger
	maxAttempts  int
	baseDelay    time.Duration
	policyWindow time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a refund coordinator.
func NewCoordinator(bills billStore, gateway Gateway, outbox outboxWriter, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		bills:        bills,
		gateway:      gateway,
		outbox:       outbox,
		logger:       logger,
		maxAttempts:  3,
		baseDelay:    2 * time.Second,
		policyWindow: 0,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func (c *Coordinator) WithMaxAttempts(n int) *Coordinator {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

func (c *Coordinator) WithBaseDelay(d time.Duration) *Coordinator {
	if d > 0 {
		c.baseDelay = d
	}
	return c
}

// WithPolicyWindow limits refunds to bills paid within the window. Zero
// disables the check.
func (c *Coordinator) WithPolicyWindow(d time.Duration) *Coordinator {
	c.policyWindow = d
	return c
}

// ProcessCancellationRefund refunds the full paid amount for a cancelled
// appointment. The returned result is NotRequired when there is nothing to
// refund, Failed when the gateway rejected or retries were exhausted, and
// Successful once the refund is recorded locally.
func (c *Coordinator) ProcessCancellationRefund(ctx context.Context, appointmentID uuid.UUID, reason, actor string) (*RefundResult, error) {
	bill, err := c.bills.GetBillByAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrBillNotFound) {
			return &RefundResult{Outcome: RefundNotRequired, Message: "no bill for appointment"}, nil
		}
		return nil, fmt.Errorf("billing: load bill for refund: %w", err)
	}

	if bill.BillingStatus != BillPaid {
		return &RefundResult{Outcome: RefundNotRequired, Message: fmt.Sprintf("bill is %s, nothing charged", bill.BillingStatus)}, nil
	}
	switch bill.RefundStatus {
	case RefundRefunded, RefundPartial:
		return &RefundResult{Outcome: RefundNotRequired, Message: "bill already refunded", AmountCents: bill.RefundAmountCents}, nil
	case RefundProcessing:
		return &RefundResult{Outcome: RefundAttemptFailed, Message: "a refund is already in progress"}, nil
	}
	if c.policyWindow > 0 && bill.PaidAt != nil && c.now().Sub(*bill.PaidAt) > c.policyWindow {
		return &RefundResult{Outcome: RefundAttemptFailed, Message: "outside the refund policy window"}, nil
	}

	tx, err := c.bills.GetTransactionByBill(ctx, bill.ID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.logger.Error("paid bill without transaction", "bill_id", bill.ID, "appointment_id", appointmentID)
			return &RefundResult{Outcome: RefundAttemptFailed, Message: "payment transaction record missing"}, nil
		}
		return nil, fmt.Errorf("billing: load transaction for refund: %w", err)
	}
	if tx.ChargeRef == nil || *tx.ChargeRef == "" {
		c.logger.Error("transaction without charge reference", "tx_id", tx.ID)
		return &RefundResult{Outcome: RefundAttemptFailed, Message: "no gateway charge reference on file"}, nil
	}

	reserved, err := c.bills.MarkRefundProcessing(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return &RefundResult{Outcome: RefundAttemptFailed, Message: "a refund is already in progress"}, nil
	}

	refund, err := c.createRefundWithRetry(ctx, CreateRefundRequest{
		ChargeRef:   *tx.ChargeRef,
		AmountCents: tx.AmountCents,
		Reason:      reason,
		Metadata: map[string]string{
			"appointment_id": appointmentID.String(),
			"actor":          actor,
		},
	})
	if err != nil {
		if markErr := c.bills.MarkRefundFailed(ctx, bill.ID, tx.ID); markErr != nil {
			c.logger.Error("failed to record refund failure", "bill_id", bill.ID, "error", markErr)
		}
		c.emitRefundFailed(ctx, bill, err.Error())
		return &RefundResult{Outcome: RefundAttemptFailed, Message: err.Error()}, nil
	}

	amount := refund.AmountCents
	if amount <= 0 {
		amount = tx.AmountCents
	}
	applied, err := c.bills.ApplyRefundOutcome(ctx, bill.ID, tx.ID, refund.ID, amount)
	if err != nil {
		// The gateway refund exists; the refund.created webhook will
		// converge local state through the same keyed update.
		c.logger.Error("refund created but local update failed, awaiting gateway event",
			"bill_id", bill.ID, "refund_ref", refund.ID, "error", err)
		return &RefundResult{Outcome: RefundSuccessful, RefundRef: refund.ID, AmountCents: amount,
			Message: "refund created, local record pending reconciliation"}, nil
	}
	if applied {
		if _, err := c.outbox.Insert(ctx, events.TypeRefundCompleted, events.RefundCompletedV1{
			AppointmentID: bill.AppointmentID,
			BillID:        bill.ID,
			RefundRef:     refund.ID,
			AmountCents:   amount,
			OccurredAt:    c.now().UTC(),
		}); err != nil {
			c.logger.Error("failed to enqueue refund completed event", "bill_id", bill.ID, "error", err)
		}
	}

	c.logger.Info("refund processed",
		"appointment_id", appointmentID,
		"bill_id", bill.ID,
		"refund_ref", refund.ID,
		"amount_cents", amount,
		"actor", actor,
	)
	return &RefundResult{Outcome: RefundSuccessful, RefundRef: refund.ID, AmountCents: amount}, nil
}

// GetRefundStatus returns the refund state of an appointment's bill.
func (c *Coordinator) GetRefundStatus(ctx context.Context, appointmentID uuid.UUID) (*RefundStatusView, error) {
	bill, err := c.bills.GetBillByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return &RefundStatusView{
		BillID:            bill.ID,
		BillingStatus:     bill.BillingStatus,
		RefundStatus:      bill.RefundStatus,
		AmountCents:       bill.AmountCents,
		RefundAmountCents: bill.RefundAmountCents,
		RefundRef:         bill.RefundRef,
	}, nil
}

// createRefundWithRetry retries transient gateway failures with exponential
// backoff. Business rejections return immediately.
func (c *Coordinator) createRefundWithRetry(ctx context.Context, req CreateRefundRequest) (*Refund, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.nextDelay(attempt-1)); err != nil {
				return nil, err
			}
		}
		refund, err := c.gateway.CreateRefund(ctx, req)
		if err == nil {
			return refund, nil
		}
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && !gwErr.Transient {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("transient gateway failure, will retry",
			"charge_ref", req.ChargeRef, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("billing: refund retries exhausted: %w", lastErr)
}

func (c *Coordinator) nextDelay(attempts int) time.Duration {
	delay := c.baseDelay * time.Duration(1<<attempts)
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

func (c *Coordinator) emitRefundFailed(ctx context.Context, bill *Bill, reason string) {
	if _, err := c.outbox.Insert(ctx, events.TypeRefundFailed, events.RefundFailedV1{
		AppointmentID: bill.AppointmentID,
		BillID:        bill.ID,
		Reason:        reason,
		OccurredAt:    c.now().UTC(),
	}); err != nil {
		c.logger.Error("failed to enqueue refund failed event", "bill_id", bill.ID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
