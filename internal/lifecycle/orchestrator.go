package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/curaline/telecare-platform/internal/appointments"
	"github.com/curaline/telecare-platform/internal/billing"
	"github.com/curaline/telecare-platform/internal/config"
	"github.com/curaline/telecare-platform/internal/events"
	"github.com/curaline/telecare-platform/pkg/logging"
)

type appointmentRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointments.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to appointments.Status) (*appointments.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, from appointments.Status, reason string) (*appointments.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, from appointments.Status, notes string) (*appointments.Appointment, error)
	ListInStatus(ctx context.Context, status appointments.Status, limit int) ([]appointments.Appointment, error)
	ListPendingPaymentCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]appointments.Appointment, error)
	ListConfirmedStartingBetween(ctx context.Context, mode appointments.Mode, from, to time.Time, limit int) ([]appointments.Appointment, error)
	ListAwaitedPastStart(ctx context.Context, cutoff time.Time, limit int) ([]appointments.Appointment, error)
	ListInProgressStalledSince(ctx context.Context, mode appointments.Mode, cutoff time.Time, limit int) ([]appointments.Appointment, error)
	ListStartingBetween(ctx context.Context, from, to time.Time, limit int) ([]appointments.Appointment, error)
	ListNonTerminalIdleSince(ctx context.Context, cutoff time.Time, limit int) ([]appointments.Appointment, error)
}

type billRepo interface {
	GetBillByAppointment(ctx context.Context, appointmentID uuid.UUID) (*billing.Bill, error)
	GetTransactionByBill(ctx context.Context, billID uuid.UUID) (*billing.PaymentTransaction, error)
	CancelBill(ctx context.Context, billID uuid.UUID) (bool, error)
	SetTransactionStatus(ctx context.Context, txID uuid.UUID, status billing.TransactionStatus, chargeRef string) (bool, error)
}

type slotReleaser interface {
	ReleaseSafely(ctx context.Context, slotID uuid.UUID) error
}

type outboxWriter interface {
	Insert(ctx context.Context, eventType string, payload any) (uuid.UUID, error)
}

// CallPresence answers whether anyone is still on an appointment's video
// call. The call subsystem itself lives elsewhere.
type CallPresence interface {
	CallEmpty(ctx context.Context, appointmentID uuid.UUID) (bool, error)
}

// SweepResult summarizes one sweep run. Failed counts items whose
// transition errored; the sweep itself still finishes.
type SweepResult struct {
	Name     string
	Examined int
	Applied  int
	Skipped  int
	Failed   int
}

// Orchestrator owns the time-triggered side of the appointment lifecycle.
// Each sweep selects by status and wall clock, so a rerun with no
// intervening change matches nothing and applies nothing.
type Orchestrator struct {
	appts    appointmentRepo
	bills    billRepo
	slots    slotReleaser
	outbox   outboxWriter
	presence CallPresence
	logger   *logging.Logger

	paymentGracePeriod  time.Duration
	readyForCallWindow  time.Duration
	noShowGracePeriod   time.Duration
	sessionCeiling      time.Duration
	stuckStateThreshold time.Duration
	reminderOffsets     []time.Duration
	reminderWindow      time.Duration
	batchSize           int

	now func() time.Time
}

// NewOrchestrator wires the lifecycle sweeps.
func NewOrchestrator(appts appointmentRepo, bills billRepo, slots slotReleaser, outbox outboxWriter, cfg *config.Config, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		appts:               appts,
		bills:               bills,
		slots:               slots,
		outbox:              outbox,
		logger:              logger,
		paymentGracePeriod:  cfg.PaymentGracePeriod,
		readyForCallWindow:  cfg.ReadyForCallWindow,
		noShowGracePeriod:   cfg.NoShowGracePeriod,
		sessionCeiling:      cfg.SessionCeiling,
		stuckStateThreshold: cfg.StuckStateThreshold,
		reminderOffsets:     cfg.ReminderOffsets,
		reminderWindow:      cfg.SweepInterval,
		batchSize:           cfg.SweepBatchSize,
		now:                 time.Now,
	}
}

// WithCallPresence attaches the call-empty query used by completion logic.
func (o *Orchestrator) WithCallPresence(p CallPresence) *Orchestrator {
	o.presence = p
	return o
}

// SweepAutoConfirm moves pending appointments to confirmed once any payment
// their mode requires has settled.
func (o *Orchestrator) SweepAutoConfirm(ctx context.Context) SweepResult {
	res := SweepResult{Name: "auto_confirm"}
	candidates, err := o.appts.ListInStatus(ctx, appointments.StatusPending, o.batchSize)
	if err != nil {
		o.logger.Error("auto-confirm selection failed", "error", err)
		res.Failed++
		return res
	}

	for i := range candidates {
		appt := &candidates[i]
		res.Examined++

		if appointments.RequiresPaymentBeforeConfirmation(appt.Mode) {
			bill, err := o.bills.GetBillByAppointment(ctx, appt.ID)
			if err != nil {
				if errors.Is(err, billing.ErrBillNotFound) {
					o.logger.Error("pending appointment without bill, skipping",
						"appointment_id", appt.ID)
					res.Skipped++
					continue
				}
				o.logger.Error("bill lookup failed", "appointment_id", appt.ID, "error", err)
				res.Failed++
				continue
			}
			if bill.BillingStatus != billing.BillPaid {
				res.Skipped++
				continue
			}
		}

		if !o.transition(ctx, appt, appointments.StatusConfirmed, &res) {
			continue
		}
		o.emit(ctx, events.TypeAppointmentConfirmed, events.AppointmentConfirmedV1{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			ProviderID:    appt.ProviderID,
			Mode:          string(appt.Mode),
			ScheduledFor:  appt.ScheduledFor,
			OccurredAt:    o.now().UTC(),
		})
	}
	return res
}

// SweepAutoCancelUnpaid cancels appointments whose payment never arrived
// within the grace period, voiding the bill and releasing the slot.
func (o *Orchestrator) SweepAutoCancelUnpaid(ctx context.Context) SweepResult {
	res := SweepResult{Name: "auto_cancel_unpaid"}
	cutoff := o.now().Add(-o.paymentGracePeriod)
	candidates, err := o.appts.ListPendingPaymentCreatedBefore(ctx, cutoff, o.batchSize)
	if err != nil {
		o.logger.Error("auto-cancel selection failed", "error", err)
		res.Failed++
		return res
	}

	for i := range candidates {
		appt := &candidates[i]
		res.Examined++

		bill, err := o.bills.GetBillByAppointment(ctx, appt.ID)
		if err != nil && !errors.Is(err, billing.ErrBillNotFound) {
			o.logger.Error("bill lookup failed", "appointment_id", appt.ID, "error", err)
			res.Failed++
			continue
		}
		if bill != nil && bill.BillingStatus == billing.BillPaid {
			// Payment landed but reconciliation has not advanced the
			// appointment yet. Cancelling here would strand charged money.
			o.logger.Warn("pending_payment appointment has a paid bill, leaving for reconciliation",
				"appointment_id", appt.ID, "bill_id", bill.ID)
			res.Skipped++
			continue
		}

		if err := appointments.ValidateTransition(appt.Status, appointments.StatusCancelled, appt.Mode); err != nil {
			o.logger.Error("auto-cancel transition rejected", "appointment_id", appt.ID, "error", err)
			res.Failed++
			continue
		}
		if _, err := o.appts.Cancel(ctx, appt.ID, appt.Status, "payment not received within grace period"); err != nil {
			if errors.Is(err, appointments.ErrAppointmentNotFound) {
				// Payment landed between selection and cancel.
				res.Skipped++
				continue
			}
			o.logger.Error("auto-cancel failed", "appointment_id", appt.ID, "error", err)
			res.Failed++
			continue
		}
		res.Applied++

		o.cancelBilling(ctx, appt.ID)
		o.releaseSlot(ctx, appt.SlotID)
		o.emit(ctx, events.TypeAppointmentCancelled, events.AppointmentCancelledV1{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			ProviderID:    appt.ProviderID,
			Reason:        "payment_timeout",
			CancelledBy:   "system",
			OccurredAt:    o.now().UTC(),
		})
		o.logger.Info("unpaid appointment auto-cancelled", "appointment_id", appt.ID)
	}
	return res
}

// SweepReadyForCall stages confirmed virtual appointments shortly before
// their start time.
func (o *Orchestrator) SweepReadyForCall(ctx context.Context) SweepResult {
	res := SweepResult{Name: "ready_for_call"}
	now := o.now()
	candidates, err := o.appts.ListConfirmedStartingBetween(ctx, appointments.ModeVirtual, now, now.Add(o.readyForCallWindow), o.batchSize)
	if err != nil {
		o.logger.Error("ready-for-call selection failed", "error", err)
		res.Failed++
		return res
	}

	for i := range candidates {
		appt := &candidates[i]
		res.Examined++
		o.transition(ctx, appt, appointments.StatusReadyForCall, &res)
	}
	return res
}

// SweepStartPhysical moves confirmed physical appointments straight to
// in_progress once their start time has arrived.
func (o *Orchestrator) SweepStartPhysical(ctx context.Context) SweepResult {
	res := SweepResult{Name: "start_physical"}
	now := o.now()
	candidates, err := o.appts.ListConfirmedStartingBetween(ctx, appointments.ModePhysical, now.Add(-o.noShowGracePeriod), now, o.batchSize)
	if err != nil {
		o.logger.Error("start-physical selection failed", "error", err)
		res.Failed++
		return res
	}

	for i := range candidates {
		appt := &candidates[i]
		res.Examined++
		o.transition(ctx, appt, appointments.StatusInProgress, &res)
	}
	return res
}

// SweepReminders emits reminder events for appointments entering a
// configured lead-time window. It changes no appointment state;
// deduplication belongs to the notification consumer.
func (o *Orchestrator) SweepReminders(ctx context.Context) SweepResult {
	res := SweepResult{Name: "reminders"}
	now := o.now()

	for _, offset := range o.reminderOffsets {
		windowEnd := now.Add(offset)
		windowStart := windowEnd.Add(-o.reminderWindow)
		candidates, err := o.appts.ListStartingBetween(ctx, windowStart, windowEnd, o.batchSize)
		if err != nil {
			o.logger.Error("reminder selection failed", "offset", offset, "error", err)
			res.Failed++
			continue
		}

		for i := range candidates {
			appt := &candidates[i]
			res.Examined++
			o.emit(ctx, events.TypeAppointmentReminder, events.AppointmentReminderV1{
				AppointmentID: appt.ID,
				PatientID:     appt.PatientID,
				Mode:          string(appt.Mode),
				ScheduledFor:  appt.ScheduledFor,
				LeadTime:      offset,
				OccurredAt:    now.UTC(),
			})
			res.Applied++
		}
	}
	return res
}

// SweepNoShow marks awaited appointments as no_show once the start time is
// past the grace period, and releases their slots.
func (o *Orchestrator) SweepNoShow(ctx context.Context) SweepResult {
	res := SweepResult{Name: "no_show"}
	cutoff := o.now().Add(-o.noShowGracePeriod)
	candidates, err := o.appts.ListAwaitedPastStart(ctx, cutoff, o.batchSize)
	if err != nil {
		o.logger.Error("no-show selection failed", "error", err)
		res.Failed++
		return res
	}

	for i := range candidates {
		appt := &candidates[i]
		res.Examined++
		if !o.transition(ctx, appt, appointments.StatusNoShow, &res) {
			continue
		}
		o.releaseSlot(ctx, appt.SlotID)
		o.emit(ctx, events.TypeAppointmentCancelled, events.AppointmentCancelledV1{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			ProviderID:    appt.ProviderID,
			Reason:        "no_show",
			CancelledBy:   "system",
			OccurredAt:    o.now().UTC(),
		})
		o.logger.Info("appointment marked no-show", "appointment_id", appt.ID, "scheduled_for", appt.ScheduledFor)
	}
	return res
}

// SweepSessionTimeout force-completes virtual sessions that have been
// in_progress past the ceiling, covering lost "call ended" signals.
func (o *Orchestrator) SweepSessionTimeout(ctx context.Context) SweepResult {
	res := SweepResult{Name: "session_timeout"}
	cutoff := o.now().Add(-o.sessionCeiling)
	candidates, err := o.appts.ListInProgressStalledSince(ctx, appointments.ModeVirtual, cutoff, o.batchSize)
	if err != nil {
		o.logger.Error("session-timeout selection failed", "error", err)
		res.Failed++
		return res
	}

	for i := range candidates {
		appt := &candidates[i]
		res.Examined++
		if _, err := o.appts.Complete(ctx, appt.ID, appointments.StatusInProgress, "automatically closed after session ceiling"); err != nil {
			if errors.Is(err, appointments.ErrAppointmentNotFound) {
				res.Skipped++
				continue
			}
			o.logger.Error("session timeout completion failed", "appointment_id", appt.ID, "error", err)
			res.Failed++
			continue
		}
		res.Applied++
		o.logger.Warn("session force-completed after ceiling",
			"appointment_id", appt.ID, "ceiling", o.sessionCeiling)
	}
	return res
}

// SweepStuckStates reports appointments idling in a non-terminal state past
// the alarm threshold. It takes no transition, only visibility.
func (o *Orchestrator) SweepStuckStates(ctx context.Context) SweepResult {
	res := SweepResult{Name: "stuck_states"}
	cutoff := o.now().Add(-o.stuckStateThreshold)
	candidates, err := o.appts.ListNonTerminalIdleSince(ctx, cutoff, o.batchSize)
	if err != nil {
		o.logger.Error("stuck-state selection failed", "error", err)
		res.Failed++
		return res
	}

	for i := range candidates {
		appt := &candidates[i]
		res.Examined++
		o.logger.Warn("appointment stuck in non-terminal state",
			"appointment_id", appt.ID,
			"status", appt.Status,
			"mode", appt.Mode,
			"idle_since", appt.UpdatedAt,
		)
	}
	return res
}

// HandleCallEnded completes a virtual in_progress appointment on the
// call-ended signal.
func (o *Orchestrator) HandleCallEnded(ctx context.Context, appointmentID uuid.UUID, notes string) error {
	return o.completeInProgress(ctx, appointmentID, notes)
}

// CompleteIfCallEmpty completes a virtual in_progress appointment when the
// presence query reports nobody left on the call. It is the polling twin of
// HandleCallEnded.
func (o *Orchestrator) CompleteIfCallEmpty(ctx context.Context, appointmentID uuid.UUID) error {
	if o.presence == nil {
		return errors.New("lifecycle: call presence not configured")
	}
	empty, err := o.presence.CallEmpty(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	return o.completeInProgress(ctx, appointmentID, "call ended, all participants left")
}

func (o *Orchestrator) completeInProgress(ctx context.Context, appointmentID uuid.UUID, notes string) error {
	appt, err := o.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return err
	}
	if err := appointments.ValidateTransition(appt.Status, appointments.StatusCompleted, appt.Mode); err != nil {
		return err
	}
	if _, err := o.appts.Complete(ctx, appt.ID, appt.Status, notes); err != nil {
		return err
	}
	o.logger.Info("appointment completed", "appointment_id", appt.ID)
	return nil
}

// transition validates and CAS-applies one status change, folding the
// outcome into the sweep result. Returns true when the change was applied.
func (o *Orchestrator) transition(ctx context.Context, appt *appointments.Appointment, to appointments.Status, res *SweepResult) bool {
	if err := appointments.ValidateTransition(appt.Status, to, appt.Mode); err != nil {
		o.logger.Error("sweep transition rejected",
			"sweep", res.Name, "appointment_id", appt.ID,
			"from", appt.Status, "to", to, "error", err)
		res.Failed++
		return false
	}
	if _, err := o.appts.UpdateStatus(ctx, appt.ID, appt.Status, to); err != nil {
		if errors.Is(err, appointments.ErrAppointmentNotFound) {
			// Concurrently moved; the next matching sweep will pick it up.
			res.Skipped++
			return false
		}
		o.logger.Error("sweep transition failed",
			"sweep", res.Name, "appointment_id", appt.ID, "to", to, "error", err)
		res.Failed++
		return false
	}
	res.Applied++
	return true
}

// cancelBilling voids the bill and transaction behind an auto-cancelled
// appointment. A missing bill is a consistency warning, not a sweep error.
func (o *Orchestrator) cancelBilling(ctx context.Context, appointmentID uuid.UUID) {
	bill, err := o.bills.GetBillByAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, billing.ErrBillNotFound) {
			o.logger.Warn("cancelled appointment without bill", "appointment_id", appointmentID)
			return
		}
		o.logger.Error("bill lookup during cancel failed", "appointment_id", appointmentID, "error", err)
		return
	}
	if _, err := o.bills.CancelBill(ctx, bill.ID); err != nil {
		o.logger.Error("bill cancellation failed", "bill_id", bill.ID, "error", err)
	}

	tx, err := o.bills.GetTransactionByBill(ctx, bill.ID)
	if err != nil {
		if !errors.Is(err, billing.ErrTransactionNotFound) {
			o.logger.Error("transaction lookup during cancel failed", "bill_id", bill.ID, "error", err)
		}
		return
	}
	if _, err := o.bills.SetTransactionStatus(ctx, tx.ID, billing.TxCancelled, ""); err != nil {
		o.logger.Error("transaction cancellation failed", "tx_id", tx.ID, "error", err)
	}
}

func (o *Orchestrator) releaseSlot(ctx context.Context, slotID uuid.UUID) {
	if err := o.slots.ReleaseSafely(ctx, slotID); err != nil {
		o.logger.Error("slot release failed", "slot_id", slotID, "error", err)
	}
}

func (o *Orchestrator) emit(ctx context.Context, eventType string, payload any) {
	if _, err := o.outbox.Insert(ctx, eventType, payload); err != nil {
		o.logger.Error("failed to enqueue event", "type", eventType, "error", err)
	}
}
