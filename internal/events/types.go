package events

import (
	"time"

	"github.com/google/uuid"
)

// Event type names as they appear on the outbox and the downstream queue.
const (
	TypeAppointmentConfirmed = "appointment_confirmed.v1"
	TypeAppointmentCancelled = "appointment_cancelled.v1"
	TypeAppointmentReminder  = "appointment_reminder.v1"
	TypeRefundCompleted      = "refund_completed.v1"
	TypeRefundFailed         = "refund_failed.v1"
	TypeRefundRequired       = "refund_required.v1"
)

// AppointmentConfirmedV1 is published when an appointment reaches confirmed.
type AppointmentConfirmedV1 struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	ProviderID    uuid.UUID `json:"provider_id"`
	Mode          string    `json:"mode"`
	ScheduledFor  time.Time `json:"scheduled_for"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AppointmentCancelledV1 is published on any cancellation, automatic or manual.
type AppointmentCancelledV1 struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	ProviderID    uuid.UUID `json:"provider_id"`
	Reason        string    `json:"reason"`
	CancelledBy   string    `json:"cancelled_by"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AppointmentReminderV1 is published when an appointment enters a reminder
// window. Deduplication is the notification consumer's concern.
type AppointmentReminderV1 struct {
	AppointmentID uuid.UUID     `json:"appointment_id"`
	PatientID     uuid.UUID     `json:"patient_id"`
	Mode          string        `json:"mode"`
	ScheduledFor  time.Time     `json:"scheduled_for"`
	LeadTime      time.Duration `json:"lead_time"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// RefundCompletedV1 is published once per refund, keyed by the gateway's
// refund reference.
type RefundCompletedV1 struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	BillID        uuid.UUID `json:"bill_id"`
	RefundRef     string    `json:"refund_ref"`
	AmountCents   int64     `json:"amount_cents"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RefundRequiredV1 is published when a settled payment lands on an
// appointment that cannot proceed, so an operator must refund it. Delivery
// is at-least-once; consumers dedupe by bill id.
type RefundRequiredV1 struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	BillID        uuid.UUID `json:"bill_id"`
	AmountCents   int64     `json:"amount_cents"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RefundFailedV1 is published when a refund attempt is exhausted or rejected.
type RefundFailedV1 struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	BillID        uuid.UUID `json:"bill_id"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}
