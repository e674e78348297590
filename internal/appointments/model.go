package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusReadyForCall   Status = "ready_for_call"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoShow         Status = "no_show"
)

// Mode is how the consultation is delivered.
type Mode string

const (
	ModeVirtual  Mode = "virtual"
	ModePhysical Mode = "physical"
)

// Appointment is a booked consultation between a patient and a provider.
// Status only ever changes through a validated transition; terminal states
// are final.
type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ProviderID         uuid.UUID
	SlotID             uuid.UUID
	Status             Status
	Mode               Mode
	Reason             string
	Notes              string
	CancellationReason *string
	ScheduledFor       time.Time
	DurationMinutes    int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}
