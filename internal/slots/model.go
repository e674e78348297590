package slots

import (
	"time"

	"github.com/google/uuid"
)

// TimeSlot is a provider's bookable calendar unit. At most one active
// appointment may hold a slot with IsBooked set.
type TimeSlot struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	Mode            string // virtual, physical or any
	IsBooked        bool
	IsAvailable     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
