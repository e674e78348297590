package appointments

// allowedTransitions is the mode-independent base table. The key is the
// current status, the value the set of statuses reachable from it.
// Terminal states map to an empty set.
var allowedTransitions = map[Status][]Status{
	StatusPendingPayment: {StatusPending, StatusCancelled},
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusReadyForCall, StatusInProgress, StatusNoShow},
	StatusReadyForCall:   {StatusInProgress, StatusNoShow},
	StatusInProgress:     {StatusCompleted},
	StatusCompleted:      {},
	StatusCancelled:      {},
	StatusNoShow:         {},
}

// CanTransition checks the base table only, without mode guards.
func CanTransition(from, to Status) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks the base table, then the mode-specific guards.
// Every writer of Appointment.Status must call this before mutating, inside
// the same transaction as the write.
func ValidateTransition(from, to Status, mode Mode) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to, Mode: mode}
	}
	return validateModeGuard(from, to, mode)
}

func validateModeGuard(from, to Status, mode Mode) error {
	switch mode {
	case ModeVirtual:
		// Virtual visits must pass through ready_for_call before starting,
		// and payment must land on pending before confirmation.
		if from == StatusPending && to == StatusInProgress {
			return &TransitionError{From: from, To: to, Mode: mode, Reason: "virtual visits start from ready_for_call"}
		}
		if from == StatusPendingPayment && to == StatusConfirmed {
			return &TransitionError{From: from, To: to, Mode: mode, Reason: "payment must settle before confirmation"}
		}
	default:
		// In-person visits go confirmed -> in_progress at the scheduled
		// time and never enter ready_for_call.
		if to == StatusReadyForCall {
			return &TransitionError{From: from, To: to, Mode: mode, Reason: "ready_for_call applies to virtual visits only"}
		}
	}
	return nil
}

// RequiresPaymentBeforeConfirmation reports whether the mode gates
// confirmation on a settled payment.
func RequiresPaymentBeforeConfirmation(mode Mode) bool {
	return mode == ModeVirtual
}
