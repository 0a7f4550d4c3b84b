package txn

// Status is the lifecycle state of a card payment transaction.
type Status int

const (
	// StatusIdle means no transaction is active.
	StatusIdle Status = iota
	// StatusInitiating means the sale request is in flight to the gateway.
	StatusInitiating
	// StatusAwaitingCard means the terminal is waiting for the customer
	// to present a card.
	StatusAwaitingCard
	// StatusInProgress means the terminal is processing the card.
	StatusInProgress
	// StatusApproved is a terminal state: the payment was authorised.
	StatusApproved
	// StatusDeclined is a terminal state: the payment was refused.
	StatusDeclined
	// StatusFailed is a terminal state: the transaction did not reach an
	// outcome. The UTI is retained so the outcome can still be recovered
	// with ForceStatusCheck.
	StatusFailed
	// StatusCancelled is a terminal state: the merchant abandoned the
	// transaction.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitiating:
		return "initiating"
	case StatusAwaitingCard:
		return "awaiting_card"
	case StatusInProgress:
		return "in_progress"
	case StatusApproved:
		return "approved"
	case StatusDeclined:
		return "declined"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the transaction has reached an outcome and no
// further gateway events can move it.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition. Terminal states only move back to idle, which is
// how Acknowledge resets the machine. ForceStatusCheck may still promote
// a failed transaction to approved or declined once the real outcome is
// recovered from the gateway.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusIdle:
		return next == StatusInitiating
	case StatusInitiating:
		return next == StatusAwaitingCard || next == StatusInProgress ||
			next == StatusApproved || next == StatusDeclined ||
			next == StatusFailed || next == StatusCancelled
	case StatusAwaitingCard:
		return next == StatusInProgress || next == StatusApproved ||
			next == StatusDeclined || next == StatusFailed ||
			next == StatusCancelled
	case StatusInProgress:
		return next == StatusApproved || next == StatusDeclined ||
			next == StatusFailed || next == StatusCancelled
	case StatusFailed:
		return next == StatusIdle || next == StatusApproved || next == StatusDeclined
	case StatusApproved, StatusDeclined, StatusCancelled:
		return next == StatusIdle
	}
	return false
}
