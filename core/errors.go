package core

import "errors"

// Error taxonomy. Layers wrap these with fmt.Errorf("...: %w") so callers can
// classify failures with errors.Is.
var (
	// ErrStorageUnavailable is returned when the session backend cannot be reached.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrSessionNotFound is returned for unknown or evicted session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTurnOutOfOrder is returned when a turn would break chronological order.
	ErrTurnOutOfOrder = errors.New("turn timestamp precedes session history")

	// ErrMalformedDecision is returned when oracle output cannot be parsed into
	// one of the AgentDecision variants or violates the agent's capability set.
	ErrMalformedDecision = errors.New("malformed agent decision")
	// ErrOracleUnavailable wraps failures of the language-model call itself.
	ErrOracleUnavailable = errors.New("oracle call failed")
	// ErrOracleBudgetExceeded is returned when a turn exhausts its oracle call budget.
	ErrOracleBudgetExceeded = errors.New("oracle call budget exceeded")

	// ErrToolFailed marks a provider call failure; it is carried inside an
	// error ToolResult rather than returned as control flow.
	ErrToolFailed = errors.New("tool call failed")

	// ErrTransactionFailed marks a failed booking step.
	ErrTransactionFailed = errors.New("booking transaction failed")
	// ErrBookingInProgress is returned when a session already holds a Pending or Held transaction.
	ErrBookingInProgress = errors.New("another booking is already in progress for this session")
	// ErrNoActiveBooking is returned when confirm/cancel is requested without a held transaction.
	ErrNoActiveBooking = errors.New("no active booking for this session")
	// ErrSessionRequired is returned for booking steps attempted without a stored session.
	ErrSessionRequired = errors.New("booking needs a saved session; please try again shortly")

	// ErrIterationExhausted is reported (never raised) when a refinement loop hits its cap.
	ErrIterationExhausted = errors.New("refinement loop reached its iteration cap")
)
