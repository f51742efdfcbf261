package payments

// State represents the lifecycle of one submission attempt against an invoice
type State string

const (
	StateIdle       State = "IDLE"
	StateSubmitting State = "SUBMITTING"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

var validStates = map[State]bool{
	StateIdle:       true,
	StateSubmitting: true,
	StateSucceeded:  true,
	StateFailed:     true,
}

var terminalStates = map[State]bool{
	StateSucceeded: true,
	StateFailed:    true,
}

// IsTerminal returns true if the state admits no further transitions
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is one of the defined constants
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// FailureReason distinguishes the user-visible failure classes. A declined
// card and a ledger that refused the write need different wording: the first
// is the payer's problem, the second means money moved but was not recorded.
type FailureReason string

const (
	ReasonNone     FailureReason = ""
	ReasonDeclined FailureReason = "declined"
	ReasonGateway  FailureReason = "gateway_error"
	ReasonLedger   FailureReason = "ledger_error"
)
