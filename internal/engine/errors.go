package engine

// RiskGuardError is raised before any broker call when an order violates the
// configured rails. Never retryable; the reason string is display-ready.
type RiskGuardError struct {
	Reason string
}

func (e *RiskGuardError) Error() string { return e.Reason }

// InvalidStateError marks an illegal lifecycle transition.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string { return e.Reason }
