package leverage

// InvalidStateError marks an operation attempted against a signal or trade
// that is not in an accepting state.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string { return e.Reason }

// CapacityError is returned when policy rails (open-position slots or total
// exposure) refuse a new entry.
type CapacityError struct {
	Reason string
}

func (e *CapacityError) Error() string { return e.Reason }
