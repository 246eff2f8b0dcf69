package session

// ValidationError is a client-detected input problem, rejected before any
// network call so the user gets a specific message without a round trip
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}
