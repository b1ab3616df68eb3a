package circuitbreaker

type State int

const (
	// Calls pass through
	StateClosed State = iota

	// Calls are refused with ErrCircuitOpen
	StateOpen

	// A single trial call is let through
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
