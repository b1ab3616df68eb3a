package healthcheck

// Overall health of the service
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
)

func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "ok"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

func (h HealthStatus) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Value reported for a dependency that answered
const Connected = "connected"

// Result of one probe
type Status struct {
	Name     string
	Critical bool
	Err      error
}

func (s Status) Healthy() bool {
	return s.Err == nil
}

// Returns "connected" or "error: <message>"
func (s Status) String() string {
	if s.Err == nil {
		return Connected
	}
	return "error: " + s.Err.Error()
}

// Report is the body served by the health endpoint
type Report struct {
	Status   HealthStatus      `json:"status"`
	Services map[string]string `json:"services"`
}
