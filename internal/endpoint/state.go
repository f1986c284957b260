package endpoint

import "github.com/arrowdb/conncore/internal/breaker"

// Phase is the endpoint's primary lifecycle state (spec §4.6). Connected
// is further distinguished by the circuit breaker's own state, which
// Snapshot.Circuit reports separately rather than exploding the phase
// enum into six cases — the breaker already owns that sub-state
// (internal/breaker.State) and duplicating it here would let the two
// drift out of sync.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseConnecting:
		return "Connecting"
	case PhaseConnected:
		return "Connected"
	case PhaseDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Snapshot is the cross-thread-readable view of an endpoint's state
// (spec §5: "Cross-thread state reads... return a possibly-stale
// snapshot via an atomic-load discipline"). It is written only by the
// driver goroutine and read from any goroutine via atomic.Pointer.
type Snapshot struct {
	Phase   Phase
	Circuit breaker.State
}

// Name renders the compound state name spec §4.6 enumerates, e.g.
// "Connected_CircuitHalfOpen".
func (s Snapshot) Name() string {
	if s.Phase != PhaseConnected {
		return s.Phase.String()
	}
	switch s.Circuit {
	case breaker.StateOpen:
		return "Connected_CircuitOpen"
	case breaker.StateHalfOpen:
		return "Connected_CircuitHalfOpen"
	default:
		return "Connected_CircuitClosed"
	}
}
