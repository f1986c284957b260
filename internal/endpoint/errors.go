package endpoint

import (
	"errors"
	"fmt"

	"github.com/arrowdb/conncore/internal/ctxmeta"
)

// ErrNotAvailable is returned by Send when the endpoint is not in
// Connected_CircuitClosed or Connected_CircuitHalfOpen-with-probe-slot
// state (spec §4.6 send(req) row).
var ErrNotAvailable = errors.New("endpoint: not available for dispatch")

// TransportError wraps a failure the pipeline itself reported for a
// dispatched request (a write that never reached the OS); dial and
// connect-step failures are reported as EndpointError instead. It is
// distinct from an application-level
// error the remote server returned inside a Response, which the spec's
// breaker classification (§4.5) treats as a success.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// EndpointError wraps a failure attributable to one of the driver loop's
// own lifecycle operations (connect, initialize, disconnect) rather than
// to a specific in-flight request, in the style of the teacher's
// internal/core/domain.EndpointError: an operation name, the endpoint's
// identity, and the underlying cause.
type EndpointError struct {
	Op       string
	Identity ctxmeta.EndpointIdentity
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint %s[%s:%d]: %s: %v",
		e.Identity.ServiceType, e.Identity.RemoteHost, e.Identity.RemotePort, e.Op, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

// DispatchError wraps a failure encountered dispatching a specific
// request, carrying its correlation id so logs and metrics can tie the
// failure back to the request that caused it.
type DispatchError struct {
	RequestID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.RequestID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// BreakerOpenError is returned by Send when the phase is Connected but
// the circuit breaker denies dispatch — distinct from ErrNotAvailable,
// which covers every phase where no attempt is even considered.
// errors.Is(err, ErrNotAvailable) still succeeds against it, since "not
// available" is true of both cases; only callers that care about the
// distinction need to errors.As for *BreakerOpenError specifically.
type BreakerOpenError struct {
	Identity ctxmeta.EndpointIdentity
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("endpoint %s[%s:%d]: circuit breaker open",
		e.Identity.ServiceType, e.Identity.RemoteHost, e.Identity.RemotePort)
}

func (e *BreakerOpenError) Unwrap() error { return ErrNotAvailable }

// ConfigValidationError reports a single invalid Config field, in the
// style of the teacher's domain.ConfigValidationError. Unlike the other
// three types it wraps no underlying error — invalid config is the
// terminal cause, not a symptom of one.
type ConfigValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("endpoint: invalid config %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigValidationError) Unwrap() error { return nil }
