// Package coreevents defines the lifecycle/diagnostic event emitted by an
// endpoint onto the shared event bus (spec §3 Event, §4.1, §6).
package coreevents

import (
	"time"

	"github.com/arrowdb/conncore/internal/ctxmeta"
)

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

type Category string

const (
	CategoryEndpointConnected           Category = "EndpointConnected"
	CategoryEndpointConnectionFailed    Category = "EndpointConnectionFailed"
	CategoryEndpointConnectionAborted   Category = "EndpointConnectionAborted"
	CategoryEndpointConnectionIgnored   Category = "EndpointConnectionIgnored"
	CategoryEndpointDisconnected        Category = "EndpointDisconnected"
	CategoryEndpointDisconnectionFailed Category = "EndpointDisconnectionFailed"
	CategoryCircuitOpened               Category = "CircuitOpened"
	CategoryCircuitHalfOpened           Category = "CircuitHalfOpened"
	CategoryCircuitClosed               Category = "CircuitClosed"
	CategoryEndpointConfigReloaded      Category = "EndpointConfigReloaded"
	CategoryEventBusDropped             Category = "EventBusDropped"
	CategoryEndpointPanicRecovered      Category = "EndpointPanicRecovered"
)

// Event is the opaque payload carried over the bus; it never blocks a
// publisher and subscribers observe a value, never a reference they can
// mutate the endpoint through.
type Event struct {
	Context     ctxmeta.EndpointContext
	RequestID   string
	Description string
	Category    Category
	Severity    Severity
	Cause       error
	Duration    time.Duration
	HasDuration bool
	Dropped     uint64
}

func New(category Category, severity Severity, ctx ctxmeta.EndpointContext, description string) Event {
	return Event{
		Category:    category,
		Severity:    severity,
		Context:     ctx,
		Description: description,
	}
}

func (e Event) WithDuration(d time.Duration) Event {
	e.Duration = d
	e.HasDuration = true
	return e
}

func (e Event) WithCause(err error) Event {
	e.Cause = err
	return e
}

func (e Event) WithRequestID(id string) Event {
	e.RequestID = id
	return e
}

func Connected(ctx ctxmeta.EndpointContext, attempt time.Duration) Event {
	return New(CategoryEndpointConnected, SeverityDebug, ctx, "Endpoint connected successfully").WithDuration(attempt)
}

func ConnectionFailed(ctx ctxmeta.EndpointContext, attempt time.Duration, cause error) Event {
	return New(CategoryEndpointConnectionFailed, SeverityWarn, ctx, "Endpoint connection attempt failed").
		WithDuration(attempt).WithCause(cause)
}

func ConnectionAborted(ctx ctxmeta.EndpointContext) Event {
	return New(CategoryEndpointConnectionAborted, SeverityDebug, ctx, "Endpoint connection attempt aborted by disconnect")
}

func ConnectionIgnored(ctx ctxmeta.EndpointContext) Event {
	return New(CategoryEndpointConnectionIgnored, SeverityInfo, ctx, "Late channel arrival ignored after disconnect")
}

func Disconnected(ctx ctxmeta.EndpointContext, lastConnectedFor time.Duration) Event {
	return New(CategoryEndpointDisconnected, SeverityDebug, ctx, "Endpoint disconnected successfully").WithDuration(lastConnectedFor)
}

func DisconnectionFailed(ctx ctxmeta.EndpointContext, cause error) Event {
	return New(CategoryEndpointDisconnectionFailed, SeverityWarn, ctx, "Endpoint disconnection failed").WithCause(cause)
}

func CircuitOpened(ctx ctxmeta.EndpointContext) Event {
	return New(CategoryCircuitOpened, SeverityWarn, ctx, "Circuit breaker opened")
}

func CircuitHalfOpened(ctx ctxmeta.EndpointContext) Event {
	return New(CategoryCircuitHalfOpened, SeverityInfo, ctx, "Circuit breaker half-open, probing")
}

func CircuitClosed(ctx ctxmeta.EndpointContext) Event {
	return New(CategoryCircuitClosed, SeverityInfo, ctx, "Circuit breaker closed")
}

func ConfigReloaded(ctx ctxmeta.EndpointContext) Event {
	return New(CategoryEndpointConfigReloaded, SeverityInfo, ctx, "Endpoint configuration reloaded")
}

// PanicRecovered reports that the driver goroutine recovered from a
// panic (spec §4.6 SPEC_FULL supplement: no panic crosses a package
// boundary). Error severity, unlike every other driver-loop event,
// since this always indicates a bug rather than an expected failure
// mode.
func PanicRecovered(ctx ctxmeta.EndpointContext, cause error) Event {
	return New(CategoryEndpointPanicRecovered, SeverityError, ctx, "Endpoint driver recovered from a panic").WithCause(cause)
}

// EventBusDropped reports how many events the bus dropped for a slow
// subscriber before that subscriber caught up enough to receive this
// notice (spec §4.1: per-subscriber drop counters are "also published as
// an event when recovery capacity exists"). Its Context is left empty
// rather than naming a specific endpoint — drops are a subscriber-side
// fact, not an endpoint-side one.
func EventBusDropped(dropped uint64) Event {
	ev := New(CategoryEventBusDropped, SeverityWarn, ctxmeta.EndpointContext{}, "Event bus dropped events for a slow subscriber")
	ev.Dropped = dropped
	return ev
}
