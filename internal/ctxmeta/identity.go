// Package ctxmeta carries the ambient identity and per-request metadata
// threaded explicitly through every endpoint operation (spec §4.2, §9 —
// "ambient context carried implicitly" is deliberately rejected in favour
// of an explicit value, never thread-local state).
package ctxmeta

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// ServiceType names the remote service category an endpoint speaks to.
type ServiceType string

const (
	ServiceKV         ServiceType = "kv"
	ServiceQuery      ServiceType = "query"
	ServiceSearch     ServiceType = "search"
	ServiceAnalytics  ServiceType = "analytics"
	ServiceViews      ServiceType = "views"
	ServiceEventing   ServiceType = "eventing"
	ServiceManagement ServiceType = "management"
)

var coreIDSeq atomic.Uint64
var endpointIDSeq atomic.Uint64

// NextCoreID returns a monotonically increasing, process-wide core id.
// Uniqueness is not required across process restarts (spec §9 open
// question).
func NextCoreID() uint64 {
	return coreIDSeq.Add(1)
}

// NextEndpointID returns a monotonically increasing, process-wide
// endpoint id (spec §3 Endpoint identity).
func NextEndpointID() uint64 {
	return endpointIDSeq.Add(1)
}

// NewRequestID returns a unique-within-process correlation id for a
// Request. UUIDs are used rather than a counter because requests, unlike
// endpoints, are created at high frequency from many goroutines and a
// router may want to log the id before the request ever reaches an
// endpoint.
func NewRequestID() string {
	return uuid.NewString()
}

// CoreContext is the immutable identity shared by every context flavour:
// which client core created it, and a handle to the shared environment
// (connection pool, shared executors) it runs inside.
type CoreContext struct {
	EnvironmentHandle EnvironmentHandle
	CoreID            uint64
}

// EnvironmentHandle is a reference-counted handle to shared process-wide
// resources (event loop pool, event bus). The core holds one; the last
// endpoint to release it may trigger shutdown, but only if the
// environment was created implicitly on the cluster's behalf (spec §5).
type EnvironmentHandle struct {
	Name    string
	Implied bool
}

// EndpointIdentity is the (remote_host, remote_port, service_type,
// endpoint_id) tuple spec §3 names as an Endpoint's identity.
type EndpointIdentity struct {
	RemoteHost  string
	ServiceType ServiceType
	RemotePort  uint16
	EndpointID  uint64
}

// EndpointContext extends CoreContext with the owning endpoint's
// identity; it is attached to every lifecycle event published on the bus.
type EndpointContext struct {
	CoreContext
	Endpoint EndpointIdentity
}

// ExportAsMap produces the canonical ordered key→value mapping spec §4.2
// requires for log/trace emission. The slice preserves a fixed, stable
// key order rather than relying on map iteration order.
func (c EndpointContext) ExportAsMap() []KV {
	return []KV{
		{"core_id", c.CoreID},
		{"endpoint_id", c.Endpoint.EndpointID},
		{"remote_host", c.Endpoint.RemoteHost},
		{"remote_port", c.Endpoint.RemotePort},
		{"service_type", string(c.Endpoint.ServiceType)},
	}
}

// KV is one entry of an exported context map; a slice of these preserves
// order, which a plain map cannot.
type KV struct {
	Key   string
	Value any
}

// RequestContext extends CoreContext with the per-request fields spec
// §3/§4.2 names: the request id, a write-once dispatch latency, an
// optional payload, and a way to signal cancellation back to the request
// that owns this context (never the reverse — spec §9 rejects the cyclic
// Request↔RequestContext reference from the source).
type RequestContext struct {
	CoreContext
	Endpoint        EndpointIdentity
	RequestID       string
	Payload         map[string]string
	cancelFn        func(reason string)
	DispatchLatency int64 // nanoseconds; 0 until stamped
}

// NewRequestContext builds a RequestContext bound to a single request.
// cancelFn is the back-reference used only to invoke Request.Cancel; the
// request owns this context, not the other way around.
func NewRequestContext(core CoreContext, endpoint EndpointIdentity, requestID string, payload map[string]string, cancelFn func(reason string)) *RequestContext {
	return &RequestContext{
		CoreContext: core,
		Endpoint:    endpoint,
		RequestID:   requestID,
		Payload:     payload,
		cancelFn:    cancelFn,
	}
}

// StampDispatchLatency records the time from request creation to
// write-to-channel. Write-once by convention: callers invoke it exactly
// once, from Endpoint.Send on the dispatching goroutine, immediately
// before handing the request to the pipeline.
func (c *RequestContext) StampDispatchLatency(d int64) {
	c.DispatchLatency = d
}

// Cancel invokes the request's own cancellation entry point. It exists so
// a timer or external caller holding only a RequestContext (never a
// Request) can still cancel — without the context owning the request.
func (c *RequestContext) Cancel(reason string) {
	if c.cancelFn != nil {
		c.cancelFn(reason)
	}
}

// ExportAsMap is the request-scoped canonical ordered export: core_id and
// endpoint_id as in EndpointContext's export, followed by the request id
// and dispatch latency. The remote host, port and service type are not
// included.
func (c *RequestContext) ExportAsMap() []KV {
	return []KV{
		{"core_id", c.CoreID},
		{"endpoint_id", c.Endpoint.EndpointID},
		{"request_id", c.RequestID},
		{"dispatch_latency_ns", c.DispatchLatency},
	}
}
