// Package reqres implements the abstract Request/Response model spec
// §4.3 names: a completion handle signaled exactly once, a cancellation
// flag with enumerated reasons, a deadline, and a retry-attempt counter.
package reqres

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arrowdb/conncore/internal/ctxmeta"
)

// CancellationReason enumerates why a Request was cancelled (spec §4.3).
type CancellationReason string

const (
	ReasonTimedOut                   CancellationReason = "TimedOut"
	ReasonCancelledViaContext        CancellationReason = "CancelledViaContext"
	ReasonStoppedAtSource             CancellationReason = "StoppedAtSource"
	ReasonChannelClosedWhileInFlight CancellationReason = "ChannelClosedWhileInFlight"
	ReasonTooManyRequestsInRetry     CancellationReason = "TooManyRequestsInRetry"
)

// CancelledError is the error a Request completes with when cancelled
// rather than answered by the pipeline.
type CancelledError struct {
	Reason CancellationReason
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("request cancelled: %s", e.Reason)
}

// Outcome is the terminal state of a Request: either a Response or an
// error (which may be a *CancelledError).
type Outcome struct {
	Response *Response
	Err      error
}

// Request is created by a caller, enters an endpoint via send, and
// resolves with a Response, an error, or a cancellation reason — exactly
// once (spec §3 Request, §4.3 invariant).
type Request struct {
	Context     *ctxmeta.RequestContext
	CreatedAt   time.Time
	Deadline    time.Time
	Payload     map[string]string
	ServiceType ctxmeta.ServiceType

	done      chan struct{}
	closeOnce sync.Once
	signaled  atomic.Bool
	cancelled atomic.Bool
	outcome   Outcome
	outcomeMu sync.Mutex

	retryAttempts atomic.Int32
}

// New creates a Request. id must already be unique within the process
// (see ctxmeta.NewRequestID); deadline is an absolute instant, matching
// spec §3's "deadline (absolute instant)". Requests are a per-dispatch
// hot allocation, so New draws from requestPool rather than allocating
// directly — callers get pooling for free and never see pool.go.
func New(id string, serviceType ctxmeta.ServiceType, deadline time.Time, payload map[string]string) *Request {
	return Acquire(id, serviceType, deadline, payload)
}

// ID returns the request's correlation id.
func (r *Request) ID() string { return r.Context.RequestID }

// IsActive is true iff the completion handle is unsignaled AND the
// cancellation flag is unset (spec §4.3).
func (r *Request) IsActive() bool {
	return !r.signaled.Load() && !r.cancelled.Load()
}

// Done returns a channel closed once the request has a terminal Outcome.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the terminal Response/error once resolved. The second
// return is false until the completion handle has been signaled.
func (r *Request) Outcome() (Outcome, bool) {
	select {
	case <-r.done:
		r.outcomeMu.Lock()
		o := r.outcome
		r.outcomeMu.Unlock()
		return o, true
	default:
		return Outcome{}, false
	}
}

// Complete signals the completion handle with a result. Single
// assignment: a second call, from any goroutine, is ignored — this is
// what keeps pipeline completion and timer/context cancellation race
// safe (spec §4.3 invariant).
func (r *Request) Complete(resp *Response, err error) bool {
	if !r.signaled.CompareAndSwap(false, true) {
		return false
	}
	r.outcomeMu.Lock()
	r.outcome = Outcome{Response: resp, Err: err}
	r.outcomeMu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
	return true
}

// Cancel sets the cancellation flag and, if the completion handle is
// still unsignaled, completes the request with a *CancelledError
// carrying reason. Calling Cancel after completion is a no-op (spec
// §4.3).
func (r *Request) Cancel(reason CancellationReason) {
	r.cancelled.Store(true)
	r.Complete(nil, &CancelledError{Reason: reason})
}

// StampDispatchLatency records time.Since(CreatedAt) at the moment the
// endpoint hands the request to its pipeline (spec §4.6 step 2).
func (r *Request) StampDispatchLatency(now time.Time) time.Duration {
	d := now.Sub(r.CreatedAt)
	if d < 0 {
		d = 0
	}
	r.Context.StampDispatchLatency(int64(d))
	return d
}

// IncrementRetryAttempts bumps and returns the local retry counter. Local
// retries on the same endpoint are in scope (spec §1); cross-endpoint
// retries are a router's concern and never happen here.
func (r *Request) IncrementRetryAttempts() int32 {
	return r.retryAttempts.Add(1)
}

func (r *Request) RetryAttempts() int32 {
	return r.retryAttempts.Load()
}
