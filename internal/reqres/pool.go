package reqres

import (
	"sync"
	"time"

	"github.com/arrowdb/conncore/internal/ctxmeta"
	"github.com/arrowdb/conncore/pkg/pool"
)

// requestPool recycles Request allocations. Requests are a hot
// allocation path (one per caller send); New is built directly on
// Acquire below, so every Request in the tree is already pool-backed.
// Release is the other half: a caller that has finished reading a
// Request's Outcome and is about to discard it returns it here instead
// of letting the GC reclaim it.
var requestPool = pool.NewLitePool(func() *Request {
	return &Request{done: make(chan struct{})}
})

// Acquire returns a pooled Request, initialised and ready to send. The
// done channel is guaranteed fresh (Reset never closes it - see below),
// so a Request handed out by Acquire has never been observed complete.
func Acquire(id string, serviceType ctxmeta.ServiceType, deadline time.Time, payload map[string]string) *Request {
	r := requestPool.Get()
	r.ServiceType = serviceType
	r.CreatedAt = time.Now()
	r.Deadline = deadline
	r.Payload = payload
	r.Context = ctxmeta.NewRequestContext(ctxmeta.CoreContext{}, ctxmeta.EndpointIdentity{}, id, payload, func(reason string) {
		r.Cancel(CancellationReason(reason))
	})
	return r
}

// Release returns a fully-resolved Request to the pool. Only the caller
// that owns r — the one that read its Outcome after <-r.Done() — may
// call Release, and only once it is certain nothing else still holds a
// reference; the endpoint driver that resolved r never calls this
// itself; a blind unconditional release here would race against the
// caller's own read of Outcome.
func Release(r *Request) {
	requestPool.Put(r)
}

// Reset implements pool.Resettable. It deliberately does not reuse done
// and closeOnce but replaces them with fresh values, because a channel
// that observers already received from Done() must never be reused for
// a different request's completion.
func (r *Request) Reset() {
	r.Context = nil
	r.Payload = nil
	r.signaled.Store(false)
	r.cancelled.Store(false)
	r.retryAttempts.Store(0)
	r.outcomeMu.Lock()
	r.outcome = Outcome{}
	r.outcomeMu.Unlock()
	r.done = make(chan struct{})
	r.closeOnce = sync.Once{}
}
