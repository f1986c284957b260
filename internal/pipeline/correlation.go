package pipeline

import (
	"container/list"
	"sync"

	"github.com/arrowdb/conncore/internal/reqres"
)

// CorrelationHandler is pipeline stage 3 (spec §4.4): it maintains a
// mapping from opaque wire id to the pending Request awaiting a response,
// with FIFO insertion order per endpoint. On an inbound response it looks
// up the opaque id, removes the entry, and completes the Request.
type CorrelationHandler struct {
	mu      sync.Mutex
	order   *list.List // of *pendingEntry, oldest first
	byID    map[string]*list.Element
}

type pendingEntry struct {
	opaqueID string
	request  *reqres.Request
}

func NewCorrelationHandler() *CorrelationHandler {
	return &CorrelationHandler{
		order: list.New(),
		byID:  make(map[string]*list.Element),
	}
}

// Register enqueues req as awaiting a response keyed by opaqueID. Callers
// register before handing the request to the channel so a response that
// arrives immediately can never race ahead of registration.
func (c *CorrelationHandler) Register(opaqueID string, req *reqres.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem := c.order.PushBack(&pendingEntry{opaqueID: opaqueID, request: req})
	c.byID[opaqueID] = elem
}

// Complete looks up opaqueID, removes the entry, and completes the
// matched request with resp. Returns false if no request was pending
// under that id (a late or duplicate response, which the codec is
// expected to log and discard).
func (c *CorrelationHandler) Complete(opaqueID string, resp *reqres.Response) bool {
	c.mu.Lock()
	elem, ok := c.byID[opaqueID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.byID, opaqueID)
	c.order.Remove(elem)
	req := elem.Value.(*pendingEntry).request
	c.mu.Unlock()

	return req.Complete(resp, nil)
}

// Fail looks up opaqueID the same way Complete does but resolves the
// request with err instead of a Response (protocol errors, spec §7).
func (c *CorrelationHandler) Fail(opaqueID string, err error) bool {
	c.mu.Lock()
	elem, ok := c.byID[opaqueID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.byID, opaqueID)
	c.order.Remove(elem)
	req := elem.Value.(*pendingEntry).request
	c.mu.Unlock()

	return req.Complete(nil, err)
}

// FailAll resolves every still-pending request with a
// *reqres.CancelledError carrying reason, oldest first, and clears the
// table. Used by Pipeline.Close (spec §4.4 close contract) and by the
// endpoint driver when a connected channel goes inactive.
func (c *CorrelationHandler) FailAll(reason reqres.CancellationReason) int {
	c.mu.Lock()
	var pending []*reqres.Request
	for e := c.order.Front(); e != nil; e = e.Next() {
		pending = append(pending, e.Value.(*pendingEntry).request)
	}
	c.order.Init()
	c.byID = make(map[string]*list.Element)
	c.mu.Unlock()

	for _, req := range pending {
		req.Cancel(reason)
	}
	return len(pending)
}

// Forget removes opaqueID from the table without completing the request,
// for when the caller has already resolved it by some other means (a
// per-request deadline timer firing Cancel, say) and just needs the
// bookkeeping entry gone. Returns false if no such entry existed.
func (c *CorrelationHandler) Forget(opaqueID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.byID[opaqueID]
	if !ok {
		return false
	}
	delete(c.byID, opaqueID)
	c.order.Remove(elem)
	return true
}

// Count returns the number of requests currently awaiting a response —
// the raw material for the endpoint's free() capacity diagnostic (spec
// §6, SPEC_FULL supplement).
func (c *CorrelationHandler) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
