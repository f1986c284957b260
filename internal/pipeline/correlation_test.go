package pipeline

import (
	"testing"
	"time"

	"github.com/arrowdb/conncore/internal/ctxmeta"
	"github.com/arrowdb/conncore/internal/reqres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(id string) *reqres.Request {
	return reqres.New(id, ctxmeta.ServiceKV, time.Now().Add(time.Second), nil)
}

func TestCorrelationHandler_CompleteResolvesMatchedRequest(t *testing.T) {
	h := NewCorrelationHandler()
	req := newTestRequest("req-1")
	h.Register("opaque-1", req)

	ok := h.Complete("opaque-1", reqres.NewResponse("opaque-1", "payload", false))
	require.True(t, ok)

	outcome, done := req.Outcome()
	require.True(t, done)
	assert.Equal(t, "payload", outcome.Response.Payload)
	assert.Equal(t, 0, h.Count())
}

func TestCorrelationHandler_CompleteUnknownIDIsNoop(t *testing.T) {
	h := NewCorrelationHandler()
	ok := h.Complete("missing", reqres.NewResponse("missing", nil, false))
	assert.False(t, ok)
}

func TestCorrelationHandler_FailAllResolvesAllOutstanding(t *testing.T) {
	h := NewCorrelationHandler()
	var reqs []*reqres.Request
	for i := 0; i < 5; i++ {
		r := newTestRequest("req")
		reqs = append(reqs, r)
		h.Register(r.ID()+string(rune('a'+i)), r)
	}

	n := h.FailAll(reqres.ReasonChannelClosedWhileInFlight)
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, h.Count())

	for _, r := range reqs {
		outcome, done := r.Outcome()
		require.True(t, done)
		var cancelled *reqres.CancelledError
		require.ErrorAs(t, outcome.Err, &cancelled)
		assert.Equal(t, reqres.ReasonChannelClosedWhileInFlight, cancelled.Reason)
	}
}

func TestCorrelationHandler_ResponseOrderingIsIndependentOfRequestOrder(t *testing.T) {
	h := NewCorrelationHandler()
	first := newTestRequest("first")
	second := newTestRequest("second")
	h.Register("1", first)
	h.Register("2", second)

	// Remote reorders: second's response arrives before first's.
	require.True(t, h.Complete("2", reqres.NewResponse("2", "second-payload", false)))
	require.True(t, h.Complete("1", reqres.NewResponse("1", "first-payload", false)))

	secondOutcome, _ := second.Outcome()
	firstOutcome, _ := first.Outcome()
	assert.Equal(t, "second-payload", secondOutcome.Response.Payload)
	assert.Equal(t, "first-payload", firstOutcome.Response.Payload)
}
