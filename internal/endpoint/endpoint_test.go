package endpoint

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arrowdb/conncore/internal/coreevents"
	"github.com/arrowdb/conncore/internal/ctxmeta"
	"github.com/arrowdb/conncore/internal/memtransport"
	"github.com/arrowdb/conncore/internal/reqres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBus is a minimal Publisher that appends every event it sees,
// for assertions against the exact event-log scenarios spec §8 names.
type recordingBus struct {
	mu     sync.Mutex
	events []coreevents.Event
}

func (b *recordingBus) PublishAsync(ev coreevents.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) categories() []coreevents.Category {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]coreevents.Category, len(b.events))
	for i, e := range b.events {
		out[i] = e.Category
	}
	return out
}

func (b *recordingBus) countCategory(cat coreevents.Category) int {
	n := 0
	for _, c := range b.categories() {
		if c == cat {
			n++
		}
	}
	return n
}

// fastBackoff keeps retry tests near-instant: a 1ms base, no real
// jitter spread (always returns max-1ns) so wall-clock tests don't flake.
func fastBackoff() BackoffConfig {
	return BackoffConfig{Base: time.Millisecond, Factor: 2, Cap: 20 * time.Millisecond}
}

func noJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return max - 1
}

func waitForPhase(t *testing.T, e *Endpoint, phase Phase, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		snap := e.State()
		if snap.Phase == phase {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for phase %s, last seen %s", phase, snap.Phase)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestEndpoint(t *testing.T, dialer *memtransport.Dialer, bus Publisher, connectTimeout time.Duration) *Endpoint {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ConnectTimeout = connectTimeout
	cfg.Backoff = fastBackoff()
	cfg.Breaker.Enabled = false

	e := New(Params{
		RemoteHost:  "127.0.0.1",
		RemotePort:  11210,
		ServiceType: ctxmeta.ServiceKV,
		Supplier:    dialer.Supplier(),
		Initializer: &memtransport.Initializer{},
		Config:      cfg,
		Bus:         bus,
		Jitter:      noJitter,
	})
	t.Cleanup(e.Stop)
	return e
}

func TestEndpoint_HappyConnect(t *testing.T) {
	dialer := &memtransport.Dialer{}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 100*time.Millisecond)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, time.Second)

	assert.Equal(t, []coreevents.Category{coreevents.CategoryEndpointConnected}, bus.categories())
	assert.Equal(t, 1, dialer.Attempts())
}

func TestEndpoint_RetryUntilSuccess(t *testing.T) {
	dialer := &memtransport.Dialer{FailuresBeforeSuccess: 3}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 100*time.Millisecond)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, 2*time.Second)

	assert.Equal(t, 3, bus.countCategory(coreevents.CategoryEndpointConnectionFailed))
	assert.Equal(t, 1, bus.countCategory(coreevents.CategoryEndpointConnected))
	assert.Equal(t, 4, dialer.Attempts())
}

func TestEndpoint_RetryOnConnectTimeout(t *testing.T) {
	dialer := &memtransport.Dialer{Delay: 50 * time.Millisecond}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 10*time.Millisecond)

	e.Connect()
	// Give it time to time out at least twice before we stop it.
	time.Sleep(60 * time.Millisecond)

	assert.GreaterOrEqual(t, bus.countCategory(coreevents.CategoryEndpointConnectionFailed), 2)
	assert.Equal(t, PhaseConnecting, e.State().Phase)
}

func TestEndpoint_DisconnectDuringBackoffAborts(t *testing.T) {
	// FailuresBeforeSuccess large enough that we can reliably catch the
	// endpoint asleep in backoff between attempt 1 and attempt 2.
	dialer := &memtransport.Dialer{FailuresBeforeSuccess: 1000}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 20*time.Millisecond)

	e.Connect()
	// Wait for at least one failure to land, which means we're now
	// asleep in the backoff timer rather than mid-dial.
	deadline := time.Now().Add(time.Second)
	for bus.countCategory(coreevents.CategoryEndpointConnectionFailed) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("never observed a connection failure")
		}
		time.Sleep(time.Millisecond)
	}

	e.Disconnect()
	waitForPhase(t, e, PhaseDisconnected, time.Second)

	assert.Equal(t, 1, bus.countCategory(coreevents.CategoryEndpointConnectionAborted))
	assert.Equal(t, 1, bus.countCategory(coreevents.CategoryEndpointDisconnected))
	assert.Equal(t, 0, bus.countCategory(coreevents.CategoryEndpointConnectionIgnored))
}

func TestEndpoint_DisconnectOverridesLateConnect(t *testing.T) {
	gate := make(chan struct{})
	dialer := &memtransport.Dialer{Gate: gate}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, time.Second)

	e.Connect()
	waitForPhase(t, e, PhaseConnecting, time.Second)

	e.Disconnect()
	// The dial is still parked on the gate; give the disconnect command
	// time to be processed and recorded as pending before we release it.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	waitForPhase(t, e, PhaseDisconnected, time.Second)

	assert.Equal(t, []coreevents.Category{
		coreevents.CategoryEndpointConnectionIgnored,
		coreevents.CategoryEndpointDisconnected,
	}, bus.categories())
}

func TestEndpoint_SendWhenConnectedResolvesRequest(t *testing.T) {
	dialer := &memtransport.Dialer{}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 100*time.Millisecond)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, time.Second)

	req := reqres.New(ctxmeta.NewRequestID(), ctxmeta.ServiceKV, time.Now().Add(time.Second), map[string]string{"op": "get"})
	require.NoError(t, e.Send(req))

	select {
	case <-req.Done():
	case <-time.After(time.Second):
		t.Fatal("request never resolved")
	}

	outcome, done := req.Outcome()
	require.True(t, done)
	require.NoError(t, outcome.Err)
	assert.Equal(t, req.Payload, outcome.Response.Payload)

	reqres.Release(req)
}

func TestEndpoint_SendWhenDisconnectedReturnsNotAvailable(t *testing.T) {
	dialer := &memtransport.Dialer{}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 100*time.Millisecond)

	req := reqres.New(ctxmeta.NewRequestID(), ctxmeta.ServiceKV, time.Now().Add(time.Second), nil)
	assert.ErrorIs(t, e.Send(req), ErrNotAvailable)
	assert.True(t, req.IsActive()) // rejected synchronously, request untouched
}

func TestEndpoint_DisconnectEmitsDisconnectedOnce(t *testing.T) {
	dialer := &memtransport.Dialer{}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 100*time.Millisecond)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, time.Second)

	e.Disconnect()
	waitForPhase(t, e, PhaseDisconnected, time.Second)

	assert.Equal(t, 1, bus.countCategory(coreevents.CategoryEndpointDisconnected))
	assert.Equal(t, 0, bus.countCategory(coreevents.CategoryEndpointDisconnectionFailed))
}

func TestEndpoint_DisconnectFailureEmitsDisconnectionFailed(t *testing.T) {
	closeErr := errors.New("memtransport: simulated close failure")
	dialer := &memtransport.Dialer{CloseErr: closeErr}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 100*time.Millisecond)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, time.Second)

	e.Disconnect()
	waitForPhase(t, e, PhaseDisconnected, time.Second)

	require.Equal(t, 1, bus.countCategory(coreevents.CategoryEndpointDisconnectionFailed))
	require.Equal(t, 0, bus.countCategory(coreevents.CategoryEndpointDisconnected))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	var found bool
	for _, ev := range bus.events {
		if ev.Category != coreevents.CategoryEndpointDisconnectionFailed {
			continue
		}
		found = true
		assert.Equal(t, coreevents.SeverityWarn, ev.Severity)
		var epErr *EndpointError
		require.ErrorAs(t, ev.Cause, &epErr)
		assert.Equal(t, "disconnect", epErr.Op)
		assert.ErrorIs(t, epErr.Unwrap(), closeErr)
	}
	assert.True(t, found, "expected a DisconnectionFailed event in the log")
}

func TestEndpoint_SendWhenBreakerOpenReturnsBreakerOpenError(t *testing.T) {
	dialer := &memtransport.Dialer{}
	bus := &recordingBus{}
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.Backoff = fastBackoff()
	cfg.Breaker.Enabled = true
	cfg.Breaker.VolumeThreshold = 1
	cfg.Breaker.ErrorThresholdPercent = 1

	e := New(Params{
		RemoteHost:  "127.0.0.1",
		RemotePort:  11210,
		ServiceType: ctxmeta.ServiceKV,
		Supplier:    dialer.Supplier(),
		Initializer: &memtransport.Initializer{},
		Config:      cfg,
		Bus:         bus,
		Jitter:      noJitter,
	})
	t.Cleanup(e.Stop)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, time.Second)

	e.breakerImpl.RecordFailure()
	require.False(t, e.breakerImpl.Allow(), "single failure past the threshold should open the breaker")

	req := reqres.New(ctxmeta.NewRequestID(), ctxmeta.ServiceKV, time.Now().Add(time.Second), nil)
	err := e.Send(req)

	var breakerErr *BreakerOpenError
	require.ErrorAs(t, err, &breakerErr)
	assert.Equal(t, e.identity, breakerErr.Identity)
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.True(t, req.IsActive())
}

func TestEndpoint_UpdateConfigRejectsInvalidConfig(t *testing.T) {
	dialer := &memtransport.Dialer{}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 100*time.Millisecond)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, time.Second)

	bad := e.cfg
	bad.MaxOutstanding = 0

	err := e.UpdateConfig(bad)
	var cfgErr *ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "MaxOutstanding", cfgErr.Field)
	assert.Equal(t, 0, bus.countCategory(coreevents.CategoryEndpointConfigReloaded))
}

func TestEndpoint_FreeReflectsOutstandingRequests(t *testing.T) {
	dialer := &memtransport.Dialer{}
	bus := &recordingBus{}
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.Backoff = fastBackoff()
	cfg.Breaker.Enabled = false
	cfg.MaxOutstanding = 1

	e := New(Params{
		RemoteHost:  "127.0.0.1",
		RemotePort:  11210,
		ServiceType: ctxmeta.ServiceKV,
		Supplier:    dialer.Supplier(),
		Initializer: &memtransport.Initializer{Latency: 200 * time.Millisecond},
		Config:      cfg,
		Bus:         bus,
		Jitter:      noJitter,
	})
	t.Cleanup(e.Stop)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, time.Second)

	assert.True(t, e.Free())
	req := reqres.New(ctxmeta.NewRequestID(), ctxmeta.ServiceKV, time.Now().Add(time.Second), nil)
	require.NoError(t, e.Send(req))

	assert.False(t, e.Free())

	<-req.Done()
	assert.True(t, e.Free())
}

func TestEndpoint_UpdateConfigAppliesAtomicallyAndEmitsReloadEvent(t *testing.T) {
	dialer := &memtransport.Dialer{}
	bus := &recordingBus{}
	e := newTestEndpoint(t, dialer, bus, 100*time.Millisecond)

	e.Connect()
	waitForPhase(t, e, PhaseConnected, time.Second)

	newCfg := e.cfg
	newCfg.Breaker.Enabled = true
	newCfg.Breaker.VolumeThreshold = 5
	e.UpdateConfig(newCfg)

	assert.Equal(t, 1, bus.countCategory(coreevents.CategoryEndpointConfigReloaded))
	assert.True(t, e.breakerImpl.Allow(), "breaker re-enabled below volume threshold still allows sends")
}
