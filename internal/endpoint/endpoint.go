// Package endpoint implements the endpoint lifecycle state machine (spec
// §4.6): the single most load-bearing piece of the core. One Endpoint
// owns exactly one physical connection's lifecycle — connect, dispatch,
// reconnect with backoff, disconnect — driven by a single goroutine so
// that every state transition is free of locks (spec §5).
package endpoint

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arrowdb/conncore/internal/breaker"
	"github.com/arrowdb/conncore/internal/coreevents"
	"github.com/arrowdb/conncore/internal/ctxmeta"
	"github.com/arrowdb/conncore/internal/pipeline"
	"github.com/arrowdb/conncore/internal/reqres"
	"github.com/arrowdb/conncore/pkg/eventbus"
)

// Clock is shared with internal/breaker; injected so measured durations
// (attempt and connected-for times, dispatch latency) and the breaker's
// windows are deterministic under test (spec §9). Backoff delays and the
// per-attempt connect timeout still run on real timers.
type Clock = breaker.Clock

// Publisher is the subset of *eventbus.EventBus[coreevents.Event] an
// endpoint needs. A nil Publisher is valid and makes event emission a
// no-op, for callers that don't want a bus wired up (e.g. unit tests
// exercising only the state machine).
type Publisher interface {
	PublishAsync(event coreevents.Event)
}

var _ Publisher = (*eventbus.EventBus[coreevents.Event])(nil)

// Params constructs an Endpoint (spec §3 Endpoint fields).
type Params struct {
	RemoteHost  string
	RemotePort  uint16
	ServiceType ctxmeta.ServiceType
	Environment ctxmeta.EnvironmentHandle

	Supplier    pipeline.ChannelSupplier
	ConnectStep pipeline.ConnectStep // optional
	Initializer pipeline.Initializer

	Config Config
	Bus    Publisher // optional
	Clock  Clock     // optional, defaults to wall clock
	Jitter JitterFunc
}

// Endpoint is the state machine spec §4.6 names. Exported methods are
// safe to call from any goroutine; only the unexported driver goroutine
// changes phase and the live pipeline. Send is the deliberate exception
// for dispatch: it runs on the caller's goroutine, consults the breaker's
// internally-locked Allow, and hands each request to a goroutine that
// records its outcome against the breaker and the stats counters.
type Endpoint struct {
	identity ctxmeta.EndpointIdentity
	core     ctxmeta.CoreContext

	supplier    pipeline.ChannelSupplier
	connectStep pipeline.ConnectStep
	initializer pipeline.Initializer
	correlation *pipeline.CorrelationHandler
	breakerImpl *breaker.Breaker

	cfg    Config
	bus    Publisher
	clock  Clock
	jitter JitterFunc

	cmdCh           chan any
	attemptResultCh chan attemptResult
	inactiveCh      chan struct{}

	snapshot atomic.Pointer[Snapshot]
	pipe     atomic.Pointer[pipeline.Pipeline]

	stats statCounters
	ring  attemptRing

	stopped chan struct{}
}

type attemptResult struct {
	gen     uint64
	channel pipeline.Channel
	err     error
	started time.Time
}

type connectCmd struct{}
type disconnectCmd struct{}
type stopCmd struct{}

// New constructs an Endpoint and starts its driver goroutine. The
// endpoint begins Disconnected; callers must call Connect explicitly.
func New(p Params) *Endpoint {
	identity := ctxmeta.EndpointIdentity{
		RemoteHost:  p.RemoteHost,
		RemotePort:  p.RemotePort,
		ServiceType: p.ServiceType,
		EndpointID:  ctxmeta.NextEndpointID(),
	}
	core := ctxmeta.CoreContext{
		EnvironmentHandle: p.Environment,
		CoreID:            ctxmeta.NextCoreID(),
	}

	clock := p.Clock
	var brk *breaker.Breaker
	if clock != nil {
		brk = breaker.NewWithClock(p.Config.Breaker, clock)
	} else {
		brk = breaker.New(p.Config.Breaker)
	}

	e := &Endpoint{
		identity:        identity,
		core:            core,
		supplier:        p.Supplier,
		connectStep:     p.ConnectStep,
		initializer:     p.Initializer,
		correlation:     pipeline.NewCorrelationHandler(),
		breakerImpl:     brk,
		cfg:             p.Config,
		bus:             p.Bus,
		clock:           clock,
		jitter:          p.Jitter,
		cmdCh:           make(chan any, 32),
		attemptResultCh: make(chan attemptResult, 1),
		inactiveCh:      make(chan struct{}, 1),
		stopped:         make(chan struct{}),
	}
	e.snapshot.Store(&Snapshot{Phase: PhaseDisconnected, Circuit: breaker.StateClosed})
	e.breakerImpl.OnTransition = e.onBreakerTransition

	go e.driverLoop()
	return e
}

func (e *Endpoint) endpointContext() ctxmeta.EndpointContext {
	return ctxmeta.EndpointContext{CoreContext: e.core, Endpoint: e.identity}
}

func (e *Endpoint) publish(ev coreevents.Event) {
	if e.bus == nil {
		return
	}
	ev.Context = e.endpointContext()
	e.bus.PublishAsync(ev)
}

func (e *Endpoint) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now()
}

// State returns the current state snapshot. Safe from any goroutine
// (spec §5 atomic-load discipline); may be stale by the time it's read.
func (e *Endpoint) State() Snapshot {
	return *e.snapshot.Load()
}

// Free reports whether the endpoint has headroom to accept more writes
// (spec §6 SPEC_FULL supplement: outstanding-write count vs
// max_outstanding).
func (e *Endpoint) Free() bool {
	return e.correlation.Count() < e.cfg.MaxOutstanding
}

// Stats returns a snapshot of dispatch counters.
func (e *Endpoint) Stats() Stats {
	return e.stats.snapshot(e.correlation.Count())
}

// RecentAttempts returns the reconnect-attempt history ring, oldest
// first. Safe to call from any goroutine: the copy is taken on the
// driver goroutine (the ring's only writer) and handed back, so it never
// races a push. Returns nil once the driver has stopped.
func (e *Endpoint) RecentAttempts() []AttemptOutcome {
	resultCh := make(chan []AttemptOutcome, 1)
	select {
	case e.cmdCh <- func() { resultCh <- e.ring.snapshot() }:
	case <-e.stopped:
		return nil
	}
	select {
	case r := <-resultCh:
		return r
	case <-e.stopped:
		return nil
	}
}

// UpdateConfig swaps cfg and the breaker's thresholds atomically on the
// driver goroutine, then publishes EndpointConfigReloaded (spec §6
// SPEC_FULL supplement: a live config reload never mutates a running
// endpoint's state directly, it hands the new Config to the endpoint
// that owns it). Backoff stays at its existing value: spec §4.6 does
// not expose jitter tuning as reloadable config.
func (e *Endpoint) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	done := make(chan struct{})
	apply := func() {
		cfg.Backoff = e.cfg.Backoff
		e.cfg = cfg
		e.breakerImpl.UpdateConfig(cfg.Breaker)
		e.publish(coreevents.ConfigReloaded(e.endpointContext()))
		close(done)
	}
	select {
	case e.cmdCh <- apply:
	case <-e.stopped:
		return nil
	}
	select {
	case <-done:
	case <-e.stopped:
	}
	return nil
}

// Connect requests a transition out of Disconnected. Idempotent: a call
// while already Connecting, Connected or Disconnecting is a no-op (spec
// §4.6 "connect() — idempotent; valid only from Disconnected").
func (e *Endpoint) Connect() {
	if e.State().Phase != PhaseDisconnected {
		return
	}
	select {
	case e.cmdCh <- connectCmd{}:
	case <-e.stopped:
	}
}

// Disconnect requests a graceful teardown from any non-terminal state.
// Idempotent.
func (e *Endpoint) Disconnect() {
	select {
	case e.cmdCh <- disconnectCmd{}:
	case <-e.stopped:
	}
}

// Stop tears the driver goroutine down entirely; used by tests and final
// shutdown. After Stop returns, no further Connect/Disconnect/Send call
// has any effect.
func (e *Endpoint) Stop() {
	select {
	case e.cmdCh <- stopCmd{}:
	default:
	}
	<-e.stopped
	e.breakerImpl.OnTransition = nil
}

// Send dispatches req if the endpoint is available, else returns
// ErrNotAvailable immediately without consuming req — the caller still
// owns it and may retry elsewhere (spec §4.6 send(req) row). Accepted
// dispatch never blocks waiting for a response; the response (or
// cancellation) arrives later via req.Done().
func (e *Endpoint) Send(req *reqres.Request) error {
	snap := e.State()
	if snap.Phase != PhaseConnected {
		return ErrNotAvailable
	}
	if !e.breakerImpl.Allow() {
		return &BreakerOpenError{Identity: e.identity}
	}
	pipePtr := e.pipe.Load()
	if pipePtr == nil {
		return ErrNotAvailable
	}
	p := *pipePtr

	req.StampDispatchLatency(e.now())
	e.correlation.Register(req.ID(), req)
	e.stats.dispatched.Add(1)

	var timer *time.Timer
	if !req.Deadline.IsZero() {
		if d := time.Until(req.Deadline); d > 0 {
			timer = time.AfterFunc(d, func() { req.Cancel(reqres.ReasonTimedOut) })
		} else {
			req.Cancel(reqres.ReasonTimedOut)
		}
	}

	wf := p.Write(req)
	go e.awaitOutcome(req, wf, timer)
	return nil
}

func (e *Endpoint) awaitOutcome(req *reqres.Request, wf pipeline.WriteFuture, timer *time.Timer) {
	select {
	case err := <-wf:
		if err != nil {
			e.correlation.Forget(req.ID())
			req.Complete(nil, &DispatchError{RequestID: req.ID(), Err: &TransportError{Err: err}})
		}
	case <-req.Done():
	}
	<-req.Done()
	if timer != nil {
		timer.Stop()
	}

	outcome, _ := req.Outcome()
	failure, record := classifyOutcome(outcome)
	if record {
		if failure {
			e.breakerImpl.RecordFailure()
			e.stats.failed.Add(1)
		} else {
			e.breakerImpl.RecordSuccess()
			e.stats.succeeded.Add(1)
		}
	} else {
		e.stats.cancelled.Add(1)
	}
	if d := req.Context.DispatchLatency; d > 0 {
		e.stats.totalLatencyNs.Add(d)
	}
}

func (e *Endpoint) onBreakerTransition(from, to breaker.State) {
	// Invoked synchronously from within Allow/RecordSuccess/RecordFailure
	// with the breaker's lock released (internal/breaker documents this).
	// It must never call back into the breaker; publishing an event and
	// refreshing the snapshot are both safe.
	cur := e.State()
	cur.Circuit = to
	e.snapshot.Store(&cur)

	switch to {
	case breaker.StateOpen:
		e.publish(coreevents.CircuitOpened(ctxmeta.EndpointContext{}))
	case breaker.StateHalfOpen:
		e.publish(coreevents.CircuitHalfOpened(ctxmeta.EndpointContext{}))
	case breaker.StateClosed:
		e.publish(coreevents.CircuitClosed(ctxmeta.EndpointContext{}))
	}
}

func (e *Endpoint) setPhase(phase Phase) {
	cur := e.State()
	cur.Phase = phase
	cur.Circuit = e.breakerImpl.State()
	e.snapshot.Store(&cur)
}

// driverLoop is the single goroutine that owns every state transition
// (spec §5). Everything it touches — phase, the live pipeline reference,
// the in-flight attempt bookkeeping — is private to this goroutine;
// other goroutines only ever post commands or read the atomic snapshot.
func (e *Endpoint) driverLoop() {
	defer close(e.stopped)
	// A panic here would otherwise take the whole driver goroutine down
	// silently, wedging the endpoint in whatever phase it last recorded
	// (no more transitions, no more Send, forever). Recover, surface it
	// as a PanicRecovered event carrying an EndpointError, and let the
	// deferred close(e.stopped) above still run so callers blocked on
	// Stop unblock instead of hanging.
	defer func() {
		if rec := recover(); rec != nil {
			e.publish(coreevents.PanicRecovered(e.endpointContext(),
				&EndpointError{Op: "driverLoop", Identity: e.identity, Err: fmt.Errorf("panic: %v", rec)}))
		}
	}()

	var (
		disconnectRequested bool
		attemptGen          uint64
		attemptNumber       int
		attemptStart        time.Time
		connectedAt         time.Time
		backoffTimer        *time.Timer
		closeResultCh       chan error
	)

	stopBackoff := func() {
		if backoffTimer != nil {
			backoffTimer.Stop()
			backoffTimer = nil
		}
	}

	startAttempt := func() {
		attemptNumber++
		attemptStart = e.now()
		gen := attemptGen
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ConnectTimeout)
		go func() {
			defer cancel()
			channel, err := e.dial(ctx)
			e.attemptResultCh <- attemptResult{gen: gen, channel: channel, err: err, started: attemptStart}
		}()
	}

	scheduleRetry := func() {
		delay := nextBackoff(attemptNumber, e.cfg.Backoff, e.jitter)
		backoffTimer = time.NewTimer(delay)
	}

	closePipelineAsync := func(p pipeline.Pipeline) chan error {
		ch := make(chan error, 1)
		go func() {
			ch <- p.Close()
		}()
		return ch
	}

	for {
		var backoffC <-chan time.Time
		if backoffTimer != nil {
			backoffC = backoffTimer.C
		}
		var closeC <-chan error
		if closeResultCh != nil {
			closeC = closeResultCh
		}

		select {
		case cmd := <-e.cmdCh:
			switch c := cmd.(type) {
			case func():
				c()
			case connectCmd:
				if e.State().Phase != PhaseDisconnected {
					continue
				}
				attemptGen++
				attemptNumber = 0
				disconnectRequested = false
				e.setPhase(PhaseConnecting)
				startAttempt()

			case disconnectCmd:
				switch e.State().Phase {
				case PhaseDisconnected, PhaseDisconnecting:
					// idempotent no-op
				case PhaseConnecting:
					disconnectRequested = true
					if backoffTimer != nil {
						// No attempt in flight: we're sitting in the
						// inter-attempt sleep. Nothing to wait for.
						stopBackoff()
						attemptGen++ // invalidate any attempt still racing in
						e.setPhase(PhaseDisconnected)
						e.publish(coreevents.ConnectionAborted(ctxmeta.EndpointContext{}))
						e.publish(coreevents.Disconnected(ctxmeta.EndpointContext{}, 0))
						disconnectRequested = false
					}
					// else: an attempt goroutine is in flight; deferred to
					// its arrival in the attemptResultCh case below.
				case PhaseConnected:
					e.beginDisconnect(closePipelineAsync, &closeResultCh)
				}

			case stopCmd:
				if e.State().Phase == PhaseConnected {
					if p := e.pipe.Load(); p != nil {
						(*p).Close()
					}
				}
				e.pipe.Store(nil)
				stopBackoff()
				return
			}

		case res := <-e.attemptResultCh:
			if res.gen != attemptGen {
				if res.channel != nil {
					res.channel.Close()
				}
				continue
			}
			duration := e.now().Sub(res.started)

			if disconnectRequested {
				disconnectRequested = false
				if res.err == nil && res.channel != nil {
					res.channel.Close()
					e.setPhase(PhaseDisconnected)
					e.publish(coreevents.ConnectionIgnored(ctxmeta.EndpointContext{}))
					e.publish(coreevents.Disconnected(ctxmeta.EndpointContext{}, 0))
				} else {
					e.setPhase(PhaseDisconnected)
					e.publish(coreevents.ConnectionAborted(ctxmeta.EndpointContext{}))
					e.publish(coreevents.Disconnected(ctxmeta.EndpointContext{}, 0))
				}
				e.ring.push(AttemptOutcome{At: e.now(), Attempt: attemptNumber, Duration: duration, Err: res.err})
				continue
			}

			e.ring.push(AttemptOutcome{At: e.now(), Attempt: attemptNumber, Duration: duration, Err: res.err})

			if res.err != nil {
				e.publish(coreevents.ConnectionFailed(ctxmeta.EndpointContext{}, duration,
					&EndpointError{Op: "connect", Identity: e.identity, Err: res.err}))
				scheduleRetry()
				continue
			}

			p, err := e.initialize(res.channel)
			if err != nil {
				res.channel.Close()
				e.publish(coreevents.ConnectionFailed(ctxmeta.EndpointContext{}, duration,
					&EndpointError{Op: "initialize", Identity: e.identity, Err: err}))
				scheduleRetry()
				continue
			}

			e.pipe.Store(&p)
			connectedAt = e.now()
			e.stats.reconnectCount.Add(1)
			e.setPhase(PhaseConnected)
			e.publish(coreevents.Connected(ctxmeta.EndpointContext{}, duration))

		case <-backoffC:
			backoffTimer = nil
			startAttempt()

		case err := <-closeC:
			closeResultCh = nil
			e.pipe.Store(nil)
			e.correlation.FailAll(reqres.ReasonChannelClosedWhileInFlight)
			e.setPhase(PhaseDisconnected)
			if err != nil {
				e.publish(coreevents.DisconnectionFailed(ctxmeta.EndpointContext{},
					&EndpointError{Op: "disconnect", Identity: e.identity, Err: err}))
			} else {
				e.publish(coreevents.Disconnected(ctxmeta.EndpointContext{}, e.now().Sub(connectedAt)))
			}

		case <-e.inactiveCh:
			if e.State().Phase != PhaseConnected {
				continue
			}
			if p := e.pipe.Load(); p != nil {
				(*p).Close()
			}
			e.pipe.Store(nil)
			e.correlation.FailAll(reqres.ReasonChannelClosedWhileInFlight)
			e.publish(coreevents.Disconnected(ctxmeta.EndpointContext{}, e.now().Sub(connectedAt)))
			attemptGen++
			attemptNumber = 0
			disconnectRequested = false
			e.setPhase(PhaseConnecting)
			startAttempt()
		}
	}
}

// beginDisconnect transitions Connected -> Disconnecting and starts an
// async Close of the live pipeline, enforced by DisconnectTimeout.
func (e *Endpoint) beginDisconnect(closeAsync func(pipeline.Pipeline) chan error, out *chan error) {
	e.setPhase(PhaseDisconnecting)
	p := e.pipe.Load()
	if p == nil {
		e.setPhase(PhaseDisconnected)
		e.publish(coreevents.Disconnected(ctxmeta.EndpointContext{}, 0))
		return
	}

	raw := closeAsync(*p)
	wrapped := make(chan error, 1)
	go func() {
		select {
		case err := <-raw:
			wrapped <- err
		case <-time.After(e.cfg.DisconnectTimeout):
			wrapped <- context.DeadlineExceeded
			go func() { <-raw }() // drain the late Close() result so closeAsync's goroutine never blocks forever
		}
	}()
	*out = wrapped
}

// dial acquires a fresh Channel and runs the connect step, if any (spec
// §4.4: ConnectStep runs after the channel is acquired, before the
// endpoint considers itself connected).
func (e *Endpoint) dial(ctx context.Context) (pipeline.Channel, error) {
	channel, err := e.supplier(ctx)
	if err != nil {
		return nil, err
	}
	if e.connectStep != nil {
		if err := e.connectStep(ctx, channel); err != nil {
			channel.Close()
			return nil, err
		}
	}
	return channel, nil
}

func (e *Endpoint) initialize(channel pipeline.Channel) (pipeline.Pipeline, error) {
	return e.initializer.Initialize(channel, e.correlation, pipeline.Options{
		IdleTimeout: e.cfg.IdleTimeout,
		LowLatency:  e.cfg.LowLatency,
	})
}

// ReportChannelInactive lets a Pipeline/Channel implementation signal
// that the live connection has died outside of any explicit disconnect
// (spec §4.6 "channel inactive" transition row) — a read error, a
// watchdog firing, a TCP RST. Safe to call from any goroutine.
func (e *Endpoint) ReportChannelInactive() {
	select {
	case e.inactiveCh <- struct{}{}:
	default:
	}
}
