// Package memtransport is a reference implementation of the
// pipeline.Channel / pipeline.Initializer / pipeline.Pipeline contract
// (spec §4.4 SPEC_FULL supplement), backed entirely by goroutines and
// channels instead of a socket. It exists so internal/endpoint can be
// exercised and tested without any real network dependency, and as the
// demo transport for cmd/endpointwatch.
package memtransport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arrowdb/conncore/internal/pipeline"
	"github.com/arrowdb/conncore/internal/reqres"
)

// Channel is a no-op transport handle; memtransport never moves bytes,
// it completes requests directly against the CorrelationHandler.
type Channel struct {
	// CloseErr, if set, is returned by Close instead of nil — for
	// exercising the endpoint's DisconnectionFailed path (spec §8
	// scenario 7), which otherwise has no way to happen against this
	// always-succeeds reference transport.
	CloseErr error

	mu     sync.Mutex
	closed bool
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.CloseErr
}

// Dialer is a scriptable pipeline.ChannelSupplier: it fails the first
// FailuresBeforeSuccess dials, then succeeds, and can optionally be
// gated so a test can hold a dial open until it chooses to release it
// (for exercising the connect/disconnect race in spec §4.6).
type Dialer struct {
	FailuresBeforeSuccess int
	DialErr               error
	Delay                 time.Duration
	Gate                  <-chan struct{}
	// CloseErr is carried onto every Channel this Dialer hands out, so a
	// test can make a later Close() fail (spec §8 scenario 7) without
	// needing its own ChannelSupplier.
	CloseErr error

	mu       sync.Mutex
	attempts int
}

// Supplier returns the pipeline.ChannelSupplier this Dialer drives.
func (d *Dialer) Supplier() pipeline.ChannelSupplier {
	return func(ctx context.Context) (pipeline.Channel, error) {
		d.mu.Lock()
		d.attempts++
		attempt := d.attempts
		d.mu.Unlock()

		if d.Gate != nil {
			select {
			case <-d.Gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if d.Delay > 0 {
			select {
			case <-time.After(d.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if attempt <= d.FailuresBeforeSuccess {
			if d.DialErr != nil {
				return nil, d.DialErr
			}
			return nil, errors.New("memtransport: simulated dial failure")
		}
		return &Channel{CloseErr: d.CloseErr}, nil
	}
}

// Attempts reports how many times Supplier's returned func has been
// invoked so far.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// Initializer wires a CorrelationHandler to an always-responding
// in-memory Pipeline (spec §4.4 steps 1-4, collapsed since there is no
// real wire format to codec-decode here).
type Initializer struct {
	// Responder synthesizes the response payload for a request; nil
	// echoes the request's payload back.
	Responder func(req *reqres.Request) any
	Latency   time.Duration
}

func (ini *Initializer) Initialize(channel pipeline.Channel, correlation *pipeline.CorrelationHandler, opts pipeline.Options) (pipeline.Pipeline, error) {
	return &Pipeline{
		channel:     channel,
		correlation: correlation,
		responder:   ini.Responder,
		latency:     ini.Latency,
	}, nil
}

// Pipeline completes every write against the CorrelationHandler on its
// own goroutine, optionally after a simulated latency.
type Pipeline struct {
	channel     pipeline.Channel
	correlation *pipeline.CorrelationHandler
	responder   func(req *reqres.Request) any
	latency     time.Duration
	closeOnce   sync.Once
}

func (p *Pipeline) Write(req *reqres.Request) pipeline.WriteFuture {
	future := make(chan error, 1)
	go func() {
		if p.latency > 0 {
			time.Sleep(p.latency)
		}
		var result any = req.Payload
		if p.responder != nil {
			result = p.responder(req)
		}
		p.correlation.Complete(req.ID(), reqres.NewResponse(req.ID(), result, false))
		close(future)
	}()
	return future
}

func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.correlation.FailAll(reqres.ReasonChannelClosedWhileInFlight)
		err = p.channel.Close()
	})
	return err
}
