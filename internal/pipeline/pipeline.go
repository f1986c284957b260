// Package pipeline declares the transport-side handler chain contract an
// endpoint installs onto a live channel (spec §4.4). Everything here is
// an interface or a small concrete helper (CorrelationHandler); the
// concrete codec/auth/wire-format implementations are per-protocol
// collaborators that live outside this module (spec §1 scope).
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/arrowdb/conncore/internal/reqres"
)

// Channel is the physical, ordered byte-stream connection an Initializer
// installs handlers onto. The core never reads or writes bytes itself —
// that is the codec's job — but it owns the Channel's lifetime.
type Channel interface {
	io.Closer
}

// ChannelSupplier dials a fresh Channel. It is supplied to the endpoint
// factory and invoked once per connect attempt; a supplier that never
// returns within the caller's context deadline is treated as an attempt
// failure (spec §4.6), not a fatal error.
type ChannelSupplier func(ctx context.Context) (Channel, error)

// ConnectStep runs once per physical connect, after the Channel is
// acquired and before the endpoint considers itself Connected. This is
// where SASL/auth handshakes live (spec §1 — modeled as a pluggable
// step, not part of the core).
type ConnectStep func(ctx context.Context, channel Channel) error

// WriteFuture is signaled (closed) once the bytes for a write have been
// handed to the OS; a non-nil value on the channel is the write error, a
// nil value (or a closed channel with nothing sent) means success.
type WriteFuture <-chan error

// Pipeline is the contract an endpoint's driver dispatches through (spec
// §4.4 "Contract to the endpoint"). Write never blocks the caller; Close
// drains outstanding writes, fails any still-pending correlated requests
// with ChannelClosedWhileInFlight, then closes the transport.
type Pipeline interface {
	Write(req *reqres.Request) WriteFuture
	Close() error
}

// Initializer installs, in order, the idle-connection watchdog, the
// protocol codec, the correlation handler and the flush controller onto
// a freshly connected Channel, and returns the resulting Pipeline (spec
// §4.4 steps 1-4).
type Initializer interface {
	Initialize(channel Channel, correlation *CorrelationHandler, opts Options) (Pipeline, error)
}

// Options configures the stages an Initializer installs.
type Options struct {
	// IdleTimeout fires the idle-connection watchdog when no activity is
	// observed for this long (spec §4.4 step 1, config table
	// idle_http_timeout).
	IdleTimeout time.Duration
	// LowLatency forces the flush controller to flush before yielding
	// back to the endpoint's dispatch loop, rather than coalescing
	// writes into a batch (spec §4.4 step 4).
	LowLatency bool
}
