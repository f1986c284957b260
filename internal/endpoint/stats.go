package endpoint

import (
	"sync/atomic"
	"time"
)

// statCounters are the raw atomics backing Stats(); updated from
// whichever goroutine observes a request's terminal outcome (spec §6
// SPEC_FULL per-endpoint metrics snapshot, grounded on the teacher's
// proxyStats counters).
type statCounters struct {
	dispatched      atomic.Int64
	succeeded       atomic.Int64
	failed          atomic.Int64
	cancelled       atomic.Int64
	totalLatencyNs  atomic.Int64
	reconnectCount  atomic.Int64
}

// Stats is a point-in-time snapshot of an endpoint's dispatch history.
type Stats struct {
	Dispatched      int64
	Succeeded       int64
	Failed          int64
	Cancelled       int64
	AverageLatency  time.Duration
	ReconnectCount  int64
	OutstandingCount int
}

func (s *statCounters) snapshot(outstanding int) Stats {
	dispatched := s.dispatched.Load()
	succeeded := s.succeeded.Load()
	var avg time.Duration
	if dispatched > 0 {
		avg = time.Duration(s.totalLatencyNs.Load() / dispatched)
	}
	return Stats{
		Dispatched:       dispatched,
		Succeeded:        succeeded,
		Failed:           s.failed.Load(),
		Cancelled:        s.cancelled.Load(),
		AverageLatency:   avg,
		ReconnectCount:   s.reconnectCount.Load(),
		OutstandingCount: outstanding,
	}
}

// AttemptOutcome is one entry of the reconnect-attempt history ring
// (spec §6 SPEC_FULL supplement, grounded on the teacher's
// StatusTransitionTracker).
type AttemptOutcome struct {
	At       time.Time
	Attempt  int
	Duration time.Duration
	Err      error
}

const recentAttemptsCapacity = 16

// attemptRing is a small fixed-capacity ring buffer; only ever touched
// from the driver goroutine, so it needs no locking of its own.
type attemptRing struct {
	entries [recentAttemptsCapacity]AttemptOutcome
	next    int
	count   int
}

func (r *attemptRing) push(o AttemptOutcome) {
	r.entries[r.next] = o
	r.next = (r.next + 1) % recentAttemptsCapacity
	if r.count < recentAttemptsCapacity {
		r.count++
	}
}

// snapshot returns entries oldest-first.
func (r *attemptRing) snapshot() []AttemptOutcome {
	out := make([]AttemptOutcome, r.count)
	start := (r.next - r.count + recentAttemptsCapacity) % recentAttemptsCapacity
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(start+i)%recentAttemptsCapacity]
	}
	return out
}
