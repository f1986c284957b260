package endpoint

import (
	"errors"

	"github.com/arrowdb/conncore/internal/reqres"
)

// classifyOutcome maps a resolved Request's Outcome onto the breaker's
// success/failure vocabulary (spec §4.5 "Classification"). The second
// return reports whether the outcome should be recorded against the
// breaker at all: cancellations the caller or a retry policy initiated
// (not the transport) carry no signal about remote health.
func classifyOutcome(outcome reqres.Outcome) (failure bool, record bool) {
	var cancelled *reqres.CancelledError
	if errors.As(outcome.Err, &cancelled) {
		switch cancelled.Reason {
		case reqres.ReasonTimedOut, reqres.ReasonChannelClosedWhileInFlight:
			return true, true
		default:
			return false, false
		}
	}

	var transportErr *TransportError
	if errors.As(outcome.Err, &transportErr) {
		return true, true
	}

	if outcome.Err != nil {
		// An application-level error the remote returned is not a
		// transport-health signal (spec §4.5).
		return false, true
	}

	if outcome.Response != nil && outcome.Response.TransportFailure {
		return true, true
	}
	return false, true
}
