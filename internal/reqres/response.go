package reqres

import "time"

// Response is opaque to the core (spec §3): it carries the correlation id
// linking it back to its Request and whatever the pipeline's codec
// decoded, which the core never interprets.
type Response struct {
	CorrelationID string
	Payload       any
	ReceivedAt    time.Time

	// TransportFailure marks responses the codec classified as a
	// retryable server-side failure (spec §4.5 "Failure" classification).
	// The breaker reads only this flag; it never inspects Payload.
	TransportFailure bool
}

func NewResponse(correlationID string, payload any, transportFailure bool) *Response {
	return &Response{
		CorrelationID:    correlationID,
		Payload:          payload,
		ReceivedAt:       time.Now(),
		TransportFailure: transportFailure,
	}
}
