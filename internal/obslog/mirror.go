package obslog

import (
	"context"

	"github.com/arrowdb/conncore/internal/coreevents"
	"github.com/arrowdb/conncore/pkg/eventbus"
)

// Mirror subscribes to an endpoint event bus and logs every event through
// a StyledLogger (spec §4.1 observability surface). Circuit transitions,
// connect/disconnect lifecycle events and recovered panics go through the
// endpoint-styled methods at a fixed level per category (connected and
// disconnected at info, connection and disconnection failures at warn);
// every other event is logged at the slog level matching its Severity.
type Mirror struct {
	logger *StyledLogger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMirror starts a subscription against bus and returns a Mirror that
// logs every event until Stop is called.
func NewMirror(bus *eventbus.EventBus[coreevents.Event], logger *StyledLogger) *Mirror {
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx)

	m := &Mirror{logger: logger, cancel: cancel, done: make(chan struct{})}
	go m.run(ch)
	return m
}

func (m *Mirror) run(ch <-chan coreevents.Event) {
	defer close(m.done)
	for ev := range ch {
		m.log(ev)
	}
}

func (m *Mirror) log(ev coreevents.Event) {
	args := make([]any, 0, 12)
	for _, kv := range ev.Context.ExportAsMap() {
		args = append(args, kv.Key, kv.Value)
	}
	if ev.RequestID != "" {
		args = append(args, "request_id", ev.RequestID)
	}
	if ev.HasDuration {
		args = append(args, "duration", ev.Duration)
	}
	if ev.Cause != nil {
		args = append(args, "cause", ev.Cause)
	}
	if ev.Dropped > 0 {
		args = append(args, "dropped", ev.Dropped)
	}
	args = append(args, "category", string(ev.Category))

	id := ev.Context.Endpoint

	switch ev.Category {
	case coreevents.CategoryCircuitOpened:
		m.logger.WarnCircuitOpen(ev.Description, id, args...)
	case coreevents.CategoryCircuitHalfOpened, coreevents.CategoryCircuitClosed:
		m.logger.InfoWithEndpoint(ev.Description, id, args...)
	case coreevents.CategoryEndpointConnected, coreevents.CategoryEndpointDisconnected:
		m.logger.InfoWithEndpoint(ev.Description, id, args...)
	case coreevents.CategoryEndpointConnectionFailed, coreevents.CategoryEndpointDisconnectionFailed:
		m.logger.WarnWithEndpoint(ev.Description, id, args...)
	case coreevents.CategoryEndpointPanicRecovered:
		m.logger.ErrorWithEndpoint(ev.Description, id, args...)
	default:
		m.logBySeverity(ev, args)
	}
}

func (m *Mirror) logBySeverity(ev coreevents.Event, args []any) {
	switch ev.Severity {
	case coreevents.SeverityDebug:
		m.logger.Debug(ev.Description, args...)
	case coreevents.SeverityWarn:
		m.logger.Warn(ev.Description, args...)
	case coreevents.SeverityError:
		m.logger.Error(ev.Description, args...)
	default:
		m.logger.Info(ev.Description, args...)
	}
}

// Stop unsubscribes from the bus and waits for the drain loop to exit.
func (m *Mirror) Stop() {
	m.cancel()
	<-m.done
}
