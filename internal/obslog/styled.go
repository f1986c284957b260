package obslog

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/arrowdb/conncore/internal/ctxmeta"
	"github.com/arrowdb/conncore/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting for the
// endpoint-identity and circuit-breaker vocabulary this domain emits.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme.
func NewStyledLogger(logger *slog.Logger, t *theme.Theme) *StyledLogger {
	return &StyledLogger{logger: logger, theme: t}
}

// NewWithTheme builds both a regular logger and a styled logger from cfg.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	return logger, NewStyledLogger(logger, appTheme), cleanup, nil
}

func (sl *StyledLogger) Debug(msg string, args ...any) { sl.logger.Debug(msg, args...) }
func (sl *StyledLogger) Info(msg string, args ...any)  { sl.logger.Info(msg, args...) }
func (sl *StyledLogger) Warn(msg string, args ...any)  { sl.logger.Warn(msg, args...) }
func (sl *StyledLogger) Error(msg string, args ...any) { sl.logger.Error(msg, args...) }

// InfoWithEndpoint styles the endpoint's (host:port) identity inline.
func (sl *StyledLogger) InfoWithEndpoint(msg string, id ctxmeta.EndpointIdentity, args ...any) {
	styled := fmt.Sprintf("%s %s", msg, pterm.Style{*sl.theme.Highlight}.Sprint(endpointLabel(id)))
	sl.logger.Info(styled, args...)
}

// WarnWithEndpoint is InfoWithEndpoint at warn level.
func (sl *StyledLogger) WarnWithEndpoint(msg string, id ctxmeta.EndpointIdentity, args ...any) {
	styled := fmt.Sprintf("%s %s", msg, pterm.Style{*sl.theme.Highlight}.Sprint(endpointLabel(id)))
	sl.logger.Warn(styled, args...)
}

// ErrorWithEndpoint is InfoWithEndpoint at error level.
func (sl *StyledLogger) ErrorWithEndpoint(msg string, id ctxmeta.EndpointIdentity, args ...any) {
	styled := fmt.Sprintf("%s %s", msg, pterm.Style{*sl.theme.Highlight}.Sprint(endpointLabel(id)))
	sl.logger.Error(styled, args...)
}

// InfoTransition styles a Phase/circuit-state transition as "from -> to".
func (sl *StyledLogger) InfoTransition(msg string, id ctxmeta.EndpointIdentity, from, to string, args ...any) {
	arrow := fmt.Sprintf("%s %s %s",
		pterm.Style{*sl.theme.Muted}.Sprint(from),
		"->",
		pterm.Style{*sl.theme.Success}.Sprint(to))
	styled := fmt.Sprintf("%s %s %s", msg, pterm.Style{*sl.theme.Highlight}.Sprint(endpointLabel(id)), arrow)
	sl.logger.Info(styled, args...)
}

// WarnCircuitOpen flags an endpoint whose breaker just tripped.
func (sl *StyledLogger) WarnCircuitOpen(msg string, id ctxmeta.EndpointIdentity, args ...any) {
	styled := fmt.Sprintf("%s %s", msg, pterm.Style{*sl.theme.Accent}.Sprint(endpointLabel(id)))
	sl.logger.Warn(styled, args...)
}

func endpointLabel(id ctxmeta.EndpointIdentity) string {
	return fmt.Sprintf("%s[%s:%d]#%d", id.ServiceType, id.RemoteHost, id.RemotePort, id.EndpointID)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct
// access is needed.
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes.
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &StyledLogger{logger: sl.logger.With(args...), theme: sl.theme}
}

// With creates a new StyledLogger with additional key-value pairs.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{logger: sl.logger.With(args...), theme: sl.theme}
}
