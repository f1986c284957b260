package endpoint

import (
	"time"

	"github.com/arrowdb/conncore/internal/breaker"
	"github.com/arrowdb/conncore/internal/epconfig"
)

// BackoffConfig parameterizes the exponential-full-jitter reconnect delay
// (spec §4.6): delay(n) = U[0, min(cap, base*2^(n-1))).
type BackoffConfig struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// DefaultBackoffConfig matches spec §4.6's named constants.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:   32 * time.Millisecond,
		Factor: 2,
		Cap:    4096 * time.Millisecond,
	}
}

// Config bundles every tunable an Endpoint consults (spec §6 config
// table). Field names mirror the table's keys, adapted to Go casing.
type Config struct {
	ConnectTimeout    time.Duration
	IdleTimeout       time.Duration
	DisconnectTimeout time.Duration
	LowLatency        bool
	MaxOutstanding    int
	Backoff           BackoffConfig
	Breaker           breaker.Config
}

// DefaultConfig matches spec §6's defaults: connect_timeout 2500ms,
// idle_http_timeout 4500ms, disconnect_timeout (kv_endpoint_timeout
// family) 10s, and the breaker package's own DefaultConfig.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    2500 * time.Millisecond,
		IdleTimeout:       4500 * time.Millisecond,
		DisconnectTimeout: 10 * time.Second,
		MaxOutstanding:    128,
		Backoff:           DefaultBackoffConfig(),
		Breaker:           breaker.DefaultConfig(),
	}
}

// Validate reports the first out-of-range field it finds, as a
// *ConfigValidationError, or nil if cfg is sound. Called before a
// reload is applied (Endpoint.UpdateConfig) so a malformed file never
// reaches the driver goroutine.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return &ConfigValidationError{Field: "ConnectTimeout", Value: c.ConnectTimeout, Reason: "must be positive"}
	}
	if c.DisconnectTimeout <= 0 {
		return &ConfigValidationError{Field: "DisconnectTimeout", Value: c.DisconnectTimeout, Reason: "must be positive"}
	}
	if c.MaxOutstanding <= 0 {
		return &ConfigValidationError{Field: "MaxOutstanding", Value: c.MaxOutstanding, Reason: "must be positive"}
	}
	if c.Backoff.Base <= 0 {
		return &ConfigValidationError{Field: "Backoff.Base", Value: c.Backoff.Base, Reason: "must be positive"}
	}
	if c.Backoff.Cap < c.Backoff.Base {
		return &ConfigValidationError{Field: "Backoff.Cap", Value: c.Backoff.Cap, Reason: "must be >= Backoff.Base"}
	}
	if c.Breaker.Enabled {
		if c.Breaker.ErrorThresholdPercent < 0 || c.Breaker.ErrorThresholdPercent > 100 {
			return &ConfigValidationError{Field: "Breaker.ErrorThresholdPercent", Value: c.Breaker.ErrorThresholdPercent, Reason: "must be within [0, 100]"}
		}
		if c.Breaker.VolumeThreshold < 0 {
			return &ConfigValidationError{Field: "Breaker.VolumeThreshold", Value: c.Breaker.VolumeThreshold, Reason: "must be non-negative"}
		}
		if c.Breaker.HalfOpenProbeLimit < 1 {
			return &ConfigValidationError{Field: "Breaker.HalfOpenProbeLimit", Value: c.Breaker.HalfOpenProbeLimit, Reason: "must be at least 1"}
		}
	}
	return nil
}

// ConfigFromEpconfig adapts the live-reloadable epconfig.EndpointConfig
// onto an endpoint's own Config, leaving Backoff at its constant
// defaults since spec §4.6 does not expose jitter tuning as config.
func ConfigFromEpconfig(c epconfig.EndpointConfig) Config {
	return Config{
		ConnectTimeout:    c.ConnectTimeout,
		IdleTimeout:       c.IdleHTTPTimeout,
		DisconnectTimeout: c.DisconnectTimeout,
		LowLatency:        c.LowLatency,
		MaxOutstanding:    c.MaxOutstanding,
		Backoff:           DefaultBackoffConfig(),
		Breaker: breaker.Config{
			Enabled:               c.KVCircuitBreaker.Enabled,
			ErrorThresholdPercent: c.KVCircuitBreaker.ErrorThresholdPercent,
			VolumeThreshold:       c.KVCircuitBreaker.VolumeThreshold,
			SleepWindow:           c.KVCircuitBreaker.SleepWindow,
			RollingWindow:         c.KVCircuitBreaker.RollingWindow,
			HalfOpenProbeLimit:    c.KVCircuitBreaker.HalfOpenProbeLimit,
		},
	}
}
