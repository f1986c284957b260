package epconfig

import "time"

// Config is the live-reloadable configuration surface spec §6 names.
// Field names track the config table's keys, translated to Go casing.
type Config struct {
	Endpoint EndpointConfig `yaml:"endpoint"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// EndpointConfig holds the per-endpoint tunables (spec §6): connect and
// disconnect deadlines, the idle watchdog, dispatch backpressure, and the
// nested circuit breaker family.
type EndpointConfig struct {
	ConnectTimeout    time.Duration       `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	IdleHTTPTimeout   time.Duration       `yaml:"idle_http_timeout" mapstructure:"idle_http_timeout"`
	DisconnectTimeout time.Duration       `yaml:"disconnect_timeout" mapstructure:"disconnect_timeout"`
	LowLatency        bool                `yaml:"low_latency" mapstructure:"low_latency"`
	MaxOutstanding    int                 `yaml:"max_outstanding" mapstructure:"max_outstanding"`
	KVCircuitBreaker  CircuitBreakerConfig `yaml:"kv_circuit_breaker" mapstructure:"kv_circuit_breaker"`
}

// CircuitBreakerConfig mirrors internal/breaker.Config's fields, named
// per spec §6's kv_circuit_breaker.* family so viper/yaml keys read the
// same as the spec's config table.
type CircuitBreakerConfig struct {
	Enabled               bool          `yaml:"enabled"`
	ErrorThresholdPercent int           `yaml:"error_threshold_percent" mapstructure:"error_threshold_percent"`
	VolumeThreshold       int           `yaml:"volume_threshold" mapstructure:"volume_threshold"`
	SleepWindow           time.Duration `yaml:"sleep_window" mapstructure:"sleep_window"`
	RollingWindow         time.Duration `yaml:"rolling_window" mapstructure:"rolling_window"`
	HalfOpenProbeLimit    int           `yaml:"half_open_probe_limit" mapstructure:"half_open_probe_limit"`
}

// LoggingConfig configures internal/obslog (AMBIENT STACK, SPEC_FULL.md).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	Dir    string `yaml:"dir"`
}
