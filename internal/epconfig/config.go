// Package epconfig is the live-reloadable configuration layer (AMBIENT
// STACK, SPEC_FULL.md): viper for layered file/env/default resolution,
// fsnotify (via viper.WatchConfig) for hot reload, adapted from the
// teacher's internal/config package onto the endpoint's own schema.
package epconfig

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	envPrefix = "CONNCORE"

	// fileWriteDelay gives the filesystem a moment to finish a write
	// before we re-read it; some platforms fire the fsnotify event
	// slightly before the write is flushed.
	fileWriteDelay = 150 * time.Millisecond
	// debounceWindow collapses a burst of fsnotify events (editors often
	// write a file more than once per save) into a single reload.
	debounceWindow = 500 * time.Millisecond
)

// Default matches spec §6's defaults.
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			ConnectTimeout:    2500 * time.Millisecond,
			IdleHTTPTimeout:   4500 * time.Millisecond,
			DisconnectTimeout: 10 * time.Second,
			MaxOutstanding:    128,
			KVCircuitBreaker: CircuitBreakerConfig{
				Enabled:               true,
				ErrorThresholdPercent: 50,
				VolumeThreshold:       20,
				SleepWindow:           10 * time.Second,
				RollingWindow:         10 * time.Second,
				HalfOpenProbeLimit:    1,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

type watcher struct {
	mu         sync.Mutex
	lastReload time.Time
}

// Load resolves Config from (in ascending priority) defaults, an
// optional config file, and CONNCORE_-prefixed environment variables,
// then watches the file for changes. If onReload is non-nil it is
// invoked, debounced, with the freshly reloaded Config every time the
// file changes — callers wire this to publish EndpointConfigReloaded
// (spec §6 SPEC_FULL supplement).
func Load(onReload func(*Config)) (*Config, error) {
	cfg := Default()

	viper.SetConfigName("conncore")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("epconfig: reading config file: %w", err)
		}
		if configFile := os.Getenv("CONNCORE_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("epconfig: reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("epconfig: decoding config: %w", err)
	}

	w := &watcher{}
	viper.WatchConfig()
	if onReload != nil {
		viper.OnConfigChange(func(fsnotify.Event) {
			w.mu.Lock()
			defer w.mu.Unlock()

			now := time.Now()
			if now.Sub(w.lastReload) < debounceWindow {
				return
			}
			w.lastReload = now

			time.Sleep(fileWriteDelay)
			reloaded := Default()
			if err := viper.Unmarshal(reloaded); err != nil {
				return
			}
			onReload(reloaded)
		})
	}

	return cfg, nil
}
