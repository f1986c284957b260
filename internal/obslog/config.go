// Package obslog is the structured-logging half of the AMBIENT STACK
// (SPEC_FULL.md): slog handlers for pretty terminal output (pterm) and
// JSON (stdout or a lumberjack-rotated file), plus a StyledLogger and an
// event-bus mirror that logs every coreevents.Event an endpoint emits.
// Adapted from the teacher's internal/logger package.
package obslog

// Config controls handler selection and file rotation.
type Config struct {
	Level      string
	LogDir     string
	Theme      string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	FileOutput bool
	PrettyLogs bool
}

const (
	DefaultLogOutputName = "conncore.log"

	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Default returns sensible defaults: pretty terminal output, no file
// rotation, info level.
func Default() *Config {
	return &Config{
		Level:      LevelInfo,
		LogDir:     "./logs",
		Theme:      "default",
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     14,
		FileOutput: false,
		PrettyLogs: true,
	}
}
