// Package logging provides the process-wide logger for voicerelay.
// Dot-import it to call L_info, L_error, etc. directly:
//
//	L_info("stt: model ready", "dir", dir)
//
// Arguments after the message are key/value pairs.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// TraceLevel sits below debug and is only shown when explicitly enabled.
const TraceLevel = log.DebugLevel - 4

var (
	current      atomic.Pointer[log.Logger]
	defaultOnce  sync.Once
	shuttingDown atomic.Bool
)

// Config holds logging configuration
type Config struct {
	Level      log.Level
	TimeFormat string
	ShowCaller bool
	JSON       bool      // JSON lines instead of styled text
	Output     io.Writer // Defaults to stderr
}

// ConfigFor maps the DEBUG flag and LOG_FORMAT to a Config.
func ConfigFor(debug bool, format string) *Config {
	cfg := &Config{
		Level:      log.InfoLevel,
		TimeFormat: "15:04:05",
	}
	if debug {
		cfg.Level = log.DebugLevel
		cfg.ShowCaller = true
	}
	if strings.EqualFold(format, "json") {
		cfg.JSON = true
		cfg.TimeFormat = time.RFC3339
	}
	return cfg
}

// Init installs a logger built from cfg, replacing any previous one.
func Init(cfg *Config) {
	if cfg == nil {
		cfg = ConfigFor(false, "text")
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := log.Options{
		Level:           cfg.Level,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.ShowCaller,
		CallerOffset:    2, // emit -> L_* -> caller
	}
	if cfg.JSON {
		opts.Formatter = log.JSONFormatter
	}
	current.Store(log.NewWithOptions(out, opts))
}

func get() *log.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	defaultOnce.Do(func() {
		if current.Load() == nil {
			Init(nil)
		}
	})
	return current.Load()
}

func emit(level log.Level, msg string, keyvals []interface{}) {
	get().Log(level, msg, keyvals...)
}

// L_trace logs very chatty diagnostics (per-request, per-packet).
func L_trace(msg string, keyvals ...interface{}) { emit(TraceLevel, msg, keyvals) }

// L_debug logs at debug level
func L_debug(msg string, keyvals ...interface{}) { emit(log.DebugLevel, msg, keyvals) }

// L_info logs at info level
func L_info(msg string, keyvals ...interface{}) { emit(log.InfoLevel, msg, keyvals) }

// L_warn logs at warn level
func L_warn(msg string, keyvals ...interface{}) { emit(log.WarnLevel, msg, keyvals) }

// L_error logs at error level
func L_error(msg string, keyvals ...interface{}) { emit(log.ErrorLevel, msg, keyvals) }

// L_fatal logs at fatal level and exits
func L_fatal(msg string, keyvals ...interface{}) {
	emit(log.FatalLevel, msg, keyvals)
	os.Exit(1)
}

// L_elapsed logs at info level with the time since start appended.
func L_elapsed(start time.Time, msg string, keyvals ...interface{}) {
	keyvals = append(keyvals, "elapsed", time.Since(start).Round(time.Millisecond).String())
	emit(log.InfoLevel, msg, keyvals)
}

// SetLevel changes the log level at runtime
func SetLevel(level log.Level) {
	get().SetLevel(level)
}

// SetShuttingDown marks the process as draining.
func SetShuttingDown() {
	shuttingDown.Store(true)
}

// IsShuttingDown reports whether SetShuttingDown was called.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
