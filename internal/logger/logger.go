package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents log severity
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a LOG_LEVEL value to a Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Config for creating a new logger
type Config struct {
	Output   io.Writer
	MinLevel Level
	UseColor bool
	// JSON writes one JSON object per line instead of the console format.
	JSON bool
}

// Logger is a component-scoped view over the shared zerolog backend.
// Loggers created before Init follow the backend installed later.
type Logger struct {
	component string
	fields    map[string]interface{}
}

var (
	mu   sync.RWMutex
	base *zerolog.Logger
)

// Init installs the shared backend. Calling it again replaces the backend.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	out := cfg.Output
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			NoColor:    !cfg.UseColor,
			TimeFormat: "2006-01-02 15:04:05.000",
		}
	}

	zl := zerolog.New(out).Level(cfg.MinLevel.zerolog()).With().Timestamp().Logger()

	mu.Lock()
	base = &zl
	mu.Unlock()

	// Redirect standard log to our logger
	log.SetOutput(&logAdapter{})
	log.SetFlags(0)
}

func backend() *zerolog.Logger {
	mu.RLock()
	zl := base
	mu.RUnlock()
	if zl != nil {
		return zl
	}
	Init(Config{Output: os.Stdout, MinLevel: INFO, UseColor: true})
	return backend()
}

// logAdapter adapts standard log to our logger
type logAdapter struct{}

func (a *logAdapter) Write(p []byte) (n int, err error) {
	Default().Info("%s", strings.TrimSpace(string(p)))
	return len(p), nil
}

// Default returns a logger without a component.
func Default() *Logger {
	return &Logger{fields: map[string]interface{}{}}
}

// WithComponent creates a logger with a component name
func WithComponent(component string) *Logger {
	return &Logger{component: component, fields: map[string]interface{}{}}
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{component: l.component, fields: newFields}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	ev := backend().WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	if l.component != "" {
		ev = ev.Str("component", l.component)
	}
	if len(l.fields) > 0 {
		ev = ev.Fields(l.fields)
	}
	if len(args) > 0 {
		ev.Msgf(msg, args...)
		return
	}
	ev.Msg(msg)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return backend().GetLevel() <= level.zerolog()
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}
