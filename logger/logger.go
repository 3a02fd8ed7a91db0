package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

const prefix = "[OQL]"

// LogLevel defines the severity of the log
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
)

// ParseLevel maps a configuration string to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info", "", "debug":
		return LogLevelInfo, nil
	}
	return LogLevelInfo, errors.Errorf("unknown log level %q", s)
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// LogFormat defines the output format of the log
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Logger is the interface for logging SQL and internal messages
type Logger interface {
	SetLevel(level LogLevel)
	SetFormat(format LogFormat)
	SetOutput(w io.Writer)
	WithFields(fields map[string]any) Logger
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	SQL(sql string, duration time.Duration, args ...any)
}

// Option configures a logger built by New.
type Option func(*stdLogger)

// WithLevel sets the initial level.
func WithLevel(level LogLevel) Option {
	return func(l *stdLogger) { l.level = level }
}

// WithFormat sets the initial format.
func WithFormat(format LogFormat) Option {
	return func(l *stdLogger) { l.format = format }
}

// WithOutput sets the initial writer.
func WithOutput(w io.Writer) Option {
	return func(l *stdLogger) { l.writer = w }
}

// WithColor forces SQL coloring on or off in text format. By default
// color follows the terminal detection of fatih/color.
func WithColor(on bool) Option {
	return func(l *stdLogger) { l.color = &on }
}

// stdLogger writes text lines itself and hands JSON records to slog.
type stdLogger struct {
	mu     *sync.Mutex // shared with clones, guards writer
	level  LogLevel
	format LogFormat
	writer io.Writer
	color  *bool
	fields map[string]any
}

// NewStdLogger creates a new standard logger
func NewStdLogger() Logger {
	return New()
}

// New creates a logger writing text to stdout at info level.
func New(opts ...Option) Logger {
	l := &stdLogger{
		mu:     &sync.Mutex{},
		level:  LogLevelInfo,
		format: LogFormatText,
		writer: os.Stdout,
		fields: make(map[string]any),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discard returns a logger that never writes.
func Discard() Logger {
	return New(WithLevel(LogLevelSilent), WithOutput(io.Discard))
}

func (l *stdLogger) SetLevel(level LogLevel) { l.level = level }

func (l *stdLogger) SetFormat(format LogFormat) { l.format = format }

func (l *stdLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.writer = w
	l.mu.Unlock()
}

func (l *stdLogger) WithFields(fields map[string]any) Logger {
	nl := *l
	nl.fields = make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		nl.fields[k] = v
	}
	for k, v := range fields {
		nl.fields[k] = v
	}
	return &nl
}

func (l *stdLogger) Info(format string, args ...any) {
	if l.level >= LogLevelInfo {
		l.log(LogLevelInfo, "INFO", fmt.Sprintf(format, args...))
	}
}

func (l *stdLogger) Warn(format string, args ...any) {
	if l.level >= LogLevelWarn {
		l.log(LogLevelWarn, "WARN", fmt.Sprintf(format, args...))
	}
}

func (l *stdLogger) Error(format string, args ...any) {
	if l.level >= LogLevelError {
		l.log(LogLevelError, "ERROR", fmt.Sprintf(format, args...))
	}
}

func (l *stdLogger) SQL(sql string, duration time.Duration, args ...any) {
	if l.level < LogLevelInfo {
		return
	}
	if l.format == LogFormatJSON {
		l.json(LogLevelInfo, "sql", "sql", sql, "duration", duration.String(), "args", args)
		return
	}
	l.log(LogLevelInfo, "SQL", fmt.Sprintf("[%v] %s | args: %v", duration, l.paint(sql), args))
}

func (l *stdLogger) log(level LogLevel, name, msg string) {
	if l.format == LogFormatJSON {
		l.json(level, msg)
		return
	}
	var fieldStr string
	if len(l.fields) > 0 {
		keys := l.keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, l.fields[k])
		}
		fieldStr = " " + strings.Join(parts, " ")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "%s %s %s: %s%s\n", prefix, time.Now().Format("2006-01-02 15:04:05"), name, msg, fieldStr)
}

func (l *stdLogger) json(level LogLevel, msg string, attrs ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := slog.NewJSONHandler(l.writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	lg := slog.New(h)
	if len(l.fields) > 0 {
		kv := make([]any, 0, len(l.fields)*2)
		for _, k := range l.keys() {
			kv = append(kv, k, l.fields[k])
		}
		lg = lg.With(kv...)
	}
	lg.Log(context.Background(), level.slog(), msg, attrs...)
}

func (l *stdLogger) keys() []string {
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// paint colors a statement by its verb.
func (l *stdLogger) paint(sql string) string {
	c := color.New(sqlColor(sql))
	if l.color != nil {
		if *l.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return c.Sprint(sql)
}

func sqlColor(sqlStr string) color.Attribute {
	s := strings.TrimSpace(strings.ToUpper(sqlStr))
	switch {
	case strings.HasPrefix(s, "SELECT"):
		return color.FgYellow
	case strings.HasPrefix(s, "INSERT"), strings.HasPrefix(s, "UPDATE"):
		return color.FgGreen
	case strings.HasPrefix(s, "DELETE"):
		return color.FgRed
	default:
		return color.FgCyan
	}
}
