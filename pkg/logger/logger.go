// Package logger is the request logger of the HTTP interface: leveled,
// typed fields, one JSON object or one key=value line per entry, carried
// through the request context. Background processes use log/slog.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel accepts LOG_LEVEL values case-insensitively; anything
// unrecognised means info.
func ParseLevel(s string) Level {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return LevelWarn
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// Field is one structured key/value.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field  { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Any(key string, value any) Field { return Field{key, value} }

func Duration(key string, d time.Duration) Field { return Field{key, d.String()} }

// Err stores the message, not the error value, so JSON output stays readable.
func Err(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// Поля, которые встречаются в логах геймификации.
func UserID(id string) Field        { return String("user_id", id) }
func HabitID(id string) Field       { return String("habit_id", id) }
func TransactionID(id string) Field { return String("transaction_id", id) }
func Source(source string) Field    { return String("source", source) }
func XPAmount(xp int) Field         { return Int("xp_amount", xp) }
func UserLevel(level int) Field     { return Int("level", level) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// RequestIDKey is the field set by WithRequestID.
const RequestIDKey = "request_id"

// LogEntry is the JSON shape of one line.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type Options struct {
	Output    io.Writer
	Level     Level
	Format    Format
	AddCaller bool
}

// sink is shared by a logger and everything derived from it with With.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	encode func(io.Writer, LogEntry)
}

// Logger is immutable; With returns a child that shares the output.
type Logger struct {
	sink   *sink
	level  Level
	caller bool
	fields []Field
}

func New(opts Options) *Logger {
	s := &sink{out: opts.Output, encode: encodeJSON}
	if s.out == nil {
		s.out = os.Stdout
	}
	if opts.Format == FormatText {
		s.encode = encodeText
	}
	return &Logger{sink: s, level: opts.Level, caller: opts.AddCaller}
}

// Default writes JSON at info level to stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo, Format: FormatJSON, AddCaller: true})
}

// NewFromConfig takes LOG_LEVEL and LOG_FORMAT as configured.
func NewFromConfig(level, format string) *Logger {
	opts := Options{Level: ParseLevel(level), Format: FormatJSON, AddCaller: true}
	if strings.EqualFold(format, string(FormatText)) {
		opts.Format = FormatText
	}
	return New(opts)
}

func Discard() *Logger {
	return New(Options{Output: io.Discard})
}

func (l *Logger) With(fields ...Field) *Logger {
	child := *l
	child.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return &child
}

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

func (l *Logger) write(level Level, msg string, extra []Field) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
	}
	if l.caller {
		// 0 = write, 1 = Info/Warn/..., 2 = call site
		if _, file, line, ok := runtime.Caller(2); ok {
			entry.Caller = fmt.Sprintf("%s:%d", file[strings.LastIndexByte(file, '/')+1:], line)
		}
	}
	if n := len(l.fields) + len(extra); n > 0 {
		entry.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			entry.Fields[f.Key] = f.Value
		}
		for _, f := range extra {
			entry.Fields[f.Key] = f.Value
		}
	}

	l.sink.mu.Lock()
	l.sink.encode(l.sink.out, entry)
	l.sink.mu.Unlock()
}

func encodeJSON(w io.Writer, e LogEntry) {
	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(w, "%s [%s] %s (fields dropped: %v)\n", e.Timestamp, e.Level, e.Message, err)
		return
	}
	_, _ = w.Write(append(data, '\n'))
}

// encodeText prints fields sorted by key so lines diff cleanly.
func encodeText(w io.Writer, e LogEntry) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", e.Timestamp, e.Level, e.Message)
	if e.Caller != "" {
		b.WriteString(" caller=" + e.Caller)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(w, b.String())
}

type ctxKey struct{}

func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext falls back to Default when no logger was attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
