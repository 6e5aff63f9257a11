// Package logger provides structured logging with custom levels and formatting
// for the Oracle service.
//
// Log output format:
//
//	[2006-01-02T15:04:05.000Z] [LEVEL] message
//	{
//	  "key": "value"
//	}
//
// The JSON detail block is written only when the record carries attributes.
// Records are appended to a log file and mirrored to the console, where
// WARN and above go to stderr and everything else to stdout.
//
// Custom levels beyond the standard slog set:
//   - LevelTrace (-8): verbose diagnostic tracing
//   - LevelFail  (12): unrecoverable errors
package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Custom Levels
// ///////////////////////////////////////////////

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug // -4
	LevelInfo  slog.Level = slog.LevelInfo  // 0
	LevelWarn  slog.Level = slog.LevelWarn  // 4
	LevelError slog.Level = slog.LevelError // 8
	LevelFail  slog.Level = 12
)

// levelName returns the display name for a log level.
func levelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARN"
	case l <= LevelError:
		return "ERROR"
	default:
		return "FAIL"
	}
}

// ParseLevel converts a level string to slog.Level.
// Supports: trace, debug, info, warn, error, fail (case-insensitive).
// Returns LevelInfo for unrecognized strings.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fail":
		return LevelFail
	default:
		return LevelInfo
	}
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

// lineEnding is CRLF on Windows, LF elsewhere.
var lineEnding = "\n"

func init() {
	if runtime.GOOS == "windows" {
		lineEnding = "\r\n"
	}
}

// Sinks are the destinations of a [Handler]. Any of them may be nil.
type Sinks struct {
	// File receives every record.
	File io.Writer
	// Stdout receives console records below WARN.
	Stdout io.Writer
	// Stderr receives console records at WARN and above.
	Stderr io.Writer
	// Failures receives a report when a write to File fails.
	Failures io.Writer
}

// Handler is a custom slog.Handler that formats log records as a bracketed
// header line followed by an optional pretty-printed JSON detail block.
type Handler struct {
	// sinks are the output destinations.
	sinks Sinks
	// mu serializes writes so concurrent log calls do not interleave.
	mu *sync.Mutex
	// level is the minimum severity that this handler will emit.
	level slog.Leveler
	// attrs holds pre-applied attributes added via [Handler.WithAttrs].
	attrs []slog.Attr
	// group is the dot-separated attribute key prefix set via [Handler.WithGroup].
	group string
}

// NewHandler creates a Handler writing to sinks, filtering records below level.
func NewHandler(sinks Sinks, level slog.Leveler) *Handler {
	return &Handler{sinks: sinks, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes a log record. A failed file write is reported on
// the Failures sink and never returned to the caller.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString("[")
	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	buf.WriteString("] [")
	buf.WriteString(levelName(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)
	buf.WriteString(lineEnding)

	allAttrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	allAttrs = append(allAttrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		allAttrs = append(allAttrs, a)
		return true
	})
	if len(allAttrs) > 0 {
		buf.WriteString(formatDetail(allAttrs, h.group))
		buf.WriteString(lineEnding)
	}
	line := buf.String()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sinks.File != nil {
		if _, err := io.WriteString(h.sinks.File, line); err != nil && h.sinks.Failures != nil {
			fmt.Fprintf(h.sinks.Failures, "log write failed: %v%s", err, lineEnding)
		}
	}
	console := h.sinks.Stdout
	if r.Level >= LevelWarn {
		console = h.sinks.Stderr
	}
	if console != nil {
		_, _ = io.WriteString(console, line)
	}
	return nil
}

// WithAttrs returns a new Handler with the given attributes pre-applied.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &Handler{sinks: h.sinks, mu: h.mu, level: h.level, attrs: newAttrs, group: h.group}
}

// WithGroup returns a new Handler with the given group name.
// Attributes logged through the returned handler will have keys
// prefixed with the group name (e.g., "group.key").
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}
	return &Handler{sinks: h.sinks, mu: h.mu, level: h.level, attrs: h.attrs, group: newGroup}
}

// ///////////////////////////////////////////////
// Detail Formatting
// ///////////////////////////////////////////////

// formatDetail renders attrs as an indented JSON object, keeping attribute
// order. Values that cannot be encoded are replaced by an error string.
func formatDetail(attrs []slog.Attr, group string) string {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, a := range attrs {
		if i > 0 {
			buf.WriteString(",")
		}
		key := a.Key
		if group != "" {
			key = group + "." + key
		}
		k, _ := json.Marshal(key)
		buf.WriteString(lineEnding + "  ")
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(encodeValue(a.Value))
	}
	buf.WriteString(lineEnding + "}")
	return buf.String()
}

// encodeValue marshals a slog value as indented JSON nested one level deep.
func encodeValue(v slog.Value) []byte {
	data, err := json.MarshalIndent(plainValue(v), "  ", "  ")
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("[serialization error: %v]", err))
	}
	if lineEnding != "\n" {
		data = bytes.ReplaceAll(data, []byte("\n"), []byte(lineEnding))
	}
	return data
}

// plainValue converts a slog value into a JSON-encodable Go value.
func plainValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		m := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			m[a.Key] = plainValue(a.Value)
		}
		return m
	default:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		default:
			return x
		}
	}
}

// ///////////////////////////////////////////////
// Logger Constructor
// ///////////////////////////////////////////////

// NewLogger creates a slog.Logger that appends to the log file at logPath and,
// when console is true, mirrors records to stdout and stderr. The returned
// io.Closer must be closed to release the file.
func NewLogger(logPath string, level slog.Leveler, maxSizeMB int, console bool) (*slog.Logger, io.Closer, error) {
	lj := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   false,
	}

	sinks := Sinks{File: lj, Failures: os.Stderr}
	if console {
		sinks.Stdout = os.Stdout
		sinks.Stderr = os.Stderr
	}
	return slog.New(NewHandler(sinks, level)), lj, nil
}

// ///////////////////////////////////////////////
// Helper Functions
// ///////////////////////////////////////////////

// Trace logs a message at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs a message at LevelFail.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}

// ///////////////////////////////////////////////
// ReadTail
// ///////////////////////////////////////////////

// ReadTail returns the last n lines from the file at path.
// Returns an error if the file doesn't exist or can't be read.
func ReadTail(path string, lines int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]string, 0, lines)
	idx := 0

	for scanner.Scan() {
		if len(buf) < lines {
			buf = append(buf, scanner.Text())
		} else {
			buf[idx%lines] = scanner.Text()
		}
		idx++
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading log file: %w", err)
	}

	// Reorder the circular buffer so lines are in chronological order.
	if len(buf) < lines {
		return strings.Join(buf, "\n"), nil
	}
	start := idx % lines
	ordered := make([]string, 0, lines)
	ordered = append(ordered, buf[start:]...)
	ordered = append(ordered, buf[:start]...)
	return strings.Join(ordered, "\n"), nil
}
