// Package logger provides structured logging for the Matchscope daemon:
// a compact single-line text format written to a size-rotated file.
//
// Log output format:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2=value2
//
// Custom levels beyond the standard slog set:
//   - LevelTrace (-8): per-tick diagnostic tracing
//   - LevelFail  (12): unrecoverable errors
package logger

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Levels
// ///////////////////////////////////////////////

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelFail  slog.Level = 12
)

// levelNames maps each threshold to its display token, checked in order.
var levelNames = []struct {
	ceil slog.Level
	name string
}{
	{LevelTrace, "TRACE"},
	{LevelDebug, "DEBUG"},
	{LevelInfo, "INFO"},
	{LevelWarn, "WARN"},
	{LevelError, "ERROR"},
}

func levelName(l slog.Level) string {
	for _, ln := range levelNames {
		if l <= ln.ceil {
			return ln.name
		}
	}
	return "FAIL"
}

// ParseLevel converts a level string to its slog.Level. Recognized values
// are trace, debug, info, warn, error, and fail, case-insensitively;
// anything else parses as info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
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

// newline is CRLF on Windows so the log file reads cleanly in Notepad.
var newline = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

// Handler formats slog records as single text lines:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, ...
type Handler struct {
	out io.Writer
	// mu serializes writes so concurrent log calls do not interleave.
	// Shared by pointer across WithAttrs/WithGroup derivatives.
	mu  *sync.Mutex
	min slog.Level
	// attrs are the pre-bound attributes from WithAttrs.
	attrs []slog.Attr
	// prefix is the dot-joined group path from WithGroup.
	prefix string
}

// NewHandler creates a Handler writing to out, dropping records below min.
func NewHandler(out io.Writer, min slog.Level) *Handler {
	return &Handler{out: out, min: min, mu: &sync.Mutex{}}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

// Handle formats and writes one record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = r.Time.UTC().AppendFormat(buf, "2006-01-02T15:04:05.000Z")
	buf = append(buf, " ["...)
	buf = append(buf, levelName(r.Level)...)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	first := true
	appendAttr := func(a slog.Attr) {
		if first {
			buf = append(buf, " | "...)
			first = false
		} else {
			buf = append(buf, ", "...)
		}
		if h.prefix != "" {
			buf = append(buf, h.prefix...)
			buf = append(buf, '.')
		}
		buf = append(buf, a.Key...)
		buf = append(buf, '=')
		buf = append(buf, a.Value.String()...)
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})
	buf = append(buf, newline...)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

// WithAttrs returns a derived Handler with attrs pre-bound.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := *h
	d.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &d
}

// WithGroup returns a derived Handler that prefixes attribute keys with
// name (dot-joined when groups nest).
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	d := *h
	if h.prefix != "" {
		d.prefix = h.prefix + "." + name
	} else {
		d.prefix = name
	}
	return &d
}

// ///////////////////////////////////////////////
// Construction
// ///////////////////////////////////////////////

// NewLogger creates a slog.Logger writing to a rotating file at logPath.
// The returned closer must be closed on shutdown to release the file.
func NewLogger(logPath string, minLevel slog.Level, maxSizeMB int) (*slog.Logger, io.Closer, error) {
	lj := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
	}
	return slog.New(NewHandler(lj, minLevel)), lj, nil
}

// ///////////////////////////////////////////////
// Level Helpers
// ///////////////////////////////////////////////

// Trace logs msg at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs msg at LevelFail.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}
