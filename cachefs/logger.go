package cachefs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logger is the package-level structured logger for all cache operations.
// Defaults to a no-op (discard) handler until InitLogger is called.
var logger *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// levelCeil is the open upper bound for sinks with no level ceiling.
const levelCeil = slog.Level(1 << 10)

// InitLogger configures the cachefs package logger.
// Always enables console output: INFO→stdout, WARN/ERROR→stderr, plus an
// in-memory capture of recent errors (see RecentErrors).
// If logDir is non-empty, also writes to level-split rotating log files:
//   - cachefs_warn.log  — WARN + ERROR
//   - cachefs_debug.log — DEBUG only (1MB, 1 backup)
func InitLogger(logDir string) {
	sinks := []sink{
		{min: slog.LevelInfo, max: slog.LevelWarn - 1,
			h: slog.NewTextHandler(os.Stdout, nil)},
		{min: slog.LevelWarn, max: levelCeil,
			h: slog.NewTextHandler(os.Stderr, nil)},
		{min: slog.LevelError, max: levelCeil, h: captureHandler{}},
	}

	if logDir != "" {
		os.MkdirAll(logDir, 0750) //nolint:errcheck

		sinks = append(sinks,
			sink{min: slog.LevelWarn, max: levelCeil,
				h: slog.NewTextHandler(&lumberjack.Logger{
					Filename:   filepath.Join(logDir, "cachefs_warn.log"),
					MaxSize:    100,
					MaxBackups: 3,
				}, nil)},
			sink{min: slog.LevelDebug, max: slog.LevelDebug,
				h: slog.NewTextHandler(&lumberjack.Logger{
					Filename:   filepath.Join(logDir, "cachefs_debug.log"),
					MaxSize:    1,
					MaxBackups: 1,
				}, nil)})
	}

	logger = slog.New(&fanoutHandler{sinks: sinks})
}

// Logger returns the configured package logger.
func Logger() *slog.Logger {
	return logger
}

// sub returns a child logger tagged with the given component name.
func sub(component string) *slog.Logger {
	return logger.With("comp", component)
}

// logEnabled reports whether the given log level is enabled.
// Use this to guard expensive DEBUG logging in hot paths.
func logEnabled(level slog.Level) bool {
	return logger.Enabled(context.Background(), level)
}

// sink is one destination with an inclusive level band. Level routing
// happens here, not in the wrapped handlers, which are built without
// their own level options.
type sink struct {
	min, max slog.Level
	h        slog.Handler
}

func (s sink) accepts(level slog.Level) bool {
	return level >= s.min && level <= s.max
}

// fanoutHandler dispatches each record to every sink whose band accepts
// its level.
type fanoutHandler struct {
	sinks []sink
}

func (f *fanoutHandler) Enabled(_ context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.accepts(level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, s := range f.sinks {
		if !s.accepts(r.Level) {
			continue
		}
		if err := s.h.Handle(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sinks := make([]sink, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = sink{min: s.min, max: s.max, h: s.h.WithAttrs(attrs)}
	}
	return &fanoutHandler{sinks: sinks}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	sinks := make([]sink, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = sink{min: s.min, max: s.max, h: s.h.WithGroup(name)}
	}
	return &fanoutHandler{sinks: sinks}
}

// LogEntry is a captured error log record.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Comp    string    `json:"comp"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

const errorRingCap = 16

var errorRing struct {
	mu      sync.Mutex
	entries []LogEntry
}

// RecentErrors returns the most recent error log entries, newest first.
func RecentErrors() []LogEntry {
	errorRing.mu.Lock()
	defer errorRing.mu.Unlock()
	out := make([]LogEntry, len(errorRing.entries))
	for i, e := range errorRing.entries {
		out[len(out)-1-i] = e
	}
	return out
}

// captureHandler records error-level logs into the ring. Attrs bound via
// With (the component tag in particular) are kept so captured entries
// name their component even when the call site doesn't repeat it.
type captureHandler struct {
	attrs []slog.Attr
}

func (h captureHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h captureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Message: r.Message,
	}
	record := func(a slog.Attr) bool {
		switch a.Key {
		case "comp":
			entry.Comp = a.Value.String()
		case "err":
			entry.Error = a.Value.String()
		}
		return true
	}
	for _, a := range h.attrs {
		record(a)
	}
	r.Attrs(record)

	errorRing.mu.Lock()
	errorRing.entries = append(errorRing.entries, entry)
	if n := len(errorRing.entries); n > errorRingCap {
		errorRing.entries = errorRing.entries[n-errorRingCap:]
	}
	errorRing.mu.Unlock()
	return nil
}

func (h captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return captureHandler{attrs: merged}
}

func (h captureHandler) WithGroup(string) slog.Handler { return h }
