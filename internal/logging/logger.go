// Package logging is LuCLI's ambient structured logging: one slog logger
// shared by every component, writing JSON lines to a rotating file under
// {lucliHome}/logs/, with an in-memory ring of the newest lines so the CLI
// can show recent activity without reopening the rotated file.
//
// Components hold loggers obtained from ForComponent, usually as package
// vars. Those loggers bind to whatever sink Init installed by the time a
// record is emitted, so creation order relative to Init does not matter;
// before Init (and after Shutdown) records are discarded.
package logging

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to every record as the "component" attribute.
const (
	CompConfig     = "config"
	CompSecrets    = "secrets"
	CompTemplate   = "template"
	CompRuntime    = "runtime"
	CompSupervisor = "supervisor"
	CompRegistry   = "registry"
	CompDeps       = "deps"
	CompDaemon     = "daemon"
	CompCommand    = "command"
)

// Config holds logging configuration.
type Config struct {
	// Home is the LuCLI home directory; the log file lives at
	// {Home}/logs/lucli.log. Empty leaves logging inactive.
	Home string

	// Level is the minimum level: "debug", "info" (default), "warn",
	// "error". Debug forces "debug" regardless.
	Level string

	// Format is "json" (default) or "text".
	Format string

	// Rotation tunables, zero means the default.
	MaxSizeMB  int // 10
	MaxBackups int // 5
	MaxAgeDays int // 10
	Compress   bool

	// RecentLines caps the in-memory ring (default 500).
	RecentLines int

	// Debug lowers the level floor to debug.
	Debug bool
}

// sinkSet is everything one Init call produces. Swapped atomically so
// loggers created at package-var time pick up the live set per record.
type sinkSet struct {
	handler slog.Handler
	ring    *lineRing
	file    *lumberjack.Logger
}

var active atomic.Pointer[sinkSet]

// Init installs the process-wide logging sinks. Calling it again replaces
// them (tests do; the CLI calls it once at startup).
func Init(cfg Config) {
	if cfg.Home == "" {
		active.Store(nil)
		return
	}

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}
	if cfg.RecentLines <= 0 {
		cfg.RecentLines = 500
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Home, "logs", "lucli.log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	ring := newLineRing(cfg.RecentLines)

	w := &teeWriter{file: file, ring: ring}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	active.Store(&sinkSet{handler: handler, ring: ring, file: file})
}

// Shutdown deactivates logging and closes the file sink.
func Shutdown() {
	if s := active.Swap(nil); s != nil {
		_ = s.file.Close()
	}
}

// Recent returns up to n of the newest log lines, oldest first. Nil when
// logging is inactive.
func Recent(n int) []string {
	s := active.Load()
	if s == nil {
		return nil
	}
	return s.ring.Recent(n)
}

// ForComponent returns a logger that tags every record with the component
// name and routes it through the currently active sinks.
func ForComponent(name string) *slog.Logger {
	return slog.New(&componentHandler{component: name})
}

// teeWriter fans one formatted record out to the rotating file and the
// line ring.
type teeWriter struct {
	file *lumberjack.Logger
	ring *lineRing
}

func (t *teeWriter) Write(p []byte) (int, error) {
	_, _ = t.ring.Write(p)
	return t.file.Write(p)
}

// componentHandler resolves the active sink set per record instead of
// capturing it at construction. WithAttrs/WithGroup accumulate locally and
// replay onto the live handler when a record is emitted.
type componentHandler struct {
	component string
	attrs     []slog.Attr
	groups    []string
}

func (h *componentHandler) live() slog.Handler {
	if s := active.Load(); s != nil {
		return s.handler
	}
	return slog.DiscardHandler
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.live().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	target := h.live().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		target = target.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		target = target.WithGroup(g)
	}
	return target.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}
