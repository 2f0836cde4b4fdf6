// Package logger builds the fanout slog.Logger used throughout the
// module: a JSON file handler for durable records and a colored
// console handler for interactive use, plus an EventHandler a caller
// can wire to any live-event sink (the orchestrator's subscriber bus,
// an SSE stream) instead of a GUI runtime.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ANSI color codes
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Gray   = "\033[37m"
)

// ConsoleHandler writes short, colorized lines for interactive use.
type ConsoleHandler struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleHandler(out io.Writer) *ConsoleHandler {
	return &ConsoleHandler{out: out}
}

func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	levelColor := Reset
	switch r.Level {
	case slog.LevelDebug:
		levelColor = Gray
	case slog.LevelInfo:
		levelColor = Green
	case slog.LevelWarn:
		levelColor = Yellow
	case slog.LevelError:
		levelColor = Red
	}

	timeStr := r.Time.Format(time.TimeOnly)
	msg := fmt.Sprintf("%s%s%s [%s] %s\n", levelColor, r.Level.String()[:4], Reset, timeStr, r.Message)

	_, err := h.out.Write([]byte(msg))
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	return h
}

// LogEvent is what EventHandler hands to its sink for each record.
type LogEvent struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Time    string         `json:"time"`
	Data    map[string]any `json:"data"`
}

// EventHandler forwards records to an arbitrary sink function, so a
// caller can push log lines onto the orchestrator's subscriber bus (or
// any other live-event transport) without this package depending on
// it. A nil sink, or one not yet set, makes Handle a silent no-op.
type EventHandler struct {
	mu   sync.Mutex
	sink func(LogEvent)
}

func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// SetSink installs (or replaces) the destination for future records.
func (h *EventHandler) SetSink(sink func(LogEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

func (h *EventHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *EventHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		return nil
	}

	data := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	sink(LogEvent{
		Level:   r.Level.String(),
		Message: r.Message,
		Time:    r.Time.Format(time.RFC3339),
		Data:    data,
	})
	return nil
}

func (h *EventHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *EventHandler) WithGroup(name string) slog.Handler {
	return h
}

// New builds a logger fanning out to a JSON file under the user's
// config directory, a console writer, and an EventHandler the caller
// can later wire with SetSink.
func New(consoleOutput io.Writer) (*slog.Logger, *EventHandler, error) {
	appData, err := os.UserConfigDir()
	if err != nil {
		return nil, nil, err
	}
	logDir := filepath.Join(appData, "Tachyon", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(filepath.Join(logDir, "app.json"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	jsonHandler := slog.NewJSONHandler(f, nil)
	consoleHandler := NewConsoleHandler(consoleOutput)
	eventHandler := NewEventHandler()

	handler := &FanoutHandler{
		handlers: []slog.Handler{jsonHandler, consoleHandler, eventHandler},
	}

	return slog.New(handler), eventHandler, nil
}

// FanoutHandler dispatches every record to each wrapped handler in
// turn, continuing past any single handler's error.
type FanoutHandler struct {
	handlers []slog.Handler
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		_ = handler.Handle(ctx, r)
	}
	return nil
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: newHandlers}
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &FanoutHandler{handlers: newHandlers}
}
