package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsoleHandlerWritesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf)
	l := slog.New(h)

	l.Info("download started", "job", "abc123")

	out := buf.String()
	require.Contains(t, out, "INFO")
	require.Contains(t, out, "download started")
}

func TestEventHandlerForwardsToSink(t *testing.T) {
	h := NewEventHandler()
	l := slog.New(h)

	var got []LogEvent
	h.SetSink(func(ev LogEvent) { got = append(got, ev) })

	l.Warn("disk nearly full", "free_bytes", 1024)

	require.Len(t, got, 1)
	require.Equal(t, "WARN", got[0].Level)
	require.Equal(t, "disk nearly full", got[0].Message)
	require.Equal(t, int64(1024), got[0].Data["free_bytes"])
}

func TestEventHandlerNoSinkIsNoop(t *testing.T) {
	h := NewEventHandler()
	l := slog.New(h)
	l.Info("no sink yet") // must not panic
}

func TestFanoutHandlerReachesAllHandlers(t *testing.T) {
	var consoleBuf bytes.Buffer
	var events []LogEvent

	eventHandler := NewEventHandler()
	eventHandler.SetSink(func(ev LogEvent) { events = append(events, ev) })

	fanout := &FanoutHandler{handlers: []slog.Handler{
		NewConsoleHandler(&consoleBuf),
		eventHandler,
	}}

	slog.New(fanout).Error("disk write failed")

	require.Contains(t, consoleBuf.String(), "disk write failed")
	require.Len(t, events, 1)
	require.Equal(t, "ERRO", events[0].Level[:4])
}
