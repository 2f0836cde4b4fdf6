package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AccessLogEntry is one append-only audit record.
type AccessLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"` // remote addr, or "local" for in-process callers
	Action    string    `json:"action"`
	Status    int       `json:"status"`
	Details   string    `json:"details"`
}

// AuditLogger appends control-plane actions to a JSON-lines file and
// mirrors them to the structured logger. The GUI-era version this
// replaces pushed entries straight to a webview; there is no UI here,
// so live consumers subscribe to the orchestrator's own event bus
// instead of this log.
type AuditLogger struct {
	mu      sync.Mutex
	logFile *os.File
	logPath string
	logger  *slog.Logger
}

// NewAuditLogger opens (creating if needed) the audit log under dir.
func NewAuditLogger(logger *slog.Logger, dir string) *AuditLogger {
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("audit log directory unavailable", "error", err)
	}
	path := filepath.Join(dir, "access.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
	}
	return &AuditLogger{logFile: f, logPath: path, logger: logger}
}

// Log records one action.
func (a *AuditLogger) Log(actor, action string, status int, details string) {
	entry := AccessLogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Actor:     actor,
		Action:    action,
		Status:    status,
		Details:   details,
	}

	a.mu.Lock()
	if a.logFile != nil {
		if line, err := json.Marshal(entry); err == nil {
			a.logFile.Write(append(line, '\n'))
		}
	}
	a.mu.Unlock()

	level := slog.LevelInfo
	if status >= 400 {
		level = slog.LevelWarn
	}
	a.logger.Log(context.Background(), level, "audit", "action", action, "status", status, "actor", actor)
}

// Close releases the underlying file handle.
func (a *AuditLogger) Close() error {
	if a.logFile == nil {
		return nil
	}
	return a.logFile.Close()
}

// Recent returns up to limit most-recent entries, newest first.
func (a *AuditLogger) Recent(limit int) []AccessLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, err := os.ReadFile(a.logPath)
	if err != nil {
		return nil
	}

	lines := strings.Split(string(content), "\n")
	entries := make([]AccessLogEntry, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(entries) < limit; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var entry AccessLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries
}
