// Package config exposes typed accessors over a key/value settings
// store (internal/storage's GetString/SetString), generalized from the
// teacher's ConfigManager to also hold the adaptive controller's
// thresholds and the queue orchestrator's defaults.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"project-tachyon/internal/adaptive"
)

// Keys for AppSettings rows.
const (
	KeyAPIPort              = "api_port"
	KeyAPIToken             = "api_token"
	KeyAPIMaxConcurrent     = "api_max_concurrent"
	KeyEnableIntegrityCheck = "enable_integrity_check"
	KeyUserAgent            = "user_agent"
	KeyQueueConcurrency     = "queue_concurrency"
	KeyCleanupAgeHours      = "cleanup_age_hours"
	KeyMaxCompleted         = "max_completed"
	KeyStragglerRatio       = "adaptive_straggler_ratio"
	KeyStragglerTicks       = "adaptive_straggler_ticks"
	KeyHintRatio            = "adaptive_hint_ratio"
	KeyPlateauTolerance     = "adaptive_plateau_tolerance"
)

// Store is the key/value persistence Manager needs; internal/storage
// satisfies it without config importing storage directly.
type Store interface {
	GetString(key string) (string, error)
	SetString(key, val string) error
}

// Manager is a typed settings accessor over Store.
type Manager struct {
	store Store
}

// New builds a Manager over store.
func New(store Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) getInt(key string, def int) int {
	raw, err := m.store.GetString(key)
	if err != nil || raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func (m *Manager) getFloat(key string, def float64) float64 {
	raw, err := m.store.GetString(key)
	if err != nil || raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return val
}

// GetAPIPort returns the control-plane HTTP server's listen port.
func (m *Manager) GetAPIPort() int { return m.getInt(KeyAPIPort, 4444) }

// SetAPIPort stores the control-plane listen port.
func (m *Manager) SetAPIPort(port int) error {
	return m.store.SetString(KeyAPIPort, strconv.Itoa(port))
}

// GetAPIMaxConcurrent returns the control-plane server's request
// concurrency limit.
func (m *Manager) GetAPIMaxConcurrent() int { return m.getInt(KeyAPIMaxConcurrent, 20) }

// SetAPIMaxConcurrent stores the control-plane concurrency limit.
func (m *Manager) SetAPIMaxConcurrent(max int) error {
	return m.store.SetString(KeyAPIMaxConcurrent, strconv.Itoa(max))
}

// GetAPIToken returns the bearer token the control-plane server
// requires on every request (non-loopback requests are refused
// outright), generating and persisting one on first access.
func (m *Manager) GetAPIToken() string {
	val, err := m.store.GetString(KeyAPIToken)
	if err != nil || val == "" {
		token := generateSecureToken()
		m.store.SetString(KeyAPIToken, token)
		return token
	}
	return val
}

// GetEnableIntegrityCheck reports whether post-download hash
// verification is enabled; true by default.
func (m *Manager) GetEnableIntegrityCheck() bool {
	val, err := m.store.GetString(KeyEnableIntegrityCheck)
	if err != nil {
		return true
	}
	return val != "false"
}

// SetEnableIntegrityCheck toggles post-download hash verification.
func (m *Manager) SetEnableIntegrityCheck(enabled bool) error {
	val := "false"
	if enabled {
		val = "true"
	}
	return m.store.SetString(KeyEnableIntegrityCheck, val)
}

// GetUserAgent returns the custom User-Agent string, or "" to use the
// client's default.
func (m *Manager) GetUserAgent() string {
	val, err := m.store.GetString(KeyUserAgent)
	if err != nil {
		return ""
	}
	return val
}

// SetUserAgent stores a custom User-Agent string.
func (m *Manager) SetUserAgent(ua string) error {
	return m.store.SetString(KeyUserAgent, ua)
}

// GetQueueConcurrency returns K, the orchestrator's admitted-at-once
// job cap.
func (m *Manager) GetQueueConcurrency() int { return m.getInt(KeyQueueConcurrency, 3) }

// SetQueueConcurrency stores K.
func (m *Manager) SetQueueConcurrency(k int) error {
	return m.store.SetString(KeyQueueConcurrency, strconv.Itoa(k))
}

// GetCleanupAge returns how long a terminal job is kept before Cleanup
// removes it.
func (m *Manager) GetCleanupAge() time.Duration {
	hours := m.getInt(KeyCleanupAgeHours, 24)
	return time.Duration(hours) * time.Hour
}

// SetCleanupAge stores the cleanup age in whole hours.
func (m *Manager) SetCleanupAge(d time.Duration) error {
	return m.store.SetString(KeyCleanupAgeHours, strconv.Itoa(int(d.Hours())))
}

// GetMaxCompleted returns the cap on retained terminal jobs.
func (m *Manager) GetMaxCompleted() int { return m.getInt(KeyMaxCompleted, 100) }

// SetMaxCompleted stores the cap on retained terminal jobs.
func (m *Manager) SetMaxCompleted(n int) error {
	return m.store.SetString(KeyMaxCompleted, strconv.Itoa(n))
}

// GetAdaptiveThresholds returns the adaptive controller's tuning
// knobs, resolving spec.md's Open Question on straggler/hint/plateau
// ratios to configurable-with-sane-defaults rather than hardcoded.
func (m *Manager) GetAdaptiveThresholds() adaptive.Thresholds {
	def := adaptive.DefaultThresholds()
	return adaptive.Thresholds{
		StragglerRatio:    m.getFloat(KeyStragglerRatio, def.StragglerRatio),
		StragglerTicks:    m.getInt(KeyStragglerTicks, def.StragglerTicks),
		HintRatio:         m.getFloat(KeyHintRatio, def.HintRatio),
		PlateauTolerance:  m.getFloat(KeyPlateauTolerance, def.PlateauTolerance),
		MinSplitRemaining: def.MinSplitRemaining,
	}
}

// SetAdaptiveThresholds persists overrides for the adaptive
// controller's tuning knobs.
func (m *Manager) SetAdaptiveThresholds(t adaptive.Thresholds) error {
	if err := m.store.SetString(KeyStragglerRatio, strconv.FormatFloat(t.StragglerRatio, 'f', -1, 64)); err != nil {
		return err
	}
	if err := m.store.SetString(KeyStragglerTicks, strconv.Itoa(t.StragglerTicks)); err != nil {
		return err
	}
	if err := m.store.SetString(KeyHintRatio, strconv.FormatFloat(t.HintRatio, 'f', -1, 64)); err != nil {
		return err
	}
	return m.store.SetString(KeyPlateauTolerance, strconv.FormatFloat(t.PlateauTolerance, 'f', -1, 64))
}

func generateSecureToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "tachyon-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}
