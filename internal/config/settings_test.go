package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type memStore struct{ m map[string]string }

func newMemStore() *memStore { return &memStore{m: make(map[string]string)} }

func (s *memStore) GetString(key string) (string, error) { return s.m[key], nil }

func (s *memStore) SetString(key, val string) error {
	s.m[key] = val
	return nil
}

func TestDefaultsWhenUnset(t *testing.T) {
	m := New(newMemStore())
	require.Equal(t, 4444, m.GetAPIPort())
	require.Equal(t, 20, m.GetAPIMaxConcurrent())
	require.True(t, m.GetEnableIntegrityCheck())
	require.Equal(t, "", m.GetUserAgent())
	require.Equal(t, 3, m.GetQueueConcurrency())
	require.Equal(t, 100, m.GetMaxCompleted())
}

func TestAPITokenIsGeneratedOnceAndPersists(t *testing.T) {
	m := New(newMemStore())
	first := m.GetAPIToken()
	require.NotEmpty(t, first)
	second := m.GetAPIToken()
	require.Equal(t, first, second)
}

func TestRoundTripQueueSettings(t *testing.T) {
	m := New(newMemStore())
	require.NoError(t, m.SetQueueConcurrency(5))
	require.Equal(t, 5, m.GetQueueConcurrency())

	require.NoError(t, m.SetMaxCompleted(10))
	require.Equal(t, 10, m.GetMaxCompleted())
}

func TestAdaptiveThresholdsRoundTrip(t *testing.T) {
	m := New(newMemStore())
	def := m.GetAdaptiveThresholds()
	require.Equal(t, 0.25, def.StragglerRatio)

	custom := def
	custom.StragglerRatio = 0.4
	custom.HintRatio = 0.8
	require.NoError(t, m.SetAdaptiveThresholds(custom))

	got := m.GetAdaptiveThresholds()
	require.Equal(t, 0.4, got.StragglerRatio)
	require.Equal(t, 0.8, got.HintRatio)
}
