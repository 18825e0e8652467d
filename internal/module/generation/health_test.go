package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMonitor(providers ...*fakeProvider) *Monitor {
	registry := NewRegistry()
	for _, p := range providers {
		registry.Register(p)
	}
	return NewMonitor(registry, nil, nil, zap.NewNop())
}

func TestMonitor_StatusTransitions(t *testing.T) {
	t.Run("Starts online", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"})
		assert.Equal(t, StatusOnline, m.Status("fal"))
		assert.True(t, m.Available("fal"))
	})

	t.Run("Offline after consecutive failures", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"})

		m.RecordOutcome("fal", false, time.Second)
		m.RecordOutcome("fal", false, time.Second)
		assert.NotEqual(t, StatusOffline, m.Status("fal"))

		m.RecordOutcome("fal", false, time.Second)
		assert.Equal(t, StatusOffline, m.Status("fal"))
		assert.False(t, m.Available("fal"))
	})

	t.Run("Success resets the failure streak", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"})

		m.RecordOutcome("fal", false, time.Second)
		m.RecordOutcome("fal", false, time.Second)
		m.RecordOutcome("fal", true, time.Second)
		m.RecordOutcome("fal", false, time.Second)
		m.RecordOutcome("fal", false, time.Second)
		assert.NotEqual(t, StatusOffline, m.Status("fal"))
	})

	t.Run("Degraded on high latency", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"})

		m.RecordOutcome("fal", true, 15*time.Second)
		assert.Equal(t, StatusDegraded, m.Status("fal"))

		// Fast successes pull the average back down.
		for i := 0; i < 10; i++ {
			m.RecordOutcome("fal", true, 100*time.Millisecond)
		}
		assert.Equal(t, StatusOnline, m.Status("fal"))
	})

	t.Run("Degraded on intermittent failures", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"})

		m.RecordOutcome("fal", true, time.Second)
		m.RecordOutcome("fal", false, time.Second)
		m.RecordOutcome("fal", true, time.Second)
		m.RecordOutcome("fal", false, time.Second)
		assert.Equal(t, StatusDegraded, m.Status("fal"))
	})

	t.Run("Window is bounded", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"})

		for i := 0; i < sampleWindow*2; i++ {
			m.RecordOutcome("fal", true, time.Second)
		}
		health, err := m.ProviderHealth("fal")
		require.NoError(t, err)
		assert.Equal(t, sampleWindow, health.SampleCount)
	})
}

func TestMonitor_AverageLatency(t *testing.T) {
	m := newTestMonitor(&fakeProvider{name: "fal"})

	assert.Zero(t, m.AverageLatency("fal"))

	m.RecordOutcome("fal", true, time.Second)
	m.RecordOutcome("fal", true, 3*time.Second)
	assert.Equal(t, 2*time.Second, m.AverageLatency("fal"))
}

func TestMonitor_SystemHealth(t *testing.T) {
	m := newTestMonitor(&fakeProvider{name: "fal"}, &fakeProvider{name: "leonardo"})

	t.Run("Healthy when all online", func(t *testing.T) {
		sys := m.SystemHealth()
		assert.Equal(t, SystemHealthy, sys.Status)
		assert.Len(t, sys.Providers, 2)
		assert.Empty(t, sys.Recommendations)
	})

	t.Run("Degraded when one provider is degraded", func(t *testing.T) {
		m.RecordOutcome("leonardo", true, 20*time.Second)
		sys := m.SystemHealth()
		assert.Equal(t, SystemDegraded, sys.Status)
		assert.NotEmpty(t, sys.Recommendations)
	})

	t.Run("Unhealthy when a provider is offline", func(t *testing.T) {
		for i := 0; i < offlineAfterFailures; i++ {
			m.RecordOutcome("fal", false, time.Second)
		}
		sys := m.SystemHealth()
		assert.Equal(t, SystemUnhealthy, sys.Status)
	})
}

func TestMonitor_ForceCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("Healthy probe keeps provider online", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"})

		require.NoError(t, m.ForceCheck(ctx, "fal"))
		assert.Equal(t, StatusOnline, m.Status("fal"))

		health, err := m.ProviderHealth("fal")
		require.NoError(t, err)
		assert.False(t, health.LastCheck.IsZero())
	})

	t.Run("Failing probe is recorded", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal", healthErr: errors.New("503")})

		for i := 0; i < offlineAfterFailures; i++ {
			_ = m.ForceCheck(ctx, "fal")
		}
		assert.Equal(t, StatusOffline, m.Status("fal"))
	})

	t.Run("Empty provider checks all", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"}, &fakeProvider{name: "leonardo"})

		require.NoError(t, m.ForceCheck(ctx, ""))
		for _, name := range []string{"fal", "leonardo"} {
			health, err := m.ProviderHealth(name)
			require.NoError(t, err)
			assert.Equal(t, 1, health.SampleCount)
		}
	})

	t.Run("Unknown provider", func(t *testing.T) {
		m := newTestMonitor(&fakeProvider{name: "fal"})
		assert.Error(t, m.ForceCheck(ctx, "nope"))
	})
}

func TestMonitor_ResetMetrics(t *testing.T) {
	m := newTestMonitor(&fakeProvider{name: "fal"}, &fakeProvider{name: "leonardo"})

	for i := 0; i < offlineAfterFailures; i++ {
		m.RecordOutcome("fal", false, time.Second)
		m.RecordOutcome("leonardo", false, time.Second)
	}
	require.Equal(t, StatusOffline, m.Status("fal"))

	m.ResetMetrics("fal")
	assert.Equal(t, StatusOnline, m.Status("fal"))
	assert.Equal(t, StatusOffline, m.Status("leonardo"))

	m.ResetMetrics("")
	assert.Equal(t, StatusOnline, m.Status("leonardo"))
}

func TestMonitor_StartStopMonitoring(t *testing.T) {
	m := newTestMonitor(&fakeProvider{name: "fal"})

	assert.False(t, m.Monitoring())

	m.StartMonitoring()
	assert.True(t, m.Monitoring())

	// Idempotent.
	m.StartMonitoring()
	assert.True(t, m.Monitoring())

	m.StopMonitoring()
	assert.False(t, m.Monitoring())

	m.StopMonitoring()
	assert.False(t, m.Monitoring())
}
