package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Status is the availability status of a provider.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// SystemStatus is the aggregate status across all providers.
type SystemStatus string

const (
	SystemHealthy   SystemStatus = "healthy"
	SystemDegraded  SystemStatus = "degraded"
	SystemUnhealthy SystemStatus = "unhealthy"
)

const (
	sampleWindow         = 20
	offlineAfterFailures = 3
)

// sample is one recorded provider outcome.
type sample struct {
	Success bool
	Latency time.Duration
	At      time.Time
}

// providerState is the tracked state for one provider.
type providerState struct {
	Status              Status
	Samples             []sample
	ConsecutiveFailures int
	LastCheck           time.Time
}

// ProviderHealth is the externally visible health of one provider.
type ProviderHealth struct {
	Provider            string        `json:"provider"`
	Status              Status        `json:"status"`
	AverageLatency      time.Duration `json:"average_latency"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	SampleCount         int           `json:"sample_count"`
	LastCheck           time.Time     `json:"last_check"`
}

// SystemHealth is the aggregate view plus operator advice.
type SystemHealth struct {
	Status          SystemStatus     `json:"status"`
	Providers       []ProviderHealth `json:"providers"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// HealthMetrics receives health gauge updates.
type HealthMetrics interface {
	SetProviderHealth(provider string, value float64)
}

// Monitor tracks per-provider availability from recorded outcomes and
// forced probes. State is in-memory only and resets on restart: the
// monitor is an observability aid, not a source of truth.
type Monitor struct {
	mu sync.Mutex

	registry        *Registry
	states          map[string]*providerState
	breakers        map[string]*gobreaker.CircuitBreaker[any]
	degradedLatency time.Duration
	checkInterval   time.Duration
	metrics         HealthMetrics
	logger          *zap.Logger

	stopMonitor chan struct{}
	monitoring  bool
}

// MonitorConfig contains health monitor configuration.
type MonitorConfig struct {
	DegradedLatency time.Duration
	CheckInterval   time.Duration
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		DegradedLatency: 10 * time.Second,
		CheckInterval:   30 * time.Second,
	}
}

// NewMonitor creates a health monitor for all registered providers.
func NewMonitor(registry *Registry, cfg *MonitorConfig, metrics HealthMetrics, logger *zap.Logger) *Monitor {
	if cfg == nil {
		cfg = DefaultMonitorConfig()
	}

	m := &Monitor{
		registry:        registry,
		states:          make(map[string]*providerState),
		breakers:        make(map[string]*gobreaker.CircuitBreaker[any]),
		degradedLatency: cfg.DegradedLatency,
		checkInterval:   cfg.CheckInterval,
		metrics:         metrics,
		logger:          logger,
	}

	for _, name := range registry.Names() {
		m.states[name] = &providerState{Status: StatusOnline}
	}
	return m
}

// RecordOutcome records a success/failure outcome and its latency,
// evicting the oldest entry once the rolling window is full.
func (m *Monitor) RecordOutcome(provider string, success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(provider)
	st.Samples = append(st.Samples, sample{Success: success, Latency: latency, At: time.Now()})
	if len(st.Samples) > sampleWindow {
		st.Samples = st.Samples[len(st.Samples)-sampleWindow:]
	}
	if success {
		st.ConsecutiveFailures = 0
	} else {
		st.ConsecutiveFailures++
	}

	m.recomputeLocked(provider, st)
}

// recomputeLocked derives the status from the rolling window.
func (m *Monitor) recomputeLocked(provider string, st *providerState) {
	prev := st.Status
	switch {
	case st.ConsecutiveFailures >= offlineAfterFailures:
		st.Status = StatusOffline
	case m.avgLatencyLocked(st) > m.degradedLatency || m.hasIntermittentFailuresLocked(st):
		st.Status = StatusDegraded
	default:
		st.Status = StatusOnline
	}

	if st.Status != prev && m.logger != nil {
		m.logger.Warn("provider status changed",
			zap.String("provider", provider),
			zap.String("from", string(prev)),
			zap.String("to", string(st.Status)),
		)
	}
	if m.metrics != nil {
		m.metrics.SetProviderHealth(provider, statusGauge(st.Status))
	}
}

func (m *Monitor) avgLatencyLocked(st *providerState) time.Duration {
	if len(st.Samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range st.Samples {
		total += s.Latency
	}
	return total / time.Duration(len(st.Samples))
}

// hasIntermittentFailuresLocked reports whether recent samples contain
// failures without reaching the offline threshold.
func (m *Monitor) hasIntermittentFailuresLocked(st *providerState) bool {
	failures := 0
	for _, s := range st.Samples {
		if !s.Success {
			failures++
		}
	}
	return failures > 0 && len(st.Samples) >= 4 && failures*4 >= len(st.Samples)
}

// Status returns the current status of a provider.
func (m *Monitor) Status(provider string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(provider).Status
}

// Available reports whether a provider may receive traffic.
func (m *Monitor) Available(provider string) bool {
	return m.Status(provider) != StatusOffline
}

// AverageLatency returns the rolling average latency for a provider.
func (m *Monitor) AverageLatency(provider string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgLatencyLocked(m.state(provider))
}

// ProviderHealth returns the health view for one provider.
func (m *Monitor) ProviderHealth(provider string) (ProviderHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[provider]
	if !ok {
		return ProviderHealth{}, fmt.Errorf("unknown provider: %s", provider)
	}
	return m.healthLocked(provider, st), nil
}

func (m *Monitor) healthLocked(provider string, st *providerState) ProviderHealth {
	return ProviderHealth{
		Provider:            provider,
		Status:              st.Status,
		AverageLatency:      m.avgLatencyLocked(st),
		ConsecutiveFailures: st.ConsecutiveFailures,
		SampleCount:         len(st.Samples),
		LastCheck:           st.LastCheck,
	}
}

// SystemHealth returns the aggregate status, derived from the worst
// individual provider, plus advisory recommendations.
func (m *Monitor) SystemHealth() SystemHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := SystemHealth{Status: SystemHealthy}
	for _, name := range m.registry.Names() {
		st := m.state(name)
		out.Providers = append(out.Providers, m.healthLocked(name, st))

		switch st.Status {
		case StatusOffline:
			out.Status = SystemUnhealthy
			out.Recommendations = append(out.Recommendations,
				fmt.Sprintf("provider %s is offline; consider disabling it or forcing a check", name))
		case StatusDegraded:
			if out.Status == SystemHealthy {
				out.Status = SystemDegraded
			}
			out.Recommendations = append(out.Recommendations,
				fmt.Sprintf("provider %s is degraded; watch latency", name))
		}
	}
	return out
}

// ForceCheck synchronously probes one provider, or all when provider is
// empty, and updates status immediately.
func (m *Monitor) ForceCheck(ctx context.Context, provider string) error {
	if provider != "" {
		return m.checkOne(ctx, provider)
	}

	var lastErr error
	for _, name := range m.registry.Names() {
		if err := m.checkOne(ctx, name); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Monitor) checkOne(ctx context.Context, provider string) error {
	p, err := m.registry.Get(provider)
	if err != nil {
		return err
	}

	breaker := m.getOrCreateBreaker(provider)
	start := time.Now()
	_, err = breaker.Execute(func() (any, error) {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return nil, p.HealthCheck(probeCtx)
	})
	latency := time.Since(start)

	m.mu.Lock()
	st := m.state(provider)
	st.LastCheck = time.Now()
	m.mu.Unlock()

	m.RecordOutcome(provider, err == nil, latency)
	return err
}

// ResetMetrics clears recorded samples for one provider, or all when
// provider is empty, restoring the optimistic online status.
func (m *Monitor) ResetMetrics(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reset := func(name string, st *providerState) {
		st.Samples = nil
		st.ConsecutiveFailures = 0
		st.Status = StatusOnline
		if m.metrics != nil {
			m.metrics.SetProviderHealth(name, statusGauge(StatusOnline))
		}
	}

	if provider != "" {
		reset(provider, m.state(provider))
		return
	}
	for name, st := range m.states {
		reset(name, st)
	}
}

// StartMonitoring begins the periodic background probe loop.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.monitoring {
		return
	}
	m.monitoring = true
	m.stopMonitor = make(chan struct{})
	go m.monitorLoop(m.stopMonitor)
}

// StopMonitoring halts the background probe loop.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.monitoring {
		return
	}
	m.monitoring = false
	close(m.stopMonitor)
}

// Monitoring reports whether the background loop is running.
func (m *Monitor) Monitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitoring
}

func (m *Monitor) monitorLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ForceCheck(context.Background(), "")
		}
	}
}

// state returns (creating if needed) the tracked state for a provider.
// Callers must hold m.mu or use the public accessors.
func (m *Monitor) state(provider string) *providerState {
	st, ok := m.states[provider]
	if !ok {
		st = &providerState{Status: StatusOnline}
		m.states[provider] = st
	}
	return st
}

func (m *Monitor) getOrCreateBreaker(provider string) *gobreaker.CircuitBreaker[any] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, ok := m.breakers[provider]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= offlineAfterFailures
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	m.breakers[provider] = breaker
	return breaker
}

func statusGauge(s Status) float64 {
	switch s {
	case StatusOnline:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}
