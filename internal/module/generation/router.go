package generation

import (
	"context"
	"time"

	apperrors "github.com/coolpix/server/internal/shared/errors"
	"go.uber.org/zap"
)

// RouterMetrics receives routing outcome counts.
type RouterMetrics interface {
	RecordGeneration(provider, status string, duration time.Duration)
	GenerationFallbackInc()
}

// RouterConfig configures the unified generation router.
type RouterConfig struct {
	PrimaryProvider  string
	FallbackProvider string
	FallbackEnabled  bool
	CacheEnabled     bool
	RequestTimeout   time.Duration
}

// Router accepts a generation request, picks a provider, executes, and
// returns uniform output regardless of which backend serviced it.
type Router struct {
	registry *Registry
	monitor  *Monitor
	cache    *Cache
	cfg      RouterConfig
	metrics  RouterMetrics
	logger   *zap.Logger
}

// NewRouter creates a new generation router.
func NewRouter(registry *Registry, monitor *Monitor, cache *Cache, cfg RouterConfig, metrics RouterMetrics, logger *zap.Logger) *Router {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Router{
		registry: registry,
		monitor:  monitor,
		cache:    cache,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Generate routes one generation request. On provider failure it retries
// exactly once against the configured fallback; further retries are the
// caller's responsibility.
func (r *Router) Generate(ctx context.Context, userID string, req *Request) (*Result, error) {
	if req.Prompt == "" {
		return nil, apperrors.Validation("prompt is required")
	}

	var cacheKey string
	if r.cacheUsable(req) {
		cacheKey = Fingerprint(userID, req)
		cached, err := r.cache.Get(ctx, cacheKey)
		if err != nil {
			r.logger.Warn("generation cache lookup failed", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	primary := r.selectProvider(req)
	result, primaryErr := r.execute(ctx, primary, req)
	if primaryErr == nil {
		r.store(ctx, cacheKey, result)
		return result, nil
	}

	fallback := r.cfg.FallbackProvider
	if !r.cfg.FallbackEnabled || fallback == "" || fallback == primary {
		return nil, &FailedError{Provider: primary, Err: primaryErr}
	}

	r.logger.Warn("primary provider failed, trying fallback",
		zap.String("primary", primary),
		zap.String("fallback", fallback),
		zap.Error(primaryErr),
	)

	result, fallbackErr := r.execute(ctx, fallback, req)
	if fallbackErr != nil {
		return nil, &FailedError{Provider: fallback, Err: fallbackErr}
	}

	result.Metadata.FallbackUsed = true
	if r.metrics != nil {
		r.metrics.GenerationFallbackInc()
	}
	r.store(ctx, cacheKey, result)
	return result, nil
}

// selectProvider applies the selection algorithm: explicit hint wins,
// otherwise requirements are scored against the capability table and
// the best available provider is picked.
func (r *Router) selectProvider(req *Request) string {
	if req.Provider != "" {
		return req.Provider
	}

	var candidates []string
	for _, name := range r.registry.Names() {
		if r.monitor.Available(name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		// Everything is offline; fall through to the primary and let
		// the call itself fail (and possibly recover the status).
		return r.cfg.PrimaryProvider
	}

	ranked := rankProviders(req.Requirements, candidates, r.monitor.AverageLatency, r.cfg.PrimaryProvider)
	return ranked[0]
}

// execute runs one provider attempt under the configured timeout and
// records the outcome with the health monitor.
func (r *Router) execute(ctx context.Context, providerName string, req *Request) (*Result, error) {
	p, err := r.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.Generate(callCtx, req)
	latency := time.Since(start)

	r.monitor.RecordOutcome(providerName, err == nil, latency)
	if r.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordGeneration(providerName, status, latency)
	}

	if err != nil {
		return nil, err
	}

	result.Metadata.Provider = providerName
	result.Metadata.LatencyMS = latency.Milliseconds()
	return result, nil
}

func (r *Router) cacheUsable(req *Request) bool {
	return r.cfg.CacheEnabled && r.cache != nil && req.UseCache
}

func (r *Router) store(ctx context.Context, cacheKey string, result *Result) {
	if cacheKey == "" || r.cache == nil {
		return
	}
	if err := r.cache.Put(ctx, cacheKey, result); err != nil {
		r.logger.Warn("generation cache store failed", zap.Error(err))
	}
}
