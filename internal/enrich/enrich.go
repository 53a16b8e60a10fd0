// Package enrich attaches derived context to validated indicators. Each
// enricher covers one context type and runs concurrently with the others;
// a failing or slow enricher contributes nothing rather than failing the
// indicator.
package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"threatpipe/internal/indicator"
	"threatpipe/internal/quality"
)

// ErrEnrichmentTimeout is recorded when an enricher misses the join
// deadline. Partial enrichment is acceptable and recorded as such.
var ErrEnrichmentTimeout = errors.New("enrichment timeout")

// Enricher produces a context delta for one indicator. Implementations must
// honor ctx cancellation.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, ind indicator.Indicator) (map[string]string, error)
}

// Engine fans an indicator out to all registered enrichers and joins the
// deltas with a timeout. Results are cached per indicator value with a
// bounded TTL.
type Engine struct {
	enrichers []Enricher
	cache     *resultCache
	timeout   time.Duration
	alerter   *quality.Alerter
}

// NewEngine builds an engine. A non-positive timeout defaults to 5s.
func NewEngine(timeout time.Duration, cacheSize int, cacheTTL time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Engine{
		cache:   newResultCache(cacheSize, cacheTTL),
		timeout: timeout,
	}
}

// Register adds an enricher.
func (e *Engine) Register(en Enricher) {
	e.enrichers = append(e.enrichers, en)
}

// SetAlerter enables the degradation alert raised when a whole enrichment
// pass produces nothing but errors.
func (e *Engine) SetAlerter(a *quality.Alerter) { e.alerter = a }

// Enrich returns the merged context delta for ind. It never returns an
// error: enrichment is best-effort and missing context is an acceptable
// outcome.
func (e *Engine) Enrich(ctx context.Context, ind indicator.Indicator) map[string]string {
	if len(e.enrichers) == 0 {
		return nil
	}
	if cached, ok := e.cache.Get(ind.Key()); ok {
		quality.EnrichmentCacheHits.Inc()
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type delta struct {
		name   string
		fields map[string]string
		err    error
	}
	results := make(chan delta, len(e.enrichers))
	var wg sync.WaitGroup
	for _, en := range e.enrichers {
		wg.Add(1)
		go func(en Enricher) {
			defer wg.Done()
			fields, err := en.Enrich(ctx, ind)
			results <- delta{name: en.Name(), fields: fields, err: err}
		}(en)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	merged := make(map[string]string)
	failed := 0
	for d := range results {
		if d.err != nil {
			failed++
			quality.EnrichmentPartial.WithLabelValues(d.name).Inc()
			continue
		}
		for k, v := range d.fields {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		if failed == len(e.enrichers) && e.alerter != nil {
			e.alerter.Raise(quality.AlertEnrichmentDegraded, map[string]string{
				"indicator": ind.Key(),
			})
		}
		return nil
	}
	e.cache.Set(ind.Key(), merged)
	return merged
}
