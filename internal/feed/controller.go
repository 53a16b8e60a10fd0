package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"threatpipe/internal/indicator"
	"threatpipe/internal/quality"
	"threatpipe/internal/retry"
	"threatpipe/internal/store"
)

// Sink consumes parsed indicators. The pipeline (validate, enrich, store)
// sits behind it.
type Sink interface {
	Process(ctx context.Context, ind indicator.Indicator) error
}

// Controller coordinates fetching and processing across all configured
// feeds. Each source polls on its own schedule; no adapter blocks another,
// and a failing adapter degrades alone. Once Run has started, Register and
// Replace reconcile the set of poll loops against the registered sources,
// so a config reload takes effect without a restart.
type Controller struct {
	sink        Sink
	alerter     *quality.Alerter
	policy      retry.Policy
	maxFailures int

	mu       sync.Mutex
	adapters map[string]Adapter
	failures map[string]int
	degraded map[string]bool
	runCtx   context.Context
	cancels  map[string]context.CancelFunc
	loopWG   sync.WaitGroup
}

func NewController(sink Sink, alerter *quality.Alerter, policy retry.Policy, maxFailures int) *Controller {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Controller{
		sink:        sink,
		alerter:     alerter,
		policy:      policy,
		maxFailures: maxFailures,
		adapters:    make(map[string]Adapter),
		failures:    make(map[string]int),
		degraded:    make(map[string]bool),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Register adds an adapter to the controller, spawning its poll loop when
// the controller is already running. Registering a name again swaps the
// adapter in place; its loop picks up the new one on the next cycle.
func (c *Controller) Register(a Adapter) {
	name := a.Source().Name
	c.mu.Lock()
	c.adapters[name] = a
	c.degraded[name] = false
	if c.runCtx != nil {
		c.spawnLocked(name)
	}
	c.mu.Unlock()
	quality.AdapterHealthy.WithLabelValues(name).Set(1)
}

// Replace reconciles the registered adapters against a new set on config
// reload: loops for dropped sources are cancelled, loops for new sources
// are spawned, and sources present in both keep their loop but poll the
// replacement adapter from the next cycle on.
func (c *Controller) Replace(adapters []Adapter) {
	next := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		next[a.Source().Name] = a
	}

	var removed []string
	c.mu.Lock()
	for name := range c.adapters {
		if _, keep := next[name]; !keep {
			removed = append(removed, name)
			if cancel, ok := c.cancels[name]; ok {
				cancel()
				delete(c.cancels, name)
			}
			delete(c.adapters, name)
			delete(c.failures, name)
			delete(c.degraded, name)
		}
	}
	c.mu.Unlock()
	for _, name := range removed {
		quality.AdapterHealthy.DeleteLabelValues(name)
	}

	for _, a := range adapters {
		c.Register(a)
	}
}

// adapter returns the current adapter for a source, or false when the
// source has been dropped.
func (c *Controller) adapter(name string) (Adapter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.adapters[name]
	return a, ok
}

func (c *Controller) snapshot() []Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Adapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		out = append(out, a)
	}
	return out
}

// spawnLocked starts the poll loop for a source under c.mu. Idempotent per
// name: a source that already has a loop keeps it.
func (c *Controller) spawnLocked(name string) {
	if _, running := c.cancels[name]; running {
		return
	}
	loopCtx, cancel := context.WithCancel(c.runCtx)
	c.cancels[name] = cancel
	c.loopWG.Add(1)
	go func() {
		defer c.loopWG.Done()
		c.pollLoop(loopCtx, name)
	}()
}

// RunOnce executes one poll cycle for every adapter concurrently and waits
// for all of them. Used by the one-shot loader and at startup.
func (c *Controller) RunOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, a := range c.snapshot() {
		wg.Add(1)
		go func(adapter Adapter) {
			defer wg.Done()
			c.poll(ctx, adapter)
		}(a)
	}
	wg.Wait()
}

// Run polls every registered source on its own interval until ctx is
// cancelled, supervising loops for sources registered or replaced while
// running.
func (c *Controller) Run(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	for name := range c.adapters {
		c.spawnLocked(name)
	}
	c.mu.Unlock()

	<-ctx.Done()
	c.loopWG.Wait()
}

func pollInterval(a Adapter) time.Duration {
	if d := a.Source().PollInterval.Std(); d > 0 {
		return d
	}
	return 15 * time.Minute
}

// pollLoop polls one source by name, re-resolving the adapter each cycle
// so Replace takes effect without restarting the loop.
func (c *Controller) pollLoop(ctx context.Context, name string) {
	a, ok := c.adapter(name)
	if !ok {
		return
	}
	interval := pollInterval(a)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.poll(ctx, a)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a, ok = c.adapter(name)
			if !ok {
				return
			}
			if next := pollInterval(a); next != interval {
				interval = next
				ticker.Reset(next)
			}
			c.poll(ctx, a)
		}
	}
}

// poll runs one fetch-parse-process cycle for a single adapter. Fetch goes
// through the shared retry policy; exhausting it counts one failure toward
// degradation. Parse failures drop the record and count it; the adapter
// continues.
func (c *Controller) poll(ctx context.Context, a Adapter) {
	name := a.Source().Name

	var records Records
	err := c.policy.Do(ctx, func() error {
		var ferr error
		records, ferr = a.Fetch(ctx)
		return ferr
	})
	if err != nil {
		quality.FeedFetchFailures.WithLabelValues(name).Inc()
		c.recordFailure(name, err)
		return
	}
	defer records.Close()

	fetched, parsed := 0, 0
	for {
		raw, err := records.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			quality.FeedFetchFailures.WithLabelValues(name).Inc()
			c.recordFailure(name, err)
			return
		}
		fetched++
		quality.FeedRecordsFetched.WithLabelValues(name).Inc()

		ind, err := a.Parse(raw)
		if err != nil {
			quality.FeedParseErrors.WithLabelValues(name).Inc()
			continue
		}
		if err := c.sink.Process(ctx, ind); err != nil {
			// Store unavailability halts this cycle; the next poll retries.
			slog.Error("pipeline halted mid-cycle", "source", name, "err", err)
			if errors.Is(err, store.ErrStoreUnavailable) && c.alerter != nil {
				c.alerter.Raise(quality.AlertWarmStoreUnavail, map[string]string{"source": name})
			}
			c.recordFailure(name, err)
			return
		}
		parsed++
	}

	c.recordSuccess(name)
	slog.Info("feed poll complete", "source", name, "fetched", fetched, "processed", parsed)
}

func (c *Controller) recordFailure(name string, err error) {
	slog.Error("feed poll failed", "source", name, "err", err)
	c.mu.Lock()
	c.failures[name]++
	count := c.failures[name]
	newlyDegraded := count >= c.maxFailures && !c.degraded[name]
	if newlyDegraded {
		c.degraded[name] = true
	}
	c.mu.Unlock()

	if newlyDegraded {
		quality.AdapterHealthy.WithLabelValues(name).Set(0)
		if c.alerter != nil {
			c.alerter.Raise(quality.AlertFeedDegraded, map[string]string{
				"source": name,
				"error":  err.Error(),
			})
		}
	}
}

func (c *Controller) recordSuccess(name string) {
	c.mu.Lock()
	wasDegraded := c.degraded[name]
	c.failures[name] = 0
	c.degraded[name] = false
	c.mu.Unlock()
	quality.AdapterHealthy.WithLabelValues(name).Set(1)
	if wasDegraded {
		slog.Info("feed adapter recovered", "source", name)
	}
}

// Degraded reports whether the named adapter has exceeded its failure cap
// without a successful poll since.
func (c *Controller) Degraded(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded[name]
}
