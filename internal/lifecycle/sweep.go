package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"threatpipe/internal/indicator"
	"threatpipe/internal/quality"
	"threatpipe/internal/store"
)

// DefaultAgingThresholds are the per-type ages after which an indicator
// starts aging. Expiry follows after an additional grace period.
var DefaultAgingThresholds = map[indicator.Type]time.Duration{
	indicator.TypeIP:     30 * 24 * time.Hour,
	indicator.TypeDomain: 90 * 24 * time.Hour,
	indicator.TypeURL:    7 * 24 * time.Hour,
	indicator.TypeMD5:    365 * 24 * time.Hour,
	indicator.TypeSHA1:   365 * 24 * time.Hour,
	indicator.TypeSHA256: 365 * 24 * time.Hour,
}

// DefaultThreshold applies to types without a specific entry.
const DefaultThreshold = 90 * 24 * time.Hour

// DefaultDecay is the confidence multiplier applied on the transition to
// aging.
const DefaultDecay = 0.8

// DefaultExpiryGrace is how long an indicator stays in aging before it
// expires.
const DefaultExpiryGrace = 30 * 24 * time.Hour

// SweepStats summarizes one age sweep pass.
type SweepStats struct {
	Scanned int
	Aged    int
	Expired int
}

// Sweeper runs the scheduled age sweep: indicators whose lastSeen is older
// than their type threshold move to aging with decayed confidence, and past
// the threshold plus the expiry grace to expired, leaving the hot tier.
// Whitelisted records are immune.
type Sweeper struct {
	store      *store.Tiered
	whitelist  *Whitelist
	thresholds map[indicator.Type]time.Duration
	decay      float64
}

func NewSweeper(st *store.Tiered, wl *Whitelist, thresholds map[indicator.Type]time.Duration, decay float64) *Sweeper {
	if thresholds == nil {
		thresholds = DefaultAgingThresholds
	}
	if decay <= 0 || decay > 1 {
		decay = DefaultDecay
	}
	return &Sweeper{store: st, whitelist: wl, thresholds: thresholds, decay: decay}
}

func (s *Sweeper) threshold(t indicator.Type) time.Duration {
	if d, ok := s.thresholds[t]; ok {
		return d
	}
	return DefaultThreshold
}

// Sweep performs one pass over the warm tier. It first collects the
// transitions under a read transaction, then applies them in chunks with
// cancellation checkpoints, so an interrupted run never leaves a partial
// merge.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepStats, error) {
	var stats SweepStats
	var pending []indicator.Indicator

	err := s.store.Warm().ForEach(ctx, func(ind indicator.Indicator) error {
		stats.Scanned++
		if ind.Status == indicator.StatusExpired || ind.Status == indicator.StatusWhitelisted {
			return nil
		}
		if s.whitelist != nil && s.whitelist.Contains(ind.Key(), now) {
			return nil
		}
		age := now.Sub(ind.LastSeen)
		threshold := s.threshold(ind.Type)
		switch {
		case age > threshold+DefaultExpiryGrace:
			ind.Status = indicator.StatusExpired
			pending = append(pending, ind)
		case age > threshold && ind.Status == indicator.StatusActive:
			ind.Status = indicator.StatusAging
			ind.Confidence = indicator.ClampConfidence(ind.Confidence * s.decay)
			pending = append(pending, ind)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for i, ind := range pending {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
		if err := s.store.Update(ctx, ind); err != nil {
			return stats, err
		}
		switch ind.Status {
		case indicator.StatusAging:
			stats.Aged++
			quality.SweepTransitions.WithLabelValues(string(indicator.StatusAging)).Inc()
		case indicator.StatusExpired:
			stats.Expired++
			quality.SweepTransitions.WithLabelValues(string(indicator.StatusExpired)).Inc()
		}
	}
	return stats, nil
}

// Run sweeps on a fixed schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.Sweep(ctx, time.Now())
			if err != nil {
				slog.Error("age sweep failed", "err", err)
				continue
			}
			slog.Info("age sweep complete",
				"scanned", stats.Scanned, "aged", stats.Aged, "expired", stats.Expired)
		}
	}
}
