package store

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"threatpipe/internal/indicator"
	"threatpipe/internal/quality"
)

// ErrStoreUnavailable wraps warm tier failures. Warm unavailability is fatal
// to durability: an indicator is not considered stored until it is durable,
// so callers must stop merging until the tier recovers.
var ErrStoreUnavailable = errors.New("store unavailable")

// MergeFunc combines an existing record with a re-observation of the same
// (type, value) key.
type MergeFunc func(existing, incoming indicator.Indicator) indicator.Indicator

const lockStripes = 128

// maxInflightPromotions caps concurrent warm-to-hot cache fills. A
// miss-heavy telemetry stream sheds promotions past the cap instead of
// fanning out a goroutine per miss.
const maxInflightPromotions = 64

// Tiered coordinates the hot, warm and cold tiers. Writes flow hot and warm
// synchronously; warm to cold moves on the periodic Archive job. Writers
// hold a per-key stripe lock for the whole read-modify-write merge, so
// unrelated keys proceed concurrently.
type Tiered struct {
	hot   *Hot
	warm  *Warm
	cold  *Cold
	merge MergeFunc
	locks [lockStripes]sync.Mutex

	promoteMu  sync.Mutex
	promoting  map[string]struct{}
	promoteSem chan struct{}
}

func NewTiered(hot *Hot, warm *Warm, cold *Cold, merge MergeFunc) *Tiered {
	return &Tiered{
		hot:        hot,
		warm:       warm,
		cold:       cold,
		merge:      merge,
		promoting:  make(map[string]struct{}),
		promoteSem: make(chan struct{}, maxInflightPromotions),
	}
}

func (t *Tiered) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.locks[h.Sum32()%lockStripes]
}

// Upsert merges incoming with any live record under the same key and stores
// the result. The merged indicator is durable in warm before it becomes
// visible in hot.
func (t *Tiered) Upsert(ctx context.Context, incoming indicator.Indicator) (indicator.Indicator, error) {
	if err := ctx.Err(); err != nil {
		return indicator.Indicator{}, err
	}
	key := incoming.Key()
	mu := t.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	merged := incoming
	existing, found := t.hot.Get(key)
	if !found {
		var err error
		existing, found, err = t.warm.Get(key)
		if err != nil {
			return indicator.Indicator{}, err
		}
	}
	if found {
		merged = t.merge(existing, incoming)
	}

	if err := t.warm.Put(merged); err != nil {
		return indicator.Indicator{}, err
	}
	switch merged.Status {
	case indicator.StatusExpired, indicator.StatusWhitelisted:
		t.hot.Remove(key)
	default:
		t.hot.Put(merged)
	}
	quality.IndicatorsMerged.Inc()
	return merged, nil
}

// LookupHot answers from the hot tier only. This is the real-time detection
// path: a miss is a miss, never a synchronous warm read.
func (t *Tiered) LookupHot(key string) (indicator.Indicator, bool) {
	return t.hot.Get(key)
}

// Lookup answers hot-first and falls back to warm, promoting warm hits into
// hot. This is the batch detection and investigation path.
func (t *Tiered) Lookup(ctx context.Context, key string) (indicator.Indicator, bool, error) {
	if ind, ok := t.hot.Get(key); ok {
		return ind, true, nil
	}
	if err := ctx.Err(); err != nil {
		return indicator.Indicator{}, false, err
	}
	ind, found, err := t.warm.Get(key)
	if err != nil || !found {
		return indicator.Indicator{}, false, err
	}
	if ind.Status == indicator.StatusActive || ind.Status == indicator.StatusAging {
		t.hot.Put(ind)
	}
	return ind, true, nil
}

// PromoteAsync schedules a warm-to-hot cache fill without blocking the
// caller. Real-time detection uses it after a hot miss so the next
// observation of the same value hits. At most one fill runs per key, and
// fills past the concurrency cap are shed; a later miss schedules again.
func (t *Tiered) PromoteAsync(key string) {
	t.promoteMu.Lock()
	if _, inflight := t.promoting[key]; inflight {
		t.promoteMu.Unlock()
		return
	}
	select {
	case t.promoteSem <- struct{}{}:
	default:
		t.promoteMu.Unlock()
		return
	}
	t.promoting[key] = struct{}{}
	t.promoteMu.Unlock()

	go func() {
		defer func() {
			t.promoteMu.Lock()
			delete(t.promoting, key)
			t.promoteMu.Unlock()
			<-t.promoteSem
		}()
		ind, found, err := t.warm.Get(key)
		if err != nil || !found {
			return
		}
		if ind.Status == indicator.StatusActive || ind.Status == indicator.StatusAging {
			t.hot.Put(ind)
		}
	}()
}

// Update rewrites a record after a lifecycle transition. Expired and
// whitelisted records leave the hot tier so they can no longer match.
func (t *Tiered) Update(ctx context.Context, ind indicator.Indicator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := ind.Key()
	mu := t.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := t.warm.Put(ind); err != nil {
		return err
	}
	switch ind.Status {
	case indicator.StatusExpired, indicator.StatusWhitelisted:
		t.hot.Remove(key)
	default:
		t.hot.Put(ind)
	}
	return nil
}

// Archive moves expired records from warm to cold storage. It is safe to
// cancel between chunks; a completed segment is never partially merged.
func (t *Tiered) Archive(ctx context.Context) (int, error) {
	var expired []indicator.Indicator
	err := t.warm.ForEach(ctx, func(ind indicator.Indicator) error {
		if ind.Status == indicator.StatusExpired {
			expired = append(expired, ind)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	name, err := t.cold.Append(expired)
	if err != nil {
		return 0, err
	}
	for i, ind := range expired {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return i, err
			}
		}
		if err := t.warm.Delete(ind.Key()); err != nil {
			return i, err
		}
		quality.ArchivedIndicators.Inc()
	}
	slog.Info("archived expired indicators", "count", len(expired), "segment", name)
	return len(expired), nil
}

// Warm exposes the warm tier for range queries and sweeps.
func (t *Tiered) Warm() *Warm { return t.warm }

// Cold exposes the archival tier for audit tooling.
func (t *Tiered) Cold() *Cold { return t.cold }

// Close releases the durable tiers.
func (t *Tiered) Close() error {
	return t.warm.Close()
}
