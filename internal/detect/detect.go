// Package detect matches live and historical telemetry against the stored
// indicator set, in real time and in batch.
package detect

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"threatpipe/internal/indicator"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/quality"
	"threatpipe/internal/store"
)

// Matching modes.
const (
	MethodRealtime = "realtime"
	MethodBatch    = "batch"
)

// Detection is produced when telemetry matches a stored indicator. It is
// immutable once created; re-analysis produces new records.
type Detection struct {
	ID        string              `json:"id"`
	Indicator indicator.Indicator `json:"indicator"`
	Event     string              `json:"event"`
	Timestamp time.Time           `json:"timestamp"`
	Severity  float64             `json:"severity"`
	Method    string              `json:"method"`
}

// DefaultMinConfidence is the detection threshold when none is configured.
const DefaultMinConfidence = 0.6

// Engine runs both matching modes against the same tiered store.
type Engine struct {
	store         *store.Tiered
	whitelist     *lifecycle.Whitelist
	minConfidence float64
}

func NewEngine(st *store.Tiered, wl *lifecycle.Whitelist, minConfidence float64) *Engine {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Engine{store: st, whitelist: wl, minConfidence: minConfidence}
}

// ScanEvent is the real-time path: extract candidates, point-look them up
// in the hot tier only, and emit a Detection per active match above the
// confidence threshold. A hot miss is answered as "no match"; promotion
// from warm happens asynchronously for next time, keeping this path inside
// its latency budget.
func (e *Engine) ScanEvent(ctx context.Context, payload string) []Detection {
	start := time.Now()
	defer func() {
		quality.DetectionLatency.Observe(time.Since(start).Seconds())
	}()

	var detections []Detection
	for _, cand := range Extract(payload) {
		if ctx.Err() != nil {
			break
		}
		key := indicator.Key(cand.Type, cand.Value)
		ind, ok := e.store.LookupHot(key)
		if !ok {
			e.store.PromoteAsync(key)
			continue
		}
		if det, ok := e.evaluate(ind, payload, MethodRealtime); ok {
			detections = append(detections, det)
		}
	}
	return detections
}

// ScanBatch is the batch path: it scans a bounded window of historical
// telemetry line by line, deduplicates candidates across the whole window
// before querying the store in bulk, and emits one Detection per confirmed
// match. Batch mode trades latency for throughput.
func (e *Engine) ScanBatch(ctx context.Context, r io.Reader) ([]Detection, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	// Candidate extraction deduplicated across the window: each raw value
	// is checked against the store at most once.
	seen := make(map[string]Candidate)
	firstEvent := make(map[string]string)
	n := 0
	for sc.Scan() {
		n++
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := sc.Text()
		for _, cand := range Extract(line) {
			key := indicator.Key(cand.Type, cand.Value)
			if _, dup := seen[key]; !dup {
				seen[key] = cand
				firstEvent[key] = line
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var detections []Detection
	for key := range seen {
		ind, found, err := e.store.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if det, ok := e.evaluate(ind, firstEvent[key], MethodBatch); ok {
			detections = append(detections, det)
		}
	}
	return detections, nil
}

// evaluate decides whether a stored indicator confirms a match. Both modes
// share it, so they agree on outcome for the same indicator and event.
func (e *Engine) evaluate(ind indicator.Indicator, event, method string) (Detection, bool) {
	if e.whitelist != nil && e.whitelist.Contains(ind.Key(), time.Now()) {
		return Detection{}, false
	}
	if !ind.Matchable(e.minConfidence) {
		return Detection{}, false
	}
	quality.Detections.WithLabelValues(method).Inc()
	return Detection{
		ID:        uuid.NewString(),
		Indicator: ind,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Severity:  Severity(ind),
		Method:    method,
	}, true
}

// typeWeights rank indicator types by how actionable a match is.
var typeWeights = map[indicator.Type]float64{
	indicator.TypeIP:         0.8,
	indicator.TypeDomain:     0.7,
	indicator.TypeURL:        0.75,
	indicator.TypeMD5:        0.9,
	indicator.TypeSHA1:       0.9,
	indicator.TypeSHA256:     0.9,
	indicator.TypeRegistry:   0.65,
	indicator.TypeProcess:    0.6,
	indicator.TypeCommand:    0.7,
	indicator.TypeBehavioral: 0.5,
}

// Severity computes a [0,1] severity from the indicator type, its
// confidence and corroboration in its context.
func Severity(ind indicator.Indicator) float64 {
	w, ok := typeWeights[ind.Type]
	if !ok {
		w = 0.5
	}
	s := w * ind.Confidence
	if len(ind.Sources) > 1 {
		s += 0.05
	}
	if _, ok := ind.Context["reputation.score"]; ok {
		s += 0.05
	}
	return indicator.ClampConfidence(s)
}
