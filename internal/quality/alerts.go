package quality

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Alert names raised by pipeline stages. Operator-visible failures are
// surfaced as named alerts with counts, never raw stack traces.
const (
	AlertFeedDegraded        = "feed_degraded"
	AlertWarmStoreUnavail    = "warm_store_unavailable"
	AlertMitigationFailed    = "mitigation_failed"
	AlertSIEMDeliveryFailed  = "siem_delivery_failed"
	AlertEnrichmentDegraded  = "enrichment_degraded"
	AlertTelemetryConsumeErr = "telemetry_consume_error"
)

// AlertSubject is the NATS subject quality alerts are published on.
const AlertSubject = "threatpipe.alerts.quality"

type alertMessage struct {
	Alert     string            `json:"alert"`
	Count     uint64            `json:"count"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Alerter publishes named degradation alerts. A nil connection makes it a
// log-only alerter, which keeps the pipeline usable without a broker.
type Alerter struct {
	nc     *nats.Conn
	mu     sync.Mutex
	counts map[string]uint64
}

func NewAlerter(nc *nats.Conn) *Alerter {
	return &Alerter{nc: nc, counts: make(map[string]uint64)}
}

// Raise increments the alert counter and publishes the alert with its
// running count.
func (a *Alerter) Raise(name string, fields map[string]string) {
	a.mu.Lock()
	a.counts[name]++
	count := a.counts[name]
	a.mu.Unlock()

	slog.Warn("quality alert", "alert", name, "count", count, "fields", fields)
	if a.nc == nil {
		return
	}
	msg := alertMessage{Alert: name, Count: count, Timestamp: time.Now().UTC(), Fields: fields}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := a.nc.Publish(AlertSubject, data); err != nil {
		slog.Error("alert publish failed", "alert", name, "err", err)
	}
}

// Count returns how many times the named alert has been raised.
func (a *Alerter) Count(name string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[name]
}
