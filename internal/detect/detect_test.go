package detect

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpipe/internal/indicator"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/store"
)

func newTestStore(t *testing.T) *store.Tiered {
	t.Helper()
	hot, err := store.NewHot(128)
	require.NoError(t, err)
	warm, err := store.OpenWarm(t.TempDir())
	require.NoError(t, err)
	cold, err := store.OpenCold(t.TempDir())
	require.NoError(t, err)
	st := store.NewTiered(hot, warm, cold, lifecycle.MergePolicy{}.Func())
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st *store.Tiered, typ indicator.Type, value string, conf float64) indicator.Indicator {
	t.Helper()
	ind, err := st.Upsert(context.Background(), indicator.New(typ, value, "feed-a", conf, time.Now()))
	require.NoError(t, err)
	return ind
}

func TestScanEventMatchesHotTier(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, indicator.TypeDomain, "bad-example.test", 0.9)

	e := NewEngine(st, nil, 0.6)
	dets := e.ScanEvent(context.Background(), "dns query for bad-example.test from host-7")
	require.Len(t, dets, 1)

	det := dets[0]
	assert.Equal(t, MethodRealtime, det.Method)
	assert.Equal(t, "bad-example.test", det.Indicator.Value)
	assert.NotEmpty(t, det.ID)
	assert.InDelta(t, 0.7*0.9, det.Severity, 1e-9)
}

func TestScanEventMatchesIPv6(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, indicator.TypeIP, "2001:0DB8::1", 0.9)

	e := NewEngine(st, nil, 0.6)
	dets := e.ScanEvent(context.Background(), "outbound flow to 2001:db8:0:0:0:0:0:1 port 443")
	require.Len(t, dets, 1)
	assert.Equal(t, "2001:db8::1", dets[0].Indicator.Value)
}

func TestScanEventBelowThreshold(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, indicator.TypeDomain, "meh.example.com", 0.4)

	e := NewEngine(st, nil, 0.6)
	assert.Empty(t, e.ScanEvent(context.Background(), "lookup meh.example.com"))
}

func TestScanEventHotMissPromotes(t *testing.T) {
	st := newTestStore(t)

	// Warm-only record: durable but not yet resident in hot.
	ind := indicator.New(indicator.TypeIP, "203.0.113.9", "feed-a", 0.9, time.Now())
	require.NoError(t, st.Warm().Put(ind))
	_, ok := st.LookupHot(ind.Key())
	require.False(t, ok)

	// The first scan misses and schedules promotion instead of blocking.
	e := NewEngine(st, nil, 0.6)
	assert.Empty(t, e.ScanEvent(context.Background(), "from 203.0.113.9"))

	// Once promotion lands, the same event matches.
	require.Eventually(t, func() bool {
		_, ok := st.LookupHot(ind.Key())
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, e.ScanEvent(context.Background(), "from 203.0.113.9"), 1)
}

func TestWhitelistedNeverMatches(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, indicator.TypeDomain, "cdn.example.com", 0.95)
	wl := lifecycle.NewWhitelist([]lifecycle.WhitelistEntry{
		{Type: indicator.TypeDomain, Value: "cdn.example.com"},
	})

	e := NewEngine(st, wl, 0.6)
	assert.Empty(t, e.ScanEvent(context.Background(), "fetch from cdn.example.com"))

	dets, err := e.ScanBatch(context.Background(), strings.NewReader("fetch from cdn.example.com\n"))
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestRealtimeAndBatchAgree(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, indicator.TypeDomain, "bad-example.test", 0.9)
	seed(t, st, indicator.TypeIP, "203.0.113.9", 0.7)
	seed(t, st, indicator.TypeDomain, "meh.example.com", 0.3)

	event := "conn 203.0.113.9 resolved bad-example.test and meh.example.com"
	e := NewEngine(st, nil, 0.6)

	rt := e.ScanEvent(context.Background(), event)
	batch, err := e.ScanBatch(context.Background(), strings.NewReader(event+"\n"))
	require.NoError(t, err)

	keys := func(dets []Detection) map[string]bool {
		m := make(map[string]bool)
		for _, d := range dets {
			m[d.Indicator.Key()] = true
		}
		return m
	}
	assert.Equal(t, keys(rt), keys(batch))
	assert.Len(t, rt, 2)
	for _, d := range batch {
		assert.Equal(t, MethodBatch, d.Method)
	}
}

func TestScanBatchDeduplicatesAcrossWindow(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, indicator.TypeIP, "203.0.113.9", 0.9)

	window := strings.Repeat("syn from 203.0.113.9\n", 50)
	e := NewEngine(st, nil, 0.6)
	dets, err := e.ScanBatch(context.Background(), strings.NewReader(window))
	require.NoError(t, err)
	assert.Len(t, dets, 1)
}

func TestSeverity(t *testing.T) {
	now := time.Now()
	ind := indicator.New(indicator.TypeSHA256,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "feed-a", 1, now)
	assert.InDelta(t, 0.9, Severity(ind), 1e-9)

	ind.Sources = []string{"feed-a", "feed-b"}
	assert.InDelta(t, 0.95, Severity(ind), 1e-9)

	ind.Context = map[string]string{"reputation.score": "0.99"}
	assert.InDelta(t, 1.0, Severity(ind), 1e-9)

	low := indicator.New(indicator.TypeBehavioral, "beacon-interval-60s", "feed-a", 0.5, now)
	assert.InDelta(t, 0.25, Severity(low), 1e-9)
}
