package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpipe/internal/indicator"
)

type fakeEnricher struct {
	name   string
	fields map[string]string
	err    error
	delay  time.Duration
	calls  atomic.Int64
}

func (f *fakeEnricher) Name() string { return f.name }

func (f *fakeEnricher) Enrich(ctx context.Context, _ indicator.Indicator) (map[string]string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.fields, f.err
}

func testInd() indicator.Indicator {
	return indicator.New(indicator.TypeIP, "203.0.113.9", "feed-a", 0.8, time.Now())
}

func TestEnrichMergesDeltas(t *testing.T) {
	e := NewEngine(time.Second, 16, time.Minute)
	e.Register(&fakeEnricher{name: "geo", fields: map[string]string{"geo.region": "EU"}})
	e.Register(&fakeEnricher{name: "reputation", fields: map[string]string{"reputation.score": "87"}})

	got := e.Enrich(context.Background(), testInd())
	assert.Equal(t, map[string]string{"geo.region": "EU", "reputation.score": "87"}, got)
}

func TestEnrichPartialOnFailure(t *testing.T) {
	e := NewEngine(time.Second, 16, time.Minute)
	e.Register(&fakeEnricher{name: "geo", fields: map[string]string{"geo.region": "EU"}})
	e.Register(&fakeEnricher{name: "reputation", err: errors.New("upstream 503")})

	got := e.Enrich(context.Background(), testInd())
	assert.Equal(t, map[string]string{"geo.region": "EU"}, got)
}

func TestEnrichTimeoutYieldsPartial(t *testing.T) {
	e := NewEngine(50*time.Millisecond, 16, time.Minute)
	e.Register(&fakeEnricher{name: "fast", fields: map[string]string{"geo.region": "EU"}})
	e.Register(&fakeEnricher{name: "slow", fields: map[string]string{"dns.resolved": "x"}, delay: 2 * time.Second})

	start := time.Now()
	got := e.Enrich(context.Background(), testInd())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, map[string]string{"geo.region": "EU"}, got)
}

func TestEnrichCachesResults(t *testing.T) {
	fake := &fakeEnricher{name: "geo", fields: map[string]string{"geo.region": "EU"}}
	e := NewEngine(time.Second, 16, time.Minute)
	e.Register(fake)

	ind := testInd()
	first := e.Enrich(context.Background(), ind)
	second := e.Enrich(context.Background(), ind)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), fake.calls.Load())
}

func TestEnrichNoEnrichers(t *testing.T) {
	e := NewEngine(time.Second, 16, time.Minute)
	assert.Nil(t, e.Enrich(context.Background(), testInd()))
}

func TestGeoEnricher(t *testing.T) {
	geo, err := NewGeoEnricher(map[string]string{
		"203.0.113.0/24":  "EU",
		"198.51.100.0/24": "NA",
	})
	require.NoError(t, err)

	fields, err := geo.Enrich(context.Background(), testInd())
	require.NoError(t, err)
	assert.Equal(t, "EU", fields["geo.region"])

	// Non-IP indicators contribute nothing.
	fields, err = geo.Enrich(context.Background(),
		indicator.New(indicator.TypeDomain, "evil.example.com", "feed-a", 0.8, time.Now()))
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = NewGeoEnricher(map[string]string{"not-a-prefix": "EU"})
	assert.Error(t, err)
}

func TestReputationEnricher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		assert.Equal(t, "ip", r.URL.Query().Get("type"))
		assert.Equal(t, "203.0.113.9", r.URL.Query().Get("value"))
		w.Write([]byte(`{"score": 0.95, "reports": 12}`))
	}))
	defer srv.Close()

	rep := NewReputationEnricher(srv.URL, "sekrit", srv.Client())
	fields, err := rep.Enrich(context.Background(), testInd())
	require.NoError(t, err)
	assert.Equal(t, "0.95", fields["reputation.score"])
	assert.Equal(t, "12", fields["reputation.reports"])
}

func TestReputationEnricherUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rep := NewReputationEnricher(srv.URL, "", srv.Client())
	_, err := rep.Enrich(context.Background(), testInd())
	assert.Error(t, err)
}
