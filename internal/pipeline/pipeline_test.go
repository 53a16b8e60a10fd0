package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpipe/internal/enrich"
	"threatpipe/internal/indicator"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/store"
	"threatpipe/internal/validate"
)

type staticEnricher struct{ fields map[string]string }

func (s staticEnricher) Name() string { return "static" }
func (s staticEnricher) Enrich(context.Context, indicator.Indicator) (map[string]string, error) {
	return s.fields, nil
}

func newTestStore(t *testing.T) *store.Tiered {
	t.Helper()
	hot, err := store.NewHot(64)
	require.NoError(t, err)
	warm, err := store.OpenWarm(t.TempDir())
	require.NoError(t, err)
	cold, err := store.OpenCold(t.TempDir())
	require.NoError(t, err)
	st := store.NewTiered(hot, warm, cold, lifecycle.MergePolicy{}.Func())
	t.Cleanup(func() { st.Close() })
	return st
}

func TestProcessStoresValidIndicator(t *testing.T) {
	st := newTestStore(t)
	eng := enrich.NewEngine(time.Second, 16, time.Minute)
	eng.Register(staticEnricher{fields: map[string]string{"geo.region": "EU"}})
	p := New(validate.New(), eng, st, nil)

	ind := indicator.New(indicator.TypeIP, "203.0.113.9", "feed-a", 0.8, time.Now())
	require.NoError(t, p.Process(context.Background(), ind))

	got, found, err := st.Lookup(context.Background(), ind.Key())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "EU", got.Context["geo.region"])
	assert.Equal(t, indicator.StatusActive, got.Status)
}

func TestProcessDropsInvalidSilently(t *testing.T) {
	st := newTestStore(t)
	p := New(validate.New(), nil, st, nil)

	bad := indicator.New(indicator.TypeIP, "999.999.999.999", "feed-a", 0.8, time.Now())
	require.NoError(t, p.Process(context.Background(), bad))

	count, err := st.Warm().Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessMarksWhitelisted(t *testing.T) {
	st := newTestStore(t)
	wl := lifecycle.NewWhitelist([]lifecycle.WhitelistEntry{
		{Type: indicator.TypeDomain, Value: "cdn.example.com"},
	})
	p := New(validate.New(), nil, st, wl)

	ind := indicator.New(indicator.TypeDomain, "cdn.example.com", "feed-a", 0.9, time.Now())
	require.NoError(t, p.Process(context.Background(), ind))

	got, found, err := st.Warm().Get(ind.Key())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, indicator.StatusWhitelisted, got.Status)
	assert.False(t, got.Matchable(0))
}

func TestWhitelistRoundTrip(t *testing.T) {
	// An indicator that arrives, is whitelisted mid-flight and re-observed
	// never becomes matchable again.
	st := newTestStore(t)
	wl := lifecycle.NewWhitelist(nil)
	p := New(validate.New(), nil, st, wl)
	ctx := context.Background()

	ind := indicator.New(indicator.TypeDomain, "cdn.example.com", "feed-a", 0.9, time.Now())
	require.NoError(t, p.Process(ctx, ind))

	wl.Swap([]lifecycle.WhitelistEntry{{Type: indicator.TypeDomain, Value: "cdn.example.com"}})
	require.NoError(t, p.Process(ctx, indicator.New(indicator.TypeDomain, "cdn.example.com", "feed-b", 0.95, time.Now())))

	got, found, err := st.Warm().Get(ind.Key())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, indicator.StatusWhitelisted, got.Status)
}
