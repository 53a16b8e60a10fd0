package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpipe/internal/detect"
	"threatpipe/internal/indicator"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/respond"
	"threatpipe/internal/retry"
	"threatpipe/internal/store"
)

type env struct {
	srv   *Server
	store *store.Tiered
	sunk  *sunkDetections
}

type sunkDetections struct {
	mu   sync.Mutex
	dets []detect.Detection
}

func (s *sunkDetections) sink(_ context.Context, dets []detect.Detection) {
	s.mu.Lock()
	s.dets = append(s.dets, dets...)
	s.mu.Unlock()
}

func (s *sunkDetections) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dets)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hot, err := store.NewHot(64)
	require.NoError(t, err)
	warm, err := store.OpenWarm(t.TempDir())
	require.NoError(t, err)
	cold, err := store.OpenCold(t.TempDir())
	require.NoError(t, err)
	st := store.NewTiered(hot, warm, cold, lifecycle.MergePolicy{}.Func())
	t.Cleanup(func() { st.Close() })

	detector := detect.NewEngine(st, nil, 0.6)
	orch := respond.NewOrchestrator(nil, respond.NewAuditLog(0), respond.NewQueue(0), nil, nil, nil, respond.Config{
		Retry: retry.Policy{MaxAttempts: 1, Initial: time.Millisecond},
	})
	sunk := &sunkDetections{}
	return &env{
		srv:   New(detector, st, orch, sunk.sink, func() error { return nil }),
		store: st,
		sunk:  sunk,
	}
}

func (e *env) seed(t *testing.T, typ indicator.Type, value string, conf float64) indicator.Indicator {
	t.Helper()
	ind, err := e.store.Upsert(context.Background(), indicator.New(typ, value, "feed-a", conf, time.Now()))
	require.NoError(t, err)
	return ind
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHandleEvent(t *testing.T) {
	e := newEnv(t)
	e.seed(t, indicator.TypeIP, "203.0.113.9", 0.9)

	rec, out := doJSON(t, e.srv.Router(), http.MethodPost, "/v1/events",
		`{"payload": "inbound from 203.0.113.9 port 4444"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	dets, ok := out["detections"].([]any)
	require.True(t, ok)
	require.Len(t, dets, 1)

	require.Eventually(t, func() bool { return e.sunk.count() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestHandleEventBadBody(t *testing.T) {
	e := newEnv(t)
	rec, _ := doJSON(t, e.srv.Router(), http.MethodPost, "/v1/events", `{"payload": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatchScan(t *testing.T) {
	e := newEnv(t)
	e.seed(t, indicator.TypeDomain, "evil.example.com", 0.9)

	window := "lookup evil.example.com\nlookup benign.example.org\nlookup evil.example.com\n"
	rec, out := doJSON(t, e.srv.Router(), http.MethodPost, "/v1/batch/scan", window)
	require.Equal(t, http.StatusOK, rec.Code)

	dets, ok := out["detections"].([]any)
	require.True(t, ok)
	assert.Len(t, dets, 1)
}

func TestGetIndicator(t *testing.T) {
	e := newEnv(t)
	e.seed(t, indicator.TypeDomain, "evil.example.com", 0.9)

	rec, out := doJSON(t, e.srv.Router(), http.MethodGet, "/v1/indicators/domain/EVIL.example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "evil.example.com", out["value"])

	rec, _ = doJSON(t, e.srv.Router(), http.MethodGet, "/v1/indicators/domain/unknown.example.net", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, e.srv.Router(), http.MethodGet, "/v1/indicators/cidr/10.0.0.0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryIndicatorsByTag(t *testing.T) {
	e := newEnv(t)
	ind := indicator.New(indicator.TypeDomain, "evil.example.com", "feed-a", 0.9, time.Now())
	ind.Tags = []string{"botnet"}
	_, err := e.store.Upsert(context.Background(), ind)
	require.NoError(t, err)

	rec, out := doJSON(t, e.srv.Router(), http.MethodGet, "/v1/indicators?tag=botnet", "")
	require.Equal(t, http.StatusOK, rec.Code)
	inds, ok := out["indicators"].([]any)
	require.True(t, ok)
	assert.Len(t, inds, 1)

	rec, _ = doJSON(t, e.srv.Router(), http.MethodGet, "/v1/indicators", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReload(t *testing.T) {
	e := newEnv(t)
	rec, out := doJSON(t, e.srv.Router(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, out = doJSON(t, e.srv.Router(), http.MethodPost, "/v1/reload", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reloaded", out["status"])
}

func TestEscalationsAndAuditEmpty(t *testing.T) {
	e := newEnv(t)
	rec, _ := doJSON(t, e.srv.Router(), http.MethodGet, "/v1/escalations", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, e.srv.Router(), http.MethodGet, "/v1/audit", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
