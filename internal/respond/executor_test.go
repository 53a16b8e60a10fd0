package respond

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPExecutor(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/execute", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		io.WriteString(w, `{"success": true, "detail": "rule installed"}`)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.URL, time.Second)
	res, err := e.Execute(context.Background(), ActionBlockNetwork, "203.0.113.9", map[string]string{"detection_id": "det-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "rule installed", res.Detail)

	assert.Equal(t, "block-network", got["action"])
	assert.Equal(t, "203.0.113.9", got["target"])
	params, ok := got["parameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "det-1", params["detection_id"])
}

func TestHTTPExecutorNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.URL, time.Second)
	_, err := e.Execute(context.Background(), ActionIsolateHost, "host-7", nil)
	assert.Error(t, err)
}
