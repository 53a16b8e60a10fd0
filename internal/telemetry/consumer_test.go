package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatpipe/internal/detect"
	"threatpipe/internal/indicator"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/store"
)

// scriptedReader plays back a fixed sequence of reads, then reports
// cancellation.
type scriptedReader struct {
	mu     sync.Mutex
	reads  []func() (kafka.Message, error)
	closed bool
}

func (r *scriptedReader) ReadMessage(context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reads) == 0 {
		return kafka.Message{}, context.Canceled
	}
	next := r.reads[0]
	r.reads = r.reads[1:]
	return next()
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func message(payload string) func() (kafka.Message, error) {
	return func() (kafka.Message, error) {
		return kafka.Message{Value: []byte(payload)}, nil
	}
}

func failure(err error) func() (kafka.Message, error) {
	return func() (kafka.Message, error) { return kafka.Message{}, err }
}

func newTestEngine(t *testing.T) *detect.Engine {
	t.Helper()
	hot, err := store.NewHot(128)
	require.NoError(t, err)
	warm, err := store.OpenWarm(t.TempDir())
	require.NoError(t, err)
	cold, err := store.OpenCold(t.TempDir())
	require.NoError(t, err)
	st := store.NewTiered(hot, warm, cold, lifecycle.MergePolicy{}.Func())
	t.Cleanup(func() { st.Close() })

	_, err = st.Upsert(context.Background(),
		indicator.New(indicator.TypeDomain, "bad.example.test", "feed-a", 0.9, time.Now()))
	require.NoError(t, err)
	return detect.NewEngine(st, nil, 0.6)
}

func TestConsumerScansAndHandles(t *testing.T) {
	reader := &scriptedReader{reads: []func() (kafka.Message, error){
		message("dns query for bad.example.test from host-7"),
		message("nothing interesting here"),
	}}

	var mu sync.Mutex
	var got []detect.Detection
	c := &Consumer{
		reader:   reader,
		detector: newTestEngine(t),
		handler: func(_ context.Context, dets []detect.Detection) {
			mu.Lock()
			got = append(got, dets...)
			mu.Unlock()
		},
	}

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, "bad.example.test", got[0].Indicator.Value)
	assert.True(t, reader.closed)
}

func TestConsumerContinuesPastReadError(t *testing.T) {
	reader := &scriptedReader{reads: []func() (kafka.Message, error){
		failure(errors.New("broker gone")),
		message("lookup bad.example.test"),
	}}

	var mu sync.Mutex
	var got []detect.Detection
	c := &Consumer{
		reader:   reader,
		detector: newTestEngine(t),
		handler: func(_ context.Context, dets []detect.Detection) {
			mu.Lock()
			got = append(got, dets...)
			mu.Unlock()
		},
	}

	// The transient error is logged and the loop keeps reading.
	require.NoError(t, c.Run(context.Background()))
	assert.Len(t, got, 1)
}

func TestConsumerStopsOnCancellation(t *testing.T) {
	reader := &scriptedReader{}
	c := &Consumer{reader: reader, detector: newTestEngine(t)}

	require.NoError(t, c.Run(context.Background()))
	assert.True(t, reader.closed)
}
