package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"threatpipe/internal/indicator"
)

// FetchError covers network, auth and rate-limit failures while pulling a
// feed. It is retried with backoff and degrades the adapter after a cap;
// it is never fatal to the process.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Source, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ErrRateLimited marks an HTTP 429 from the feed provider.
var ErrRateLimited = errors.New("rate limited")

// RawRecord is one record in its wire form, before parsing.
type RawRecord []byte

// Records is a lazy, finite sequence of raw records for one poll cycle.
// Next returns io.EOF when the cycle is exhausted; a new Fetch restarts the
// sequence. Close releases the underlying transport.
type Records interface {
	Next() (RawRecord, error)
	Close() error
}

// Adapter encapsulates one wire format and one authentication method for
// one feed source.
type Adapter interface {
	Source() Source
	Fetch(ctx context.Context) (Records, error)
	Parse(raw RawRecord) (indicator.Indicator, error)
}

// httpFetch performs the credentialed GET shared by all adapters. The
// bearer token, when configured, is read from the env var the Source names.
func httpFetch(ctx context.Context, client *http.Client, src Source) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	if src.TokenEnv != "" {
		if token := os.Getenv(src.TokenEnv); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, &FetchError{Source: src.Name, Err: ErrRateLimited}
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, &FetchError{Source: src.Name, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return resp.Body, nil
}
