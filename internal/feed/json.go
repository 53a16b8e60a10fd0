package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"threatpipe/internal/indicator"
)

// jsonAdapter handles the generic authenticated HTTP+JSON polling contract:
// the endpoint returns a top-level array of indicator objects, decoded as a
// stream so large feeds never load whole.
type jsonAdapter struct {
	src    Source
	client *http.Client
}

func newJSONAdapter(src Source, client *http.Client) Adapter {
	return &jsonAdapter{src: src, client: client}
}

func (a *jsonAdapter) Source() Source { return a.src }

func (a *jsonAdapter) Fetch(ctx context.Context) (Records, error) {
	body, err := httpFetch(ctx, a.client, a.src)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(body)
	tok, err := dec.Token()
	if err != nil {
		body.Close()
		return nil, &FetchError{Source: a.src.Name, Err: fmt.Errorf("decode array: %w", err)}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		body.Close()
		return nil, &FetchError{Source: a.src.Name, Err: fmt.Errorf("expected JSON array, got %v", tok)}
	}
	return &jsonRecords{dec: dec, closer: body}, nil
}

type jsonRecords struct {
	dec    *json.Decoder
	closer io.Closer
}

func (r *jsonRecords) Next() (RawRecord, error) {
	if !r.dec.More() {
		return nil, io.EOF
	}
	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return RawRecord(raw), nil
}

func (r *jsonRecords) Close() error { return r.closer.Close() }

type jsonIndicator struct {
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
}

func (a *jsonAdapter) Parse(raw RawRecord) (indicator.Indicator, error) {
	var rec jsonIndicator
	if err := json.Unmarshal(raw, &rec); err != nil {
		return indicator.Indicator{}, fmt.Errorf("decode record: %w", err)
	}
	t := indicator.Type(rec.Type)
	if !indicator.Known(t) {
		return indicator.Indicator{}, fmt.Errorf("unknown indicator type %q", rec.Type)
	}
	if rec.Value == "" {
		return indicator.Indicator{}, fmt.Errorf("empty value")
	}
	seen := rec.LastSeen
	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	ind := indicator.New(t, rec.Value, a.src.Name, a.src.Confidence(rec.Confidence), seen)
	ind.Tags = indicator.UnionStrings(a.src.Tags, rec.Tags)
	return ind, nil
}
