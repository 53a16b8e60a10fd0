package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"threatpipe/internal/indicator"
)

// csvAdapter handles delimited-text feeds with named columns. The first row
// is the header; "type" and "value" columns are required, "confidence" and
// "tags" (semicolon-separated) are optional.
type csvAdapter struct {
	src    Source
	client *http.Client
}

func newCSVAdapter(src Source, client *http.Client) Adapter {
	return &csvAdapter{src: src, client: client}
}

func (a *csvAdapter) Source() Source { return a.src }

func (a *csvAdapter) Fetch(ctx context.Context) (Records, error) {
	body, err := httpFetch(ctx, a.client, a.src)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(body)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		body.Close()
		return nil, &FetchError{Source: a.src.Name, Err: fmt.Errorf("read header: %w", err)}
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["type"]; !ok {
		body.Close()
		return nil, &FetchError{Source: a.src.Name, Err: fmt.Errorf("header missing type column")}
	}
	if _, ok := cols["value"]; !ok {
		body.Close()
		return nil, &FetchError{Source: a.src.Name, Err: fmt.Errorf("header missing value column")}
	}
	return &csvRecords{reader: r, closer: body, header: header}, nil
}

type csvRecords struct {
	reader *csv.Reader
	closer io.Closer
	header []string
}

func (r *csvRecords) Next() (RawRecord, error) {
	fields, err := r.reader.Read()
	if err != nil {
		return nil, err // io.EOF ends the cycle
	}
	// Re-encode header+row so a record stays parseable on its own.
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	w.Write(r.header)
	w.Write(fields)
	w.Flush()
	return RawRecord(sb.String()), nil
}

func (r *csvRecords) Close() error { return r.closer.Close() }

func (a *csvAdapter) Parse(raw RawRecord) (indicator.Indicator, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil || len(rows) != 2 {
		return indicator.Indicator{}, fmt.Errorf("malformed csv record: %v", err)
	}
	cols := make(map[string]string, len(rows[0]))
	for i, name := range rows[0] {
		if i < len(rows[1]) {
			cols[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(rows[1][i])
		}
	}

	t := indicator.Type(cols["type"])
	if !indicator.Known(t) {
		return indicator.Indicator{}, fmt.Errorf("unknown indicator type %q", cols["type"])
	}
	if cols["value"] == "" {
		return indicator.Indicator{}, fmt.Errorf("empty value")
	}

	conf := 0.0
	if s := cols["confidence"]; s != "" {
		conf, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return indicator.Indicator{}, fmt.Errorf("bad confidence %q: %w", s, err)
		}
	}

	ind := indicator.New(t, cols["value"], a.src.Name, a.src.Confidence(conf), time.Now().UTC())
	ind.Tags = a.src.Tags
	if s := cols["tags"]; s != "" {
		ind.Tags = indicator.UnionStrings(ind.Tags, strings.Split(s, ";"))
	}
	return ind, nil
}
