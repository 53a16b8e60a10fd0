package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"threatpipe/internal/indicator"
)

// xmlAdapter handles the hierarchical event → indicator-list shape:
//
//	<events>
//	  <event campaign="..." observed="2026-01-02T15:04:05Z">
//	    <indicator type="ip" confidence="0.8">203.0.113.5</indicator>
//	  </event>
//	</events>
//
// Fetch flattens events into one raw record per indicator element, keeping
// the enclosing event's attributes.
type xmlAdapter struct {
	src    Source
	client *http.Client
}

func newXMLAdapter(src Source, client *http.Client) Adapter {
	return &xmlAdapter{src: src, client: client}
}

func (a *xmlAdapter) Source() Source { return a.src }

type xmlEvent struct {
	Campaign   string         `xml:"campaign,attr"`
	Observed   string         `xml:"observed,attr"`
	Indicators []xmlIndicator `xml:"indicator"`
}

type xmlIndicator struct {
	XMLName    xml.Name `xml:"indicator"`
	Type       string   `xml:"type,attr"`
	Confidence float64  `xml:"confidence,attr"`
	Campaign   string   `xml:"campaign,attr"`
	Observed   string   `xml:"observed,attr"`
	Value      string   `xml:",chardata"`
}

func (a *xmlAdapter) Fetch(ctx context.Context) (Records, error) {
	body, err := httpFetch(ctx, a.client, a.src)
	if err != nil {
		return nil, err
	}
	return &xmlRecords{dec: xml.NewDecoder(body), closer: body, source: a.src.Name}, nil
}

type xmlRecords struct {
	dec    *xml.Decoder
	closer io.Closer
	source string
	queue  []RawRecord
}

func (r *xmlRecords) Next() (RawRecord, error) {
	for len(r.queue) == 0 {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, err // io.EOF ends the cycle
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "event" {
			continue
		}
		var ev xmlEvent
		if err := r.dec.DecodeElement(&ev, &start); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		for _, ind := range ev.Indicators {
			ind.Campaign = ev.Campaign
			ind.Observed = ev.Observed
			raw, err := xml.Marshal(ind)
			if err != nil {
				continue
			}
			r.queue = append(r.queue, RawRecord(raw))
		}
	}
	head := r.queue[0]
	r.queue = r.queue[1:]
	return head, nil
}

func (r *xmlRecords) Close() error { return r.closer.Close() }

func (a *xmlAdapter) Parse(raw RawRecord) (indicator.Indicator, error) {
	var rec xmlIndicator
	if err := xml.Unmarshal(raw, &rec); err != nil {
		return indicator.Indicator{}, fmt.Errorf("decode record: %w", err)
	}
	t := indicator.Type(rec.Type)
	if !indicator.Known(t) {
		return indicator.Indicator{}, fmt.Errorf("unknown indicator type %q", rec.Type)
	}
	if rec.Value == "" {
		return indicator.Indicator{}, fmt.Errorf("empty value")
	}
	seen := time.Now().UTC()
	if rec.Observed != "" {
		if parsed, err := time.Parse(time.RFC3339, rec.Observed); err == nil {
			seen = parsed
		}
	}
	ind := indicator.New(t, rec.Value, a.src.Name, a.src.Confidence(rec.Confidence), seen)
	ind.Tags = a.src.Tags
	if rec.Campaign != "" {
		ind.Tags = indicator.UnionStrings(ind.Tags, []string{"campaign:" + rec.Campaign})
	}
	return ind, nil
}
