package feed

import (
	"fmt"
	"net/http"
)

// factories is the closed set of wire formats. Dispatch happens through
// this registry keyed by Source configuration, never by runtime type
// inspection.
var factories = map[string]func(Source, *http.Client) Adapter{
	"csv":  newCSVAdapter,
	"json": newJSONAdapter,
	"xml":  newXMLAdapter,
}

// Formats lists the supported wire formats.
func Formats() []string {
	out := make([]string, 0, len(factories))
	for f := range factories {
		out = append(out, f)
	}
	return out
}

// NewAdapter builds the adapter for a configured source. Unknown formats
// are a configuration error, caught at startup rather than at poll time.
func NewAdapter(src Source, client *http.Client) (Adapter, error) {
	factory, ok := factories[src.Format]
	if !ok {
		return nil, fmt.Errorf("source %s: unknown feed format %q", src.Name, src.Format)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return factory(src, client), nil
}
