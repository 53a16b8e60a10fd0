package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"threatpipe/internal/indicator"
)

// GeoEnricher resolves IP indicators to a region using a static prefix
// table loaded at startup. It is offline and deterministic.
type GeoEnricher struct {
	prefixes map[netip.Prefix]string
}

// NewGeoEnricher builds the enricher from prefix → region pairs
// (e.g. "203.0.113.0/24" → "EU").
func NewGeoEnricher(table map[string]string) (*GeoEnricher, error) {
	prefixes := make(map[netip.Prefix]string, len(table))
	for cidr, region := range table {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("geo table prefix %q: %w", cidr, err)
		}
		prefixes[p] = region
	}
	return &GeoEnricher{prefixes: prefixes}, nil
}

func (g *GeoEnricher) Name() string { return "geo" }

func (g *GeoEnricher) Enrich(ctx context.Context, ind indicator.Indicator) (map[string]string, error) {
	if ind.Type != indicator.TypeIP {
		return nil, nil
	}
	addr, err := netip.ParseAddr(ind.Value)
	if err != nil {
		return nil, nil
	}
	for prefix, region := range g.prefixes {
		if prefix.Contains(addr) {
			return map[string]string{"geo.region": region}, nil
		}
	}
	return nil, nil
}

// DNSEnricher resolves domains forward and IPs in reverse through the
// injected resolver.
type DNSEnricher struct {
	resolver *net.Resolver
}

func NewDNSEnricher(resolver *net.Resolver) *DNSEnricher {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &DNSEnricher{resolver: resolver}
}

func (d *DNSEnricher) Name() string { return "dns" }

func (d *DNSEnricher) Enrich(ctx context.Context, ind indicator.Indicator) (map[string]string, error) {
	switch ind.Type {
	case indicator.TypeDomain:
		addrs, err := d.resolver.LookupHost(ctx, ind.Value)
		if err != nil {
			return nil, fmt.Errorf("forward lookup: %w", err)
		}
		if len(addrs) > 4 {
			addrs = addrs[:4]
		}
		return map[string]string{
			"dns.addrs": strings.Join(addrs, ","),
			"dns.count": strconv.Itoa(len(addrs)),
		}, nil
	case indicator.TypeIP:
		names, err := d.resolver.LookupAddr(ctx, ind.Value)
		if err != nil || len(names) == 0 {
			// NXDOMAIN for a reverse lookup is ordinary, not a failure.
			return nil, nil
		}
		return map[string]string{"dns.ptr": strings.TrimSuffix(names[0], ".")}, nil
	default:
		return nil, nil
	}
}

// ReputationEnricher queries an external reputation service over
// authenticated HTTP+JSON. The response shape is
// {"score": 0.95, "reports": 12}.
type ReputationEnricher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewReputationEnricher(baseURL, token string, client *http.Client) *ReputationEnricher {
	if client == nil {
		client = http.DefaultClient
	}
	return &ReputationEnricher{baseURL: strings.TrimSuffix(baseURL, "/"), token: token, client: client}
}

func (r *ReputationEnricher) Name() string { return "reputation" }

func (r *ReputationEnricher) Enrich(ctx context.Context, ind indicator.Indicator) (map[string]string, error) {
	q := url.Values{"type": {string(ind.Type)}, "value": {ind.Value}}
	u := r.baseURL + "/v1/reputation?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reputation fetch: status %d", resp.StatusCode)
	}
	var body struct {
		Score   float64 `json:"score"`
		Reports int     `json:"reports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("reputation decode: %w", err)
	}
	return map[string]string{
		"reputation.score":   strconv.FormatFloat(body.Score, 'f', 2, 64),
		"reputation.reports": strconv.Itoa(body.Reports),
	}, nil
}
