package detect

import (
	"net/netip"
	"regexp"
	"strings"

	"threatpipe/internal/indicator"
)

// Candidate is one value extracted from telemetry, typed by shape.
type Candidate struct {
	Type  indicator.Type
	Value string
}

// maxScanLen bounds extraction cost on oversized events.
const maxScanLen = 256 * 1024

var (
	ipv4Re   = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)
	ipv6Re   = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:)+[0-9a-fA-F:]*[0-9a-fA-F]\b`)
	domainRe = regexp.MustCompile(`\b[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+\b`)
	hexRe    = regexp.MustCompile(`\b[a-fA-F0-9]{32,64}\b`)
	urlRe    = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// Extract pulls candidate indicator values out of a raw telemetry payload
// by type-specific pattern matching. A given value appears at most once in
// the result, so the store is queried at most once per value per
// processing unit.
func Extract(text string) []Candidate {
	if len(text) > maxScanLen {
		text = text[:maxScanLen]
	}

	var out []Candidate
	seen := make(map[string]struct{})
	add := func(t indicator.Type, raw string) {
		v := indicator.Normalize(t, raw)
		key := indicator.Key(t, v)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Candidate{Type: t, Value: v})
	}

	for _, m := range ipv4Re.FindAllString(text, -1) {
		if _, err := netip.ParseAddr(m); err == nil {
			add(indicator.TypeIP, m)
		}
	}

	// Colon-hex tokens loosely match timestamps and MACs too; ParseAddr
	// keeps only real IPv6 literals.
	for _, m := range ipv6Re.FindAllString(text, -1) {
		if addr, err := netip.ParseAddr(m); err == nil && addr.Is6() {
			add(indicator.TypeIP, m)
		}
	}

	for _, m := range urlRe.FindAllString(text, -1) {
		add(indicator.TypeURL, strings.TrimRight(m, ".,;)"))
	}

	for _, m := range hexRe.FindAllString(text, -1) {
		if t, err := indicator.HashTypeForLength(len(m)); err == nil {
			add(t, m)
		}
	}

	for _, m := range domainRe.FindAllString(text, -1) {
		// Dotted quads and bare hex also match the domain shape.
		if ipv4Re.MatchString(m) || hexRe.MatchString(m) {
			continue
		}
		if !plausibleDomain(m) {
			continue
		}
		add(indicator.TypeDomain, m)
	}

	return out
}

// plausibleDomain filters domain-shaped noise: the TLD must be alphabetic
// and at least two characters.
func plausibleDomain(v string) bool {
	i := strings.LastIndexByte(v, '.')
	if i < 0 || i == len(v)-1 {
		return false
	}
	tld := v[i+1:]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
