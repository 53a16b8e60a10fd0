package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"threatpipe/internal/indicator"
)

func candidates(text string) map[string]indicator.Type {
	out := make(map[string]indicator.Type)
	for _, c := range Extract(text) {
		out[c.Value] = c.Type
	}
	return out
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]indicator.Type
	}{
		{
			"ipv4 in log line",
			"connection from 203.0.113.9 port 4444",
			map[string]indicator.Type{"203.0.113.9": indicator.TypeIP},
		},
		{
			"ipv6 compressed literal",
			"flow to 2001:db8::1 port 443",
			map[string]indicator.Type{"2001:db8::1": indicator.TypeIP},
		},
		{
			"ipv6 full form normalized",
			"src=2001:0db8:85a3:0000:0000:8a2e:0370:7334 dropped",
			map[string]indicator.Type{"2001:db8:85a3::8a2e:370:7334": indicator.TypeIP},
		},
		{
			"mac address not an ip",
			"iface eth0 mac aa:bb:cc:dd:ee:ff up",
			map[string]indicator.Type{},
		},
		{
			"timestamp not an ip",
			"at 12:34:56 worker restarted",
			map[string]indicator.Type{},
		},
		{
			"out of range quad skipped",
			"bad addr 999.999.999.999 here",
			map[string]indicator.Type{},
		},
		{
			"domain and url",
			`GET https://evil.example.com/stage2.bin host=evil.example.com`,
			map[string]indicator.Type{
				"https://evil.example.com/stage2.bin": indicator.TypeURL,
				"evil.example.com":                    indicator.TypeDomain,
				// the url path yields a domain-shaped token too
				"stage2.bin": indicator.TypeDomain,
			},
		},
		{
			"hashes by length",
			"md5=d41d8cd98f00b204e9800998ecf8427e sha1=da39a3ee5e6b4b0d3255bfef95601890afd80709",
			map[string]indicator.Type{
				"d41d8cd98f00b204e9800998ecf8427e":         indicator.TypeMD5,
				"da39a3ee5e6b4b0d3255bfef95601890afd80709": indicator.TypeSHA1,
			},
		},
		{
			"odd hex length ignored",
			"blob " + strings.Repeat("ab", 17) + " end",
			map[string]indicator.Type{},
		},
		{
			"numeric tld filtered",
			"version 1.2.3 released",
			map[string]indicator.Type{},
		},
		{
			"trailing punctuation trimmed from url",
			"see https://evil.example.com/x.",
			map[string]indicator.Type{
				"https://evil.example.com/x": indicator.TypeURL,
				"evil.example.com":           indicator.TypeDomain,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := candidates(tc.text)
			for v, typ := range tc.want {
				assert.Equal(t, typ, got[v], "missing or mistyped %q", v)
			}
			for v := range got {
				_, expected := tc.want[v]
				assert.True(t, expected, "unexpected candidate %q (%s)", v, got[v])
			}
		})
	}
}

func TestExtractDeduplicates(t *testing.T) {
	cands := Extract("203.0.113.9 203.0.113.9 203.0.113.9")
	assert.Len(t, cands, 1)
}
