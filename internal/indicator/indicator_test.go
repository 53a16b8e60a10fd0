package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		typ   Type
		value string
		want  string
	}{
		{"ip unparseable passthrough", TypeIP, "192.168.001.001", "192.168.001.001"},
		{"ip trimmed", TypeIP, "  203.0.113.9 ", "203.0.113.9"},
		{"ipv6 compressed", TypeIP, "2001:0db8:0000:0000:0000:0000:0000:0001", "2001:db8::1"},
		{"domain lowercased", TypeDomain, "EVIL.Example.COM", "evil.example.com"},
		{"domain trailing dot", TypeDomain, "evil.example.com.", "evil.example.com"},
		{"md5 lowercased", TypeMD5, "D41D8CD98F00B204E9800998ECF8427E", "d41d8cd98f00b204e9800998ecf8427e"},
		{"url untouched", TypeURL, "https://evil.example.com/Payload", "https://evil.example.com/Payload"},
		{"process untouched", TypeProcess, "Mimikatz.exe", "Mimikatz.exe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.typ, tc.value))
		})
	}
}

func TestKey(t *testing.T) {
	ind := New(TypeIP, "203.0.113.9", "feed-a", 0.7, time.Now())
	assert.Equal(t, "ip|203.0.113.9", ind.Key())
	assert.Equal(t, ind.Key(), Key(TypeIP, "203.0.113.9"))
}

func TestMatchable(t *testing.T) {
	ind := New(TypeDomain, "evil.example.com", "feed-a", 0.7, time.Now())
	assert.True(t, ind.Matchable(0.6))
	assert.False(t, ind.Matchable(0.8))

	ind.Status = StatusWhitelisted
	assert.False(t, ind.Matchable(0.0))

	ind.Status = StatusAging
	assert.False(t, ind.Matchable(0.0))
}

func TestNewClampsConfidence(t *testing.T) {
	assert.Equal(t, 1.0, New(TypeIP, "203.0.113.9", "a", 3.5, time.Now()).Confidence)
	assert.Equal(t, 0.0, New(TypeIP, "203.0.113.9", "a", -1, time.Now()).Confidence)
}

func TestUnionStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, UnionStrings([]string{"b", "a"}, []string{"c", "a"}))
	assert.Nil(t, UnionStrings(nil, nil))
	assert.Equal(t, []string{"x"}, UnionStrings([]string{"x"}, nil))
}

func TestHashTypeForLength(t *testing.T) {
	for n, want := range map[int]Type{32: TypeMD5, 40: TypeSHA1, 64: TypeSHA256} {
		got, err := HashTypeForLength(n)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := HashTypeForLength(31)
	assert.Error(t, err)
}

func TestKnown(t *testing.T) {
	for _, typ := range Types {
		assert.True(t, Known(typ))
	}
	assert.False(t, Known(Type("cidr")))
}
