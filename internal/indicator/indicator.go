package indicator

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"
)

// Type is the closed set of indicator kinds the pipeline understands.
type Type string

const (
	TypeIP         Type = "ip"
	TypeDomain     Type = "domain"
	TypeURL        Type = "url"
	TypeMD5        Type = "hash-md5"
	TypeSHA1       Type = "hash-sha1"
	TypeSHA256     Type = "hash-sha256"
	TypeRegistry   Type = "registry-key"
	TypeProcess    Type = "process-name"
	TypeCommand    Type = "command-pattern"
	TypeBehavioral Type = "behavioral-pattern"
)

// Types lists every known indicator type.
var Types = []Type{
	TypeIP, TypeDomain, TypeURL,
	TypeMD5, TypeSHA1, TypeSHA256,
	TypeRegistry, TypeProcess, TypeCommand, TypeBehavioral,
}

// Known reports whether t is a member of the closed type set.
func Known(t Type) bool {
	for _, k := range Types {
		if t == k {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a stored indicator.
type Status string

const (
	StatusActive      Status = "active"
	StatusAging       Status = "aging"
	StatusExpired     Status = "expired"
	StatusWhitelisted Status = "whitelisted"
)

// Indicator is the canonical internal representation of an IOC.
type Indicator struct {
	Type       Type              `json:"type"`
	Value      string            `json:"value"`
	Confidence float64           `json:"confidence"`
	Sources    []string          `json:"sources"`
	FirstSeen  time.Time         `json:"first_seen"`
	LastSeen   time.Time         `json:"last_seen"`
	Tags       []string          `json:"tags,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
	Status     Status            `json:"status"`
}

// Key returns the natural key of the indicator. The store keeps at most one
// live record per key.
func (i Indicator) Key() string { return Key(i.Type, i.Value) }

// Key builds the natural key for a (type, value) pair.
func Key(t Type, value string) string { return string(t) + "|" + value }

// Matchable reports whether the indicator may produce detections.
// Whitelisted indicators are never matchable regardless of confidence.
func (i Indicator) Matchable(minConfidence float64) bool {
	return i.Status == StatusActive && i.Confidence >= minConfidence
}

// Normalize canonicalizes a raw indicator value for its type: domains and
// hashes are lowercased, IPs reduced to their canonical text form, URLs
// trimmed. It does not validate beyond what normalization itself requires.
func Normalize(t Type, value string) string {
	v := strings.TrimSpace(value)
	switch t {
	case TypeIP:
		if addr, err := netip.ParseAddr(v); err == nil {
			return addr.String()
		}
		return v
	case TypeDomain:
		return strings.TrimSuffix(strings.ToLower(v), ".")
	case TypeMD5, TypeSHA1, TypeSHA256:
		return strings.ToLower(v)
	case TypeURL:
		return v
	default:
		return v
	}
}

// New builds an Indicator with a normalized value, clamped confidence and
// sorted source/tag sets. firstSeen is forced to be no later than lastSeen.
func New(t Type, value, source string, confidence float64, seen time.Time) Indicator {
	return Indicator{
		Type:       t,
		Value:      Normalize(t, value),
		Confidence: ClampConfidence(confidence),
		Sources:    []string{source},
		FirstSeen:  seen,
		LastSeen:   seen,
		Status:     StatusActive,
	}
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// UnionStrings returns the sorted set union of a and b.
func UnionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HashTypeForLength maps a hex digest length to its hash indicator type.
func HashTypeForLength(n int) (Type, error) {
	switch n {
	case 32:
		return TypeMD5, nil
	case 40:
		return TypeSHA1, nil
	case 64:
		return TypeSHA256, nil
	default:
		return "", fmt.Errorf("no hash algorithm with digest length %d", n)
	}
}
