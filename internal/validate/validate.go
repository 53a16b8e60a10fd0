package validate

import (
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"threatpipe/internal/indicator"
	"threatpipe/internal/quality"
)

// Reasons attached to rejected records. Rejections are ordinary outcomes,
// counted per reason, never an error path: heterogeneous feeds routinely
// emit malformed or placeholder values and the pipeline must stay live.
const (
	ReasonUnknownType   = "unknown_type"
	ReasonEmptyValue    = "empty_value"
	ReasonBadIP         = "bad_ip"
	ReasonReservedIP    = "reserved_ip"
	ReasonBadDomain     = "bad_domain"
	ReasonBadURL        = "bad_url"
	ReasonBadHash       = "bad_hash"
	ReasonValueTooLong  = "value_too_long"
	ReasonBadConfidence = "bad_confidence"
	ReasonBadTimestamps = "bad_timestamps"
)

// Result is the outcome of validating one indicator.
type Result struct {
	OK     bool
	Reason string
}

func reject(reason string) Result { return Result{Reason: reason} }

var (
	md5Re    = regexp.MustCompile(`^[0-9a-f]{32}$`)
	sha1Re   = regexp.MustCompile(`^[0-9a-f]{40}$`)
	sha256Re = regexp.MustCompile(`^[0-9a-f]{64}$`)
	labelRe  = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

const maxPatternLen = 1024

// Validator applies every per-type syntax rule to an indicator. All rules
// must pass; a failing record is dropped and counted.
type Validator struct{}

func New() *Validator { return &Validator{} }

// Check validates a single indicator and counts the rejection reason when it
// fails. The value is expected to already be normalized.
func (v *Validator) Check(ind indicator.Indicator) Result {
	res := check(ind)
	if !res.OK {
		quality.ValidationRejects.WithLabelValues(res.Reason).Inc()
	}
	return res
}

func check(ind indicator.Indicator) Result {
	if !indicator.Known(ind.Type) {
		return reject(ReasonUnknownType)
	}
	if ind.Value == "" {
		return reject(ReasonEmptyValue)
	}
	if ind.Confidence < 0 || ind.Confidence > 1 {
		return reject(ReasonBadConfidence)
	}
	if !ind.FirstSeen.IsZero() && !ind.LastSeen.IsZero() && ind.FirstSeen.After(ind.LastSeen) {
		return reject(ReasonBadTimestamps)
	}

	switch ind.Type {
	case indicator.TypeIP:
		return checkIP(ind.Value)
	case indicator.TypeDomain:
		return checkDomain(ind.Value)
	case indicator.TypeURL:
		return checkURL(ind.Value)
	case indicator.TypeMD5:
		return checkHash(md5Re, ind.Value)
	case indicator.TypeSHA1:
		return checkHash(sha1Re, ind.Value)
	case indicator.TypeSHA256:
		return checkHash(sha256Re, ind.Value)
	default:
		// registry-key, process-name, command-pattern, behavioral-pattern:
		// non-empty bounded strings.
		if len(ind.Value) > maxPatternLen {
			return reject(ReasonValueTooLong)
		}
		return Result{OK: true}
	}
}

func checkIP(value string) Result {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return reject(ReasonBadIP)
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsMulticast() ||
		addr.IsUnspecified() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return reject(ReasonReservedIP)
	}
	return Result{OK: true}
}

// checkDomain applies RFC 1035 consistent label rules: at most 253 octets
// total, labels of 1-63 chars, alphanumerics and interior hyphens, an
// alphabetic TLD of at least two chars.
func checkDomain(value string) Result {
	if len(value) > 253 || !strings.Contains(value, ".") {
		return reject(ReasonBadDomain)
	}
	labels := strings.Split(value, ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 || !labelRe.MatchString(label) {
			return reject(ReasonBadDomain)
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 || strings.ContainsAny(tld, "0123456789-") {
		return reject(ReasonBadDomain)
	}
	return Result{OK: true}
}

func checkURL(value string) Result {
	if len(value) > maxPatternLen {
		return reject(ReasonValueTooLong)
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return reject(ReasonBadURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return reject(ReasonBadURL)
	}
	return Result{OK: true}
}

func checkHash(re *regexp.Regexp, value string) Result {
	if !re.MatchString(value) {
		return reject(ReasonBadHash)
	}
	return Result{OK: true}
}
