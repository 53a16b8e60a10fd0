package lifecycle

import (
	"threatpipe/internal/indicator"
	"threatpipe/internal/store"
)

// MergePolicy controls how confidence combines when the same (type, value)
// key is reported again. Max-combination is the default: it is bounded and
// monotone, so many low-quality feeds corroborating one indicator cannot
// inflate it past the best single report. Additive accumulation is available
// behind an explicit flag for operators who want corroboration to count.
type MergePolicy struct {
	Additive bool
}

// Merge combines a live record with a re-observation of the same key.
// It is idempotent, and commutative and associative on confidence, sources
// and tags.
func (p MergePolicy) Merge(existing, incoming indicator.Indicator) indicator.Indicator {
	out := existing

	if p.Additive {
		out.Confidence = indicator.ClampConfidence(existing.Confidence + incoming.Confidence*(1-existing.Confidence))
	} else {
		out.Confidence = max(existing.Confidence, incoming.Confidence)
	}

	out.Sources = indicator.UnionStrings(existing.Sources, incoming.Sources)
	out.Tags = indicator.UnionStrings(existing.Tags, incoming.Tags)

	if incoming.FirstSeen.Before(existing.FirstSeen) {
		out.FirstSeen = incoming.FirstSeen
	}
	if incoming.LastSeen.After(existing.LastSeen) {
		out.LastSeen = incoming.LastSeen
	}

	if len(existing.Context) > 0 || len(incoming.Context) > 0 {
		ctx := make(map[string]string, len(existing.Context)+len(incoming.Context))
		for k, v := range existing.Context {
			ctx[k] = v
		}
		for k, v := range incoming.Context {
			ctx[k] = v
		}
		out.Context = ctx
	}

	// Whitelisting wins from either side; otherwise a fresh observation
	// revives an aging or expired record.
	switch {
	case existing.Status == indicator.StatusWhitelisted || incoming.Status == indicator.StatusWhitelisted:
		out.Status = indicator.StatusWhitelisted
	case incoming.Status == indicator.StatusActive:
		out.Status = indicator.StatusActive
	}
	return out
}

// Func adapts the policy to the store's merge hook.
func (p MergePolicy) Func() store.MergeFunc {
	return func(existing, incoming indicator.Indicator) indicator.Indicator {
		return p.Merge(existing, incoming)
	}
}
