// Package pipeline wires the per-indicator processing stages behind the
// feed controller: validation, whitelist marking, enrichment and the tiered
// store upsert.
package pipeline

import (
	"context"
	"time"

	"threatpipe/internal/enrich"
	"threatpipe/internal/indicator"
	"threatpipe/internal/lifecycle"
	"threatpipe/internal/store"
	"threatpipe/internal/validate"
)

type Pipeline struct {
	validator *validate.Validator
	enricher  *enrich.Engine
	store     *store.Tiered
	whitelist *lifecycle.Whitelist
}

func New(v *validate.Validator, e *enrich.Engine, st *store.Tiered, wl *lifecycle.Whitelist) *Pipeline {
	return &Pipeline{validator: v, enricher: e, store: st, whitelist: wl}
}

// Process runs one parsed indicator through the pipeline. Validation
// failures drop the record silently (already counted); only store
// unavailability surfaces as an error, because a halt there must stop the
// feed cycle.
func (p *Pipeline) Process(ctx context.Context, ind indicator.Indicator) error {
	if res := p.validator.Check(ind); !res.OK {
		return nil
	}

	if p.whitelist != nil && p.whitelist.Contains(ind.Key(), time.Now()) {
		// Keep the record for audit but make it permanently unmatchable.
		ind.Status = indicator.StatusWhitelisted
	}

	if p.enricher != nil && ind.Status == indicator.StatusActive {
		if delta := p.enricher.Enrich(ctx, ind); len(delta) > 0 {
			if ind.Context == nil {
				ind.Context = make(map[string]string, len(delta))
			}
			for k, v := range delta {
				ind.Context[k] = v
			}
		}
	}

	_, err := p.store.Upsert(ctx, ind)
	return err
}
