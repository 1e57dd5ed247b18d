package terminology

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	historyGroupSize  = 10
	historyGroupPause = 200 * time.Millisecond
)

// Associations are tried strictly in this order when a concept is inactive.
var associationPriority = []string{PropertySameAs, PropertyReplacedBy, PropertyPossiblyEquivalentTo}

// Resolution is the outcome of resolving a possibly inactive concept to its
// current replacement.
type Resolution struct {
	CurrentID    string
	IsHistorical bool
	Display      string
}

// HistoricalResolver resolves inactive SNOMED CT concepts to their current
// replacements via CodeSystem $lookup.
type HistoricalResolver struct {
	client *Client
	log    zerolog.Logger
}

func NewHistoricalResolver(client *Client, log zerolog.Logger) *HistoricalResolver {
	return &HistoricalResolver{client: client, log: log}
}

// Resolve looks up a concept and, when inactive, follows the first historical
// association found in priority order. Lookup failures degrade to returning
// the concept unchanged; an inactive concept without any association is
// returned as-is but flagged historical, since it may still resolve through a
// refset or ECL expansion downstream.
func (r *HistoricalResolver) Resolve(ctx context.Context, conceptID string) Resolution {
	lookup, err := r.client.Lookup(ctx, conceptID)
	if err != nil {
		r.log.Warn().Err(err).
			Str("concept", conceptID).
			Msg("Concept lookup failed")
		return Resolution{CurrentID: conceptID}
	}
	if lookup == nil {
		return Resolution{CurrentID: conceptID}
	}

	if !lookup.Inactive {
		return Resolution{CurrentID: conceptID, Display: lookup.Display}
	}

	for _, assoc := range associationPriority {
		if target := lookup.Associations[assoc]; target != "" {
			r.log.Debug().
				Str("concept", conceptID).
				Str("current", target).
				Str("association", assoc).
				Msg("Resolved historical concept")
			return Resolution{CurrentID: target, IsHistorical: true, Display: lookup.Display}
		}
	}

	r.log.Warn().
		Str("concept", conceptID).
		Msg("Concept is inactive but has no historical association")
	return Resolution{CurrentID: conceptID, IsHistorical: true, Display: lookup.Display}
}

// ResolveBatch resolves a set of concepts in concurrency groups with a pause
// between groups, returning a map of original id to resolution.
func (r *HistoricalResolver) ResolveBatch(ctx context.Context, conceptIDs []string) (map[string]Resolution, error) {
	unique := dedupe(conceptIDs)
	resolutions := make(map[string]Resolution, len(unique))

	var mu sync.Mutex
	historical := 0

	for start := 0; start < len(unique); start += historyGroupSize {
		if err := ctx.Err(); err != nil {
			return resolutions, err
		}

		end := min(start+historyGroupSize, len(unique))

		var wg sync.WaitGroup
		for _, id := range unique[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				res := r.Resolve(ctx, id)
				mu.Lock()
				resolutions[id] = res
				if res.IsHistorical {
					historical++
				}
				mu.Unlock()
			}(id)
		}
		wg.Wait()

		if end < len(unique) {
			time.Sleep(historyGroupPause)
		}
	}

	r.log.Debug().
		Int("checked", len(unique)).
		Int("historical", historical).
		Msg("Historical resolution complete")

	return resolutions, nil
}
