package expansion

import (
	"context"
	"sync"
	"time"

	"github.com/emisx/expander/internal/config"
	"github.com/emisx/expander/rf2"
	"github.com/emisx/expander/terminology"
	"github.com/rs/zerolog"
)

const (
	displayLookupGroupSize  = 20
	displayLookupGroupPause = 100 * time.Millisecond
)

// RefsetExpander resolves a refset id to its member concepts from the local
// RF2 snapshot. Display names come from the local description index first;
// members outside the local snapshot fall back to remote concept lookups.
// A refset absent from the snapshot yields an empty result, and the caller
// must fall back to an ECL-based remote expansion.
type RefsetExpander struct {
	refsets      *rf2.RefsetCache
	descriptions *rf2.DescriptionCache
	resolver     *terminology.HistoricalResolver
	log          zerolog.Logger
}

func NewRefsetExpander(refsets *rf2.RefsetCache, descriptions *rf2.DescriptionCache, resolver *terminology.HistoricalResolver, log zerolog.Logger) *RefsetExpander {
	return &RefsetExpander{
		refsets:      refsets,
		descriptions: descriptions,
		resolver:     resolver,
		log:          log,
	}
}

// Exists reports whether the refset has members in the local snapshot.
func (e *RefsetExpander) Exists(refsetID string) bool {
	return e.refsets.Exists(refsetID)
}

// DisplayName returns the refset's own preferred term from the local
// snapshot; the refset id is itself a concept.
func (e *RefsetExpander) DisplayName(refsetID string) string {
	return e.descriptions.DisplayName(refsetID)
}

// Expand returns the refset's member concepts tagged with local-file
// provenance, or an empty slice when the refset is not in the snapshot.
func (e *RefsetExpander) Expand(ctx context.Context, refsetID string) []TargetConcept {
	members := e.refsets.Members(refsetID)
	if len(members) == 0 {
		return nil
	}

	displays := e.descriptions.DisplayNames(members)

	var missing []string
	for _, id := range members {
		if _, ok := displays[id]; !ok {
			missing = append(missing, id)
		}
	}

	e.log.Debug().
		Str("refset", refsetID).
		Int("members", len(members)).
		Int("localDisplays", len(displays)).
		Int("missingDisplays", len(missing)).
		Msg("Expanding refset from RF2 snapshot")

	if len(missing) > 0 {
		for id, display := range e.lookupDisplays(ctx, missing) {
			displays[id] = display
		}
	}

	concepts := make([]TargetConcept, 0, len(members))
	for _, id := range members {
		concepts = append(concepts, TargetConcept{
			Code:    id,
			Display: displays[id],
			System:  config.SnomedCodeSystem,
			Source:  SourceLocalFile,
		})
	}

	return concepts
}

// ExpandAll expands each refset id, returning only the refsets that produced
// members.
func (e *RefsetExpander) ExpandAll(ctx context.Context, refsetIDs []string) map[string][]TargetConcept {
	results := make(map[string][]TargetConcept, len(refsetIDs))
	for _, id := range refsetIDs {
		if concepts := e.Expand(ctx, id); len(concepts) > 0 {
			results[id] = concepts
		}
	}
	return results
}

// lookupDisplays resolves display names remotely in small concurrency groups
// with a pause between groups. Per-item failures are tolerated; concepts the
// server cannot name simply stay without a display.
func (e *RefsetExpander) lookupDisplays(ctx context.Context, conceptIDs []string) map[string]string {
	displays := make(map[string]string, len(conceptIDs))

	e.log.Debug().
		Int("count", len(conceptIDs)).
		Msg("Looking up display names from terminology server")

	var mu sync.Mutex
	for start := 0; start < len(conceptIDs); start += displayLookupGroupSize {
		if ctx.Err() != nil {
			return displays
		}

		end := min(start+displayLookupGroupSize, len(conceptIDs))

		var wg sync.WaitGroup
		for _, id := range conceptIDs[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				res := e.resolver.Resolve(ctx, id)
				if res.Display == "" {
					return
				}
				mu.Lock()
				displays[id] = res.Display
				mu.Unlock()
			}(id)
		}
		wg.Wait()

		if end < len(conceptIDs) {
			time.Sleep(displayLookupGroupPause)
		}
	}

	return displays
}
