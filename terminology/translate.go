package terminology

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

const (
	translateGroupSize  = 10
	translateGroupPause = 200 * time.Millisecond
)

// Only equivalent and narrower mappings preserve the clinical contract; a
// broader mapping would silently widen the population a code selects.
var acceptedEquivalences = []string{"equivalent", "narrower"}

// Translator resolves source codes to SNOMED CT concepts through a chain of
// concept maps: the primary map first, then the drug-coding fallback map.
type Translator struct {
	client        *Client
	primaryMapID  string
	fallbackMapID string
	log           zerolog.Logger
}

func NewTranslator(client *Client, primaryMapID, fallbackMapID string, log zerolog.Logger) *Translator {
	return &Translator{
		client:        client,
		primaryMapID:  primaryMapID,
		fallbackMapID: fallbackMapID,
		log:           log,
	}
}

// TranslateCode tries each concept map in order and returns the first match
// with an accepted equivalence grade. Not-found, rejected equivalence and
// per-map call failures all fall through to the next map; exhausting the
// chain returns (nil, nil).
func (t *Translator) TranslateCode(ctx context.Context, code string) (*TranslatedCode, error) {
	for _, mapID := range []string{t.primaryMapID, t.fallbackMapID} {
		match, err := t.client.Translate(ctx, mapID, code)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.log.Warn().Err(err).
				Str("code", code).
				Str("conceptMap", mapID).
				Msg("ConceptMap translation failed, trying next map")
			continue
		}
		if match == nil {
			continue
		}
		if !slices.Contains(acceptedEquivalences, match.Equivalence) {
			t.log.Debug().
				Str("code", code).
				Str("equivalence", match.Equivalence).
				Msg("Rejected translation equivalence")
			continue
		}
		return match, nil
	}
	return nil, nil
}

// TranslateCodes translates a batch of codes in concurrency groups, pausing
// between groups to respect the server's rate limits. The result maps source
// code to its translation; unmapped codes are omitted.
func (t *Translator) TranslateCodes(ctx context.Context, codes []string) (map[string]TranslatedCode, error) {
	unique := dedupe(codes)
	mapping := make(map[string]TranslatedCode, len(unique))

	t.log.Debug().
		Int("count", len(unique)).
		Msg("Translating source codes via ConceptMap")

	var mu sync.Mutex
	for start := 0; start < len(unique); start += translateGroupSize {
		if err := ctx.Err(); err != nil {
			return mapping, err
		}

		end := min(start+translateGroupSize, len(unique))

		var wg sync.WaitGroup
		for _, code := range unique[start:end] {
			wg.Add(1)
			go func(code string) {
				defer wg.Done()
				match, err := t.TranslateCode(ctx, code)
				if err != nil || match == nil {
					return
				}
				mu.Lock()
				mapping[code] = *match
				mu.Unlock()
			}(code)
		}
		wg.Wait()

		if end < len(unique) {
			time.Sleep(translateGroupPause)
		}
	}

	t.log.Debug().
		Int("translated", len(mapping)).
		Int("unmapped", len(unique)-len(mapping)).
		Msg("ConceptMap translation complete")

	return mapping, nil
}

// dedupe returns the unique elements of codes, keeping first occurrences in
// their original order.
func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	unique := make([]string, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		unique = append(unique, code)
	}
	return unique
}
