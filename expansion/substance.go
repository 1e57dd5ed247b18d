package expansion

import (
	"context"
	"fmt"

	"github.com/emisx/expander/ecl"
	"github.com/emisx/expander/internal/config"
	"github.com/emisx/expander/terminology"
	"github.com/rs/zerolog"
)

// SubstanceExpander expands EMIS constant substance codes into the UK drug
// products containing that substance as a precise active ingredient.
type SubstanceExpander struct {
	client *terminology.Client
	log    zerolog.Logger
}

func NewSubstanceExpander(client *terminology.Client, log zerolog.Logger) *SubstanceExpander {
	return &SubstanceExpander{client: client, log: log}
}

// Expand queries the terminology server for all products whose precise
// active ingredient is (a descendant of) the given substance concept.
func (e *SubstanceExpander) Expand(ctx context.Context, substanceCode string, includeChildren bool) ([]TargetConcept, error) {
	query := ecl.BuildProductQuery(substanceCode)

	e.log.Debug().
		Str("substance", substanceCode).
		Str("ecl", query).
		Msg("Expanding substance to products")

	codings, err := e.client.Expand(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("expanding products for substance %s: %w", substanceCode, err)
	}

	concepts := make([]TargetConcept, 0, len(codings))
	for _, coding := range codings {
		concepts = append(concepts, TargetConcept{
			Code:            coding.Code,
			Display:         coding.Display,
			System:          config.SnomedCodeSystem,
			Source:          SourceRemoteQuery,
			ExcludeChildren: !includeChildren,
		})
	}

	return concepts, nil
}
