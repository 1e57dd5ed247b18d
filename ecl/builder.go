// Package ecl constructs SNOMED CT expression constraint language queries
// for the terminology server's ValueSet $expand operation.
package ecl

import (
	"fmt"
	"strings"

	"github.com/emisx/expander/terminology"
	"github.com/rs/zerolog"
)

// Concepts anchoring the UK drug extension product hierarchy.
const (
	ukProductConcept           = "10363601000001109"
	hasPreciseActiveIngredient = "762949000"
)

// Value is one classified code to include in a query.
type Value struct {
	Code            string
	IncludeChildren bool
	IsRefset        bool
}

// BuildQuery turns a set of classified codes and an exclusion list into a
// single ECL expression. Codes failing the syntactic validator are dropped
// (logged, never fatal) and duplicates keep their first occurrence. Terms are
// emitted refsets first (^), then descendant-requested codes (<<), then exact
// codes, joined with OR; input order is preserved within each group. A
// non-empty exclusion list subtracts descendant-expanded exclusions from the
// whole expression. An empty result means no remote query is needed.
func BuildQuery(values []Value, excludedCodes []string, log zerolog.Logger) string {
	seen := make(map[string]struct{}, len(values))
	var refsets, descendants, exact []string

	for _, v := range values {
		if !terminology.IsValidConceptID(v.Code) {
			log.Warn().Str("code", v.Code).Msg("Filtering out invalid SNOMED code")
			continue
		}
		if _, dup := seen[v.Code]; dup {
			log.Warn().Str("code", v.Code).Msg("Removing duplicate code")
			continue
		}
		seen[v.Code] = struct{}{}

		switch {
		case v.IsRefset:
			refsets = append(refsets, "^ "+v.Code)
		case v.IncludeChildren:
			descendants = append(descendants, "<< "+v.Code)
		default:
			exact = append(exact, v.Code)
		}
	}

	parts := make([]string, 0, len(refsets)+len(descendants)+len(exact))
	parts = append(parts, refsets...)
	parts = append(parts, descendants...)
	parts = append(parts, exact...)

	if len(parts) == 0 {
		return ""
	}

	log.Debug().
		Int("total", len(parts)).
		Int("refsets", len(refsets)).
		Int("descendants", len(descendants)).
		Int("exact", len(exact)).
		Msg("Built ECL terms")

	expression := strings.Join(parts, " OR ")

	if len(excludedCodes) > 0 {
		exclusions := make([]string, 0, len(excludedCodes))
		for _, code := range excludedCodes {
			exclusions = append(exclusions, "<< "+code)
		}
		expression = fmt.Sprintf("(%s) MINUS (%s)", expression, strings.Join(exclusions, " OR "))
	}

	return expression
}

// BuildProductQuery constructs the expression selecting every product whose
// precise active ingredient is the given substance or one of its descendants.
func BuildProductQuery(substanceCode string) string {
	return fmt.Sprintf("<< (< %s |UK Product| : %s |Has precise active ingredient| = << %s)",
		ukProductConcept, hasPreciseActiveIngredient, substanceCode)
}
