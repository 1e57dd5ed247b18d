package expansion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emisx/expander/ecl"
	"github.com/emisx/expander/terminology"
	"github.com/rs/zerolog"
)

// ErrEmptyValueSet is returned when a value set arrives with no values at
// all; there is nothing to expand and no result to account for.
var ErrEmptyValueSet = errors.New("value set contains no values")

// Recorded as the expansion error when a value set made entirely of refsets
// fails to expand beyond its own ids.
const refsetUnavailableMessage = "Reference set not found. This reference set is not available in the terminology server."

const interValueSetPause = 10 * time.Millisecond

// RefsetRule reports whether a code should be treated as a refset id even
// when the source did not flag it. The default orchestrator uses no rule and
// relies on the explicit flag plus the local membership index.
type RefsetRule func(code string) bool

// Orchestrator drives the full expansion pipeline for one value set:
// translation, historical resolution, refset and substance expansion, ECL
// evaluation, merging, exclusion filtering and failure accounting.
type Orchestrator struct {
	translator *terminology.Translator
	resolver   *terminology.HistoricalResolver
	refsets    *RefsetExpander
	substances *SubstanceExpander
	client     *terminology.Client
	refsetRule RefsetRule
	log        zerolog.Logger
}

func NewOrchestrator(
	translator *terminology.Translator,
	resolver *terminology.HistoricalResolver,
	refsets *RefsetExpander,
	substances *SubstanceExpander,
	client *terminology.Client,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		translator: translator,
		resolver:   resolver,
		refsets:    refsets,
		substances: substances,
		client:     client,
		log:        log,
	}
}

// SetRefsetRule installs an extra classification rule applied during refset
// reclassification, on top of the explicit source flag and the local index.
func (o *Orchestrator) SetRefsetRule(rule RefsetRule) {
	o.refsetRule = rule
}

// workItem is the per-source-value state threaded through the pipeline
// stages. The source value itself stays immutable; classification outcomes
// accumulate here.
type workItem struct {
	value      SourceValue
	translated *terminology.TranslatedCode
	resolved   string
	isRefset   bool
	refsetID   string
	localSize  int
}

func (w *workItem) isSctConst() bool {
	return w.value.CodeSystem == CodeSystemSctConst
}

// Expand runs the full pipeline for one value set. A non-nil error is only
// returned for precondition failures or a cancelled context; remote failures
// degrade into partial results and FailedCode entries instead.
func (o *Orchestrator) Expand(ctx context.Context, reportID, reportName string, input ValueSetInput) (*ValueSetResult, error) {
	if len(input.Values) == 0 {
		return nil, fmt.Errorf("value set %s: %w", input.SourceID, ErrEmptyValueSet)
	}

	o.log.Info().
		Str("valueSet", input.SourceID).
		Int("index", input.Index).
		Int("values", len(input.Values)).
		Msg("Expanding value set")

	items := make([]*workItem, len(input.Values))
	for i, v := range input.Values {
		items[i] = &workItem{value: v, resolved: v.Code, isRefset: v.IsRefset}
	}

	if err := o.translate(ctx, items); err != nil {
		return nil, err
	}
	if err := o.resolveHistorical(ctx, items); err != nil {
		return nil, err
	}
	o.reclassifyRefsets(items)

	concepts, refsetsResolved := o.expandAll(ctx, items, input)

	concepts = o.reconcileFlags(concepts, items)
	concepts = filterExcluded(concepts, input.ExcludedCodes)

	expansionError := ""
	if o.refsetsUnavailable(concepts, items, refsetsResolved) {
		expansionError = refsetUnavailableMessage
		o.log.Warn().
			Str("valueSet", input.SourceID).
			Msg("Refset expansion returned only the refset ids themselves")
	}

	failed := classifyFailures(concepts, items)

	originalCodes := make([]string, len(items))
	for i, item := range items {
		originalCodes[i] = item.value.Code
	}
	hash := Hash(originalCodes)

	conceptCodes := make([]string, len(concepts))
	for i, c := range concepts {
		conceptCodes[i] = c.Code
	}

	result := &ValueSetResult{
		ID:              ID(reportID, input.Index, hash),
		Index:           input.Index,
		Hash:            hash,
		FriendlyName:    FriendlyName(reportName, input.Index),
		Concepts:        concepts,
		OriginalCodes:   provenance(items),
		FailedCodes:     failed,
		RefsetsResolved: refsetsResolved,
		SQLCodes:        FormatForSQL(conceptCodes),
		ExpansionError:  expansionError,
	}

	o.log.Info().
		Str("valueSet", input.SourceID).
		Int("concepts", len(result.Concepts)).
		Int("failed", len(result.FailedCodes)).
		Int("refsetsResolved", len(result.RefsetsResolved)).
		Msg("Value set expanded")

	return result, nil
}

// translate runs concept-map translation for every value and records the
// outcome on each item. Untranslated codes stay unresolved; they may turn
// out to be refsets or already-valid target codes.
func (o *Orchestrator) translate(ctx context.Context, items []*workItem) error {
	codes := make([]string, 0, len(items))
	for _, item := range items {
		codes = append(codes, item.value.Code)
	}

	translations, err := o.translator.TranslateCodes(ctx, codes)
	if err != nil {
		return fmt.Errorf("translating codes: %w", err)
	}

	for _, item := range items {
		if tc, ok := translations[item.value.Code]; ok {
			translated := tc
			item.translated = &translated
			item.resolved = tc.Code
		}
	}
	return nil
}

// resolveHistorical replaces inactive resolved ids with their current
// replacements.
func (o *Orchestrator) resolveHistorical(ctx context.Context, items []*workItem) error {
	var ids []string
	for _, item := range items {
		if terminology.IsValidConceptID(item.resolved) {
			ids = append(ids, item.resolved)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	resolutions, err := o.resolver.ResolveBatch(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolving historical concepts: %w", err)
	}

	for _, item := range items {
		if res, ok := resolutions[item.resolved]; ok && res.CurrentID != "" {
			if res.CurrentID != item.resolved {
				o.log.Debug().
					Str("from", item.resolved).
					Str("to", res.CurrentID).
					Msg("Historical concept redirected")
			}
			item.resolved = res.CurrentID
		}
	}
	return nil
}

// reclassifyRefsets probes untranslated, unflagged codes against the local
// membership index (and the optional extra rule) using both the resolved and
// the original id. Flagged refsets also get their usable refset id pinned
// here.
func (o *Orchestrator) reclassifyRefsets(items []*workItem) {
	for _, item := range items {
		if item.isSctConst() {
			continue
		}

		if !item.isRefset && item.translated == nil {
			switch {
			case o.refsets.Exists(item.resolved):
				item.isRefset = true
			case o.refsets.Exists(item.value.Code):
				item.isRefset = true
				item.resolved = item.value.Code
			case o.refsetRule != nil && o.refsetRule(item.value.Code):
				item.isRefset = true
			}
			if item.isRefset {
				o.log.Debug().
					Str("code", item.value.Code).
					Msg("Untranslated code reclassified as refset")
			}
		}

		if item.isRefset {
			item.refsetID = item.resolved
			if !o.refsets.Exists(item.refsetID) && o.refsets.Exists(item.value.Code) {
				item.refsetID = item.value.Code
			}
		}
	}
}

// expandAll runs the three expansion paths and merges their output in a
// stable order: local refset members first, then the single ECL evaluation,
// then substance products. Duplicates keep their first occurrence. A failed
// path contributes nothing; the merge carries on with the other sources.
func (o *Orchestrator) expandAll(ctx context.Context, items []*workItem, input ValueSetInput) ([]TargetConcept, []ResolvedRefset) {
	var merged []TargetConcept
	var refsetsResolved []ResolvedRefset
	var eclValues []ecl.Value

	// A refset id reached through several source values expands once; the
	// later items inherit the first expansion's size.
	expanded := make(map[string]*workItem)

	for _, item := range items {
		if item.isSctConst() || !item.isRefset {
			continue
		}
		if first, ok := expanded[item.refsetID]; ok {
			item.localSize = first.localSize
			continue
		}
		expanded[item.refsetID] = item
		members := o.refsets.Expand(ctx, item.refsetID)
		if len(members) > 0 {
			item.localSize = len(members)
			merged = append(merged, members...)
			name := o.refsets.DisplayName(item.refsetID)
			if name == "" {
				name = item.value.DisplayName
			}
			if name == "" {
				name = "Refset " + item.refsetID
			}
			refsetsResolved = append(refsetsResolved, ResolvedRefset{RefsetID: item.refsetID, Name: name})
			continue
		}
		// Not in the local snapshot, fall back to a remote ^refset query.
		eclValues = append(eclValues, ecl.Value{Code: item.refsetID, IsRefset: true})
	}

	for _, item := range items {
		if item.isSctConst() || item.isRefset {
			continue
		}
		eclValues = append(eclValues, ecl.Value{
			Code:            item.resolved,
			IncludeChildren: item.value.IncludeChildren,
		})
	}

	if query := ecl.BuildQuery(eclValues, input.ExcludedCodes, o.log); query != "" {
		codings, err := o.client.Expand(ctx, query)
		if err != nil {
			// The value set keeps whatever the other sources produced;
			// codes that depended on this query end up in FailedCodes.
			o.log.Error().Err(err).
				Str("valueSet", input.SourceID).
				Msg("ECL expansion failed, continuing with remaining sources")
		}
		for _, coding := range codings {
			merged = append(merged, TargetConcept{
				Code:    coding.Code,
				Display: coding.Display,
				System:  coding.System,
				Source:  SourceRemoteQuery,
			})
		}
	}

	for _, item := range items {
		if !item.isSctConst() {
			continue
		}
		products, err := o.substances.Expand(ctx, item.resolved, item.value.IncludeChildren)
		if err != nil {
			o.log.Error().Err(err).
				Str("substance", item.value.Code).
				Msg("Substance expansion failed")
			continue
		}
		item.localSize = len(products)
		merged = append(merged, products...)
	}

	return dedupeConcepts(merged), refsetsResolved
}

// reconcileFlags copies each source value's refset and descendant intent
// onto any merged concept sharing its resolved code, so a parent code that
// appears in its own expansion carries the source's flags instead of
// defaults. Provenance is never rewritten here.
func (o *Orchestrator) reconcileFlags(concepts []TargetConcept, items []*workItem) []TargetConcept {
	byResolved := make(map[string]*workItem, len(items))
	for _, item := range items {
		if item.isSctConst() {
			continue
		}
		if _, ok := byResolved[item.resolved]; !ok {
			byResolved[item.resolved] = item
		}
	}

	for i := range concepts {
		if item, ok := byResolved[concepts[i].Code]; ok {
			concepts[i].IsRefset = item.isRefset
			concepts[i].ExcludeChildren = !item.value.IncludeChildren
		}
	}
	return concepts
}

func filterExcluded(concepts []TargetConcept, excludedCodes []string) []TargetConcept {
	if len(excludedCodes) == 0 {
		return concepts
	}
	excluded := make(map[string]struct{}, len(excludedCodes))
	for _, code := range excludedCodes {
		excluded[code] = struct{}{}
	}

	filtered := concepts[:0]
	for _, c := range concepts {
		if _, ok := excluded[c.Code]; !ok {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// refsetsUnavailable detects the case where every value was a refset, no
// refset expanded locally, and the remote evaluation only echoed the refset
// ids back: the server does not know these refsets at all. A refset that
// contains itself as its only member would trip this too; callers should
// treat the message as a strong hint rather than proof.
func (o *Orchestrator) refsetsUnavailable(concepts []TargetConcept, items []*workItem, refsetsResolved []ResolvedRefset) bool {
	if len(concepts) == 0 || len(refsetsResolved) > 0 {
		return false
	}

	own := make(map[string]struct{}, len(items)*2)
	for _, item := range items {
		if !item.isRefset {
			return false
		}
		own[item.resolved] = struct{}{}
		own[item.value.Code] = struct{}{}
	}

	for _, c := range concepts {
		if _, ok := own[c.Code]; !ok {
			return false
		}
	}
	return true
}

// classifyFailures accounts for every source value that is absent from the
// final concept set. Substance codes that produced at least one product and
// refsets that expanded locally are legitimately absent by id and exempt.
func classifyFailures(concepts []TargetConcept, items []*workItem) []FailedCode {
	final := make(map[string]struct{}, len(concepts))
	for _, c := range concepts {
		final[c.Code] = struct{}{}
	}

	var failed []FailedCode
	for _, item := range items {
		if item.localSize > 0 {
			continue
		}
		if _, ok := final[item.resolved]; ok {
			continue
		}
		if _, ok := final[item.value.Code]; ok {
			continue
		}

		reason := ReasonNotInExpansion
		if !item.isSctConst() && item.translated == nil && !item.isRefset {
			reason = ReasonNoTranslation
		}
		failed = append(failed, FailedCode{
			OriginalCode: item.value.Code,
			DisplayName:  item.value.DisplayName,
			CodeSystem:   item.value.CodeSystem,
			Reason:       reason,
		})
	}
	return failed
}

// provenance builds the per-value translation audit trail.
func provenance(items []*workItem) []OriginalCode {
	records := make([]OriginalCode, len(items))
	for i, item := range items {
		record := OriginalCode{
			OriginalCode:    item.value.Code,
			DisplayName:     item.value.DisplayName,
			CodeSystem:      item.value.CodeSystem,
			IncludeChildren: item.value.IncludeChildren,
			IsRefset:        item.isRefset,
		}
		if item.translated != nil || item.resolved != item.value.Code {
			record.TranslatedTo = item.resolved
		}
		if item.translated != nil {
			record.TranslatedToDisplay = item.translated.Display
		}
		records[i] = record
	}
	return records
}

func dedupeConcepts(concepts []TargetConcept) []TargetConcept {
	seen := make(map[string]struct{}, len(concepts))
	out := concepts[:0]
	for _, c := range concepts {
		if _, ok := seen[c.Code]; ok {
			continue
		}
		seen[c.Code] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ExpandReport runs every value set of a report through the pipeline
// sequentially. A value set whose expansion fails outright still produces a
// result carrying the error, so one bad refset never sinks its siblings.
func (o *Orchestrator) ExpandReport(ctx context.Context, report Report) (*ReportResult, error) {
	results := make([]ValueSetResult, 0, len(report.ValueSets))

	for i, input := range report.ValueSets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := o.Expand(ctx, report.ID, report.Name, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			o.log.Error().Err(err).
				Str("valueSet", input.SourceID).
				Msg("Value set expansion failed")
			result = failedResult(report, input, err)
		}
		results = append(results, *result)

		if i < len(report.ValueSets)-1 {
			time.Sleep(interValueSetPause)
		}
	}

	return &ReportResult{
		ReportID:   report.ID,
		ReportName: report.Name,
		Results:    results,
		Aggregate:  Aggregate(results),
		ExpandedAt: time.Now().UTC(),
	}, nil
}

// failedResult builds an empty result with stable identity fields for a
// value set whose expansion could not run.
func failedResult(report Report, input ValueSetInput, err error) *ValueSetResult {
	codes := make([]string, len(input.Values))
	for i, v := range input.Values {
		codes[i] = v.Code
	}
	hash := Hash(codes)

	return &ValueSetResult{
		ID:             ID(report.ID, input.Index, hash),
		Index:          input.Index,
		Hash:           hash,
		FriendlyName:   FriendlyName(report.Name, input.Index),
		Concepts:       []TargetConcept{},
		ExpansionError: err.Error(),
	}
}
