// Package expansion turns value sets of raw source codes into fully
// attributed sets of SNOMED CT concepts, chaining concept-map translation,
// historical resolution, local refset expansion and remote ECL evaluation.
package expansion

import "time"

// Code system labels as they appear in source exports.
const (
	CodeSystemDefault  = "EMISINTERNAL"
	CodeSystemSctConst = "SCT_CONST"
)

// SourceValue is one line item of a value set as declared by the source
// document. Immutable once parsed.
type SourceValue struct {
	Code            string `json:"code"`
	DisplayName     string `json:"displayName"`
	IncludeChildren bool   `json:"includeChildren"`
	IsRefset        bool   `json:"isRefset"`
	CodeSystem      string `json:"codeSystem"`
}

// ValueSetInput is one value set to expand: its ordered source values plus an
// exclusion list whose codes (with implicit descendant expansion) are
// subtracted from the final concept set.
type ValueSetInput struct {
	SourceID      string        `json:"sourceId"`
	Index         int           `json:"index"`
	Values        []SourceValue `json:"values"`
	ExcludedCodes []string      `json:"excludedCodes,omitempty"`
}

// ConceptSource records which path produced a target concept.
type ConceptSource int

const (
	SourceLocalFile ConceptSource = iota
	SourceRemoteQuery
)

func (s ConceptSource) String() string {
	switch s {
	case SourceLocalFile:
		return "local-file"
	case SourceRemoteQuery:
		return "remote-query"
	default:
		return "unknown"
	}
}

// MarshalText lets ConceptSource serialise as its string form.
func (s ConceptSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TargetConcept is one SNOMED CT concept in an expansion result.
// ExcludeChildren records whether the originating source value requested
// descendant inclusion; it carries the source's intent, not a property of the
// concept itself.
type TargetConcept struct {
	Code            string        `json:"code"`
	Display         string        `json:"display"`
	System          string        `json:"system"`
	Source          ConceptSource `json:"source"`
	IsRefset        bool          `json:"isRefset,omitempty"`
	ExcludeChildren bool          `json:"excludeChildren,omitempty"`
}

// FailureReason classifies why a source code is absent from the output set.
type FailureReason string

const (
	ReasonNoTranslation  FailureReason = "No translation found from ConceptMap"
	ReasonNotInExpansion FailureReason = "Not found in terminology server expansion"
)

// FailedCode is the per-code failure diagnostic. Together with the concepts
// (by provenance) it accounts for every source value of the input.
type FailedCode struct {
	OriginalCode string        `json:"originalCode"`
	DisplayName  string        `json:"displayName"`
	CodeSystem   string        `json:"codeSystem"`
	Reason       FailureReason `json:"reason"`
}

// OriginalCode is the per-source-value provenance record: what the value
// declared and what the translation chain resolved it to.
type OriginalCode struct {
	OriginalCode        string `json:"originalCode"`
	DisplayName         string `json:"displayName"`
	CodeSystem          string `json:"codeSystem"`
	IncludeChildren     bool   `json:"includeChildren"`
	IsRefset            bool   `json:"isRefset"`
	TranslatedTo        string `json:"translatedTo,omitempty"`
	TranslatedToDisplay string `json:"translatedToDisplay,omitempty"`
}

// ResolvedRefset names a refset that was expanded from the local snapshot.
type ResolvedRefset struct {
	RefsetID string `json:"refsetId"`
	Name     string `json:"refsetName"`
}

// ValueSetResult is the outcome of expanding one value set. ID and Hash are
// derived deterministically so repeated runs over unchanged input reproduce
// the same identifiers; Hash also enables duplicate detection across
// unrelated value sets sharing the same code set.
type ValueSetResult struct {
	ID              string           `json:"valueSetId"`
	Index           int              `json:"valueSetIndex"`
	Hash            string           `json:"valueSetHash"`
	FriendlyName    string           `json:"valueSetFriendlyName"`
	Concepts        []TargetConcept  `json:"concepts"`
	OriginalCodes   []OriginalCode   `json:"originalCodes"`
	FailedCodes     []FailedCode     `json:"failedCodes,omitempty"`
	RefsetsResolved []ResolvedRefset `json:"refsets,omitempty"`
	SQLCodes        string           `json:"sqlFormattedCodes"`
	ExpansionError  string           `json:"expansionError,omitempty"`
}

// Report is the inbound bundle for one parent document: its value sets keyed
// by a stable identifier and display name.
type Report struct {
	ID        string          `json:"reportId"`
	Name      string          `json:"reportName"`
	ValueSets []ValueSetInput `json:"valueSets"`
}

// AggregateConcept is a concept with its value-set attribution, for the
// flattened cross-value-set view.
type AggregateConcept struct {
	TargetConcept
	ValueSetID    string `json:"valueSetId"`
	ValueSetIndex int    `json:"valueSetIndex"`
}

// AggregateResult is the flattened, deduplicated concept list across all
// value sets of a report.
type AggregateResult struct {
	Concepts []AggregateConcept `json:"concepts"`
	Total    int                `json:"totalCount"`
	SQLCodes string             `json:"sqlFormattedCodes"`
}

// ReportResult is the outcome of expanding every value set of a report.
type ReportResult struct {
	ReportID   string           `json:"reportId"`
	ReportName string           `json:"reportName"`
	Results    []ValueSetResult `json:"valueSetGroups"`
	Aggregate  AggregateResult  `json:"aggregate"`
	ExpandedAt time.Time        `json:"expandedAt"`
}
