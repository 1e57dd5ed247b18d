package fhir

// ValueSet carries the subset of the FHIR ValueSet resource returned by the
// terminology server's $expand operation.
type ValueSet struct {
	ResourceType string     `json:"resourceType"`
	Expansion    *Expansion `json:"expansion,omitempty"`
}

type Expansion struct {
	Identifier string   `json:"identifier,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Total      int      `json:"total,omitempty"`
	Contains   []Coding `json:"contains,omitempty"`
}
