package fhir

// Parameters is the FHIR Parameters resource as exchanged with the
// terminology server's $translate and $lookup operations.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter,omitempty"`
}

type Parameter struct {
	Name         string      `json:"name"`
	ValueCode    string      `json:"valueCode,omitempty"`
	ValueUri     string      `json:"valueUri,omitempty"`
	ValueString  string      `json:"valueString,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// NewParameters builds a Parameters resource from the given parameters.
func NewParameters(params ...Parameter) *Parameters {
	return &Parameters{ResourceType: "Parameters", Parameter: params}
}

// Find returns the first parameter with the given name, or nil.
func (p *Parameters) Find(name string) *Parameter {
	if p == nil {
		return nil
	}
	for i := range p.Parameter {
		if p.Parameter[i].Name == name {
			return &p.Parameter[i]
		}
	}
	return nil
}

// FindPart returns the first part with the given name, or nil.
func (p *Parameter) FindPart(name string) *Parameter {
	if p == nil {
		return nil
	}
	for i := range p.Part {
		if p.Part[i].Name == name {
			return &p.Part[i]
		}
	}
	return nil
}

// Property returns the "property" parameter whose "code" part equals the
// given property code, or nil. SNOMED $lookup responses carry inactivity
// and historical associations this way.
func (p *Parameters) Property(code string) *Parameter {
	if p == nil {
		return nil
	}
	for i := range p.Parameter {
		param := &p.Parameter[i]
		if param.Name != "property" {
			continue
		}
		if cp := param.FindPart("code"); cp != nil && cp.ValueCode == code {
			return param
		}
	}
	return nil
}
