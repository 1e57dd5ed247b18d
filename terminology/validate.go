package terminology

// IsValidConceptID reports whether code is a syntactically plausible SNOMED CT
// concept identifier: digits only, 6 to 18 characters. Codes like "M" or "12"
// turn up in source exports and must never reach a server query.
func IsValidConceptID(code string) bool {
	if len(code) < 6 || len(code) > 18 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
