package expansion

// Aggregate flattens the concepts of all value-set results into one
// deduplicated list with per-value-set attribution. A concept shared by
// several value sets is attributed to the first result that produced it,
// keeping the flags of that occurrence.
func Aggregate(results []ValueSetResult) AggregateResult {
	var concepts []AggregateConcept
	seen := make(map[string]struct{})

	for _, result := range results {
		for _, concept := range result.Concepts {
			if _, ok := seen[concept.Code]; ok {
				continue
			}
			seen[concept.Code] = struct{}{}
			concepts = append(concepts, AggregateConcept{
				TargetConcept: concept,
				ValueSetID:    result.ID,
				ValueSetIndex: result.Index,
			})
		}
	}

	codes := make([]string, len(concepts))
	for i, c := range concepts {
		codes[i] = c.Code
	}

	return AggregateResult{
		Concepts: concepts,
		Total:    len(concepts),
		SQLCodes: FormatForSQL(codes),
	}
}
