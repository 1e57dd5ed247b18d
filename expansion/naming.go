package expansion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Keyword replacements applied when shortening value set names. Longer
// phrases are applied before shorter ones; an empty replacement removes the
// phrase entirely.
var keywordMap = map[string]string{
	"chronic obstructive pulmonary disease": "copd",
	"obstructive pulmonary disease":         "copd",
	"chronic kidney disease":                "ckd",
	"coronary heart disease":                "chd",
	"long term condition":                   "",
	"rheumatoid arthritis":                  "ra",
	"atrial fibrillation":                   "af",
	"kidney disease":                        "ckd",
	"heart failure":                         "hf",
	"heart disease":                         "hd",
	"osteoarthritis":                        "oa",
	"fibrillation":                          "af",
	"hypertension":                          "htn",
	"arthritis":                             "ra",
	"diabetes":                              "dm",
	"long term":                             "",
	"ltc lcs":                               "",
	"ltc":                                   "",
	"lcs":                                   "",
	"register":                              "reg",
	"calculation":                           "calc",
	"calculated":                            "calc",
	"estimated":                             "est",
	"measurement":                           "meas",
	"screening":                             "screen",
	"monitoring":                            "monitor",
	"management":                            "mgmt",
	"treatment":                             "tx",
	"therapy":                               "tx",
}

var (
	squareBrackets = regexp.MustCompile(`\[.*?\]`)
	parentheses    = regexp.MustCompile(`\(([^)]+)\)`)
	priorityGroup  = regexp.MustCompile(`\b(?:priority group|pg)\s+(\d+)\b`)
	nonSlugChars   = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// Hash derives a deterministic 16-character identifier from a code set.
// The codes are sorted first, so the hash is independent of declaration
// order; identical code sets in unrelated value sets hash identically.
func Hash(codes []string) string {
	sorted := slices.Clone(codes)
	slices.Sort(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// ID derives the deterministic identifier for a value set from its owning
// report id, position and code hash. It is a pure function: identical
// arguments always produce the identical UUID, and changing any one argument
// changes it.
func ID(reportID string, index int, hash string) string {
	content := fmt.Sprintf("%s::%d::%s", reportID, index, hash)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(content)).String()
}

// FriendlyName derives a short machine/human readable name for a value set
// from its report's display name and position, e.g.
// "On Diabetes Register (HRC)" at index 0 becomes "on_dm_reg_hrc_vs1".
func FriendlyName(reportName string, index int) string {
	name := squareBrackets.ReplaceAllString(reportName, "")
	name = parentheses.ReplaceAllString(name, " $1 ")
	name = strings.ReplaceAll(name, "-", " ")
	name = applyKeywordMappings(name)

	slug := nonSlugChars.ReplaceAllString(strings.ToLower(name), "")
	slug = whitespace.ReplaceAllString(strings.TrimSpace(slug), "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 60 {
		slug = slug[:60]
	}

	return fmt.Sprintf("%s_vs%d", slug, index+1)
}

func applyKeywordMappings(text string) string {
	result := strings.ToLower(strings.TrimSpace(text))

	// Longest phrases first so partial matches never pre-empt full ones.
	keys := make([]string, 0, len(keywordMap))
	for key := range keywordMap {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})

	for _, key := range keys {
		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(key) + `\b`)
		result = pattern.ReplaceAllString(result, keywordMap[key])
	}

	result = priorityGroup.ReplaceAllString(result, "pg$1")
	result = whitespace.ReplaceAllString(result, " ")

	return strings.TrimSpace(result)
}

// FormatForSQL renders codes as a single-quoted, comma-separated list
// suitable for a SQL IN clause.
func FormatForSQL(codes []string) string {
	quoted := make([]string, 0, len(codes))
	for _, code := range codes {
		quoted = append(quoted, "'"+code+"'")
	}
	return strings.Join(quoted, ", ")
}

// SQLInClause renders a complete WHERE ... IN clause for the given column.
func SQLInClause(codes []string, column string) string {
	if column == "" {
		column = "code"
	}
	return fmt.Sprintf("WHERE %s IN (%s)", column, FormatForSQL(codes))
}
