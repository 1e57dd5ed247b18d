package rf2

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Description snapshot column positions, fixed by the RF2 layout:
// id, effectiveTime, active, moduleId, conceptId, languageCode, typeId,
// term, caseSignificanceId.
const (
	descColActive    = 2
	descColConceptID = 4
	descColTypeID    = 6
	descColTerm      = 7
	descMinColumns   = 9
)

// Fully specified name description type. Preferred over synonyms when a
// concept carries both.
const typeIDFSN = "900000000000003001"

// DescriptionCache indexes a description snapshot file as concept id ->
// preferred term. Safe for unlimited concurrent reads once built.
type DescriptionCache struct {
	path string
	log  zerolog.Logger

	mu    sync.Mutex
	built bool
	terms map[string]string
}

func NewDescriptionCache(path string, log zerolog.Logger) *DescriptionCache {
	return &DescriptionCache{path: path, log: log}
}

// DisplayName returns the preferred term for a concept, or "" when the
// concept is not in the snapshot.
func (c *DescriptionCache) DisplayName(conceptID string) string {
	return c.index()[conceptID]
}

// DisplayNames returns the preferred terms for the given concepts, omitting
// concepts without one.
func (c *DescriptionCache) DisplayNames(conceptIDs []string) map[string]string {
	index := c.index()
	result := make(map[string]string, len(conceptIDs))
	for _, id := range conceptIDs {
		if term, ok := index[id]; ok {
			result[id] = term
		}
	}
	return result
}

// Reset discards the built index so the next lookup rebuilds it. Intended
// for test isolation only.
func (c *DescriptionCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = false
	c.terms = nil
}

func (c *DescriptionCache) index() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.built {
		c.log.Debug().Str("path", c.path).Msg("Loading RF2 description data")
		terms, fsnCount, err := parseDescriptionFile(c.path)
		if err != nil {
			c.log.Error().Err(err).Str("path", c.path).Msg("Failed to parse RF2 description file")
			terms = make(map[string]string)
		} else {
			c.log.Info().
				Int("concepts", len(terms)).
				Int("fsns", fsnCount).
				Msg("Loaded description index")
		}
		c.terms = terms
		c.built = true
	}

	return c.terms
}

func parseDescriptionFile(path string) (map[string]string, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open description file: %w", err)
	}
	defer file.Close()

	terms := make(map[string]string)
	hasFSN := make(map[string]struct{})

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		columns := strings.Split(line, "\t")
		if len(columns) < descMinColumns {
			continue
		}

		active := columns[descColActive]
		conceptID := columns[descColConceptID]
		typeID := columns[descColTypeID]
		term := columns[descColTerm]

		if active != "1" || conceptID == "" || term == "" {
			continue
		}

		// An FSN always wins; a synonym only fills a gap.
		if typeID == typeIDFSN {
			terms[conceptID] = term
			hasFSN[conceptID] = struct{}{}
			continue
		}
		if _, ok := hasFSN[conceptID]; !ok {
			if _, ok := terms[conceptID]; !ok {
				terms[conceptID] = term
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read description file: %w", err)
	}

	return terms, len(hasFSN), nil
}
