// Package rf2 provides lazily-built, read-only indexes over SNOMED CT RF2
// snapshot files: simple reference set membership and concept descriptions.
// Each index is built by a single full scan of its file on first access and
// held for the process lifetime; lookups never trigger a rebuild.
package rf2

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// Simple refset snapshot column positions, fixed by the RF2 layout:
// id, effectiveTime, active, moduleId, refsetId, referencedComponentId.
const (
	refsetColActive      = 2
	refsetColRefsetID    = 4
	refsetColComponentID = 5
	refsetMinColumns     = 6
)

// RefsetCache indexes a simple refset snapshot file as refset id -> set of
// active member concept ids. Safe for unlimited concurrent reads once built.
type RefsetCache struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	built   bool
	members map[string]map[string]struct{}
}

func NewRefsetCache(path string, log zerolog.Logger) *RefsetCache {
	return &RefsetCache{path: path, log: log}
}

// Exists reports whether the refset is present in the snapshot with at least
// one active member.
func (c *RefsetCache) Exists(refsetID string) bool {
	members := c.index()[refsetID]
	return len(members) > 0
}

// Members returns the active member concept ids of a refset, sorted for
// deterministic output. Unknown refsets return nil.
func (c *RefsetCache) Members(refsetID string) []string {
	memberSet := c.index()[refsetID]
	if len(memberSet) == 0 {
		return nil
	}
	members := make([]string, 0, len(memberSet))
	for id := range memberSet {
		members = append(members, id)
	}
	slices.Sort(members)
	return members
}

// Reset discards the built index so the next lookup rebuilds it. Intended
// for test isolation only.
func (c *RefsetCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = false
	c.members = nil
}

func (c *RefsetCache) index() map[string]map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.built {
		c.log.Debug().Str("path", c.path).Msg("Loading RF2 refset data")
		members, err := parseRefsetFile(c.path)
		if err != nil {
			c.log.Error().Err(err).Str("path", c.path).Msg("Failed to parse RF2 refset file")
			members = make(map[string]map[string]struct{})
		} else {
			total := 0
			for _, set := range members {
				total += len(set)
			}
			c.log.Info().
				Int("refsets", len(members)).
				Int("members", total).
				Msg("Loaded refset membership index")
		}
		c.members = members
		c.built = true
	}

	return c.members
}

func parseRefsetFile(path string) (map[string]map[string]struct{}, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open refset file: %w", err)
	}
	defer file.Close()

	members := make(map[string]map[string]struct{})

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
		if len(columns) < refsetMinColumns {
			continue
		}

		active := columns[refsetColActive]
		refsetID := columns[refsetColRefsetID]
		componentID := columns[refsetColComponentID]

		if active != "1" || refsetID == "" || componentID == "" {
			continue
		}

		set, ok := members[refsetID]
		if !ok {
			set = make(map[string]struct{})
			members[refsetID] = set
		}
		set[componentID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read refset file: %w", err)
	}

	return members, nil
}
