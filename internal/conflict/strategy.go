// ABOUTME: Resolution strategies and conflict detectors
// ABOUTME: Placeholder implementations sit behind interfaces real analysis can replace

package conflict

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/2389/coven-hub/internal/store"
)

// Strategy produces a resolution narrative for a conflict.
type Strategy func(c store.Conflict) string

// DefaultStrategies returns one placeholder strategy per conflict type.
func DefaultStrategies() map[store.ConflictType]Strategy {
	return map[store.ConflictType]Strategy{
		store.ConflictCode: func(c store.Conflict) string {
			return fmt.Sprintf("Merge reviewed by %s; conflicting changes reconciled on the main branch", joinAgents(c.Agents))
		},
		store.ConflictDependency: func(c store.Conflict) string {
			return fmt.Sprintf("Dependency order agreed between %s; blocking work sequenced first", joinAgents(c.Agents))
		},
		store.ConflictResource: func(c store.Conflict) string {
			return fmt.Sprintf("Shared resource reallocated between %s with time-boxed ownership", joinAgents(c.Agents))
		},
		store.ConflictPriority: func(c store.Conflict) string {
			return fmt.Sprintf("Priorities re-ranked against the project plan for %s", joinAgents(c.Agents))
		},
		store.ConflictArchitecture: func(c store.Conflict) string {
			return fmt.Sprintf("Architecture decision recorded after review with %s", joinAgents(c.Agents))
		},
	}
}

func joinAgents(agents []string) string {
	if len(agents) == 0 {
		return "the involved agents"
	}
	return strings.Join(agents, ", ")
}

// Detection is a conflict proposed by a Detector.
type Detection struct {
	Type        store.ConflictType
	Severity    store.Severity
	Description string
	Agents      []string
}

// Detector inspects the roster and may propose one conflict per sweep.
type Detector interface {
	Detect(agentIDs []string) (Detection, bool)
}

var severities = []store.Severity{store.SeverityLow, store.SeverityMedium, store.SeverityHigh, store.SeverityCritical}

// RandomDetector synthesizes a conflict with a fixed probability. It stands
// in for signal-based detection.
type RandomDetector struct {
	probability float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomDetector returns a detector firing with probability p. A nil rng
// uses a randomly seeded source.
func NewRandomDetector(p float64, rng *rand.Rand) *RandomDetector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomDetector{probability: p, rng: rng}
}

// Detect implements Detector.
func (d *RandomDetector) Detect(agentIDs []string) (Detection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	candidates := distinct(agentIDs)
	if len(candidates) == 0 || d.rng.Float64() >= d.probability {
		return Detection{}, false
	}

	typ := store.ConflictTypes[d.rng.IntN(len(store.ConflictTypes))]
	first := d.rng.IntN(len(candidates))
	agents := []string{candidates[first]}
	if len(candidates) > 1 {
		// Draw from the others by skipping over first.
		second := d.rng.IntN(len(candidates) - 1)
		if second >= first {
			second++
		}
		agents = append(agents, candidates[second])
	}

	return Detection{
		Type:        typ,
		Severity:    severities[d.rng.IntN(len(severities))],
		Description: fmt.Sprintf("Potential %s conflict detected between %s", typ, joinAgents(agents)),
		Agents:      agents,
	}, true
}

// distinct drops empty and repeated ids, keeping first occurrences in order.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
