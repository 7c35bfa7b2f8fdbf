// ABOUTME: The fixed quality gates seeded at startup
// ABOUTME: Code, security and testing gates, three criteria each

package quality

import "github.com/2389/coven-hub/internal/store"

func criterion(name, description string, threshold float64) store.QualityCriteria {
	return store.QualityCriteria{
		Name:        name,
		Description: description,
		Threshold:   threshold,
		Status:      store.CriterionPass,
	}
}

// DefaultGates returns fresh copies of the seeded gates.
func DefaultGates() []*store.QualityGate {
	return []*store.QualityGate{
		{
			ID:          "code-quality",
			Name:        "Code Quality",
			Description: "Static quality of the code base",
			Type:        store.GateCode,
			Status:      store.GatePending,
			AgentID:     "agent1",
			Criteria: []store.QualityCriteria{
				criterion("maintainability", "Maintainability index", 70),
				criterion("complexity", "Share of functions under the complexity budget", 80),
				criterion("duplication", "Share of code that is not duplicated", 95),
			},
		},
		{
			ID:          "security-scan",
			Name:        "Security Scan",
			Description: "Vulnerability and secret scanning",
			Type:        store.GateSecurity,
			Status:      store.GatePending,
			AgentID:     "agent5",
			Criteria: []store.QualityCriteria{
				criterion("vulnerabilities", "Dependency vulnerability score", 90),
				criterion("secrets", "Secret scanning score", 100),
				criterion("dependencies", "Share of dependencies up to date", 85),
			},
		},
		{
			ID:          "test-coverage",
			Name:        "Test Coverage",
			Description: "Automated test health",
			Type:        store.GateTesting,
			Status:      store.GatePending,
			AgentID:     "agent4",
			Criteria: []store.QualityCriteria{
				criterion("unit-coverage", "Unit test line coverage", 80),
				criterion("integration-coverage", "Integration test coverage", 60),
				criterion("pass-rate", "Test pass rate", 98),
			},
		},
	}
}
