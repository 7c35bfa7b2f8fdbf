// ABOUTME: The fixed roster of cooperating agents seeded at startup
// ABOUTME: Secrets come from AGENT<N>_SECRET with deterministic local defaults

package agent

// Definition describes one seeded agent.
type Definition struct {
	ID            string
	Name          string
	Role          string
	Capabilities  []string
	Dependencies  []string
	SecretEnv     string
	DefaultSecret string
}

// DefaultRoster is the five-agent team every hub starts with.
var DefaultRoster = []Definition{
	{
		ID:            "agent1",
		Name:          "Atlas",
		Role:          "Project Architect",
		Capabilities:  []string{"system-design", "api-design", "code-review"},
		SecretEnv:     "AGENT1_SECRET",
		DefaultSecret: "agent1-password-2024",
	},
	{
		ID:            "agent2",
		Name:          "Forge",
		Role:          "Backend Developer",
		Capabilities:  []string{"go", "databases", "api-implementation"},
		Dependencies:  []string{"agent1"},
		SecretEnv:     "AGENT2_SECRET",
		DefaultSecret: "agent2-password-2024",
	},
	{
		ID:            "agent3",
		Name:          "Prism",
		Role:          "Frontend Developer",
		Capabilities:  []string{"typescript", "ui-design", "accessibility"},
		Dependencies:  []string{"agent1", "agent2"},
		SecretEnv:     "AGENT3_SECRET",
		DefaultSecret: "agent3-password-2024",
	},
	{
		ID:            "agent4",
		Name:          "Sentinel",
		Role:          "QA Engineer",
		Capabilities:  []string{"testing", "automation", "quality-gates"},
		Dependencies:  []string{"agent2", "agent3"},
		SecretEnv:     "AGENT4_SECRET",
		DefaultSecret: "agent4-password-2024",
	},
	{
		ID:            "agent5",
		Name:          "Harbor",
		Role:          "DevOps Engineer",
		Capabilities:  []string{"ci-cd", "infrastructure", "monitoring"},
		Dependencies:  []string{"agent2"},
		SecretEnv:     "AGENT5_SECRET",
		DefaultSecret: "agent5-password-2024",
	},
}
