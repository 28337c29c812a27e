package registry

import "encoding/json"

// Default returns the compiled-in registry. Used when no registry file is
// configured.
func Default() *Registry {
	return &Registry{
		Version: "1.0",
		Capabilities: map[string]Capability{
			"research": {
				Description: "Gathers and summarizes external information for other agents",
				Inputs:      []string{"query"},
				Outputs:     []string{"findings", "sources"},
			},
			"builder": {
				Description: "Generates and modifies code inside the composed repository",
				Inputs:      []string{"task", "architecture_map"},
				Outputs:     []string{"artifacts"},
			},
			"validator": {
				Description: "Runs checks against governance gates and reports violations",
				Inputs:      []string{"artifacts"},
				Outputs:     []string{"verdict", "violations"},
			},
			"financial": {
				Description: "Financial analysis and portfolio workflows",
				Inputs:      []string{"holdings"},
				Outputs:     []string{"analysis"},
			},
			"real-estate": {
				Description: "Property data ingestion and valuation workflows",
				Inputs:      []string{"listings"},
				Outputs:     []string{"valuations"},
			},
			"orchestrator": {
				Description: "Sequences other agents and maintains workflow state",
				Inputs:      []string{"system_state", "decision_log"},
				Outputs:     []string{"plan", "decisions"},
			},
			"content-gen": {
				Description: "Produces marketing and documentation content",
				Inputs:      []string{"brief"},
				Outputs:     []string{"content"},
			},
			"social-automation": {
				Description: "Schedules and publishes social content",
				Inputs:      []string{"content", "calendar"},
				Outputs:     []string{"posts"},
			},
		},
		Stages: map[string]Stage{
			"compose": {
				Description: "Materialize the repository from a manifest",
				Writes:      []string{"system_state.json", "architecture_map.json"},
				Next:        "build",
			},
			"build": {
				Description: "Build all components",
				Reads:       []string{"system_state.json", "architecture_map.json"},
				Writes:      []string{"system_state.json", "telemetry.json"},
				Next:        "test",
			},
			"test": {
				Description: "Run the composed system's test suites",
				Reads:       []string{"system_state.json"},
				Writes:      []string{"system_state.json", "telemetry.json"},
				Next:        "deploy",
			},
			"deploy": {
				Description: "Deploy build artifacts to the target environment",
				Reads:       []string{"system_state.json"},
				Writes:      []string{"system_state.json", "telemetry.json", "decision_log.json"},
				Next:        "monitor",
			},
			"monitor": {
				Description: "Watch the deployed system's health",
				Reads:       []string{"system_state.json"},
				Writes:      []string{"telemetry.json"},
				Next:        "optimize",
			},
			"optimize": {
				Description: "Tune the system from observed telemetry",
				Reads:       []string{"telemetry.json", "architecture_map.json"},
				Writes:      []string{"decision_log.json", "system_state.json"},
				Next:        "scale",
			},
			"scale": {
				Description: "Adjust capacity to demand",
				Reads:       []string{"telemetry.json"},
				Writes:      []string{"system_state.json", "decision_log.json"},
			},
		},
		Blueprints: map[string]Blueprint{
			"saas-starter": {
				Description: "API backend, PWA frontend, billing, and CI out of the box",
				Manifest: json.RawMessage(`{
  "manifest_version": "1.0",
  "system_name": "saas-starter",
  "org": "example",
  "components": {
    "backend": {"template": "fastapi"},
    "frontend": {"template": "nextjs-pwa", "pwa": true},
    "business": {"template": "saas-subscription"},
    "infrastructure": {"docker": true, "github_actions": true}
  },
  "memory": {"backend": "redis", "ttl_seconds": 3600}
}`),
			},
			"agent-swarm": {
				Description: "A research/build/validate agent trio behind one orchestrator",
				Manifest: json.RawMessage(`{
  "manifest_version": "1.0",
  "system_name": "agent-swarm",
  "org": "example",
  "components": {
    "backend": {"template": "ai-inference"},
    "ai_agents": [
      {"template": "orchestrator"},
      {"template": "research"},
      {"template": "builder"},
      {"template": "validator"}
    ]
  },
  "memory": {"backend": "in-memory", "ttl_seconds": 600}
}`),
			},
		},
	}
}
