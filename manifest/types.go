// Package manifest defines the system manifest accepted by the composer and
// its schema validation. A manifest declares the desired system — backend,
// frontend, agent instances, governance and infrastructure toggles — and is
// immutable once accepted.
package manifest

import "encoding/json"

// Version is the only manifest_version the composer accepts.
const Version = "1.0"

// Manifest is the top-level declarative description of a composed system.
// It is stored verbatim in the output tree for provenance.
type Manifest struct {
	// ManifestVersion must be the literal "1.0".
	ManifestVersion string `json:"manifest_version"`

	// SystemName is the kebab-case system identifier (3-63 chars).
	// It becomes the root directory of the output tree.
	SystemName string `json:"system_name"`

	// Org is the owning organization (non-empty, free form).
	Org string `json:"org"`

	// Description is an optional human-readable summary (max 500 chars).
	Description string `json:"description,omitempty"`

	// Components selects the templates to compose.
	Components Components `json:"components"`

	// Memory configures the composed system's memory backend.
	Memory *MemorySpec `json:"memory,omitempty"`

	// Integrations toggles optional integration surfaces.
	Integrations *Integrations `json:"integrations,omitempty"`

	// Metadata carries client-supplied provenance.
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Components selects templates by category. All fields are optional; an empty
// Components still composes the root structure.
type Components struct {
	Backend  *ComponentRef `json:"backend,omitempty"`
	Frontend *FrontendRef  `json:"frontend,omitempty"`
	AIAgents []AgentRef    `json:"ai_agents,omitempty"`
	Business *ComponentRef `json:"business,omitempty"`

	// Infrastructure maps infrastructure toggles to enabled/disabled.
	// Known keys: docker, github_actions, github_pages, github_projects.
	// docker and github_actions default to enabled when the map omits them.
	Infrastructure map[string]bool `json:"infrastructure,omitempty"`

	// Governance maps governance toggles to enabled/disabled.
	// Known keys: tap_enforcement, test_coverage_gate, security_scan.
	// All three default to enabled when the map omits them.
	Governance map[string]bool `json:"governance,omitempty"`
}

// ComponentRef selects a single template by slug.
type ComponentRef struct {
	Template string `json:"template"`
}

// FrontendRef selects a frontend template.
type FrontendRef struct {
	Template string `json:"template"`
	PWA      bool   `json:"pwa,omitempty"`
}

// AgentRef selects an AI agent template instance. InstanceName defaults to
// the template slug when empty; instances must be unique per manifest.
type AgentRef struct {
	Template     string `json:"template"`
	InstanceName string `json:"instance_name,omitempty"`
}

// Instance returns the effective instance name for the agent.
func (a AgentRef) Instance() string {
	if a.InstanceName != "" {
		return a.InstanceName
	}
	return a.Template
}

// MemorySpec configures the composed system's memory backend.
type MemorySpec struct {
	Backend    string `json:"backend"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Integrations toggles optional integration surfaces of the composed system.
type Integrations struct {
	MobileAPI        bool     `json:"mobile_api,omitempty"`
	OpenAICompatible bool     `json:"openai_compatible,omitempty"`
	WebhookDispatch  bool     `json:"webhook_dispatch,omitempty"`
	CORSOrigins      []string `json:"cors_origins,omitempty"`
}

// Metadata carries client-supplied provenance fields.
type Metadata struct {
	CreatedBy string   `json:"created_by,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Parse decodes a manifest from JSON. Unknown top-level fields are tolerated
// for forward compatibility; schema constraints are checked by Validate.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Enumerated template slugs per category. Manifests referencing slugs outside
// these sets are rejected during validation.
var (
	BackendTemplates = map[string]bool{
		"fastapi": true, "express": true, "graphql": true,
		"websocket": true, "ai-inference": true, "event-worker": true,
	}
	FrontendTemplates = map[string]bool{
		"nextjs-pwa": true, "vite-react": true, "dashboard": true,
		"admin-panel": true, "saas-landing": true, "ai-console": true, "chat-ui": true,
	}
	AgentTemplates = map[string]bool{
		"research": true, "builder": true, "validator": true, "financial": true,
		"real-estate": true, "orchestrator": true, "content-gen": true, "social-automation": true,
	}
	BusinessTemplates = map[string]bool{
		"crm": true, "lead-gen": true, "billing": true,
		"saas-subscription": true, "marketplace": true, "portfolio-mgmt": true,
	}
	MemoryBackends = map[string]bool{
		"in-memory": true, "redis": true, "postgres": true,
	}
)

// Known infrastructure and governance toggle keys with their default state.
// Unknown keys are not an error — the engine reports them as warnings.
var (
	InfrastructureDefaults = map[string]bool{
		"docker":          true,
		"github_actions":  true,
		"github_pages":    false,
		"github_projects": false,
	}
	GovernanceDefaults = map[string]bool{
		"tap_enforcement":    true,
		"test_coverage_gate": true,
		"security_scan":      true,
	}
)

// InfrastructureSlug maps an infrastructure toggle key to its catalog slug.
var InfrastructureSlug = map[string]string{
	"docker":          "docker-compose",
	"github_actions":  "github-actions-ci",
	"github_pages":    "github-pages",
	"github_projects": "github-projects",
}

// GovernanceSlug maps a governance toggle key to its catalog slug.
var GovernanceSlug = map[string]string{
	"tap_enforcement":    "tap-enforcement",
	"test_coverage_gate": "test-coverage-gate",
	"security_scan":      "security-gate",
}
