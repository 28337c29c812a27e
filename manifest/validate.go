package manifest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// systemNamePattern matches kebab-case names starting with a letter.
// Length bounds (3-63) are checked separately for a clearer error message.
var systemNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]+$`)

// instanceNamePattern matches agent instance identifiers.
var instanceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

const (
	minSystemNameLen  = 3
	maxSystemNameLen  = 63
	maxDescriptionLen = 500
)

// FieldError describes a single schema violation at a field path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every schema violation found in a manifest.
// Validation never short-circuits: the caller receives the full field map.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return v[0].Error()
	}
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(v), strings.Join(parts, "; "))
}

// Fields returns the offending field paths in declaration order.
func (v ValidationErrors) Fields() []string {
	fields := make([]string, len(v))
	for i, e := range v {
		fields[i] = e.Field
	}
	return fields
}

// Validate checks the manifest against the schema and returns every violation
// as a ValidationErrors value. A nil return means the manifest is acceptable
// to the engine (catalog resolution is a separate concern).
func (m *Manifest) Validate() error {
	var errs ValidationErrors

	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if m.ManifestVersion != Version {
		add("manifest_version", "must be %q, got %q", Version, m.ManifestVersion)
	}

	switch {
	case m.SystemName == "":
		add("system_name", "required")
	case len(m.SystemName) < minSystemNameLen || len(m.SystemName) > maxSystemNameLen:
		add("system_name", "must be %d-%d characters, got %d", minSystemNameLen, maxSystemNameLen, len(m.SystemName))
	case !systemNamePattern.MatchString(m.SystemName):
		add("system_name", "must be kebab-case matching ^[a-z][a-z0-9-]+$")
	}

	if m.Org == "" {
		add("org", "required")
	}

	if len(m.Description) > maxDescriptionLen {
		add("description", "must be at most %d characters, got %d", maxDescriptionLen, len(m.Description))
	}

	m.validateComponents(&errs, add)

	if m.Memory != nil {
		if !MemoryBackends[m.Memory.Backend] {
			add("memory.backend", "unknown backend %q, expected one of %s", m.Memory.Backend, enumList(MemoryBackends))
		}
		if m.Memory.TTLSeconds < 0 {
			add("memory.ttl_seconds", "must not be negative")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (m *Manifest) validateComponents(errs *ValidationErrors, add func(string, string, ...any)) {
	c := m.Components

	if c.Backend != nil {
		if c.Backend.Template == "" {
			add("components.backend.template", "required")
		} else if !BackendTemplates[c.Backend.Template] {
			add("components.backend.template", "unknown template %q, expected one of %s", c.Backend.Template, enumList(BackendTemplates))
		}
	}

	if c.Frontend != nil {
		if c.Frontend.Template == "" {
			add("components.frontend.template", "required")
		} else if !FrontendTemplates[c.Frontend.Template] {
			add("components.frontend.template", "unknown template %q, expected one of %s", c.Frontend.Template, enumList(FrontendTemplates))
		}
	}

	for i, agent := range c.AIAgents {
		path := fmt.Sprintf("components.ai_agents[%d]", i)
		if agent.Template == "" {
			add(path+".template", "required")
			continue
		}
		if !AgentTemplates[agent.Template] {
			add(path+".template", "unknown template %q, expected one of %s", agent.Template, enumList(AgentTemplates))
		}
		if agent.InstanceName != "" && !instanceNamePattern.MatchString(agent.InstanceName) {
			add(path+".instance_name", "must match ^[a-z][a-z0-9_-]*$")
		}
	}

	if c.Business != nil {
		if c.Business.Template == "" {
			add("components.business.template", "required")
		} else if !BusinessTemplates[c.Business.Template] {
			add("components.business.template", "unknown template %q, expected one of %s", c.Business.Template, enumList(BusinessTemplates))
		}
	}
}

// UnknownToggleKeys returns the infrastructure and governance keys that are
// not part of the declared enumerations. The engine surfaces them as
// composition report warnings rather than rejecting the manifest.
func (m *Manifest) UnknownToggleKeys() []string {
	var unknown []string
	for key := range m.Components.Infrastructure {
		if _, ok := InfrastructureDefaults[key]; !ok {
			unknown = append(unknown, "infrastructure."+key)
		}
	}
	for key := range m.Components.Governance {
		if _, ok := GovernanceDefaults[key]; !ok {
			unknown = append(unknown, "governance."+key)
		}
	}
	return unknown
}

// enumList renders an enumeration set for error messages, sorted for
// deterministic output.
func enumList(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "[" + strings.Join(keys, ", ") + "]"
}
