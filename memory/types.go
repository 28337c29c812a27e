// Package memory implements the disk-backed state, decision, and telemetry
// store shared by pipeline runs and the composer. All files live under a
// caller-supplied state directory and are written atomically under an
// advisory file lock so the API and CLI processes coexist.
package memory

import (
	"fmt"

	"github.com/google/uuid"
)

// File names under the state directory.
const (
	StateFile        = "system_state.json"
	DecisionFile     = "decision_log.json"
	TelemetryFile    = "telemetry.json"
	ArchitectureFile = "architecture_map.json"
)

// Phases a system moves through.
var validPhases = map[string]bool{
	"planning": true, "building": true, "testing": true, "deployed": true,
}

// SystemState is the singleton state object for one composed system.
type SystemState struct {
	SystemName       string            `json:"system_name,omitempty"`
	Phase            string            `json:"phase"`
	ComponentsStatus map[string]string `json:"components_status"`
	LastAction       string            `json:"last_action,omitempty"`
	LastActionAt     string            `json:"last_action_at,omitempty"`
	HealthScore      int               `json:"health_score"`
	Errors           []string          `json:"errors"`
	Warnings         []string          `json:"warnings"`
}

// DefaultState seeds a fresh state file: planning phase, full health.
func DefaultState() *SystemState {
	return &SystemState{
		Phase:            "planning",
		ComponentsStatus: map[string]string{},
		HealthScore:      100,
		Errors:           []string{},
		Warnings:         []string{},
	}
}

// Validate checks the state against its schema.
func (s *SystemState) Validate() error {
	if !validPhases[s.Phase] {
		return fmt.Errorf("field phase: %q is not a valid phase", s.Phase)
	}
	if s.HealthScore < 0 || s.HealthScore > 100 {
		return fmt.Errorf("field health_score: %d outside [0,100]", s.HealthScore)
	}
	return nil
}

// DecisionEntry is one append-only record in the decision log.
type DecisionEntry struct {
	ID                string   `json:"id"`
	Timestamp         string   `json:"timestamp"`
	DecisionType      string   `json:"decision_type"`
	Description       string   `json:"description"`
	Rationale         string   `json:"rationale,omitempty"`
	MadeBy            string   `json:"made_by"`
	Outcome           string   `json:"outcome,omitempty"`
	RelatedComponents []string `json:"related_components,omitempty"`
}

// Validate checks an entry that already carries its identity fields.
func (d *DecisionEntry) Validate() error {
	if _, err := uuid.Parse(d.ID); err != nil {
		return fmt.Errorf("field id: %w", err)
	}
	if d.Timestamp == "" {
		return fmt.Errorf("field timestamp: required")
	}
	if d.DecisionType == "" {
		return fmt.Errorf("field decision_type: required")
	}
	if d.Description == "" {
		return fmt.Errorf("field description: required")
	}
	if d.MadeBy != "human" && d.MadeBy != "agent" {
		return fmt.Errorf("field made_by: %q must be human or agent", d.MadeBy)
	}
	return nil
}

// Telemetry event types.
var validEventTypes = map[string]bool{
	"workflow_run": true, "test_pass": true, "test_fail": true,
	"deploy": true, "error": true, "health_check": true,
}

// TelemetryEvent is one append-only record in the telemetry log.
type TelemetryEvent struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"event_type"`
	Component string         `json:"component"`
	Value     *float64       `json:"value,omitempty"`
	Unit      string         `json:"unit,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks an event that already carries its identity fields.
func (t *TelemetryEvent) Validate() error {
	if _, err := uuid.Parse(t.ID); err != nil {
		return fmt.Errorf("field id: %w", err)
	}
	if t.Timestamp == "" {
		return fmt.Errorf("field timestamp: required")
	}
	if !validEventTypes[t.EventType] {
		return fmt.Errorf("field event_type: %q is not a valid event type", t.EventType)
	}
	if t.Component == "" {
		return fmt.Errorf("field component: required")
	}
	return nil
}

// ArchitectureMap is a snapshot of the composed system's shape.
type ArchitectureMap struct {
	Components      []string            `json:"components"`
	DependencyGraph map[string][]string `json:"dependency_graph"`
}

// Validate checks the map against its schema.
func (a *ArchitectureMap) Validate() error {
	if a.Components == nil {
		return fmt.Errorf("field components: required")
	}
	return nil
}

// Context is the consolidated rehydration result. Missing or invalid files
// leave their slot nil/empty and contribute a warning.
type Context struct {
	SystemState     *SystemState     `json:"system_state"`
	DecisionLog     []DecisionEntry  `json:"decision_log"`
	Telemetry       []TelemetryEvent `json:"telemetry"`
	ArchitectureMap *ArchitectureMap `json:"architecture_map"`
	Warnings        []string         `json:"warnings"`
}

// StatePatch is the set of mutations WriteState applies over the current (or
// default) state. Nil fields leave the state untouched.
type StatePatch struct {
	Phase           *string
	LastAction      *string
	HealthScore     *int
	ComponentStatus map[string]string
}
