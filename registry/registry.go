// Package registry provides the versioned, read-only JSON registry behind
// the discovery API: agent capabilities, pipeline stages, and blueprint
// manifests. Compiled-in defaults serve when no registry file is configured.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Registry is a read-only snapshot loaded at startup. Handlers share it
// without locking.
type Registry struct {
	Version      string                `json:"version"`
	Capabilities map[string]Capability `json:"capabilities"`
	Stages       map[string]Stage      `json:"pipeline_stages"`
	Blueprints   map[string]Blueprint  `json:"blueprints"`
}

// Capability describes what one agent template can do.
type Capability struct {
	Description string   `json:"description"`
	Inputs      []string `json:"inputs,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`
}

// Stage describes one pipeline stage and the memory files it touches.
type Stage struct {
	Description string   `json:"description"`
	Reads       []string `json:"reads,omitempty"`
	Writes      []string `json:"writes,omitempty"`
	Next        string   `json:"next,omitempty"`
}

// Blueprint is a named sample manifest clients can start from.
type Blueprint struct {
	Description string          `json:"description"`
	Manifest    json.RawMessage `json:"manifest"`
}

// Load reads a registry file, falling back to the compiled-in defaults when
// path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if r.Version == "" {
		return nil, fmt.Errorf("registry file missing version")
	}
	return &r, nil
}

// Capability looks up a capability by agent template slug.
func (r *Registry) Capability(slug string) (Capability, bool) {
	c, ok := r.Capabilities[slug]
	return c, ok
}

// Stage looks up a pipeline stage by name.
func (r *Registry) Stage(name string) (Stage, bool) {
	s, ok := r.Stages[name]
	return s, ok
}

// Blueprint looks up a blueprint by name.
func (r *Registry) Blueprint(name string) (Blueprint, bool) {
	b, ok := r.Blueprints[name]
	return b, ok
}

// StageNames returns the pipeline stages in execution order.
func (r *Registry) StageNames() []string {
	order := []string{"compose", "build", "test", "deploy", "monitor", "optimize", "scale"}
	names := make([]string, 0, len(order))
	for _, n := range order {
		if _, ok := r.Stages[n]; ok {
			names = append(names, n)
		}
	}
	// Registry files may define extra stages outside the canonical chain.
	for n := range r.Stages {
		known := false
		for _, o := range order {
			if n == o {
				known = true
				break
			}
		}
		if !known {
			names = append(names, n)
		}
	}
	return names
}
