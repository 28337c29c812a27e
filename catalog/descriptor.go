// Package catalog indexes the template library on the local filesystem and
// exposes read-only lookups to the engine and the discovery API.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DescriptorFile is the per-template metadata file name.
const DescriptorFile = "template.json"

// Category is the closed set of template categories. Free-form category
// strings are parsed once at catalog load; everything downstream works with
// the tag.
type Category string

const (
	CategoryBackend        Category = "backend"
	CategoryFrontend       Category = "frontend"
	CategoryAIAgent        Category = "ai_agent"
	CategoryBusiness       Category = "business"
	CategoryInfrastructure Category = "infrastructure"
	CategoryGovernance     Category = "governance"
	CategoryConnector      Category = "connector"
	CategoryIndustry       Category = "industry"
)

// Categories lists every category in stable order.
var Categories = []Category{
	CategoryBackend,
	CategoryFrontend,
	CategoryAIAgent,
	CategoryBusiness,
	CategoryInfrastructure,
	CategoryGovernance,
	CategoryConnector,
	CategoryIndustry,
}

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	switch c {
	case CategoryBackend, CategoryFrontend, CategoryAIAgent, CategoryBusiness,
		CategoryInfrastructure, CategoryGovernance, CategoryConnector, CategoryIndustry:
		return c, nil
	}
	return "", fmt.Errorf("unknown template category: %q", s)
}

// String returns the string form of the category.
func (c Category) String() string { return string(c) }

// Ref addresses a descriptor by (category, slug).
type Ref struct {
	Category Category
	Slug     string
}

// String renders the ref as "category:slug".
func (r Ref) String() string {
	return string(r.Category) + ":" + r.Slug
}

// ParseRef parses a "category:slug" reference.
func ParseRef(s string) (Ref, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, fmt.Errorf("invalid template reference %q, expected category:slug", s)
	}
	cat, err := ParseCategory(parts[0])
	if err != nil {
		return Ref{}, err
	}
	return Ref{Category: cat, Slug: parts[1]}, nil
}

// Variable declares an input variable a template expects during
// interpolation. Variables without a default are required bindings.
type Variable struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"`

	// Required marks a variable the caller must bind even when a default
	// exists. A variable without a default is implicitly required.
	Required bool `json:"required,omitempty"`

	Description string `json:"description,omitempty"`
}

// Descriptor is the static metadata for one template in the library.
// Descriptors are loaded at catalog initialization and are read-only.
type Descriptor struct {
	Slug        string   `json:"slug"`
	Category    Category `json:"-"`
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version,omitempty"`

	// Templated is a list of doublestar globs (relative to the template
	// directory) selecting files that receive text interpolation. Files not
	// matching any glob are copied verbatim.
	Templated []string `json:"templated,omitempty"`

	// Variables declares the interpolation variables beyond the builtins
	// (system_name, org, instance_name).
	Variables []Variable `json:"variables,omitempty"`

	// Outputs lists sentinel paths (relative to the target subpath) that must
	// exist after composition; post-verify checks them.
	Outputs []string `json:"outputs,omitempty"`

	// DependsOn lists prerequisite descriptors as "category:slug" references.
	DependsOn []string `json:"depends_on,omitempty"`

	// Dir is the absolute template source directory. Set by the loader.
	Dir string `json:"-"`
}

// descriptorFile is the on-disk shape of template.json. Category appears as a
// free string in the file and is parsed to the closed tag on load.
type descriptorFile struct {
	Descriptor
	Category string `json:"category"`
}

// Ref returns the descriptor's catalog address.
func (d *Descriptor) Ref() Ref {
	return Ref{Category: d.Category, Slug: d.Slug}
}

// Dependencies parses the declared depends_on references.
func (d *Descriptor) Dependencies() ([]Ref, error) {
	refs := make([]Ref, 0, len(d.DependsOn))
	for _, raw := range d.DependsOn {
		ref, err := ParseRef(raw)
		if err != nil {
			return nil, fmt.Errorf("descriptor %s:%s: %w", d.Category, d.Slug, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// loadDescriptor reads and validates a template.json file. The returned
// descriptor has Category parsed and Dir unset (the caller fills it in).
func loadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	var df descriptorFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}

	if df.Slug == "" {
		return nil, fmt.Errorf("descriptor missing slug")
	}
	cat, err := ParseCategory(df.Category)
	if err != nil {
		return nil, err
	}

	d := df.Descriptor
	d.Category = cat

	// Reject malformed dependency refs at load so resolution never sees them.
	if _, err := d.Dependencies(); err != nil {
		return nil, err
	}

	return &d, nil
}
