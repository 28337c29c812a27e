package engine

import (
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/c360studio/repoforge/catalog"
	"github.com/c360studio/repoforge/manifest"
)

// Node is one planned write: a resolved descriptor, its instance name, the
// variable bindings for interpolation, and the target subpath inside the
// output tree.
type Node struct {
	Descriptor *catalog.Descriptor
	Instance   string
	Target     string
	Vars       map[string]string
}

// Ref returns the node's catalog address.
func (n *Node) Ref() catalog.Ref { return n.Descriptor.Ref() }

// Plan is the ordered set of writes derived from a manifest and a catalog
// snapshot. Nodes appear in dependency order; prerequisites always precede
// their dependents.
type Plan struct {
	Manifest *manifest.Manifest
	Nodes    []*Node

	// Warnings collects non-fatal observations (unknown toggle keys).
	Warnings []string

	// Snapshot is the catalog content hash the plan was built against.
	Snapshot string
}

// BuildPlan validates the manifest, resolves every template reference,
// orders by dependency, and assigns target subpaths. It implements the
// validate, resolve, order, and plan steps; staging never sees an unresolved
// or colliding node.
func BuildPlan(m *manifest.Manifest, cat *catalog.Catalog) (*Plan, error) {
	if err := m.Validate(); err != nil {
		f := &Fault{
			Kind: KindManifestInvalid,
			Msg:  "manifest failed schema validation",
			Hint: "fix the listed fields and revalidate the manifest",
			Err:  err,
		}
		var verrs manifest.ValidationErrors
		if errors.As(err, &verrs) {
			f.Fields = verrs.Fields()
		}
		return nil, f
	}

	p := &Plan{Manifest: m, Snapshot: cat.Snapshot()}
	for _, key := range m.UnknownToggleKeys() {
		p.Warnings = append(p.Warnings, fmt.Sprintf("unknown toggle %q ignored", key))
	}

	refs := collectRefs(m)

	// Resolve every reference before reporting, so one failure names all
	// missing templates at once. Toggle-derived refs are best-effort: a
	// library without the infrastructure or governance templates skips them
	// with a warning instead of failing the whole composition.
	var missing []string
	var collisions []string
	nodes := make(map[nodeKey]*Node)
	for _, r := range refs {
		d, ok := cat.ResolveRef(r.ref)
		if !ok {
			if r.implicit {
				p.Warnings = append(p.Warnings,
					fmt.Sprintf("template %s not in catalog; toggle skipped", r.ref))
				continue
			}
			missing = append(missing, r.ref.String())
			continue
		}
		key := nodeKey{ref: r.ref, instance: r.instance}
		if _, exists := nodes[key]; exists {
			// Two components with the same template and instance name map to
			// one subpath; inserting the second would silently hide the first.
			collisions = append(collisions, r.target)
			continue
		}
		nodes[key] = &Node{
			Descriptor: d,
			Instance:   r.instance,
			Target:     r.target,
			Vars:       bindVars(m, d, r.instance),
		}
	}

	// Pull in declared dependencies transitively. Dependency-only nodes are
	// namespaced by category.
	queue := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		deps, err := n.Descriptor.Dependencies()
		if err != nil {
			return nil, &Fault{Kind: KindUnknownTemplate, Msg: "malformed dependency reference", Err: err}
		}
		for _, dep := range deps {
			key := nodeKey{ref: dep, instance: dep.Slug}
			if _, seen := nodes[key]; seen {
				continue
			}
			d, ok := cat.ResolveRef(dep)
			if !ok {
				missing = append(missing, dep.String())
				continue
			}
			dn := &Node{
				Descriptor: d,
				Instance:   dep.Slug,
				Target:     dependencyTarget(dep),
				Vars:       bindVars(m, d, dep.Slug),
			}
			nodes[key] = dn
			queue = append(queue, dn)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &Fault{
			Kind:   KindUnknownTemplate,
			Msg:    fmt.Sprintf("%d template reference(s) not in the catalog", len(missing)),
			Fields: missing,
			Hint:   "check the template library or pick a published slug",
		}
	}

	// Target-path collisions across distinct refs. Same-key duplicates were
	// already caught at insertion.
	targets := make(map[string][]string)
	for _, n := range nodes {
		targets[n.Target] = append(targets[n.Target], n.Ref().String())
	}
	for target, owners := range targets {
		if len(owners) > 1 {
			collisions = append(collisions, target)
		}
	}
	if len(collisions) > 0 {
		sort.Strings(collisions)
		collisions = dedupe(collisions)
		return nil, &Fault{
			Kind:   KindNameCollision,
			Msg:    "multiple components target the same output subpath",
			Fields: collisions,
			Hint:   "give each ai_agent a distinct instance_name",
		}
	}

	ordered, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}
	p.Nodes = ordered
	return p, nil
}

type nodeKey struct {
	ref      catalog.Ref
	instance string
}

type resolvedRef struct {
	ref      catalog.Ref
	instance string
	target   string

	// implicit marks refs derived from default-on toggles rather than an
	// explicit manifest component.
	implicit bool
}

// collectRefs enumerates the manifest's direct template references with their
// target subpaths. Infrastructure and governance toggles are merged with their
// defaults first.
func collectRefs(m *manifest.Manifest) []resolvedRef {
	var refs []resolvedRef

	if b := m.Components.Backend; b != nil {
		refs = append(refs, resolvedRef{
			ref:      catalog.Ref{Category: catalog.CategoryBackend, Slug: b.Template},
			instance: b.Template,
			target:   "backend",
		})
	}
	if f := m.Components.Frontend; f != nil {
		refs = append(refs, resolvedRef{
			ref:      catalog.Ref{Category: catalog.CategoryFrontend, Slug: f.Template},
			instance: f.Template,
			target:   "frontend",
		})
	}
	for _, a := range m.Components.AIAgents {
		refs = append(refs, resolvedRef{
			ref:      catalog.Ref{Category: catalog.CategoryAIAgent, Slug: a.Template},
			instance: a.Instance(),
			target:   path.Join("agents", a.Instance()),
		})
	}
	if b := m.Components.Business; b != nil {
		refs = append(refs, resolvedRef{
			ref:      catalog.Ref{Category: catalog.CategoryBusiness, Slug: b.Template},
			instance: b.Template,
			target:   "business",
		})
	}

	for _, key := range sortedKeys(manifest.InfrastructureDefaults) {
		if !toggleEnabled(m.Components.Infrastructure, key, manifest.InfrastructureDefaults[key]) {
			continue
		}
		slug := manifest.InfrastructureSlug[key]
		refs = append(refs, resolvedRef{
			ref:      catalog.Ref{Category: catalog.CategoryInfrastructure, Slug: slug},
			instance: slug,
			target:   path.Join(".infra", slug),
			implicit: true,
		})
	}
	for _, key := range sortedKeys(manifest.GovernanceDefaults) {
		if !toggleEnabled(m.Components.Governance, key, manifest.GovernanceDefaults[key]) {
			continue
		}
		slug := manifest.GovernanceSlug[key]
		refs = append(refs, resolvedRef{
			ref:      catalog.Ref{Category: catalog.CategoryGovernance, Slug: slug},
			instance: slug,
			target:   path.Join("governance", slug),
			implicit: true,
		})
	}

	return refs
}

func toggleEnabled(toggles map[string]bool, key string, def bool) bool {
	if toggles == nil {
		return def
	}
	if v, ok := toggles[key]; ok {
		return v
	}
	return def
}

// dedupe removes adjacent duplicates from a sorted slice.
func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// dependencyTarget namespaces a node pulled in purely as a dependency.
func dependencyTarget(ref catalog.Ref) string {
	switch ref.Category {
	case catalog.CategoryBackend:
		return "backend"
	case catalog.CategoryFrontend:
		return "frontend"
	case catalog.CategoryAIAgent:
		return path.Join("agents", ref.Slug)
	case catalog.CategoryBusiness:
		return "business"
	case catalog.CategoryInfrastructure:
		return path.Join(".infra", ref.Slug)
	case catalog.CategoryGovernance:
		return path.Join("governance", ref.Slug)
	case catalog.CategoryIndustry:
		return path.Join("industry", ref.Slug)
	default:
		return path.Join("connectors", ref.Slug)
	}
}

// bindVars builds the interpolation bindings for a node: the builtins plus
// the descriptor's declared defaults.
func bindVars(m *manifest.Manifest, d *catalog.Descriptor, instance string) map[string]string {
	vars := map[string]string{
		"system_name":   m.SystemName,
		"org":           m.Org,
		"instance_name": instance,
	}
	for _, v := range d.Variables {
		if v.Default != "" {
			vars[v.Name] = v.Default
		}
	}
	return vars
}

// topoSort orders nodes so prerequisites precede dependents, breaking ties
// lexicographically by (category, slug, instance) so plans are deterministic.
func topoSort(nodes map[nodeKey]*Node) ([]*Node, error) {
	keys := make([]nodeKey, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })

	// byRef finds the node(s) satisfying a dependency ref regardless of
	// instance name.
	byRef := make(map[catalog.Ref][]nodeKey)
	for _, k := range keys {
		byRef[k.ref] = append(byRef[k.ref], k)
	}

	indegree := make(map[nodeKey]int, len(nodes))
	dependents := make(map[nodeKey][]nodeKey)
	for _, k := range keys {
		deps, _ := nodes[k].Descriptor.Dependencies()
		for _, dep := range deps {
			for _, dk := range byRef[dep] {
				dependents[dk] = append(dependents[dk], k)
				indegree[k]++
			}
		}
	}

	var ready []nodeKey
	for _, k := range keys {
		if indegree[k] == 0 {
			ready = append(ready, k)
		}
	}

	ordered := make([]*Node, 0, len(nodes))
	for len(ready) > 0 {
		k := ready[0]
		ready = ready[1:]
		ordered = append(ordered, nodes[k])

		released := dependents[k]
		sort.Slice(released, func(i, j int) bool { return lessKey(released[i], released[j]) })
		for _, dk := range released {
			indegree[dk]--
			if indegree[dk] == 0 {
				ready = insertSorted(ready, dk)
			}
		}
	}

	if len(ordered) != len(nodes) {
		var cycle []string
		for _, k := range keys {
			if indegree[k] > 0 {
				cycle = append(cycle, k.ref.String())
			}
		}
		return nil, &Fault{
			Kind:   KindDependencyCycle,
			Msg:    "template dependencies form a cycle",
			Fields: cycle,
			Hint:   "break the depends_on cycle in the listed descriptors",
		}
	}
	return ordered, nil
}

func lessKey(a, b nodeKey) bool {
	if a.ref.Category != b.ref.Category {
		return a.ref.Category < b.ref.Category
	}
	if a.ref.Slug != b.ref.Slug {
		return a.ref.Slug < b.ref.Slug
	}
	return a.instance < b.instance
}

func insertSorted(keys []nodeKey, k nodeKey) []nodeKey {
	i := sort.Search(len(keys), func(i int) bool { return lessKey(k, keys[i]) })
	keys = append(keys, nodeKey{})
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	return keys
}
