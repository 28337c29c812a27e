package engine

import (
	"log/slog"
	"testing"

	"github.com/c360studio/repoforge/catalog"
	"github.com/c360studio/repoforge/manifest"
)

func TestBuildPlan_DependencyOrdering(t *testing.T) {
	cat := testCatalog(t)

	plan, err := BuildPlan(demoManifest(), cat)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	pos := make(map[string]int)
	for i, n := range plan.Nodes {
		pos[n.Target] = i
	}

	base, ok := pos["connectors/agent-base"]
	if !ok {
		t.Fatal("dependency node missing from plan")
	}
	for _, target := range []string{"agents/research", "agents/wf"} {
		i, ok := pos[target]
		if !ok {
			t.Fatalf("%s missing from plan", target)
		}
		if base > i {
			t.Errorf("prerequisite must precede dependent: agent-base at %d, %s at %d", base, target, i)
		}
	}
}

func TestBuildPlan_DeterministicOrder(t *testing.T) {
	cat := testCatalog(t)

	first, err := BuildPlan(demoManifest(), cat)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := BuildPlan(demoManifest(), cat)
		if err != nil {
			t.Fatal(err)
		}
		if len(again.Nodes) != len(first.Nodes) {
			t.Fatalf("plan size changed between runs")
		}
		for j := range first.Nodes {
			if first.Nodes[j].Target != again.Nodes[j].Target {
				t.Fatalf("plan order not deterministic at %d: %s vs %s",
					j, first.Nodes[j].Target, again.Nodes[j].Target)
			}
		}
	}
}

func TestBuildPlan_DependencyCycle(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, root, "ai", "research-agent",
		map[string]any{
			"slug": "research", "category": "ai_agent",
			"depends_on": []string{"connector:a"},
		},
		map[string]string{"src/agent.py": "pass\n"})
	writeTemplate(t, root, "connectors", "a",
		map[string]any{"slug": "a", "category": "connector", "depends_on": []string{"connector:b"}},
		map[string]string{"a.py": "pass\n"})
	writeTemplate(t, root, "connectors", "b",
		map[string]any{"slug": "b", "category": "connector", "depends_on": []string{"connector:a"}},
		map[string]string{"b.py": "pass\n"})

	cat, err := catalog.Load(root, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	m := &manifest.Manifest{
		ManifestVersion: manifest.Version,
		SystemName:      "demo-x",
		Org:             "acme",
		Components: manifest.Components{
			AIAgents: []manifest.AgentRef{{Template: "research"}},
		},
	}

	_, err = BuildPlan(m, cat)
	if KindOf(err) != KindDependencyCycle {
		t.Fatalf("expected DependencyCycle, got %v", err)
	}
	var f *Fault
	if !asFault(err, &f) || len(f.Fields) == 0 {
		t.Fatalf("cycle fault must list the cycle members, got %v", err)
	}
}

func TestBuildPlan_DuplicateAgentsCollide(t *testing.T) {
	cat := testCatalog(t)

	// Same template, no instance names: both map to agents/research.
	m := demoManifest()
	m.Components.AIAgents = []manifest.AgentRef{
		{Template: "research"},
		{Template: "research"},
		{Template: "research"},
	}

	_, err := BuildPlan(m, cat)
	if KindOf(err) != KindNameCollision {
		t.Fatalf("expected NameCollision, got %v", err)
	}
	var f *Fault
	if !asFault(err, &f) {
		t.Fatal("expected a Fault")
	}
	if len(f.Fields) != 1 || f.Fields[0] != "agents/research" {
		t.Errorf("fault must name the colliding subpath once, got %v", f.Fields)
	}
}

func TestBuildPlan_DistinctInstancesDoNotCollide(t *testing.T) {
	cat := testCatalog(t)

	m := demoManifest()
	m.Components.AIAgents = []manifest.AgentRef{
		{Template: "research", InstanceName: "alpha"},
		{Template: "research", InstanceName: "beta"},
	}

	plan, err := BuildPlan(m, cat)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	seen := map[string]bool{}
	for _, n := range plan.Nodes {
		seen[n.Target] = true
	}
	if !seen["agents/alpha"] || !seen["agents/beta"] {
		t.Errorf("both instances must plan their own subpath, got %v", seen)
	}
}

func TestBuildPlan_UnknownToggleWarnings(t *testing.T) {
	cat := testCatalog(t)

	m := demoManifest()
	m.Components.Infrastructure = map[string]bool{"docker": false, "kubernetes": true}
	m.Components.Governance = map[string]bool{
		"tap_enforcement": false, "test_coverage_gate": false, "security_scan": false,
	}

	plan, err := BuildPlan(m, cat)
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, w := range plan.Warnings {
		if w == `unknown toggle "infrastructure.kubernetes" ignored` {
			found = true
		}
	}
	if !found {
		t.Errorf("unknown toggle must surface as a warning, got %v", plan.Warnings)
	}

	// Disabled toggles must not plan nodes.
	for _, n := range plan.Nodes {
		if n.Ref().Category == catalog.CategoryGovernance {
			t.Errorf("disabled governance toggle still planned: %s", n.Ref())
		}
	}
}

func TestBuildPlan_VariableBindings(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, root, "backend", "api",
		map[string]any{
			"slug": "fastapi", "category": "backend",
			"variables": []map[string]any{
				{"name": "port", "default": "8000"},
				{"name": "database_url", "required": true},
			},
		},
		map[string]string{"app/main.py": "pass\n"})

	cat, err := catalog.Load(root, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	m := &manifest.Manifest{
		ManifestVersion: manifest.Version,
		SystemName:      "demo-x",
		Org:             "acme",
		Components: manifest.Components{
			Backend: &manifest.ComponentRef{Template: "fastapi"},
		},
	}

	plan, err := BuildPlan(m, cat)
	if err != nil {
		t.Fatal(err)
	}

	var backend *Node
	for _, n := range plan.Nodes {
		if n.Target == "backend" {
			backend = n
		}
	}
	if backend == nil {
		t.Fatal("backend node missing")
	}
	if backend.Vars["system_name"] != "demo-x" || backend.Vars["org"] != "acme" {
		t.Errorf("builtins not bound: %v", backend.Vars)
	}
	if backend.Vars["port"] != "8000" {
		t.Errorf("declared default not bound: %v", backend.Vars)
	}
	if _, bound := backend.Vars["database_url"]; bound {
		t.Error("variable without default must stay unbound")
	}
}

func TestFaultExitCodes(t *testing.T) {
	cases := map[Kind]int{
		KindManifestInvalid: 1,
		KindNameCollision:   1,
		KindUnknownTemplate: 2,
		KindDependencyCycle: 2,
		KindFilesystemFault: 3,
		KindTimeout:         4,
		KindPostVerifyFault: 5,
	}
	for kind, want := range cases {
		if got := kind.ExitCode(); got != want {
			t.Errorf("%s: exit code %d, want %d", kind, got, want)
		}
	}
}
