package composeapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c360studio/repoforge/catalog"
	"github.com/c360studio/repoforge/dispatch"
	"github.com/c360studio/repoforge/registry"
)

// setupTestComponent creates a Component over a small template library with
// no dispatch credentials configured.
func setupTestComponent(t *testing.T) *Component {
	t.Helper()

	root := t.TempDir()
	writeTemplate(t, root, "backend", "api-fastapi",
		map[string]any{"slug": "fastapi", "category": "backend"},
		map[string]string{"app/main.py": "pass\n"})
	writeTemplate(t, root, "ai", "research-agent",
		map[string]any{"slug": "research", "category": "ai_agent"},
		map[string]string{"src/agent.py": "pass\n"})

	cat, err := catalog.Load(root, slog.Default())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	c := &Component{
		name:       ServiceName,
		config:     DefaultConfig(),
		logger:     slog.Default(),
		reg:        registry.Default(),
		dispatcher: dispatch.New(nil, slog.Default()),
		sem:        make(chan struct{}, 4),
	}
	c.catalog.Store(cat)
	return c
}

func writeTemplate(t *testing.T, root, categoryDir, dirName string, desc map[string]any, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, categoryDir, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(desc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, catalog.DescriptorFile), data, 0644); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// registerHandlers wires the component's handlers into a fresh mux and
// returns a test server.
func registerHandlers(c *Component) *httptest.Server {
	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/v1", mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func validManifestBody() map[string]any {
	return map[string]any{
		"manifest_version": "1.0",
		"system_name":      "demo-x",
		"org":              "acme",
		"components": map[string]any{
			"backend":   map[string]string{"template": "fastapi"},
			"ai_agents": []map[string]string{{"template": "research"}},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" || body["service"] != ServiceName {
		t.Errorf("unexpected health body: %v", body)
	}
	if body["timestamp"] == "" {
		t.Error("timestamp missing")
	}
}

func TestHandleCompose_DispatchSkipped(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compose", validManifestBody())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body ComposeResponse
	decodeBody(t, resp, &body)
	if body.Status != "dispatched" {
		t.Errorf("status %q", body.Status)
	}
	if body.DispatchStatus != string(dispatch.StatusSkipped) {
		t.Errorf("dispatch_status %q, want skipped without credentials", body.DispatchStatus)
	}
	if body.SystemName != "demo-x" {
		t.Errorf("system_name %q", body.SystemName)
	}
	if body.ManifestPath != "manifests/demo-x.json" {
		t.Errorf("manifest_path %q", body.ManifestPath)
	}
	if body.DispatchEvent != dispatch.EventType {
		t.Errorf("dispatch_event %q", body.DispatchEvent)
	}
	if body.Note == "" {
		t.Error("dispatch_status semantics must be documented in the response")
	}
}

func TestHandleCompose_MalformedJSON(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/compose", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleCompose_SchemaFailure(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	body := validManifestBody()
	body["system_name"] = "Bad_Name"

	resp := postJSON(t, srv.URL+"/api/v1/compose", body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	var envelope struct {
		Error struct {
			Kind   string            `json:"kind"`
			Fields map[string]string `json:"fields"`
		} `json:"error"`
	}
	decodeBody(t, resp, &envelope)
	if envelope.Error.Kind != "manifest_invalid" {
		t.Errorf("kind %q", envelope.Error.Kind)
	}
	if _, ok := envelope.Error.Fields["system_name"]; !ok {
		t.Errorf("error map must contain the field path, got %v", envelope.Error.Fields)
	}
}

func TestHandleCompose_ValidationCompleteness(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	cases := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"missing org", func(m map[string]any) { delete(m, "org") }, "org"},
		{"wrong version", func(m map[string]any) { m["manifest_version"] = "2.0" }, "manifest_version"},
		{"unknown backend", func(m map[string]any) {
			m["components"] = map[string]any{"backend": map[string]string{"template": "nodejs"}}
		}, "components.backend.template"},
		{"bad memory backend", func(m map[string]any) {
			m["memory"] = map[string]any{"backend": "sqlite", "ttl_seconds": 60}
		}, "memory.backend"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := validManifestBody()
			tc.mutate(body)

			resp := postJSON(t, srv.URL+"/api/v1/compose", body)
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d", resp.StatusCode)
			}
			var envelope struct {
				Error struct {
					Fields map[string]string `json:"fields"`
				} `json:"error"`
			}
			decodeBody(t, resp, &envelope)
			if _, ok := envelope.Error.Fields[tc.field]; !ok {
				t.Errorf("field %q missing from error map %v", tc.field, envelope.Error.Fields)
			}
		})
	}
}

func TestAuth(t *testing.T) {
	c := setupTestComponent(t)
	c.config.APIKey = "sekrit"
	srv := registerHandlers(c)
	defer srv.Close()

	// No token.
	resp := postJSON(t, srv.URL+"/api/v1/compose", validManifestBody())
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// Wrong token.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/compose", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp2.StatusCode)
	}

	// Correct token.
	data, _ := json.Marshal(validManifestBody())
	req3, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/compose", bytes.NewReader(data))
	req3.Header.Set("Authorization", "Bearer sekrit")
	resp3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", resp3.StatusCode)
	}

	// Health stays open.
	resp4, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp4.Body.Close()
	if resp4.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", resp4.StatusCode)
	}
}

func TestHandleDiscover_GET(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/discover")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		CatalogVersion string               `json:"catalog_version"`
		Operations     []discoveryOperation `json:"operations"`
	}
	decodeBody(t, resp, &body)
	if body.CatalogVersion == "" {
		t.Error("catalog_version missing")
	}
	if len(body.Operations) != 7 {
		t.Errorf("expected 7 operations, got %d", len(body.Operations))
	}
}

func TestHandleDiscover_Operations(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()
	url := srv.URL + "/api/v1/discover"

	t.Run("list_categories", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{Operation: "list_categories"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var body struct {
			Categories []catalog.CategoryCount `json:"categories"`
		}
		decodeBody(t, resp, &body)
		if len(body.Categories) != len(catalog.Categories) {
			t.Errorf("expected all categories enumerated, got %d", len(body.Categories))
		}
	})

	t.Run("list_templates", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{
			Operation: "list_templates",
			Params:    map[string]string{"category": "backend"},
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("list_templates missing param", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{Operation: "list_templates"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("get_template", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{
			Operation: "get_template",
			Params:    map[string]string{"template_id": "backend:fastapi"},
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var d catalog.Descriptor
		decodeBody(t, resp, &d)
		if d.Slug != "fastapi" {
			t.Errorf("slug %q", d.Slug)
		}
	})

	t.Run("get_template unknown", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{
			Operation: "get_template",
			Params:    map[string]string{"template_id": "backend:nonesuch"},
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("get_pipeline_stage", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{
			Operation: "get_pipeline_stage",
			Params:    map[string]string{"stage": "compose"},
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("get_capabilities", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{Operation: "get_capabilities"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("get_blueprint", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{
			Operation: "get_blueprint",
			Params:    map[string]string{"blueprint_name": "saas-starter"},
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	})

	t.Run("unknown operation", func(t *testing.T) {
		resp := postJSON(t, url, discoverRequest{Operation: "summon_demon"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestComposeOverflowReturns503(t *testing.T) {
	c := setupTestComponent(t)
	c.sem = make(chan struct{}, 1)
	c.sem <- struct{}{} // exhaust the budget
	srv := registerHandlers(c)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/compose", validManifestBody())
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when budget exhausted, got %d", resp.StatusCode)
	}
}

func TestNewComponentAppliesEnv(t *testing.T) {
	t.Setenv("API_KEY", "from-env")
	t.Setenv("STATE_DIR", "/tmp/state")
	t.Setenv("MAX_COMPOSE_SECONDS", "45")

	cfg := DefaultConfig()
	applyEnv(&cfg)

	if cfg.APIKey != "from-env" {
		t.Errorf("api key %q", cfg.APIKey)
	}
	if cfg.StateDir != "/tmp/state" {
		t.Errorf("state dir %q", cfg.StateDir)
	}
	if cfg.MaxComposeSeconds != 45 {
		t.Errorf("timeout %d", cfg.MaxComposeSeconds)
	}
}
