package commands

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeLibraryTemplate drops one template with a descriptor and files into a
// temp library root.
func writeLibraryTemplate(t *testing.T, root, categoryDir string, desc map[string]any, files map[string]string) {
	t.Helper()
	slug, _ := desc["slug"].(string)
	dir := filepath.Join(root, categoryDir, slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(desc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "template.json"), data, 0644); err != nil {
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

func writeManifestFile(t *testing.T, dir string, m map[string]any) string {
	t.Helper()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testLibrary(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeLibraryTemplate(t, root, "backend",
		map[string]any{
			"slug":      "fastapi",
			"category":  "backend",
			"templated": []string{"**/*.py"},
			"outputs":   []string{"app/main.py"},
		},
		map[string]string{"app/main.py": "print('{{system_name}}')\n"})
	return root
}

func testManifest() map[string]any {
	return map[string]any{
		"manifest_version": "1.0",
		"system_name":      "cli-demo",
		"org":              "acme",
		"components": map[string]any{
			"backend": map[string]string{"template": "fastapi"},
		},
	}
}

func TestRunCompose_Success(t *testing.T) {
	library := testLibrary(t)
	out := t.TempDir()
	manifestPath := writeManifestFile(t, t.TempDir(), testManifest())

	if err := runCompose(manifestPath, library, out, false, false, 0); err != nil {
		t.Fatalf("runCompose: %v", err)
	}

	sentinel := filepath.Join(out, "cli-demo", "backend", "app", "main.py")
	data, err := os.ReadFile(sentinel)
	if err != nil {
		t.Fatalf("composed output missing: %v", err)
	}
	if string(data) != "print('cli-demo')\n" {
		t.Errorf("interpolation failed: %q", string(data))
	}
}

func TestRunCompose_DryRunWritesNothing(t *testing.T) {
	library := testLibrary(t)
	out := t.TempDir()
	manifestPath := writeManifestFile(t, t.TempDir(), testManifest())

	if err := runCompose(manifestPath, library, out, true, false, 0); err != nil {
		t.Fatalf("runCompose: %v", err)
	}

	if _, err := os.Stat(filepath.Join(out, "cli-demo")); !os.IsNotExist(err) {
		t.Error("dry run must not write the output tree")
	}
}

func TestRunCompose_ExitCodes(t *testing.T) {
	library := testLibrary(t)

	cases := []struct {
		name   string
		mutate func(map[string]any)
		code   int
	}{
		{
			name:   "invalid manifest",
			mutate: func(m map[string]any) { m["system_name"] = "Bad_Name" },
			code:   1,
		},
		{
			name: "unknown template",
			mutate: func(m map[string]any) {
				m["components"] = map[string]any{
					"backend": map[string]string{"template": "express"},
				}
			},
			code: 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := testManifest()
			tc.mutate(m)
			manifestPath := writeManifestFile(t, t.TempDir(), m)

			err := runCompose(manifestPath, library, t.TempDir(), false, false, 0)
			if err == nil {
				t.Fatal("expected an error")
			}
			var ee *ExitError
			if !errors.As(err, &ee) {
				t.Fatalf("expected ExitError, got %T: %v", err, err)
			}
			if ee.Code != tc.code {
				t.Errorf("exit code %d, want %d", ee.Code, tc.code)
			}
		})
	}
}

func TestRunCompose_MissingManifestFile(t *testing.T) {
	err := runCompose(filepath.Join(t.TempDir(), "nope.json"), testLibrary(t), t.TempDir(), false, false, 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %T", err)
	}
	if ee.Code != 3 {
		t.Errorf("exit code %d, want 3 for filesystem faults", ee.Code)
	}
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd("test")

	want := map[string]bool{
		"compose": false, "catalog": false, "memory": false,
		"serve": false, "version": false,
	}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}
