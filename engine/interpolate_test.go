package engine

import "testing"

func TestInterpolate(t *testing.T) {
	vars := map[string]string{
		"system_name":   "demo-x",
		"org":           "acme",
		"instance_name": "wf",
	}

	tests := []struct {
		in   string
		want string
	}{
		{"name: {{system_name}}", "name: demo-x"},
		{"{{ system_name }} by {{ org }}", "demo-x by acme"},
		{"agent {{instance_name}} of {{system_name}}", "agent wf of demo-x"},
		// Unknown placeholders stay verbatim.
		{"port: {{port}}", "port: {{port}}"},
		{"no placeholders", "no placeholders"},
	}
	for _, tt := range tests {
		if got := interpolate(tt.in, vars); got != tt.want {
			t.Errorf("interpolate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsBinary(t *testing.T) {
	if isBinary([]byte("plain text\nwith lines\n")) {
		t.Error("text misdetected as binary")
	}
	if !isBinary([]byte{0x89, 'P', 'N', 'G', 0x00, 0x01}) {
		t.Error("NUL-bearing content must be binary")
	}
}
