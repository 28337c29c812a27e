// Package engine turns a validated manifest into a materialized output tree.
// Composition is all-or-nothing: work happens in a staging directory that is
// atomically promoted on success and removed on any failure.
package engine

import (
	"errors"
	"strings"
)

// Kind is the closed fault taxonomy of the composition engine. Every failure
// the engine returns carries exactly one kind.
type Kind string

const (
	KindManifestInvalid Kind = "manifest_invalid"
	KindUnknownTemplate Kind = "unknown_template"
	KindDependencyCycle Kind = "dependency_cycle"
	KindNameCollision   Kind = "name_collision"
	KindFilesystemFault Kind = "filesystem_fault"
	KindPostVerifyFault Kind = "post_verify_fault"
	KindTimeout         Kind = "timeout"
)

// Fault is the structured composition error. Fields carries the offending
// field paths, template refs, or target subpaths depending on the kind.
type Fault struct {
	Kind   Kind
	Msg    string
	Fields []string
	Hint   string
	Err    error
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	b.WriteString(": ")
	b.WriteString(f.Msg)
	if len(f.Fields) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(f.Fields, ", "))
		b.WriteString(")")
	}
	if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *Fault) Unwrap() error { return f.Err }

// KindOf extracts the fault kind from an error chain, or "" when the error
// did not originate in the engine.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// ExitCode maps a fault kind to the composer CLI exit code.
func (k Kind) ExitCode() int {
	switch k {
	case KindManifestInvalid, KindNameCollision:
		return 1
	case KindUnknownTemplate, KindDependencyCycle:
		return 2
	case KindFilesystemFault:
		return 3
	case KindTimeout:
		return 4
	case KindPostVerifyFault:
		return 5
	}
	return 1
}
