package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Store reads and writes the four memory files under one state directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore opens a store over a state directory, creating it if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: abs, logger: logger}, nil
}

// Dir returns the absolute state directory.
func (s *Store) Dir() string { return s.dir }

// Rehydrate loads all four memory files into a consolidated context. It
// always succeeds: missing or invalid files become warnings with their slot
// left empty, so first invocations on a fresh directory run cleanly.
func (s *Store) Rehydrate() *Context {
	cx := &Context{
		DecisionLog: []DecisionEntry{},
		Telemetry:   []TelemetryEvent{},
		Warnings:    []string{},
	}

	var state SystemState
	switch err := s.readJSON(StateFile, &state); {
	case err != nil:
		cx.Warnings = append(cx.Warnings, fileWarning(StateFile, err))
	case state.Validate() != nil:
		cx.Warnings = append(cx.Warnings, fileWarning(StateFile, state.Validate()))
	default:
		cx.SystemState = &state
	}

	var decisions []DecisionEntry
	switch err := s.readJSON(DecisionFile, &decisions); {
	case err != nil:
		cx.Warnings = append(cx.Warnings, fileWarning(DecisionFile, err))
	case validateDecisions(decisions) != nil:
		cx.Warnings = append(cx.Warnings, fileWarning(DecisionFile, validateDecisions(decisions)))
	default:
		cx.DecisionLog = decisions
	}

	var events []TelemetryEvent
	switch err := s.readJSON(TelemetryFile, &events); {
	case err != nil:
		cx.Warnings = append(cx.Warnings, fileWarning(TelemetryFile, err))
	case validateEvents(events) != nil:
		cx.Warnings = append(cx.Warnings, fileWarning(TelemetryFile, validateEvents(events)))
	default:
		cx.Telemetry = events
	}

	var arch ArchitectureMap
	switch err := s.readJSON(ArchitectureFile, &arch); {
	case err != nil:
		cx.Warnings = append(cx.Warnings, fileWarning(ArchitectureFile, err))
	case arch.Validate() != nil:
		cx.Warnings = append(cx.Warnings, fileWarning(ArchitectureFile, arch.Validate()))
	default:
		cx.ArchitectureMap = &arch
	}

	if len(cx.Warnings) > 0 {
		s.logger.Debug("Rehydrated with warnings", "dir", s.dir, "warnings", len(cx.Warnings))
	}
	return cx
}

// WriteState reads the current state (or seeds the default), applies the
// patch, validates, and writes atomically.
func (s *Store) WriteState(patch StatePatch) (*SystemState, error) {
	unlock, err := s.lock(StateFile)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state := DefaultState()
	if err := s.readJSON(StateFile, state); err != nil && !os.IsNotExist(err) {
		// An invalid state file is never silently overwritten.
		return nil, fmt.Errorf("existing %s is invalid, refusing to overwrite: %w", StateFile, err)
	}

	if patch.Phase != nil {
		state.Phase = *patch.Phase
	}
	if patch.LastAction != nil {
		state.LastAction = *patch.LastAction
		state.LastActionAt = nowUTC()
	}
	if patch.HealthScore != nil {
		state.HealthScore = *patch.HealthScore
	}
	if state.ComponentsStatus == nil {
		state.ComponentsStatus = map[string]string{}
	}
	for name, status := range patch.ComponentStatus {
		state.ComponentsStatus[name] = status
	}

	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("state patch rejected: %w", err)
	}
	if err := s.writeJSON(StateFile, state); err != nil {
		return nil, err
	}
	return state, nil
}

// AppendDecision stamps the entry with a UUID and UTC timestamp, validates,
// and rewrites the decision log.
func (s *Store) AppendDecision(entry DecisionEntry) (*DecisionEntry, error) {
	entry.ID = uuid.NewString()
	entry.Timestamp = nowUTC()
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("decision rejected: %w", err)
	}

	unlock, err := s.lock(DecisionFile)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var log []DecisionEntry
	if err := s.readJSON(DecisionFile, &log); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("existing %s is invalid, refusing to overwrite: %w", DecisionFile, err)
	}
	if err := validateDecisions(log); err != nil {
		return nil, fmt.Errorf("existing %s is invalid, refusing to overwrite: %w", DecisionFile, err)
	}
	log = append(log, entry)
	if err := s.writeJSON(DecisionFile, log); err != nil {
		return nil, err
	}
	return &entry, nil
}

// AppendTelemetry stamps the event with a UUID and UTC timestamp, validates,
// and rewrites the telemetry log.
func (s *Store) AppendTelemetry(event TelemetryEvent) (*TelemetryEvent, error) {
	event.ID = uuid.NewString()
	event.Timestamp = nowUTC()
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("telemetry rejected: %w", err)
	}

	unlock, err := s.lock(TelemetryFile)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var log []TelemetryEvent
	if err := s.readJSON(TelemetryFile, &log); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("existing %s is invalid, refusing to overwrite: %w", TelemetryFile, err)
	}
	if err := validateEvents(log); err != nil {
		return nil, fmt.Errorf("existing %s is invalid, refusing to overwrite: %w", TelemetryFile, err)
	}
	log = append(log, event)
	if err := s.writeJSON(TelemetryFile, log); err != nil {
		return nil, err
	}
	return &event, nil
}

// WriteArchitecture validates and writes the architecture snapshot.
func (s *Store) WriteArchitecture(arch *ArchitectureMap) error {
	if err := arch.Validate(); err != nil {
		return fmt.Errorf("architecture map rejected: %w", err)
	}
	unlock, err := s.lock(ArchitectureFile)
	if err != nil {
		return err
	}
	defer unlock()
	return s.writeJSON(ArchitectureFile, arch)
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON serializes into a sibling temp file, fsyncs, and renames over
// the target so readers never observe a torn write.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("rename %s into place: %w", name, err)
	}
	return nil
}

// lock takes the advisory lock guarding one memory file. Contention is
// legitimate wait, not an error.
func (s *Store) lock(name string) (func(), error) {
	fl := flock.New(filepath.Join(s.dir, "."+name+".lock"))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return func() { fl.Unlock() }, nil
}

// validateDecisions checks every entry of a decision log against its schema.
func validateDecisions(log []DecisionEntry) error {
	for i := range log {
		if err := log[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// validateEvents checks every event of a telemetry log against its schema.
func validateEvents(log []TelemetryEvent) error {
	for i := range log {
		if err := log[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

func fileWarning(name string, err error) string {
	if os.IsNotExist(err) {
		return fmt.Sprintf("%s: not found", name)
	}
	return fmt.Sprintf("%s: %v", name, err)
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
