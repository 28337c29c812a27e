package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/repoforge/memory"
)

func newMemoryCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Read and update the orchestration memory",
		Long: `Memory manages the disk-backed orchestration files: system state,
decision log, telemetry, and architecture map. All writes are atomic and
taken under an advisory lock so concurrent agents do not corrupt them.`,
	}
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".memory", "Memory directory")

	cmd.AddCommand(
		newMemoryRehydrateCmd(&stateDir),
		newMemoryWriteStateCmd(&stateDir),
		newMemoryLogDecisionCmd(&stateDir),
		newMemoryLogTelemetryCmd(&stateDir),
	)
	return cmd
}

func openStore(dir string) (*memory.Store, error) {
	store, err := memory.NewStore(dir, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("open memory directory: %w", err)
	}
	return store, nil
}

func newMemoryRehydrateCmd(stateDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rehydrate",
		Short: "Print the consolidated memory context",
		Long: `Rehydrate reads all memory files and prints one consolidated JSON
context. Missing or corrupt files never fail the command; they appear in
the warnings list so a fresh checkout still produces a usable context.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*stateDir)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(store.Rehydrate(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newMemoryWriteStateCmd(stateDir *string) *cobra.Command {
	var (
		phase           string
		lastAction      string
		healthScore     int
		componentStatus []string
	)

	cmd := &cobra.Command{
		Use:   "write-state",
		Short: "Patch the system state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*stateDir)
			if err != nil {
				return err
			}

			var patch memory.StatePatch
			if cmd.Flags().Changed("phase") {
				patch.Phase = &phase
			}
			if cmd.Flags().Changed("last-action") {
				patch.LastAction = &lastAction
			}
			if cmd.Flags().Changed("health-score") {
				patch.HealthScore = &healthScore
			}
			if len(componentStatus) > 0 {
				patch.ComponentStatus = map[string]string{}
				for _, kv := range componentStatus {
					name, status, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("invalid --component %q, expected name=status", kv)
					}
					patch.ComponentStatus[name] = status
				}
			}

			state, err := store.WriteState(patch)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "", "System phase (planning, building, testing, deployed)")
	cmd.Flags().StringVar(&lastAction, "last-action", "", "Description of the action just taken")
	cmd.Flags().IntVar(&healthScore, "health-score", 0, "Health score 0-100")
	cmd.Flags().StringArrayVar(&componentStatus, "component", nil, "Component status as name=status (repeatable)")
	return cmd
}

func newMemoryLogDecisionCmd(stateDir *string) *cobra.Command {
	var entry memory.DecisionEntry

	cmd := &cobra.Command{
		Use:   "log-decision",
		Short: "Append an entry to the decision log",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*stateDir)
			if err != nil {
				return err
			}
			recorded, err := store.AppendDecision(entry)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(recorded, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&entry.DecisionType, "type", "", "Decision type (required)")
	cmd.Flags().StringVar(&entry.Description, "description", "", "What was decided (required)")
	cmd.Flags().StringVar(&entry.Rationale, "rationale", "", "Why it was decided")
	cmd.Flags().StringVar(&entry.MadeBy, "made-by", "human", "Who decided: human or agent")
	cmd.Flags().StringVar(&entry.Outcome, "outcome", "", "Observed outcome, if known")
	cmd.Flags().StringSliceVar(&entry.RelatedComponents, "components", nil, "Related component names")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func newMemoryLogTelemetryCmd(stateDir *string) *cobra.Command {
	var (
		event memory.TelemetryEvent
		value float64
		meta  []string
	)

	cmd := &cobra.Command{
		Use:   "log-telemetry",
		Short: "Append an event to the telemetry log",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*stateDir)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("value") {
				event.Value = &value
			}
			if len(meta) > 0 {
				event.Metadata = map[string]any{}
				for _, kv := range meta {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("invalid --meta %q, expected key=value", kv)
					}
					event.Metadata[k] = v
				}
			}

			recorded, err := store.AppendTelemetry(event)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(recorded, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&event.EventType, "type", "", "Event type (workflow_run, test_pass, test_fail, deploy, error, health_check)")
	cmd.Flags().StringVar(&event.Component, "component", "", "Component the event concerns (required)")
	cmd.Flags().Float64Var(&value, "value", 0, "Numeric measurement")
	cmd.Flags().StringVar(&event.Unit, "unit", "", "Unit for the measurement")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Extra metadata as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("component")
	return cmd
}
