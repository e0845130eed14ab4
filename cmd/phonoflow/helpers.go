package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"phonoflow/adapters/calc"
	"phonoflow/adapters/store"
	"phonoflow/internal/orchestrate"
	"phonoflow/internal/phonon"
	"phonoflow/internal/physics"
)

// loadStructure reads a structure from a YAML file and validates it.
func loadStructure(path string) (*phonon.Structure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read structure: %w", err)
	}
	s := &phonon.Structure{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse structure %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// openRuntime wires the store, the in-process calculation adapter, and the
// reference engine into a runtime.
func openRuntime(dbPath string, workers int) (*orchestrate.Runtime, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	adapter := calc.NewLocalAdapter(calc.SpringModel{}, workers)
	return orchestrate.NewRuntime(st, adapter, physics.NewHarmonicEngine()), nil
}

// driveToTerminal steps the orchestrator until it reaches a terminal state,
// sleeping between polls while jobs are outstanding.
func driveToTerminal(ctx context.Context, o *orchestrate.Orchestrator, pollInterval time.Duration) (orchestrate.AdvanceStatus, error) {
	for {
		status, err := o.Advance(ctx)
		if err != nil {
			return status, err
		}
		switch status {
		case orchestrate.AdvanceFinished, orchestrate.AdvanceFailed:
			return status, nil
		case orchestrate.AdvancePending:
			select {
			case <-ctx.Done():
				return status, ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
}

// printResult writes the workflow summary in the status command's format.
func printResult(o *orchestrate.Orchestrator) error {
	res, err := o.Result()
	if err != nil {
		return err
	}
	fmt.Printf("Workflow: %s\n", res.WorkflowID)
	fmt.Printf("Stage:    %s\n", res.Stage)
	fmt.Printf("Status:   %s\n", res.Status)
	if res.Error != "" {
		fmt.Printf("Error:    %s\n", res.Error)
	}
	if len(res.Artifacts) > 0 {
		fmt.Printf("Artifacts:\n")
		for _, name := range []string{"structure", "final_structure", "displacement_set", "force_sets", "force_constants", "nac"} {
			if id, ok := res.Artifacts[name]; ok {
				fmt.Printf("  %-17s #%d\n", name, id)
			}
		}
	}
	if len(res.Properties) > 0 {
		fmt.Printf("Properties:\n")
		for kind, out := range res.Properties {
			if out.Status == "succeeded" {
				fmt.Printf("  %-15s %s (result #%d)\n", kind, out.Status, out.ResultID)
			} else {
				fmt.Printf("  %-15s %s: %s\n", kind, out.Status, out.Error)
			}
		}
	}
	return nil
}
