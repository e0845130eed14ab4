package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"phonoflow/adapters/store"
	"phonoflow/internal/orchestrate"
)

var runFlags struct {
	configPath    string
	structurePath string
	dbPath        string
	workers       int
	pollInterval  time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a phonon workflow and drive it to completion",
	Long: `Run a full phonon workflow from a structure file.

Usage:
  phonoflow run --structure si.yaml --config phonoflow.yaml

The workflow state is checkpointed to the store after every transition,
so an interrupted run can be picked up with 'phonoflow resume'.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.configPath, "config", "c", "", "Workflow config YAML (default: built-in defaults)")
	f.StringVarP(&runFlags.structurePath, "structure", "s", "", "Input structure YAML (required)")
	f.StringVar(&runFlags.dbPath, "db", store.DefaultDBPath, "Store DB path")
	f.IntVar(&runFlags.workers, "workers", 4, "Concurrent in-process calculation jobs")
	f.DurationVar(&runFlags.pollInterval, "poll-interval", 100*time.Millisecond, "Delay between orchestrator steps while jobs are outstanding")

	_ = runCmd.MarkFlagRequired("structure")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg := orchestrate.DefaultConfig()
	if runFlags.configPath != "" {
		var err error
		cfg, err = orchestrate.LoadConfig(runFlags.configPath)
		if err != nil {
			return err
		}
	}
	s, err := loadStructure(runFlags.structurePath)
	if err != nil {
		return err
	}

	rt, err := openRuntime(runFlags.dbPath, runFlags.workers)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	o, err := rt.StartWorkflow(ctx, cfg, s)
	if err != nil {
		return err
	}
	fmt.Printf("Started workflow %s\n", o.WorkflowID())

	status, err := driveToTerminal(ctx, o, runFlags.pollInterval)
	if err != nil {
		return err
	}
	if err := printResult(o); err != nil {
		return err
	}
	if status == orchestrate.AdvanceFailed {
		return fmt.Errorf("workflow %s did not finish", o.WorkflowID())
	}
	return nil
}
