package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"phonoflow/adapters/store"
	"phonoflow/internal/orchestrate"
)

var resumeFlags struct {
	dbPath       string
	workers      int
	pollInterval time.Duration
}

var resumeCmd = &cobra.Command{
	Use:   "resume <workflow-id>",
	Short: "Resume an interrupted workflow from its last checkpoint",
	Long: `Resume reconstructs a workflow from its persisted state and drives it
to completion. Jobs that were in flight when the process died are handled
per the workflow's resume_policy: repoll (default) re-queries the recorded
job ids, resubmit abandons them and submits fresh jobs.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	f := resumeCmd.Flags()
	f.StringVar(&resumeFlags.dbPath, "db", store.DefaultDBPath, "Store DB path")
	f.IntVar(&resumeFlags.workers, "workers", 4, "Concurrent in-process calculation jobs")
	f.DurationVar(&resumeFlags.pollInterval, "poll-interval", 100*time.Millisecond, "Delay between orchestrator steps while jobs are outstanding")
}

func runResume(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(resumeFlags.dbPath, resumeFlags.workers)
	if err != nil {
		return err
	}
	defer rt.Close()

	o, err := rt.ResumeWorkflow(args[0])
	if err != nil {
		return err
	}

	status, err := driveToTerminal(cmd.Context(), o, resumeFlags.pollInterval)
	if err != nil {
		return err
	}
	if err := printResult(o); err != nil {
		return err
	}
	if status == orchestrate.AdvanceFailed {
		return fmt.Errorf("workflow %s did not finish", args[0])
	}
	return nil
}
