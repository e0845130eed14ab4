package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"phonoflow/adapters/store"
)

var cancelFlags struct {
	dbPath string
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a workflow, abandoning its outstanding jobs",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelFlags.dbPath, "db", store.DefaultDBPath, "Store DB path")
}

func runCancel(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cancelFlags.dbPath, 1)
	if err != nil {
		return err
	}
	defer rt.Close()

	o, err := rt.ResumeWorkflow(args[0])
	if err != nil {
		return err
	}
	if err := o.Cancel(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Cancelled workflow %s\n", args[0])
	return nil
}
