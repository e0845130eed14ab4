package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"phonoflow/adapters/store"
	"phonoflow/internal/orchestrate"
)

var statusFlags struct {
	dbPath string
}

var statusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "Show workflow state, or list all workflows",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.dbPath, "db", store.DefaultDBPath, "Store DB path")
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := store.Open(statusFlags.dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		states, err := st.ListWorkflowStates()
		if err != nil {
			return err
		}
		if len(states) == 0 {
			fmt.Fprintf(out, "No workflows in %s\n", statusFlags.dbPath)
			return nil
		}
		for _, s := range states {
			fmt.Fprintf(out, "%s  %-24s %-10s %s\n", s.ID, s.Stage, s.Status, s.UpdatedAt)
		}
		return nil
	}

	ws, err := orchestrate.LoadState(st, args[0])
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	fmt.Fprintf(out, "Workflow: %s\n", ws.ID)
	fmt.Fprintf(out, "Stage:    %s\n", ws.Stage)
	fmt.Fprintf(out, "Status:   %s\n", ws.Status)
	if ws.Err != "" {
		fmt.Fprintf(out, "Error:    %s\n", ws.Err)
	}
	fmt.Fprintf(out, "Created:  %s\n", ws.CreatedAt)
	fmt.Fprintf(out, "Updated:  %s\n", ws.UpdatedAt)

	if len(ws.Jobs) > 0 {
		counts := map[string]int{}
		for _, rec := range ws.Jobs {
			counts[rec.Status]++
		}
		data, _ := json.Marshal(counts)
		fmt.Fprintf(out, "Jobs:     %d %s\n", len(ws.Jobs), data)
	}
	if len(ws.Properties) > 0 {
		fmt.Fprintf(out, "Properties:\n")
		for kind, p := range ws.Properties {
			if p.Error != "" {
				fmt.Fprintf(out, "  %-15s %s: %s\n", kind, p.Status, p.Error)
			} else {
				fmt.Fprintf(out, "  %-15s %s\n", kind, p.Status)
			}
		}
	}
	if len(ws.History) > 0 {
		fmt.Fprintf(out, "History: (%d transitions)\n", len(ws.History))
		for _, h := range ws.History {
			fmt.Fprintf(out, "  %s -> %s  %s  %s\n", h.From, h.To, h.Timestamp, h.Reason)
		}
	}
	return nil
}
