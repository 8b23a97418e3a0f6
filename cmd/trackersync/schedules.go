package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/huangang/trackersync/internal/services"
	"github.com/spf13/cobra"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Show stored sync checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return fmt.Errorf("database not available: %w", err)
		}
		schedules, err := services.NewIssueService(db, cfg).Schedules()
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(cmd, schedules)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSCOPE\tLAST RUN\tLAST SUCCESS\tLAST ERROR")
		for _, s := range schedules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.TaskName, s.Scope, formatTime(s.LastRunAt), formatTime(s.LastSuccessAt), s.LastError)
		}
		return w.Flush()
	},
}

func init() {
	schedulesCmd.Flags().Bool("json", false, "Output JSON")
	rootCmd.AddCommand(schedulesCmd)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
