package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/internal/utils"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <kind>",
	Short: "Run a refresh in the foreground",
	Long: `Run one refresh and print its summary as JSON.

Kinds: issues, wiki, commits, commit-diffs, labels, assignees, all

The issue sync resumes from its stored checkpoint unless --since is given.
--since takes a date ("2025-01-31"), an RFC3339 timestamp or a relative
expression ("yesterday", "3 days ago").

Examples:
  trackersync sync issues
  trackersync sync issues --since "2 weeks ago" --limit 50
  trackersync sync commit-diffs --sha 1a2b3c --sha 4d5e6f
  trackersync sync all --embed=false`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("since", "", "Only records updated after this time")
	syncCmd.Flags().Int("limit", -1, "Maximum records to process (0 = unbounded, default from config)")
	syncCmd.Flags().StringSlice("sha", nil, "Commit SHAs for commit-diffs (can be repeated)")
	syncCmd.Flags().Bool("embed", true, "Refresh embeddings for imported records")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	task, err := buildSyncTask(cmd, args[0], time.Now())
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("database not available: %w", err)
	}

	var coordinator *services.RefreshCoordinator
	if embeddingService, err := services.NewEmbeddingService(db, cfg); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: embeddings disabled: %v\n", err)
		coordinator = services.NewRefreshCoordinator(db, cfg, nil)
	} else {
		coordinator = services.NewRefreshCoordinator(db, cfg, embeddingService)
	}

	result, runErr := coordinator.Run(cmd.Context(), task)
	if result != nil {
		if err := printJSON(cmd, result); err != nil {
			return err
		}
	}
	return runErr
}

// buildSyncTask maps flags onto a task. Flags left at their defaults stay
// unset so the stored checkpoint and configured limits apply.
func buildSyncTask(cmd *cobra.Command, rawKind string, now time.Time) (*services.SyncTask, error) {
	kind, err := services.ParseSyncKind(rawKind)
	if err != nil {
		return nil, err
	}
	task := &services.SyncTask{Kind: kind, Trigger: "cli"}

	sinceRaw, _ := cmd.Flags().GetString("since")
	if task.Since, err = utils.ParseSince(sinceRaw, now); err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("limit") {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 0 {
			return nil, fmt.Errorf("--limit must not be negative")
		}
		task.Limit = &limit
	}
	if cmd.Flags().Changed("embed") {
		embed, _ := cmd.Flags().GetBool("embed")
		task.Embed = &embed
	}
	shas, _ := cmd.Flags().GetStringSlice("sha")
	for _, sha := range shas {
		if sha = strings.TrimSpace(sha); sha != "" {
			task.SHAs = append(task.SHAs, sha)
		}
	}
	if len(task.SHAs) > 0 && kind != services.SyncCommitDiffs {
		return nil, fmt.Errorf("--sha only applies to commit-diffs")
	}
	return task, nil
}
