package main

import (
	"fmt"
	"strings"

	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/internal/services/embedding"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over synced issues, commits and wiki pages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return fmt.Errorf("database not available: %w", err)
		}
		service, err := services.NewEmbeddingService(db, cfg)
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		sources, _ := cmd.Flags().GetStringSlice("source")
		rewrite, _ := cmd.Flags().GetBool("rewrite")
		resp, err := service.Search(cmd.Context(), &embedding.SearchRequest{
			Query:   strings.Join(args, " "),
			Limit:   limit,
			Sources: sources,
			Rewrite: &rewrite,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, resp)
	},
}

func init() {
	searchCmd.Flags().Int("limit", 0, "Maximum results (default 8, max 25)")
	searchCmd.Flags().StringSlice("source", nil, "Restrict to issues, commits or wiki_pages (can be repeated)")
	searchCmd.Flags().Bool("rewrite", true, "Rewrite the query with the configured LLM")
	rootCmd.AddCommand(searchCmd)
}
