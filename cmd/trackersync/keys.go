package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/huangang/trackersync/internal/utils"
	"github.com/spf13/cobra"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Generate the bcrypt hash for an API client key",
	Long: `Print a bcrypt hash for auth.clients[].key_hash.

Without an argument a random key is generated and printed with its hash.

Example:
  trackersync hash-key
  trackersync hash-key "my-client-key"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := uuid.NewString()
		generated := true
		if len(args) == 1 {
			key, generated = args[0], false
		}
		hash, err := utils.HashSecret(key)
		if err != nil {
			return err
		}
		if generated {
			fmt.Fprintf(cmd.OutOrStdout(), "key:      %s\n", key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key_hash: %s\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
