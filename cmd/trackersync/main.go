// Command trackersync runs sync tasks and store queries from the shell.
// The HTTP API lives in cmd/server.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/pkg/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "trackersync",
	Short:         "Redmine to GitLab issue synchronization",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(logger.Options{
			Level:      loaded.Log.Level,
			File:       loaded.Log.File,
			MaxSizeMB:  loaded.Log.MaxSizeMB,
			MaxBackups: loaded.Log.MaxBackups,
			MaxAgeDays: loaded.Log.MaxAgeDays,
		})
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore connects and migrates the configured database.
func openStore() (*gorm.DB, error) {
	if err := models.InitDB(&cfg.Database); err != nil {
		return nil, err
	}
	db := models.GetDB()
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	services.InitSystemLogger(db)
	return db, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
