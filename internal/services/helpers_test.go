package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn}, logger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Redmine.BaseURL = "https://redmine.example.com"
	cfg.Redmine.APIKey = "key"
	cfg.Redmine.ProjectIdentifier = "core"
	cfg.GitLab.BaseURL = "https://gitlab.example.com"
	cfg.GitLab.PrivateToken = "token"
	cfg.GitLab.ProjectPath = "g/p"
	cfg.Transport.MaxRetries = 0
	return cfg
}
