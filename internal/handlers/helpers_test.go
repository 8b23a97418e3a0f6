package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func perform(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}
