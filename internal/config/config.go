package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Redmine   RedmineConfig   `yaml:"redmine"`
	GitLab    GitLabConfig    `yaml:"gitlab"`
	Sync      SyncConfig      `yaml:"sync"`
	Transport TransportConfig `yaml:"transport"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        string   `yaml:"port"`
	Mode        string   `yaml:"mode"` // debug, release, test
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   float64  `yaml:"rate_limit"` // requests per second per IP, 0 disables
	RateBurst   int      `yaml:"rate_burst"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// AuthConfig lists the service clients allowed to request API tokens.
type AuthConfig struct {
	Clients []APIClient `yaml:"clients"`
}

type APIClient struct {
	ID      uint   `yaml:"id"`
	Name    string `yaml:"name"`
	KeyHash string `yaml:"key_hash"` // bcrypt
	Role    string `yaml:"role"`     // admin, operator
}

// RedisConfig for optional async task queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level         string `yaml:"level"`
	File          string `yaml:"file"` // optional, rotated by size
	MaxSizeMB     int    `yaml:"max_size_mb"`
	MaxBackups    int    `yaml:"max_backups"`
	MaxAgeDays    int    `yaml:"max_age_days"`
	RetentionDays int    `yaml:"retention_days"` // system_logs rows
}

type RedmineConfig struct {
	BaseURL            string           `yaml:"base_url"`
	APIKey             string           `yaml:"api_key"`
	ProjectIdentifier  string           `yaml:"project_identifier"`
	QueryID            string           `yaml:"query_id"`
	WikiProject        string           `yaml:"wiki_project"`
	PageSize           int              `yaml:"page_size"`
	Embed              bool             `yaml:"embed"`
	InitialSyncLimit   int              `yaml:"initial_sync_limit"`
	RecurringSyncLimit int              `yaml:"recurring_sync_limit"`
	MinUpdatedSince    string           `yaml:"min_updated_since"`
	CustomFields       CustomFieldNames `yaml:"custom_fields"`
}

// CustomFieldNames maps canonical issue attributes to the display names
// used by the Redmine installation.
type CustomFieldNames struct {
	ReleaseNotes        string `yaml:"release_notes"`
	ReleaseNotesPublish string `yaml:"release_notes_publish"`
	FollowUpOn          string `yaml:"follow_up_on"`
	Complexity          string `yaml:"complexity"`
	Category            string `yaml:"category"`
	ValidFor            string `yaml:"valid_for"`
}

type GitLabConfig struct {
	BaseURL      string            `yaml:"base_url"`
	PrivateToken string            `yaml:"private_token"`
	ProjectPath  string            `yaml:"project_path"`
	PerPage      int               `yaml:"per_page"`
	Embed        bool              `yaml:"embed"`
	AssigneeMap  map[string]string `yaml:"assignee_map"`
}

type SyncConfig struct {
	Enabled           bool        `yaml:"enabled"`
	Cron              string      `yaml:"cron"`
	RefreshCron       string      `yaml:"refresh_cron"`
	HolidayCountry    string      `yaml:"holiday_country"`
	SkipHolidays      bool        `yaml:"skip_holidays"`
	LockTTLMinutes    int         `yaml:"lock_ttl_minutes"`
	SkipStatuses      []string    `yaml:"skip_statuses"`
	ClosedStates      []string    `yaml:"closed_states"`
	PlanningAssignees []string    `yaml:"planning_assignees"`
	Labels            LabelTables `yaml:"labels"`
}

// LabelTables maps Redmine values onto GitLab label names.
type LabelTables struct {
	Tracker       map[string]string `yaml:"tracker"`
	Status        map[string]string `yaml:"status"`
	Priority      map[string]string `yaml:"priority"`
	Release       map[string]string `yaml:"release"`
	Environment   map[string]string `yaml:"environment"`
	Complexity    map[string]string `yaml:"complexity"`
	PlanningLabel string            `yaml:"planning_label"`
}

type TransportConfig struct {
	MaxRetries        int     `yaml:"max_retries"`
	InitialBackoffMS  int     `yaml:"initial_backoff_ms"`
	MaxBackoffMS      int     `yaml:"max_backoff_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

type LLMConfig struct {
	Provider       string `yaml:"provider"` // openai, azure, anthropic, ollama, gemini
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	RewriteEnabled bool   `yaml:"rewrite_enabled"`
}

type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			Mode:      "debug",
			RateLimit: 20,
			RateBurst: 40,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "trackersync.db",
		},
		JWT: JWTConfig{
			Secret:     "trackersync-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Log: LogConfig{
			Level:         "info",
			MaxSizeMB:     100,
			MaxBackups:    5,
			MaxAgeDays:    30,
			RetentionDays: 30,
		},
		Redmine: RedmineConfig{
			PageSize:           100,
			Embed:              true,
			InitialSyncLimit:   500,
			RecurringSyncLimit: 100,
			MinUpdatedSince:    "2025-01-01",
			CustomFields: CustomFieldNames{
				ReleaseNotes:        "Releasenotes",
				ReleaseNotesPublish: "Releasenotes veröffentlichen",
				FollowUpOn:          "Wiedervorlage",
				Complexity:          "Complexity",
				Category:            "Kategorie",
				ValidFor:            "Gültig für",
			},
		},
		GitLab: GitLabConfig{
			PerPage:     100,
			Embed:       true,
			AssigneeMap: map[string]string{},
		},
		Sync: SyncConfig{
			Enabled:        true,
			Cron:           "*/5 * * * *",
			RefreshCron:    "0 3 * * *",
			HolidayCountry: "DE",
			LockTTLMinutes: 30,
			SkipStatuses:   []string{"terminiert", "geschlossen"},
			ClosedStates:   []string{"geschlossen", "closed", "erledigt", "done"},
			PlanningAssignees: []string{
				"#support, iq-anae(neues tickets-user)",
				"iq, planung",
			},
			Labels: DefaultLabelTables(),
		},
		Transport: TransportConfig{
			MaxRetries:        3,
			InitialBackoffMS:  250,
			MaxBackoffMS:      5000,
			RequestsPerSecond: 5,
			Burst:             10,
			TimeoutSeconds:    60,
		},
		LLM: LLMConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "llama3",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
	}
}

// DefaultLabelTables returns the label mapping used by the Redmine workflow
// this service was built for.
func DefaultLabelTables() LabelTables {
	return LabelTables{
		Tracker: map[string]string{
			"Error":         "type::error",
			"Änderung":      "type::change",
			"Neues Feature": "type::feature",
			"Zu erledigen":  "type::task",
			"Test case":     "type::test",
		},
		Status: map[string]string{
			"Planung":       "status::planning",
			"Neu":           "status::new",
			"In Arbeit":     "status::in-progress",
			"Rückfrage":     "status::blocked",
			"Merge-Request": "status::review",
			"Zu Testen":     "status::qa",
			"Geschlossen":   "status::closed",
		},
		Priority: map[string]string{
			"Sofort!":  "priority::0-critical",
			"Dringend": "priority::1-urgent",
			"Hoch":     "priority::2-high",
			"Normal":   "priority::3-normal",
			"Niedrig":  "priority::4-low",
		},
		Release: map[string]string{
			"25.0 (featurefreeze)": "release::25-0",
			"25.1 (Prerelease)":    "release::25-1",
			"Zukunft":              "release::future",
		},
		Environment: map[string]string{
			"Featurefreeze": "env::featurefreeze",
			"Prerelease":    "env::prerelease",
		},
		Complexity: map[string]string{
			"normal": "complexity::normal",
		},
		PlanningLabel: "status::planning",
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		c.Log.File = file
	}

	if v := os.Getenv("REDMINE_URL"); v != "" {
		c.Redmine.BaseURL = v
	}
	if v := os.Getenv("REDMINE_API_KEY"); v != "" {
		c.Redmine.APIKey = v
	}
	if v := os.Getenv("REDMINE_PROJECT_IDENTIFIER"); v != "" {
		c.Redmine.ProjectIdentifier = v
	}
	if v := os.Getenv("REDMINE_QUERY_ID"); v != "" {
		c.Redmine.QueryID = v
	}
	if v := os.Getenv("REDMINE_MIN_UPDATED_SINCE"); v != "" {
		c.Redmine.MinUpdatedSince = v
	}
	if n, err := strconv.Atoi(os.Getenv("REDMINE_PAGE_SIZE")); err == nil && n > 0 {
		c.Redmine.PageSize = n
	}

	if v := os.Getenv("GITLAB_URL"); v != "" {
		c.GitLab.BaseURL = v
	}
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.GitLab.PrivateToken = v
	}
	if v := os.Getenv("GITLAB_PROJECT_PATH"); v != "" {
		c.GitLab.ProjectPath = v
	}
	if n, err := strconv.Atoi(os.Getenv("GITLAB_PAGE_SIZE")); err == nil && n > 0 {
		c.GitLab.PerPage = n
	}
	if raw := os.Getenv("GITLAB_ASSIGNEE_MAP"); raw != "" {
		c.GitLab.AssigneeMap = ParseAssigneeMap(raw)
	}

	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}

	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// ParseAssigneeMap accepts either a JSON object or "Name=username;Other=user2".
// Unparseable input yields an empty map.
func ParseAssigneeMap(raw string) map[string]string {
	mapping := map[string]string{}
	stripped := strings.TrimSpace(raw)
	if stripped == "" {
		return mapping
	}

	if strings.HasPrefix(stripped, "{") {
		if err := json.Unmarshal([]byte(stripped), &mapping); err != nil {
			return map[string]string{}
		}
		if len(mapping) > 0 {
			return mapping
		}
	}

	for _, entry := range strings.Split(stripped, ";") {
		name, username, ok := strings.Cut(entry, "=")
		name, username = strings.TrimSpace(name), strings.TrimSpace(username)
		if !ok || name == "" || username == "" {
			continue
		}
		mapping[name] = username
	}
	return mapping
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

// MissingKeys reports which Redmine settings required for an issue sync are blank.
func (r *RedmineConfig) MissingKeys() []string {
	var missing []string
	if strings.TrimSpace(r.BaseURL) == "" {
		missing = append(missing, "base_url")
	}
	if strings.TrimSpace(r.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(r.ProjectIdentifier) == "" && strings.TrimSpace(r.QueryID) == "" {
		missing = append(missing, "project_identifier")
	}
	return missing
}

// Scope identifies the sync schedule row for this Redmine source.
func (r *RedmineConfig) Scope() string {
	if r.QueryID != "" {
		return r.QueryID
	}
	return r.ProjectIdentifier
}

// MinimumSince parses MinUpdatedSince, falling back to 2025-01-01 UTC.
func (r *RedmineConfig) MinimumSince() time.Time {
	fallback := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	value := strings.TrimSpace(r.MinUpdatedSince)
	if value == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return fallback
}

// MissingKeys reports which GitLab settings required for publishing are blank.
func (g *GitLabConfig) MissingKeys() []string {
	var missing []string
	if strings.TrimSpace(g.BaseURL) == "" {
		missing = append(missing, "base_url")
	}
	if strings.TrimSpace(g.PrivateToken) == "" {
		missing = append(missing, "private_token")
	}
	if strings.TrimSpace(g.ProjectPath) == "" {
		missing = append(missing, "project_path")
	}
	return missing
}

func (g *GitLabConfig) Enabled() bool {
	return len(g.MissingKeys()) == 0
}

func (t *TransportConfig) InitialBackoff() time.Duration {
	return time.Duration(t.InitialBackoffMS) * time.Millisecond
}

func (t *TransportConfig) MaxBackoff() time.Duration {
	return time.Duration(t.MaxBackoffMS) * time.Millisecond
}

func (t *TransportConfig) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func (s *SyncConfig) LockTTL() time.Duration {
	if s.LockTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.LockTTLMinutes) * time.Minute
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
