package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/gitlab"
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
	cfg.Redmine.QueryID = "42"
	cfg.GitLab.BaseURL = "https://gitlab.example.com"
	cfg.GitLab.PrivateToken = "token"
	cfg.GitLab.ProjectPath = "g/p"
	return cfg
}

func seedLabels(t *testing.T, db *gorm.DB, project string, names ...string) {
	t.Helper()
	for i, name := range names {
		if err := db.Create(&models.Label{ProjectPath: project, ExternalID: i + 1, Name: name}).Error; err != nil {
			t.Fatalf("seed label %s: %v", name, err)
		}
	}
}

// fakeTracker stands in for the GitLab client.
type fakeTracker struct {
	nextIID int

	created        []*gitlab.IssuePayload
	updated        []int
	updatePayloads []*gitlab.IssuePayload
	createErr      error

	searchResults []gitlab.Issue
	searchErr     error
	searchCalls   int

	users       map[string]*gitlab.User
	userSearch  map[string][]gitlab.User
	userErr     error
	findCalls   int
	searchUsers int

	labels []gitlab.Label
}

func (f *fakeTracker) CreateIssue(ctx context.Context, project string, payload *gitlab.IssuePayload) (*gitlab.Issue, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	copied := *payload
	f.created = append(f.created, &copied)
	f.nextIID++
	return &gitlab.Issue{
		IID:    f.nextIID,
		WebURL: fmt.Sprintf("https://gitlab.example.com/%s/-/issues/%d", project, f.nextIID),
		State:  "opened",
	}, nil
}

func (f *fakeTracker) UpdateIssue(ctx context.Context, project string, iid int, payload *gitlab.IssuePayload) (*gitlab.Issue, error) {
	copied := *payload
	f.updated = append(f.updated, iid)
	f.updatePayloads = append(f.updatePayloads, &copied)
	return &gitlab.Issue{IID: iid, WebURL: fmt.Sprintf("https://gitlab.example.com/%s/-/issues/%d", project, iid)}, nil
}

func (f *fakeTracker) SearchIssues(ctx context.Context, project, search, scope, state string) ([]gitlab.Issue, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults, nil
}

func (f *fakeTracker) FindUser(ctx context.Context, username string) (*gitlab.User, error) {
	f.findCalls++
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.users[username], nil
}

func (f *fakeTracker) SearchUsers(ctx context.Context, search string) ([]gitlab.User, error) {
	f.searchUsers++
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.userSearch[search], nil
}

func (f *fakeTracker) ProjectLabels(ctx context.Context, project string, page int) (*gitlab.Page[gitlab.Label], error) {
	if page > 1 || len(f.labels) == 0 {
		return &gitlab.Page[gitlab.Label]{Items: []gitlab.Label{}}, nil
	}
	return &gitlab.Page[gitlab.Label]{Items: f.labels}, nil
}

var errBoom = errors.New("boom")
