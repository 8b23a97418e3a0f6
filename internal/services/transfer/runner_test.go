package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/internal/services/redmine"
	"github.com/huangang/trackersync/internal/syncerr"
	"gorm.io/gorm"
)

// fakeImporter writes the given issues to the store as an import would.
type fakeImporter struct {
	db     *gorm.DB
	issues []models.Issue
	err    error
	opts   redmine.ImportOptions
}

func (f *fakeImporter) Import(ctx context.Context, opts redmine.ImportOptions) (*redmine.ImportResult, error) {
	f.opts = opts
	result := &redmine.ImportResult{ProcessedIDs: []string{}}
	for i := range f.issues {
		if err := f.db.Create(&f.issues[i]).Error; err != nil {
			return result, err
		}
		result.ProcessedCount++
		result.ProcessedIDs = append(result.ProcessedIDs, f.issues[i].ExternalID)
	}
	return result, f.err
}

type fakePublisher struct {
	failFor map[string]bool
	order   []string
}

func (f *fakePublisher) Publish(ctx context.Context, issue *models.Issue) (*PublishResult, error) {
	f.order = append(f.order, issue.ExternalID)
	if f.failFor[issue.ExternalID] {
		return nil, fmt.Errorf("validation failed for %s", issue.ExternalID)
	}
	return &PublishResult{
		Status:   StatusCreated,
		Response: &gitlab.Issue{IID: 100, WebURL: "https://gitlab.example.com/g/p/-/issues/100"},
		Checksum: "abc",
	}, nil
}

func newTestRunner(t *testing.T, importer *fakeImporter, publisher IssuePublisher) *SyncRunner {
	t.Helper()
	runner := NewSyncRunner(importer.db, testConfig(), nil)
	runner.newImporter = func() (IssueImporter, error) { return importer, nil }
	runner.newPublisher = func(ctx context.Context) (IssuePublisher, error) { return publisher, nil }
	return runner
}

func TestSyncRunner_MissingRedmineConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Redmine.APIKey = ""
	cfg.Redmine.QueryID = ""
	runner := NewSyncRunner(nil, cfg, nil)
	runner.newImporter = func() (IssueImporter, error) {
		t.Fatal("importer must not be built without config")
		return nil, nil
	}

	_, err := runner.Run(context.Background(), RunOptions{})
	var cfgErr *syncerr.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if len(cfgErr.Missing) != 2 {
		t.Errorf("missing = %v", cfgErr.Missing)
	}
}

func TestSyncRunner_PublishesPerIssueWithIsolation(t *testing.T) {
	db := newTestDB(t)
	older := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	importer := &fakeImporter{db: db, issues: []models.Issue{
		{ExternalID: "1", ProjectIdentifier: "core", Title: "A", UpdatedOn: &older},
		{ExternalID: "2", ProjectIdentifier: "core", Title: "B", UpdatedOn: &newer},
	}}
	publisher := &fakePublisher{failFor: map[string]bool{"1": true}}
	runner := newTestRunner(t, importer, publisher)

	embed := false
	summary, err := runner.Run(context.Background(), RunOptions{Limit: 5, Embed: &embed})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if importer.opts.Sort != DefaultSort || importer.opts.Limit != 5 || importer.opts.Embed {
		t.Errorf("import options = %+v", importer.opts)
	}
	if summary.ProcessedCount != 2 || len(summary.Results) != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if publisher.order[0] != "2" {
		t.Errorf("publish order = %v, expected most recent first", publisher.order)
	}
	if summary.Results[0].Status != StatusCreated || *summary.Results[0].GitLabIssueIID != 100 {
		t.Errorf("first result = %+v", summary.Results[0])
	}
	failed := summary.Results[1]
	if failed.Status != StatusError || failed.IssueExternalID != "1" || failed.Error == "" {
		t.Errorf("failed result = %+v", failed)
	}
	if summary.Count(StatusError) != 1 {
		t.Errorf("error count = %d", summary.Count(StatusError))
	}
}

func TestSyncRunner_GitLabDisabled(t *testing.T) {
	db := newTestDB(t)
	importer := &fakeImporter{db: db, issues: []models.Issue{{ExternalID: "1", ProjectIdentifier: "core", Title: "A"}}}
	runner := newTestRunner(t, importer, nil)
	runner.cfg.GitLab.PrivateToken = ""
	runner.newPublisher = func(ctx context.Context) (IssuePublisher, error) {
		t.Fatal("publisher must not be built when GitLab is not configured")
		return nil, nil
	}

	summary, err := runner.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.ProcessedCount != 1 || len(summary.Results) != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSyncRunner_ImportFailureKeepsPartialSummary(t *testing.T) {
	db := newTestDB(t)
	importer := &fakeImporter{
		db:     db,
		issues: []models.Issue{{ExternalID: "1", ProjectIdentifier: "core", Title: "A"}},
		err:    errBoom,
	}
	runner := newTestRunner(t, importer, &fakePublisher{})

	summary, err := runner.Run(context.Background(), RunOptions{})
	if err == nil {
		t.Fatal("expected import error")
	}
	if summary == nil || summary.ProcessedCount != 1 || len(summary.Results) != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

// memoryLister serves raw Redmine issues as a single page.
type memoryLister struct {
	issues []string
}

func (m *memoryLister) PageSize() int { return 25 }

func (m *memoryLister) ListIssues(ctx context.Context, q redmine.IssueQuery) (*redmine.IssuePage, error) {
	page := &redmine.IssuePage{Issues: []json.RawMessage{}, TotalCount: len(m.issues)}
	for i := q.Offset; i < len(m.issues); i++ {
		page.Issues = append(page.Issues, json.RawMessage(m.issues[i]))
	}
	return page, nil
}

func TestSyncRunner_ReportsTransformFailures(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	lister := &memoryLister{issues: []string{
		`{"id":7,"project":{"identifier":"core"},"subject":"Valid","status":{"name":"Neu"}}`,
		`{"id":8,"project":{"identifier":"core"},"subject":""}`,
	}}
	publisher := &fakePublisher{}
	runner := NewSyncRunner(db, cfg, nil)
	runner.newImporter = func() (IssueImporter, error) {
		return redmine.NewIssueImporter(db, lister, nil, &cfg.Redmine), nil
	}
	runner.newPublisher = func(ctx context.Context) (IssuePublisher, error) { return publisher, nil }

	embed := false
	beats := 0
	summary, err := runner.Run(context.Background(), RunOptions{Embed: &embed, Heartbeat: func() { beats++ }})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// one imported page plus one published issue
	if beats != 2 {
		t.Errorf("heartbeats = %d, expected 2", beats)
	}
	if summary.ProcessedCount != 1 || summary.SkippedRecords != 1 || len(summary.Results) != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	var failed *IssueOutcome
	for i := range summary.Results {
		if summary.Results[i].IssueExternalID == "8" {
			failed = &summary.Results[i]
		}
	}
	if failed == nil || failed.Status != StatusError || failed.Error != "missing subject" {
		t.Errorf("results = %+v", summary.Results)
	}
	if len(publisher.order) != 1 || publisher.order[0] != "7" {
		t.Errorf("published = %v", publisher.order)
	}
}
