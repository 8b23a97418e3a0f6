package transfer

import (
	"context"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/embedding"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/internal/services/redmine"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

const DefaultSort = "updated_on:desc"

type IssueImporter interface {
	Import(ctx context.Context, opts redmine.ImportOptions) (*redmine.ImportResult, error)
}

type IssuePublisher interface {
	Publish(ctx context.Context, issue *models.Issue) (*PublishResult, error)
}

// RunOptions for one run. Limit <= 0 means unbounded; a nil Embed falls
// back to the Redmine config. Heartbeat runs after every imported page and
// every published issue.
type RunOptions struct {
	UpdatedSince *time.Time
	Limit        int
	Sort         string
	Embed        *bool
	Heartbeat    func()
}

// IssueOutcome is the publish result of one issue.
type IssueOutcome struct {
	IssueExternalID string        `json:"issue_external_id"`
	Status          PublishStatus `json:"status"`
	GitLabIssueIID  *int          `json:"gitlab_issue_iid,omitempty"`
	GitLabWebURL    string        `json:"gitlab_issue_web_url,omitempty"`
	Checksum        string        `json:"checksum,omitempty"`
	Error           string        `json:"error,omitempty"`
}

type RunSummary struct {
	ProcessedCount int            `json:"processed_count"`
	ProcessedIDs   []string       `json:"processed_ids"`
	SkippedRecords int            `json:"skipped_records"`
	Results        []IssueOutcome `json:"results"`
}

// Count returns how many outcomes have the given status.
func (s *RunSummary) Count(status PublishStatus) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// SyncRunner imports changed Redmine issues and publishes them to GitLab.
type SyncRunner struct {
	db        *gorm.DB
	cfg       *config.Config
	refresher embedding.Refresher

	newImporter  func() (IssueImporter, error)
	newPublisher func(ctx context.Context) (IssuePublisher, error)
}

func NewSyncRunner(db *gorm.DB, cfg *config.Config, refresher embedding.Refresher) *SyncRunner {
	r := &SyncRunner{db: db, cfg: cfg, refresher: refresher}
	r.newImporter = r.redmineImporter
	r.newPublisher = r.gitlabPublisher
	return r
}

func (r *SyncRunner) redmineImporter() (IssueImporter, error) {
	client, err := redmine.NewClientFromConfig(r.cfg)
	if err != nil {
		return nil, err
	}
	return redmine.NewIssueImporter(r.db, client, r.refresher, &r.cfg.Redmine), nil
}

func (r *SyncRunner) gitlabPublisher(ctx context.Context) (IssuePublisher, error) {
	client, err := gitlab.NewClientFromConfig(r.cfg)
	if err != nil {
		return nil, err
	}
	return BuildPublisher(ctx, r.db, r.cfg, client), nil
}

func (r *SyncRunner) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if missing := r.cfg.Redmine.MissingKeys(); len(missing) > 0 {
		return nil, &syncerr.ConfigError{Service: "Redmine", Missing: missing}
	}

	importer, err := r.newImporter()
	if err != nil {
		return nil, err
	}

	sort := opts.Sort
	if sort == "" {
		sort = DefaultSort
	}
	embed := r.cfg.Redmine.Embed
	if opts.Embed != nil {
		embed = *opts.Embed
	}

	summary := &RunSummary{ProcessedIDs: []string{}, Results: []IssueOutcome{}}
	imported, err := importer.Import(ctx, redmine.ImportOptions{
		UpdatedSince: opts.UpdatedSince,
		Limit:        opts.Limit,
		Sort:         sort,
		Embed:        embed,
		OnPage:       opts.Heartbeat,
	})
	if imported != nil {
		summary.ProcessedCount = imported.ProcessedCount
		summary.ProcessedIDs = imported.ProcessedIDs
		summary.SkippedRecords = imported.Skipped
		for _, failure := range imported.Failures {
			summary.Results = append(summary.Results, IssueOutcome{
				IssueExternalID: failure.ExternalID,
				Status:          StatusError,
				Error:           failure.Error,
			})
		}
	}
	if err != nil {
		return summary, err
	}

	if len(summary.ProcessedIDs) == 0 {
		return summary, nil
	}
	if missing := r.cfg.GitLab.MissingKeys(); len(missing) > 0 {
		logger.Warnf("[IssueSync] Skipping GitLab sync due to missing config keys: %v", missing)
		return summary, nil
	}

	publisher, err := r.newPublisher(ctx)
	if err != nil {
		return summary, err
	}

	var issues []models.Issue
	if err := r.db.Preload("Labels").Preload("Assignees").
		Where("external_id IN ?", summary.ProcessedIDs).
		Order("updated_on DESC").Find(&issues).Error; err != nil {
		return summary, err
	}

	for i := range issues {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Results = append(summary.Results, publishOne(ctx, publisher, &issues[i]))
		if opts.Heartbeat != nil {
			opts.Heartbeat()
		}
	}

	logger.Infof("[IssueSync] Run finished: imported=%d created=%d updated=%d skipped=%d errors=%d",
		summary.ProcessedCount, summary.Count(StatusCreated), summary.Count(StatusUpdated),
		summary.Count(StatusSkipped), summary.Count(StatusError))
	return summary, nil
}

func publishOne(ctx context.Context, publisher IssuePublisher, issue *models.Issue) IssueOutcome {
	outcome := IssueOutcome{IssueExternalID: issue.ExternalID}

	result, err := publisher.Publish(ctx, issue)
	if err != nil {
		logger.Errorf("[IssueSync] GitLab publish failed for Redmine #%s: %v", issue.ExternalID, err)
		outcome.Status = StatusError
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Status = result.Status
	outcome.Checksum = result.Checksum
	outcome.GitLabIssueIID = issue.GitLabIssueIID
	outcome.GitLabWebURL = issue.GitLabWebURL
	if result.Response != nil {
		if result.Response.IID > 0 {
			iid := result.Response.IID
			outcome.GitLabIssueIID = &iid
		}
		if result.Response.WebURL != "" {
			outcome.GitLabWebURL = result.Response.WebURL
		}
	}
	return outcome
}
