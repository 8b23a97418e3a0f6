package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/services/embedding"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/internal/services/llm"
	"github.com/huangang/trackersync/internal/services/redmine"
	"github.com/huangang/trackersync/internal/services/transfer"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultCommitLimit     = 100
	defaultDiffRefreshSize = 10
)

// RefreshCoordinator runs each refresh kind against the configured
// Redmine and GitLab instances.
type RefreshCoordinator struct {
	db        *gorm.DB
	cfg       *config.Config
	refresher embedding.Refresher
}

// NewRefreshCoordinator takes a nil refresher when no embedding backend is
// configured.
func NewRefreshCoordinator(db *gorm.DB, cfg *config.Config, refresher embedding.Refresher) *RefreshCoordinator {
	return &RefreshCoordinator{db: db, cfg: cfg, refresher: refresher}
}

// NewEmbeddingService wires the Ollama embedder and the LLM query rewriter.
func NewEmbeddingService(db *gorm.DB, cfg *config.Config) (*embedding.Service, error) {
	embedder, err := embedding.NewOllamaEmbedder(&cfg.Embedding)
	if err != nil {
		return nil, err
	}
	rewriter := llm.NewQueryRewriter(&cfg.LLM)
	return embedding.NewService(db, embedder, rewriter, embedding.DefaultStores(cfg.Redmine.BaseURL)), nil
}

type WikiRefreshSummary struct {
	Project  string `json:"project"`
	Imported int    `json:"imported"`
}

type CommitRefreshSummary struct {
	ProjectPath string     `json:"project_path"`
	Since       *time.Time `json:"since,omitempty"`
	Imported    int        `json:"imported"`
}

// RefreshIssues runs the checkpointed Redmine→GitLab issue sync.
func (c *RefreshCoordinator) RefreshIssues(ctx context.Context, task *SyncTask) (*transfer.RunSummary, error) {
	runner := transfer.NewSyncRunner(c.db, c.cfg, c.refresher)
	job := transfer.NewIssueSyncJob(c.db, c.cfg, runner)
	return job.Perform(ctx, transfer.JobOptions{
		Since: task.Since,
		Limit: task.Limit,
		Embed: task.Embed,
	})
}

func (c *RefreshCoordinator) RefreshWiki(ctx context.Context, task *SyncTask) (*WikiRefreshSummary, error) {
	project := strings.TrimSpace(c.cfg.Redmine.WikiProject)
	if project == "" {
		project = strings.TrimSpace(c.cfg.Redmine.ProjectIdentifier)
	}
	var missing []string
	for _, key := range c.cfg.Redmine.MissingKeys() {
		if key != "project_identifier" {
			missing = append(missing, key)
		}
	}
	if project == "" {
		missing = append(missing, "wiki_project")
	}
	if len(missing) > 0 {
		return nil, &syncerr.ConfigError{Service: "Redmine", Missing: missing}
	}

	client, err := redmine.NewClientFromConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	importer := redmine.NewWikiImporter(c.db, client, c.refresher, c.cfg.Redmine.BaseURL)
	count, err := importer.Import(ctx, project, boolOr(task.Embed, c.cfg.Redmine.Embed))
	return &WikiRefreshSummary{Project: project, Imported: count}, err
}

func (c *RefreshCoordinator) RefreshCommits(ctx context.Context, task *SyncTask) (*CommitRefreshSummary, error) {
	importer, err := c.commitImporter()
	if err != nil {
		return nil, err
	}
	limit := intOr(task.Limit, defaultCommitLimit)
	count, err := importer.Import(ctx, task.Since, limit, boolOr(task.Embed, c.cfg.GitLab.Embed))
	return &CommitRefreshSummary{ProjectPath: c.cfg.GitLab.ProjectPath, Since: task.Since, Imported: count}, err
}

// RefreshCommitDiffs re-fetches diffs for task.SHAs, or for the latest
// commits when none are given.
func (c *RefreshCoordinator) RefreshCommitDiffs(ctx context.Context, task *SyncTask) (*gitlab.DiffRefreshResult, error) {
	importer, err := c.commitImporter()
	if err != nil {
		return nil, err
	}
	limit := intOr(task.Limit, defaultDiffRefreshSize)
	return importer.RefreshDiffs(ctx, task.SHAs, limit, boolOr(task.Embed, c.cfg.GitLab.Embed))
}

func (c *RefreshCoordinator) RefreshLabels(ctx context.Context) (*gitlab.SyncResult, error) {
	client, err := c.gitlabClient()
	if err != nil {
		return nil, err
	}
	return gitlab.NewLabelSynchronizer(c.db, client, c.cfg.GitLab.ProjectPath).Sync(ctx)
}

func (c *RefreshCoordinator) RefreshAssignees(ctx context.Context) (*gitlab.SyncResult, error) {
	client, err := c.gitlabClient()
	if err != nil {
		return nil, err
	}
	return gitlab.NewAssigneeSynchronizer(c.db, client, c.cfg.GitLab.ProjectPath).Sync(ctx)
}

// RefreshAll runs labels and assignees first so the issue publish sees a
// current label set. Each failure is reported under its kind and the
// remaining kinds still run.
func (c *RefreshCoordinator) RefreshAll(ctx context.Context, task *SyncTask) (map[string]interface{}, error) {
	results := map[string]interface{}{}
	var errs []error

	for _, kind := range []SyncKind{SyncLabels, SyncAssignees, SyncIssues, SyncWiki, SyncCommits} {
		sub := *task
		sub.Kind = kind
		result, err := c.Run(ctx, &sub)
		if err != nil {
			results[string(kind)] = map[string]interface{}{"error": err.Error()}
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		results[string(kind)] = result
	}
	return results, errors.Join(errs...)
}

// Run executes task inline and returns its JSON-ready summary.
func (c *RefreshCoordinator) Run(ctx context.Context, task *SyncTask) (interface{}, error) {
	switch task.Kind {
	case SyncIssues:
		return c.RefreshIssues(ctx, task)
	case SyncWiki:
		return c.RefreshWiki(ctx, task)
	case SyncCommits:
		return c.RefreshCommits(ctx, task)
	case SyncCommitDiffs:
		return c.RefreshCommitDiffs(ctx, task)
	case SyncLabels:
		return c.RefreshLabels(ctx)
	case SyncAssignees:
		return c.RefreshAssignees(ctx)
	case SyncAll:
		return c.RefreshAll(ctx, task)
	default:
		return nil, fmt.Errorf("unknown sync kind %q", task.Kind)
	}
}

// Process is the queue processor: it runs the task and records the outcome
// in the system log.
func (c *RefreshCoordinator) Process(ctx context.Context, task *SyncTask) error {
	start := time.Now()
	result, err := c.Run(ctx, task)
	extra := map[string]interface{}{
		"kind":        task.Kind,
		"trigger":     task.Trigger,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		if !errors.Is(err, syncerr.ErrSyncInProgress) {
			extra["error"] = err.Error()
			LogError(LogEntry{Module: "sync", Action: string(task.Kind), Message: fmt.Sprintf("%s refresh failed", task.Kind), Scope: c.scope(task.Kind), Extra: extra})
		}
		return err
	}

	extra["result"] = result
	logger.Infof("[Refresh] %s refresh finished in %dms", task.Kind, extra["duration_ms"])
	if task.Kind != SyncIssues {
		// the issue job writes its own run record
		LogInfo(LogEntry{Module: "sync", Action: string(task.Kind), Message: fmt.Sprintf("%s refresh completed", task.Kind), Scope: c.scope(task.Kind), Extra: extra})
	}
	return nil
}

// scope names what a run of kind touched: the Redmine scope for issues and
// wiki, the GitLab project for everything else.
func (c *RefreshCoordinator) scope(kind SyncKind) string {
	switch kind {
	case SyncIssues:
		return c.cfg.Redmine.Scope()
	case SyncWiki:
		if project := strings.TrimSpace(c.cfg.Redmine.WikiProject); project != "" {
			return project
		}
		return c.cfg.Redmine.ProjectIdentifier
	case SyncAll:
		return ""
	default:
		return c.cfg.GitLab.ProjectPath
	}
}

func (c *RefreshCoordinator) gitlabClient() (*gitlab.Client, error) {
	if missing := c.cfg.GitLab.MissingKeys(); len(missing) > 0 {
		return nil, &syncerr.ConfigError{Service: "GitLab", Missing: missing}
	}
	return gitlab.NewClientFromConfig(c.cfg)
}

func (c *RefreshCoordinator) commitImporter() (*gitlab.CommitImporter, error) {
	client, err := c.gitlabClient()
	if err != nil {
		return nil, err
	}
	return gitlab.NewCommitImporter(c.db, client, c.refresher, c.cfg.GitLab.ProjectPath), nil
}

func boolOr(value *bool, fallback bool) bool {
	if value != nil {
		return *value
	}
	return fallback
}

func intOr(value *int, fallback int) int {
	if value != nil && *value > 0 {
		return *value
	}
	return fallback
}
