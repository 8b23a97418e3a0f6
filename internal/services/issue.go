package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/internal/services/transfer"
	"gorm.io/gorm"
)

var (
	ErrIssueNotFound  = errors.New("issue not found")
	ErrIssueNotLinked = errors.New("issue has no GitLab counterpart")
)

// IssueFetcher reads a single remote issue.
type IssueFetcher interface {
	GetIssue(ctx context.Context, project string, iid int) (*gitlab.Issue, error)
}

// IssueService is the read-only view over synced issues.
type IssueService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewIssueService(db *gorm.DB, cfg *config.Config) *IssueService {
	return &IssueService{db: db, cfg: cfg}
}

type IssueListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Status   string `form:"status"`
	Project  string `form:"project"`
	Linked   string `form:"linked"` // true, false or empty
	Search   string `form:"search"`
}

type IssueListResponse struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Items    []models.Issue `json:"items"`
}

func (s *IssueService) List(req *IssueListRequest) (*IssueListResponse, error) {
	req.Page, req.PageSize = normalizePage(req.Page, req.PageSize)

	query := s.db.Model(&models.Issue{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Project != "" {
		query = query.Where("project_identifier = ?", req.Project)
	}
	switch strings.ToLower(req.Linked) {
	case "true", "1":
		query = query.Where("gitlab_issue_iid IS NOT NULL")
	case "false", "0":
		query = query.Where("gitlab_issue_iid IS NULL")
	}
	if req.Search != "" {
		like := "%" + req.Search + "%"
		query = query.Where("title LIKE ? OR external_id = ?", like, req.Search)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var issues []models.Issue
	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Labels").Preload("Assignees").
		Order("updated_on DESC, id DESC").
		Offset(offset).Limit(req.PageSize).
		Find(&issues).Error; err != nil {
		return nil, err
	}

	return &IssueListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: issues}, nil
}

// Get loads an issue with its labels and assignees by Redmine ID.
func (s *IssueService) Get(externalID string) (*models.Issue, error) {
	var issue models.Issue
	err := s.db.Preload("Labels").Preload("Assignees").
		Where("external_id = ?", strings.TrimSpace(externalID)).
		First(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIssueNotFound
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// Payload renders the issue as it would be sent to target, "gitlab" or
// "redmine". The GitLab rendering resolves assignees from local state only.
func (s *IssueService) Payload(ctx context.Context, externalID, target string) (interface{}, error) {
	issue, err := s.Get(externalID)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "gitlab":
		builder, err := transfer.PreviewBuilder(s.db, s.cfg)
		if err != nil {
			return nil, err
		}
		return builder.Build(ctx, issue), nil
	case "redmine":
		return transfer.BuildRedminePayload(issue, s.cfg.Redmine.CustomFields), nil
	default:
		return nil, fmt.Errorf("unknown payload target %q", target)
	}
}

// issueView is the part of an issue both sides are compared on.
type issueView struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	AssigneeIDs []int    `json:"assignee_ids"`
	State       string   `json:"state"`
}

type IssueDiff struct {
	ExternalID  string                `json:"external_id"`
	GitLabIID   int                   `json:"gitlab_issue_iid"`
	WebURL      string                `json:"gitlab_issue_web_url,omitempty"`
	InSync      bool                  `json:"in_sync"`
	Differences []transfer.Difference `json:"differences"`
}

// Diff compares the locally rendered snapshot with the live GitLab issue.
func (s *IssueService) Diff(ctx context.Context, externalID string, remote IssueFetcher) (*IssueDiff, error) {
	issue, err := s.Get(externalID)
	if err != nil {
		return nil, err
	}
	if issue.GitLabIssueIID == nil {
		return nil, ErrIssueNotLinked
	}
	project := s.cfg.GitLab.ProjectPath
	if issue.GitLabProjectPath != nil && *issue.GitLabProjectPath != "" {
		project = *issue.GitLabProjectPath
	}

	builder, err := transfer.PreviewBuilder(s.db, s.cfg)
	if err != nil {
		return nil, err
	}
	snapshot := builder.Build(ctx, issue)

	live, err := remote.GetIssue(ctx, project, *issue.GitLabIssueIID)
	if err != nil {
		return nil, fmt.Errorf("fetch GitLab issue %d: %w", *issue.GitLabIssueIID, err)
	}

	remoteIDs := make([]int, 0, len(live.Assignees))
	for _, a := range live.Assignees {
		remoteIDs = append(remoteIDs, a.ID)
	}
	local := newIssueView(snapshot.Title, snapshot.Description, snapshot.Labels, snapshot.AssigneeIDs, snapshot.State)
	current := newIssueView(live.Title, live.Description, live.Labels, remoteIDs, live.State)

	diffs, err := transfer.Compare(local, current)
	if err != nil {
		return nil, err
	}
	return &IssueDiff{
		ExternalID:  issue.ExternalID,
		GitLabIID:   *issue.GitLabIssueIID,
		WebURL:      live.WebURL,
		InSync:      len(diffs) == 0,
		Differences: diffs,
	}, nil
}

// newIssueView sorts labels and assignees so only membership is compared.
func newIssueView(title, description string, labels []string, assigneeIDs []int, state string) issueView {
	sortedLabels := append([]string{}, labels...)
	sort.Strings(sortedLabels)
	sortedIDs := append([]int{}, assigneeIDs...)
	sort.Ints(sortedIDs)
	return issueView{
		Title:       title,
		Description: description,
		Labels:      sortedLabels,
		AssigneeIDs: sortedIDs,
		State:       state,
	}
}

// Schedules lists the stored sync checkpoints.
func (s *IssueService) Schedules() ([]models.SyncSchedule, error) {
	var schedules []models.SyncSchedule
	err := s.db.Order("task_name, scope").Find(&schedules).Error
	return schedules, err
}
