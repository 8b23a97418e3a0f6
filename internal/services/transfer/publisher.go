package transfer

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

type PublishStatus string

const (
	StatusCreated PublishStatus = "created"
	StatusUpdated PublishStatus = "updated"
	StatusSkipped PublishStatus = "skipped"
	StatusError   PublishStatus = "error"
)

var defaultSkipStatuses = []string{"terminiert", "geschlossen"}

// IssueTracker is the subset of the GitLab client the publisher writes to.
type IssueTracker interface {
	CreateIssue(ctx context.Context, project string, payload *gitlab.IssuePayload) (*gitlab.Issue, error)
	UpdateIssue(ctx context.Context, project string, iid int, payload *gitlab.IssuePayload) (*gitlab.Issue, error)
	SearchIssues(ctx context.Context, project, search, scope, state string) ([]gitlab.Issue, error)
}

type PublishResult struct {
	Status   PublishStatus        `json:"status"`
	Response *gitlab.Issue        `json:"response,omitempty"`
	Payload  *gitlab.IssuePayload `json:"payload,omitempty"`
	Checksum string               `json:"checksum,omitempty"`
}

// Publisher creates or updates the GitLab issue for a local issue, writing
// only when the content checksum changed since the last sync.
type Publisher struct {
	db           *gorm.DB
	client       IssueTracker
	builder      *SnapshotBuilder
	projectPath  string
	skipStatuses map[string]bool
	now          func() time.Time
}

func NewPublisher(db *gorm.DB, client IssueTracker, builder *SnapshotBuilder, projectPath string, skipStatuses []string) *Publisher {
	if len(skipStatuses) == 0 {
		skipStatuses = defaultSkipStatuses
	}
	skip := make(map[string]bool, len(skipStatuses))
	for _, s := range skipStatuses {
		if key := normalizeKey(s); key != "" {
			skip[key] = true
		}
	}
	return &Publisher{
		db:           db,
		client:       client,
		builder:      builder,
		projectPath:  projectPath,
		skipStatuses: skip,
		now:          time.Now,
	}
}

func (p *Publisher) Publish(ctx context.Context, issue *models.Issue) (*PublishResult, error) {
	if issue == nil || issue.ID == 0 {
		return nil, fmt.Errorf("issue must be persisted before publishing")
	}
	if p.ShouldSkip(issue.Status) {
		logger.Infof("[Publisher] Skipping publish for Redmine #%s (status=%s)", issue.ExternalID, issue.Status)
		return &PublishResult{Status: StatusSkipped}, nil
	}

	p.reconcile(ctx, issue)

	snapshot := p.builder.Build(ctx, issue)
	payload := snapshot.Payload
	checksum := Checksum(payload.Title, payload.Description, snapshot.Labels, snapshot.AssigneeIDs)

	if issue.GitLabIssueIID != nil {
		if issue.GitLabSyncChecksum != nil && *issue.GitLabSyncChecksum == checksum {
			if err := p.persist(issue, snapshot, checksum, nil); err != nil {
				return nil, err
			}
			return &PublishResult{Status: StatusSkipped, Payload: payload, Checksum: checksum}, nil
		}

		if snapshot.State == StateClosed {
			payload.StateEvent = "close"
		}
		response, err := p.client.UpdateIssue(ctx, p.projectFor(issue), *issue.GitLabIssueIID, payload)
		if err != nil {
			return nil, fmt.Errorf("update GitLab issue %d for Redmine #%s: %w", *issue.GitLabIssueIID, issue.ExternalID, err)
		}
		if err := p.persist(issue, snapshot, checksum, response); err != nil {
			return nil, err
		}
		return &PublishResult{Status: StatusUpdated, Response: response, Payload: payload, Checksum: checksum}, nil
	}

	response, err := p.client.CreateIssue(ctx, p.projectPath, payload)
	if err != nil {
		return nil, fmt.Errorf("create GitLab issue for Redmine #%s: %w", issue.ExternalID, err)
	}
	if err := p.persist(issue, snapshot, checksum, response); err != nil {
		return nil, err
	}
	return &PublishResult{Status: StatusCreated, Response: response, Payload: payload, Checksum: checksum}, nil
}

// Snapshot builds the GitLab view of issue without publishing it.
func (p *Publisher) Snapshot(ctx context.Context, issue *models.Issue) *GitLabSnapshot {
	return p.builder.Build(ctx, issue)
}

func (p *Publisher) projectFor(issue *models.Issue) string {
	if issue.GitLabProjectPath != nil && *issue.GitLabProjectPath != "" {
		return *issue.GitLabProjectPath
	}
	return p.projectPath
}

// reconcile adopts an existing GitLab issue whose description carries the
// back-reference. Failures are logged and publishing continues with a create.
func (p *Publisher) reconcile(ctx context.Context, issue *models.Issue) {
	if issue.GitLabIssueIID != nil {
		return
	}

	ref := RedmineReference(issue.ExternalID)
	candidates, err := p.client.SearchIssues(ctx, p.projectPath, ref, "description", "all")
	if err != nil {
		logger.Warnf("[Publisher] Search failed while looking for existing issue for Redmine #%s: %v", issue.ExternalID, err)
		return
	}

	pattern := regexp.MustCompile(regexp.QuoteMeta(ref) + `(\D|$)`)
	var match *gitlab.Issue
	for i := range candidates {
		if candidates[i].IID > 0 && pattern.MatchString(candidates[i].Description) {
			match = &candidates[i]
			break
		}
	}
	if match == nil {
		logger.Debug().Str("issue", issue.ExternalID).Msg("[Publisher] No existing GitLab issue found")
		return
	}

	iid := match.IID
	project := p.projectFor(issue)
	err = p.db.Model(issue).Updates(map[string]interface{}{
		"gitlab_issue_iid":          iid,
		"gitlab_issue_project_path": project,
		"gitlab_issue_web_url":      match.WebURL,
	}).Error
	if err != nil {
		logger.Warnf("[Publisher] Failed to link existing GitLab issue %d for Redmine #%s: %v", iid, issue.ExternalID, err)
		return
	}
	issue.GitLabIssueIID = &iid
	issue.GitLabProjectPath = &project
	issue.GitLabWebURL = match.WebURL
	logger.Infof("[Publisher] Linked Redmine #%s to existing GitLab issue %d", issue.ExternalID, iid)
}

// persist writes label and assignee links, checksum and linkage in one
// transaction. response is nil when the remote call was skipped.
func (p *Publisher) persist(issue *models.Issue, snapshot *GitLabSnapshot, checksum string, response *gitlab.Issue) error {
	project := p.projectFor(issue)
	now := p.now()

	updates := map[string]interface{}{
		"gitlab_sync_checksum":      checksum,
		"gitlab_last_synced_at":     now,
		"gitlab_issue_project_path": project,
	}
	iid := issue.GitLabIssueIID
	webURL := issue.GitLabWebURL
	if response != nil {
		if response.IID > 0 {
			v := response.IID
			iid = &v
		}
		if response.WebURL != "" {
			webURL = response.WebURL
		}
		updates["gitlab_issue_iid"] = iid
		updates["gitlab_issue_web_url"] = webURL
	}

	err := p.db.Transaction(func(tx *gorm.DB) error {
		var labels []models.Label
		if len(snapshot.Labels) > 0 {
			if err := tx.Where("project_path = ? AND name IN ?", project, snapshot.Labels).Find(&labels).Error; err != nil {
				return err
			}
		}
		if err := replaceAssociation(tx, issue, "Labels", labels); err != nil {
			return err
		}

		var assignees []models.Assignee
		if len(snapshot.AssigneeIDs) > 0 {
			if err := tx.Where("external_id IN ?", snapshot.AssigneeIDs).Find(&assignees).Error; err != nil {
				return err
			}
		}
		if err := replaceAssociation(tx, issue, "Assignees", assignees); err != nil {
			return err
		}

		return tx.Model(issue).Updates(updates).Error
	})
	if err != nil {
		return fmt.Errorf("persist GitLab sync state for Redmine #%s: %w", issue.ExternalID, err)
	}

	issue.GitLabSyncChecksum = &checksum
	issue.GitLabLastSyncedAt = &now
	issue.GitLabProjectPath = &project
	issue.GitLabIssueIID = iid
	issue.GitLabWebURL = webURL
	return nil
}

func replaceAssociation[T any](tx *gorm.DB, issue *models.Issue, name string, records []T) error {
	association := tx.Model(issue).Association(name)
	if len(records) == 0 {
		return association.Clear()
	}
	return association.Replace(records)
}

// ShouldSkip reports whether status is one that is never published.
func (p *Publisher) ShouldSkip(status string) bool {
	return p.skipStatuses[normalizeKey(status)]
}
