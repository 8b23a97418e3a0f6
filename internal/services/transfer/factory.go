package transfer

import (
	"context"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

// GitLabAPI is everything the publisher stack needs from the GitLab client.
type GitLabAPI interface {
	IssueTracker
	UserDirectory
	gitlab.LabelSource
}

// BuildPublisher wires mapper, resolver and builder for the configured
// project. Labels are mirrored first when none are stored yet, so the
// mapper has a set to validate against.
func BuildPublisher(ctx context.Context, db *gorm.DB, cfg *config.Config, client GitLabAPI) *Publisher {
	project := cfg.GitLab.ProjectPath

	names, err := labelNames(db, project)
	if err != nil {
		logger.Warnf("[Publisher] Failed to load labels for %s: %v", project, err)
	}
	if len(names) == 0 {
		if _, err := gitlab.NewLabelSynchronizer(db, client, project).Sync(ctx); err != nil {
			logger.Warnf("[Publisher] Label sync before publish failed for %s: %v", project, err)
		}
		names, _ = labelNames(db, project)
	}

	mapper := NewLabelMapper(cfg.Sync.Labels, cfg.Sync.PlanningAssignees, names)
	resolver := NewAssigneeResolver(db, client, cfg.GitLab.AssigneeMap)
	builder := NewSnapshotBuilder(mapper, resolver, cfg.Redmine.BaseURL, project, cfg.Sync.ClosedStates)
	return NewPublisher(db, client, builder, project, cfg.Sync.SkipStatuses)
}

// PreviewBuilder renders snapshots from local state only. Assignees resolve
// through the mapping and the local cache, never the GitLab API.
func PreviewBuilder(db *gorm.DB, cfg *config.Config) (*SnapshotBuilder, error) {
	names, err := labelNames(db, cfg.GitLab.ProjectPath)
	if err != nil {
		return nil, err
	}
	mapper := NewLabelMapper(cfg.Sync.Labels, cfg.Sync.PlanningAssignees, names)
	resolver := NewAssigneeResolver(db, nil, cfg.GitLab.AssigneeMap)
	return NewSnapshotBuilder(mapper, resolver, cfg.Redmine.BaseURL, cfg.GitLab.ProjectPath, cfg.Sync.ClosedStates), nil
}

func labelNames(db *gorm.DB, project string) ([]string, error) {
	var names []string
	err := db.Model(&models.Label{}).Where("project_path = ?", project).Order("name").Pluck("name", &names).Error
	return names, err
}
