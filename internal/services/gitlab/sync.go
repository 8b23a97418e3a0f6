package gitlab

import (
	"context"
	"fmt"
	"strings"

	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

// SyncResult summarizes one mirror pass.
type SyncResult struct {
	Upserted int   `json:"upserted"`
	Removed  int   `json:"removed"`
	Total    int64 `json:"total"`
}

type LabelSource interface {
	ProjectLabels(ctx context.Context, project string, page int) (*Page[Label], error)
}

type MemberSource interface {
	ProjectMembers(ctx context.Context, project string, page int) (*Page[User], error)
}

// LabelSynchronizer mirrors a project's labels into gitlab_labels.
type LabelSynchronizer struct {
	db          *gorm.DB
	client      LabelSource
	projectPath string
}

func NewLabelSynchronizer(db *gorm.DB, client LabelSource, projectPath string) *LabelSynchronizer {
	return &LabelSynchronizer{db: db, client: client, projectPath: projectPath}
}

func (s *LabelSynchronizer) Sync(ctx context.Context) (*SyncResult, error) {
	if s.projectPath == "" {
		return nil, fmt.Errorf("GitLab project path is required")
	}

	result := &SyncResult{}
	seen := []int{}

	for page := 1; page > 0; {
		batch, err := s.client.ProjectLabels(ctx, s.projectPath, page)
		if err != nil {
			logger.Errorf("[GitLab] Failed to fetch labels for %s page %d: %v", s.projectPath, page, err)
			return nil, err
		}
		if len(batch.Items) == 0 {
			break
		}

		for _, remote := range batch.Items {
			seen = append(seen, remote.ID)
			changed, err := s.upsert(remote)
			if err != nil {
				return nil, err
			}
			if changed {
				result.Upserted++
			}
		}
		page = batch.NextPage
	}

	removed, err := s.prune(seen)
	if err != nil {
		return nil, err
	}
	result.Removed = removed

	s.db.Model(&models.Label{}).Where("project_path = ?", s.projectPath).Count(&result.Total)
	logger.Infof("[GitLab] Label sync for %s: upserted=%d removed=%d total=%d", s.projectPath, result.Upserted, result.Removed, result.Total)
	return result, nil
}

func (s *LabelSynchronizer) upsert(remote Label) (bool, error) {
	var record models.Label
	err := s.db.Where("project_path = ? AND external_id = ?", s.projectPath, remote.ID).Limit(1).Find(&record).Error
	if err != nil {
		return false, err
	}
	if record.ID != 0 && record.Name == remote.Name && record.Color == remote.Color && record.Description == remote.Description {
		return false, nil
	}

	record.ProjectPath = s.projectPath
	record.ExternalID = remote.ID
	record.Name = remote.Name
	record.Color = remote.Color
	record.Description = remote.Description
	return true, s.db.Save(&record).Error
}

// prune deletes labels no longer present remotely, with their issue links.
// An empty listing prunes nothing.
func (s *LabelSynchronizer) prune(seen []int) (int, error) {
	if len(seen) == 0 {
		return 0, nil
	}

	var stale []uint
	if err := s.db.Model(&models.Label{}).
		Where("project_path = ? AND external_id NOT IN ?", s.projectPath, seen).
		Pluck("id", &stale).Error; err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM issue_labels WHERE label_id IN ?", stale).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Label{}, stale).Error
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

// AssigneeSynchronizer mirrors project members into gitlab_assignees.
type AssigneeSynchronizer struct {
	db          *gorm.DB
	client      MemberSource
	projectPath string
}

func NewAssigneeSynchronizer(db *gorm.DB, client MemberSource, projectPath string) *AssigneeSynchronizer {
	return &AssigneeSynchronizer{db: db, client: client, projectPath: projectPath}
}

func (s *AssigneeSynchronizer) Sync(ctx context.Context) (*SyncResult, error) {
	if s.projectPath == "" {
		return nil, fmt.Errorf("GitLab project path is required")
	}

	result := &SyncResult{}
	seen := []int{}

	for page := 1; page > 0; {
		batch, err := s.client.ProjectMembers(ctx, s.projectPath, page)
		if err != nil {
			logger.Errorf("[GitLab] Failed to fetch members for %s page %d: %v", s.projectPath, page, err)
			return nil, err
		}
		if len(batch.Items) == 0 {
			break
		}

		for _, member := range batch.Items {
			changed, err := s.upsert(member)
			if err != nil {
				logger.Warnf("[GitLab] Assignee sync failed for %s: %v", memberIdentifier(member), err)
				continue
			}
			if member.ID > 0 {
				seen = append(seen, member.ID)
			}
			if changed {
				result.Upserted++
			}
		}
		page = batch.NextPage
	}

	removed, err := s.prune(seen)
	if err != nil {
		return nil, err
	}
	result.Removed = removed

	s.db.Model(&models.Assignee{}).Count(&result.Total)
	logger.Infof("[GitLab] Assignee sync for %s: upserted=%d removed=%d total=%d", s.projectPath, result.Upserted, result.Removed, result.Total)
	return result, nil
}

func (s *AssigneeSynchronizer) upsert(member User) (bool, error) {
	if member.ID <= 0 {
		return false, fmt.Errorf("invalid member id %d", member.ID)
	}
	username := strings.TrimSpace(member.Username)
	if username == "" {
		username = strings.TrimSpace(member.Name)
	}
	if username == "" {
		return false, fmt.Errorf("member %d has no username", member.ID)
	}

	var record models.Assignee
	if err := s.db.Where("external_id = ?", member.ID).Limit(1).Find(&record).Error; err != nil {
		return false, err
	}
	next := models.Assignee{
		ID:          record.ID,
		ExternalID:  member.ID,
		Username:    username,
		DisplayName: strings.TrimSpace(member.Name),
		Email:       strings.TrimSpace(member.Email),
		State:       member.State,
		AvatarURL:   member.AvatarURL,
		WebURL:      member.WebURL,
		CreatedAt:   record.CreatedAt,
	}
	if record.ID != 0 && sameAssignee(record, next) {
		return false, nil
	}
	return true, s.db.Save(&next).Error
}

func sameAssignee(a, b models.Assignee) bool {
	return a.Username == b.Username && a.DisplayName == b.DisplayName && a.Email == b.Email &&
		a.State == b.State && a.AvatarURL == b.AvatarURL && a.WebURL == b.WebURL
}

func (s *AssigneeSynchronizer) prune(seen []int) (int, error) {
	if len(seen) == 0 {
		return 0, nil
	}

	var stale []uint
	if err := s.db.Model(&models.Assignee{}).Where("external_id NOT IN ?", seen).Pluck("id", &stale).Error; err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM issue_assignees WHERE assignee_id IN ?", stale).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Assignee{}, stale).Error
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}

func memberIdentifier(u User) string {
	switch {
	case u.Username != "":
		return u.Username
	case u.Name != "":
		return u.Name
	default:
		return fmt.Sprintf("id=%d", u.ID)
	}
}
