package gitlab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/embedding"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultDiffRefreshLimit is how many recent commits RefreshDiffs touches
// when no SHAs are given.
const DefaultDiffRefreshLimit = 10

type CommitSource interface {
	Commits(ctx context.Context, project string, since *time.Time, page int) (*Page[Commit], error)
	CommitDiff(ctx context.Context, project, sha string) ([]FileDiff, error)
}

// CommitImporter mirrors repository commits and their diffs.
type CommitImporter struct {
	db          *gorm.DB
	client      CommitSource
	refresher   embedding.Refresher
	projectPath string
}

func NewCommitImporter(db *gorm.DB, client CommitSource, refresher embedding.Refresher, projectPath string) *CommitImporter {
	return &CommitImporter{db: db, client: client, refresher: refresher, projectPath: projectPath}
}

// Import walks commit pages newest first. A failing commit is logged and
// skipped; a failing page aborts. limit <= 0 means unbounded.
func (im *CommitImporter) Import(ctx context.Context, since *time.Time, limit int, embed bool) (int, error) {
	if im.projectPath == "" {
		return 0, fmt.Errorf("GitLab project path is required")
	}

	processed := 0
	for page := 1; page > 0; {
		batch, err := im.client.Commits(ctx, im.projectPath, since, page)
		if err != nil {
			return processed, fmt.Errorf("fetch commits page %d: %w", page, err)
		}
		if len(batch.Items) == 0 {
			break
		}

		for _, commit := range batch.Items {
			if limit > 0 && processed >= limit {
				return processed, nil
			}
			if err := im.upsert(ctx, commit, embed); err != nil {
				if ctx.Err() != nil {
					return processed, ctx.Err()
				}
				logger.Errorf("[GitLab] Commit import failed for %s: %v", commit.ID, err)
				continue
			}
			processed++
		}
		page = batch.NextPage
	}

	logger.Infof("[GitLab] Commit import for %s: %d commits", im.projectPath, processed)
	return processed, nil
}

func (im *CommitImporter) upsert(ctx context.Context, remote Commit, embed bool) error {
	if remote.ID == "" {
		return fmt.Errorf("commit without sha")
	}
	diffs := im.fetchDiffs(ctx, remote.ID)

	var record models.Commit
	if err := im.db.Where("sha = ?", remote.ID).Limit(1).Find(&record).Error; err != nil {
		return err
	}
	record.SHA = remote.ID
	record.ProjectPath = im.projectPath
	record.Title = commitTitle(remote)
	record.Message = remote.Message
	record.AuthorName = remote.AuthorName
	record.AuthorEmail = remote.AuthorEmail
	record.WebURL = remote.WebURL
	record.CommittedAt = remote.CommittedDate
	record.RawPayload = datatypes.JSON(remote.Raw)

	var stored []models.CommitDiff
	err := im.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&record).Error; err != nil {
			return err
		}
		var err error
		stored, err = replaceDiffs(tx, record.ID, diffs)
		return err
	})
	if err != nil {
		return err
	}

	if embed {
		im.embed(ctx, &record, stored)
	}
	return nil
}

type DiffRefreshEntry struct {
	SHA       string `json:"sha"`
	DiffCount int    `json:"diff_count,omitempty"`
	Error     string `json:"error,omitempty"`
}

type DiffRefreshResult struct {
	ProjectPath   string             `json:"project_path"`
	RequestedSHAs []string           `json:"requested_shas"`
	Processed     []DiffRefreshEntry `json:"processed"`
	Errors        []DiffRefreshEntry `json:"errors"`
}

// RefreshDiffs re-fetches diffs for already mirrored commits. With no SHAs
// the most recent commits are used.
func (im *CommitImporter) RefreshDiffs(ctx context.Context, shas []string, limit int, embed bool) (*DiffRefreshResult, error) {
	var targets []string
	for _, sha := range shas {
		if sha = strings.TrimSpace(sha); sha != "" {
			targets = append(targets, sha)
		}
	}
	if len(targets) == 0 {
		if limit <= 0 {
			limit = DefaultDiffRefreshLimit
		}
		if err := im.db.Model(&models.Commit{}).
			Order("committed_at DESC").Order("created_at DESC").
			Limit(limit).Pluck("sha", &targets).Error; err != nil {
			return nil, err
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no GitLab commit SHAs available to refresh")
	}

	result := &DiffRefreshResult{
		ProjectPath:   im.projectPath,
		RequestedSHAs: targets,
		Processed:     []DiffRefreshEntry{},
		Errors:        []DiffRefreshEntry{},
	}
	for _, sha := range targets {
		var commit models.Commit
		if err := im.db.Where("sha = ?", sha).Limit(1).Find(&commit).Error; err != nil {
			return nil, err
		}
		if commit.ID == 0 {
			result.Errors = append(result.Errors, DiffRefreshEntry{SHA: sha, Error: "commit not found locally"})
			continue
		}

		diffs, err := im.client.CommitDiff(ctx, im.projectPath, sha)
		if err != nil {
			logger.Errorf("[GitLab] Failed to refresh commit diffs for %s: %v", sha, err)
			result.Errors = append(result.Errors, DiffRefreshEntry{SHA: sha, Error: err.Error()})
			continue
		}

		var stored []models.CommitDiff
		err = im.db.Transaction(func(tx *gorm.DB) error {
			var err error
			stored, err = replaceDiffs(tx, commit.ID, diffs)
			return err
		})
		if err != nil {
			result.Errors = append(result.Errors, DiffRefreshEntry{SHA: sha, Error: err.Error()})
			continue
		}
		if embed {
			im.embed(ctx, &commit, stored)
		}
		result.Processed = append(result.Processed, DiffRefreshEntry{SHA: sha, DiffCount: len(diffs)})
	}
	return result, nil
}

// fetchDiffs degrades to no diffs when the diff endpoint fails.
func (im *CommitImporter) fetchDiffs(ctx context.Context, sha string) []FileDiff {
	diffs, err := im.client.CommitDiff(ctx, im.projectPath, sha)
	if err != nil {
		logger.Warnf("[GitLab] Diff fetch skipped for %s: %v", sha, err)
		return nil
	}
	return diffs
}

func (im *CommitImporter) embed(ctx context.Context, commit *models.Commit, diffs []models.CommitDiff) {
	if im.refresher == nil {
		return
	}
	err := im.refresher.Refresh(ctx, embedding.CommitRef(commit.ID), commit.EmbedPayload(diffs), map[string]interface{}{
		"source":       "gitlab_commit",
		"sha":          commit.SHA,
		"project":      commit.ProjectPath,
		"external_url": commit.WebURL,
		"diff_count":   len(diffs),
	})
	if err != nil {
		logger.Errorf("[GitLab] Commit embedding failed for %s: %v", commit.SHA, err)
	}
}

func replaceDiffs(tx *gorm.DB, commitID uint, diffs []FileDiff) ([]models.CommitDiff, error) {
	if err := tx.Where("commit_id = ?", commitID).Delete(&models.CommitDiff{}).Error; err != nil {
		return nil, err
	}
	if len(diffs) == 0 {
		return nil, nil
	}

	records := make([]models.CommitDiff, 0, len(diffs))
	for _, d := range diffs {
		records = append(records, models.CommitDiff{
			CommitID:    commitID,
			OldPath:     d.OldPath,
			NewPath:     d.NewPath,
			NewFile:     d.NewFile,
			RenamedFile: d.RenamedFile,
			DeletedFile: d.DeletedFile,
			Diff:        d.Diff,
		})
	}
	if err := tx.Create(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func commitTitle(c Commit) string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	if first, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n"); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	return c.ID
}
