package embedding

import (
	"context"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/models"
	"gorm.io/gorm"
)

// SourceRef identifies the record an embedding belongs to.
type SourceRef struct {
	Kind string
	ID   uint
}

func IssueRef(id uint) SourceRef    { return SourceRef{Kind: models.SourceIssue, ID: id} }
func CommitRef(id uint) SourceRef   { return SourceRef{Kind: models.SourceCommit, ID: id} }
func WikiPageRef(id uint) SourceRef { return SourceRef{Kind: models.SourceWikiPage, ID: id} }

// Refresher is implemented by *Service; importers depend on it so they can
// run without an embedding backend.
type Refresher interface {
	Refresh(ctx context.Context, ref SourceRef, content string, metadata map[string]interface{}) error
}

// SourceDocument is the presentable view of a source record.
type SourceDocument struct {
	Title     string
	URL       string
	UpdatedAt string
	Details   map[string]interface{}
}

// SourceStore loads source documents by ID for one kind.
type SourceStore func(db *gorm.DB, ids []uint) (map[uint]SourceDocument, error)

var kindAliases = map[string]string{
	"issue":        models.SourceIssue,
	"issues":       models.SourceIssue,
	"gitlab_issue": models.SourceIssue,
	"commit":       models.SourceCommit,
	"commits":      models.SourceCommit,
	"commit_diff":  models.SourceCommit,
	"commit_diffs": models.SourceCommit,
	"diff":         models.SourceCommit,
	"wiki":         models.SourceWikiPage,
	"wiki_page":    models.SourceWikiPage,
	"wiki_pages":   models.SourceWikiPage,
}

// NormalizeKinds maps user-supplied source filters to stored kinds,
// dropping unknown names.
func NormalizeKinds(sources []string) []string {
	seen := map[string]bool{}
	var kinds []string
	for _, s := range sources {
		kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
		if !ok || seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds
}

// DefaultStores returns the kind→store table for issues, commits and wiki pages.
func DefaultStores(redmineBaseURL string) map[string]SourceStore {
	return map[string]SourceStore{
		models.SourceIssue:    issueStore(redmineBaseURL),
		models.SourceCommit:   commitStore,
		models.SourceWikiPage: wikiStore(redmineBaseURL),
	}
}

func issueStore(baseURL string) SourceStore {
	return func(db *gorm.DB, ids []uint) (map[uint]SourceDocument, error) {
		var issues []models.Issue
		if err := db.Preload("Labels").Where("id IN ?", ids).Find(&issues).Error; err != nil {
			return nil, err
		}
		docs := make(map[uint]SourceDocument, len(issues))
		for i := range issues {
			issue := &issues[i]
			docs[issue.ID] = SourceDocument{
				Title:     issue.Title,
				URL:       issue.ExternalURL(baseURL),
				UpdatedAt: issue.UpdatedAt.Format(time.RFC3339),
				Details: map[string]interface{}{
					"external_id":          issue.ExternalID,
					"status":               issue.Status,
					"priority":             issue.Priority,
					"assignee":             issue.AssigneeName,
					"labels":               issue.LabelNames(),
					"project_identifier":   issue.ProjectIdentifier,
					"gitlab_issue_web_url": issue.GitLabWebURL,
				},
			}
		}
		return docs, nil
	}
}

func commitStore(db *gorm.DB, ids []uint) (map[uint]SourceDocument, error) {
	var commits []models.Commit
	if err := db.Where("id IN ?", ids).Find(&commits).Error; err != nil {
		return nil, err
	}
	docs := make(map[uint]SourceDocument, len(commits))
	for _, c := range commits {
		docs[c.ID] = SourceDocument{
			Title:     c.Title,
			URL:       c.WebURL,
			UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
			Details: map[string]interface{}{
				"commit_sha":   c.SHA,
				"project_path": c.ProjectPath,
				"author":       c.AuthorName,
			},
		}
	}
	return docs, nil
}

func wikiStore(baseURL string) SourceStore {
	return func(db *gorm.DB, ids []uint) (map[uint]SourceDocument, error) {
		var pages []models.WikiPage
		if err := db.Where("id IN ?", ids).Find(&pages).Error; err != nil {
			return nil, err
		}
		docs := make(map[uint]SourceDocument, len(pages))
		for _, p := range pages {
			docs[p.ID] = SourceDocument{
				Title:     p.Title,
				URL:       wikiURL(baseURL, p.ProjectIdentifier, p.Title),
				UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
				Details: map[string]interface{}{
					"project_identifier": p.ProjectIdentifier,
					"slug":               p.Slug,
				},
			}
		}
		return docs, nil
	}
}

func wikiURL(baseURL, project, title string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" || project == "" {
		return ""
	}
	return base + "/projects/" + project + "/wiki/" + strings.ReplaceAll(title, " ", "_")
}
