package redmine

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/embedding"
	"github.com/huangang/trackersync/pkg/logger"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const summaryLength = 280

// WikiSource is the part of *Client the wiki importer needs.
type WikiSource interface {
	WikiIndex(ctx context.Context, project string) ([]WikiIndexEntry, error)
	WikiPage(ctx context.Context, project, title string) (*WikiPageDetail, error)
}

type WikiImporter struct {
	db        *gorm.DB
	client    WikiSource
	refresher embedding.Refresher
	baseURL   string
}

func NewWikiImporter(db *gorm.DB, client WikiSource, refresher embedding.Refresher, baseURL string) *WikiImporter {
	return &WikiImporter{db: db, client: client, refresher: refresher, baseURL: baseURL}
}

// Import mirrors every page of the project wiki. A failing page is logged
// and skipped; only a failing index request aborts.
func (w *WikiImporter) Import(ctx context.Context, project string, embed bool) (int, error) {
	if strings.TrimSpace(project) == "" {
		return 0, fmt.Errorf("Redmine wiki project is required")
	}

	entries, err := w.client.WikiIndex(ctx, project)
	if err != nil {
		return 0, fmt.Errorf("fetch wiki index: %w", err)
	}

	processed := 0
	for _, entry := range entries {
		if strings.TrimSpace(entry.Title) == "" {
			continue
		}
		record, err := w.upsert(ctx, project, entry.Title)
		if err != nil {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			logger.Errorf("[Redmine] Wiki import failed for '%s': %v", entry.Title, err)
			continue
		}
		processed++

		if embed && strings.TrimSpace(record.Content) != "" {
			w.embed(ctx, record)
		}
	}

	logger.Infof("[Redmine] Wiki import finished for %s: %d pages", project, processed)
	return processed, nil
}

func (w *WikiImporter) upsert(ctx context.Context, project, title string) (*models.WikiPage, error) {
	page, err := w.client.WikiPage(ctx, project, title)
	if err != nil {
		return nil, err
	}

	pageTitle := strings.TrimSpace(page.Title)
	if pageTitle == "" {
		pageTitle = title
	}

	var record models.WikiPage
	lookup := w.db.Where("external_id = ?", page.ID.String())
	if page.ID.String() == "" {
		// pages without an id keep the uuid assigned on first import
		lookup = w.db.Where("project_identifier = ? AND title = ?", project, pageTitle)
	}
	if err := lookup.Limit(1).Find(&record).Error; err != nil {
		return nil, err
	}

	switch {
	case page.ID.String() != "":
		record.ExternalID = page.ID.String()
	case record.ExternalID == "":
		record.ExternalID = uuid.NewString()
	}
	record.ProjectIdentifier = project
	record.Title = pageTitle
	record.Slug = Slugify(pageTitle)
	record.Summary = Summarize(page.Text)
	record.Content = page.Text
	record.Version = page.Version
	record.UpdatedOn = parseTime(page.UpdatedOn)
	record.RawPayload = datatypes.JSON(page.Raw)

	if err := w.db.Save(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (w *WikiImporter) embed(ctx context.Context, record *models.WikiPage) {
	if w.refresher == nil {
		return
	}
	err := w.refresher.Refresh(ctx, embedding.WikiPageRef(record.ID), record.EmbedPayload(), map[string]interface{}{
		"source":  "redmine_wiki",
		"project": record.ProjectIdentifier,
	})
	if err != nil {
		logger.Errorf("[Redmine] Wiki embedding failed for '%s': %v", record.Title, err)
	}
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	slugPattern       = regexp.MustCompile(`[^a-z0-9]+`)
)

// Summarize strips markup and truncates to 280 characters including the
// trailing ellipsis.
func Summarize(text string) string {
	stripped := html.UnescapeString(tagPattern.ReplaceAllString(text, " "))
	stripped = strings.TrimSpace(whitespacePattern.ReplaceAllString(stripped, " "))
	r := []rune(stripped)
	if len(r) <= summaryLength {
		return stripped
	}
	return string(r[:summaryLength-3]) + "..."
}

// Slugify lowercases title, folds accents and joins words with "-".
func Slugify(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}
	folded = strings.NewReplacer("ß", "ss").Replace(strings.ToLower(folded))
	return strings.Trim(slugPattern.ReplaceAllString(folded, "-"), "-")
}
