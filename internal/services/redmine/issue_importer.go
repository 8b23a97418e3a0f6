package redmine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services/embedding"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

// IssueLister is the part of *Client the importer needs.
type IssueLister interface {
	ListIssues(ctx context.Context, q IssueQuery) (*IssuePage, error)
	PageSize() int
}

type IssueImporter struct {
	db                *gorm.DB
	client            IssueLister
	refresher         embedding.Refresher
	fields            config.CustomFieldNames
	projectIdentifier string
	queryID           string
	baseURL           string
}

func NewIssueImporter(db *gorm.DB, client IssueLister, refresher embedding.Refresher, cfg *config.RedmineConfig) *IssueImporter {
	return &IssueImporter{
		db:                db,
		client:            client,
		refresher:         refresher,
		fields:            cfg.CustomFields,
		projectIdentifier: cfg.ProjectIdentifier,
		queryID:           cfg.QueryID,
		baseURL:           cfg.BaseURL,
	}
}

// ImportOptions controls one import pass. Limit <= 0 means unbounded.
// OnPage, when set, runs after each committed page.
type ImportOptions struct {
	UpdatedSince *time.Time
	Limit        int
	Sort         string
	Embed        bool
	OnPage       func()
}

// ImportFailure names one issue that could not be transformed. ExternalID is
// empty when the payload carried no readable id.
type ImportFailure struct {
	ExternalID string `json:"external_id"`
	Error      string `json:"error"`
}

type ImportResult struct {
	ProcessedCount int             `json:"processed_count"`
	ProcessedIDs   []string        `json:"processed_ids"`
	Skipped        int             `json:"skipped"`
	Failures       []ImportFailure `json:"failures"`
}

// Import streams issue pages from Redmine and upserts each page in its own
// transaction. A failing page aborts the loop; pages committed before it
// stay committed and are reported in the result.
func (im *IssueImporter) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{ProcessedIDs: []string{}, Failures: []ImportFailure{}}
	offset := 0
	total := -1
	remaining := opts.Limit

	for {
		requestLimit := im.client.PageSize()
		if opts.Limit > 0 && remaining < requestLimit {
			requestLimit = remaining
		}

		page, err := im.client.ListIssues(ctx, IssueQuery{
			ProjectID:    im.projectIdentifier,
			QueryID:      im.queryID,
			Offset:       offset,
			Limit:        requestLimit,
			UpdatedSince: opts.UpdatedSince,
			Sort:         opts.Sort,
		})
		if err != nil {
			return result, fmt.Errorf("fetch issues at offset %d: %w", offset, err)
		}
		if total < 0 {
			total = page.TotalCount
		}
		if len(page.Issues) == 0 {
			break
		}

		stored, err := im.importPage(page.Issues, result)
		if err != nil {
			return result, fmt.Errorf("store issues at offset %d: %w", offset, err)
		}
		if opts.Embed {
			im.embed(ctx, stored)
		}
		if opts.OnPage != nil {
			opts.OnPage()
		}

		offset += len(page.Issues)
		if opts.Limit > 0 {
			remaining -= len(page.Issues)
			if remaining <= 0 {
				break
			}
		}
		if offset >= total {
			break
		}
	}

	logger.Info().
		Int("processed", result.ProcessedCount).
		Int("skipped", result.Skipped).
		Msg("[Redmine] Issue import finished")
	return result, nil
}

// importPage upserts one page. Transform errors skip the issue; storage
// errors roll back the whole page.
func (im *IssueImporter) importPage(raws []json.RawMessage, result *ImportResult) ([]models.Issue, error) {
	var stored []models.Issue
	var failures []ImportFailure

	err := im.db.Transaction(func(tx *gorm.DB) error {
		for _, raw := range raws {
			record, err := DecodeIssue(raw)
			if err != nil {
				logger.Warn().Err(err).Msg("[Redmine] Skipping malformed issue")
				failures = append(failures, transformFailure(err))
				continue
			}

			var issue models.Issue
			if err := tx.Where("external_id = ?", record.ExternalID()).Limit(1).Find(&issue).Error; err != nil {
				return err
			}
			record.Apply(&issue, im.fields, im.projectIdentifier, raw)
			if err := tx.Save(&issue).Error; err != nil {
				return err
			}
			stored = append(stored, issue)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Skipped += len(failures)
	result.Failures = append(result.Failures, failures...)
	for _, issue := range stored {
		result.ProcessedCount++
		result.ProcessedIDs = append(result.ProcessedIDs, issue.ExternalID)
	}
	return stored, nil
}

func transformFailure(err error) ImportFailure {
	var trErr *syncerr.TransformError
	if errors.As(err, &trErr) {
		return ImportFailure{ExternalID: trErr.SourceID, Error: trErr.Err.Error()}
	}
	return ImportFailure{Error: err.Error()}
}

func (im *IssueImporter) embed(ctx context.Context, issues []models.Issue) {
	if im.refresher == nil {
		return
	}
	for i := range issues {
		issue := &issues[i]
		if strings.TrimSpace(issue.Description) == "" {
			continue
		}
		err := im.refresher.Refresh(ctx, embedding.IssueRef(issue.ID), issue.EmbedPayload(), map[string]interface{}{
			"source":       "redmine_issue",
			"external_url": issue.ExternalURL(im.baseURL),
			"project":      issue.ProjectIdentifier,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warnf("[Redmine] Embedding failed for issue #%s: %v", issue.ExternalID, err)
		}
	}
}
