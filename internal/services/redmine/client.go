package redmine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/logger"
	"github.com/huangang/trackersync/pkg/transport"
)

const DefaultPageSize = 100

// Client is a thin wrapper over the Redmine REST API.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *transport.Client
}

func NewClient(baseURL, apiKey string, pageSize int, httpClient *transport.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	apiKey = strings.TrimSpace(apiKey)

	var missing []string
	if baseURL == "" {
		missing = append(missing, "base_url")
	}
	if apiKey == "" {
		missing = append(missing, "api_key")
	}
	if len(missing) > 0 {
		return nil, &syncerr.ConfigError{Service: "Redmine", Missing: missing}
	}

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if httpClient == nil {
		httpClient = transport.New(nil, transport.Options{Service: "Redmine", MaxRetries: 3})
	}

	return &Client{baseURL: baseURL, apiKey: apiKey, pageSize: pageSize, http: httpClient}, nil
}

// NewClientFromConfig builds a client on the shared transport settings.
func NewClientFromConfig(cfg *config.Config) (*Client, error) {
	httpClient := transport.New(nil, transport.Options{
		Service:           "Redmine",
		MaxRetries:        cfg.Transport.MaxRetries,
		InitialBackoff:    cfg.Transport.InitialBackoff(),
		MaxBackoff:        cfg.Transport.MaxBackoff(),
		RequestsPerSecond: cfg.Transport.RequestsPerSecond,
		Burst:             cfg.Transport.Burst,
		Timeout:           cfg.Transport.Timeout(),
	})
	return NewClient(cfg.Redmine.BaseURL, cfg.Redmine.APIKey, cfg.Redmine.PageSize, httpClient)
}

func (c *Client) PageSize() int {
	return c.pageSize
}

// IssueQuery filters the issue listing. ProjectID and QueryID are both
// optional; Limit falls back to the client page size.
type IssueQuery struct {
	ProjectID    string
	QueryID      string
	Offset       int
	Limit        int
	UpdatedSince *time.Time
	Sort         string
}

// IssuePage is one page of raw issues. An empty Issues slice means the
// listing is exhausted.
type IssuePage struct {
	Issues     []json.RawMessage `json:"issues"`
	TotalCount int               `json:"total_count"`
	Offset     int               `json:"offset"`
	Limit      int               `json:"limit"`
}

func (c *Client) ListIssues(ctx context.Context, q IssueQuery) (*IssuePage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = c.pageSize
	}

	params := url.Values{}
	if q.ProjectID != "" {
		params.Set("project_id", q.ProjectID)
	}
	if q.QueryID != "" {
		params.Set("query_id", q.QueryID)
	}
	params.Set("status_id", "*")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("include", "journals,attachments")
	if q.UpdatedSince != nil {
		params.Set("updated_on", ">="+q.UpdatedSince.UTC().Format(time.RFC3339))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}

	var page IssuePage
	if err := c.get(ctx, "/issues.json", params, &page); err != nil {
		return nil, err
	}
	if page.Issues == nil {
		page.Issues = []json.RawMessage{}
	}
	return &page, nil
}

// GetIssue returns the raw issue object (without the "issue" envelope).
func (c *Client) GetIssue(ctx context.Context, id string) (json.RawMessage, error) {
	var envelope struct {
		Issue json.RawMessage `json:"issue"`
	}
	path := "/issues/" + url.PathEscape(id) + ".json"
	if err := c.get(ctx, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Issue, nil
}

type WikiIndexEntry struct {
	Title     string `json:"title"`
	Version   int    `json:"version"`
	UpdatedOn string `json:"updated_on"`
}

func (c *Client) WikiIndex(ctx context.Context, project string) ([]WikiIndexEntry, error) {
	var envelope struct {
		WikiPages []WikiIndexEntry `json:"wiki_pages"`
	}
	path := "/projects/" + url.PathEscape(project) + "/wiki/index.json"
	if err := c.get(ctx, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.WikiPages, nil
}

type WikiPageDetail struct {
	ID        json.Number `json:"id"`
	Title     string      `json:"title"`
	Text      string      `json:"text"`
	Version   int         `json:"version"`
	UpdatedOn string      `json:"updated_on"`

	Raw json.RawMessage `json:"-"`
}

func (c *Client) WikiPage(ctx context.Context, project, title string) (*WikiPageDetail, error) {
	params := url.Values{}
	params.Set("include", "attachments")

	var envelope struct {
		WikiPage json.RawMessage `json:"wiki_page"`
	}
	path := "/projects/" + url.PathEscape(project) + "/wiki/" + url.PathEscape(title) + ".json"
	if err := c.get(ctx, path, params, &envelope); err != nil {
		return nil, err
	}

	page := &WikiPageDetail{Raw: envelope.WikiPage}
	if len(envelope.WikiPage) > 0 {
		if err := json.Unmarshal(envelope.WikiPage, page); err != nil {
			return nil, fmt.Errorf("decode wiki page %q: %w", title, err)
		}
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	header := http.Header{}
	header.Set("X-Redmine-API-Key", c.apiKey)
	header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, &transport.Request{Method: http.MethodGet, URL: target, Header: header})
	if err != nil {
		logger.Errorf("[Redmine] GET %s failed: %v", path, err)
		return err
	}

	if len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode Redmine response for %s: %w", path, err)
	}
	return nil
}
