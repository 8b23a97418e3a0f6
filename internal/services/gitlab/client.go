package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/logger"
	"github.com/huangang/trackersync/pkg/transport"
)

const DefaultPerPage = 100

var apiVersionSuffix = regexp.MustCompile(`/api/v\d+$`)

// NormalizeBaseURL trims trailing slashes and appends /api/v4 unless an API
// version is already present.
func NormalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" || apiVersionSuffix.MatchString(base) {
		return base
	}
	return base + "/api/v4"
}

type Client struct {
	baseURL string
	token   string
	perPage int
	http    *transport.Client
}

func NewClient(baseURL, privateToken string, perPage int, httpClient *transport.Client) (*Client, error) {
	baseURL = NormalizeBaseURL(baseURL)
	privateToken = strings.TrimSpace(privateToken)

	var missing []string
	if baseURL == "" {
		missing = append(missing, "base_url")
	}
	if privateToken == "" {
		missing = append(missing, "private_token")
	}
	if len(missing) > 0 {
		return nil, &syncerr.ConfigError{Service: "GitLab", Missing: missing}
	}

	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if httpClient == nil {
		httpClient = transport.New(nil, transport.Options{Service: "GitLab", MaxRetries: 3})
	}
	return &Client{baseURL: baseURL, token: privateToken, perPage: perPage, http: httpClient}, nil
}

// NewClientFromConfig builds a client on the shared transport settings.
func NewClientFromConfig(cfg *config.Config) (*Client, error) {
	httpClient := transport.New(nil, transport.Options{
		Service:           "GitLab",
		MaxRetries:        cfg.Transport.MaxRetries,
		InitialBackoff:    cfg.Transport.InitialBackoff(),
		MaxBackoff:        cfg.Transport.MaxBackoff(),
		RequestsPerSecond: cfg.Transport.RequestsPerSecond,
		Burst:             cfg.Transport.Burst,
		Timeout:           cfg.Transport.Timeout(),
	})
	return NewClient(cfg.GitLab.BaseURL, cfg.GitLab.PrivateToken, cfg.GitLab.PerPage, httpClient)
}

// Page is one page of a paginated listing. NextPage is zero on the last page.
type Page[T any] struct {
	Items      []T
	NextPage   int
	TotalPages int
}

type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	State     string `json:"state"`
	AvatarURL string `json:"avatar_url"`
	WebURL    string `json:"web_url"`
}

type Label struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	TextColor   string `json:"text_color"`
	Description string `json:"description"`
}

type Commit struct {
	ID            string          `json:"id"`
	ShortID       string          `json:"short_id"`
	Title         string          `json:"title"`
	Message       string          `json:"message"`
	AuthorName    string          `json:"author_name"`
	AuthorEmail   string          `json:"author_email"`
	CommittedDate *time.Time      `json:"committed_date"`
	WebURL        string          `json:"web_url"`
	Raw           json.RawMessage `json:"-"`
}

type FileDiff struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	AMode       string `json:"a_mode"`
	BMode       string `json:"b_mode"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
	Diff        string `json:"diff"`
}

type Issue struct {
	ID          int             `json:"id"`
	IID         int             `json:"iid"`
	ProjectID   int             `json:"project_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	State       string          `json:"state"`
	Labels      []string        `json:"labels"`
	Assignees   []User          `json:"assignees"`
	WebURL      string          `json:"web_url"`
	UpdatedAt   *time.Time      `json:"updated_at"`
	Raw         json.RawMessage `json:"-"`
}

// IssuePayload is the create/update body. Empty fields are omitted so an
// update never clears remote values with explicit nulls.
type IssuePayload struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Labels      string `json:"labels,omitempty"`
	AssigneeIDs []int  `json:"assignee_ids,omitempty"`
	StateEvent  string `json:"state_event,omitempty"`
}

func (c *Client) Commits(ctx context.Context, project string, since *time.Time, page int) (*Page[Commit], error) {
	params := c.pageParams(page)
	if since != nil {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}

	var raws []json.RawMessage
	resp, err := c.do(ctx, http.MethodGet, projectPath(project, "repository/commits"), params, nil, &raws)
	if err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(raws))
	for _, raw := range raws {
		var commit Commit
		if err := json.Unmarshal(raw, &commit); err != nil {
			return nil, fmt.Errorf("decode commit: %w", err)
		}
		commit.Raw = raw
		commits = append(commits, commit)
	}
	return newPage(commits, resp), nil
}

func (c *Client) Commit(ctx context.Context, project, sha string) (*Commit, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "repository/commits/"+url.PathEscape(sha)), nil, nil, &raw); err != nil {
		return nil, err
	}
	var commit Commit
	if err := json.Unmarshal(raw, &commit); err != nil {
		return nil, fmt.Errorf("decode commit %s: %w", sha, err)
	}
	commit.Raw = raw
	return &commit, nil
}

func (c *Client) CommitDiff(ctx context.Context, project, sha string) ([]FileDiff, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(c.perPage))

	var diffs []FileDiff
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "repository/commits/"+url.PathEscape(sha)+"/diff"), params, nil, &diffs); err != nil {
		return nil, err
	}
	return diffs, nil
}

// FindUser returns nil without error when no user has that username.
func (c *Client) FindUser(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("username", username)

	var users []User
	if _, err := c.do(ctx, http.MethodGet, "/users", params, nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

func (c *Client) SearchUsers(ctx context.Context, search string) ([]User, error) {
	search = strings.TrimSpace(search)
	if search == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("search", search)
	params.Set("per_page", strconv.Itoa(c.perPage))

	var users []User
	if _, err := c.do(ctx, http.MethodGet, "/users", params, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) ProjectLabels(ctx context.Context, project string, page int) (*Page[Label], error) {
	var labels []Label
	resp, err := c.do(ctx, http.MethodGet, projectPath(project, "labels"), c.pageParams(page), nil, &labels)
	if err != nil {
		return nil, err
	}
	return newPage(labels, resp), nil
}

// ProjectMembers lists members including those inherited from parent groups.
func (c *Client) ProjectMembers(ctx context.Context, project string, page int) (*Page[User], error) {
	var users []User
	resp, err := c.do(ctx, http.MethodGet, projectPath(project, "members/all"), c.pageParams(page), nil, &users)
	if err != nil {
		return nil, err
	}
	return newPage(users, resp), nil
}

func (c *Client) CreateIssue(ctx context.Context, project string, payload *IssuePayload) (*Issue, error) {
	return c.writeIssue(ctx, http.MethodPost, projectPath(project, "issues"), payload)
}

func (c *Client) UpdateIssue(ctx context.Context, project string, iid int, payload *IssuePayload) (*Issue, error) {
	return c.writeIssue(ctx, http.MethodPut, projectPath(project, "issues/"+strconv.Itoa(iid)), payload)
}

func (c *Client) GetIssue(ctx context.Context, project string, iid int) (*Issue, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "issues/"+strconv.Itoa(iid)), nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeIssue(raw)
}

// SearchIssues searches issue text. scope maps to GitLab's "in" parameter
// (title, description) and state to opened, closed or all.
func (c *Client) SearchIssues(ctx context.Context, project, search, scope, state string) ([]Issue, error) {
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(c.perPage))
	params.Set("search", search)
	if scope != "" {
		params.Set("in", scope)
	}
	if state != "" {
		params.Set("state", state)
	}

	var issues []Issue
	if _, err := c.do(ctx, http.MethodGet, projectPath(project, "issues"), params, nil, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (c *Client) writeIssue(ctx context.Context, method, path string, payload *IssuePayload) (*Issue, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, method, path, nil, payload, &raw); err != nil {
		return nil, err
	}
	return decodeIssue(raw)
}

func decodeIssue(raw json.RawMessage) (*Issue, error) {
	var issue Issue
	if err := json.Unmarshal(raw, &issue); err != nil {
		return nil, fmt.Errorf("decode issue: %w", err)
	}
	issue.Raw = raw
	return &issue, nil
}

func (c *Client) pageParams(page int) url.Values {
	if page <= 0 {
		page = 1
	}
	params := url.Values{}
	params.Set("per_page", strconv.Itoa(c.perPage))
	params.Set("page", strconv.Itoa(page))
	return params
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}, out interface{}) (*transport.Response, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	header := http.Header{}
	header.Set("PRIVATE-TOKEN", c.token)
	header.Set("Accept", "application/json")

	req := &transport.Request{Method: method, URL: target, Header: header}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req.Body = data
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		logger.Errorf("[GitLab] %s %s failed: %v", method, path, err)
		return nil, err
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("decode GitLab response for %s: %w", path, err)
		}
	}
	return resp, nil
}

func projectPath(project, suffix string) string {
	return "/projects/" + url.PathEscape(project) + "/" + suffix
}

func newPage[T any](items []T, resp *transport.Response) *Page[T] {
	next, _ := strconv.Atoi(strings.TrimSpace(resp.Header.Get("X-Next-Page")))
	total, _ := strconv.Atoi(strings.TrimSpace(resp.Header.Get("X-Total-Pages")))
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, NextPage: next, TotalPages: total}
}
