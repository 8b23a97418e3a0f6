package gitlab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/transport"
)

type mockDoer struct {
	requests []*http.Request
	bodies   []string
	doFunc   func(req *http.Request) (*http.Response, error)
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		m.bodies = append(m.bodies, string(b))
	}
	return m.doFunc(req)
}

func jsonResponse(status int, body string, headers ...string) *http.Response {
	h := http.Header{"Content-Type": []string{"application/json"}}
	for i := 0; i+1 < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

func newTestClient(t *testing.T, doer *mockDoer) *Client {
	t.Helper()
	c, err := NewClient("https://gitlab.example.com/", "token", 50, transport.New(doer, transport.Options{Service: "GitLab"}))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, expected string
	}{
		{"https://gitlab.example.com", "https://gitlab.example.com/api/v4"},
		{"https://gitlab.example.com/", "https://gitlab.example.com/api/v4"},
		{"https://gitlab.example.com/api/v4/", "https://gitlab.example.com/api/v4"},
		{"https://gitlab.example.com/api/v3", "https://gitlab.example.com/api/v3"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeBaseURL(tt.in); got != tt.expected {
			t.Errorf("NormalizeBaseURL(%q) = %q, expected %q", tt.in, got, tt.expected)
		}
	}
}

func TestNewClient_MissingConfig(t *testing.T) {
	_, err := NewClient("", "", 0, nil)
	if !syncerr.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestClient_ProjectLabelsPagination(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[{"id":1,"name":"status::new","color":"#fff"}]`, "X-Next-Page", "2", "X-Total-Pages", "3"), nil
	}}
	c := newTestClient(t, doer)

	page, err := c.ProjectLabels(context.Background(), "group/project", 1)
	if err != nil {
		t.Fatalf("ProjectLabels() error = %v", err)
	}
	if len(page.Items) != 1 || page.NextPage != 2 || page.TotalPages != 3 {
		t.Errorf("page = %+v", page)
	}

	req := doer.requests[0]
	if req.URL.EscapedPath() != "/api/v4/projects/group%2Fproject/labels" {
		t.Errorf("project path not encoded: %s", req.URL.EscapedPath())
	}
	if req.Header.Get("PRIVATE-TOKEN") != "token" {
		t.Error("missing PRIVATE-TOKEN header")
	}
	if req.URL.Query().Get("per_page") != "50" || req.URL.Query().Get("page") != "1" {
		t.Errorf("query = %s", req.URL.RawQuery)
	}
}

func TestClient_LastPageHasNoNext(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[]`, "X-Next-Page", ""), nil
	}}
	c := newTestClient(t, doer)

	page, err := c.ProjectMembers(context.Background(), "group/project", 4)
	if err != nil {
		t.Fatalf("ProjectMembers() error = %v", err)
	}
	if page.NextPage != 0 || page.Items == nil {
		t.Errorf("page = %+v", page)
	}
	if !strings.HasSuffix(doer.requests[0].URL.EscapedPath(), "/members/all") {
		t.Errorf("path = %s", doer.requests[0].URL.EscapedPath())
	}
}

func TestClient_CreateIssueOmitsEmptyFields(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(201, `{"id":900,"iid":12,"web_url":"https://gitlab.example.com/g/p/-/issues/12","state":"opened"}`), nil
	}}
	c := newTestClient(t, doer)

	issue, err := c.CreateIssue(context.Background(), "g/p", &IssuePayload{Title: "T", Description: "D"})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if issue.IID != 12 || issue.WebURL == "" || len(issue.Raw) == 0 {
		t.Errorf("issue = %+v", issue)
	}
	if doer.requests[0].Method != http.MethodPost {
		t.Errorf("method = %s", doer.requests[0].Method)
	}

	var body map[string]interface{}
	if err := json.Unmarshal([]byte(doer.bodies[0]), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	for _, key := range []string{"labels", "assignee_ids", "state_event"} {
		if _, ok := body[key]; ok {
			t.Errorf("empty field %s should be omitted: %s", key, doer.bodies[0])
		}
	}
}

func TestClient_UpdateIssue(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"iid":12}`), nil
	}}
	c := newTestClient(t, doer)

	_, err := c.UpdateIssue(context.Background(), "g/p", 12, &IssuePayload{Title: "T", Labels: "a,b", AssigneeIDs: []int{3}})
	if err != nil {
		t.Fatalf("UpdateIssue() error = %v", err)
	}
	req := doer.requests[0]
	if req.Method != http.MethodPut || !strings.HasSuffix(req.URL.EscapedPath(), "/issues/12") {
		t.Errorf("request = %s %s", req.Method, req.URL.EscapedPath())
	}
	if !strings.Contains(doer.bodies[0], `"labels":"a,b"`) || !strings.Contains(doer.bodies[0], `"assignee_ids":[3]`) {
		t.Errorf("body = %s", doer.bodies[0])
	}
}

func TestClient_SearchIssues(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[{"iid":5,"description":"**Source:** [Redmine #501](x)"}]`), nil
	}}
	c := newTestClient(t, doer)

	issues, err := c.SearchIssues(context.Background(), "g/p", "Redmine #501", "description", "all")
	if err != nil {
		t.Fatalf("SearchIssues() error = %v", err)
	}
	if len(issues) != 1 || issues[0].IID != 5 {
		t.Errorf("issues = %+v", issues)
	}
	q := doer.requests[0].URL.Query()
	if q.Get("search") != "Redmine #501" || q.Get("in") != "description" || q.Get("state") != "all" {
		t.Errorf("query = %s", doer.requests[0].URL.RawQuery)
	}
}

func TestClient_FindUser(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("username") == "max" {
			return jsonResponse(200, `[{"id":7,"username":"max","name":"Max Mustermann"}]`), nil
		}
		return jsonResponse(200, `[]`), nil
	}}
	c := newTestClient(t, doer)

	user, err := c.FindUser(context.Background(), "max")
	if err != nil || user == nil || user.ID != 7 {
		t.Fatalf("FindUser(max) = %+v, %v", user, err)
	}
	user, err = c.FindUser(context.Background(), "nobody")
	if err != nil || user != nil {
		t.Errorf("FindUser(nobody) = %+v, %v", user, err)
	}
	if user, _ := c.FindUser(context.Background(), " "); user != nil || len(doer.requests) != 2 {
		t.Error("blank username should not hit the API")
	}
}

func TestClient_ErrorCarriesStatusAndMessage(t *testing.T) {
	doer := &mockDoer{doFunc: func(req *http.Request) (*http.Response, error) {
		return jsonResponse(422, `{"message":{"title":["is too long"]}}`), nil
	}}
	c := newTestClient(t, doer)

	_, err := c.CreateIssue(context.Background(), "g/p", &IssuePayload{Title: "x"})
	if !transport.IsStatus(err, 422) {
		t.Fatalf("expected 422, got %v", err)
	}
	if !strings.Contains(err.Error(), "title is too long") {
		t.Errorf("message = %v", err)
	}
}
