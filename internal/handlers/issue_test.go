package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/pkg/transport"
	"gorm.io/gorm"
)

type fakeFetcher struct {
	issue *gitlab.Issue
	err   error
}

func (f *fakeFetcher) GetIssue(ctx context.Context, project string, iid int) (*gitlab.Issue, error) {
	return f.issue, f.err
}

func issueRouter(t *testing.T, cfg *config.Config, fetcher *fakeFetcher) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	updated := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	iid := 12
	project := "g/p"
	issues := []models.Issue{
		{ExternalID: "100", ProjectIdentifier: "core", Title: "Login broken", Status: "Neu", UpdatedOn: &updated},
		{ExternalID: "101", ProjectIdentifier: "core", Title: "Export slow", Status: "In Arbeit", UpdatedOn: &updated,
			GitLabIssueIID: &iid, GitLabProjectPath: &project},
	}
	for i := range issues {
		if err := db.Create(&issues[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	h := NewIssueHandler(db, cfg)
	if fetcher != nil {
		h.remote = func() (services.IssueFetcher, error) { return fetcher, nil }
	}
	router := gin.New()
	router.GET("/api/issues", h.List)
	router.GET("/api/issues/:external_id", h.Get)
	router.GET("/api/issues/:external_id/payload", h.Payload)
	router.GET("/api/issues/:external_id/diff", h.Diff)
	return router, db
}

func TestIssueHandler_ListAndGet(t *testing.T) {
	router, _ := issueRouter(t, testConfig(), nil)

	w, env := perform(t, router, "GET", "/api/issues?linked=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list services.IssueListResponse
	json.Unmarshal(env.Data, &list)
	if list.Total != 1 || list.Items[0].ExternalID != "101" {
		t.Errorf("list = %+v", list)
	}

	w, env = perform(t, router, "GET", "/api/issues/101", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var issue models.Issue
	json.Unmarshal(env.Data, &issue)
	if issue.GitLabIssueIID == nil || *issue.GitLabIssueIID != 12 {
		t.Errorf("issue linkage = %v", issue.GitLabIssueIID)
	}

	if w, _ := perform(t, router, "GET", "/api/issues/999", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing issue status = %d", w.Code)
	}
}

func TestIssueHandler_Payload(t *testing.T) {
	router, _ := issueRouter(t, testConfig(), nil)

	w, env := perform(t, router, "GET", "/api/issues/100/payload?target=redmine", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var data struct {
		Target  string                 `json:"target"`
		Payload map[string]interface{} `json:"payload"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Target != "redmine" || data.Payload["subject"] != "Login broken" {
		t.Errorf("data = %+v", data)
	}

	w, _ = perform(t, router, "GET", "/api/issues/100/payload", nil)
	if w.Code != http.StatusOK {
		t.Errorf("gitlab payload status = %d", w.Code)
	}
	if w, _ := perform(t, router, "GET", "/api/issues/100/payload?target=jira", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad target status = %d", w.Code)
	}
}

func TestIssueHandler_Diff(t *testing.T) {
	fetcher := &fakeFetcher{issue: &gitlab.Issue{IID: 12, Title: "Renamed", State: "opened"}}
	router, _ := issueRouter(t, testConfig(), fetcher)

	w, env := perform(t, router, "GET", "/api/issues/101/diff", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var diff services.IssueDiff
	json.Unmarshal(env.Data, &diff)
	if diff.InSync || diff.GitLabIID != 12 || len(diff.Differences) == 0 {
		t.Errorf("diff = %+v", diff)
	}

	if w, _ := perform(t, router, "GET", "/api/issues/100/diff", nil); w.Code != http.StatusConflict {
		t.Errorf("unlinked status = %d", w.Code)
	}

	fetcher.err = &transport.Error{Service: "GitLab", Method: "GET", Path: "/projects/g%2Fp/issues/12", StatusCode: 404, Message: "404 Not found"}
	if w, _ := perform(t, router, "GET", "/api/issues/101/diff", nil); w.Code != http.StatusBadGateway {
		t.Errorf("remote failure status = %d", w.Code)
	}
}

func TestIssueHandler_DiffWithoutGitLabConfig(t *testing.T) {
	cfg := testConfig()
	cfg.GitLab.PrivateToken = ""
	router, _ := issueRouter(t, cfg, nil)

	if w, _ := perform(t, router, "GET", "/api/issues/101/diff", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", w.Code)
	}
}
