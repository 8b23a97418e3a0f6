package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/internal/services/gitlab"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/response"
	"gorm.io/gorm"
)

type IssueHandler struct {
	issueService *services.IssueService
	remote       func() (services.IssueFetcher, error)
}

func NewIssueHandler(db *gorm.DB, cfg *config.Config) *IssueHandler {
	return &IssueHandler{
		issueService: services.NewIssueService(db, cfg),
		remote: func() (services.IssueFetcher, error) {
			if missing := cfg.GitLab.MissingKeys(); len(missing) > 0 {
				return nil, &syncerr.ConfigError{Service: "GitLab", Missing: missing}
			}
			client, err := gitlab.NewClientFromConfig(cfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// List returns synced issues.
// GET /api/issues
func (h *IssueHandler) List(c *gin.Context) {
	var req services.IssueListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.issueService.List(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// Get returns one issue with its GitLab linkage.
// GET /api/issues/:external_id
func (h *IssueHandler) Get(c *gin.Context) {
	issue, err := h.issueService.Get(c.Param("external_id"))
	if err != nil {
		response.Error(c, appError(err))
		return
	}
	response.Success(c, issue)
}

// Payload renders the outbound payload for ?target=gitlab|redmine.
// GET /api/issues/:external_id/payload
func (h *IssueHandler) Payload(c *gin.Context) {
	target := c.DefaultQuery("target", "gitlab")
	if target != "gitlab" && target != "redmine" {
		response.BadRequest(c, "target must be gitlab or redmine")
		return
	}

	payload, err := h.issueService.Payload(c.Request.Context(), c.Param("external_id"), target)
	if err != nil {
		response.Error(c, appError(err))
		return
	}
	response.Success(c, gin.H{"target": target, "payload": payload})
}

// Diff compares the local rendering with the live GitLab issue.
// GET /api/issues/:external_id/diff
func (h *IssueHandler) Diff(c *gin.Context) {
	remote, err := h.remote()
	if err != nil {
		response.Error(c, appError(err))
		return
	}

	diff, err := h.issueService.Diff(c.Request.Context(), c.Param("external_id"), remote)
	if err != nil {
		response.Error(c, appError(err))
		return
	}
	response.Success(c, diff)
}
