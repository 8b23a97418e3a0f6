package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/services"
	"github.com/huangang/trackersync/internal/utils"
	"github.com/huangang/trackersync/pkg/response"
)

// SyncRunner runs a sync task inline.
type SyncRunner interface {
	Run(ctx context.Context, task *services.SyncTask) (interface{}, error)
}

type SyncHandler struct {
	queue        services.TaskQueue
	runner       SyncRunner
	issueService *services.IssueService
	now          func() time.Time
}

func NewSyncHandler(queue services.TaskQueue, runner SyncRunner, issueService *services.IssueService) *SyncHandler {
	return &SyncHandler{queue: queue, runner: runner, issueService: issueService, now: time.Now}
}

// SyncRequest may come as a JSON body or query parameters; the body wins.
type SyncRequest struct {
	Since string   `json:"since" form:"since"`
	Limit *int     `json:"limit" form:"limit"`
	SHAs  []string `json:"shas" form:"shas"`
	Embed *bool    `json:"embed" form:"embed"`
}

// Trigger enqueues a refresh, or runs it inline with ?wait=true.
// POST /api/sync/:kind
func (h *SyncHandler) Trigger(c *gin.Context) {
	kind, err := services.ParseSyncKind(c.Param("kind"))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}

	var req SyncRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	since, err := utils.ParseSince(req.Since, h.now())
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	task := &services.SyncTask{
		Kind:    kind,
		Since:   since,
		Limit:   req.Limit,
		SHAs:    req.SHAs,
		Embed:   req.Embed,
		Trigger: "api",
	}

	wait, _ := strconv.ParseBool(c.DefaultQuery("wait", "false"))
	if wait || h.queue == nil {
		result, err := h.runner.Run(c.Request.Context(), task)
		if err != nil {
			response.ErrorWithData(c, appError(err), result)
			return
		}
		response.Success(c, gin.H{"kind": kind, "result": result})
		return
	}

	if err := h.queue.Enqueue(task); err != nil {
		response.Error(c, appError(err))
		return
	}
	response.Accepted(c, gin.H{"kind": kind, "queued": true, "async": h.queue.IsAsync()})
}

// Schedules lists the stored checkpoints.
// GET /api/sync/schedules
func (h *SyncHandler) Schedules(c *gin.Context) {
	schedules, err := h.issueService.Schedules()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"items": schedules})
}
