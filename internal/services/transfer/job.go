package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

// IssueSyncTask names both the schedule row and the lock of the issue sync.
const IssueSyncTask = "jobs:redmine_issue_sync"

type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*RunSummary, error)
}

// JobOptions are caller overrides. A nil Since uses the stored checkpoint,
// a nil Limit picks the initial or recurring limit.
type JobOptions struct {
	Since *time.Time
	Limit *int
	Sort  string
	Embed *bool
}

// IssueSyncJob runs the sync from the stored checkpoint under a lock and
// advances the checkpoint on success.
type IssueSyncJob struct {
	db     *gorm.DB
	cfg    *config.Config
	runner Runner
	owner  string
	now    func() time.Time
}

func NewIssueSyncJob(db *gorm.DB, cfg *config.Config, runner Runner) *IssueSyncJob {
	return &IssueSyncJob{db: db, cfg: cfg, runner: runner, owner: uuid.NewString(), now: time.Now}
}

func (j *IssueSyncJob) Perform(ctx context.Context, opts JobOptions) (*RunSummary, error) {
	// config errors leave the schedule untouched
	if missing := j.cfg.Redmine.MissingKeys(); len(missing) > 0 {
		return nil, &syncerr.ConfigError{Service: "Redmine", Missing: missing}
	}

	scope := j.cfg.Redmine.Scope()

	acquired, err := models.TryAcquireLock(j.db, IssueSyncTask, scope, j.owner, j.cfg.Sync.LockTTL(), j.now())
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		logger.Warnf("[IssueSync] Another run holds the lock for scope %q", scope)
		j.audit(models.LogLevelWarning, "lock_busy", "issue sync already running", map[string]interface{}{"scope": scope})
		return nil, syncerr.ErrSyncInProgress
	}
	defer func() {
		if err := models.ReleaseLock(j.db, IssueSyncTask, scope, j.owner); err != nil {
			logger.Warnf("[IssueSync] Failed to release lock: %v", err)
		}
	}()

	schedule, err := models.FetchSchedule(j.db, IssueSyncTask, scope)
	if err != nil {
		return nil, fmt.Errorf("load sync schedule: %w", err)
	}

	since := ResolveCheckpoint(opts.Since, schedule, j.cfg.Redmine.MinimumSince())
	limit := ResolveLimit(opts.Limit, schedule, &j.cfg.Redmine)
	logger.Infof("[IssueSync] Starting sync since %s (limit=%s)", since.Format(time.RFC3339), describeLimit(limit))

	// the checkpoint moves to the start of this run, so anything updated
	// while it was running is fetched again next time
	started := j.now()
	if err := schedule.MarkStarted(j.db, started); err != nil {
		return nil, fmt.Errorf("mark schedule started: %w", err)
	}

	summary, err := j.runner.Run(ctx, RunOptions{
		UpdatedSince: &since,
		Limit:        limit,
		Sort:         opts.Sort,
		Embed:        opts.Embed,
		Heartbeat:    func() { j.renewLock(scope) },
	})
	if err != nil {
		if recErr := schedule.RecordError(j.db, err.Error()); recErr != nil {
			logger.Errorf("[IssueSync] Failed to record error on schedule: %v", recErr)
		}
		logger.Errorf("[IssueSync] Failed: %v", err)
		j.audit(models.LogLevelError, "run_failed", err.Error(), map[string]interface{}{"scope": scope, "since": since})
		return summary, err
	}

	if err := schedule.MarkSucceeded(j.db, started); err != nil {
		return summary, fmt.Errorf("mark schedule succeeded: %w", err)
	}

	logger.Infof("[IssueSync] Completed. Imported=%d GitLab=%d Limit=%s", summary.ProcessedCount, len(summary.Results), describeLimit(limit))
	j.audit(models.LogLevelInfo, "run_completed", fmt.Sprintf("imported %d issues", summary.ProcessedCount), map[string]interface{}{
		"scope":   scope,
		"created": summary.Count(StatusCreated),
		"updated": summary.Count(StatusUpdated),
		"skipped": summary.Count(StatusSkipped),
		"errors":  summary.Count(StatusError),
	})
	return summary, nil
}

// renewLock extends the lock while the run makes progress, so a long
// backfill is not taken over once lock_ttl_minutes have passed.
func (j *IssueSyncJob) renewLock(scope string) {
	held, err := models.RenewLock(j.db, IssueSyncTask, scope, j.owner, j.cfg.Sync.LockTTL(), j.now())
	if err != nil {
		logger.Warnf("[IssueSync] Failed to renew lock: %v", err)
		return
	}
	if !held {
		logger.Warnf("[IssueSync] Lock for scope %q was lost during the run", scope)
	}
}

// ResolveCheckpoint picks the explicit value, else the schedule checkpoint,
// else floor. The result is never earlier than floor.
func ResolveCheckpoint(explicit *time.Time, schedule *models.SyncSchedule, floor time.Time) time.Time {
	var checkpoint *time.Time
	switch {
	case explicit != nil:
		checkpoint = explicit
	case schedule != nil:
		checkpoint = schedule.Checkpoint()
	}
	if checkpoint == nil || checkpoint.IsZero() || checkpoint.Before(floor) {
		return floor
	}
	return *checkpoint
}

// ResolveLimit returns the explicit limit, else the initial limit before the
// first success and the recurring limit after. 0 means unbounded.
func ResolveLimit(explicit *int, schedule *models.SyncSchedule, cfg *config.RedmineConfig) int {
	limit := cfg.RecurringSyncLimit
	switch {
	case explicit != nil:
		limit = *explicit
	case schedule == nil || schedule.LastSuccessAt == nil:
		limit = cfg.InitialSyncLimit
	}
	if limit < 0 {
		return 0
	}
	return limit
}

func describeLimit(limit int) string {
	if limit <= 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", limit)
}

func (j *IssueSyncJob) audit(level, action, message string, extra map[string]interface{}) {
	entry := models.NewSystemLog(level, "issue_sync", action, message, extra)
	entry.Scope = j.cfg.Redmine.Scope()
	entry.CreatedAt = j.now()
	if err := j.db.Create(entry).Error; err != nil {
		logger.Warnf("[IssueSync] Failed to write system log: %v", err)
	}
}
