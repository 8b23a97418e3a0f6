package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/pkg/logger"
)

const (
	TaskTypeSync = "sync:run"
)

// SyncKind selects which refresh a SyncTask runs.
type SyncKind string

const (
	SyncIssues      SyncKind = "issues"
	SyncWiki        SyncKind = "wiki"
	SyncCommits     SyncKind = "commits"
	SyncCommitDiffs SyncKind = "commit_diffs"
	SyncLabels      SyncKind = "labels"
	SyncAssignees   SyncKind = "assignees"
	SyncAll         SyncKind = "all"
)

var syncKinds = []SyncKind{SyncIssues, SyncWiki, SyncCommits, SyncCommitDiffs, SyncLabels, SyncAssignees, SyncAll}

// ParseSyncKind accepts the kind names plus dashed spellings ("commit-diffs").
func ParseSyncKind(raw string) (SyncKind, error) {
	normalized := SyncKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, kind := range syncKinds {
		if kind == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown sync kind %q", raw)
}

// SyncTask is one queued refresh.
type SyncTask struct {
	Kind    SyncKind   `json:"kind"`
	Since   *time.Time `json:"since,omitempty"`
	Limit   *int       `json:"limit,omitempty"`
	SHAs    []string   `json:"shas,omitempty"`
	Embed   *bool      `json:"embed,omitempty"`
	Trigger string     `json:"trigger,omitempty"` // api, cron, cli
}

// TaskQueue defines the interface for sync task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *SyncTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis, cfg.Sync.LockTTL())
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client    *asynq.Client
	uniqueTTL time.Duration
}

// NewAsyncQueue connects to Redis. Identical tasks enqueued within uniqueTTL
// collapse into one.
func NewAsyncQueue(cfg *config.RedisConfig, uniqueTTL time.Duration) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client, uniqueTTL: uniqueTTL}, nil
}

func (q *AsyncQueue) Enqueue(task *SyncTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	opts := []asynq.Option{asynq.Queue("default"), asynq.MaxRetry(3)}
	if q.uniqueTTL > 0 {
		opts = append(opts, asynq.Unique(q.uniqueTTL))
	}

	info, err := q.client.Enqueue(asynq.NewTask(TaskTypeSync, payload), opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Infof("[AsyncQueue] %s sync already queued", task.Kind)
		return nil
	}
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s, kind=%s", info.ID, info.Queue, task.Kind)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs tasks in-process when Redis is disabled.
type SyncQueue struct {
	processor func(context.Context, *SyncTask) error
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor func(context.Context, *SyncTask) error) {
	q.processor = processor
}

// Enqueue processes the task in a goroutine so the caller is not blocked.
func (q *SyncQueue) Enqueue(task *SyncTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] No processor set, %s task dropped", task.Kind)
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(context.Background(), task); err != nil {
			logger.Errorf("[SyncQueue] %s task failed: %v", task.Kind, err)
		}
	}()
	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for in-flight tasks.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
