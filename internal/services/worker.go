package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/internal/syncerr"
	"github.com/huangang/trackersync/pkg/logger"
)

// Worker processes async tasks from the queue
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor func(context.Context, *SyncTask) error
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

func NewWorker(cfg *config.RedisConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	// sync runs serialize on the scheduler lock, more workers would only wait
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Errorf("[Worker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

func (w *Worker) SetProcessor(processor func(context.Context, *SyncTask) error) {
	w.processor = processor
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeSync, w.handleSyncTask)

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Infof("[Worker] Starting async worker...")
		if err := w.server.Run(w.mux); err != nil {
			logger.Errorf("[Worker] Server error: %v", err)
		}
	}()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[Worker] Shutdown complete")
}

func (w *Worker) handleSyncTask(ctx context.Context, t *asynq.Task) error {
	task, err := decodeSyncTask(t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger.Infof("[Worker] Processing %s sync (trigger=%s)", task.Kind, task.Trigger)

	if w.processor == nil {
		logger.Warnf("[Worker] No processor set")
		return nil
	}
	return classifyTaskError(w.processor(ctx, task))
}

func decodeSyncTask(payload []byte) (*SyncTask, error) {
	var task SyncTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("decode sync task: %w", err)
	}
	if _, err := ParseSyncKind(string(task.Kind)); err != nil {
		return nil, err
	}
	return &task, nil
}

// classifyTaskError stops retries for failures another attempt cannot fix.
func classifyTaskError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syncerr.ErrSyncInProgress):
		logger.Infof("[Worker] Sync already running, task dropped")
		return nil
	case syncerr.IsConfigError(err):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

var (
	globalWorker *Worker
	workerOnce   sync.Once
)

func InitWorker(cfg *config.RedisConfig) *Worker {
	workerOnce.Do(func() {
		globalWorker = NewWorker(cfg)
	})
	return globalWorker
}

func GetWorker() *Worker {
	return globalWorker
}
