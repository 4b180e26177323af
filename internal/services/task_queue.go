package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/pkg/logger"
)

const (
	TaskTypeChatLog = "chatlog:write"
)

// ChatLogTask is one prompt/response pair waiting to be persisted.
type ChatLogTask struct {
	APIKeyID string `json:"api_key_id"`
	Domain   string `json:"domain"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// TaskQueue defines the interface for chat-log task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *ChatLogTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
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

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Test connection by pinging Redis
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds a chat-log task to the async queue
func (q *AsyncQueue) Enqueue(task *ChatLogTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeChatLog, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("task_id", info.ID).Str("api_key_id", task.APIKeyID).Msg("[AsyncQueue] chat log enqueued")
	return nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue without Redis: each task runs in its own
// goroutine so the request that produced it is not held up.
type SyncQueue struct {
	processor func(context.Context, *ChatLogTask) error
	wg        sync.WaitGroup
}

// NewSyncQueue creates a new synchronous queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks
func (q *SyncQueue) SetProcessor(processor func(context.Context, *ChatLogTask) error) {
	q.processor = processor
}

func (q *SyncQueue) Enqueue(task *ChatLogTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, chat log dropped")
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(context.Background(), task); err != nil {
			logger.Warn().Err(err).Str("api_key_id", task.APIKeyID).Msg("[SyncQueue] chat log write failed")
		}
	}()

	return nil
}

// Wait blocks until every task handed out so far has finished.
func (q *SyncQueue) Wait() {
	q.wg.Wait()
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for in-flight writes.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
