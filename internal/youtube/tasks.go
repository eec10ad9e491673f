package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/storage"
)

// Task statuses. A task moves pending -> running -> finished or error.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusError    = "error"
)

// DefaultTaskKeyPrefix namespaces task keys in the store.
const DefaultTaskKeyPrefix = "youtube_task:"

// ErrTaskNotFound is returned for unknown or expired task ids.
var ErrTaskNotFound = errors.New("task not found")

// Task is the persisted state of one download.
type Task struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Quality   string     `json:"quality"`
	Status    string     `json:"status"`
	Progress  int        `json:"progress"`
	Result    *VideoMeta `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Active reports whether the task has not reached a final status.
func (t *Task) Active() bool {
	return t.Status == StatusPending || t.Status == StatusRunning
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	KeyPrefix string
	TTL       time.Duration
}

// Manager runs downloads in the background and tracks them in a store, so
// several broker instances sharing Redis see the same tasks.
type Manager struct {
	store      storage.Store
	downloader Downloader
	prefix     string
	ttl        time.Duration
	logger     *zap.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewManager creates a task manager.
func NewManager(store storage.Store, downloader Downloader, opts ManagerOptions, logger *zap.Logger) *Manager {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultTaskKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:      store,
		downloader: downloader,
		prefix:     opts.KeyPrefix,
		ttl:        opts.TTL,
		logger:     logger,
		base:       base,
		cancel:     cancel,
		now:        time.Now,
	}
}

func (m *Manager) key(id string) string {
	return m.prefix + id
}

// Create registers a pending task and starts the download.
func (m *Manager) Create(ctx context.Context, rawURL, quality string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("url is required")
	}
	if quality == "" {
		quality = DefaultQuality
	}

	now := m.now()
	task := &Task{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		URL:       rawURL,
		Quality:   quality,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.save(ctx, task); err != nil {
		return "", err
	}

	m.wg.Add(1)
	go m.run(task)

	m.logger.Info("download task created", zap.String("task_id", task.ID), zap.String("url", rawURL), zap.String("quality", quality))
	return task.ID, nil
}

func (m *Manager) run(task *Task) {
	defer m.wg.Done()
	ctx := m.base

	task.Status = StatusRunning
	task.Progress = 0
	task.UpdatedAt = m.now()
	if err := m.save(ctx, task); err != nil {
		m.logger.Error("failed to update task", zap.String("task_id", task.ID), zap.Error(err))
	}

	meta, err := m.downloader.Download(ctx, task.URL, task.Quality)
	task.UpdatedAt = m.now()
	if err != nil {
		task.Status = StatusError
		task.Error = err.Error()
		m.logger.Error("download task failed", zap.String("task_id", task.ID), zap.Error(err))
	} else {
		task.Status = StatusFinished
		task.Progress = 100
		task.Result = meta
		m.logger.Info("download task finished", zap.String("task_id", task.ID), zap.String("video_id", meta.VideoID))
	}

	// The final state is saved even after Shutdown cancelled m.base.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.save(saveCtx, task); err != nil {
		m.logger.Error("failed to store task result", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// Get returns the current state of a task.
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := m.store.Get(ctx, m.key(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("corrupt task %s: %w", id, err)
	}
	return &task, nil
}

func (m *Manager) save(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := m.store.Set(ctx, m.key(task.ID), raw, m.ttl); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// Wait blocks until every started download has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels running downloads and waits for them, or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
