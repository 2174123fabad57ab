package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"compose-deploy/internal/config"
	"compose-deploy/internal/history"
	"compose-deploy/internal/model"
	"compose-deploy/internal/pkg/console"
	"compose-deploy/internal/pkg/logger"
)

const (
	TaskDeploying = "deploying"
	TaskSuccess   = "success"
	TaskError     = "error"
)

// DefaultTaskRetention is how many finished tasks stay queryable.
const DefaultTaskRetention = 50

// RunRecorder persists deploy runs. *history.Store implements it.
type RunRecorder interface {
	RecordStart(ctx context.Context, run history.Run) error
	RecordFinish(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error
}

// LineLog collects written output as complete lines. It is safe for one
// writer and any number of readers.
type LineLog struct {
	mu      sync.Mutex
	lines   []string
	partial strings.Builder
}

func (l *LineLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rest := string(p)
	for {
		i := strings.IndexByte(rest, '\n')
		if i < 0 {
			l.partial.WriteString(rest)
			return len(p), nil
		}
		l.partial.WriteString(rest[:i])
		l.lines = append(l.lines, strings.TrimRight(l.partial.String(), "\r"))
		l.partial.Reset()
		rest = rest[i+1:]
	}
}

// Append adds a complete line.
func (l *LineLog) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

// Since returns the lines after the first n.
func (l *LineLog) Since(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= len(l.lines) {
		return nil
	}
	return append([]string(nil), l.lines[n:]...)
}

// Flush turns a trailing unterminated write into a line.
func (l *LineLog) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.partial.Len() > 0 {
		l.lines = append(l.lines, l.partial.String())
		l.partial.Reset()
	}
}

type Task struct {
	ID   string
	Host string
	Log  *LineLog

	mu         sync.RWMutex
	status     string
	step       string
	stepIndex  int
	totalSteps int
	err        string
	errCode    int
	startedAt  time.Time
	finishedAt *time.Time
	done       chan struct{}
}

func (t *Task) observe(index, total int, step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step = step
	t.stepIndex = index
	t.totalSteps = total
}

func (t *Task) finish(err error, at time.Time) {
	t.mu.Lock()
	if err != nil {
		apiErr := DescribeError(err)
		t.status = TaskError
		t.err = apiErr.Error()
		t.errCode = apiErr.Code
	} else {
		t.status = TaskSuccess
		t.stepIndex = t.totalSteps
	}
	t.finishedAt = &at
	t.mu.Unlock()
	close(t.done)
}

// Done is closed when the deploy has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Snapshot() model.ProgressResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var progress float64
	if t.totalSteps > 0 {
		// A step counts once it has finished.
		completed := t.stepIndex - 1
		if t.status == TaskSuccess {
			completed = t.totalSteps
		}
		if completed > 0 {
			progress = float64(completed*100) / float64(t.totalSteps)
		}
	}

	logs := t.Log.Since(0)
	if logs == nil {
		logs = []string{}
	}
	return model.ProgressResponse{
		Success:    t.status != TaskError,
		TaskID:     t.ID,
		Host:       t.Host,
		Status:     t.status,
		Step:       t.step,
		Progress:   progress,
		Logs:       logs,
		Error:      t.err,
		ErrorCode:  t.errCode,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
}

// TaskService runs API-triggered deploys in the background, one at a time.
type TaskService struct {
	ctx      context.Context
	cfg      config.Config
	dial     Dialer
	recorder RunRecorder
	logger   *logger.Logger

	mu        sync.Mutex
	tasks     map[string]*Task
	finished  []string
	retention int
	active    *Task
	wg        sync.WaitGroup
}

// NewTaskService returns a TaskService whose deploys are cancelled when ctx
// is. recorder may be nil.
func NewTaskService(ctx context.Context, cfg config.Config, dial Dialer, recorder RunRecorder, logger *logger.Logger) *TaskService {
	return &TaskService{
		ctx:       ctx,
		cfg:       cfg,
		dial:      dial,
		recorder:  recorder,
		logger:    logger,
		tasks:     make(map[string]*Task),
		retention: DefaultTaskRetention,
	}
}

// Start validates the overridden configuration and launches a deploy. It
// returns ErrDeployInProgress while another deploy is running.
func (s *TaskService) Start(o config.Overrides) (*Task, error) {
	cfg := s.cfg.WithOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, fmt.Errorf("%w: task %s", ErrDeployInProgress, s.active.ID)
	}

	task := &Task{
		ID:        uuid.New().String(),
		Host:      cfg.SSH.Host,
		Log:       &LineLog{},
		status:    TaskDeploying,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	task.Log.Append(fmt.Sprintf("Deployment to %s started", cfg.SSH.Target()))
	s.tasks[task.ID] = task
	s.active = task

	s.wg.Add(1)
	go s.run(task, cfg)
	return task, nil
}

func (s *TaskService) run(task *Task, cfg config.Config) {
	defer s.wg.Done()

	log := s.logger.With("task_id", task.ID)
	s.recordStart(task, cfg)

	out := console.New(task.Log, task.Log, console.WithoutColor())
	deploy := NewDeployService(cfg, s.dial, out, &logger.Logger{SugaredLogger: log}, WithStepObserver(task.observe))
	err := deploy.Run(s.ctx)
	task.Log.Flush()

	finishedAt := time.Now()
	if err != nil {
		log.Errorw("deploy task failed", "error", err)
		task.Log.Append(fmt.Sprintf("Deployment failed: %v", err))
	} else {
		log.Infow("deploy task completed")
		task.Log.Append("Deployment completed successfully")
	}
	s.recordFinish(task.ID, err, finishedAt)

	s.mu.Lock()
	s.active = nil
	s.retire(task.ID)
	s.mu.Unlock()
	task.finish(err, finishedAt)
}

// retire drops the oldest finished tasks beyond the retention limit. The
// caller holds s.mu.
func (s *TaskService) retire(id string) {
	s.finished = append(s.finished, id)
	for len(s.finished) > s.retention {
		delete(s.tasks, s.finished[0])
		s.finished = s.finished[1:]
	}
}

func (s *TaskService) recordStart(task *Task, cfg config.Config) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.RecordStart(context.Background(), history.Run{
		ID:        task.ID,
		Host:      cfg.SSH.Host,
		RemoteDir: cfg.Remote.Dir,
		Trigger:   history.TriggerAPI,
		StartedAt: task.startedAt,
	})
	if err != nil {
		s.logger.Warnw("record deploy start", "task_id", task.ID, "error", err)
	}
}

func (s *TaskService) recordFinish(id string, deployErr error, at time.Time) {
	if s.recorder == nil {
		return
	}
	status, msg := history.StatusSucceeded, ""
	if deployErr != nil {
		status, msg = history.StatusFailed, deployErr.Error()
	}
	if err := s.recorder.RecordFinish(context.Background(), id, status, msg, at); err != nil {
		s.logger.Warnw("record deploy finish", "task_id", id, "error", err)
	}
}

func (s *TaskService) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	return task, ok
}

// Wait blocks until every started deploy has finished.
func (s *TaskService) Wait() {
	s.wg.Wait()
}

// IsConflict reports whether err means a deploy is already running.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDeployInProgress)
}
