// Package scheduler runs named periodic tasks, such as peripheral
// reconciliation and the deferred observer refresh, on their own tickers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"diskmesh/internal/logging"
)

// TaskFunc is one tick of a periodic task.
type TaskFunc func(ctx context.Context) error

var ErrUnknownTask = errors.New("unknown task")

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	mu       sync.Mutex // serialises ticks with manual triggers
	runs     int
	failures int
	lastRun  time.Time
	lastErr  error
}

// TaskInfo provides read-only information about a task
type TaskInfo struct {
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages periodic tasks and their lifecycle
type Scheduler struct {
	mu     sync.RWMutex
	tasks  map[string]*task
	log    logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler
func New(log logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Noop()
	}
	return &Scheduler{tasks: make(map[string]*task), log: log}
}

// Every registers fn to run every interval once the scheduler starts. A
// task registered after Start begins immediately.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}
	t := &task{name: name, interval: interval, fn: fn}
	s.tasks[name] = t
	if s.ctx != nil {
		s.startLoop(t)
	}
	return nil
}

// Start begins every registered task's loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.startLoop(t)
	}
}

// Stop cancels every loop and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Trigger runs a task once, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, t)
}

// List returns information about registered tasks ordered by name.
func (s *Scheduler) List() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		info := TaskInfo{
			Name:     t.name,
			Interval: t.interval.String(),
			Runs:     t.runs,
			Failures: t.failures,
			LastRun:  t.lastRun,
		}
		if t.lastErr != nil {
			info.LastError = t.lastErr.Error()
		}
		t.mu.Unlock()
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// startLoop must be called with s.mu held.
func (s *Scheduler) startLoop(t *task) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Debug(ctx, "stopping task", logging.String("task", t.name))
				return
			case <-ticker.C:
				if err := s.run(ctx, t); err != nil {
					s.log.Warn(ctx, "task failed",
						logging.String("task", t.name),
						logging.Err(err))
				}
			}
		}
	}()

	s.log.Debug(ctx, "started task",
		logging.String("task", t.name),
		logging.String("interval", t.interval.String()))
}

func (s *Scheduler) run(ctx context.Context, t *task) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
		t.runs++
		t.lastRun = time.Now()
		t.lastErr = err
		if err != nil {
			t.failures++
		}
	}()
	return t.fn(ctx)
}
