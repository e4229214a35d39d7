package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/farstore/registry-sync/internal/app/metrics"
	"github.com/farstore/registry-sync/internal/app/system"
	"github.com/farstore/registry-sync/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Schedules holds one cron spec per task. Empty specs disable the task.
type Schedules struct {
	Discovery string
	Resync    string
	Metrics   string
	APIKeys   string
}

// DefaultSchedules runs every task once a minute.
func DefaultSchedules() Schedules {
	return Schedules{
		Discovery: "@every 1m",
		Resync:    "@every 1m",
		Metrics:   "@every 1m",
		APIKeys:   "@every 1m",
	}
}

func (s Schedules) spec(task string) string {
	switch task {
	case TaskDiscovery:
		return s.Discovery
	case TaskResync:
		return s.Resync
	case TaskMetrics:
		return s.Metrics
	case TaskAPIKeys:
		return s.APIKeys
	}
	return ""
}

// Scheduler fires each sync task on its own schedule. Runs of the same task
// never overlap; different tasks run concurrently.
type Scheduler struct {
	service   *Service
	schedules Schedules
	timeout   time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewScheduler creates a lifecycle-managed scheduler. timeout bounds each run.
func NewScheduler(service *Service, schedules Schedules, timeout time.Duration, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("registry-scheduler")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		service:   service,
		schedules: schedules,
		timeout:   timeout,
		log:       log,
	}
}

func (s *Scheduler) Name() string { return "registry-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.log}),
		cron.SkipIfStillRunning(cronLogger{s.log}),
	))
	// Runs outlive the Start context; Stop cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	for _, task := range s.service.Tasks() {
		spec := s.schedules.spec(task.Name)
		if spec == "" {
			s.log.WithField("task", task.Name).Info("task disabled")
			continue
		}
		task := task
		if _, err := c.AddFunc(spec, func() { _ = s.run(runCtx, task) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s %q: %w", task.Name, spec, err)
		}
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.Entry().Info("registry scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	done := c.Stop().Done()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Entry().Info("registry scheduler stopped")
	return nil
}

// RunOnce executes one task synchronously with the scheduler's timeout.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	task, ok := s.service.TaskByName(name)
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	return s.run(ctx, task)
}

func (s *Scheduler) run(ctx context.Context, task Task) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	runID := uuid.NewString()
	entry := s.log.WithField("task", task.Name).WithField("run_id", runID)
	start := time.Now()

	err := task.Run(ctx)
	duration := time.Since(start)
	metrics.RecordTaskRun(task.Name, duration, err == nil)

	if err != nil {
		entry.WithError(err).WithField("duration", duration.String()).Warn("sync task failed")
		return err
	}
	entry.WithField("duration", duration.String()).Debug("sync task completed")
	return nil
}

// cronLogger routes cron's internal logging through the service logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
