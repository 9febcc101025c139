package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"levtrader/internal/leverage"
	"levtrader/internal/logger"
	"levtrader/internal/store"
)

const defaultTimezone = "Europe/London"

// LifecycleRunner is the slice of the leveraged manager tasks dispatch to.
type LifecycleRunner interface {
	RunCycle(ctx context.Context, sourceTaskID string) (*leverage.CycleReport, error)
	Scan(ctx context.Context, sourceTaskID string) (*leverage.ScanReport, error)
	MonitorOpenTrades(ctx context.Context) (*leverage.MonitorReport, error)
}

// Service owns scheduled-task persistence, due-task execution and the run
// artifacts. Task runs are isolated: one task's failure is recorded and never
// stops the pass.
type Service struct {
	tasks       store.TaskStore
	runner      LifecycleRunner
	artifactDir string
	nowFn       func() time.Time
}

func NewService(tasks store.TaskStore, runner LifecycleRunner, artifactDir string) *Service {
	return &Service{
		tasks:       tasks,
		runner:      runner,
		artifactDir: artifactDir,
		nowFn:       time.Now,
	}
}

// CreateTask validates the cron expression, computes the first fire time and
// persists the task.
func (s *Service) CreateTask(ctx context.Context, task *store.ScheduledTask) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.Timezone == "" {
		task.Timezone = defaultTimezone
	}
	if task.Kind == "" {
		task.Kind = store.TaskGeneric
	}
	next, err := NextRunTime(task.CronExpr, task.Timezone, s.nowFn())
	if err != nil {
		return err
	}
	task.NextRunAt = &next
	if task.LastStatus == "" {
		task.LastStatus = store.TaskIdle
	}
	return s.tasks.CreateTask(ctx, task)
}

// UpdateTask re-validates the schedule and recomputes the next fire time.
func (s *Service) UpdateTask(ctx context.Context, task *store.ScheduledTask) error {
	next, err := NextRunTime(task.CronExpr, task.Timezone, s.nowFn())
	if err != nil {
		return err
	}
	task.NextRunAt = &next
	return s.tasks.SaveTask(ctx, task)
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.tasks.DeleteTask(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context) ([]store.ScheduledTask, error) {
	return s.tasks.ListTasks(ctx)
}

func (s *Service) GetTask(ctx context.Context, id string) (*store.ScheduledTask, error) {
	return s.tasks.GetTask(ctx, id)
}

func (s *Service) ListTaskLogs(ctx context.Context, taskID string, limit int) ([]store.TaskLog, error) {
	return s.tasks.ListTaskLogs(ctx, taskID, limit)
}

// SeedDefaultTasks creates the stock weekday schedule on first start.
// Existing tasks with the same names are left alone.
func (s *Service) SeedDefaultTasks(ctx context.Context) error {
	defaults := []store.ScheduledTask{
		{
			Name:     "leveraged-morning-cycle",
			CronExpr: "30 7 * * 1-5",
			Timezone: defaultTimezone,
			Kind:     store.TaskLeveragedCycle,
			Prompt:   "morning monitor + scan before the open",
			Enabled:  true,
		},
		{
			Name:     "leveraged-midday-monitor",
			CronExpr: "0 12 * * 1-5",
			Timezone: defaultTimezone,
			Kind:     store.TaskLeveragedMonitor,
			Prompt:   "midday exit check",
			Enabled:  true,
		},
		{
			Name:     "leveraged-eod-close",
			CronExpr: "30 15 * * 1-5",
			Timezone: defaultTimezone,
			Kind:     store.TaskLeveragedMonitor,
			Prompt:   "end-of-day close sweep",
			Enabled:  true,
		},
	}
	for i := range defaults {
		task := defaults[i]
		existing, err := s.tasks.GetTaskByName(ctx, task.Name)
		if err == nil && existing != nil {
			continue
		}
		if err := s.CreateTask(ctx, &task); err != nil {
			return fmt.Errorf("seeding task %s: %w", task.Name, err)
		}
		logger.Infof("seeded scheduled task %s (%s %s)", task.Name, task.CronExpr, task.Timezone)
	}
	return nil
}

// RunDueTasks executes every enabled task whose next fire time has passed
// (or was never computed). It returns the number of tasks run.
func (s *Service) RunDueTasks(ctx context.Context) (int, error) {
	now := s.nowFn().UTC()
	due, err := s.tasks.ListDueTasks(ctx, now)
	if err != nil {
		return 0, err
	}
	ran := 0
	for i := range due {
		task := due[i]
		if task.LastStatus == store.TaskRunning {
			continue
		}
		s.runTask(ctx, &task)
		ran++
	}
	return ran, nil
}

// RunTaskNow executes a single task out of band, regardless of schedule.
func (s *Service) RunTaskNow(ctx context.Context, id string) (*store.ScheduledTask, error) {
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.LastStatus == store.TaskRunning {
		return nil, fmt.Errorf("task %s is already running", task.Name)
	}
	s.runTask(ctx, task)
	return task, nil
}

// StartTaskBackground dispatches a task to a worker goroutine. The running
// guard means a task cannot be double-started while a run is in flight.
func (s *Service) StartTaskBackground(ctx context.Context, id string) (*store.ScheduledTask, error) {
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.LastStatus == store.TaskRunning {
		return nil, fmt.Errorf("task %s is already running", task.Name)
	}
	task.LastStatus = store.TaskRunning
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		s.runTask(bg, task)
	}()
	return task, nil
}

// runTask executes one task end to end: status bookkeeping, kind dispatch,
// artifact, log row and next-fire-time advance. Never returns an error; the
// outcome lives in the task row and its log.
func (s *Service) runTask(ctx context.Context, task *store.ScheduledTask) {
	started := s.nowFn().UTC()
	task.LastRunAt = &started
	task.LastStatus = store.TaskRunning
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		logger.Errorf("marking task %s running: %v", task.Name, err)
	}

	payload, message, runErr := s.dispatch(ctx, task)

	outputPath := ""
	if path, err := s.writeArtifact(task, started, payload, runErr); err != nil {
		logger.Warnf("writing artifact for task %s: %v", task.Name, err)
	} else {
		outputPath = path
	}

	status := store.TaskOK
	if runErr != nil {
		status = store.TaskError
		message = runErr.Error()
		task.FailureCount++
	}
	task.RunCount++
	task.LastStatus = status

	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	log := &store.TaskLog{
		TaskID:     task.ID,
		Status:     status,
		Message:    message,
		Payload:    raw,
		OutputPath: outputPath,
	}
	if err := s.tasks.AppendTaskLog(ctx, log); err != nil {
		logger.Errorf("appending log for task %s: %v", task.Name, err)
	}

	if next, err := NextRunTime(task.CronExpr, task.Timezone, started); err != nil {
		logger.Errorf("recomputing schedule for task %s: %v", task.Name, err)
		task.NextRunAt = nil
		task.Enabled = false
	} else {
		task.NextRunAt = &next
	}
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		logger.Errorf("finalizing task %s: %v", task.Name, err)
	}
}

func (s *Service) dispatch(ctx context.Context, task *store.ScheduledTask) (any, string, error) {
	switch task.Kind {
	case store.TaskLeveragedCycle:
		report, err := s.runner.RunCycle(ctx, task.ID)
		if err != nil {
			return nil, "", err
		}
		return report, fmt.Sprintf("cycle: %d positions checked, %d signals",
			len(report.Monitor.Positions), len(report.Scan.Signals)), nil
	case store.TaskLeveragedScan:
		report, err := s.runner.Scan(ctx, task.ID)
		if err != nil {
			return nil, "", err
		}
		return report, fmt.Sprintf("scan: %d signals", len(report.Signals)), nil
	case store.TaskLeveragedMonitor:
		report, err := s.runner.MonitorOpenTrades(ctx)
		if err != nil {
			return nil, "", err
		}
		return report, fmt.Sprintf("monitor: %d positions checked", len(report.Positions)), nil
	case store.TaskGeneric:
		// The copilot runtime that consumes these prompts is an external
		// collaborator; the run records the prompt so nothing is lost.
		return map[string]any{"prompt": task.Prompt}, "recorded prompt artifact", nil
	default:
		return nil, "", fmt.Errorf("unknown task kind %q", task.Kind)
	}
}
