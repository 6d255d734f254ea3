package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrJobNotFound = errors.New("job not found")

// Job represents a scheduled job
type Job struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"` // Cron expression
	JobType  JobType    `json:"job_type"`
	Enabled  bool       `json:"enabled"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// JobType defines the type of scheduled job
type JobType string

const (
	JobTypeSweepSessions JobType = "sweep_sessions"
	JobTypeSweepUploads  JobType = "sweep_uploads"
)

// JobExecution records one run of a job
type JobExecution struct {
	JobID     string          `json:"job_id"`
	Status    ExecutionStatus `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     string          `json:"error,omitempty"`
	Removed   int             `json:"removed"`
}

// ExecutionStatus represents job execution status
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// JobHandler executes a job and reports how many items it removed
type JobHandler func(ctx context.Context, job *Job) (int, error)

// Scheduler runs housekeeping jobs on cron schedules
type Scheduler struct {
	cron     *cron.Cron
	handlers map[JobType]JobHandler
	jobs     map[string]*Job
	entries  map[string]cron.EntryID
	last     map[string]*JobExecution
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		handlers: make(map[JobType]JobHandler),
		jobs:     make(map[string]*Job),
		entries:  make(map[string]cron.EntryID),
		last:     make(map[string]*JobExecution),
		logger:   logger,
	}
}

// RegisterHandler registers a handler for a job type
func (s *Scheduler) RegisterHandler(jobType JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	s.logger.Info("scheduler started", "jobs_count", n)
}

// Stop stops the scheduler and returns a context done when running jobs end
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// AddJob adds a job and schedules it when enabled
func (s *Scheduler) AddJob(job *Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if job.Enabled {
		return s.scheduleJob(job)
	}
	return nil
}

// Jobs returns a copy of every job, ordered by id
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// LastExecution returns the most recent run of a job
func (s *Scheduler) LastExecution(id string) (*JobExecution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.last[id]
	if !ok {
		return nil, false
	}
	cp := *exec
	return &cp, true
}

// RunJobNow runs a job immediately and waits for it
func (s *Scheduler) RunJobNow(ctx context.Context, id string) (*JobExecution, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	return s.executeJob(ctx, job), nil
}

// GetNextRuns returns the next N runs for a job
func (s *Scheduler) GetNextRuns(id string, count int) []time.Time {
	s.mu.RLock()
	entryID, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil
	}

	runs := make([]time.Time, 0, count)
	next := entry.Schedule.Next(time.Now())
	for i := 0; i < count; i++ {
		runs = append(runs, next)
		next = entry.Schedule.Next(next)
	}

	return runs
}

// scheduleJob adds a job to the cron scheduler
func (s *Scheduler) scheduleJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, job.ID)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.executeJob(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.entries[job.ID] = entryID

	nextRun := s.cron.Entry(entryID).Schedule.Next(time.Now())
	job.NextRun = &nextRun

	s.logger.Info("scheduled job",
		"job_id", job.ID,
		"job_name", job.Name,
		"schedule", job.Schedule,
		"next_run", nextRun)

	return nil
}

// executeJob executes a job
func (s *Scheduler) executeJob(ctx context.Context, job *Job) *JobExecution {
	startTime := time.Now()

	exec := &JobExecution{
		JobID:     job.ID,
		Status:    StatusRunning,
		StartedAt: startTime,
	}

	s.mu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.mu.RUnlock()

	if !ok {
		exec.Status = StatusFailed
		exec.Error = fmt.Sprintf("no handler registered for job type: %s", job.JobType)
		endTime := time.Now()
		exec.EndedAt = &endTime
		s.record(job, exec)
		return exec
	}

	removed, err := handler(ctx, job)
	endTime := time.Now()
	exec.EndedAt = &endTime
	exec.Removed = removed

	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		s.logger.Error("job execution failed",
			"job_id", job.ID,
			"job_name", job.Name,
			"error", err,
			"duration", endTime.Sub(startTime))
	} else {
		exec.Status = StatusCompleted
		s.logger.Info("job execution completed",
			"job_id", job.ID,
			"job_name", job.Name,
			"removed", removed,
			"duration", endTime.Sub(startTime))
	}

	s.record(job, exec)
	return exec
}

func (s *Scheduler) record(job *Job, exec *JobExecution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := exec.StartedAt
	job.LastRun = &started
	if entryID, ok := s.entries[job.ID]; ok {
		next := s.cron.Entry(entryID).Schedule.Next(time.Now())
		job.NextRun = &next
	}
	cp := *exec
	s.last[job.ID] = &cp
}

// DefaultHandlers wires the housekeeping functions to their job types
type DefaultHandlers struct {
	SweepSessionsFunc func(ctx context.Context) (int, error)
	SweepUploadsFunc  func(ctx context.Context) (int, error)
}

// Register registers default handlers with the scheduler
func (h *DefaultHandlers) Register(s *Scheduler) {
	if h.SweepSessionsFunc != nil {
		s.RegisterHandler(JobTypeSweepSessions, func(ctx context.Context, job *Job) (int, error) {
			return h.SweepSessionsFunc(ctx)
		})
	}

	if h.SweepUploadsFunc != nil {
		s.RegisterHandler(JobTypeSweepUploads, func(ctx context.Context, job *Job) (int, error) {
			return h.SweepUploadsFunc(ctx)
		})
	}
}
