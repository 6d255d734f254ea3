// Package analysis submits a session's analysis to the backend and tracks
// its simulated progress until the backend answers.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qualys/piiflow/internal/backend"
	"github.com/qualys/piiflow/internal/models"
	"github.com/qualys/piiflow/internal/workflow"
)

var (
	ErrAlreadyRunning = errors.New("analysis already in progress")
	ErrNoRun          = errors.New("no analysis for session")
	ErrNoTables       = errors.New("no Excel files generated for table extraction")
	ErrNoData         = errors.New("invalid analysis result")
)

const (
	StatusStarting   = "Starting analysis..."
	StatusUploading  = "Uploading files..."
	StatusAnalyzing  = "Analyzing content..."
	StatusFinalizing = "Finalizing results..."
	StatusComplete   = "Analysis complete!"
	StatusFailed     = "Analysis failed"
	StatusCancelled  = "Analysis cancelled"
)

type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Analyzer submits an analysis request. backend.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req *backend.AnalysisRequest) (*models.AnalysisResult, error)
}

// Event describes a finished run.
type Event struct {
	SessionID   string
	RunID       string
	State       State
	ProcessType models.ProcessType
	Location    models.Location
	Files       int
	Message     string
	Duration    time.Duration
}

// Notifier is told about every run that succeeds or fails.
type Notifier interface {
	AnalysisFinished(ctx context.Context, e Event) error
}

type Config struct {
	// Estimate is how long a typical analysis takes.
	Estimate time.Duration
	Tick     time.Duration
	// Cap is the highest percentage shown before the backend answers.
	Cap float64
	// Timeout bounds one analysis request. Zero means no limit.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Estimate: 15 * time.Second,
		Tick:     100 * time.Millisecond,
		Cap:      90,
	}
}

// Progress is a snapshot of a run.
type Progress struct {
	RunID     string           `json:"run_id"`
	State     State            `json:"state"`
	Percent   float64          `json:"percent"`
	Status    string           `json:"status"`
	Files     []string         `json:"files"`
	StartedAt time.Time        `json:"started_at"`
	Notice    *workflow.Notice `json:"notice,omitempty"`
	Redirect  models.Step      `json:"redirect,omitempty"`
}

type run struct {
	id        string
	sessionID string
	files     []string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	state   State
	percent float64
	status  string
	notice  *workflow.Notice
}

// Runner owns the in-flight analysis of every session. At most one run per
// session is active; a newer run replaces the record of a finished one.
type Runner struct {
	analyzer Analyzer
	sessions *workflow.Manager
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	runs map[string]*run
}

type Option func(*Runner)

func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithConfig(cfg Config) Option {
	return func(r *Runner) {
		def := DefaultConfig()
		if cfg.Estimate <= 0 {
			cfg.Estimate = def.Estimate
		}
		if cfg.Tick <= 0 {
			cfg.Tick = def.Tick
		}
		if cfg.Cap <= 0 || cfg.Cap >= 100 {
			cfg.Cap = def.Cap
		}
		r.cfg = cfg
	}
}

func NewRunner(analyzer Analyzer, sessions *workflow.Manager, opts ...Option) *Runner {
	r := &Runner{
		analyzer: analyzer,
		sessions: sessions,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
		runs:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// increment is the progress added per tick so that Cap is reached after
// Estimate.
func (r *Runner) increment() float64 {
	ticks := float64(r.cfg.Estimate) / float64(r.cfg.Tick)
	if ticks < 1 {
		ticks = 1
	}
	return r.cfg.Cap / ticks
}

func statusAt(elapsed time.Duration) string {
	switch {
	case elapsed >= 10*time.Second:
		return StatusFinalizing
	case elapsed >= 5*time.Second:
		return StatusAnalyzing
	case elapsed >= time.Second:
		return StatusUploading
	}
	return StatusStarting
}

// Start validates the session, submits its analysis and returns at once.
func (r *Runner) Start(ctx context.Context, sessionID string) (Progress, error) {
	r.mu.Lock()
	if cur, ok := r.runs[sessionID]; ok && cur.state == StateRunning {
		r.mu.Unlock()
		return Progress{}, ErrAlreadyRunning
	}
	r.mu.Unlock()

	var req *backend.AnalysisRequest
	var files []string
	var pt models.ProcessType
	var loc models.Location
	_, err := r.sessions.Update(ctx, sessionID, func(s *workflow.Session) error {
		var err error
		req, err = s.Submission()
		if err != nil {
			var werr *workflow.Error
			if errors.As(err, &werr) && werr.Redirect != "" {
				s.Step = werr.Redirect
			}
			return err
		}
		files = s.FileNames()
		pt = s.ProcessType
		loc = s.Location
		s.StartAnalysis()
		return nil
	})
	if err != nil {
		return Progress{}, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if r.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), r.cfg.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	ru := &run{
		id:        uuid.NewString(),
		sessionID: sessionID,
		files:     files,
		startedAt: r.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRunning,
		status:    StatusStarting,
	}

	r.mu.Lock()
	if cur, ok := r.runs[sessionID]; ok && cur.state == StateRunning {
		r.mu.Unlock()
		cancel()
		return Progress{}, ErrAlreadyRunning
	}
	r.runs[sessionID] = ru
	p := r.snapshot(ru)
	r.mu.Unlock()

	r.logger.Info("analysis started",
		"session_id", sessionID,
		"run_id", ru.id,
		"process_type", pt,
		"location", loc,
		"files", len(files),
	)

	go r.tick(runCtx, ru)
	go r.execute(runCtx, ru, req, pt, loc)

	return p, nil
}

func (r *Runner) tick(ctx context.Context, ru *run) {
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()
	inc := r.increment()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ru.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if ru.state != StateRunning {
				r.mu.Unlock()
				return
			}
			ru.percent = min(ru.percent+inc, r.cfg.Cap)
			ru.status = statusAt(r.now().Sub(ru.startedAt))
			r.mu.Unlock()
		}
	}
}

func (r *Runner) execute(ctx context.Context, ru *run, req *backend.AnalysisRequest, pt models.ProcessType, loc models.Location) {
	defer close(ru.done)
	defer ru.cancel()

	res, err := r.analyzer.Analyze(ctx, req)
	if err == nil {
		err = checkResult(res, pt)
	}

	r.mu.Lock()
	if ru.state != StateRunning {
		r.mu.Unlock()
		r.logger.Info("discarding late analysis response", "session_id", ru.sessionID, "run_id", ru.id)
		return
	}
	if err != nil {
		ru.state = StateFailed
		ru.status = StatusFailed
		notice := workflow.NoticeFor(err)
		notice.Message = "Analysis failed: " + notice.Message
		notice.Redirect = models.StepUpload
		ru.notice = notice
	} else {
		ru.state = StateSucceeded
		ru.status = StatusComplete
		ru.percent = 100
		ru.notice = workflow.Success(StatusComplete)
		ru.notice.Redirect = models.StepResults
	}
	state := ru.state
	r.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, saveErr := r.sessions.Update(saveCtx, ru.sessionID, func(s *workflow.Session) error {
		if !r.current(ru) {
			return nil
		}
		if state == StateSucceeded {
			s.SetResult(res, ru.files)
			return nil
		}
		failed := res
		if failed == nil || failed.Succeeded() {
			failed = &models.AnalysisResult{Status: models.StatusError, Message: errorMessage(err)}
		}
		s.RecordFailure(failed, ru.files)
		return nil
	})
	if saveErr != nil {
		r.logger.Error("failed to save analysis outcome", "session_id", ru.sessionID, "run_id", ru.id, "error", saveErr)
	}

	duration := r.now().Sub(ru.startedAt)
	if err != nil {
		r.logger.Warn("analysis failed", "session_id", ru.sessionID, "run_id", ru.id, "duration", duration, "error", err)
	} else {
		r.logger.Info("analysis complete", "session_id", ru.sessionID, "run_id", ru.id, "duration", duration)
	}

	if r.notifier != nil {
		e := Event{
			SessionID:   ru.sessionID,
			RunID:       ru.id,
			State:       state,
			ProcessType: pt,
			Location:    loc,
			Files:       len(ru.files),
			Duration:    duration,
		}
		if err != nil {
			e.Message = errorMessage(err)
		}
		if nerr := r.notifier.AnalysisFinished(saveCtx, e); nerr != nil {
			r.logger.Warn("failed to send analysis notification", "run_id", ru.id, "error", nerr)
		}
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return workflow.NoticeFor(err).Message
}

// checkResult rejects responses that cannot be shown.
func checkResult(res *models.AnalysisResult, pt models.ProcessType) error {
	if res == nil {
		return ErrNoData
	}
	if !res.Succeeded() {
		msg := res.Message
		if msg == "" {
			msg = "Invalid analysis result"
		}
		return &backend.StatusError{Message: msg}
	}
	if pt == models.ProcessTablesExtraction {
		if len(res.CSVFilePaths) == 0 {
			return &workflow.Error{Err: ErrNoTables, Message: "No Excel files generated for table extraction"}
		}
		return nil
	}
	if res.Data == nil {
		return &workflow.Error{Err: ErrNoData, Message: "Invalid analysis result"}
	}
	return nil
}

func (r *Runner) current(ru *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[ru.sessionID] == ru
}

// Progress returns the latest run of a session.
func (r *Runner) Progress(sessionID string) (Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ru, ok := r.runs[sessionID]
	if !ok {
		return Progress{}, ErrNoRun
	}
	return r.snapshot(ru), nil
}

func (r *Runner) snapshot(ru *run) Progress {
	return Progress{
		RunID:     ru.id,
		State:     ru.state,
		Percent:   ru.percent,
		Status:    ru.status,
		Files:     append([]string(nil), ru.files...),
		StartedAt: ru.startedAt,
		Notice:    ru.notice,
		Redirect:  redirectFor(ru),
	}
}

func redirectFor(ru *run) models.Step {
	if ru.notice != nil {
		return ru.notice.Redirect
	}
	return ""
}

// Cancel aborts the session's running analysis and sends the session back
// to upload. A response arriving afterwards is dropped.
func (r *Runner) Cancel(ctx context.Context, sessionID string) (Progress, error) {
	r.mu.Lock()
	ru, ok := r.runs[sessionID]
	if !ok || ru.state != StateRunning {
		r.mu.Unlock()
		return Progress{}, ErrNoRun
	}
	ru.state = StateCancelled
	ru.status = StatusCancelled
	ru.notice = &workflow.Notice{Level: workflow.LevelInfo, Message: StatusCancelled, Redirect: models.StepUpload}
	ru.cancel()
	p := r.snapshot(ru)
	r.mu.Unlock()

	_, err := r.sessions.Update(ctx, sessionID, func(s *workflow.Session) error {
		if s.Step == models.StepAnalyze {
			s.ResetToUpload()
		}
		return nil
	})
	if err != nil {
		return p, fmt.Errorf("resetting session: %w", err)
	}

	r.logger.Info("analysis cancelled", "session_id", sessionID, "run_id", ru.id)
	return p, nil
}

// Forget drops the record of a session's run, cancelling it if needed.
func (r *Runner) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ru, ok := r.runs[sessionID]; ok {
		if ru.state == StateRunning {
			ru.state = StateCancelled
			ru.cancel()
		}
		delete(r.runs, sessionID)
	}
}

// Wait blocks until the session's current run has finished.
func (r *Runner) Wait(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	ru, ok := r.runs[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrNoRun
	}
	select {
	case <-ru.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running analysis.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ru := range r.runs {
		if ru.state == StateRunning {
			ru.state = StateCancelled
			ru.status = StatusCancelled
			ru.cancel()
		}
	}
}
