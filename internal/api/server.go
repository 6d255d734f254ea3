package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qualys/piiflow/internal/analysis"
	"github.com/qualys/piiflow/internal/auth"
	"github.com/qualys/piiflow/internal/backend"
	"github.com/qualys/piiflow/internal/categorize"
	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/config"
	"github.com/qualys/piiflow/internal/connectors"
	awsconnector "github.com/qualys/piiflow/internal/connectors/aws"
	azureconnector "github.com/qualys/piiflow/internal/connectors/azure"
	"github.com/qualys/piiflow/internal/notifications"
	"github.com/qualys/piiflow/internal/reports"
	"github.com/qualys/piiflow/internal/scheduler"
	"github.com/qualys/piiflow/internal/store"
	"github.com/qualys/piiflow/internal/workflow"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  store.Store
	http   *http.Server
	logger *slog.Logger

	sessions *workflow.Manager
	backend  *backend.Client
	listers  *connectors.Registry
	runner   *analysis.Runner

	// directListing is set when S3 and Azure are listed with the SDKs
	// instead of through the backend.
	directListing bool

	authService *auth.Service

	scheduler *scheduler.Scheduler

	reportGenerator *reports.Generator

	notificationService *notifications.Service
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore replaces the session store built from the configuration.
func WithStore(st store.Store) ServerOption {
	return func(s *Server) {
		s.store = st
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		st, err := newStore(cfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		s.store = st
	}

	s.sessions = workflow.NewManager(s.store,
		workflow.WithTTL(cfg.Session.TTL),
		workflow.WithSpoolDir(cfg.Session.SpoolDir),
		workflow.WithLogger(s.logger),
	)

	s.backend = backend.New(cfg.Backend.URL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithLogger(s.logger),
	)

	s.listers = connectors.BackendRegistry(s.backend)
	if cfg.Listing.Mode == config.ListingDirect {
		s.directListing = true
		s.listers.Register(awsconnector.New(awsconnector.Config{
			Region:         cfg.AWS.Region,
			Endpoint:       cfg.AWS.Endpoint,
			MaxFiles:       cfg.Listing.MaxFiles,
			VerifyIdentity: cfg.AWS.VerifyIdentity,
		}))
		s.listers.Register(azureconnector.New(azureconnector.Config{
			ServiceURL: cfg.Azure.ServiceURL,
			MaxFiles:   cfg.Listing.MaxFiles,
		}))
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		generated, err := auth.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		secret = generated
		s.logger.Warn("auth.jwt_secret not set; using a random secret, tokens will not survive a restart")
	}
	authService, err := auth.NewService(auth.Config{
		JWTSecret:    secret,
		TokenExpiry:  cfg.Auth.TokenExpiry,
		SecureCookie: cfg.Auth.SecureCookie,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing auth: %w", err)
	}
	s.authService = authService

	s.notificationService = notifications.NewService(notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL:   cfg.Notifications.Slack.WebhookURL,
			Channel:      cfg.Notifications.Slack.Channel,
			Username:     cfg.Notifications.Slack.Username,
			IconEmoji:    cfg.Notifications.Slack.IconEmoji,
			Enabled:      cfg.Notifications.Slack.Enabled,
			OnlyFailures: cfg.Notifications.Slack.OnlyFailures,
		},
	}, s.logger)

	runnerOpts := []analysis.Option{
		analysis.WithConfig(analysis.Config{
			Estimate: cfg.Analysis.Estimate,
			Tick:     cfg.Analysis.Tick,
			Cap:      cfg.Analysis.Cap,
			Timeout:  cfg.Analysis.Timeout,
		}),
		analysis.WithLogger(s.logger),
	}
	if s.notificationService.Enabled() {
		runnerOpts = append(runnerOpts, analysis.WithNotifier(s.notificationService))
	}
	s.runner = analysis.NewRunner(s.backend, s.sessions, runnerOpts...)

	s.reportGenerator = reports.NewGenerator()

	s.scheduler = scheduler.NewScheduler(s.logger)
	if err := s.setupJobs(); err != nil {
		return nil, err
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func newStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	var st store.Store
	switch cfg.Session.Store {
	case config.StoreRedis:
		rs, err := store.NewRedis(store.RedisConfig{
			Addr:      cfg.Redis.Addr(),
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		st = rs
	default:
		st = store.NewMemory()
	}

	if cfg.Session.EncryptionKey == "" {
		if cfg.Session.Store == config.StoreRedis {
			logger.Warn("session.encryption_key not set; cloud credentials are stored unencrypted in redis")
		}
		return st, nil
	}
	sealed, err := store.NewSealed(st, cfg.Session.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

func (s *Server) setupJobs() error {
	handlers := &scheduler.DefaultHandlers{
		SweepUploadsFunc: s.sessions.SweepSpool,
	}
	if sw, ok := s.store.(store.Sweeper); ok {
		handlers.SweepSessionsFunc = func(ctx context.Context) (int, error) {
			return sw.Sweep(time.Now()), nil
		}
	}
	handlers.Register(s.scheduler)

	jobs := []*scheduler.Job{
		{ID: "sweep-sessions", Name: "Expire idle sessions", JobType: scheduler.JobTypeSweepSessions},
		{ID: "sweep-uploads", Name: "Remove orphaned uploads", JobType: scheduler.JobTypeSweepUploads},
	}
	for _, job := range jobs {
		job.Schedule = s.cfg.Session.SweepSchedule
		job.Enabled = true
		if job.JobType == scheduler.JobTypeSweepSessions && handlers.SweepSessionsFunc == nil {
			job.Enabled = false
		}
		if err := s.scheduler.AddJob(job); err != nil {
			return fmt.Errorf("scheduling %s: %w", job.ID, err)
		}
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/entities", s.getEntities)
		r.Get("/providers/{provider}/fields", s.getProviderFields)

		if s.cfg.Auth.AdminToken != "" {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/", s.listJobs)
				r.Get("/{jobID}", s.getJob)
				r.Post("/{jobID}/run", s.runJobNow)
			})
		}

		r.Route("/session", func(r chi.Router) {
			r.Post("/", s.createSession)

			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)

				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)

				r.Put("/process-type", s.setProcessType)
				r.Put("/location", s.setLocation)
				r.Put("/provider", s.setProvider)
				r.Post("/files", s.uploadFiles)
				r.Post("/next", s.next)

				r.Put("/cloud/config", s.setCloudConfig)
				r.Post("/cloud/files", s.listCloudFiles)
				r.Put("/cloud/selection", s.selectCloudFiles)
				r.Post("/cloud/selection/{fileID}/toggle", s.toggleCloudFile)

				r.Get("/google/status", s.googleStatus)
				r.Post("/google/authorize", s.googleAuthorize)
				r.Put("/google/folder", s.googleSelectFolder)

				r.Put("/attributes/{attributeID}", s.setAttribute)
				r.Post("/attributes/toggle-all", s.toggleAll)
				r.Put("/country", s.setCountry)
				r.Put("/prompt", s.setPrompt)

				r.Get("/categories", s.getCategories)
				r.Post("/categories/move", s.moveEntity)

				r.Post("/analysis", s.startAnalysis)
				r.Get("/analysis", s.getProgress)
				r.Delete("/analysis", s.cancelAnalysis)

				r.Get("/results", s.getResults)
				r.Put("/results/rows/{rowID}/category", s.setRowCategory)
				r.Get("/results/export", s.exportResults)
				r.Post("/results/mark", s.markDocument)
				r.Get("/results/tables/{name}", s.viewTable)
				r.Get("/results/files/{name}", s.downloadFile)
			})
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	s.scheduler.Start()

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr, "backend", s.backend.BaseURL())
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.http.Shutdown(shutdownCtx)
		s.close()
		return err
	}
}

func (s *Server) close() {
	<-s.scheduler.Stop().Done()
	s.runner.Shutdown()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
}

type apiResponse struct {
	Success bool             `json:"success"`
	Data    interface{}      `json:"data,omitempty"`
	Error   *apiError        `json:"error,omitempty"`
	Meta    *apiMeta         `json:"meta,omitempty"`
	Notice  *workflow.Notice `json:"notice,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total int `json:"total,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	respondNotice(w, status, data, nil)
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

// respondNotice adds a user-facing notice to a successful response.
func respondNotice(w http.ResponseWriter, status int, data interface{}, notice *workflow.Notice) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Notice:  notice,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

// respondErr maps a domain error to a status and code, and attaches the
// notice telling the client where to go next. data, when set, carries the
// state after the failure.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}

	notice := workflow.NoticeFor(err)
	if status == http.StatusInternalServerError {
		notice.Message = "Internal server error"
	}
	writeErr(w, status, code, notice, data)
}

func writeErr(w http.ResponseWriter, status int, code string, notice *workflow.Notice, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Data:    data,
		Error:   &apiError{Code: code, Message: notice.Message},
		Notice:  notice,
	})
}

func classify(err error) (int, string) {
	var verr *workflow.Error
	var statusErr *backend.StatusError
	switch {
	case errors.Is(err, workflow.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, analysis.ErrNoRun):
		return http.StatusNotFound, "no_analysis"
	case errors.Is(err, analysis.ErrAlreadyRunning):
		return http.StatusConflict, "analysis_running"
	case errors.Is(err, workflow.ErrInvalidCredentials):
		return http.StatusUnprocessableEntity, "invalid_credentials"
	case errors.Is(err, workflow.ErrInvalidInput),
		errors.Is(err, cloudconfig.ErrInvalid),
		errors.Is(err, categorize.ErrUnknownCategory),
		errors.Is(err, connectors.ErrUnsupportedProvider):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, categorize.ErrNotSelected):
		return http.StatusUnprocessableEntity, "not_selected"
	case errors.As(err, &verr), errors.Is(err, connectors.ErrNoFolder):
		return http.StatusUnprocessableEntity, "workflow_error"
	case errors.As(err, &statusErr):
		return http.StatusBadGateway, "backend_error"
	case errors.Is(err, backend.ErrTransport):
		return http.StatusBadGateway, "backend_unavailable"
	case errors.Is(err, backend.ErrMalformedPayload):
		return http.StatusBadGateway, "backend_malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "Session store not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
