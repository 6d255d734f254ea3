package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qualys/piiflow/internal/scheduler"
)

const nextRunsShown = 3

type jobView struct {
	scheduler.Job
	NextRuns      []time.Time             `json:"next_runs"`
	LastExecution *scheduler.JobExecution `json:"last_execution,omitempty"`
}

func (s *Server) newJobView(job scheduler.Job) jobView {
	v := jobView{Job: job, NextRuns: s.scheduler.GetNextRuns(job.ID, nextRunsShown)}
	if v.NextRuns == nil {
		v.NextRuns = []time.Time{}
	}
	if exec, ok := s.scheduler.LastExecution(job.ID); ok {
		v.LastExecution = exec
	}
	return v
}

// requireAdmin checks the bearer token against auth.admin_token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	want := []byte(s.cfg.Auth.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized", "Admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.scheduler.Jobs()
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, s.newJobView(job))
	}
	respondJSONWithMeta(w, http.StatusOK, views, &apiMeta{Total: len(views)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	for _, job := range s.scheduler.Jobs() {
		if job.ID == id {
			respondJSON(w, http.StatusOK, s.newJobView(job))
			return
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "Job not found")
}

func (s *Server) runJobNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	exec, err := s.scheduler.RunJobNow(r.Context(), id)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "Job not found")
		return
	}
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}

	s.logger.Info("job run on demand", "job_id", id, "status", exec.Status, "removed", exec.Removed)
	respondJSON(w, http.StatusOK, exec)
}
