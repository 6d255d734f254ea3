package api

import (
	"net/http"

	"github.com/qualys/piiflow/internal/workflow"
)

func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	progress, err := s.runner.Start(r.Context(), id)
	if err != nil {
		var data interface{}
		if sess, getErr := s.sessions.Get(r.Context(), id); getErr == nil {
			data = newSessionView(sess)
		}
		s.respondErr(w, r, err, data)
		return
	}
	respondJSON(w, http.StatusAccepted, progress)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.runner.Progress(sessionID(r))
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	respondNotice(w, http.StatusOK, progress, progress.Notice)
}

func (s *Server) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	progress, err := s.runner.Cancel(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	notice := progress.Notice
	if notice == nil {
		notice = workflow.Info("Analysis cancelled")
	}
	respondNotice(w, http.StatusOK, progress, notice)
}
