package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qualys/piiflow/internal/models"
	"github.com/qualys/piiflow/internal/reports"
	"github.com/qualys/piiflow/internal/results"
	"github.com/qualys/piiflow/internal/workflow"
)

func viewOf(sess *workflow.Session) *results.View {
	return results.Build(sess.Result, sess.ProcessType, sess.ResultFiles, sess.RowCategories)
}

func (s *Server) loadView(w http.ResponseWriter, r *http.Request) (*workflow.Session, *results.View, bool) {
	sess, err := s.sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err, nil)
		return nil, nil, false
	}
	return sess, viewOf(sess), true
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	_, view, ok := s.loadView(w, r)
	if !ok {
		return
	}
	respondJSONWithMeta(w, http.StatusOK, view, &apiMeta{Total: len(view.Rows) + len(view.Tables)})
}

func (s *Server) setRowCategory(w http.ResponseWriter, r *http.Request) {
	rowID, err := strconv.Atoi(chi.URLParam(r, "rowID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid row id")
		return
	}
	var req struct {
		Category string `json:"category"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		if sess.Result != nil && rowID > len(viewOf(sess).Rows) {
			return &workflow.Error{Err: workflow.ErrInvalidInput, Message: fmt.Sprintf("Unknown results row: %d", rowID)}
		}
		return sess.SetRowCategory(rowID, req.Category)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) exportResults(w http.ResponseWriter, r *http.Request) {
	format := reports.FormatCSV
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := reports.ParseFormat(strings.ToLower(q))
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		format = f
	}

	_, view, ok := s.loadView(w, r)
	if !ok {
		return
	}
	if view.Failed() {
		s.respondErr(w, r, &workflow.Error{Err: workflow.ErrMissingState, Message: view.Error, Redirect: models.StepUpload}, nil)
		return
	}
	if view.ProcessType != models.ProcessClassification {
		respondError(w, http.StatusBadRequest, "validation_error", "Only classification results can be exported")
		return
	}

	if format == reports.FormatCSV {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="analysis_results.csv"`)
		if err := s.reportGenerator.StreamCSV(w, view); err != nil {
			s.logger.Error("streaming csv export", "session_id", sessionID(r), "error", err)
		}
		return
	}

	report, err := s.reportGenerator.Generate(view, format, "")
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(report.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Data)
}

// markDocument asks the backend for a copy of an analysed file stamped with
// its classification.
func (s *Server) markDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"file_name"`
	}
	if err := decodeJSON(r, &req); err != nil || req.FileName == "" {
		badRequest(w)
		return
	}

	sess, view, ok := s.loadView(w, r)
	if !ok {
		return
	}
	if sess.Result == nil || view.Failed() {
		s.respondErr(w, r, &workflow.Error{Err: workflow.ErrMissingState, Message: "No analysis results available", Redirect: models.StepUpload}, nil)
		return
	}
	if !hasRow(view, req.FileName) {
		respondError(w, http.StatusBadRequest, "validation_error", "Unknown file: "+req.FileName)
		return
	}

	doc, err := s.backend.MarkDocument(r.Context(), req.FileName)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}

	respondNotice(w, http.StatusOK, map[string]interface{}{
		"file_name": doc.FileName,
		"action":    results.DocumentAction(doc.FileName),
		"url":       "/api/v1/session/results/files/" + doc.FileName,
	}, workflow.Success(doc.Message))
}

func hasRow(view *results.View, name string) bool {
	for _, row := range view.Rows {
		if row.FileName == name {
			return true
		}
	}
	return false
}

func (s *Server) viewTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	_, view, ok := s.loadView(w, r)
	if !ok {
		return
	}

	known := false
	for _, t := range view.Tables {
		if t.Name == name {
			known = true
			break
		}
	}
	if !known {
		respondError(w, http.StatusNotFound, "not_found", "Unknown spreadsheet: "+name)
		return
	}

	data, _, err := s.backend.DownloadFile(r.Context(), name)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	table, err := results.ParseTable(name, data)
	if errors.Is(err, results.ErrEmptyTable) {
		respondNotice(w, http.StatusOK, &results.Table{Name: name, Rows: [][]string{}}, workflow.Info("No data found in "+name))
		return
	}
	if err != nil {
		s.respondErr(w, r, &workflow.Error{Err: err, Message: "Failed to read " + name}, nil)
		return
	}
	respondJSON(w, http.StatusOK, table)
}

// downloadFile proxies a file produced by the backend. Viewable types are
// served inline.
func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		respondError(w, http.StatusBadRequest, "validation_error", "Invalid file name")
		return
	}

	data, _, err := s.backend.DownloadFile(r.Context(), name)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}

	disposition := "attachment"
	if results.DocumentAction(name) == results.ActionView {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", results.ContentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
