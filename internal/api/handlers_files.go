package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qualys/piiflow/internal/backend"
	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/connectors"
	"github.com/qualys/piiflow/internal/models"
	"github.com/qualys/piiflow/internal/workflow"
)

const multipartMemory = 32 << 20

func (s *Server) uploadFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	if sess.Location != models.LocationLocal {
		s.respondErr(w, r, &workflow.Error{
			Err:      workflow.ErrInvalidInput,
			Message:  "Switch to local processing to upload files",
			Redirect: models.StepUpload,
		}, nil)
		return
	}

	if s.cfg.Server.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "too_large", "Upload exceeds the size limit")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "Expected a multipart form with files")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.respondErr(w, r, &workflow.Error{
			Err:      workflow.ErrNoFiles,
			Message:  "Please upload at least one file",
			Redirect: models.StepUpload,
		}, nil)
		return
	}

	spooled := make([]models.LocalFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.sessions.Discard(spooled)
			s.respondErr(w, r, fmt.Errorf("opening %s: %w", fh.Filename, err), nil)
			return
		}
		lf, err := s.sessions.Spool(id, fh.Filename, f)
		f.Close()
		if err != nil {
			s.sessions.Discard(spooled)
			s.respondErr(w, r, err, nil)
			return
		}
		spooled = append(spooled, lf)
	}

	uploads := make([]backend.Upload, len(spooled))
	for i, f := range spooled {
		uploads[i] = backend.Upload{Name: f.Name, Path: f.Path}
	}
	if _, err := s.backend.InitializeUpload(ctx); err != nil {
		s.sessions.Discard(spooled)
		s.uploadFailed(w, r, err)
		return
	}
	if _, err := s.backend.UploadFiles(ctx, uploads); err != nil {
		s.sessions.Discard(spooled)
		s.uploadFailed(w, r, err)
		return
	}

	var dropped []models.LocalFile
	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		var err error
		dropped, err = sess.SetLocalFiles(spooled)
		return err
	})
	if !ok {
		s.sessions.Discard(spooled)
		return
	}
	s.sessions.Discard(dropped)

	s.logger.Info("files uploaded", "session_id", id, "files", len(spooled))
	respondNotice(w, http.StatusOK, newSessionView(sess),
		workflow.Success(fmt.Sprintf("%d file(s) uploaded successfully", len(spooled))))
}

// uploadFailed clears the session's files after the backend refused them.
func (s *Server) uploadFailed(w http.ResponseWriter, r *http.Request, cause error) {
	var dropped []models.LocalFile
	sess, err := s.sessions.Update(r.Context(), sessionID(r), func(sess *workflow.Session) error {
		var err error
		dropped, err = sess.SetLocalFiles(nil)
		return err
	})
	s.sessions.Discard(dropped)

	var data interface{}
	if err == nil {
		data = newSessionView(sess)
	}
	s.logger.Warn("file upload failed", "session_id", sessionID(r), "error", cause)

	status, code := classify(cause)
	notice := workflow.NoticeFor(cause)
	notice.Message = "File upload failed: " + notice.Message
	notice.Redirect = models.StepUpload
	writeErr(w, status, code, notice, data)
}

func (s *Server) setCloudConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config models.CloudConfig `json:"config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		sess.SetCloudConfig(req.Config)
		return nil
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

// listCloudFiles validates the stored credentials and lists the provider's
// files. A config in the body replaces the stored one first.
func (s *Server) listCloudFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config models.CloudConfig `json:"config"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w)
			return
		}
	}

	var provider models.Provider
	var cfg models.CloudConfig
	_, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		if sess.Location != models.LocationCloud {
			return &workflow.Error{Err: workflow.ErrInvalidInput, Message: "Switch to cloud processing to list files", Redirect: models.StepUpload}
		}
		if req.Config != nil {
			sess.SetCloudConfig(req.Config)
		}
		if sess.Provider == models.ProviderGoogle {
			if !sess.Drive.Configured {
				return &workflow.Error{
					Err:      workflow.ErrInvalidCredentials,
					Message:  "Google Drive is not authenticated. Please configure first.",
					Redirect: models.StepCloudConfig,
				}
			}
		} else if err := sess.ValidateCloudConfig(); err != nil {
			return err
		}
		provider = sess.Provider
		cfg = sess.CloudConfig.Clone()
		return nil
	})
	if !ok {
		return
	}

	s.listInto(w, r, provider, cfg)
}

// listInto lists the provider's files and records them when the session
// still targets the same provider.
func (s *Server) listInto(w http.ResponseWriter, r *http.Request, provider models.Provider, cfg models.CloudConfig) {
	lister, err := s.listers.Get(provider)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	files, err := lister.ListFiles(r.Context(), cfg)
	if err != nil {
		s.logger.Warn("listing cloud files failed", "session_id", sessionID(r), "provider", provider, "error", err)
		s.respondErr(w, r, err, nil)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		if sess.Provider != provider {
			return &workflow.Error{Err: workflow.ErrMissingState, Message: "The cloud provider changed while listing files"}
		}
		return sess.SetAvailableFiles(files)
	})
	if !ok {
		return
	}

	notice := workflow.Success(fmt.Sprintf("Found %d file(s) in %s", len(files), provider.DisplayName()))
	if len(files) == 0 {
		notice = workflow.Info("No files found")
	}
	respondNotice(w, http.StatusOK, newSessionView(sess), notice)
}

func (s *Server) selectCloudFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		return sess.SelectCloudFiles(req.IDs)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) toggleCloudFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileID")
	var selected bool
	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		var err error
		selected, err = sess.ToggleCloudFile(id)
		return err
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"selected": selected,
		"session":  newSessionView(sess),
	})
}

func (s *Server) googleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireDrive(w, r) {
		return
	}
	status, err := s.backend.ConnectGoogleDrive(r.Context())
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		if err := checkDrive(sess); err != nil {
			return err
		}
		sess.SetDriveStatus(status.Configured, status.AuthURL, status.Folders)
		return nil
	})
	if !ok {
		return
	}

	var notice *workflow.Notice
	if status.Message != "" {
		notice = workflow.Info(status.Message)
	}
	respondNotice(w, http.StatusOK, newSessionView(sess), notice)
}

func (s *Server) googleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}
	if !s.requireDrive(w, r) {
		return
	}

	cfg := models.CloudConfig{cloudconfig.FieldAuthCode: req.Code}
	if err := cloudconfig.Validate(models.ProviderGoogle, cfg); err != nil {
		s.respondErr(w, r, err, nil)
		return
	}

	msg, err := s.backend.AuthorizeGoogleDrive(r.Context(), req.Code)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	status, err := s.backend.ConnectGoogleDrive(r.Context())
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		if err := checkDrive(sess); err != nil {
			return err
		}
		sess.SetCloudConfig(cfg)
		sess.SetDriveStatus(status.Configured, status.AuthURL, status.Folders)
		return nil
	})
	if !ok {
		return
	}

	if msg == "" {
		msg = "Google Drive authorized"
	}
	respondNotice(w, http.StatusOK, newSessionView(sess), workflow.Success(msg))
}

// checkDrive fails unless the session processes files from Google Drive.
func checkDrive(sess *workflow.Session) error {
	if err := sess.RequireCloud(); err != nil {
		return err
	}
	if sess.Provider != models.ProviderGoogle {
		return &workflow.Error{Err: workflow.ErrInvalidInput, Message: "Select Google Drive before connecting"}
	}
	return nil
}

// requireDrive rejects Drive requests before the backend is contacted.
func (s *Server) requireDrive(w http.ResponseWriter, r *http.Request) bool {
	sess, err := s.sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err, nil)
		return false
	}
	if err := checkDrive(sess); err != nil {
		s.respondErr(w, r, err, newSessionView(sess))
		return false
	}
	return true
}

// googleSelectFolder picks a Drive folder and lists its files.
func (s *Server) googleSelectFolder(w http.ResponseWriter, r *http.Request) {
	var req models.Folder
	if err := decodeJSON(r, &req); err != nil || (req.ID == "" && req.Name == "") {
		badRequest(w)
		return
	}
	if !s.requireDrive(w, r) {
		return
	}

	var cfg models.CloudConfig
	_, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		folder := req
		for _, f := range sess.Drive.Folders {
			if (req.ID != "" && f.ID == req.ID) || (req.ID == "" && f.Name == req.Name) {
				folder = f
				break
			}
		}
		if err := sess.SelectFolder(folder); err != nil {
			return err
		}
		cfg = sess.CloudConfig.Clone()
		return nil
	})
	if !ok {
		return
	}

	s.listInto(w, r, models.ProviderGoogle, cfg)
}

// next stages the selected files with the backend and moves on to entity
// configuration.
func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, err := s.sessions.Get(ctx, sessionID(r))
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	if err := sess.CheckFiles(); err != nil {
		s.respondErr(w, r, err, newSessionView(sess))
		return
	}

	var staged string
	if sess.Location == models.LocationCloud {
		staged, err = s.stageCloudFiles(ctx, sess)
		if err != nil {
			s.logger.Warn("staging cloud files failed", "session_id", sess.ID, "provider", sess.Provider, "error", err)
			s.respondErr(w, r, err, newSessionView(sess))
			return
		}
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		return sess.Advance()
	})
	if !ok {
		return
	}

	var notice *workflow.Notice
	if staged != "" {
		notice = workflow.Success(staged)
	}
	respondNotice(w, http.StatusOK, newSessionView(sess), notice)
}

// stageCloudFiles hands the selected cloud files to the backend, which
// copies them for analysis.
func (s *Server) stageCloudFiles(ctx context.Context, sess *workflow.Session) (string, error) {
	names := sess.FileNames()
	switch sess.Provider {
	case models.ProviderAWS, models.ProviderAzure:
		if err := s.registerListing(ctx, sess, names); err != nil {
			return "", err
		}
		if sess.Provider == models.ProviderAWS {
			return s.backend.SelectAWSFiles(ctx, names)
		}
		return s.backend.SelectAzureFiles(ctx, names)
	case models.ProviderGoogle:
		return s.backend.StreamGoogleDriveFiles(ctx, sess.CloudFiles)
	}
	return "", fmt.Errorf("%w: %s", connectors.ErrUnsupportedProvider, sess.Provider)
}

// registerListing lists the bucket through the backend when it was listed
// with the SDKs. Staging reads the credentials and listing the backend kept
// from its own fetch, so every selected file must be visible there too.
func (s *Server) registerListing(ctx context.Context, sess *workflow.Session, names []string) error {
	if !s.directListing {
		return nil
	}
	listed, err := connectors.NewBackendLister(s.backend, sess.Provider).ListFiles(ctx, sess.CloudConfig)
	if err != nil {
		return err
	}

	visible := make(map[string]bool, len(listed))
	for _, f := range listed {
		visible[f.Name] = true
	}
	var missing []string
	for _, name := range names {
		if !visible[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &workflow.Error{
			Err:      workflow.ErrMissingState,
			Message:  fmt.Sprintf("The analysis service cannot access %s. Please refresh the file list.", strings.Join(missing, ", ")),
			Redirect: models.StepCloudConfig,
		}
	}
	return nil
}
