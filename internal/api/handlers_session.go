package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qualys/piiflow/internal/auth"
	"github.com/qualys/piiflow/internal/categorize"
	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/entities"
	"github.com/qualys/piiflow/internal/models"
	"github.com/qualys/piiflow/internal/workflow"
)

var errBadBody = errors.New("invalid request body")

type localFileView struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// sessionView is the session as shown to the client: spool paths are
// hidden and credentials are masked.
type sessionView struct {
	ID             string              `json:"id"`
	Step           models.Step         `json:"step"`
	ProcessType    models.ProcessType  `json:"process_type"`
	Location       models.Location     `json:"location"`
	Provider       models.Provider     `json:"provider"`
	LocalFiles     []localFileView     `json:"local_files"`
	CloudFiles     []models.FileRef    `json:"cloud_files"`
	AvailableFiles []models.FileRef    `json:"available_files"`
	CloudConfig    map[string]string   `json:"cloud_config"`
	Drive          workflow.DriveState `json:"drive"`
	Country        string              `json:"country,omitempty"`
	UserPrompt     string              `json:"user_prompt,omitempty"`
	Selected       []string            `json:"selected"`
	AllSelected    bool                `json:"all_selected"`
	Entities       []string            `json:"entities"`
	HasResult      bool                `json:"has_result"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func newSessionView(s *workflow.Session) *sessionView {
	v := &sessionView{
		ID:             s.ID,
		Step:           s.Step,
		ProcessType:    s.ProcessType,
		Location:       s.Location,
		Provider:       s.Provider,
		LocalFiles:     make([]localFileView, 0, len(s.LocalFiles)),
		CloudFiles:     nonNil(s.CloudFiles),
		AvailableFiles: nonNil(s.AvailableFiles),
		CloudConfig:    cloudconfig.Redact(s.Provider, s.CloudConfig),
		Drive:          s.Drive,
		Country:        s.Country,
		UserPrompt:     s.UserPrompt,
		Selected:       []string{},
		AllSelected:    s.AllSelected(),
		Entities:       nonNil(s.Entities()),
		HasResult:      s.Result != nil,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	for _, f := range s.LocalFiles {
		v.LocalFiles = append(v.LocalFiles, localFileView{Name: f.Name, Size: f.Size, UploadedAt: f.UploadedAt})
	}
	for _, e := range entities.All() {
		if s.Selected[e.ID] {
			v.Selected = append(v.Selected, e.ID)
		}
	}
	return v
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func sessionID(r *http.Request) string {
	id, _ := auth.SessionIDFromContext(r.Context())
	return id
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func badRequest(w http.ResponseWriter) {
	respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
}

// mutate applies fn to the caller's session. On failure it writes the error
// response, carrying the saved session so the client can follow a redirect.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(*workflow.Session) error) (*workflow.Session, bool) {
	sess, err := s.sessions.Update(r.Context(), sessionID(r), fn)
	if err != nil {
		var data interface{}
		if sess != nil {
			data = newSessionView(sess)
		}
		s.respondErr(w, r, err, data)
		return nil, false
	}
	return sess, true
}

func (s *Server) getEntities(w http.ResponseWriter, r *http.Request) {
	type country struct {
		Name     string            `json:"name"`
		Entities []entities.Entity `json:"entities"`
	}
	countries := make([]country, 0, len(entities.Countries()))
	for _, name := range entities.Countries() {
		list, _ := entities.Country(name)
		countries = append(countries, country{Name: name, Entities: list})
	}

	categories := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		categories[i] = string(c)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"all_id":     entities.AllID,
		"global":     entities.Global(),
		"countries":  countries,
		"categories": categories,
	})
}

func (s *Server) getProviderFields(w http.ResponseWriter, r *http.Request) {
	p := models.Provider(chi.URLParam(r, "provider"))
	if !p.Valid() {
		respondError(w, http.StatusBadRequest, "validation_error", "Unsupported cloud provider: "+string(p))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider": p,
		"name":     p.DisplayName(),
		"fields":   cloudconfig.Fields(p),
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}

	token, err := s.authService.IssueToken(sess.ID)
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	s.authService.SetCookie(w, token)

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"token":   token,
		"session": newSessionView(sess),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	s.runner.Forget(id)
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	s.authService.ClearCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) setProcessType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProcessType models.ProcessType `json:"process_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		return sess.SetProcessType(req.ProcessType)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) setLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Location models.Location `json:"location"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	var dropped []models.LocalFile
	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		var err error
		dropped, err = sess.SetLocation(req.Location)
		return err
	})
	if !ok {
		return
	}
	s.sessions.Discard(dropped)
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) setProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider models.Provider `json:"provider"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		return sess.SetProvider(req.Provider)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) setAttribute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Selected bool `json:"selected"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	id := chi.URLParam(r, "attributeID")
	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		return sess.SetAttribute(id, req.Selected)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) toggleAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		sess.ToggleAll()
		return nil
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) setCountry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Country string `json:"country"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		return sess.SetCountry(req.Country)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) setPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		sess.SetUserPrompt(req.Prompt)
		return nil
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newSessionView(sess))
}

type categoryEntry struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

func categoriesOf(sess *workflow.Session) map[string][]categoryEntry {
	groups := sess.Groups()
	out := make(map[string][]categoryEntry, len(groups))
	for _, cat := range models.Categories {
		codes := groups[cat]
		entries := make([]categoryEntry, 0, len(codes))
		for _, code := range codes {
			entries = append(entries, categoryEntry{Code: code, Label: entities.Label(code)})
		}
		out[string(cat)] = entries
	}
	return out
}

func (s *Server) getCategories(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"groups":  categoriesOf(sess),
		"mapping": sess.Mapping(),
	})
}

func (s *Server) moveEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string `json:"code"`
		Category string `json:"category"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w)
		return
	}

	sess, ok := s.mutate(w, r, func(sess *workflow.Session) error {
		cat, valid := models.ParseCategory(req.Category)
		if !valid {
			return fmt.Errorf("%w: %q", categorize.ErrUnknownCategory, req.Category)
		}
		return sess.MoveEntity(req.Code, cat)
	})
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"groups":  categoriesOf(sess),
		"mapping": sess.Mapping(),
	})
}
