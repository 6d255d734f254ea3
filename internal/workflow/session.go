// Package workflow carries a user's selections across the steps of the
// classification wizard and decides what may be submitted.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qualys/piiflow/internal/categorize"
	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/entities"
	"github.com/qualys/piiflow/internal/models"
)

// DriveState is the Google Drive part of a session.
type DriveState struct {
	Configured     bool            `json:"configured"`
	AuthURL        string          `json:"auth_url,omitempty"`
	Folders        []models.Folder `json:"folders"`
	SelectedFolder *models.Folder  `json:"selected_folder,omitempty"`
}

// Session is the navigation state of one wizard run.
type Session struct {
	ID          string             `json:"id"`
	Step        models.Step        `json:"step"`
	ProcessType models.ProcessType `json:"process_type"`
	Location    models.Location    `json:"location"`
	Provider    models.Provider    `json:"provider"`

	LocalFiles     []models.LocalFile `json:"local_files"`
	CloudFiles     []models.FileRef   `json:"cloud_files"`
	AvailableFiles []models.FileRef   `json:"available_files"`
	CloudConfig    models.CloudConfig `json:"cloud_config"`
	Drive          DriveState         `json:"drive"`

	Selected   map[string]bool    `json:"selected"`
	Country    string             `json:"country,omitempty"`
	Overrides  categorize.Mapping `json:"overrides"`
	UserPrompt string             `json:"user_prompt,omitempty"`

	Result        *models.AnalysisResult `json:"result,omitempty"`
	ResultFiles   []string               `json:"result_files,omitempty"`
	RowCategories map[int]string         `json:"row_categories,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a session seeded with the wizard defaults.
func New() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          uuid.NewString(),
		Step:        models.StepUpload,
		ProcessType: models.ProcessClassification,
		Location:    models.LocationLocal,
		Provider:    models.ProviderAWS,
		CloudConfig: cloudconfig.Blank(models.ProviderAWS),
		Drive:       DriveState{Folders: []models.Folder{}},
		Selected:    entities.DefaultSelection(),
		Overrides:   categorize.Mapping{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetProcessType chooses between classification and table extraction.
func (s *Session) SetProcessType(pt models.ProcessType) error {
	if !pt.Valid() {
		return fail(ErrInvalidInput, "", "Unknown process type: %s", pt)
	}
	s.ProcessType = pt
	return nil
}

// SetLocation switches between local and cloud processing. Any change drops
// every file selection along with the cloud configuration. The dropped local
// files are returned so their spooled copies can be removed.
func (s *Session) SetLocation(loc models.Location) ([]models.LocalFile, error) {
	if !loc.Valid() {
		return nil, fail(ErrInvalidInput, "", "Unknown processing location: %s", loc)
	}
	if loc == s.Location {
		return nil, nil
	}

	dropped := s.LocalFiles
	s.Location = loc
	s.LocalFiles = nil
	s.resetCloud()
	return dropped, nil
}

// SetProvider switches the cloud provider, clearing credentials, file
// selections and Google Drive state.
func (s *Session) SetProvider(p models.Provider) error {
	if !p.Valid() {
		return fail(ErrInvalidInput, "", "Unsupported cloud provider: %s", p)
	}
	s.Provider = p
	s.resetCloud()
	return nil
}

func (s *Session) resetCloud() {
	s.CloudFiles = nil
	s.AvailableFiles = nil
	s.CloudConfig = cloudconfig.Blank(s.Provider)
	s.Drive = DriveState{Folders: []models.Folder{}}
}

// SetLocalFiles replaces the uploaded files and returns the ones replaced.
func (s *Session) SetLocalFiles(files []models.LocalFile) ([]models.LocalFile, error) {
	if s.Location != models.LocationLocal {
		return nil, fail(ErrInvalidInput, models.StepUpload, "Switch to local processing to upload files")
	}
	dropped := s.LocalFiles
	s.LocalFiles = files
	s.CloudFiles = nil
	return dropped, nil
}

// RequireCloud fails unless the session processes files from the cloud.
func (s *Session) RequireCloud() error {
	if s.Location != models.LocationCloud {
		return fail(ErrInvalidInput, models.StepUpload, "Switch to cloud processing to select cloud files")
	}
	return nil
}

// SetCloudConfig stores the fields the current provider understands.
func (s *Session) SetCloudConfig(cfg models.CloudConfig) {
	s.CloudConfig = cloudconfig.Normalize(s.Provider, cfg)
}

// ValidateCloudConfig checks the stored credentials of the current provider.
func (s *Session) ValidateCloudConfig() error {
	if err := cloudconfig.Validate(s.Provider, s.CloudConfig); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return nil
}

// SetAvailableFiles records a listing of the provider's files. Selected
// files no longer listed are dropped.
func (s *Session) SetAvailableFiles(files []models.FileRef) error {
	if err := s.RequireCloud(); err != nil {
		return err
	}
	s.AvailableFiles = files

	listed := make(map[string]bool, len(files))
	for _, f := range files {
		listed[f.ID] = true
	}
	kept := s.CloudFiles[:0]
	for _, f := range s.CloudFiles {
		if listed[f.ID] {
			kept = append(kept, f)
		}
	}
	s.CloudFiles = kept
	return nil
}

// ToggleCloudFile adds or removes one listed file from the selection.
func (s *Session) ToggleCloudFile(id string) (bool, error) {
	if err := s.RequireCloud(); err != nil {
		return false, err
	}
	for i, f := range s.CloudFiles {
		if f.ID == id {
			s.CloudFiles = append(s.CloudFiles[:i], s.CloudFiles[i+1:]...)
			return false, nil
		}
	}
	for _, f := range s.AvailableFiles {
		if f.ID == id {
			s.CloudFiles = append(s.CloudFiles, f)
			s.LocalFiles = nil
			return true, nil
		}
	}
	return false, fail(ErrInvalidInput, "", "File %s is not in the current listing", id)
}

// SelectCloudFiles replaces the selection with the listed files named by ids.
func (s *Session) SelectCloudFiles(ids []string) error {
	if err := s.RequireCloud(); err != nil {
		return err
	}
	byID := make(map[string]models.FileRef, len(s.AvailableFiles))
	for _, f := range s.AvailableFiles {
		byID[f.ID] = f
	}

	selected := make([]models.FileRef, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return fail(ErrInvalidInput, "", "File %s is not in the current listing", id)
		}
		if !seen[id] {
			selected = append(selected, f)
			seen[id] = true
		}
	}
	if len(selected) == 0 {
		return fail(ErrNoFiles, "", "Please select at least one file")
	}
	s.CloudFiles = selected
	s.LocalFiles = nil
	return nil
}

// SetDriveStatus records whether the backend holds a Google Drive token.
func (s *Session) SetDriveStatus(configured bool, authURL string, folders []models.Folder) {
	s.Drive.Configured = configured
	s.Drive.AuthURL = authURL
	if !configured {
		s.Drive.Folders = []models.Folder{}
		s.Drive.SelectedFolder = nil
		s.AvailableFiles = nil
		return
	}
	if folders == nil {
		folders = []models.Folder{}
	}
	s.Drive.Folders = folders
}

// SelectFolder picks the Drive folder whose files will be listed.
func (s *Session) SelectFolder(folder models.Folder) error {
	if err := s.RequireCloud(); err != nil {
		return err
	}
	if s.Provider != models.ProviderGoogle {
		return fail(ErrInvalidInput, "", "Folders are only available for Google Drive")
	}
	if !s.Drive.Configured {
		return fail(ErrInvalidCredentials, models.StepCloudConfig, "Google Drive is not authenticated. Please configure first.")
	}
	if s.CloudConfig == nil {
		s.CloudConfig = cloudconfig.Blank(s.Provider)
	}
	s.Drive.SelectedFolder = &folder
	s.CloudConfig[cloudconfig.FieldFolderName] = folder.Name
	s.CloudConfig[cloudconfig.FieldFolderID] = folder.ID
	s.AvailableFiles = nil
	s.CloudFiles = nil
	return nil
}

// SetAttribute selects or deselects one entity by catalog id. The "all" id
// flips the global entities and those of the current country.
func (s *Session) SetAttribute(id string, on bool) error {
	if id == entities.AllID {
		s.ToggleAll()
		return nil
	}
	if _, ok := entities.ByID(id); !ok {
		return fail(ErrInvalidInput, "", "Unknown attribute: %s", id)
	}
	s.Selected[id] = on
	s.pruneOverrides()
	return nil
}

// ToggleAll selects every global and current-country entity, or clears them
// when all of them are already selected.
func (s *Session) ToggleAll() {
	all := s.allSelected()
	for _, e := range entities.Global() {
		s.Selected[e.ID] = !all
	}
	if list, ok := entities.Country(s.Country); ok {
		for _, e := range list {
			s.Selected[e.ID] = !all
		}
	}
	s.pruneOverrides()
}

func (s *Session) allSelected() bool {
	for _, e := range entities.Global() {
		if !s.Selected[e.ID] {
			return false
		}
	}
	if list, ok := entities.Country(s.Country); ok {
		for _, e := range list {
			if !s.Selected[e.ID] {
				return false
			}
		}
	}
	return true
}

// AllSelected reports the state of the "all" checkbox.
func (s *Session) AllSelected() bool {
	return s.allSelected()
}

// SetCountry changes the country whose entities are offered. Selections of
// other countries are kept.
func (s *Session) SetCountry(name string) error {
	if name != "" {
		if _, ok := entities.Country(name); !ok {
			return fail(ErrInvalidInput, "", "Unknown country: %s", name)
		}
	}
	s.Country = name
	return nil
}

func (s *Session) SetUserPrompt(text string) {
	s.UserPrompt = text
}

// SelectedCodes lists the codes of every selected entity in catalog order,
// across all countries.
func (s *Session) SelectedCodes() []string {
	var codes []string
	for _, e := range entities.All() {
		if s.Selected[e.ID] {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

// Entities lists the codes submitted for detection: selected globals
// followed by the selected entities of the current country.
func (s *Session) Entities() []string {
	var codes []string
	for _, e := range entities.Global() {
		if s.Selected[e.ID] {
			codes = append(codes, e.Code)
		}
	}
	if list, ok := entities.Country(s.Country); ok {
		for _, e := range list {
			if s.Selected[e.ID] {
				codes = append(codes, e.Code)
			}
		}
	}
	return codes
}

func (s *Session) pruneOverrides() {
	s.Overrides = categorize.Prune(s.SelectedCodes(), s.Overrides)
}

// Mapping is the category of every selected entity.
func (s *Session) Mapping() categorize.Mapping {
	return categorize.Reconcile(s.SelectedCodes(), s.Overrides)
}

// Groups is the mapping arranged for display.
func (s *Session) Groups() categorize.Groups {
	selected := s.SelectedCodes()
	return categorize.GroupsOf(selected, categorize.Reconcile(selected, s.Overrides))
}

// MoveEntity assigns a selected entity to another category.
func (s *Session) MoveEntity(code string, to models.Category) error {
	overrides, err := categorize.Move(s.SelectedCodes(), s.Overrides, code, to)
	if err != nil {
		return err
	}
	s.Overrides = overrides
	return nil
}

// FileCount is the number of files selected for the current location.
func (s *Session) FileCount() int {
	if s.Location == models.LocationCloud {
		return len(s.CloudFiles)
	}
	return len(s.LocalFiles)
}

// FileNames lists the selected files of the current location.
func (s *Session) FileNames() []string {
	if s.Location == models.LocationCloud {
		names := make([]string, len(s.CloudFiles))
		for i, f := range s.CloudFiles {
			names[i] = f.Name
		}
		return names
	}
	names := make([]string, len(s.LocalFiles))
	for i, f := range s.LocalFiles {
		names[i] = f.Name
	}
	return names
}

// CheckFiles reports whether files are selected for the current location,
// with the message shown on the upload step.
func (s *Session) CheckFiles() error {
	if s.FileCount() > 0 {
		return nil
	}
	if s.Location == models.LocationCloud {
		return fail(ErrNoFiles, models.StepUpload, "Please select at least one cloud file")
	}
	return fail(ErrNoFiles, models.StepUpload, "Please upload at least one file")
}

// Advance moves from the upload step to entity configuration.
func (s *Session) Advance() error {
	if err := s.CheckFiles(); err != nil {
		return err
	}
	s.Step = models.StepProcess
	return nil
}

// EnterProcess guards the configuration step. Without files the session is
// sent back to upload.
func (s *Session) EnterProcess() error {
	if s.FileCount() > 0 {
		return nil
	}
	s.Step = models.StepUpload
	if s.Location == models.LocationCloud {
		return fail(ErrNoFiles, models.StepUpload, "No cloud files selected. Please select files first.")
	}
	return fail(ErrNoFiles, models.StepUpload, "No local files uploaded. Please upload files first.")
}
