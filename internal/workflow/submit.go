package workflow

import (
	"strings"

	"github.com/qualys/piiflow/internal/backend"
	"github.com/qualys/piiflow/internal/categorize"
	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/entities"
	"github.com/qualys/piiflow/internal/models"
)

// Submission builds the analysis request for the current selections, or
// explains why nothing can be submitted yet.
func (s *Session) Submission() (*backend.AnalysisRequest, error) {
	if !s.ProcessType.Valid() || !s.Location.Valid() {
		return nil, fail(ErrMissingState, models.StepUpload, "Invalid analysis configuration")
	}

	switch s.Location {
	case models.LocationLocal:
		if len(s.LocalFiles) == 0 {
			return nil, fail(ErrNoFiles, models.StepUpload, "No files selected for analysis")
		}
	case models.LocationCloud:
		if len(s.CloudFiles) == 0 {
			return nil, fail(ErrNoFiles, models.StepUpload, "No cloud files selected for analysis")
		}
		if !s.hasCloudConfig() {
			return nil, fail(ErrMissingState, models.StepUpload, "Cloud configuration missing")
		}
	}

	codes := s.Entities()
	prompt := strings.TrimSpace(s.UserPrompt)
	if s.ProcessType == models.ProcessClassification && len(codes) == 0 && prompt == "" {
		return nil, fail(ErrNothingToDetect, models.StepProcess,
			"Please select at least one attribute or provide a user prompt for classification")
	}

	mapping := s.Mapping()
	if missing := categorize.Missing(codes, mapping); len(missing) > 0 {
		labels := make([]string, len(missing))
		for i, code := range missing {
			labels[i] = entities.Label(code)
		}
		return nil, fail(ErrMissingCategory, models.StepProcess,
			"Missing category mappings for: %s", strings.Join(labels, ", "))
	}

	req := &backend.AnalysisRequest{
		ProcessType:     s.ProcessType,
		Country:         s.Country,
		Entities:        codes,
		CategoryMapping: categorize.Restrict(mapping, codes),
		UserPrompt:      prompt,
		Location:        s.Location,
	}
	if s.Location == models.LocationCloud {
		req.CloudFiles = append([]models.FileRef(nil), s.CloudFiles...)
		req.CloudConfig = s.submittedConfig()
		req.CloudPlatform = s.Provider
	} else {
		for _, f := range s.LocalFiles {
			req.Files = append(req.Files, backend.Upload{Name: f.Name, Path: f.Path})
		}
	}
	return req, nil
}

func (s *Session) hasCloudConfig() bool {
	if s.Provider == models.ProviderGoogle {
		return s.Drive.Configured
	}
	for _, v := range s.CloudConfig {
		if v != "" {
			return true
		}
	}
	return false
}

// submittedConfig is the config forwarded with a cloud analysis. The Google
// authorization code is single-use and stays behind.
func (s *Session) submittedConfig() models.CloudConfig {
	cfg := s.CloudConfig.Clone()
	delete(cfg, cloudconfig.FieldAuthCode)
	return cfg
}

// StartAnalysis marks the session as waiting on the backend.
func (s *Session) StartAnalysis() {
	s.Step = models.StepAnalyze
}

// SetResult records a finished analysis and moves to the results step.
func (s *Session) SetResult(res *models.AnalysisResult, files []string) {
	s.Result = res
	s.ResultFiles = files
	s.RowCategories = nil
	s.Step = models.StepResults
}

// RecordFailure keeps the failed outcome for the results view and returns
// the session to upload.
func (s *Session) RecordFailure(res *models.AnalysisResult, files []string) {
	s.Result = res
	s.ResultFiles = files
	s.RowCategories = nil
	s.Step = models.StepUpload
}

// ResetToUpload abandons an analysis in progress.
func (s *Session) ResetToUpload() {
	s.Step = models.StepUpload
}

// SetRowCategory changes the category shown for one results row. An empty
// category clears the choice.
func (s *Session) SetRowCategory(id int, category string) error {
	if s.Result == nil {
		return fail(ErrMissingState, models.StepUpload, "No analysis results available")
	}
	if id < 1 {
		return fail(ErrInvalidInput, "", "Unknown results row: %d", id)
	}
	if category != "" {
		cat, ok := models.ParseCategory(category)
		if !ok {
			return fail(ErrInvalidInput, "", "Unknown category: %s", category)
		}
		category = cat.Title()
	}
	if s.RowCategories == nil {
		s.RowCategories = make(map[int]string)
	}
	s.RowCategories[id] = category
	return nil
}
