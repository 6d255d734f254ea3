package models

import (
	"encoding/json"
	"strings"
	"time"
)

type Provider string

const (
	ProviderAWS    Provider = "aws"
	ProviderAzure  Provider = "azure"
	ProviderGoogle Provider = "google"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGoogle:
		return true
	}
	return false
}

// DisplayName is the provider name shown to users.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderAWS:
		return "AWS"
	case ProviderAzure:
		return "Azure"
	case ProviderGoogle:
		return "Google Drive"
	}
	return string(p)
}

type Location string

const (
	LocationLocal Location = "local"
	LocationCloud Location = "cloud"
)

func (l Location) Valid() bool {
	return l == LocationLocal || l == LocationCloud
}

type ProcessType string

const (
	ProcessClassification   ProcessType = "classification"
	ProcessTablesExtraction ProcessType = "tables_extraction"
)

func (p ProcessType) Valid() bool {
	return p == ProcessClassification || p == ProcessTablesExtraction
}

// BackendOption is the selectedOption value the analysis backend expects.
func (p ProcessType) BackendOption() string {
	if p == ProcessTablesExtraction {
		return "TablesExtraction"
	}
	return "Classification"
}

type Category string

const (
	CategoryConfidential Category = "CONFIDENTIAL"
	CategoryPrivate      Category = "PRIVATE"
	CategoryRestricted   Category = "RESTRICTED"
	CategoryOther        Category = "OTHER"
)

// Categories lists the four buckets in display order.
var Categories = []Category{
	CategoryConfidential,
	CategoryPrivate,
	CategoryRestricted,
	CategoryOther,
}

func (c Category) Valid() bool {
	switch c {
	case CategoryConfidential, CategoryPrivate, CategoryRestricted, CategoryOther:
		return true
	}
	return false
}

// Title returns the capitalised form used by the results view ("Confidential").
func (c Category) Title() string {
	s := string(c)
	if s == "" {
		return ""
	}
	return s[:1] + strings.ToLower(s[1:])
}

// ParseCategory accepts either case ("private", "PRIVATE", "Private").
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

type Step string

const (
	StepUpload      Step = "upload"
	StepCloudConfig Step = "cloud_config"
	StepProcess     Step = "process"
	StepAnalyze     Step = "analyze"
	StepResults     Step = "results"
)

// FileRef is a file held by a cloud provider.
type FileRef struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Folder is a Google Drive folder.
type Folder struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// LocalFile is an uploaded file spooled on local disk.
type LocalFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Path       string    `json:"path,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// CloudConfig maps provider-specific field names to values.
type CloudConfig map[string]string

func (c CloudConfig) Clone() CloudConfig {
	out := make(CloudConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AnalysisResult is the analysis backend's response. Data items keep their
// raw shape; the results package interprets them.
type AnalysisResult struct {
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Data         []json.RawMessage `json:"data,omitempty"`
	Table        json.RawMessage   `json:"table,omitempty"`
	Country      string            `json:"country,omitempty"`
	EntitiesUsed []string          `json:"entities_used,omitempty"`
	Styles       *Styles           `json:"styles,omitempty"`
	CSVFilePaths []string          `json:"csv_file_paths,omitempty"`
}

type Styles struct {
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
}

func (r *AnalysisResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}
