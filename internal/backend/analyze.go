package backend

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/qualys/piiflow/internal/models"
)

// AnalysisRequest is everything the backend needs to run one analysis.
type AnalysisRequest struct {
	ProcessType     models.ProcessType
	Country         string
	Entities        []string
	CategoryMapping map[string]models.Category
	UserPrompt      string

	Location      models.Location
	Files         []Upload
	CloudFiles    []models.FileRef
	CloudConfig   models.CloudConfig
	CloudPlatform models.Provider
}

// FileNames lists the input file names in submission order.
func (r *AnalysisRequest) FileNames() []string {
	if r.Location == models.LocationCloud {
		names := make([]string, len(r.CloudFiles))
		for i, f := range r.CloudFiles {
			names[i] = f.Name
		}
		return names
	}
	names := make([]string, len(r.Files))
	for i, f := range r.Files {
		names[i] = f.Name
	}
	return names
}

// Analyze submits an analysis and waits for its result. The call has no
// client-side timeout; cancel ctx to abort it.
func (c *Client) Analyze(ctx context.Context, req *AnalysisRequest) (*models.AnalysisResult, error) {
	f := newForm()
	f.field("selectedOption", req.ProcessType.BackendOption())
	if req.Country != "" {
		f.field("country", req.Country)
	}
	for _, code := range req.Entities {
		f.field("multiple", code)
	}
	mapping := req.CategoryMapping
	if mapping == nil {
		mapping = map[string]models.Category{}
	}
	f.jsonField("categoryMapping", mapping)
	if prompt := strings.TrimSpace(req.UserPrompt); prompt != "" {
		f.field("user_prompt", prompt)
	}

	if req.Location == models.LocationCloud {
		f.jsonField("cloudFiles", req.CloudFiles)
		f.jsonField("cloudConfig", req.CloudConfig)
		f.field("cloudPlatform", string(req.CloudPlatform))
	} else {
		for _, u := range req.Files {
			if err := attach(f, "files", u); err != nil {
				return nil, err
			}
		}
	}

	// Analysis can outlast the client timeout used for short calls.
	hc := &http.Client{Transport: c.http.Transport}

	var result models.AnalysisResult
	if err := c.postForm(ctx, "/success", f, hc, &result); err != nil {
		return nil, fmt.Errorf("analyzing: %w", err)
	}
	if result.Status == "" {
		return nil, fmt.Errorf("analyzing: %w: missing status", ErrMalformedPayload)
	}

	c.logger.Info("analysis response received",
		"status", result.Status,
		"items", len(result.Data),
		"tables", len(result.CSVFilePaths))

	return &result, nil
}

// MarkedDocument is a copy of an input file stamped with its category.
type MarkedDocument struct {
	Message       string `json:"message"`
	HeaderPath    string `json:"header_path"`
	WatermarkPath string `json:"watermark_path,omitempty"`
	FileName      string `json:"file_name"`
}

// MarkDocument asks the backend to produce a marked copy of fileName.
func (c *Client) MarkDocument(ctx context.Context, fileName string) (*MarkedDocument, error) {
	f := newForm()
	f.field("file_name", fileName)

	var doc MarkedDocument
	if err := c.postForm(ctx, "/mark_document", f, c.http, &doc); err != nil {
		return nil, fmt.Errorf("marking %s: %w", fileName, err)
	}
	if doc.HeaderPath == "" || doc.Message == "" {
		return nil, fmt.Errorf("marking %s: %w: missing header_path or message", fileName, ErrMalformedPayload)
	}

	doc.FileName = baseName(doc.HeaderPath)
	if doc.FileName == "" {
		doc.FileName = fileName
	}
	return &doc, nil
}

// baseName handles both slash and backslash separated backend paths.
func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if strings.HasSuffix(p, "/") {
		return ""
	}
	return path.Base(p)
}
