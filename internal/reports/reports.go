// Package reports renders classification results as downloadable files.
package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/qualys/piiflow/internal/models"
	"github.com/qualys/piiflow/internal/results"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

// ParseFormat accepts "csv" or "pdf".
func ParseFormat(s string) (ReportFormat, error) {
	switch ReportFormat(s) {
	case FormatCSV, FormatPDF:
		return ReportFormat(s), nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

type Report struct {
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

var csvHeader = []string{"File Name", "Has PII", "Category", "Detected Content"}

// Generator builds reports from a results view.
type Generator struct {
	now func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Generate renders the classification rows of v in the requested format.
func (g *Generator) Generate(v *results.View, format ReportFormat, title string) (*Report, error) {
	if v == nil || v.Failed() {
		return nil, fmt.Errorf("no analysis results to export")
	}
	if v.ProcessType != models.ProcessClassification {
		return nil, fmt.Errorf("exports are only available for classification results")
	}
	if title == "" {
		title = "Data Classification Results"
	}

	var data []byte
	var filename string
	var mimeType string
	var err error

	switch format {
	case FormatCSV:
		data, err = g.rowsToCSV(v.Rows)
		filename = "analysis_results.csv"
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.rowsToPDF(v, title)
		filename = fmt.Sprintf("analysis_results_%s.pdf", g.now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Format:      format,
		Title:       title,
		GeneratedAt: g.now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func csvRecord(r results.Row) []string {
	hasPII := "No"
	if r.HasPII {
		hasPII = "Yes"
	}
	category := r.Category
	if category == "" {
		category = "None"
	}
	content := r.Content()
	if content == "" {
		content = "No sensitive data found"
	}
	return []string{r.FileName, hasPII, category, content}
}

func (g *Generator) rowsToCSV(rows []results.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.writeCSV(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StreamCSV writes the rows of v as CSV to w.
func (g *Generator) StreamCSV(w io.Writer, v *results.View) error {
	if v == nil || v.Failed() {
		return fmt.Errorf("no analysis results to export")
	}
	return g.writeCSV(w, v.Rows)
}

func (g *Generator) writeCSV(out io.Writer, rows []results.Row) error {
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(csvRecord(r)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (g *Generator) rowsToPDF(v *results.View, title string) ([]byte, error) {
	pdf := NewPDFReport(title, g.now())

	withPII := 0
	detections := make(map[string]int, len(models.Categories))
	for _, r := range v.Rows {
		if r.HasPII {
			withPII++
		}
		for _, cat := range models.Categories {
			for _, e := range r.Categories[cat.Title()] {
				detections[cat.Title()] += e.Count
			}
		}
	}

	pdf.AddSection("Summary")
	pdf.AddSummaryTable([]SummaryItem{
		{"Files analyzed", len(v.Rows)},
		{"Files with PII", withPII},
		{"Files without PII", len(v.Rows) - withPII},
	})
	if v.Country != "" {
		pdf.AddParagraph("Country: " + v.Country)
	}

	bars := make([]SummaryItem, 0, len(models.Categories))
	for _, cat := range models.Categories {
		bars = append(bars, SummaryItem{cat.Title(), detections[cat.Title()]})
	}
	pdf.AddChart("Detections by Category", bars)

	pdf.AddSection("Results")
	if len(v.Rows) == 0 {
		pdf.AddParagraph(results.NoticeNoResults)
		return pdf.Output()
	}
	records := make([][]string, 0, len(v.Rows))
	for _, r := range v.Rows {
		records = append(records, csvRecord(r))
	}
	pdf.AddTable(csvHeader, []float64{50, 20, 30, 80}, records)

	return pdf.Output()
}
