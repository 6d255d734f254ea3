package reports

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/qualys/piiflow/internal/models"
	"github.com/qualys/piiflow/internal/results"
)

func testView() *results.View {
	return &results.View{
		Status:      models.StatusSuccess,
		ProcessType: models.ProcessClassification,
		Country:     "India",
		Rows: []results.Row{
			{
				ID:       1,
				FileName: "cards.pdf",
				HasPII:   true,
				Category: "Confidential",
				Categories: results.Categories{
					"Confidential": {{Count: 2, EntityType: "CREDIT_CARD", Values: []string{"4111", "5500"}}},
				},
			},
			{ID: 2, FileName: "clean.txt", Categories: results.Categories{}},
		},
	}
}

func fixedGenerator() *Generator {
	return &Generator{now: func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }}
}

func TestGenerate_CSV(t *testing.T) {
	report, err := fixedGenerator().Generate(testView(), FormatCSV, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Filename != "analysis_results.csv" || report.MimeType != "text/csv" {
		t.Errorf("unexpected report metadata %+v", report)
	}

	records, err := csv.NewReader(bytes.NewReader(report.Data)).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	expected := [][]string{
		{"File Name", "Has PII", "Category", "Detected Content"},
		{"cards.pdf", "Yes", "Confidential", "CREDIT_CARD: 4111, 5500"},
		{"clean.txt", "No", "None", "No sensitive data found"},
	}
	if len(records) != len(expected) {
		t.Fatalf("expected %d records, got %d", len(expected), len(records))
	}
	for i := range expected {
		for j := range expected[i] {
			if records[i][j] != expected[i][j] {
				t.Errorf("record %d field %d: expected %q, got %q", i, j, expected[i][j], records[i][j])
			}
		}
	}
}

func TestGenerate_PDF(t *testing.T) {
	report, err := fixedGenerator().Generate(testView(), FormatPDF, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(report.Data, []byte("%PDF")) {
		t.Error("expected PDF output")
	}
	if report.Filename != "analysis_results_20240301_123000.pdf" {
		t.Errorf("unexpected filename %q", report.Filename)
	}
	if report.Title != "Data Classification Results" {
		t.Errorf("unexpected title %q", report.Title)
	}
}

func TestGenerate_Rejected(t *testing.T) {
	g := NewGenerator()
	tests := []struct {
		name   string
		view   *results.View
		format ReportFormat
	}{
		{"nil view", nil, FormatCSV},
		{"error panel", &results.View{Error: "boom"}, FormatCSV},
		{"tables extraction", &results.View{ProcessType: models.ProcessTablesExtraction}, FormatCSV},
		{"unknown format", testView(), ReportFormat("xml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := g.Generate(tt.view, tt.format, ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("pdf"); err != nil || f != FormatPDF {
		t.Errorf("expected pdf, got %q %v", f, err)
	}
	if _, err := ParseFormat("json"); err == nil {
		t.Error("expected error for json")
	}
}
