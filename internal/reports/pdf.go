package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// SummaryItem is a labelled count. A slice keeps the display order.
type SummaryItem struct {
	Label string
	Value int
}

type PDFReport struct {
	pdf   *gofpdf.Fpdf
	title string
	tr    func(string) string
}

func NewPDFReport(title string, generated time.Time) *PDFReport {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)

	r := &PDFReport{
		pdf:   pdf,
		title: title,
		tr:    pdf.UnicodeTranslatorFromDescriptor(""),
	}

	r.addHeader(generated)
	return r
}

func (r *PDFReport) addHeader(generated time.Time) {
	r.pdf.AddPage()

	r.pdf.SetFont("Arial", "B", 20)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.CellFormat(0, 15, r.tr(r.title), "", 1, "C", false, 0, "")

	r.pdf.SetFont("Arial", "", 10)
	r.pdf.SetTextColor(108, 117, 125)
	r.pdf.CellFormat(0, 8, fmt.Sprintf("Generated: %s", generated.Format("January 2, 2006 3:04 PM")), "", 1, "C", false, 0, "")

	r.pdf.Ln(10)
}

func (r *PDFReport) AddSection(title string) {
	r.pdf.SetFont("Arial", "B", 14)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.SetFillColor(240, 240, 240)
	r.pdf.CellFormat(0, 10, r.tr(title), "", 1, "L", true, 0, "")
	r.pdf.Ln(5)
}

func (r *PDFReport) AddParagraph(text string) {
	r.pdf.SetFont("Arial", "", 10)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.MultiCell(0, 6, r.tr(text), "", "L", false)
	r.pdf.Ln(5)
}

// AddTable draws a table whose columns have the given widths in mm. Cells
// wrap instead of being truncated, so detected values stay readable.
func (r *PDFReport) AddTable(headers []string, widths []float64, rows [][]string) {
	const lineHeight = 5.0

	r.pdf.SetFont("Arial", "B", 9)
	r.pdf.SetFillColor(52, 58, 64)
	r.pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		r.pdf.CellFormat(widths[i], 8, r.tr(h), "1", 0, "C", true, 0, "")
	}
	r.pdf.Ln(-1)

	r.pdf.SetFont("Arial", "", 9)
	r.pdf.SetTextColor(33, 37, 41)
	fill := false
	for _, row := range rows {
		lines := 1
		for i, cell := range row {
			if n := len(r.pdf.SplitLines([]byte(r.tr(cell)), widths[i]-2)); n > lines {
				lines = n
			}
		}
		height := float64(lines) * lineHeight

		_, pageHeight := r.pdf.GetPageSize()
		_, _, _, bottom := r.pdf.GetMargins()
		if r.pdf.GetY()+height > pageHeight-bottom {
			r.pdf.AddPage()
		}

		if fill {
			r.pdf.SetFillColor(248, 249, 250)
		} else {
			r.pdf.SetFillColor(255, 255, 255)
		}
		x, y := r.pdf.GetXY()
		for i, cell := range row {
			r.pdf.Rect(x, y, widths[i], height, "FD")
			r.pdf.MultiCell(widths[i], lineHeight, r.tr(cell), "", "L", false)
			x += widths[i]
			r.pdf.SetXY(x, y)
		}
		r.pdf.SetXY(r.pdf.GetX()-sum(widths), y+height)
		fill = !fill
	}

	r.pdf.Ln(5)
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func (r *PDFReport) AddSummaryTable(items []SummaryItem) {
	r.pdf.SetFont("Arial", "", 10)

	for _, item := range items {
		r.pdf.SetTextColor(108, 117, 125)
		r.pdf.CellFormat(60, 7, r.tr(item.Label)+":", "", 0, "L", false, 0, "")

		r.pdf.SetFont("Arial", "B", 10)
		r.pdf.SetTextColor(33, 37, 41)
		r.pdf.CellFormat(0, 7, fmt.Sprintf("%d", item.Value), "", 1, "L", false, 0, "")
		r.pdf.SetFont("Arial", "", 10)
	}

	r.pdf.Ln(5)
}

func (r *PDFReport) AddChart(title string, items []SummaryItem) {
	r.pdf.SetFont("Arial", "B", 11)
	r.pdf.SetTextColor(33, 37, 41)
	r.pdf.CellFormat(0, 8, r.tr(title), "", 1, "L", false, 0, "")

	max := 0
	for _, item := range items {
		if item.Value > max {
			max = item.Value
		}
	}

	if max == 0 {
		max = 1
	}

	barMaxWidth := 100.0

	for _, item := range items {
		r.pdf.SetFont("Arial", "", 9)
		r.pdf.SetTextColor(108, 117, 125)
		r.pdf.CellFormat(40, 6, r.tr(item.Label), "", 0, "L", false, 0, "")

		barWidth := float64(item.Value) / float64(max) * barMaxWidth
		cr, cg, cb := categoryColor(item.Label)
		r.pdf.SetFillColor(cr, cg, cb)
		r.pdf.CellFormat(barWidth, 6, "", "", 0, "L", true, 0, "")

		r.pdf.SetTextColor(33, 37, 41)
		r.pdf.CellFormat(30, 6, fmt.Sprintf(" %d", item.Value), "", 1, "L", false, 0, "")
	}

	r.pdf.Ln(5)
}

func categoryColor(label string) (int, int, int) {
	switch label {
	case "Confidential":
		return 220, 53, 69
	case "Private":
		return 253, 126, 20
	case "Restricted":
		return 255, 193, 7
	default:
		return 23, 162, 184
	}
}

func (r *PDFReport) addFooter() {
	r.pdf.SetFooterFunc(func() {
		r.pdf.SetY(-15)
		r.pdf.SetFont("Arial", "I", 8)
		r.pdf.SetTextColor(128, 128, 128)
		r.pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", r.pdf.PageNo()), "", 0, "C", false, 0, "")
	})
}

func (r *PDFReport) Output() ([]byte, error) {
	r.addFooter()

	var buf bytes.Buffer
	err := r.pdf.Output(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	return buf.Bytes(), nil
}
