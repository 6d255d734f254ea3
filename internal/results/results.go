// Package results turns an analysis response into the per-file table shown
// to the user.
package results

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qualys/piiflow/internal/models"
)

const (
	NoticeNoResults = "No classification results to display"
	NoticeNoPII     = "No PII detected"

	msgNoResults       = "No analysis results available"
	msgLoadFailed      = "Failed to load analysis results"
	msgClassifyFailed  = "Failed to load classification results"
	msgNoTables        = "No Excel files available to download"
	defaultPIICategory = "Confidential"
	unknownTableFile   = "Unknown.xlsx"
)

// Entity is one detected entity type with its matched values.
type Entity struct {
	Count      int      `json:"count"`
	EntityType string   `json:"entity_type"`
	Values     []string `json:"values"`
}

// Categories holds the detected entities of a file under each of the four
// categories, keyed by title ("Confidential").
type Categories map[string][]Entity

func emptyCategories() Categories {
	c := make(Categories, len(models.Categories))
	for _, cat := range models.Categories {
		c[cat.Title()] = []Entity{}
	}
	return c
}

// Row is one file of the results table.
type Row struct {
	ID         int        `json:"id"`
	FileName   string     `json:"file_name"`
	HasPII     bool       `json:"has_pii"`
	Category   string     `json:"category"`
	Categories Categories `json:"categories"`
}

// Entities returns the detected entities under the row's chosen category.
func (r Row) Entities() []Entity {
	if r.Category == "" {
		return nil
	}
	return r.Categories[r.Category]
}

// Content renders the row's chosen category as "TYPE: v1, v2; TYPE: v3".
func (r Row) Content() string {
	parts := make([]string, 0, len(r.Entities()))
	for _, e := range r.Entities() {
		parts = append(parts, fmt.Sprintf("%s: %s", e.EntityType, strings.Join(e.Values, ", ")))
	}
	return strings.Join(parts, "; ")
}

// TableFile is a spreadsheet produced by table extraction.
type TableFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// View is everything the results step displays.
type View struct {
	Status       string             `json:"status"`
	Error        string             `json:"error,omitempty"`
	ProcessType  models.ProcessType `json:"process_type"`
	Rows         []Row              `json:"rows,omitempty"`
	Tables       []TableFile        `json:"tables,omitempty"`
	Notices      []string           `json:"notices,omitempty"`
	Country      string             `json:"country,omitempty"`
	EntitiesUsed []string           `json:"entities_used,omitempty"`
	Styles       *models.Styles     `json:"styles,omitempty"`
}

// Failed reports whether the view shows an error panel instead of results.
func (v *View) Failed() bool {
	return v.Error != ""
}

// Build shapes an analysis result. fileNames are the submitted inputs in
// order; rowCategories holds the user's per-row category choices.
func Build(res *models.AnalysisResult, pt models.ProcessType, fileNames []string, rowCategories map[int]string) *View {
	if res == nil {
		return &View{Status: models.StatusError, Error: msgNoResults, ProcessType: pt}
	}

	v := &View{
		Status:       res.Status,
		ProcessType:  pt,
		Country:      res.Country,
		EntitiesUsed: res.EntitiesUsed,
		Styles:       res.Styles,
	}
	if !res.Succeeded() {
		v.Error = res.Message
		if v.Error == "" {
			v.Error = msgLoadFailed
		}
		return v
	}

	if pt == models.ProcessTablesExtraction {
		v.Tables = TableFiles(res.CSVFilePaths)
		if len(v.Tables) == 0 {
			v.Notices = append(v.Notices, msgNoTables)
		}
		return v
	}

	if res.Data == nil {
		v.Error = msgClassifyFailed
		return v
	}

	rows, err := buildRows(res.Data, fileNames)
	if err != nil {
		v.Error = msgClassifyFailed
		return v
	}
	for i := range rows {
		if cat, ok := rowCategories[rows[i].ID]; ok {
			rows[i].Category = cat
		}
	}
	v.Rows = rows

	switch {
	case len(rows) == 0:
		v.Notices = append(v.Notices, NoticeNoResults)
	case noPII(rows):
		v.Notices = append(v.Notices, NoticeNoPII)
	}
	return v
}

func noPII(rows []Row) bool {
	for _, r := range rows {
		if r.HasPII {
			return false
		}
	}
	return true
}

type rawEntity struct {
	Count      int      `json:"count"`
	EntityType string   `json:"entity_type"`
	Values     []string `json:"values"`
}

type rawItem struct {
	FileNameSpaced string                 `json:"File Name"`
	FileName       string                 `json:"file_name"`
	HasPIIMarked   any                    `json:"Has PII ?"`
	HasPII         any                    `json:"has_pii"`
	Categories     map[string][]rawEntity `json:"Categories"`
}

// buildRows maps backend items to rows, one per input file. Items are
// matched to inputs by name, counting duplicates. Items naming no input take
// the place of inputs nothing reported on, and inputs still unmatched get a
// clean row. Without inputs every item is kept.
func buildRows(data []json.RawMessage, fileNames []string) ([]Row, error) {
	items := make([]Row, 0, len(data))
	for i, raw := range data {
		var item rawItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		name := firstNonEmpty(item.FileNameSpaced, item.FileName)
		if name == "" && i < len(fileNames) {
			name = fileNames[i]
		}
		if name == "" {
			name = fmt.Sprintf("File_%d", i+1)
		}

		hasPII := truthy(item.HasPIIMarked) || truthy(item.HasPII) || anyDetected(item.Categories)
		row := Row{
			FileName:   name,
			HasPII:     hasPII,
			Categories: normalizeCategories(item.Categories),
		}
		if hasPII {
			row.Category = defaultPIICategory
		}
		items = append(items, row)
	}
	if len(fileNames) == 0 {
		return numbered(items), nil
	}

	remaining := make(map[string]int, len(fileNames))
	for _, name := range fileNames {
		remaining[name]++
	}
	matched := make([]bool, len(items))
	for i, row := range items {
		if remaining[row.FileName] > 0 {
			remaining[row.FileName]--
			matched[i] = true
		}
	}
	var unreported []string
	for _, name := range fileNames {
		if remaining[name] > 0 {
			remaining[name]--
			unreported = append(unreported, name)
		}
	}

	rows := make([]Row, 0, len(fileNames))
	for i, row := range items {
		if !matched[i] {
			if len(unreported) == 0 {
				continue
			}
			unreported = unreported[1:]
		}
		rows = append(rows, row)
	}
	for _, name := range unreported {
		rows = append(rows, Row{FileName: name, Categories: emptyCategories()})
	}
	return numbered(rows), nil
}

func numbered(rows []Row) []Row {
	for i := range rows {
		rows[i].ID = i + 1
	}
	return rows
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "yes")
	}
	return false
}

func anyDetected(cats map[string][]rawEntity) bool {
	for _, list := range cats {
		if len(list) > 0 {
			return true
		}
	}
	return false
}

func normalizeCategories(in map[string][]rawEntity) Categories {
	out := emptyCategories()
	for key, list := range in {
		title := normalizeKey(key)
		if _, ok := out[title]; !ok {
			continue
		}
		entities := make([]Entity, 0, len(list))
		for _, e := range list {
			values := e.Values
			if values == nil {
				values = []string{}
			}
			entities = append(entities, Entity{
				Count:      e.Count,
				EntityType: strings.ToUpper(e.EntityType),
				Values:     values,
			})
		}
		out[title] = entities
	}
	return out
}

func normalizeKey(key string) string {
	if key == "" {
		return ""
	}
	return strings.ToUpper(key[:1]) + strings.ToLower(key[1:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// TableFiles names the spreadsheets produced by table extraction.
func TableFiles(paths []string) []TableFile {
	out := make([]TableFile, 0, len(paths))
	for _, p := range paths {
		out = append(out, TableFile{Name: BaseName(p), Path: p})
	}
	return out
}

// BaseName returns the last element of a slash or backslash separated path.
func BaseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return unknownTableFile
	}
	return p
}
