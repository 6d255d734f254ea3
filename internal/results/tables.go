package results

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tealeg/xlsx/v3"
)

var ErrEmptyTable = errors.New("no valid data found")

// Table is the first sheet of an extracted spreadsheet.
type Table struct {
	Name string     `json:"name"`
	Rows [][]string `json:"rows"`
}

// ParseTable reads the first sheet of an xlsx file. Blank rows are skipped
// and short rows are padded to the widest row.
func ParseTable(name string, data []byte) (*Table, error) {
	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in %s", name)
	}

	var rows [][]string
	width := 0
	err = wb.Sheets[0].ForEachRow(func(row *xlsx.Row) error {
		var cells []string
		blank := true
		err := row.ForEachCell(func(cell *xlsx.Cell) error {
			v := cell.String()
			if strings.TrimSpace(v) != "" {
				blank = false
			}
			cells = append(cells, v)
			return nil
		})
		if err != nil || blank {
			return err
		}
		if len(cells) > width {
			width = len(cells)
		}
		rows = append(rows, cells)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmptyTable, name)
	}

	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		rows[i] = r
	}
	return &Table{Name: name, Rows: rows}, nil
}
