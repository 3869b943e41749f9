package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tariff-cli/internal/model"
)

// ReadXLSX reads records from a spreadsheet whose first row holds wire keys.
// An empty sheetName selects the first sheet. Fully blank rows are skipped.
func ReadXLSX(path, sheetName string) ([]model.RateRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, sheetName)
	if err != nil {
		return nil, err
	}

	records := []model.RateRecord{}
	var header []string
	for i, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := rowToStrings(row)
		if i == 0 {
			header = cells
			continue
		}
		if blank(cells) {
			continue
		}

		m := make(map[string]any, len(header))
		for j, key := range header {
			key = strings.TrimSpace(key)
			if key == "" || j >= len(cells) {
				continue
			}
			m[key] = cells[j]
		}
		records = append(records, model.RecordFromMap(m))
	}

	return records, nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: file has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
