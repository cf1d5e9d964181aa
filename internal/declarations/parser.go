package declarations

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseWorkbook reads the first sheet of a workbook into rows keyed by the
// header cells exactly as written. An empty sheet yields no rows.
func ParseWorkbook(filename string, r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{File: filename, Err: err}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	grid, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &ParseError{File: filename, Err: err}
	}
	return rowsFromGrid(grid), nil
}

func rowsFromGrid(grid [][]string) []Row {
	if len(grid) < 2 {
		return nil
	}
	header := grid[0]
	rows := make([]Row, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		if blankRow(cells) {
			continue
		}
		row := make(Row, len(header))
		for i, key := range header {
			if key == "" || i >= len(cells) {
				continue
			}
			if _, dup := row[key]; dup {
				continue
			}
			row[key] = cells[i]
		}
		rows = append(rows, row)
	}
	return rows
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
