package core

import (
	"bytes"

	"github.com/xuri/excelize/v2"
)

// readXLSX parses the first worksheet. Row 1 is the header. Cells are read
// raw so dates arrive as serial day numbers whatever their display format,
// and formula cells yield their cached value.
func readXLSX(data []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Table{}, newBatchError(KindUnreadableFile, err, "not a valid XLSX workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, newBatchError(KindUnreadableFile, nil, "workbook has no worksheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return Table{}, newBatchError(KindUnreadableFile, err, "reading worksheet %q", sheets[0])
	}

	t := Table{HeaderRow: 1, Header: []string{}}
	if len(rows) == 0 {
		return t, nil
	}
	t.Header = trimTrailingBlank(rows[0])

	for i, row := range rows[1:] {
		if blankCells(row) {
			continue
		}
		cells := make([]Cell, len(row))
		for j, v := range row {
			cells[j] = Cell{Value: v, Typed: true}
		}
		t.Rows = append(t.Rows, SourceRow{Index: i + 2, Cells: cells})
	}
	return t, nil
}
