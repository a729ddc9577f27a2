package core

import (
	"encoding/csv"
	"errors"
	"io"
)

// CSVSeparator is the field delimiter of uploads and the CSV template.
const CSVSeparator = ';'

// readCSV parses a ';'-separated file. The first non-empty line is the
// header, blank lines are skipped, and each row keeps its physical line
// number.
func readCSV(data []byte) (Table, error) {
	r := csv.NewReader(decodeText(data))
	r.Comma = CSVSeparator
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var t Table
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, newBatchError(KindUnreadableFile, err, "malformed CSV")
		}
		if blankCells(record) {
			continue
		}
		line, _ := r.FieldPos(0)

		if t.Header == nil {
			t.HeaderRow = line
			t.Header = trimTrailingBlank(record)
			continue
		}

		cells := make([]Cell, len(record))
		for i, v := range record {
			cells[i] = TextCell(v)
		}
		t.Rows = append(t.Rows, SourceRow{Index: line, Cells: cells})
	}

	if t.Header == nil {
		return Table{}, newBatchError(KindUnreadableFile, nil, "file has no header row")
	}
	return t, nil
}
