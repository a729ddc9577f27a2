package core

// source.go turns an uploaded byte stream into a Table.
//
// The declared content type picks the reader. Browsers and curl often send
// application/octet-stream for spreadsheets, so ResolveContentType falls
// back to the file extension before the batch starts.

import (
	"io"
	"mime"
	"path/filepath"
	"strings"
)

// ResolveContentType returns the pipeline content type for a declared type
// and file name. Unknown combinations return the declared media type so the
// batch can fail with UNSUPPORTED_CONTENT_TYPE.
func ResolveContentType(declared, fileName string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(declared))
	}
	switch mt {
	case ContentTypeCSV, ContentTypeXLSX:
		return mt
	case "", "application/octet-stream", "application/zip", "text/plain", "application/vnd.ms-excel":
		switch strings.ToLower(filepath.Ext(fileName)) {
		case ".csv":
			return ContentTypeCSV
		case ".xlsx":
			return ContentTypeXLSX
		}
	}
	return mt
}

// ReadTable reads at most maxSize bytes from r and parses them according
// to contentType. Errors are *BatchError values.
func ReadTable(r io.Reader, contentType string, maxSize int64) (Table, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Table{}, newBatchError(KindUnsupportedContentType, err, "invalid content type %q", contentType)
	}
	if mt != ContentTypeCSV && mt != ContentTypeXLSX {
		return Table{}, newBatchError(KindUnsupportedContentType, nil,
			"content type %q is not supported (use %s or %s)", mt, ContentTypeCSV, ContentTypeXLSX)
	}

	data, err := readCapped(r, maxSize)
	if err != nil {
		return Table{}, err
	}
	if mt == ContentTypeXLSX {
		return readXLSX(data)
	}
	return readCSV(data)
}

// blankCells reports whether every cell is empty after trimming.
func blankCells(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// trimTrailingBlank drops empty labels at the end of a header row.
func trimTrailingBlank(labels []string) []string {
	end := len(labels)
	for end > 0 && strings.TrimSpace(labels[end-1]) == "" {
		end--
	}
	return labels[:end]
}
