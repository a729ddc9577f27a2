package core

// streaming.go provides the byte-level readers used before a file is parsed.
//
//   - CountingReader: tracks bytes read and enforces the upload size cap
//   - decodeText: strips a UTF-8 BOM, or decodes Windows-1252 when the
//     bytes are not valid UTF-8 (Excel pt-BR exports)
//
// Files are read fully into memory (bounded by the cap) because both the
// encoding check and the XLSX zip reader need the whole content.

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxFileSize caps an upload when no limit is configured.
const DefaultMaxFileSize int64 = 50 << 20

// CountingReader wraps an io.Reader to track bytes read. When Limit is
// positive, reading past it fails with ErrFileTooLarge.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Limit     int64
}

// NewCountingReader creates a counting reader with an optional size cap.
func NewCountingReader(r io.Reader, limit int64) *CountingReader {
	return &CountingReader{reader: r, Limit: limit}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	if r.Limit > 0 && int64(len(p)) > r.Limit-r.BytesRead+1 {
		// Read at most one byte past the cap so oversize input is detected
		// without buffering it.
		p = p[:r.Limit-r.BytesRead+1]
	}
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.Limit > 0 && r.BytesRead > r.Limit {
		return n, ErrFileTooLarge
	}
	return n, err
}

// readCapped reads all of r, failing with UNREADABLE_FILE past maxSize.
func readCapped(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	cr := NewCountingReader(r, maxSize)
	data, err := io.ReadAll(cr)
	if errors.Is(err, ErrFileTooLarge) {
		return nil, newBatchError(KindUnreadableFile, err, "file is larger than %d bytes", maxSize)
	}
	if err != nil {
		return nil, newBatchError(KindUnreadableFile, err, "reading upload")
	}
	return data, nil
}

// decodeText returns a UTF-8 reader over data. Valid UTF-8 passes through
// with any leading BOM removed; anything else is decoded as Windows-1252.
func decodeText(data []byte) io.Reader {
	if utf8.Valid(data) {
		return transform.NewReader(bytes.NewReader(data), unicode.UTF8BOM.NewDecoder())
	}
	return transform.NewReader(bytes.NewReader(data), charmap.Windows1252.NewDecoder())
}
