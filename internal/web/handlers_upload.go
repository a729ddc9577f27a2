package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/ctedash/internal/core"
	"github.com/JonMunkholm/ctedash/internal/cte"
)

const (
	// multipartMemory is kept in memory; larger uploads spill to disk.
	multipartMemory = 32 << 20

	// multipartOverhead allows for boundaries and the option fields.
	multipartOverhead = 1 << 20
)

var errNoFile = errors.New("no file provided")

// handleImport ingests one uploaded CSV or XLSX file.
//
// Form fields:
//   - file: the spreadsheet (required)
//   - mode: INSERT_ONLY, UPDATE_ONLY or UPSERT (default from config)
//   - merge: overwrite or fill_empty (default overwrite)
//   - row_isolation, dry_run: booleans
//
// The response body is always the batch report once the batch has run;
// the status code reflects its outcome.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrFileTooLarge, err), http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", errNoFile, err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}

	opts, err := s.importOptions(r)
	if err != nil {
		file.Close()
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	up := core.Upload{
		Body:        file,
		ContentType: header.Header.Get("Content-Type"),
		FileName:    header.Filename,
	}
	rep, err := s.service.Ingest(r.Context(), up, opts)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	writeJSONStatus(w, reportStatus(rep), rep)
}

// importOptions reads the batch options from the parsed form. Mode and
// merge policy are validated by the service.
func (s *Server) importOptions(r *http.Request) (core.Options, error) {
	opts := core.Options{
		Mode:         core.Mode(strings.TrimSpace(r.FormValue("mode"))),
		Merge:        cte.MergePolicy(strings.TrimSpace(r.FormValue("merge"))),
		RowIsolation: s.service.Settings().RowIsolation,
	}

	var err error
	if opts.RowIsolation, err = formBool(r, "row_isolation", opts.RowIsolation); err != nil {
		return core.Options{}, err
	}
	if opts.DryRun, err = formBool(r, "dry_run", false); err != nil {
		return core.Options{}, err
	}
	return opts, nil
}

func formBool(r *http.Request, key string, def bool) (bool, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
