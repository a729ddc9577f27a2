package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ctedash/internal/core"
)

// maxEditBody bounds the JSON body of a record edit.
const maxEditBody = 64 << 10

var errBadNumero = errors.New("numero_cte must be a positive whole number")

// handleGetCTE returns one record with its derived process attributes.
func (s *Server) handleGetCTE(w http.ResponseWriter, r *http.Request) {
	numero, ok := s.numeroParam(w, r)
	if !ok {
		return
	}

	view, err := s.service.Get(r.Context(), numero)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, view)
}

// handleEditCTE changes fields of one record. The body is a JSON object of
// canonical field names to raw values, formatted as in the upload template.
// Validation problems are returned as 422 with the diagnostics and nothing
// is written.
func (s *Server) handleEditCTE(w http.ResponseWriter, r *http.Request) {
	numero, ok := s.numeroParam(w, r)
	if !ok {
		return
	}

	var values map[string]string
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEditBody))
	if err := dec.Decode(&values); err != nil {
		writeError(w, r, http.StatusBadRequest, "body must be a JSON object of field names to text values")
		return
	}

	res, err := s.service.Edit(r.Context(), numero, values)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	if len(res.Diagnostics) > 0 {
		writeJSONStatus(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, res)
}

// handleSummary returns the dashboard projection over all records.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.service.Summary(r.Context())
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, sum)
}

// handleTemplate downloads the import template as csv or xlsx.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	var (
		data        []byte
		err         error
		contentType string
	)
	format := chi.URLParam(r, "format")
	switch format {
	case "csv":
		data, err = core.TemplateCSV()
		contentType = core.ContentTypeCSV + "; charset=utf-8"
	case "xlsx":
		data, err = core.TemplateXLSX()
		contentType = core.ContentTypeXLSX
	default:
		writeError(w, r, http.StatusNotFound, "template format must be csv or xlsx")
		return
	}
	if err != nil {
		s.respondError(w, r, fmt.Errorf("render %s template: %w", format, err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="modelo_ctes.%s"`, format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// numeroParam parses the {numero} URL parameter, writing a 400 on failure.
func (s *Server) numeroParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "numero")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, r, http.StatusBadRequest, errBadNumero.Error())
		return 0, false
	}
	return n, true
}
