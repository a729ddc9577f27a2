package web

// errors.go maps service errors and batch outcomes onto HTTP responses.
//
// The technical error is logged with the request id; the client receives
// the user-facing catalogue entry from core.MapError.

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/ctedash/internal/core"
	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/logging"
	"github.com/JonMunkholm/ctedash/internal/store"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// respondError logs err and writes its user-facing message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	writeJSONStatus(w, status, ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// statusFor picks the HTTP status of an error returned by the service.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidMode),
		errors.Is(err, cte.ErrInvalidMergePolicy),
		errors.Is(err, core.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyBatches):
		return http.StatusTooManyRequests
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	var be *core.BatchError
	if errors.As(err, &be) {
		return statusForKind(be.Kind)
	}
	return http.StatusInternalServerError
}

// reportStatus picks the HTTP status of a finished batch. The body is the
// report in every case.
func reportStatus(rep *core.Report) int {
	switch rep.Status {
	case core.StatusCompleted:
		return http.StatusOK
	case core.StatusCancelled:
		return http.StatusGatewayTimeout
	}
	return statusForKind(rep.Kind)
}

func statusForKind(k core.Kind) int {
	switch k {
	case core.KindMissingKeyColumn, core.KindUnreadableFile:
		return http.StatusUnprocessableEntity
	case core.KindUnsupportedContentType:
		return http.StatusUnsupportedMediaType
	case core.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case core.KindConflict, core.KindConstraintViolation:
		return http.StatusConflict
	case core.KindCancelled:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
