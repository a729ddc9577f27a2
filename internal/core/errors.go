package core

// errors.go defines the diagnostic taxonomy shared by every stage of the
// ingest pipeline.
//
// Row-level problems are values (Diagnostic) collected into the report;
// they never surface as Go errors to the caller. Batch-fatal problems are
// carried as *BatchError until the service turns them into a FAILED report.

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/ctedash/internal/store"
)

// Kind classifies a diagnostic.
type Kind string

// Batch-fatal kinds.
const (
	KindMissingKeyColumn       Kind = "MISSING_KEY_COLUMN"
	KindUnreadableFile         Kind = "UNREADABLE_FILE"
	KindUnsupportedContentType Kind = "UNSUPPORTED_CONTENT_TYPE"
	KindStoreUnavailable       Kind = "STORE_UNAVAILABLE"
)

// Row-level kinds. KindConflict and KindConstraintViolation become
// batch-fatal when the batch-level retry is exhausted.
const (
	KindRequiredFieldBlank  Kind = "REQUIRED_FIELD_BLANK"
	KindCoerceFailed        Kind = "COERCE_FAILED"
	KindNegativeMoney       Kind = "NEGATIVE_MONEY"
	KindMonotonicViolation  Kind = "MONOTONIC_VIOLATION"
	KindDuplicateInBatch    Kind = "DUPLICATE_IN_BATCH"
	KindAlreadyExists       Kind = "ALREADY_EXISTS"
	KindNotFound            Kind = "NOT_FOUND"
	KindConstraintViolation Kind = "CONSTRAINT_VIOLATION"
	KindConflict            Kind = "CONFLICT"
	KindCancelled           Kind = "CANCELLED"
)

// KindUnchanged is informational: an update that matched the stored
// record field for field.
const KindUnchanged Kind = "UNCHANGED"

// Fatal reports whether k aborts the whole batch.
func (k Kind) Fatal() bool {
	switch k {
	case KindMissingKeyColumn, KindUnreadableFile, KindUnsupportedContentType, KindStoreUnavailable:
		return true
	}
	return false
}

// Diagnostic is a structured problem report attached to a row or a batch.
type Diagnostic struct {
	Kind     Kind   `json:"kind"`
	RowIndex int    `json:"row_index,omitempty"`
	Field    string `json:"field,omitempty"`
	RawValue string `json:"raw_value,omitempty"`
	Detail   string `json:"detail"`
}

// Caller errors returned directly by the service, not as reports.
var (
	ErrInvalidMode    = errors.New("invalid mode")
	ErrFileTooLarge   = errors.New("file exceeds maximum size")
	ErrTooManyBatches = errors.New("too many concurrent batches")
)

// BatchError aborts a batch with a single kind.
type BatchError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *BatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *BatchError) Unwrap() error { return e.Err }

func newBatchError(kind Kind, err error, format string, args ...any) *BatchError {
	return &BatchError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// storeKind classifies a store error. Errors the store contract does not
// name are treated as STORE_UNAVAILABLE.
func storeKind(err error) Kind {
	switch {
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.Is(err, store.ErrConstraintViolation):
		return KindConstraintViolation
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	}
	return KindStoreUnavailable
}
