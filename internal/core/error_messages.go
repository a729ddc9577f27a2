package core

// error_messages.go maps diagnostics and errors to user-facing messages
// with codes for support reference.
//
// # Error Codes Reference
//
// # Ingest Errors (ING001-ING099)
//
// Batch-fatal problems with the uploaded file or request:
//
//	ING001 - MISSING_KEY_COLUMN: no column maps to numero_cte
//	ING002 - UNREADABLE_FILE: the file could not be parsed
//	ING003 - UNSUPPORTED_CONTENT_TYPE: not CSV or XLSX
//	ING004 - invalid mode
//	ING005 - invalid merge policy
//	ING006 - too many concurrent batches
//	ING007 - batch cancelled or timed out
//	ING008 - unknown or read-only field in a record edit
//
// # Row Errors (ROW001-ROW099)
//
//	ROW001 - REQUIRED_FIELD_BLANK
//	ROW002 - COERCE_FAILED
//	ROW003 - NEGATIVE_MONEY
//	ROW004 - MONOTONIC_VIOLATION
//	ROW005 - DUPLICATE_IN_BATCH
//	ROW006 - ALREADY_EXISTS
//	ROW007 - NOT_FOUND
//	ROW008 - CANCELLED
//	ROW009 - UNCHANGED
//
// # Store Errors (STO001-STO099)
//
//	STO001 - STORE_UNAVAILABLE
//	STO002 - CONSTRAINT_VIOLATION
//	STO003 - CONFLICT
//	STO004 - record not found (single-record lookups)
//
// ERR000 is the fallback for anything else. Support staff should check the
// logs for the technical error when users report it.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var kindMessages = map[Kind]UserMessage{
	KindMissingKeyColumn: {
		Message: "The file has no numero_cte column",
		Action:  "Add a numero_cte column or download the template",
		Code:    "ING001",
	},
	KindUnreadableFile: {
		Message: "The file could not be read",
		Action:  "Save it again as CSV (separated by ';') or XLSX and retry",
		Code:    "ING002",
	},
	KindUnsupportedContentType: {
		Message: "Only CSV and XLSX files are accepted",
		Action:  "Export the spreadsheet as CSV or XLSX",
		Code:    "ING003",
	},
	KindRequiredFieldBlank: {
		Message: "A required field is empty",
		Action:  "Fill numero_cte, and destinatario_nome and data_emissao for new records",
		Code:    "ROW001",
	},
	KindCoerceFailed: {
		Message: "A value has the wrong format",
		Action:  "Use DD/MM/YYYY dates and numbers such as 1.234,50",
		Code:    "ROW002",
	},
	KindNegativeMoney: {
		Message: "Money values cannot be negative",
		Action:  "Correct valor_total",
		Code:    "ROW003",
	},
	KindMonotonicViolation: {
		Message: "Milestone dates are out of order",
		Action:  "Dates must follow emissao, 1º envio, RQ/TMC, atesto, envio final, baixa",
		Code:    "ROW004",
	},
	KindDuplicateInBatch: {
		Message: "The same numero_cte appears more than once in the file",
		Action:  "Keep one row per CT-e",
		Code:    "ROW005",
	},
	KindAlreadyExists: {
		Message: "The CT-e is already registered",
		Action:  "Use UPDATE_ONLY or UPSERT mode to change it",
		Code:    "ROW006",
	},
	KindNotFound: {
		Message: "The CT-e is not registered",
		Action:  "Use INSERT_ONLY or UPSERT mode to create it",
		Code:    "ROW007",
	},
	KindCancelled: {
		Message: "The row was not saved because the batch stopped",
		Action:  "Upload the file again",
		Code:    "ROW008",
	},
	KindUnchanged: {
		Message: "The row matches the stored record",
		Action:  "No action needed",
		Code:    "ROW009",
	},
	KindStoreUnavailable: {
		Message: "The database is unavailable",
		Action:  "Please try again in a few moments",
		Code:    "STO001",
	},
	KindConstraintViolation: {
		Message: "The database rejected a record",
		Action:  "Check for duplicate CT-e numbers and retry",
		Code:    "STO002",
	},
	KindConflict: {
		Message: "Another upload changed the same records",
		Action:  "Please try again",
		Code:    "STO003",
	},
}

// sentinelMessages is checked with errors.Is, in order.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrInvalidMode, UserMessage{
		Message: "Unknown import mode",
		Action:  "Use INSERT_ONLY, UPDATE_ONLY or UPSERT",
		Code:    "ING004",
	}},
	{cte.ErrInvalidMergePolicy, UserMessage{
		Message: "Unknown merge policy",
		Action:  "Use overwrite or fill_empty",
		Code:    "ING005",
	}},
	{ErrTooManyBatches, UserMessage{
		Message: "Too many uploads in progress",
		Action:  "Please wait a moment and try again",
		Code:    "ING006",
	}},
	{ErrUnknownField, UserMessage{
		Message: "The field cannot be edited",
		Action:  "Use one of the template column names except numero_cte",
		Code:    "ING008",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "The request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "ING007",
	}},
	{context.Canceled, UserMessage{
		Message: "The request was cancelled",
		Action:  "Please try again",
		Code:    "ING007",
	}},
	{store.ErrNotFound, UserMessage{
		Message: "CT-e not found",
		Action:  "Check the CT-e number",
		Code:    "STO004",
	}},
	{store.ErrConflict, kindMessages[KindConflict]},
	{store.ErrConstraintViolation, kindMessages[KindConstraintViolation]},
	{store.ErrUnavailable, kindMessages[KindStoreUnavailable]},
}

// errorPatterns catches errors that lost their sentinel, such as driver
// errors surfaced as text. The first match wins.
var errorPatterns = []struct {
	pattern string
	msg     UserMessage
}{
	{"connection refused", kindMessages[KindStoreUnavailable]},
	{"connection reset", kindMessages[KindStoreUnavailable]},
	{"duplicate key", kindMessages[KindConstraintViolation]},
	{"deadlock", kindMessages[KindConflict]},
	{"request body too large", kindMessages[KindUnreadableFile]},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV or XLSX file to upload",
		Code:    "ING002",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MessageForKind returns the message for a diagnostic kind.
func MessageForKind(k Kind) UserMessage {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return defaultMessage
}

// MapError converts an error to a user-friendly message. A *BatchError maps
// by kind, known sentinels by errors.Is, and anything else by text pattern.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var be *BatchError
	if errors.As(err, &be) {
		return MessageForKind(be.Kind)
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
