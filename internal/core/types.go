package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

// Content types accepted by the ingest pipeline.
const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Mode is the reconciliation policy of a batch.
type Mode string

const (
	ModeInsertOnly Mode = "INSERT_ONLY"
	ModeUpdateOnly Mode = "UPDATE_ONLY"
	ModeUpsert     Mode = "UPSERT"
)

// ParseMode accepts the canonical mode names in any case, with '-' or '_',
// plus the short forms "insert" and "update" and the Portuguese verbs used
// by the legacy upload form.
func ParseMode(s string) (Mode, error) {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	switch key {
	case "INSERT_ONLY", "INSERT", "INSERIR", "CRIAR":
		return ModeInsertOnly, nil
	case "UPDATE_ONLY", "UPDATE", "ALTERAR", "ATUALIZAR":
		return ModeUpdateOnly, nil
	case "UPSERT":
		return ModeUpsert, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Outcome is the per-row result of a batch.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)

// Status is the top-level result of a batch.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Options tune a single batch.
type Options struct {
	Mode Mode

	// RowIsolation wraps each row in a savepoint so a failing row does not
	// roll back rows accepted before it.
	RowIsolation bool

	// DryRun runs the whole batch and always rolls back.
	DryRun bool

	// Merge selects which stored fields updates may overwrite.
	Merge cte.MergePolicy

	// Origin is written to origem_dados on insert. Empty means
	// "<prefix>:<batch id>".
	Origin string

	// Timeout bounds the batch wall clock. Zero uses the service default.
	Timeout time.Duration
}

// Cell is one spreadsheet cell as read from the file.
type Cell struct {
	Value string

	// Typed marks cells read from a typed spreadsheet. Their numeric
	// values use the invariant '.' format and dates arrive as serial
	// day numbers.
	Typed bool
}

// TextCell returns an untyped cell.
func TextCell(s string) Cell {
	return Cell{Value: s}
}

// SourceRow is a data row with its 1-based physical row number.
type SourceRow struct {
	Index int
	Cells []Cell
}

// Table is a parsed upload: header labels and data rows.
type Table struct {
	HeaderRow int
	Header    []string
	Rows      []SourceRow
}
