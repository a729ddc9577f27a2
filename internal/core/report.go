package core

// report.go builds the per-batch result returned to callers.
//
// The report is the ground truth of a batch: counters are always derived
// from the row entries, so received equals the sum of the outcome counters
// on every exit path.

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

// Counters tallies row outcomes.
type Counters struct {
	Received        int `json:"received"`
	AcceptedInserts int `json:"accepted_inserts"`
	AcceptedUpdates int `json:"accepted_updates"`
	Skipped         int `json:"skipped"`
	Rejected        int `json:"rejected"`
	Cancelled       int `json:"cancelled"`
}

// Balanced reports whether every received row has exactly one outcome.
func (c Counters) Balanced() bool {
	return c.Received == c.AcceptedInserts+c.AcceptedUpdates+c.Skipped+c.Rejected+c.Cancelled
}

// RowEntry is the outcome of one data row.
type RowEntry struct {
	RowIndex    int          `json:"row_index"`
	NumeroCTE   *int64       `json:"numero_cte"`
	Outcome     Outcome      `json:"outcome"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Changes     []cte.Change `json:"changes,omitempty"`
}

func (e *RowEntry) add(d Diagnostic) {
	d.RowIndex = e.RowIndex
	e.Diagnostics = append(e.Diagnostics, d)
}

// accepted reports whether the row wrote (or would write) to the store.
func (e *RowEntry) accepted() bool {
	return e.Outcome == OutcomeInserted || e.Outcome == OutcomeUpdated
}

// TraceEvent is one step of the machine-readable batch trace.
type TraceEvent struct {
	Seq      int       `json:"seq"`
	At       time.Time `json:"at"`
	Event    string    `json:"event"`
	Attempt  int       `json:"attempt,omitempty"`
	RowIndex int       `json:"row_index,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Trace event names.
const (
	TraceBatchStart = "batch.start"
	TraceBatchRetry = "batch.retry"
	TraceBatchEnd   = "batch.end"
	TraceTxBegin    = "tx.begin"
	TraceTxCommit   = "tx.commit"
	TraceTxRollback = "tx.rollback"
	TraceSavepoint  = "row.savepoint"
	TraceRowRetry   = "row.retry"
	TraceRowFind    = "row.find"
	TraceRowInsert  = "row.insert"
	TraceRowUpdate  = "row.update"
	TraceRowSkip    = "row.skip"
	TraceRowReject  = "row.reject"
)

// Report is the structured result of a batch.
type Report struct {
	BatchID      string          `json:"batch_id"`
	Status       Status          `json:"status"`
	Kind         Kind            `json:"kind,omitempty"`
	Detail       string          `json:"detail,omitempty"`
	Mode         Mode            `json:"mode"`
	Merge        cte.MergePolicy `json:"merge"`
	RowIsolation bool            `json:"row_isolation"`
	DryRun       bool            `json:"dry_run"`
	ContentType  string          `json:"content_type,omitempty"`
	Origin       string          `json:"origem_dados,omitempty"`
	SizeBytes    int64           `json:"size_bytes,omitempty"`
	Attempts     int             `json:"attempts"`

	Counters    Counters     `json:"counters"`
	Rows        []RowEntry   `json:"rows"`
	Suggestions []Suggestion `json:"suggestions"`
	Trace       []TraceEvent `json:"trace"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`

	now     func() time.Time
	attempt int
}

// NewReport starts an empty report for a batch.
func NewReport(batchID string, opts Options, now func() time.Time) *Report {
	if now == nil {
		now = time.Now
	}
	return &Report{
		BatchID:      batchID,
		Mode:         opts.Mode,
		Merge:        opts.Merge,
		RowIsolation: opts.RowIsolation,
		DryRun:       opts.DryRun,
		Origin:       opts.Origin,
		Rows:         []RowEntry{},
		Suggestions:  []Suggestion{},
		Trace:        []TraceEvent{},
		StartedAt:    now(),
		now:          now,
	}
}

func (r *Report) trace(event string, rowIndex int, format string, args ...any) {
	ev := TraceEvent{
		Seq:      len(r.Trace) + 1,
		At:       r.now(),
		Event:    event,
		Attempt:  r.attempt,
		RowIndex: rowIndex,
	}
	if format != "" {
		ev.Detail = fmt.Sprintf(format, args...)
	}
	r.Trace = append(r.Trace, ev)
}

// beginAttempt discards row entries of a previous attempt.
func (r *Report) beginAttempt(n int) {
	r.attempt = n
	r.Attempts = n
	r.Rows = r.Rows[:0]
}

func (r *Report) addRow(e RowEntry) {
	if e.Diagnostics == nil {
		e.Diagnostics = []Diagnostic{}
	}
	r.Rows = append(r.Rows, e)
}

// cancelAccepted re-marks rows accepted in a rolled-back transaction.
func (r *Report) cancelAccepted(cause string) {
	for i := range r.Rows {
		e := &r.Rows[i]
		if !e.accepted() {
			continue
		}
		e.Outcome = OutcomeCancelled
		e.Changes = nil
		e.add(Diagnostic{Kind: KindCancelled, Detail: cause})
	}
}

// cancelRows appends the given rows as cancelled.
func (r *Report) cancelRows(rows []CoerceResult, cause string) {
	for _, row := range rows {
		e := RowEntry{RowIndex: row.RowIndex, NumeroCTE: rowNumero(row), Outcome: OutcomeCancelled}
		e.add(Diagnostic{Kind: KindCancelled, Detail: cause})
		r.addRow(e)
	}
}

// fail marks the batch FAILED with a single kind.
func (r *Report) fail(kind Kind, detail string) {
	r.Status = StatusFailed
	r.Kind = kind
	r.Detail = detail
}

// finish derives the counters and closes the timing fields.
func (r *Report) finish() {
	r.Counters = tally(r.Rows)
	r.FinishedAt = r.now()
	r.DurationMs = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
	r.trace(TraceBatchEnd, 0, "%s", r.Status)
}

func tally(rows []RowEntry) Counters {
	c := Counters{Received: len(rows)}
	for _, e := range rows {
		switch e.Outcome {
		case OutcomeInserted:
			c.AcceptedInserts++
		case OutcomeUpdated:
			c.AcceptedUpdates++
		case OutcomeSkipped:
			c.Skipped++
		case OutcomeRejected:
			c.Rejected++
		case OutcomeCancelled:
			c.Cancelled++
		}
	}
	return c
}

func rowNumero(row CoerceResult) *int64 {
	n, ok := row.Numero()
	if !ok {
		return nil
	}
	return &n
}

// Row returns the entry for a physical row index.
func (r *Report) Row(rowIndex int) (RowEntry, bool) {
	for _, e := range r.Rows {
		if e.RowIndex == rowIndex {
			return e, true
		}
	}
	return RowEntry{}, false
}
