package core

// reconcile.go applies coerced rows to the store.
//
// Rows are processed in input order inside one transaction. Per row the
// reconciler rejects invalid or duplicate rows, looks the key up, and then
// inserts, merges, or skips according to the batch mode:
//
//	mode         key exists           key absent
//	INSERT_ONLY  skip ALREADY_EXISTS  insert
//	UPDATE_ONLY  merge                skip NOT_FOUND
//	UPSERT       merge                insert
//
// Atomic batches (the default) restart once on CONFLICT or
// CONSTRAINT_VIOLATION. With row isolation every row runs under its own
// savepoint and is retried once before being rejected with the store kind.
// Cancellation is honoured between rows only; store calls run on a context
// that ignores cancellation so the transaction stays well formed.

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/store"
)

// maxAttempts bounds batch restarts and per-row retries.
const maxAttempts = 2

const tracerName = "github.com/JonMunkholm/ctedash/internal/core"

// Reconciler decides and applies the outcome of each row.
type Reconciler struct {
	store     store.Store
	validator *RowValidator
	tracer    trace.Tracer
}

// NewReconciler creates a reconciler over st.
func NewReconciler(st store.Store, v *RowValidator) *Reconciler {
	if v == nil {
		v = NewRowValidator(DefaultLimits())
	}
	return &Reconciler{
		store:     st,
		validator: v,
		tracer:    otel.Tracer(tracerName),
	}
}

// Run reconciles rows and records every outcome in rep. It sets rep.Status
// and, for failed batches, rep.Kind.
func (rc *Reconciler) Run(ctx context.Context, rows []CoerceResult, opts Options, rep *Report) {
	ctx, span := rc.tracer.Start(ctx, "ingest.reconcile", trace.WithAttributes(
		attribute.String("batch.id", rep.BatchID),
		attribute.String("batch.mode", string(opts.Mode)),
		attribute.Bool("batch.row_isolation", opts.RowIsolation),
		attribute.Bool("batch.dry_run", opts.DryRun),
		attribute.Int("batch.rows", len(rows)),
	))
	defer span.End()

	for attempt := 1; ; attempt++ {
		rep.beginAttempt(attempt)
		err := rc.attempt(ctx, rows, opts, rep)
		if err == nil {
			break
		}

		var be *BatchError
		if !errors.As(err, &be) {
			be = newBatchError(KindStoreUnavailable, err, "store failure")
		}
		retryable := be.Kind == KindConflict || be.Kind == KindConstraintViolation
		if retryable && attempt < maxAttempts {
			rep.trace(TraceBatchRetry, 0, "%s", be.Kind)
			continue
		}
		rep.fail(be.Kind, be.Detail)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(be.Kind))
		break
	}
	span.SetAttributes(attribute.String("batch.status", string(rep.Status)))
}

// attempt runs the batch once. A nil return means the batch reached a
// final state recorded in rep; a *BatchError means the transaction was
// rolled back and the accepted rows were re-marked as cancelled.
func (rc *Reconciler) attempt(ctx context.Context, rows []CoerceResult, opts Options, rep *Report) error {
	if cause := cancelCause(ctx); cause != "" {
		rep.cancelRows(rows, cause)
		rep.Status = StatusCancelled
		return nil
	}

	// An in-flight store call always completes.
	storeCtx := context.WithoutCancel(ctx)

	tx, err := rc.store.Begin(ctx)
	if err != nil {
		if cause := cancelCause(ctx); cause != "" {
			rep.cancelRows(rows, cause)
			rep.Status = StatusCancelled
			return nil
		}
		return rc.abort(rows, rep, newBatchError(storeKind(err), err, "begin transaction"))
	}
	rep.trace(TraceTxBegin, 0, "")

	b := &batchRun{
		rc:   rc,
		tx:   tx,
		ctx:  storeCtx,
		opts: opts,
		rep:  rep,
		seen: make(map[int64]int),
	}

	for i, row := range rows {
		if cause := cancelCause(ctx); cause != "" {
			b.rollback(cause)
			rep.cancelAccepted(cause)
			rep.cancelRows(rows[i:], cause)
			rep.Status = StatusCancelled
			return nil
		}

		entry, err := b.row(row)
		if err != nil {
			b.rollback(err.Error())
			be := newBatchError(storeKind(err), err, "row %d", row.RowIndex)
			return rc.abort(rows[i:], rep, be)
		}
		rep.addRow(entry)
	}

	if cause := cancelCause(ctx); cause != "" {
		b.rollback(cause)
		rep.cancelAccepted(cause)
		rep.Status = StatusCancelled
		return nil
	}

	if opts.DryRun {
		b.rollback("dry run")
		rep.Status = StatusCompleted
		return nil
	}

	if err := tx.Commit(storeCtx); err != nil {
		_ = tx.Rollback(storeCtx)
		rep.trace(TraceTxRollback, 0, "commit failed: %s", storeKind(err))
		return rc.abort(nil, rep, newBatchError(storeKind(err), err, "commit"))
	}
	rep.trace(TraceTxCommit, 0, "")
	rep.Status = StatusCompleted
	return nil
}

// abort records a failed attempt: accepted rows and the unprocessed rest
// are cancelled.
func (rc *Reconciler) abort(rest []CoerceResult, rep *Report, be *BatchError) error {
	cause := fmt.Sprintf("transaction rolled back: %s", be.Kind)
	rep.cancelAccepted(cause)
	rep.cancelRows(rest, cause)
	return be
}

// cancelCause describes why ctx is done, or returns "".
func cancelCause(ctx context.Context) string {
	switch {
	case ctx.Err() == nil:
		return ""
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "batch timeout"
	default:
		return "batch cancelled"
	}
}

// batchRun is the state of one attempt.
type batchRun struct {
	rc   *Reconciler
	tx   store.Tx
	ctx  context.Context
	opts Options
	rep  *Report

	// seen maps each numero_cte to the row that first used it.
	seen map[int64]int
}

func (b *batchRun) rollback(cause string) {
	_ = b.tx.Rollback(b.ctx)
	b.rep.trace(TraceTxRollback, 0, "%s", cause)
}

// row decides the outcome of one row. A non-nil error is a store failure
// that aborts the attempt.
func (b *batchRun) row(row CoerceResult) (RowEntry, error) {
	entry := RowEntry{RowIndex: row.RowIndex, NumeroCTE: rowNumero(row)}

	diags := append([]Diagnostic(nil), row.Diagnostics...)
	if n, ok := row.Numero(); ok {
		if first, dup := b.seen[n]; dup {
			diags = append(diags, Diagnostic{
				Kind:   KindDuplicateInBatch,
				Field:  cte.NumeroCTE.String(),
				Detail: fmt.Sprintf("numero_cte already used by row %d", first),
			})
		} else {
			b.seen[n] = row.RowIndex
		}
	}

	req := RequireKey
	if b.opts.Mode == ModeInsertOnly {
		req = RequireInsert
	}
	diags = append(diags, b.rc.validator.Validate(row, req)...)
	if len(diags) > 0 {
		return b.reject(entry, diags...), nil
	}

	if !b.opts.RowIsolation {
		return b.apply(row, entry)
	}
	return b.isolated(row, entry)
}

// isolated applies a row under a savepoint, retrying once on a retryable
// store error.
func (b *batchRun) isolated(row CoerceResult, entry RowEntry) (RowEntry, error) {
	sp := fmt.Sprintf("row_%d", row.RowIndex)
	for try := 1; ; try++ {
		if err := b.tx.Savepoint(b.ctx, sp); err != nil {
			return entry, err
		}
		b.rep.trace(TraceSavepoint, row.RowIndex, "%s", sp)

		out, err := b.apply(row, entry)
		if err == nil {
			if rerr := b.tx.Release(b.ctx, sp); rerr != nil {
				return entry, rerr
			}
			return out, nil
		}

		if rerr := b.tx.RollbackTo(b.ctx, sp); rerr != nil {
			return entry, rerr
		}
		if rerr := b.tx.Release(b.ctx, sp); rerr != nil {
			return entry, rerr
		}
		if !store.Retryable(err) {
			return entry, err
		}
		if try < maxAttempts {
			b.rep.trace(TraceRowRetry, row.RowIndex, "%s", storeKind(err))
			continue
		}
		return b.reject(entry, Diagnostic{Kind: storeKind(err), Detail: err.Error()}), nil
	}
}

// apply looks the key up and performs the mode's action.
func (b *batchRun) apply(row CoerceResult, entry RowEntry) (RowEntry, error) {
	n := row.Patch.Values.NumeroCTE

	existing, err := b.tx.FindByNumero(b.ctx, n)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return entry, err
	}
	b.rep.trace(TraceRowFind, row.RowIndex, "exists=%t", exists)

	switch {
	case exists && b.opts.Mode == ModeInsertOnly:
		return b.skip(entry, KindAlreadyExists, "numero_cte already stored"), nil

	case !exists && b.opts.Mode == ModeUpdateOnly:
		return b.skip(entry, KindNotFound, "numero_cte not stored"), nil

	case !exists:
		if b.opts.Mode == ModeUpsert {
			if diags := b.rc.validator.MissingRequired(row, RequireInsert); len(diags) > 0 {
				return b.reject(entry, diags...), nil
			}
		}
		rec := cte.NewFromPatch(row.Patch)
		rec.OrigemDados = b.opts.Origin
		if _, err := b.tx.Insert(b.ctx, rec); err != nil {
			return entry, err
		}
		b.rep.trace(TraceRowInsert, row.RowIndex, "")
		entry.Outcome = OutcomeInserted
		return entry, nil
	}

	merged, changes := existing.Merge(row.Patch, b.opts.Merge)
	if d := b.rc.validator.CheckMerged(row.RowIndex, &merged); d != nil {
		return b.reject(entry, *d), nil
	}

	entry.Outcome = OutcomeUpdated
	if len(changes) == 0 {
		entry.add(Diagnostic{Kind: KindUnchanged, Detail: "row matches stored record"})
		b.rep.trace(TraceRowUpdate, row.RowIndex, "unchanged")
		return entry, nil
	}
	if err := b.tx.Update(b.ctx, n, cte.ChangedPatch(merged, changes)); err != nil {
		return entry, err
	}
	entry.Changes = changes
	b.rep.trace(TraceRowUpdate, row.RowIndex, "%d fields", len(changes))
	return entry, nil
}

func (b *batchRun) reject(entry RowEntry, diags ...Diagnostic) RowEntry {
	entry.Outcome = OutcomeRejected
	for _, d := range diags {
		entry.add(d)
	}
	b.rep.trace(TraceRowReject, entry.RowIndex, "%s", diags[0].Kind)
	return entry
}

func (b *batchRun) skip(entry RowEntry, kind Kind, detail string) RowEntry {
	entry.Outcome = OutcomeSkipped
	entry.add(Diagnostic{Kind: kind, Field: cte.NumeroCTE.String(), Detail: detail})
	b.rep.trace(TraceRowSkip, entry.RowIndex, "%s", kind)
	return entry
}
