package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/JonMunkholm/ctedash/internal/cte"
	"github.com/JonMunkholm/ctedash/internal/logging"
)

// ErrUnknownField is returned when an edit names a field outside the
// catalog or tries to change numero_cte.
var ErrUnknownField = errors.New("unknown or read-only field")

// EditResult is the outcome of a single-record edit. When Diagnostics is
// non-empty nothing was written.
type EditResult struct {
	Record      cte.View     `json:"record"`
	Changes     []cte.Change `json:"changes"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Edit changes fields of one stored record. Values are raw strings keyed by
// canonical field name and go through the same coercion, validation and
// merge as an UPDATE_ONLY row. Blank values leave the field untouched.
func (s *Service) Edit(ctx context.Context, numero int64, values map[string]string) (EditResult, error) {
	labels := []string{cte.NumeroCTE.String()}
	cells := []Cell{TextCell(fmt.Sprint(numero))}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, ok := cte.ParseField(name)
		if !ok || f == cte.NumeroCTE {
			return EditResult{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		labels = append(labels, name)
		cells = append(cells, TextCell(values[name]))
	}

	header, err := NormalizeHeaders(labels)
	if err != nil {
		return EditResult{}, err
	}
	row := CoerceRow(0, cells, header)
	v := NewRowValidator(s.settings.Limits)

	res := EditResult{Changes: []cte.Change{}, Diagnostics: row.Diagnostics}
	res.Diagnostics = append(res.Diagnostics, v.Validate(row, RequireKey)...)
	if len(res.Diagnostics) > 0 {
		return res, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return EditResult{}, fmt.Errorf("edit cte %d: %w", numero, err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	cur, err := tx.FindByNumero(ctx, numero)
	if err != nil {
		return EditResult{}, fmt.Errorf("edit cte %d: %w", numero, err)
	}
	merged, changes := cur.Merge(row.Patch, cte.MergeOverwrite)
	if d := v.CheckMerged(0, &merged); d != nil {
		res.Diagnostics = append(res.Diagnostics, *d)
		return res, nil
	}

	if len(changes) > 0 {
		if err := tx.Update(ctx, numero, cte.ChangedPatch(merged, changes)); err != nil {
			return EditResult{}, fmt.Errorf("edit cte %d: %w", numero, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return EditResult{}, fmt.Errorf("edit cte %d: %w", numero, err)
		}
		res.Changes = changes

		edited := make([]string, 0, len(changes))
		for _, c := range changes {
			edited = append(edited, c.Field.String())
		}
		logging.WithFields(ctx, "numero_cte", numero).Info("cte edited", "fields", edited)
	}

	stored, err := s.store.Get(ctx, numero)
	if err != nil {
		return EditResult{}, fmt.Errorf("edit cte %d: %w", numero, err)
	}
	res.Record = cte.NewView(stored)
	return res, nil
}
