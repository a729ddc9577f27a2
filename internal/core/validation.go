package core

// validation.go provides row-level validation for coerced rows.
//
// Validation happens at two points:
//  1. Before the store is touched: required fields for the mode, text
//     lengths, money precision, and the milestone chain among the row's
//     own dates.
//  2. After a merge: the milestone chain of the merged record (CheckMerged).
//
// Every violation is reported; the validator never stops at the first one.

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

// MaxValorTotal is the largest amount valor_total can hold (NUMERIC(15,2)).
var MaxValorTotal = decimal.RequireFromString("9999999999999.99")

// Limits bounds the length of text fields, in characters.
type Limits struct {
	MaxText       int
	MaxPlaca      int
	MaxFatura     int
	MaxObservacao int
}

// DefaultLimits matches the column sizes of the dashboard table. The
// VARCHAR columns cannot be configured past these values; observacao is
// TEXT and has no ceiling.
func DefaultLimits() Limits {
	return Limits{
		MaxText:       255,
		MaxPlaca:      20,
		MaxFatura:     100,
		MaxObservacao: 2000,
	}
}

// For returns the bound for text field f.
func (l Limits) For(f cte.Field) int {
	switch f {
	case cte.VeiculoPlaca:
		return l.MaxPlaca
	case cte.NumeroFatura:
		return l.MaxFatura
	case cte.Observacao:
		return l.MaxObservacao
	}
	return l.MaxText
}

// Requirement selects the required-field set.
type Requirement int

const (
	// RequireKey only requires numero_cte (updates).
	RequireKey Requirement = iota
	// RequireInsert also requires destinatario_nome and data_emissao.
	RequireInsert
)

var requiredFields = map[Requirement][]cte.Field{
	RequireKey:    {cte.NumeroCTE},
	RequireInsert: {cte.NumeroCTE, cte.DestinatarioNome, cte.DataEmissao},
}

// RowValidator checks coerced rows against field and cross-field rules.
type RowValidator struct {
	limits Limits
}

// NewRowValidator creates a validator with the given text bounds.
func NewRowValidator(limits Limits) *RowValidator {
	return &RowValidator{limits: limits}
}

// Validate returns every violation of row under req. Fields that already
// failed coercion are not reported again.
func (v *RowValidator) Validate(row CoerceResult, req Requirement) []Diagnostic {
	var diags []Diagnostic
	diags = append(diags, v.MissingRequired(row, req)...)

	for _, f := range row.Patch.Set.Fields() {
		switch f.Kind() {
		case cte.KindText:
			s := row.Patch.Values.Text(f)
			if s == nil {
				continue
			}
			if limit := v.limits.For(f); limit > 0 && utf8.RuneCountInString(*s) > limit {
				diags = append(diags, Diagnostic{
					Kind:     KindCoerceFailed,
					RowIndex: row.RowIndex,
					Field:    f.String(),
					Detail:   fmt.Sprintf("longer than %d characters", limit),
				})
			}
		case cte.KindMoney:
			d := row.Patch.Values.ValorTotal
			if !d.Equal(d.Round(2)) {
				diags = append(diags, Diagnostic{
					Kind:     KindCoerceFailed,
					RowIndex: row.RowIndex,
					Field:    f.String(),
					Detail:   "more than two decimal places",
				})
			}
			if d.GreaterThan(MaxValorTotal) {
				diags = append(diags, Diagnostic{
					Kind:     KindCoerceFailed,
					RowIndex: row.RowIndex,
					Field:    f.String(),
					Detail:   "larger than " + MaxValorTotal.StringFixed(2),
				})
			}
			if d.IsNegative() {
				diags = append(diags, Diagnostic{
					Kind:     KindNegativeMoney,
					RowIndex: row.RowIndex,
					Field:    f.String(),
					Detail:   "money must not be negative",
				})
			}
		}
	}

	own := cte.NewFromPatch(row.Patch)
	if d := chainDiagnostic(row.RowIndex, &own); d != nil {
		diags = append(diags, *d)
	}
	return diags
}

// MissingRequired reports required fields with no value.
func (v *RowValidator) MissingRequired(row CoerceResult, req Requirement) []Diagnostic {
	var diags []Diagnostic
	for _, f := range requiredFields[req] {
		if row.Patch.Has(f) || row.Failed.Has(f) {
			continue
		}
		diags = append(diags, Diagnostic{
			Kind:     KindRequiredFieldBlank,
			RowIndex: row.RowIndex,
			Field:    f.String(),
			Detail:   "required field is empty",
		})
	}
	return diags
}

// CheckMerged verifies the milestone chain of a record about to be written.
func (v *RowValidator) CheckMerged(rowIndex int, rec *cte.Record) *Diagnostic {
	return chainDiagnostic(rowIndex, rec)
}

func chainDiagnostic(rowIndex int, rec *cte.Record) *Diagnostic {
	err := rec.CheckChain()
	if err == nil {
		return nil
	}
	d := &Diagnostic{
		Kind:     KindMonotonicViolation,
		RowIndex: rowIndex,
		Detail:   err.Error(),
	}
	var cv *cte.ChainViolation
	if errors.As(err, &cv) {
		d.Field = cv.Later.String()
	}
	return d
}
