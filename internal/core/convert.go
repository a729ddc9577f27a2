package core

// convert.go is the value coercer: it turns raw cells into typed CT-e field
// values.
//
// It handles the messy reality of spreadsheet exports:
//   - Brazilian and international number formats ("1.234,50", "1,234.50")
//   - Currency prefixes ("R$ 1.500,00")
//   - ISO, DD/MM/YYYY and DD-MM-YYYY dates, and spreadsheet serial days
//   - Excel formula prefixes (="value")
//
// Coercion never fails a batch. Problems are returned as diagnostics and
// the field is left out of the row's patch.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

var (
	plainDecimal = regexp.MustCompile(`^(\d+(\.\d+)?|\.\d+)$`)
	isoDate      = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[ T]\d{1,2}:\d{2}(?::\d{2}(?:\.\d+)?)?)?$`)
	dayFirstDate = regexp.MustCompile(`^(\d{1,2})([/-])(\d{1,2})([/-])(\d+)(?: \d{1,2}:\d{2}(?::\d{2})?)?$`)
	allDigits    = regexp.MustCompile(`^\d+$`)
	keyNumber    = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

// currencyPrefixes are stripped from money strings, longest first.
var currencyPrefixes = []string{"R$", "US$", "BRL", "$"}

// serialEpoch is day zero of spreadsheet serial dates.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxSerialDay is 9999-12-31.
const maxSerialDay = 2958465

// coerceError is a coercion problem with its diagnostic kind.
type coerceError struct {
	kind   Kind
	detail string
}

func (e *coerceError) Error() string { return e.detail }

func coerceFailed(format string, args ...any) *coerceError {
	return &coerceError{kind: KindCoerceFailed, detail: fmt.Sprintf(format, args...)}
}

// CleanCell trims whitespace and unwraps the Excel text-formula form
// ="value".
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

// ParseMoney coerces a money cell. ok is false for a blank cell. The
// result is rounded half away from zero to two decimals.
func ParseMoney(c Cell) (v decimal.Decimal, ok bool, err error) {
	s := CleanCell(c.Value)
	if s == "" {
		return decimal.Zero, false, nil
	}

	if c.Typed {
		if d, perr := decimal.NewFromString(s); perr == nil {
			if d.IsNegative() {
				return decimal.Zero, false, &coerceError{kind: KindNegativeMoney, detail: "money must not be negative"}
			}
			return d.Round(2), true, nil
		}
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(s[1:])
	}
	for _, p := range currencyPrefixes {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(s[1:])
	}

	// Spaces (including no-break space) group thousands.
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\u202f' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, false, coerceFailed("no digits in money value")
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != ',' && r != '.' {
			return decimal.Zero, false, coerceFailed("unexpected character %q in money value", r)
		}
	}

	plain, nerr := normalizeSeparators(s)
	if nerr != nil {
		return decimal.Zero, false, nerr
	}
	d, perr := decimal.NewFromString(plain)
	if perr != nil {
		return decimal.Zero, false, coerceFailed("malformed money value")
	}
	if negative && !d.IsZero() {
		return decimal.Zero, false, &coerceError{kind: KindNegativeMoney, detail: "money must not be negative"}
	}
	return d.Round(2), true, nil
}

// normalizeSeparators rewrites a digits-and-separators string to the
// plain "1234.56" form. When both ',' and '.' appear the rightmost is the
// decimal separator. A single kind of separator is decimal when it occurs
// once and thousands grouping when it repeats.
func normalizeSeparators(s string) (string, *coerceError) {
	lastComma, lastDot := strings.LastIndexByte(s, ','), strings.LastIndexByte(s, '.')

	var decSep, thouSep byte
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			decSep, thouSep = ',', '.'
		} else {
			decSep, thouSep = '.', ','
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 {
			decSep = ','
		} else {
			thouSep = ','
		}
	case lastDot >= 0:
		if strings.Count(s, ".") == 1 {
			decSep = '.'
		} else {
			thouSep = '.'
		}
	}

	intPart, frac := s, ""
	if decSep != 0 {
		i := strings.LastIndexByte(s, decSep)
		intPart, frac = s[:i], s[i+1:]
		if strings.IndexByte(intPart, decSep) >= 0 {
			return "", coerceFailed("more than one decimal separator")
		}
		if frac == "" {
			return "", coerceFailed("missing digits after decimal separator")
		}
	}
	if thouSep != 0 {
		groups := strings.Split(intPart, string(thouSep))
		if len(groups[0]) == 0 || len(groups[0]) > 3 {
			return "", coerceFailed("misplaced thousands separator")
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return "", coerceFailed("misplaced thousands separator")
			}
		}
		intPart = strings.Join(groups, "")
	}
	if intPart == "" {
		intPart = "0"
	}

	plain := intPart
	if frac != "" {
		plain += "." + frac
	}
	if !plainDecimal.MatchString(plain) {
		return "", coerceFailed("malformed money value")
	}
	return plain, nil
}

// ParseDate coerces a date cell. ok is false for a blank cell.
func ParseDate(c Cell) (v cte.Date, ok bool, err error) {
	s := CleanCell(c.Value)
	if s == "" {
		return cte.Date{}, false, nil
	}

	if c.Typed {
		if d, perr := decimal.NewFromString(s); perr == nil {
			return serialDate(d.Floor())
		}
	}
	if allDigits.MatchString(s) {
		d, perr := decimal.NewFromString(s)
		if perr != nil {
			return cte.Date{}, false, coerceFailed("malformed date")
		}
		return serialDate(d)
	}

	if m := isoDate.FindStringSubmatch(s); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	if m := dayFirstDate.FindStringSubmatch(s); m != nil {
		if m[2] != m[4] {
			return cte.Date{}, false, coerceFailed("mixed date separators")
		}
		if len(m[5]) != 4 {
			return cte.Date{}, false, coerceFailed("year must have four digits")
		}
		return civilDate(m[5], m[3], m[1])
	}
	return cte.Date{}, false, coerceFailed("unrecognised date format (use DD/MM/YYYY or YYYY-MM-DD)")
}

func serialDate(d decimal.Decimal) (cte.Date, bool, error) {
	if d.LessThan(decimal.NewFromInt(1)) || d.GreaterThan(decimal.NewFromInt(maxSerialDay)) {
		return cte.Date{}, false, coerceFailed("serial day %s out of range", d.String())
	}
	return cte.DateOf(serialEpoch.AddDate(0, 0, int(d.IntPart()))), true, nil
}

func civilDate(year, month, day string) (cte.Date, bool, error) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if y < 1 || m < 1 || m > 12 || d < 1 || d > 31 {
		return cte.Date{}, false, coerceFailed("date out of range")
	}
	date := cte.NewDate(y, time.Month(m), d)
	if date.Year() != y || int(date.Month()) != m || date.Day() != d {
		return cte.Date{}, false, coerceFailed("no such calendar date")
	}
	return date, true, nil
}

// ParseKey coerces numero_cte. ok is false for a blank cell. Only plain
// digits are accepted; signs and exponent forms such as "1.23457E+11" are
// rejected because they do not carry the whole number.
func ParseKey(c Cell) (v int64, ok bool, err error) {
	s := CleanCell(c.Value)
	if s == "" {
		return 0, false, nil
	}
	if !keyNumber.MatchString(s) {
		return 0, false, coerceFailed("not a number")
	}

	// Spreadsheet tools often export integers as "100.0".
	d, derr := decimal.NewFromString(s)
	if derr != nil {
		return 0, false, coerceFailed("not a number")
	}
	if !d.IsInteger() {
		return 0, false, coerceFailed("must be a whole number")
	}
	if !d.IsPositive() {
		return 0, false, coerceFailed("must be greater than zero")
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, false, coerceFailed("number too large")
	}
	return d.IntPart(), true, nil
}

// ParseText trims a text cell. ok is false when nothing is left.
func ParseText(c Cell) (string, bool) {
	s := CleanCell(c.Value)
	if s == "" {
		return "", false
	}
	return s, true
}

// CoerceResult is a row after coercion.
type CoerceResult struct {
	RowIndex int

	// Patch holds every field that coerced to a non-null value.
	Patch cte.Patch

	// Failed holds fields whose cell could not be coerced.
	Failed cte.FieldSet

	Diagnostics []Diagnostic
}

// Numero returns the row key when it coerced.
func (r CoerceResult) Numero() (int64, bool) {
	if !r.Patch.Has(cte.NumeroCTE) {
		return 0, false
	}
	return r.Patch.Values.NumeroCTE, true
}

// CoerceRow converts the bound cells of a row. Cells beyond the end of a
// short row are treated as blank.
func CoerceRow(rowIndex int, cells []Cell, h HeaderMap) CoerceResult {
	res := CoerceResult{RowIndex: rowIndex}

	for _, col := range h.Bound() {
		var c Cell
		if col.Index < len(cells) {
			c = cells[col.Index]
		}
		f := col.Field

		var err error
		switch f.Kind() {
		case cte.KindKey:
			var n int64
			var ok bool
			if n, ok, err = ParseKey(c); ok {
				res.Patch.SetKey(n)
			}
		case cte.KindMoney:
			var d decimal.Decimal
			var ok bool
			if d, ok, err = ParseMoney(c); ok {
				res.Patch.SetMoney(d)
			}
		case cte.KindDate:
			var d cte.Date
			var ok bool
			if d, ok, err = ParseDate(c); ok {
				res.Patch.SetDate(f, d)
			}
		case cte.KindText:
			if s, ok := ParseText(c); ok {
				if !utf8.ValidString(s) {
					err = coerceFailed("invalid text encoding")
				} else {
					res.Patch.SetText(f, s)
				}
			}
		}

		if err != nil {
			kind, detail := KindCoerceFailed, err.Error()
			if ce, ok := err.(*coerceError); ok {
				kind = ce.kind
			}
			res.Failed = res.Failed.With(f)
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:     kind,
				RowIndex: rowIndex,
				Field:    f.String(),
				RawValue: c.Value,
				Detail:   detail,
			})
		}
	}
	return res
}
