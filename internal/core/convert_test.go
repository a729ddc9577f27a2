package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

func TestCleanCell(t *testing.T) {
	assert.Equal(t, "123", CleanCell(`  ="123" `))
	assert.Equal(t, "abc", CleanCell(" abc\t"))
	assert.Equal(t, `="`, CleanCell(`="`))
	assert.Equal(t, "", CleanCell(`=""`))
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name     string
		cell     Cell
		want     string
		wantOK   bool
		wantKind Kind
	}{
		{name: "brazilian", cell: TextCell("1.234,50"), want: "1234.5", wantOK: true},
		{name: "international", cell: TextCell("1,234.50"), want: "1234.5", wantOK: true},
		{name: "currency prefix", cell: TextCell("R$ 1.500,00"), want: "1500", wantOK: true},
		{name: "dollar prefix", cell: TextCell("US$ 10.00"), want: "10", wantOK: true},
		{name: "integer", cell: TextCell("1500"), want: "1500", wantOK: true},
		{name: "decimal comma", cell: TextCell("1500,5"), want: "1500.5", wantOK: true},
		{name: "single dot is decimal", cell: TextCell("1.500"), want: "1.5", wantOK: true},
		{name: "repeated dots group thousands", cell: TextCell("1.234.567"), want: "1234567", wantOK: true},
		{name: "space thousands", cell: TextCell("1 234,56"), want: "1234.56", wantOK: true},
		{name: "no-break space thousands", cell: TextCell("1\u00a0234,56"), want: "1234.56", wantOK: true},
		{name: "leading comma", cell: TextCell(",5"), want: "0.5", wantOK: true},
		{name: "rounds half away from zero", cell: TextCell("12,345"), want: "12.35", wantOK: true},
		{name: "formula text", cell: TextCell(`="2.500,75"`), want: "2500.75", wantOK: true},
		{name: "typed number", cell: Cell{Value: "1500.5", Typed: true}, want: "1500.5", wantOK: true},
		{name: "typed rounds", cell: Cell{Value: "0.125", Typed: true}, want: "0.13", wantOK: true},
		{name: "blank", cell: TextCell("  "), wantOK: false},
		{name: "negative", cell: TextCell("-10,00"), wantKind: KindNegativeMoney},
		{name: "negative after prefix", cell: TextCell("R$ -5"), wantKind: KindNegativeMoney},
		{name: "typed negative", cell: Cell{Value: "-3", Typed: true}, wantKind: KindNegativeMoney},
		{name: "letters", cell: TextCell("abc"), wantKind: KindCoerceFailed},
		{name: "trailing letters", cell: TextCell("12a"), wantKind: KindCoerceFailed},
		{name: "bad grouping", cell: TextCell("1.2.3,4"), wantKind: KindCoerceFailed},
		{name: "dangling separator", cell: TextCell("1,"), wantKind: KindCoerceFailed},
		{name: "prefix only", cell: TextCell("R$"), wantKind: KindCoerceFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseMoney(tt.cell)
			if tt.wantKind != "" {
				require.Error(t, err)
				ce, isCoerce := err.(*coerceError)
				require.True(t, isCoerce)
				assert.Equal(t, tt.wantKind, ce.kind)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	feb1 := cte.NewDate(2025, time.February, 1)

	tests := []struct {
		name    string
		cell    Cell
		want    cte.Date
		wantOK  bool
		wantErr string
	}{
		{name: "iso", cell: TextCell("2025-02-01"), want: feb1, wantOK: true},
		{name: "iso with time", cell: TextCell("2025-02-01 10:30:00"), want: feb1, wantOK: true},
		{name: "iso single digits", cell: TextCell("2025-2-1"), want: feb1, wantOK: true},
		{name: "brazilian slash", cell: TextCell("01/02/2025"), want: feb1, wantOK: true},
		{name: "brazilian dash", cell: TextCell("01-02-2025"), want: feb1, wantOK: true},
		{name: "brazilian with time", cell: TextCell("01/02/2025 08:00"), want: feb1, wantOK: true},
		{name: "serial day", cell: TextCell("45689"), want: feb1, wantOK: true},
		{name: "typed serial with time", cell: Cell{Value: "45689.75", Typed: true}, want: feb1, wantOK: true},
		{name: "typed text date", cell: Cell{Value: "01/02/2025", Typed: true}, want: feb1, wantOK: true},
		{name: "blank", cell: TextCell(""), wantOK: false},
		{name: "two digit year", cell: TextCell("01/02/25"), wantErr: "four digits"},
		{name: "mixed separators", cell: TextCell("01/02-2025"), wantErr: "mixed"},
		{name: "no such day", cell: TextCell("31/02/2025"), wantErr: "no such calendar date"},
		{name: "month out of range", cell: TextCell("2025-13-01"), wantErr: "out of range"},
		{name: "serial zero", cell: TextCell("0"), wantErr: "out of range"},
		{name: "free text", cell: TextCell("amanhã"), wantErr: "unrecognised"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParseDate(tt.cell)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantOK  bool
		wantErr string
	}{
		{in: "100", want: 100, wantOK: true},
		{in: " 100 ", want: 100, wantOK: true},
		{in: "100.0", want: 100, wantOK: true},
		{in: `="12345"`, want: 12345, wantOK: true},
		{in: "", wantOK: false},
		{in: "100.5", wantErr: "whole number"},
		{in: "-5", wantErr: "greater than zero"},
		{in: "0", wantErr: "greater than zero"},
		{in: "abc", wantErr: "not a number"},
		{in: "99999999999999999999", wantErr: "too large"},
		{in: "9223372036854775807", want: 9223372036854775807, wantOK: true},
		{in: "1.23457E+11", wantErr: "not a number"},
		{in: "1e3", wantErr: "not a number"},
		{in: "+7", wantErr: "not a number"},
		{in: "-0", wantErr: "greater than zero"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok, err := ParseKey(TextCell(tt.in))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceRow(t *testing.T) {
	h, err := NormalizeHeaders([]string{"numero_cte", "valor_total", "data_emissao", "destinatario_nome", "observacao"})
	require.NoError(t, err)

	cells := []Cell{TextCell("100"), TextCell("abc"), TextCell("01/02/2025"), TextCell("  ACME  ")}
	res := CoerceRow(7, cells, h)

	n, ok := res.Numero()
	require.True(t, ok)
	assert.Equal(t, int64(100), n)
	assert.Equal(t, 7, res.RowIndex)

	assert.True(t, res.Patch.Has(cte.DataEmissao))
	assert.Equal(t, "ACME", *res.Patch.Values.DestinatarioNome)
	assert.False(t, res.Patch.Has(cte.ValorTotal))
	assert.False(t, res.Patch.Has(cte.Observacao), "short row leaves trailing fields blank")
	assert.True(t, res.Failed.Has(cte.ValorTotal))

	require.Len(t, res.Diagnostics, 1)
	d := res.Diagnostics[0]
	assert.Equal(t, KindCoerceFailed, d.Kind)
	assert.Equal(t, 7, d.RowIndex)
	assert.Equal(t, "valor_total", d.Field)
	assert.Equal(t, "abc", d.RawValue)
}

func TestCoerceRow_ReportsEveryFailure(t *testing.T) {
	h, err := NormalizeHeaders([]string{"cte", "valor", "emissao"})
	require.NoError(t, err)

	res := CoerceRow(2, []Cell{TextCell("x"), TextCell("-1"), TextCell("99/99/2025")}, h)

	_, ok := res.Numero()
	assert.False(t, ok)
	kinds := make([]Kind, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []Kind{KindCoerceFailed, KindNegativeMoney, KindCoerceFailed}, kinds)
}
