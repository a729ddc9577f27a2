package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

func requireBatchKind(t *testing.T, err error, kind Kind) *BatchError {
	t.Helper()
	require.Error(t, err)
	var be *BatchError
	require.True(t, errors.As(err, &be), "want *BatchError, got %T: %v", err, err)
	assert.Equal(t, kind, be.Kind)
	return be
}

func cellValues(cells []Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.Value
	}
	return out
}

func TestResolveContentType(t *testing.T) {
	tests := []struct {
		declared string
		file     string
		want     string
	}{
		{"text/csv", "x.bin", ContentTypeCSV},
		{"text/csv; charset=utf-8", "", ContentTypeCSV},
		{ContentTypeXLSX, "", ContentTypeXLSX},
		{"application/octet-stream", "ctes.XLSX", ContentTypeXLSX},
		{"", "ctes.csv", ContentTypeCSV},
		{"text/plain", "export.csv", ContentTypeCSV},
		{"application/vnd.ms-excel", "planilha.csv", ContentTypeCSV},
		{"application/octet-stream", "ctes.pdf", "application/octet-stream"},
		{"application/pdf", "ctes.csv", "application/pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.declared+"|"+tt.file, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveContentType(tt.declared, tt.file))
		})
	}
}

func TestReadTable_CSV(t *testing.T) {
	data := "\xEF\xBB\xBFnumero_cte;destinatario_nome;\n" +
		"\n" +
		"100;ACME\n" +
		";;\n" +
		"200;\"Beta; Filial\"\n"

	table, err := ReadTable(strings.NewReader(data), ContentTypeCSV, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, table.HeaderRow)
	assert.Equal(t, []string{"numero_cte", "destinatario_nome"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 3, table.Rows[0].Index)
	assert.Equal(t, []string{"100", "ACME"}, cellValues(table.Rows[0].Cells))
	assert.Equal(t, 5, table.Rows[1].Index)
	assert.Equal(t, []string{"200", "Beta; Filial"}, cellValues(table.Rows[1].Cells))
	assert.False(t, table.Rows[0].Cells[0].Typed)
}

func TestReadTable_CSVHeaderAfterBlankLines(t *testing.T) {
	table, err := ReadTable(strings.NewReader("\n;;\ncte;valor\n1;2\n"), ContentTypeCSV, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, table.HeaderRow)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, 4, table.Rows[0].Index)
}

func TestReadTable_CSVWindows1252(t *testing.T) {
	data := []byte("Destinat\xe1rio;N\xba CTE\r\nJos\xe9;1\r\n")

	table, err := ReadTable(bytes.NewReader(data), "text/csv", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"Destinatário", "Nº CTE"}, table.Header)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "José", table.Rows[0].Cells[0].Value)
}

func TestReadTable_CSVWithoutHeader(t *testing.T) {
	_, err := ReadTable(strings.NewReader("\n ; \n"), ContentTypeCSV, 0)
	be := requireBatchKind(t, err, KindUnreadableFile)
	assert.Contains(t, be.Detail, "no header")
}

func TestReadTable_UnsupportedContentType(t *testing.T) {
	_, err := ReadTable(strings.NewReader("x"), "application/pdf", 0)
	requireBatchKind(t, err, KindUnsupportedContentType)

	_, err = ReadTable(strings.NewReader("x"), "", 0)
	requireBatchKind(t, err, KindUnsupportedContentType)
}

func TestReadTable_SizeCap(t *testing.T) {
	data := "numero_cte\n" + strings.Repeat("1\n", 20)

	_, err := ReadTable(strings.NewReader(data), ContentTypeCSV, 16)
	be := requireBatchKind(t, err, KindUnreadableFile)
	assert.Contains(t, be.Detail, "larger than 16 bytes")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = ReadTable(strings.NewReader(data), ContentTypeCSV, int64(len(data)))
	assert.NoError(t, err)
}

func TestReadTable_InvalidXLSX(t *testing.T) {
	_, err := ReadTable(strings.NewReader("numero_cte;valor"), ContentTypeXLSX, 0)
	requireBatchKind(t, err, KindUnreadableFile)
}

func TestReadTable_XLSXTemplate(t *testing.T) {
	data, err := TemplateXLSX()
	require.NoError(t, err)

	table, err := ReadTable(bytes.NewReader(data), ContentTypeXLSX, 0)
	require.NoError(t, err)

	assert.Equal(t, TemplateHeader(), table.Header)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, 2, table.Rows[0].Index)
	assert.True(t, table.Rows[0].Cells[0].Typed)
	assert.Equal(t, "12345", table.Rows[0].Cells[0].Value)
}

// exportedWorkbook builds a workbook the way spreadsheet users hand them in:
// formula cells with cached results and dates in assorted display formats.
func exportedWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"

	monthName := "mmm d, yyyy"
	iso := "yyyy-mm-dd"
	monthStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &monthName})
	require.NoError(t, err)
	isoStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &iso})
	require.NoError(t, err)
	dateTimeStyle, err := f.NewStyle(&excelize.Style{NumFmt: 22})
	require.NoError(t, err)

	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"numero_cte", "valor_total", "data_emissao", "data_baixa"}))

	// Row 2: key and amount are formulas; dates use non-Brazilian formats.
	require.NoError(t, f.SetCellValue(sheet, "A2", 100))
	require.NoError(t, f.SetCellFormula(sheet, "A2", "99+1"))
	require.NoError(t, f.SetCellValue(sheet, "B2", 1234.5))
	require.NoError(t, f.SetCellFormula(sheet, "B2", "1000+234.5"))
	require.NoError(t, f.SetCellValue(sheet, "C2", time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, f.SetCellStyle(sheet, "C2", "C2", monthStyle))
	require.NoError(t, f.SetCellValue(sheet, "D2", time.Date(2025, time.February, 10, 14, 30, 0, 0, time.UTC)))
	require.NoError(t, f.SetCellStyle(sheet, "D2", "D2", dateTimeStyle))

	// Row 3: text amount in pt-BR and a date produced by a formula.
	require.NoError(t, f.SetCellValue(sheet, "A3", 101))
	require.NoError(t, f.SetCellValue(sheet, "B3", "10,00"))
	require.NoError(t, f.SetCellValue(sheet, "C3", 45691))
	require.NoError(t, f.SetCellFormula(sheet, "C3", "DATE(2025,2,3)"))
	require.NoError(t, f.SetCellStyle(sheet, "C3", "C3", isoStyle))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestReadTable_XLSXFormulasAndDateFormats(t *testing.T) {
	table, err := ReadTable(bytes.NewReader(exportedWorkbook(t)), ContentTypeXLSX, 0)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)

	assert.Equal(t, "100", table.Rows[0].Cells[0].Value, "formula cells yield the cached value")
	assert.Equal(t, "1234.5", table.Rows[0].Cells[1].Value)
	assert.Equal(t, "45691", table.Rows[1].Cells[2].Value)

	h, err := NormalizeHeaders(table.Header)
	require.NoError(t, err)

	first := CoerceRow(table.Rows[0].Index, table.Rows[0].Cells, h)
	require.Empty(t, first.Diagnostics)
	assert.EqualValues(t, 100, first.Patch.Values.NumeroCTE)
	assert.Equal(t, "1234.5", first.Patch.Values.ValorTotal.String())
	require.NotNil(t, first.Patch.Values.Date(cte.DataEmissao))
	assert.Equal(t, cte.NewDate(2025, time.February, 1).String(), first.Patch.Values.Date(cte.DataEmissao).String())
	require.NotNil(t, first.Patch.Values.Date(cte.DataBaixa))
	assert.Equal(t, cte.NewDate(2025, time.February, 10).String(), first.Patch.Values.Date(cte.DataBaixa).String())

	second := CoerceRow(table.Rows[1].Index, table.Rows[1].Cells, h)
	require.Empty(t, second.Diagnostics)
	assert.EqualValues(t, 101, second.Patch.Values.NumeroCTE)
	assert.Equal(t, "10", second.Patch.Values.ValorTotal.String())
	require.NotNil(t, second.Patch.Values.Date(cte.DataEmissao))
	assert.Equal(t, cte.NewDate(2025, time.February, 3).String(), second.Patch.Values.Date(cte.DataEmissao).String())
}

func TestCountingReader(t *testing.T) {
	cr := NewCountingReader(strings.NewReader("abcdef"), 0)
	b, err := io.ReadAll(cr)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b))
	assert.Equal(t, int64(6), cr.BytesRead)

	cr = NewCountingReader(strings.NewReader("abcdef"), 6)
	_, err = io.ReadAll(cr)
	assert.NoError(t, err, "exactly at the cap is allowed")

	cr = NewCountingReader(strings.NewReader("abcdef"), 5)
	_, err = io.ReadAll(cr)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, int64(6), cr.BytesRead)
}
