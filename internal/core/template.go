package core

// template.go emits the downloadable import templates.
//
// Both variants list the canonical field names in catalog order and carry
// one fully populated example row. Output depends only on the field
// catalog, so repeated downloads are byte-identical.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

// Template file names offered for download.
const (
	TemplateCSVName  = "modelo_ctes.csv"
	TemplateXLSXName = "modelo_ctes.xlsx"
	templateSheet    = "CTEs"
)

// TemplateDateLayout is the date format of the CSV template.
const TemplateDateLayout = "02/01/2006"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExampleRecord returns the example row shown in the templates. Its dates
// satisfy the milestone chain.
func ExampleRecord() cte.Record {
	text := func(s string) *string { return &s }
	return cte.Record{
		NumeroCTE:          12345,
		DestinatarioNome:   text("Cliente Exemplo Ltda"),
		VeiculoPlaca:       text("ABC1D23"),
		ValorTotal:         decimal.RequireFromString("1500.50"),
		DataEmissao:        cte.DatePtr(2025, 1, 15),
		DataBaixa:          cte.DatePtr(2025, 2, 5),
		NumeroFatura:       text("FAT-0001"),
		DataInclusaoFatura: cte.DatePtr(2025, 1, 17),
		DataEnvioProcesso:  cte.DatePtr(2025, 1, 18),
		PrimeiroEnvio:      cte.DatePtr(2025, 1, 20),
		DataRqTmc:          cte.DatePtr(2025, 1, 22),
		DataAtesto:         cte.DatePtr(2025, 1, 25),
		EnvioFinal:         cte.DatePtr(2025, 1, 28),
		Observacao:         text("Exemplo de observação"),
	}
}

// TemplateHeader returns the canonical field names in template order.
func TemplateHeader() []string {
	specs := cte.Fields()
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

// TemplateCSV renders the CSV template: UTF-8 with BOM, ';' separated,
// DD/MM/YYYY dates and ',' as decimal separator.
func TemplateCSV() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	w.Comma = CSVSeparator
	w.UseCRLF = true

	if err := w.Write(TemplateHeader()); err != nil {
		return nil, fmt.Errorf("writing template header: %w", err)
	}
	if err := w.Write(exampleCSVRow(ExampleRecord())); err != nil {
		return nil, fmt.Errorf("writing template row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("writing template: %w", err)
	}
	return buf.Bytes(), nil
}

func exampleCSVRow(rec cte.Record) []string {
	specs := cte.Fields()
	row := make([]string, len(specs))
	for i, s := range specs {
		switch s.Kind {
		case cte.KindKey:
			row[i] = strconv.FormatInt(rec.NumeroCTE, 10)
		case cte.KindMoney:
			row[i] = strings.Replace(rec.ValorTotal.StringFixed(2), ".", ",", 1)
		case cte.KindDate:
			if d := rec.Date(s.Field); d != nil {
				row[i] = d.Format(TemplateDateLayout)
			}
		case cte.KindText:
			if t := rec.Text(s.Field); t != nil {
				row[i] = *t
			}
		}
	}
	return row
}

// TemplateXLSX renders the XLSX template with native number and date
// cells.
func TemplateXLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), templateSheet); err != nil {
		return nil, fmt.Errorf("naming template sheet: %w", err)
	}

	dateFmt, moneyFmt := "dd/mm/yyyy", "#,##0.00"
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &dateFmt})
	if err != nil {
		return nil, fmt.Errorf("creating date style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFmt})
	if err != nil {
		return nil, fmt.Errorf("creating money style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	rec := ExampleRecord()
	for i, s := range cte.Fields() {
		head, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStr(templateSheet, head, s.Name); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(templateSheet, head, head, headerStyle); err != nil {
			return nil, err
		}

		switch s.Kind {
		case cte.KindKey:
			err = f.SetCellValue(templateSheet, cell, rec.NumeroCTE)
		case cte.KindMoney:
			v, _ := rec.ValorTotal.Float64()
			if err = f.SetCellFloat(templateSheet, cell, v, 2, 64); err == nil {
				err = f.SetCellStyle(templateSheet, cell, cell, moneyStyle)
			}
		case cte.KindDate:
			if d := rec.Date(s.Field); d != nil {
				if err = f.SetCellValue(templateSheet, cell, d.Time()); err == nil {
					err = f.SetCellStyle(templateSheet, cell, cell, dateStyle)
				}
			}
		case cte.KindText:
			if t := rec.Text(s.Field); t != nil {
				err = f.SetCellStr(templateSheet, cell, *t)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", s.Name, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing template: %w", err)
	}
	return buf.Bytes(), nil
}
