package postgres

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

// Column names follow the canonical field names.
var (
	insertColumns  = buildInsertColumns()
	selectColumns  = "id, " + strings.Join(fieldColumns(), ", ") + ", origem_dados, created_at, updated_at"
	selectByNumero = "SELECT " + selectColumns + " FROM " + Table + " WHERE numero_cte = $1"
	insertSQL      = buildInsertSQL()
)

func fieldColumns() []string {
	fields := cte.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return cols
}

func buildInsertColumns() []string {
	return append(fieldColumns(), "origem_dados")
}

func buildInsertSQL() string {
	placeholders := make([]string, len(insertColumns))
	for i := range insertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return "INSERT INTO " + Table + " (" + strings.Join(insertColumns, ", ") + ") VALUES (" +
		strings.Join(placeholders, ", ") + ") RETURNING id"
}

// fieldArg converts field f of r to its pgx parameter.
func fieldArg(r *cte.Record, f cte.Field) any {
	switch f.Kind() {
	case cte.KindKey:
		return r.NumeroCTE
	case cte.KindMoney:
		return toPgNumeric(r.ValorTotal)
	case cte.KindText:
		return toPgText(r.Text(f))
	case cte.KindDate:
		return toPgDate(r.Date(f))
	}
	return nil
}

func toPgText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func toPgDate(d *cte.Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: d.Time(), Valid: true}
}

func toPgNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromPgNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid || n.Int == nil {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("non-finite numeric")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

func fromPgText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func fromPgDate(d pgtype.Date) *cte.Date {
	if !d.Valid {
		return nil
	}
	v := cte.DateOf(d.Time)
	return &v
}

// scanRecord reads one row selected with selectColumns.
func scanRecord(row pgx.Row) (cte.Record, error) {
	var (
		r                        cte.Record
		dest, placa, fatura, obs pgtype.Text
		valor                    pgtype.Numeric
	)
	var emissao, baixa, inclusao, envioProc, primeiro, rq, atesto, final pgtype.Date
	err := row.Scan(
		&r.ID,
		&r.NumeroCTE,
		&dest,
		&placa,
		&valor,
		&emissao,
		&baixa,
		&fatura,
		&inclusao,
		&envioProc,
		&primeiro,
		&rq,
		&atesto,
		&final,
		&obs,
		&r.OrigemDados,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return cte.Record{}, err
	}

	if r.ValorTotal, err = fromPgNumeric(valor); err != nil {
		return cte.Record{}, fmt.Errorf("valor_total: %w", err)
	}
	r.DestinatarioNome = fromPgText(dest)
	r.VeiculoPlaca = fromPgText(placa)
	r.NumeroFatura = fromPgText(fatura)
	r.Observacao = fromPgText(obs)
	r.DataEmissao = fromPgDate(emissao)
	r.DataBaixa = fromPgDate(baixa)
	r.DataInclusaoFatura = fromPgDate(inclusao)
	r.DataEnvioProcesso = fromPgDate(envioProc)
	r.PrimeiroEnvio = fromPgDate(primeiro)
	r.DataRqTmc = fromPgDate(rq)
	r.DataAtesto = fromPgDate(atesto)
	r.EnvioFinal = fromPgDate(final)
	return r, nil
}
