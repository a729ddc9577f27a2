package cte

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Summary is the dashboard tile projection over all stored records.
type Summary struct {
	TotalCTEs            int             `json:"total_ctes"`
	ClientesUnicos       int             `json:"clientes_unicos"`
	VeiculosAtivos       int             `json:"veiculos_ativos"`
	ValorTotal           decimal.Decimal `json:"valor_total"`
	FaturasPagas         int             `json:"faturas_pagas"`
	FaturasPendentes     int             `json:"faturas_pendentes"`
	ValorPago            decimal.Decimal `json:"valor_pago"`
	ValorPendente        decimal.Decimal `json:"valor_pendente"`
	ProcessosCompletos   int             `json:"processos_completos"`
	ProcessosIncompletos int             `json:"processos_incompletos"`
	TicketMedio          decimal.Decimal `json:"ticket_medio"`
	TaxaConclusao        decimal.Decimal `json:"taxa_conclusao"`
	Origens              []OriginStat    `json:"origens"`
}

// OriginStat groups records by their provenance tag.
type OriginStat struct {
	Origem     string          `json:"origem_dados"`
	Count      int             `json:"count"`
	ValorTotal decimal.Decimal `json:"valor_total"`
}

var hundred = decimal.NewFromInt(100)

// Summarize computes the dashboard summary of records.
func Summarize(records []Record) Summary {
	s := Summary{
		ValorTotal:    decimal.Zero,
		ValorPago:     decimal.Zero,
		ValorPendente: decimal.Zero,
		TicketMedio:   decimal.Zero,
		TaxaConclusao: decimal.Zero,
	}
	clientes := make(map[string]struct{})
	placas := make(map[string]struct{})
	origens := make(map[string]*OriginStat)

	for i := range records {
		r := &records[i]
		s.TotalCTEs++
		s.ValorTotal = s.ValorTotal.Add(r.ValorTotal)
		if r.DestinatarioNome != nil {
			clientes[*r.DestinatarioNome] = struct{}{}
		}
		if r.VeiculoPlaca != nil {
			placas[*r.VeiculoPlaca] = struct{}{}
		}
		if r.HasBaixa() {
			s.FaturasPagas++
			s.ValorPago = s.ValorPago.Add(r.ValorTotal)
		} else {
			s.FaturasPendentes++
			s.ValorPendente = s.ValorPendente.Add(r.ValorTotal)
		}
		if r.ProcessoCompleto() {
			s.ProcessosCompletos++
		}

		o, ok := origens[r.OrigemDados]
		if !ok {
			o = &OriginStat{Origem: r.OrigemDados, ValorTotal: decimal.Zero}
			origens[r.OrigemDados] = o
		}
		o.Count++
		o.ValorTotal = o.ValorTotal.Add(r.ValorTotal)
	}

	s.ClientesUnicos = len(clientes)
	s.VeiculosAtivos = len(placas)
	s.ProcessosIncompletos = s.TotalCTEs - s.ProcessosCompletos
	s.Finish()

	s.Origens = make([]OriginStat, 0, len(origens))
	for _, o := range origens {
		s.Origens = append(s.Origens, *o)
	}
	SortOrigins(s.Origens)
	return s
}

// Finish derives TicketMedio and TaxaConclusao from the counters. SQL
// projections call it after filling the counters.
func (s *Summary) Finish() {
	if s.TotalCTEs == 0 {
		return
	}
	total := decimal.NewFromInt(int64(s.TotalCTEs))
	s.TicketMedio = s.ValorTotal.Div(total).Round(2)
	s.TaxaConclusao = decimal.NewFromInt(int64(s.ProcessosCompletos)).Mul(hundred).Div(total).Round(2)
}

// SortOrigins orders origin stats by count descending, then by name.
func SortOrigins(stats []OriginStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Origem < stats[j].Origem
	})
}
