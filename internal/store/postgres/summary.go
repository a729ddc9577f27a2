package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

const summarySQL = `
SELECT
    count(*),
    count(DISTINCT destinatario_nome),
    count(DISTINCT veiculo_placa),
    COALESCE(sum(valor_total), 0),
    count(*) FILTER (WHERE data_baixa IS NOT NULL),
    COALESCE(sum(valor_total) FILTER (WHERE data_baixa IS NOT NULL), 0),
    COALESCE(sum(valor_total) FILTER (WHERE data_baixa IS NULL), 0),
    count(*) FILTER (WHERE data_envio_processo IS NOT NULL
                       AND primeiro_envio IS NOT NULL
                       AND data_rq_tmc IS NOT NULL
                       AND data_atesto IS NOT NULL)
FROM ` + Table

const originsSQL = `
SELECT origem_dados, count(*), COALESCE(sum(valor_total), 0)
FROM ` + Table + `
GROUP BY origem_dados`

// Summary computes the dashboard projection in SQL. It matches
// cte.Summarize over the same rows.
func (s *Store) Summary(ctx context.Context) (cte.Summary, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	var (
		sum                   cte.Summary
		total, pago, pendente pgtype.Numeric
	)
	err := s.pool.QueryRow(opCtx, summarySQL).Scan(
		&sum.TotalCTEs,
		&sum.ClientesUnicos,
		&sum.VeiculosAtivos,
		&total,
		&sum.FaturasPagas,
		&pago,
		&pendente,
		&sum.ProcessosCompletos,
	)
	if err != nil {
		return cte.Summary{}, fmt.Errorf("summary: %w", mapError(err))
	}
	if sum.ValorTotal, err = fromPgNumeric(total); err != nil {
		return cte.Summary{}, err
	}
	if sum.ValorPago, err = fromPgNumeric(pago); err != nil {
		return cte.Summary{}, err
	}
	if sum.ValorPendente, err = fromPgNumeric(pendente); err != nil {
		return cte.Summary{}, err
	}
	sum.FaturasPendentes = sum.TotalCTEs - sum.FaturasPagas
	sum.ProcessosIncompletos = sum.TotalCTEs - sum.ProcessosCompletos
	sum.Finish()

	rows, err := s.pool.Query(opCtx, originsSQL)
	if err != nil {
		return cte.Summary{}, fmt.Errorf("summary origins: %w", mapError(err))
	}
	defer rows.Close()

	sum.Origens = []cte.OriginStat{}
	for rows.Next() {
		var (
			o     cte.OriginStat
			valor pgtype.Numeric
		)
		if err := rows.Scan(&o.Origem, &o.Count, &valor); err != nil {
			return cte.Summary{}, fmt.Errorf("summary origins: %w", mapError(err))
		}
		if o.ValorTotal, err = fromPgNumeric(valor); err != nil {
			return cte.Summary{}, err
		}
		sum.Origens = append(sum.Origens, o)
	}
	if err := rows.Err(); err != nil {
		return cte.Summary{}, fmt.Errorf("summary origins: %w", mapError(err))
	}
	cte.SortOrigins(sum.Origens)
	return sum, nil
}
