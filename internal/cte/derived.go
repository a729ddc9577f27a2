package cte

// Process status labels shown on the dashboard.
const (
	StatusFinalizado = "Finalizado"
	StatusCompleto   = "Completo"
	StatusEnvioFinal = "Envio Final"
	StatusAtestado   = "Atestado"
	StatusEnviado    = "Enviado"
	StatusEmitido    = "Emitido"
	StatusPendente   = "Pendente"
)

// HasBaixa reports whether the CT-e has been paid.
func (r *Record) HasBaixa() bool {
	return r.DataBaixa != nil
}

// ProcessoCompleto reports whether every billing-process milestone is set.
func (r *Record) ProcessoCompleto() bool {
	return r.DataEnvioProcesso != nil &&
		r.PrimeiroEnvio != nil &&
		r.DataRqTmc != nil &&
		r.DataAtesto != nil
}

// DiasAteBaixa returns the days between issue and payment, or nil when
// either date is missing.
func (r *Record) DiasAteBaixa() *int {
	if r.DataEmissao == nil || r.DataBaixa == nil {
		return nil
	}
	n := r.DataEmissao.DaysUntil(*r.DataBaixa)
	return &n
}

// StatusProcesso returns the furthest milestone reached.
func (r *Record) StatusProcesso() string {
	switch {
	case r.ProcessoCompleto() && r.HasBaixa():
		return StatusFinalizado
	case r.ProcessoCompleto():
		return StatusCompleto
	case r.EnvioFinal != nil:
		return StatusEnvioFinal
	case r.DataAtesto != nil:
		return StatusAtestado
	case r.PrimeiroEnvio != nil:
		return StatusEnviado
	case r.DataEmissao != nil:
		return StatusEmitido
	}
	return StatusPendente
}

// View is the read-only projection of a record served to clients.
type View struct {
	Record
	HasBaixa         bool   `json:"has_baixa"`
	ProcessoCompleto bool   `json:"processo_completo"`
	DiasAteBaixa     *int   `json:"dias_ate_baixa"`
	StatusProcesso   string `json:"status_processo"`
}

// NewView computes the derived attributes of r.
func NewView(r Record) View {
	return View{
		Record:           r,
		HasBaixa:         r.HasBaixa(),
		ProcessoCompleto: r.ProcessoCompleto(),
		DiasAteBaixa:     r.DiasAteBaixa(),
		StatusProcesso:   r.StatusProcesso(),
	}
}
