package cte

import "fmt"

// Milestones is the ordered chain of process dates. Non-null dates must be
// non-decreasing along it; gaps are allowed.
var Milestones = [...]Field{
	DataEmissao,
	PrimeiroEnvio,
	DataRqTmc,
	DataAtesto,
	EnvioFinal,
	DataBaixa,
}

// ChainViolation describes the first pair of milestones found out of order.
type ChainViolation struct {
	Earlier     Field
	EarlierDate Date
	Later       Field
	LaterDate   Date
}

func (v *ChainViolation) Error() string {
	return fmt.Sprintf("%s (%s) is before %s (%s)", v.Later, v.LaterDate, v.Earlier, v.EarlierDate)
}

// CheckChain verifies the milestone ordering of r. It returns nil or a
// *ChainViolation naming the offending pair.
func (r *Record) CheckChain() error {
	var (
		prev     Date
		prevF    Field
		havePrev bool
	)
	for _, f := range Milestones {
		d := r.Date(f)
		if d == nil {
			continue
		}
		if havePrev && d.Before(prev) {
			return &ChainViolation{Earlier: prevF, EarlierDate: prev, Later: f, LaterDate: *d}
		}
		prev, prevF, havePrev = *d, f, true
	}
	return nil
}
