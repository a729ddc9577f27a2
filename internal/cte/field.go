// Package cte defines the freight-document (CT-e) record tracked by the
// dashboard, its field catalog, and the attributes derived from it.
//
// Everything in this package is pure: no I/O, no clocks other than the ones
// passed in, and no package-level mutable state.
package cte

// Field identifies one of the canonical input fields of a CT-e record.
type Field int

// Canonical fields, in template column order.
const (
	NumeroCTE Field = iota
	DestinatarioNome
	VeiculoPlaca
	ValorTotal
	DataEmissao
	DataBaixa
	NumeroFatura
	DataInclusaoFatura
	DataEnvioProcesso
	PrimeiroEnvio
	DataRqTmc
	DataAtesto
	EnvioFinal
	Observacao

	fieldCount
)

// Kind is the value type a field coerces to.
type Kind int

const (
	KindKey Kind = iota
	KindText
	KindMoney
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindText:
		return "text"
	case KindMoney:
		return "money"
	case KindDate:
		return "date"
	}
	return "unknown"
}

// FieldSpec describes a canonical field.
type FieldSpec struct {
	Field Field
	Name  string
	Kind  Kind
}

var catalog = [fieldCount]FieldSpec{
	{NumeroCTE, "numero_cte", KindKey},
	{DestinatarioNome, "destinatario_nome", KindText},
	{VeiculoPlaca, "veiculo_placa", KindText},
	{ValorTotal, "valor_total", KindMoney},
	{DataEmissao, "data_emissao", KindDate},
	{DataBaixa, "data_baixa", KindDate},
	{NumeroFatura, "numero_fatura", KindText},
	{DataInclusaoFatura, "data_inclusao_fatura", KindDate},
	{DataEnvioProcesso, "data_envio_processo", KindDate},
	{PrimeiroEnvio, "primeiro_envio", KindDate},
	{DataRqTmc, "data_rq_tmc", KindDate},
	{DataAtesto, "data_atesto", KindDate},
	{EnvioFinal, "envio_final", KindDate},
	{Observacao, "observacao", KindText},
}

// Fields returns the canonical field catalog in template column order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(catalog))
	copy(out, catalog[:])
	return out
}

// String returns the canonical field name.
func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return "unknown"
	}
	return catalog[f].Name
}

// Kind returns the value type of f.
func (f Field) Kind() Kind {
	return catalog[f].Kind
}

// Valid reports whether f names a canonical field.
func (f Field) Valid() bool {
	return f >= 0 && f < fieldCount
}

// ParseField looks up a field by its canonical name.
func ParseField(name string) (Field, bool) {
	for _, spec := range catalog {
		if spec.Name == name {
			return spec.Field, true
		}
	}
	return 0, false
}

// MarshalText encodes the field as its canonical name.
func (f Field) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// FieldSet is a set of canonical fields.
type FieldSet uint32

// NewFieldSet returns a set holding fields.
func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s = s.With(f)
	}
	return s
}

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool {
	return s&(1<<uint(f)) != 0
}

// With returns the set with f added.
func (s FieldSet) With(f Field) FieldSet {
	return s | 1<<uint(f)
}

// Len returns the number of fields in the set.
func (s FieldSet) Len() int {
	n := 0
	for f := Field(0); f < fieldCount; f++ {
		if s.Has(f) {
			n++
		}
	}
	return n
}

// Fields returns the members of the set in catalog order.
func (s FieldSet) Fields() []Field {
	var out []Field
	for f := Field(0); f < fieldCount; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
