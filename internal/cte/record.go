package cte

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Record is a stored CT-e. Optional fields are nil when absent.
type Record struct {
	ID                 int64           `json:"id,omitempty"`
	NumeroCTE          int64           `json:"numero_cte"`
	DestinatarioNome   *string         `json:"destinatario_nome"`
	VeiculoPlaca       *string         `json:"veiculo_placa"`
	ValorTotal         decimal.Decimal `json:"valor_total"`
	DataEmissao        *Date           `json:"data_emissao"`
	DataBaixa          *Date           `json:"data_baixa"`
	NumeroFatura       *string         `json:"numero_fatura"`
	DataInclusaoFatura *Date           `json:"data_inclusao_fatura"`
	DataEnvioProcesso  *Date           `json:"data_envio_processo"`
	PrimeiroEnvio      *Date           `json:"primeiro_envio"`
	DataRqTmc          *Date           `json:"data_rq_tmc"`
	DataAtesto         *Date           `json:"data_atesto"`
	EnvioFinal         *Date           `json:"envio_final"`
	Observacao         *string         `json:"observacao"`
	OrigemDados        string          `json:"origem_dados"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Text returns the value of a text field, or nil.
func (r *Record) Text(f Field) *string {
	if p := r.textField(f); p != nil {
		return *p
	}
	return nil
}

// Date returns the value of a date field, or nil.
func (r *Record) Date(f Field) *Date {
	if p := r.dateField(f); p != nil {
		return *p
	}
	return nil
}

func (r *Record) textField(f Field) **string {
	switch f {
	case DestinatarioNome:
		return &r.DestinatarioNome
	case VeiculoPlaca:
		return &r.VeiculoPlaca
	case NumeroFatura:
		return &r.NumeroFatura
	case Observacao:
		return &r.Observacao
	}
	return nil
}

func (r *Record) dateField(f Field) **Date {
	switch f {
	case DataEmissao:
		return &r.DataEmissao
	case DataBaixa:
		return &r.DataBaixa
	case DataInclusaoFatura:
		return &r.DataInclusaoFatura
	case DataEnvioProcesso:
		return &r.DataEnvioProcesso
	case PrimeiroEnvio:
		return &r.PrimeiroEnvio
	case DataRqTmc:
		return &r.DataRqTmc
	case DataAtesto:
		return &r.DataAtesto
	case EnvioFinal:
		return &r.EnvioFinal
	}
	return nil
}

// IsNull reports whether field f holds no value. Money is never null and
// the key is null only on a zero record.
func (r *Record) IsNull(f Field) bool {
	switch f.Kind() {
	case KindKey:
		return r.NumeroCTE == 0
	case KindMoney:
		return false
	case KindText:
		p := r.Text(f)
		return p == nil || *p == ""
	case KindDate:
		return r.Date(f) == nil
	}
	return true
}

// Display renders field f in its canonical string form: ISO dates, money
// with two decimals. Null renders as "".
func (r *Record) Display(f Field) string {
	switch f.Kind() {
	case KindKey:
		return strconv.FormatInt(r.NumeroCTE, 10)
	case KindMoney:
		return r.ValorTotal.StringFixed(2)
	case KindText:
		if p := r.Text(f); p != nil {
			return *p
		}
	case KindDate:
		if d := r.Date(f); d != nil {
			return d.String()
		}
	}
	return ""
}

// SetText stores a text value. The pointer is not retained.
func (r *Record) SetText(f Field, v string) {
	if p := r.textField(f); p != nil {
		*p = &v
	}
}

// SetDate stores a date value.
func (r *Record) SetDate(f Field, d Date) {
	if p := r.dateField(f); p != nil {
		*p = &d
	}
}

// copyField copies field f from src, cloning pointed-to values so the two
// records never alias.
func (r *Record) copyField(f Field, src *Record) {
	switch f.Kind() {
	case KindKey:
		r.NumeroCTE = src.NumeroCTE
	case KindMoney:
		r.ValorTotal = src.ValorTotal
	case KindText:
		if v := src.Text(f); v != nil {
			r.SetText(f, *v)
		} else {
			*r.textField(f) = nil
		}
	case KindDate:
		if v := src.Date(f); v != nil {
			r.SetDate(f, *v)
		} else {
			*r.dateField(f) = nil
		}
	}
}

func (r *Record) fieldEqual(f Field, o *Record) bool {
	switch f.Kind() {
	case KindKey:
		return r.NumeroCTE == o.NumeroCTE
	case KindMoney:
		return r.ValorTotal.Equal(o.ValorTotal)
	case KindText:
		a, b := r.Text(f), o.Text(f)
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return *a == *b
	case KindDate:
		a, b := r.Date(f), o.Date(f)
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return a.Equal(*b)
	}
	return false
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	for f := Field(0); f < fieldCount; f++ {
		out.copyField(f, &r)
	}
	return out
}

// Equal reports whether all canonical fields of r and o hold the same
// values. Identity, provenance and timestamps are ignored.
func (r *Record) Equal(o *Record) bool {
	for f := Field(0); f < fieldCount; f++ {
		if !r.fieldEqual(f, o) {
			return false
		}
	}
	return true
}

// Patch is a partial record: only fields in Set carry a value.
type Patch struct {
	Set    FieldSet
	Values Record
}

// SetKey sets numero_cte.
func (p *Patch) SetKey(n int64) {
	p.Values.NumeroCTE = n
	p.Set = p.Set.With(NumeroCTE)
}

// SetText sets a text field.
func (p *Patch) SetText(f Field, v string) {
	p.Values.SetText(f, v)
	p.Set = p.Set.With(f)
}

// SetMoney sets valor_total.
func (p *Patch) SetMoney(v decimal.Decimal) {
	p.Values.ValorTotal = v
	p.Set = p.Set.With(ValorTotal)
}

// SetDate sets a date field.
func (p *Patch) SetDate(f Field, d Date) {
	p.Values.SetDate(f, d)
	p.Set = p.Set.With(f)
}

// Has reports whether the patch carries a value for f.
func (p *Patch) Has(f Field) bool {
	return p.Set.Has(f)
}

// MergePolicy selects which stored fields an update may overwrite.
type MergePolicy string

const (
	// MergeOverwrite replaces every field present in the patch.
	MergeOverwrite MergePolicy = "overwrite"
	// MergeFillEmpty only writes fields whose stored value is null.
	MergeFillEmpty MergePolicy = "fill_empty"
)

// ErrInvalidMergePolicy is returned for unknown merge policy names.
var ErrInvalidMergePolicy = errors.New("invalid merge policy")

// ParseMergePolicy accepts the policy names plus the legacy "all" and
// "empty_only" spellings. The empty string selects MergeOverwrite.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", string(MergeOverwrite), "all":
		return MergeOverwrite, nil
	case string(MergeFillEmpty), "empty_only":
		return MergeFillEmpty, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMergePolicy, s)
}

// Change records one field modified by a merge.
type Change struct {
	Field Field   `json:"field"`
	Old   *string `json:"old"`
	New   string  `json:"new"`
}

// Merge applies p to a copy of r under policy and returns the result with
// the list of fields that actually changed. numero_cte is never changed.
func (r Record) Merge(p Patch, policy MergePolicy) (Record, []Change) {
	out := r.Clone()
	var changes []Change
	for _, f := range p.Set.Fields() {
		if f == NumeroCTE {
			continue
		}
		if policy == MergeFillEmpty && !r.IsNull(f) {
			continue
		}
		if out.fieldEqual(f, &p.Values) {
			continue
		}
		c := Change{Field: f, New: p.Values.Display(f)}
		if !r.IsNull(f) || f.Kind() == KindMoney {
			old := r.Display(f)
			c.Old = &old
		}
		changes = append(changes, c)
		out.copyField(f, &p.Values)
	}
	return out, changes
}

// ChangedPatch returns a patch carrying the fields named in changes, with
// values taken from merged.
func ChangedPatch(merged Record, changes []Change) Patch {
	p := Patch{Values: merged.Clone()}
	for _, c := range changes {
		p.Set = p.Set.With(c.Field)
	}
	return p
}

// NewFromPatch builds a record for insertion from p. Fields not in the
// patch stay null; valor_total defaults to zero.
func NewFromPatch(p Patch) Record {
	var r Record
	for _, f := range p.Set.Fields() {
		r.copyField(f, &p.Values)
	}
	return r
}
