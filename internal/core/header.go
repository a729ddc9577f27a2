package core

// header.go maps the column labels of an upload onto canonical CT-e fields.
//
// Matching compares folded labels (see Fold) against each field's canonical
// name and its alias set. Unknown columns are kept in the HeaderMap so the
// report can list them with a suggestion; they take no part in validation.

import (
	"strconv"
	"strings"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

// fieldAliases lists the accepted spellings of each field besides its
// canonical name.
var fieldAliases = map[cte.Field][]string{
	cte.NumeroCTE:          {"numero cte", "n cte", "nr cte", "cte"},
	cte.DestinatarioNome:   {"cliente", "destinatario", "tomador"},
	cte.VeiculoPlaca:       {"placa", "placa veiculo"},
	cte.ValorTotal:         {"valor", "valor frete"},
	cte.DataEmissao:        {"emissao", "data emissao"},
	cte.DataBaixa:          {"baixa", "data pagamento"},
	cte.NumeroFatura:       {"fatura", "nr fatura"},
	cte.DataInclusaoFatura: {"inclusao fatura"},
	cte.DataEnvioProcesso:  {"envio processo"},
	cte.PrimeiroEnvio:      {"1 envio", "primeiro envio"},
	cte.DataRqTmc:          {"rq tmc"},
	cte.DataAtesto:         {"atesto"},
	cte.EnvioFinal:         {"envio final"},
	cte.Observacao:         {"obs", "observacoes"},
}

// Aliases returns the alias set of f, without the canonical name.
func Aliases(f cte.Field) []string {
	out := make([]string, len(fieldAliases[f]))
	copy(out, fieldAliases[f])
	return out
}

type aliasEntry struct {
	folded string
	field  cte.Field
}

// aliasTable holds every folded spelling in catalog order. It is built
// once and never modified.
var aliasTable = buildAliasTable()

func buildAliasTable() []aliasEntry {
	var table []aliasEntry
	for _, spec := range cte.Fields() {
		table = append(table, aliasEntry{folded: Fold(spec.Name), field: spec.Field})
		for _, a := range fieldAliases[spec.Field] {
			table = append(table, aliasEntry{folded: Fold(a), field: spec.Field})
		}
	}
	return table
}

// lookupLabel returns the field whose folded spelling equals folded.
func lookupLabel(folded string) (cte.Field, bool) {
	for _, e := range aliasTable {
		if e.folded == folded {
			return e.field, true
		}
	}
	return 0, false
}

// Column is one header column.
type Column struct {
	Index int    `json:"index"`
	Label string `json:"label"`

	// Field is meaningful only when Known is true.
	Field cte.Field `json:"-"`
	Known bool      `json:"-"`

	// Duplicate marks a column whose label maps to a field already bound
	// by an earlier column.
	Duplicate bool `json:"duplicate,omitempty"`
}

// HeaderMap is the result of normalising a header row.
type HeaderMap struct {
	Columns []Column
	Unknown []Column
	index   map[cte.Field]int
}

// Index returns the cell position bound to f.
func (h HeaderMap) Index(f cte.Field) (int, bool) {
	i, ok := h.index[f]
	return i, ok
}

// Present returns the set of fields bound to a column.
func (h HeaderMap) Present() cte.FieldSet {
	var s cte.FieldSet
	for f := range h.index {
		s = s.With(f)
	}
	return s
}

// Bound returns the known columns in header order.
func (h HeaderMap) Bound() []Column {
	out := make([]Column, 0, len(h.index))
	for _, c := range h.Columns {
		if c.Known {
			out = append(out, c)
		}
	}
	return out
}

// NormalizeHeaders binds labels to canonical fields. Blank labels are
// ignored. When two columns map to the same field the first one wins and
// the later one is reported as unknown. A header without numero_cte fails
// with KindMissingKeyColumn; the returned map is still filled so callers
// can report suggestions.
func NormalizeHeaders(labels []string) (HeaderMap, error) {
	h := HeaderMap{index: make(map[cte.Field]int)}

	for i, label := range labels {
		folded := Fold(label)
		if folded == "" {
			continue
		}
		col := Column{Index: i, Label: label}
		if f, ok := lookupLabel(folded); ok {
			if _, bound := h.index[f]; bound {
				col.Duplicate = true
				col.Field = f
			} else {
				col.Field, col.Known = f, true
				h.index[f] = i
			}
		}
		h.Columns = append(h.Columns, col)
		if !col.Known {
			h.Unknown = append(h.Unknown, col)
		}
	}

	if _, ok := h.index[cte.NumeroCTE]; !ok {
		return h, newBatchError(KindMissingKeyColumn, nil,
			"no column maps to numero_cte (accepted: numero_cte, %s)", joinQuoted(fieldAliases[cte.NumeroCTE]))
	}
	return h, nil
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return strings.Join(quoted, ", ")
}
