package cte

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func baseRecord() Record {
	return Record{
		NumeroCTE:        100,
		DestinatarioNome: strPtr("ACME"),
		ValorTotal:       decimal.RequireFromString("1234.50"),
		DataEmissao:      DatePtr(2025, time.February, 1),
	}
}

func TestFieldCatalog(t *testing.T) {
	fields := Fields()
	require.Len(t, fields, 14)
	assert.Equal(t, "numero_cte", fields[0].Name)
	assert.Equal(t, "observacao", fields[len(fields)-1].Name)

	for _, spec := range fields {
		f, ok := ParseField(spec.Name)
		require.True(t, ok, spec.Name)
		assert.Equal(t, spec.Field, f)
		assert.Equal(t, spec.Name, f.String())
	}

	_, ok := ParseField("origem_dados")
	assert.False(t, ok, "origem_dados is not an input field")
}

func TestFieldSet(t *testing.T) {
	s := NewFieldSet(DataBaixa, NumeroCTE)
	assert.True(t, s.Has(NumeroCTE))
	assert.True(t, s.Has(DataBaixa))
	assert.False(t, s.Has(Observacao))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []Field{NumeroCTE, DataBaixa}, s.Fields())
}

func TestCheckChain(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *Record)
		wantLater Field
	}{
		{
			name:   "only emissao",
			mutate: func(r *Record) {},
		},
		{
			name: "gaps allowed",
			mutate: func(r *Record) {
				r.DataAtesto = DatePtr(2025, time.February, 10)
				r.DataBaixa = DatePtr(2025, time.February, 15)
			},
		},
		{
			name: "equal dates allowed",
			mutate: func(r *Record) {
				r.PrimeiroEnvio = DatePtr(2025, time.February, 1)
				r.DataBaixa = DatePtr(2025, time.February, 1)
			},
		},
		{
			name: "baixa before emissao",
			mutate: func(r *Record) {
				r.DataBaixa = DatePtr(2025, time.January, 31)
			},
			wantLater: DataBaixa,
		},
		{
			name: "atesto before rq tmc across gap",
			mutate: func(r *Record) {
				r.DataRqTmc = DatePtr(2025, time.February, 10)
				r.DataAtesto = DatePtr(2025, time.February, 9)
			},
			wantLater: DataAtesto,
		},
		{
			name: "dates outside the chain are ignored",
			mutate: func(r *Record) {
				r.DataInclusaoFatura = DatePtr(2020, time.January, 1)
				r.DataEnvioProcesso = DatePtr(2019, time.January, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRecord()
			tt.mutate(&r)
			err := r.CheckChain()
			if tt.wantLater == 0 {
				assert.NoError(t, err)
				return
			}
			var v *ChainViolation
			require.True(t, errors.As(err, &v))
			assert.Equal(t, tt.wantLater, v.Later)
		})
	}
}

func TestMergeOverwrite(t *testing.T) {
	r := baseRecord()

	var p Patch
	p.SetKey(100)
	p.SetDate(DataBaixa, NewDate(2025, time.February, 15))
	p.SetText(DestinatarioNome, "ACME")

	merged, changes := r.Merge(p, MergeOverwrite)

	require.Len(t, changes, 1)
	assert.Equal(t, DataBaixa, changes[0].Field)
	assert.Nil(t, changes[0].Old)
	assert.Equal(t, "2025-02-15", changes[0].New)

	assert.Equal(t, "ACME", *merged.DestinatarioNome)
	assert.Equal(t, NewDate(2025, time.February, 15), *merged.DataBaixa)
	assert.Nil(t, r.DataBaixa, "receiver must not be modified")
}

func TestMergeFillEmpty(t *testing.T) {
	r := baseRecord()

	var p Patch
	p.SetText(DestinatarioNome, "Other")
	p.SetText(VeiculoPlaca, "ABC1D23")
	p.SetMoney(decimal.NewFromInt(10))

	merged, changes := r.Merge(p, MergeFillEmpty)

	require.Len(t, changes, 1)
	assert.Equal(t, VeiculoPlaca, changes[0].Field)
	assert.Equal(t, "ACME", *merged.DestinatarioNome)
	assert.True(t, merged.ValorTotal.Equal(decimal.RequireFromString("1234.5")))
}

func TestMergeNoChanges(t *testing.T) {
	r := baseRecord()
	var p Patch
	p.SetMoney(decimal.RequireFromString("1234.5"))
	_, changes := r.Merge(p, MergeOverwrite)
	assert.Empty(t, changes)
}

func TestMergeMoneyChangeCarriesOld(t *testing.T) {
	r := baseRecord()
	var p Patch
	p.SetMoney(decimal.RequireFromString("99.9"))
	_, changes := r.Merge(p, MergeOverwrite)
	require.Len(t, changes, 1)
	require.NotNil(t, changes[0].Old)
	assert.Equal(t, "1234.50", *changes[0].Old)
	assert.Equal(t, "99.90", changes[0].New)
}

func TestCloneDoesNotAlias(t *testing.T) {
	r := baseRecord()
	c := r.Clone()
	*c.DestinatarioNome = "changed"
	*c.DataEmissao = NewDate(2000, time.January, 1)
	assert.Equal(t, "ACME", *r.DestinatarioNome)
	assert.Equal(t, NewDate(2025, time.February, 1), *r.DataEmissao)
}

func TestNewFromPatch(t *testing.T) {
	var p Patch
	p.SetKey(7)
	p.SetText(DestinatarioNome, "X")
	r := NewFromPatch(p)
	assert.EqualValues(t, 7, r.NumeroCTE)
	assert.Equal(t, "X", *r.DestinatarioNome)
	assert.True(t, r.ValorTotal.IsZero())
	assert.Nil(t, r.DataEmissao)
}

func TestParseMergePolicy(t *testing.T) {
	for in, want := range map[string]MergePolicy{
		"":           MergeOverwrite,
		"all":        MergeOverwrite,
		"overwrite":  MergeOverwrite,
		"fill_empty": MergeFillEmpty,
		"empty_only": MergeFillEmpty,
	} {
		got, err := ParseMergePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMergePolicy("sometimes")
	assert.Error(t, err)
}

func TestStatusProcesso(t *testing.T) {
	d := func(day int) *Date { return DatePtr(2025, time.March, day) }

	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"nothing", Record{}, StatusPendente},
		{"emitido", Record{DataEmissao: d(1)}, StatusEmitido},
		{"enviado", Record{DataEmissao: d(1), PrimeiroEnvio: d(2)}, StatusEnviado},
		{"atestado", Record{DataEmissao: d(1), DataAtesto: d(4)}, StatusAtestado},
		{"envio final", Record{DataEmissao: d(1), EnvioFinal: d(5)}, StatusEnvioFinal},
		{"completo", Record{DataEnvioProcesso: d(1), PrimeiroEnvio: d(2), DataRqTmc: d(3), DataAtesto: d(4)}, StatusCompleto},
		{"finalizado", Record{DataEnvioProcesso: d(1), PrimeiroEnvio: d(2), DataRqTmc: d(3), DataAtesto: d(4), DataBaixa: d(9)}, StatusFinalizado},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.StatusProcesso())
		})
	}
}

func TestViewJSON(t *testing.T) {
	r := baseRecord()
	r.DataBaixa = DatePtr(2025, time.February, 15)

	b, err := json.Marshal(NewView(r))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "2025-02-01", got["data_emissao"])
	assert.Equal(t, true, got["has_baixa"])
	assert.EqualValues(t, 14, got["dias_ate_baixa"])
	assert.Equal(t, StatusEmitido, got["status_processo"])
	assert.Nil(t, got["veiculo_placa"])
}
