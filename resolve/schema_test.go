// ABOUTME: Tests for the multi-candidate resolver and mapping tables
// ABOUTME: Verifies candidate priority, identifier fallback and input immutability
package resolve

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) Record {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var r Record
	require.NoError(t, dec.Decode(&r))
	return r
}

func TestStringCandidatePriority(t *testing.T) {
	// Only B is non-empty; unrelated keys must not matter.
	r := Record{"zzz": "noise", "A": "   ", "B": "from-b", "aaa": "noise", "C": ""}
	got, ok := String(r, "A", "B", "C")
	require.True(t, ok)
	assert.Equal(t, "from-b", got)

	r = Record{"C": "from-c", "A": "from-a"}
	got, ok = String(r, "A", "B", "C")
	require.True(t, ok)
	assert.Equal(t, "from-a", got, "first candidate wins when several are present")
}

func TestNumberSkipsInvalidCandidates(t *testing.T) {
	r := Record{"A": "n/a", "B": "12,5"}
	got, ok := Number(r, "A", "B")
	require.True(t, ok)
	assert.InDelta(t, 12.5, got, 1e-9)
}

func TestIDFallsBackToNumber(t *testing.T) {
	r := decode(t, `{"ProcID": 12345, "id": ""}`)
	id, ok := ID(r, "ProcID", "id")
	require.True(t, ok)
	assert.Equal(t, "12345", id)

	r = decode(t, `{"ProcID": 12345, "id": "abc"}`)
	id, ok = ID(r, "ProcID", "id")
	require.True(t, ok)
	assert.Equal(t, "abc", id, "a string candidate beats an earlier numeric one")

	_, ok = ID(Record{"other": 1}, "ProcID", "id")
	assert.False(t, ok)
}

func TestObjectAndValue(t *testing.T) {
	r := decode(t, `{"Empresa": "Acme", "Company": {"EmpID": 9}, "Passos": [], "Anexos": [{"n": 1}]}`)

	obj, ok := Object(r, "Empresa", "Company")
	require.True(t, ok)
	assert.Equal(t, json.Number("9"), obj["EmpID"])

	_, ok = Value(r, "Passos")
	assert.False(t, ok, "empty list is absent")

	v, ok := Value(r, "Passos", "Anexos")
	require.True(t, ok)
	assert.Len(t, v, 1)
}

func TestResolversDoNotMutateInput(t *testing.T) {
	r := Record{"EmpNome": "  Acme  ", "CNPJ": "12.345.678/0001-99"}
	_, _ = CompanySchema.String(r, FieldName)
	_, _ = CompanySchema.String(r, FieldDocument)
	assert.Equal(t, "  Acme  ", r["EmpNome"])
	assert.Equal(t, "12.345.678/0001-99", r["CNPJ"])
}

func TestSchemaResolvesAcrossAPIVersions(t *testing.T) {
	v1 := decode(t, `{"EmpID": 10, "EmpNome": "Acme", "EmpCNPJ": "12.345.678/0001-99"}`)
	v2 := decode(t, `{"ID": "10", "RazaoSocial": "Acme", "CNPJ": "12345678000199", "Email": "a@acme.com"}`)

	for _, r := range []Record{v1, v2} {
		id, ok := CompanySchema.ID(r, FieldExternalID)
		require.True(t, ok)
		assert.Equal(t, "10", id)

		name, ok := CompanySchema.String(r, FieldName)
		require.True(t, ok)
		assert.Equal(t, "Acme", name)

		doc, ok := CompanySchema.String(r, FieldDocument)
		require.True(t, ok)
		assert.Equal(t, "12345678000199", Digits(doc))
	}
}

func TestSchemaBuilderAppendsCandidates(t *testing.T) {
	s := NewSchema("thing").Field("x", "a").Field("x", "b")
	assert.Equal(t, []string{"a", "b"}, s.Candidates("x"))
	assert.Equal(t, "thing", s.Kind())

	assert.Panics(t, func() { s.String(Record{}, "missing") })
}
