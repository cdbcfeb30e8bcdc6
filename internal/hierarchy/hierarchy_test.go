package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sgc/internal/domain"
)

func sampleUnits() []domain.Unit {
	return []domain.Unit{
		{Sigla: "SEDOC", Tipo: domain.UnitInteroperational, Titular: "admin"},
		{Sigla: "SECRETARIA_1", Tipo: domain.UnitInteroperational, Titular: "gestor-sec1", Parent: "SEDOC"},
		{Sigla: "COORD_11", Tipo: domain.UnitIntermediate, Titular: "gestor-coord11", Parent: "SECRETARIA_1"},
		{Sigla: "SECAO_111", Tipo: domain.UnitOperational, Titular: "chefe-111", Parent: "COORD_11"},
		{Sigla: "SECAO_112", Tipo: domain.UnitOperational, Titular: "chefe-112", Parent: "COORD_11"},
		{Sigla: "SECRETARIA_2", Tipo: domain.UnitIntermediate, Parent: "SEDOC"},
		{Sigla: "SECAO_211", Tipo: domain.UnitOperational, Titular: "chefe-211", Parent: "SECRETARIA_2"},
	}
}

func TestNewRejectsMalformedTrees(t *testing.T) {
	tests := []struct {
		name  string
		units []domain.Unit
	}{
		{"no root", []domain.Unit{{Sigla: "A", Parent: "B"}, {Sigla: "B", Parent: "A"}}},
		{"two roots", []domain.Unit{{Sigla: "A"}, {Sigla: "B"}}},
		{"unknown parent", []domain.Unit{{Sigla: "A"}, {Sigla: "B", Parent: "X"}}},
		{"cycle below root", []domain.Unit{{Sigla: "R"}, {Sigla: "A", Parent: "B"}, {Sigla: "B", Parent: "A"}}},
		{"duplicate", []domain.Unit{{Sigla: "A"}, {Sigla: "A"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.units)
			require.ErrorIs(t, err, ErrInvalidHierarchy)
		})
	}
}

func TestAncestorsDetectsCycle(t *testing.T) {
	h := &Hierarchy{units: map[string]domain.Unit{
		"A": {Sigla: "A", Parent: "B"},
		"B": {Sigla: "B", Parent: "A"},
	}}
	_, err := h.Ancestors("A")
	require.ErrorIs(t, err, ErrInvalidHierarchy)
	_, err = h.NextResponsible("A")
	require.ErrorIs(t, err, ErrInvalidHierarchy)
}

func TestNextResponsible(t *testing.T) {
	h, err := New(sampleUnits())
	require.NoError(t, err)

	tests := []struct {
		from string
		want string
	}{
		{"SECAO_111", "COORD_11"},
		{"COORD_11", "SECRETARIA_1"},
		{"SECRETARIA_1", "SEDOC"},
		// SECRETARIA_2 has no titular, so the chain skips it.
		{"SECAO_211", "SEDOC"},
		{"SEDOC", "SEDOC"},
	}
	for _, tt := range tests {
		got, err := h.NextResponsible(tt.from)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, tt.from)
	}

	_, err = h.NextResponsible("NOPE")
	require.ErrorIs(t, err, ErrInvalidHierarchy)
}

func TestChainStrictlyAscends(t *testing.T) {
	h, err := New(sampleUnits())
	require.NoError(t, err)

	chain, err := h.Chain("SECAO_111")
	require.NoError(t, err)
	require.Equal(t, []string{"SECAO_111", "COORD_11", "SECRETARIA_1", "SEDOC"}, chain)
	for i := 1; i < len(chain); i++ {
		require.True(t, h.IsAncestor(chain[i], chain[i-1]))
	}
}

func TestRelationship(t *testing.T) {
	h, err := New(sampleUnits())
	require.NoError(t, err)

	require.Equal(t, domain.RelationSame, h.Relationship("SECAO_111", "SECAO_111"))
	require.Equal(t, domain.RelationAncestor, h.Relationship("COORD_11", "SECAO_111"))
	require.Equal(t, domain.RelationAncestor, h.Relationship("SECRETARIA_1", "SECAO_111"))
	require.Equal(t, domain.RelationRoot, h.Relationship("SEDOC", "SECAO_111"))
	require.Equal(t, domain.RelationUnrelated, h.Relationship("SECAO_112", "SECAO_111"))
	require.Equal(t, domain.RelationUnrelated, h.Relationship("SECAO_111", "COORD_11"))
	require.Equal(t, domain.RelationUnrelated, h.Relationship("GHOST", "SECAO_111"))
}

func TestChildrenFollowInputOrder(t *testing.T) {
	h, err := New(sampleUnits())
	require.NoError(t, err)
	u, ok := h.Unit("COORD_11")
	require.True(t, ok)
	require.Equal(t, []string{"SECAO_111", "SECAO_112"}, u.Filhas)
	require.Equal(t, []string{"SECRETARIA_1", "COORD_11", "SECAO_111", "SECAO_112", "SECRETARIA_2", "SECAO_211"}, h.Descendants("SEDOC"))
}
