package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sgc/internal/domain"
)

func TestCadastro(t *testing.T) {
	t.Run("empty cadastro yields one global error", func(t *testing.T) {
		res := Cadastro(nil)
		require.False(t, res.Valido)
		require.Len(t, res.Erros, 1)
		require.Empty(t, res.Erros[0].AtividadeID)
	})

	t.Run("activity without knowledge is tagged", func(t *testing.T) {
		res := Cadastro([]domain.Activity{
			{ID: "a1", Descricao: "Analisar", Conhecimentos: []domain.Knowledge{{ID: "k1"}}},
			{ID: "a2", Descricao: "Redigir"},
		})
		require.False(t, res.Valido)
		require.Len(t, res.Erros, 1)
		require.Equal(t, "a2", res.Erros[0].AtividadeID)
	})

	t.Run("complete cadastro", func(t *testing.T) {
		res := Cadastro([]domain.Activity{{ID: "a1", Conhecimentos: []domain.Knowledge{{ID: "k1"}}}})
		require.True(t, res.Valido)
		require.Empty(t, res.Erros)
	})
}

func TestMapa(t *testing.T) {
	acts := []domain.Activity{{ID: "a1", Descricao: "Analisar"}, {ID: "a2", Descricao: "Redigir"}}

	t.Run("no competencies", func(t *testing.T) {
		res := Mapa(nil, acts, MapaOptions{})
		require.False(t, res.Valido)
		require.Len(t, res.Alertas, 2)
	})

	t.Run("competency without activity blocks", func(t *testing.T) {
		res := Mapa([]domain.Competency{
			{ID: "c1", Atividades: []string{"a1", "a2"}},
			{ID: "c2", Atividades: []string{"ghost"}},
		}, acts, MapaOptions{})
		require.False(t, res.Valido)
		require.Equal(t, []Issue{{CompetenciaID: "c2", Mensagem: res.Erros[0].Mensagem}}, res.Erros)
	})

	t.Run("uncovered activity warns by default", func(t *testing.T) {
		res := Mapa([]domain.Competency{{ID: "c1", Atividades: []string{"a1"}}}, acts, MapaOptions{})
		require.True(t, res.Valido)
		require.Len(t, res.Alertas, 1)
		require.Equal(t, "a2", res.Alertas[0].AtividadeID)
	})

	t.Run("uncovered activity blocks under strict policy", func(t *testing.T) {
		res := Mapa([]domain.Competency{{ID: "c1", Atividades: []string{"a1"}}}, acts, MapaOptions{BlockUncovered: true})
		require.False(t, res.Valido)
		require.Equal(t, "a2", res.Erros[0].AtividadeID)
		require.Empty(t, res.Alertas)
	})
}
