package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sgc/internal/domain"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.StrictDisponibilizacao())
	require.False(t, cfg.BlockUncoveredActivities())

	units := cfg.Units()
	require.Equal(t, "SEDOC", units[0].Sigla)
	require.Empty(t, units[0].Parent)
	bySigla := map[string]domain.Unit{}
	for _, u := range units {
		bySigla[u.Sigla] = u
	}
	require.Equal(t, "COORD_11", bySigla["SECAO_111"].Parent)
	require.Equal(t, []string{"SECAO_111", "SECAO_112"}, bySigla["COORD_11"].Filhas)
}

func TestValidateRejectsMalformedTrees(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "two roots",
			yaml: "organizacao:\n  unidades:\n    - {sigla: A, tipo: INTEROPERATIONAL}\n    - {sigla: B, tipo: INTEROPERATIONAL}\n",
			want: "single root",
		},
		{
			name: "duplicate sigla",
			yaml: "organizacao:\n  unidades:\n    - sigla: A\n      tipo: INTEROPERATIONAL\n      filhas:\n        - {sigla: A, tipo: OPERATIONAL}\n",
			want: "duplicate unit sigla A",
		},
		{
			name: "unknown tipo",
			yaml: "organizacao:\n  unidades:\n    - {sigla: A, tipo: SETOR}\n",
			want: "invalid tipo",
		},
		{
			name: "bad uncovered policy",
			yaml: "organizacao:\n  unidades:\n    - {sigla: A, tipo: INTEROPERATIONAL}\npoliticas:\n  mapa:\n    atividades_sem_competencia: ignorar\n",
			want: "atividades_sem_competencia",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPolicies(t *testing.T) {
	cfg, err := FromYAML([]byte("organizacao:\n  unidades:\n    - {sigla: A, tipo: INTEROPERATIONAL}\npoliticas:\n  disponibilizacao:\n    estrita: false\n  mapa:\n    atividades_sem_competencia: bloquear\n"))
	require.NoError(t, err)
	require.False(t, cfg.StrictDisponibilizacao())
	require.True(t, cfg.BlockUncoveredActivities())
}
