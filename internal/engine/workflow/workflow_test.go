package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"sgc/internal/domain"
)

func TestMapeamentoGraph(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		from   domain.SubprocessState
		action domain.Action
		want   domain.SubprocessState
	}{
		{domain.CadastroEmAndamento, domain.ActionDisponibilizar, domain.CadastroDisponibilizado},
		{domain.CadastroDisponibilizado, domain.ActionAceitar, domain.CadastroDisponibilizado},
		{domain.CadastroDisponibilizado, domain.ActionDevolver, domain.CadastroEmAndamento},
		{domain.CadastroDisponibilizado, domain.ActionHomologar, domain.CadastroHomologado},
		{domain.CadastroHomologado, domain.ActionIniciarMapa, domain.MapaEmAndamento},
		{domain.MapaEmAndamento, domain.ActionValidar, domain.MapaEmAndamento},
		{domain.MapaEmAndamento, domain.ActionDisponibilizar, domain.MapaDisponibilizado},
		{domain.MapaDisponibilizado, domain.ActionHomologar, domain.MapaHomologado},
	}
	for _, tt := range tests {
		got, err := Next(ctx, domain.ProcessMapeamento, tt.from, tt.action)
		require.NoError(t, err, "%s %s", tt.from, tt.action)
		require.Equal(t, tt.want, got)
	}
}

func TestRevisaoSharesTopology(t *testing.T) {
	ctx := context.Background()
	got, err := Next(ctx, domain.ProcessRevisao, domain.RevisaoCadastroEmAndamento, domain.ActionDisponibilizar)
	require.NoError(t, err)
	require.Equal(t, domain.RevisaoCadastroDisponibilizado, got)

	got, err = Next(ctx, domain.ProcessRevisao, domain.RevisaoCadastroHomologado, domain.ActionIniciarMapa)
	require.NoError(t, err)
	require.Equal(t, domain.RevisaoMapaEmAndamento, got)

	// states of another process type are not in the alphabet
	_, err = Next(ctx, domain.ProcessRevisao, domain.CadastroEmAndamento, domain.ActionDisponibilizar)
	require.Error(t, err)
}

func TestIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		tipo   domain.ProcessType
		from   domain.SubprocessState
		action domain.Action
	}{
		{domain.ProcessMapeamento, domain.CadastroEmAndamento, domain.ActionAceitar},
		{domain.ProcessMapeamento, domain.CadastroEmAndamento, domain.ActionHomologar},
		{domain.ProcessMapeamento, domain.CadastroDisponibilizado, domain.ActionDisponibilizar},
		{domain.ProcessMapeamento, domain.CadastroEmAndamento, domain.ActionValidar},
		{domain.ProcessMapeamento, domain.MapaHomologado, domain.ActionDevolver},
		{domain.ProcessMapeamento, domain.CadastroDisponibilizado, domain.ActionEditar},
		{domain.ProcessDiagnostico, domain.DiagnosticoHomologado, domain.ActionIniciarMapa},
	}
	for _, tt := range tests {
		_, err := Next(ctx, tt.tipo, tt.from, tt.action)
		var it InvalidTransitionError
		require.True(t, errors.As(err, &it), "%s %s", tt.from, tt.action)
		require.Equal(t, string(tt.from), it.Situacao)
		require.False(t, Can(tt.tipo, tt.from, tt.action))
	}
}

func TestInitialAndTerminal(t *testing.T) {
	for tipo, want := range map[domain.ProcessType][2]domain.SubprocessState{
		domain.ProcessMapeamento:  {domain.CadastroEmAndamento, domain.MapaHomologado},
		domain.ProcessRevisao:     {domain.RevisaoCadastroEmAndamento, domain.RevisaoMapaHomologado},
		domain.ProcessDiagnostico: {domain.DiagnosticoEmAndamento, domain.DiagnosticoHomologado},
	} {
		initial, err := Initial(tipo)
		require.NoError(t, err)
		require.Equal(t, want[0], initial)
		terminal, err := Terminal(tipo)
		require.NoError(t, err)
		require.Equal(t, want[1], terminal)
	}
	require.Len(t, Alphabet(domain.ProcessMapeamento), 6)
	require.Len(t, Alphabet(domain.ProcessDiagnostico), 3)
}

func TestStageOf(t *testing.T) {
	s, ok := StageOf(domain.ProcessMapeamento, domain.MapaDisponibilizado)
	require.True(t, ok)
	require.Equal(t, PhaseMapa, s.Phase)
	require.Equal(t, domain.MapaEmAndamento, s.EmAndamento)

	_, ok = StageOf(domain.ProcessDiagnostico, domain.MapaDisponibilizado)
	require.False(t, ok)
}
