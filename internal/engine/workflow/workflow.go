// Package workflow encodes the fixed subprocess state graphs per process type.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"sgc/internal/domain"
)

// InvalidTransitionError reports an action attempted outside its source states.
type InvalidTransitionError struct {
	Situacao string
	Acao     string
	Reason   string
}

func (e InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transicao %s invalida em %s: %s", e.Acao, e.Situacao, e.Reason)
	}
	return fmt.Sprintf("transicao %s invalida em %s", e.Acao, e.Situacao)
}

type Phase string

const (
	PhaseCadastro Phase = "cadastro"
	PhaseMapa     Phase = "mapa"
)

// Stage groups the three states of one phase.
type Stage struct {
	Phase           Phase
	EmAndamento     domain.SubprocessState
	Disponibilizado domain.SubprocessState
	Homologado      domain.SubprocessState
}

type graph struct {
	stages []Stage
	events fsm.Events
}

var graphs = map[domain.ProcessType]graph{
	domain.ProcessMapeamento: build(
		Stage{PhaseCadastro, domain.CadastroEmAndamento, domain.CadastroDisponibilizado, domain.CadastroHomologado},
		Stage{PhaseMapa, domain.MapaEmAndamento, domain.MapaDisponibilizado, domain.MapaHomologado},
	),
	domain.ProcessRevisao: build(
		Stage{PhaseCadastro, domain.RevisaoCadastroEmAndamento, domain.RevisaoCadastroDisponibilizado, domain.RevisaoCadastroHomologado},
		Stage{PhaseMapa, domain.RevisaoMapaEmAndamento, domain.RevisaoMapaDisponibilizado, domain.RevisaoMapaHomologado},
	),
	domain.ProcessDiagnostico: build(
		Stage{PhaseCadastro, domain.DiagnosticoEmAndamento, domain.DiagnosticoDisponibilizado, domain.DiagnosticoHomologado},
	),
}

func edge(action domain.Action, from, to domain.SubprocessState) fsm.EventDesc {
	return fsm.EventDesc{Name: string(action), Src: []string{string(from)}, Dst: string(to)}
}

func build(stages ...Stage) graph {
	var evs fsm.Events
	for i, s := range stages {
		evs = append(evs,
			edge(domain.ActionDisponibilizar, s.EmAndamento, s.Disponibilizado),
			edge(domain.ActionAceitar, s.Disponibilizado, s.Disponibilizado),
			edge(domain.ActionHomologar, s.Disponibilizado, s.Homologado),
			edge(domain.ActionDevolver, s.Disponibilizado, s.EmAndamento),
			edge(domain.ActionEditar, s.EmAndamento, s.EmAndamento),
		)
		if s.Phase == PhaseMapa {
			evs = append(evs,
				edge(domain.ActionValidar, s.EmAndamento, s.EmAndamento),
				edge(domain.ActionApresentarSugestoes, s.EmAndamento, s.EmAndamento),
				edge(domain.ActionIniciarMapa, stages[i-1].Homologado, s.EmAndamento),
			)
		}
		for _, st := range []domain.SubprocessState{s.EmAndamento, s.Disponibilizado, s.Homologado} {
			evs = append(evs, edge(domain.ActionVisualizar, st, st))
		}
	}
	return graph{stages: stages, events: evs}
}

func graphFor(tipo domain.ProcessType) (graph, error) {
	g, ok := graphs[tipo]
	if !ok {
		return graph{}, fmt.Errorf("tipo de processo desconhecido %q", tipo)
	}
	return g, nil
}

// Initial is the state every subprocess starts in.
func Initial(tipo domain.ProcessType) (domain.SubprocessState, error) {
	g, err := graphFor(tipo)
	if err != nil {
		return "", err
	}
	return g.stages[0].EmAndamento, nil
}

// Terminal is the state finalizarProcesso requires.
func Terminal(tipo domain.ProcessType) (domain.SubprocessState, error) {
	g, err := graphFor(tipo)
	if err != nil {
		return "", err
	}
	return g.stages[len(g.stages)-1].Homologado, nil
}

// StageOf returns the phase a state belongs to.
func StageOf(tipo domain.ProcessType, state domain.SubprocessState) (Stage, bool) {
	g, err := graphFor(tipo)
	if err != nil {
		return Stage{}, false
	}
	for _, s := range g.stages {
		switch state {
		case s.EmAndamento, s.Disponibilizado, s.Homologado:
			return s, true
		}
	}
	return Stage{}, false
}

// Alphabet lists every legal state for tipo.
func Alphabet(tipo domain.ProcessType) []domain.SubprocessState {
	g, err := graphFor(tipo)
	if err != nil {
		return nil
	}
	var out []domain.SubprocessState
	for _, s := range g.stages {
		out = append(out, s.EmAndamento, s.Disponibilizado, s.Homologado)
	}
	return out
}

// Next returns the state reached by applying action to from. Self loops
// such as aceitar return from unchanged.
func Next(ctx context.Context, tipo domain.ProcessType, from domain.SubprocessState, action domain.Action) (domain.SubprocessState, error) {
	g, err := graphFor(tipo)
	if err != nil {
		return "", err
	}
	if _, ok := StageOf(tipo, from); !ok {
		return "", InvalidTransitionError{Situacao: string(from), Acao: string(action), Reason: "situacao fora do alfabeto do processo"}
	}
	machine := fsm.NewFSM(string(from), g.events, fsm.Callbacks{})
	err = machine.Event(ctx, string(action))
	var noTransition fsm.NoTransitionError
	switch {
	case err == nil:
		return domain.SubprocessState(machine.Current()), nil
	case errors.As(err, &noTransition) && noTransition.Err == nil:
		return from, nil
	default:
		return "", InvalidTransitionError{Situacao: string(from), Acao: string(action)}
	}
}

// Can reports whether action is legal from state.
func Can(tipo domain.ProcessType, state domain.SubprocessState, action domain.Action) bool {
	g, err := graphFor(tipo)
	if err != nil {
		return false
	}
	return fsm.NewFSM(string(state), g.events, fsm.Callbacks{}).Can(string(action))
}
