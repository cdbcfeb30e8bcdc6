package engine

import (
	"context"
	"fmt"
	"strings"

	"sgc/internal/domain"
	"sgc/internal/engine/auth"
	"sgc/internal/engine/validation"
	"sgc/internal/engine/workflow"
	"sgc/internal/events"
)

type DisponibilizarOptions struct {
	// DataLimite sets the deadline of the map stage when submitting a map.
	DataLimite string
}

// Disponibilizar submits the cadastro or map held by the owning unit.
func (e Engine) Disponibilizar(ctx context.Context, actor domain.Actor, id string, opts DisponibilizarOptions) (domain.Subprocess, error) {
	return e.disponibilizar(ctx, actor, id, AnyScope, opts)
}

func (e Engine) DisponibilizarCadastro(ctx context.Context, actor domain.Actor, id string) (domain.Subprocess, error) {
	return e.disponibilizar(ctx, actor, id, ScopeCadastro, DisponibilizarOptions{})
}

func (e Engine) DisponibilizarRevisaoCadastro(ctx context.Context, actor domain.Actor, id string) (domain.Subprocess, error) {
	return e.disponibilizar(ctx, actor, id, ScopeRevisaoCadastro, DisponibilizarOptions{})
}

func (e Engine) DisponibilizarMapa(ctx context.Context, actor domain.Actor, id, dataLimite string) (domain.Subprocess, error) {
	return e.disponibilizar(ctx, actor, id, ScopeMapa, DisponibilizarOptions{DataLimite: dataLimite})
}

func (e Engine) disponibilizar(ctx context.Context, actor domain.Actor, id string, scope Scope, opts DisponibilizarOptions) (domain.Subprocess, error) {
	if opts.DataLimite != "" && !validDate(opts.DataLimite) {
		return domain.Subprocess{}, invalidInput("data limite invalida %q, use AAAA-MM-DD", opts.DataLimite)
	}
	st, err := e.mutate(ctx, actor, id, domain.ActionDisponibilizar, scope, func(ctx context.Context, st *step) error {
		if st.sub.Situacao == st.stage.Disponibilizado && !e.strict() {
			st.noop = true
			return nil
		}
		if err := st.advance(ctx); err != nil {
			return err
		}
		var res validation.Result
		switch {
		case st.proc.Tipo == domain.ProcessDiagnostico:
			res = validation.Result{Valido: true}
		case st.stage.Phase == workflow.PhaseCadastro:
			acts, err := st.repo.ListActivities(ctx, st.sub.ID)
			if err != nil {
				return err
			}
			res = validation.Cadastro(acts)
		default:
			if !st.sub.MapaValidado {
				return st.reject("mapa ainda nao validado pela unidade")
			}
			var err error
			if res, err = e.checkMapa(ctx, st); err != nil {
				return err
			}
			if opts.DataLimite != "" {
				limite := opts.DataLimite
				st.sub.DataLimiteEtapa2 = &limite
			}
		}
		if !res.Valido {
			return ValidationFailedError{Erros: res.Erros}
		}
		st.emit(events.Disponibilizado, "subprocesso", st.sub.ID, events.EventPayload{
			"unidade": st.sub.Unidade, "situacao": st.sub.Situacao, "etapa": st.stage.Phase,
		})
		return nil
	})
	if err != nil {
		return domain.Subprocess{}, err
	}
	return st.sub, nil
}

func (e Engine) checkMapa(ctx context.Context, st *step) (validation.Result, error) {
	acts, err := st.repo.ListActivities(ctx, st.sub.ID)
	if err != nil {
		return validation.Result{}, err
	}
	comps, err := st.repo.ListCompetencies(ctx, st.sub.ID)
	if err != nil {
		return validation.Result{}, err
	}
	return validation.Mapa(comps, acts, validation.MapaOptions{BlockUncovered: e.blockUncovered()}), nil
}

// precheck rejects calls the current routing makes structurally impossible,
// before the actor's relationship to the current unit is evaluated.
func precheck(action domain.Action, actor domain.Actor, sub domain.Subprocess) error {
	if action == domain.ActionAceitar && actor.Unidade == sub.UnidadeAtual && sub.UnidadeAtual != sub.Unidade {
		return InvalidTransitionError{Situacao: string(sub.Situacao), Acao: string(action), Reason: "aceite ja registrado por esta unidade"}
	}
	return nil
}

// Aceitar records the reviewer's acceptance and hands the artifact one level up.
func (e Engine) Aceitar(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.aceitar(ctx, actor, id, observacao, AnyScope)
}

func (e Engine) AceitarCadastro(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.aceitar(ctx, actor, id, observacao, ScopeCadastro)
}

func (e Engine) AceitarRevisaoCadastro(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.aceitar(ctx, actor, id, observacao, ScopeRevisaoCadastro)
}

func (e Engine) AceitarMapa(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.aceitar(ctx, actor, id, observacao, ScopeMapa)
}

func (e Engine) aceitar(ctx context.Context, actor domain.Actor, id, observacao string, scope Scope) (domain.Subprocess, error) {
	st, err := e.mutate(ctx, actor, id, domain.ActionAceitar, scope, func(ctx context.Context, st *step) error {
		if err := st.advance(ctx); err != nil {
			return err
		}
		reviewer, err := st.h.NextResponsible(st.sub.UnidadeAtual)
		if err != nil {
			return err
		}
		if reviewer == st.h.Root() {
			return st.reject("cadeia de aceites concluida, homologacao reservada ao administrador")
		}
		if actor.Unidade != reviewer {
			return auth.ForbiddenError{Acao: domain.ActionAceitar, Perfil: actor.Role, Reason: fmt.Sprintf("aceite cabe a unidade %s", reviewer)}
		}
		if err := st.analyse(ctx, st.sub.Situacao, domain.DecisionAceite, observacao); err != nil {
			return err
		}
		from := st.sub.UnidadeAtual
		if err := st.moveTo(ctx, reviewer); err != nil {
			return err
		}
		st.emit(events.Aceito, "subprocesso", st.sub.ID, events.EventPayload{
			"unidade": st.sub.Unidade, "de": from, "para": reviewer, "situacao": st.sub.Situacao,
		})
		return nil
	})
	if err != nil {
		return domain.Subprocess{}, err
	}
	return st.sub, nil
}

// Homologar is the administrator's final approval once the chain reached the root.
func (e Engine) Homologar(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.homologar(ctx, actor, id, observacao, AnyScope)
}

func (e Engine) HomologarCadastro(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.homologar(ctx, actor, id, observacao, ScopeCadastro)
}

func (e Engine) HomologarRevisaoCadastro(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.homologar(ctx, actor, id, observacao, ScopeRevisaoCadastro)
}

func (e Engine) HomologarMapa(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.homologar(ctx, actor, id, observacao, ScopeMapa)
}

func (e Engine) homologar(ctx context.Context, actor domain.Actor, id, observacao string, scope Scope) (domain.Subprocess, error) {
	st, err := e.mutate(ctx, actor, id, domain.ActionHomologar, scope, func(ctx context.Context, st *step) error {
		from := st.sub.Situacao
		if err := st.advance(ctx); err != nil {
			return err
		}
		reviewer, err := st.h.NextResponsible(st.sub.UnidadeAtual)
		if err != nil {
			return err
		}
		if reviewer != st.h.Root() {
			return st.reject(fmt.Sprintf("aceite pendente da unidade %s", reviewer))
		}
		if err := st.analyse(ctx, from, domain.DecisionHomologacao, observacao); err != nil {
			return err
		}
		if err := st.moveTo(ctx, st.sub.Unidade); err != nil {
			return err
		}
		st.emit(events.Homologado, "subprocesso", st.sub.ID, events.EventPayload{
			"unidade": st.sub.Unidade, "situacao": st.sub.Situacao,
		})
		return nil
	})
	if err != nil {
		return domain.Subprocess{}, err
	}
	return st.sub, nil
}

// Devolver returns the artifact to the owning unit for rework.
func (e Engine) Devolver(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.devolver(ctx, actor, id, observacao, AnyScope)
}

func (e Engine) DevolverCadastro(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.devolver(ctx, actor, id, observacao, ScopeCadastro)
}

func (e Engine) DevolverRevisaoCadastro(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.devolver(ctx, actor, id, observacao, ScopeRevisaoCadastro)
}

func (e Engine) DevolverMapa(ctx context.Context, actor domain.Actor, id, observacao string) (domain.Subprocess, error) {
	return e.devolver(ctx, actor, id, observacao, ScopeMapa)
}

func (e Engine) devolver(ctx context.Context, actor domain.Actor, id, observacao string, scope Scope) (domain.Subprocess, error) {
	observacao = strings.TrimSpace(observacao)
	st, err := e.mutate(ctx, actor, id, domain.ActionDevolver, scope, func(ctx context.Context, st *step) error {
		from := st.sub.Situacao
		if err := st.advance(ctx); err != nil {
			return err
		}
		reviewer, err := st.h.NextResponsible(st.sub.UnidadeAtual)
		if err != nil {
			return err
		}
		ownerChief := actor.Unidade == st.sub.Unidade && st.sub.UnidadeAtual == st.sub.Unidade
		if actor.Unidade != reviewer && actor.Role != domain.RoleAdmin && !ownerChief {
			return auth.ForbiddenError{Acao: domain.ActionDevolver, Perfil: actor.Role, Reason: fmt.Sprintf("devolucao cabe a unidade %s", reviewer)}
		}
		if observacao == "" && !ownerChief {
			return ValidationFailedError{Erros: []validation.Issue{{Mensagem: "observacao obrigatoria na devolucao"}}}
		}
		if err := st.analyse(ctx, from, domain.DecisionDevolucao, observacao); err != nil {
			return err
		}
		if err := st.moveTo(ctx, st.sub.Unidade); err != nil {
			return err
		}
		if st.stage.Phase == workflow.PhaseMapa {
			st.sub.MapaValidado = false
		}
		st.emit(events.Devolvido, "subprocesso", st.sub.ID, events.EventPayload{
			"unidade": st.sub.Unidade, "situacao": st.sub.Situacao, "observacao": observacao,
		})
		return nil
	})
	if err != nil {
		return domain.Subprocess{}, err
	}
	return st.sub, nil
}

// IniciarMapa opens the map stage after the cadastro was homologated.
func (e Engine) IniciarMapa(ctx context.Context, actor domain.Actor, id string) (domain.Subprocess, error) {
	st, err := e.mutate(ctx, actor, id, domain.ActionIniciarMapa, AnyScope, func(ctx context.Context, st *step) error {
		if err := st.advance(ctx); err != nil {
			return err
		}
		st.sub.MapaValidado = false
		st.sub.Sugestoes = ""
		st.emit(events.MapaIniciado, "subprocesso", st.sub.ID, events.EventPayload{"unidade": st.sub.Unidade, "situacao": st.sub.Situacao})
		return nil
	})
	if err != nil {
		return domain.Subprocess{}, err
	}
	return st.sub, nil
}

// ApresentarSugestoes records the unit chief's suggestions on the map.
func (e Engine) ApresentarSugestoes(ctx context.Context, actor domain.Actor, id, sugestoes string) (domain.Subprocess, error) {
	sugestoes = strings.TrimSpace(sugestoes)
	if sugestoes == "" {
		return domain.Subprocess{}, invalidInput("sugestoes obrigatorias")
	}
	st, err := e.mutate(ctx, actor, id, domain.ActionApresentarSugestoes, ScopeMapa, func(ctx context.Context, st *step) error {
		if err := st.advance(ctx); err != nil {
			return err
		}
		st.sub.Sugestoes = sugestoes
		st.sub.MapaValidado = false
		st.dirty = true
		st.emit(events.SugestoesRegistrada, "subprocesso", st.sub.ID, events.EventPayload{"unidade": st.sub.Unidade})
		return nil
	})
	if err != nil {
		return domain.Subprocess{}, err
	}
	return st.sub, nil
}

// ValidarMapa is the unit chief's confirmation that precedes map disponibilizacao.
// Repeating it is harmless.
func (e Engine) ValidarMapa(ctx context.Context, actor domain.Actor, id string) (domain.Subprocess, error) {
	st, err := e.mutate(ctx, actor, id, domain.ActionValidar, ScopeMapa, func(ctx context.Context, st *step) error {
		if err := st.advance(ctx); err != nil {
			return err
		}
		res, err := e.checkMapa(ctx, st)
		if err != nil {
			return err
		}
		if !res.Valido {
			return ValidationFailedError{Erros: res.Erros}
		}
		if st.sub.MapaValidado {
			return nil
		}
		st.sub.MapaValidado = true
		st.dirty = true
		st.emit(events.MapaValidado, "subprocesso", st.sub.ID, events.EventPayload{"unidade": st.sub.Unidade})
		return nil
	})
	if err != nil {
		return domain.Subprocess{}, err
	}
	return st.sub, nil
}

// ValidarCadastro reports whether the cadastro would pass disponibilizacao.
func (e Engine) ValidarCadastro(ctx context.Context, id string) (validation.Result, error) {
	sub, err := e.Repo.GetSubprocess(ctx, id)
	if err != nil {
		return validation.Result{}, err
	}
	proc, err := e.Repo.GetProcess(ctx, sub.ProcessoID)
	if err != nil {
		return validation.Result{}, err
	}
	if proc.Tipo == domain.ProcessDiagnostico {
		return validation.Result{Valido: true, Erros: []validation.Issue{}}, nil
	}
	acts, err := e.Repo.ListActivities(ctx, id)
	if err != nil {
		return validation.Result{}, err
	}
	return validation.Cadastro(acts), nil
}

// VerificarMapa runs the map checks without changing anything.
func (e Engine) VerificarMapa(ctx context.Context, id string) (validation.Result, error) {
	if _, err := e.Repo.GetSubprocess(ctx, id); err != nil {
		return validation.Result{}, err
	}
	acts, err := e.Repo.ListActivities(ctx, id)
	if err != nil {
		return validation.Result{}, err
	}
	comps, err := e.Repo.ListCompetencies(ctx, id)
	if err != nil {
		return validation.Result{}, err
	}
	return validation.Mapa(comps, acts, validation.MapaOptions{BlockUncovered: e.blockUncovered()}), nil
}
