package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sgc/internal/config"
	"sgc/internal/domain"
	"sgc/internal/engine/auth"
	"sgc/internal/engine/workflow"
	"sgc/internal/events"
	"sgc/internal/hierarchy"
	"sgc/internal/repo"
)

const dateLayout = "2006-01-02"

func validDate(v string) bool {
	_, err := time.Parse(dateLayout, v)
	return err == nil
}

// ImportarUnidades replaces the live unit tree with the configured one.
// Processes already started keep their own snapshot.
func (e Engine) ImportarUnidades(ctx context.Context, actor domain.Actor, cfg *config.Config) ([]domain.Unit, error) {
	if err := auth.RequireAdmin(actor, "importarUnidades"); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, invalidInput("configuracao ausente")
	}
	if err := cfg.Validate(); err != nil {
		return nil, invalidInput("%v", err)
	}
	units := cfg.Units()
	if _, err := hierarchy.New(units); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)
	if err := r.ReplaceUnits(ctx, units); err != nil {
		return nil, err
	}
	if err := r.UpsertOrgConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("store org config: %w", err)
	}
	evts, err := e.appendEvents(ctx, tx, "", actor.ID, []pendingEvent{{
		typ: events.UnidadesImportadas, kind: "unidade", payload: events.EventPayload{"total": len(units)},
	}})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(ctx, evts)
	return units, nil
}

// Unidades returns the live unit tree.
func (e Engine) Unidades(ctx context.Context) ([]domain.Unit, error) {
	units, err := e.Repo.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	h, err := hierarchy.New(units)
	if err != nil {
		return nil, err
	}
	return h.Units(), nil
}

type CreateProcessOptions struct {
	Descricao  string
	Tipo       domain.ProcessType
	DataLimite string
	Unidades   []string
}

func (e Engine) CreateProcess(ctx context.Context, actor domain.Actor, opts CreateProcessOptions) (domain.Process, error) {
	if err := auth.RequireAdmin(actor, "criarProcesso"); err != nil {
		return domain.Process{}, err
	}
	opts.Descricao = strings.TrimSpace(opts.Descricao)
	if opts.Descricao == "" {
		return domain.Process{}, invalidInput("descricao obrigatoria")
	}
	if !opts.Tipo.Valid() {
		return domain.Process{}, invalidInput("tipo de processo invalido %q", opts.Tipo)
	}
	if !validDate(opts.DataLimite) {
		return domain.Process{}, invalidInput("data limite invalida %q, use AAAA-MM-DD", opts.DataLimite)
	}
	if len(opts.Unidades) == 0 {
		return domain.Process{}, invalidInput("ao menos uma unidade participante")
	}
	units, err := e.Repo.ListUnits(ctx)
	if err != nil {
		return domain.Process{}, err
	}
	h, err := hierarchy.New(units)
	if err != nil {
		return domain.Process{}, err
	}
	seen := map[string]bool{}
	for _, sigla := range opts.Unidades {
		switch {
		case seen[sigla]:
			return domain.Process{}, invalidInput("unidade %s repetida", sigla)
		case !h.Contains(sigla):
			return domain.Process{}, invalidInput("unidade %s desconhecida", sigla)
		case sigla == h.Root():
			return domain.Process{}, invalidInput("unidade raiz %s nao participa de processos", sigla)
		}
		seen[sigla] = true
	}

	p := domain.Process{
		ID:         uuid.NewString(),
		Descricao:  opts.Descricao,
		Tipo:       opts.Tipo,
		Situacao:   domain.ProcessCriado,
		DataLimite: opts.DataLimite,
		Unidades:   append([]string{}, opts.Unidades...),
		CreatedAt:  e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.WithTx(tx).InsertProcess(ctx, p); err != nil {
		return domain.Process{}, fmt.Errorf("insert processo: %w", err)
	}
	evts, err := e.appendEvents(ctx, tx, p.ID, actor.ID, []pendingEvent{{
		typ: events.ProcessoCriado, kind: "processo", entityID: p.ID,
		payload: events.EventPayload{"tipo": p.Tipo, "unidades": p.Unidades},
	}})
	if err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	e.notify(ctx, evts)
	return p, nil
}

// StartProcess moves a process to EM_ANDAMENTO, snapshots the hierarchy and
// opens one subprocess per participating unit.
func (e Engine) StartProcess(ctx context.Context, actor domain.Actor, id string) (domain.Process, error) {
	if err := auth.RequireAdmin(actor, "iniciarProcesso"); err != nil {
		return domain.Process{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)

	p, err := r.GetProcess(ctx, id)
	if err != nil {
		return domain.Process{}, err
	}
	if p.Situacao != domain.ProcessCriado {
		return domain.Process{}, InvalidTransitionError{Situacao: string(p.Situacao), Acao: "iniciarProcesso"}
	}
	units, err := r.ListUnits(ctx)
	if err != nil {
		return domain.Process{}, err
	}
	h, err := hierarchy.New(units)
	if err != nil {
		return domain.Process{}, err
	}
	for _, sigla := range p.Unidades {
		if !h.Contains(sigla) {
			return domain.Process{}, invalidInput("unidade %s nao existe mais na estrutura", sigla)
		}
	}
	initial, err := workflow.Initial(p.Tipo)
	if err != nil {
		return domain.Process{}, err
	}
	if err := r.InsertProcessUnits(ctx, p.ID, h.Units()); err != nil {
		return domain.Process{}, err
	}

	now := e.timestamp()
	pending := []pendingEvent{{typ: events.ProcessoIniciado, kind: "processo", entityID: p.ID, payload: events.EventPayload{"unidades": p.Unidades}}}
	for _, sigla := range p.Unidades {
		limite := p.DataLimite
		sub := domain.Subprocess{
			ID:               uuid.NewString(),
			ProcessoID:       p.ID,
			Unidade:          sigla,
			Situacao:         initial,
			UnidadeAtual:     sigla,
			DataLimiteEtapa1: &limite,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := r.InsertSubprocess(ctx, sub); err != nil {
			return domain.Process{}, fmt.Errorf("insert subprocesso %s: %w", sigla, err)
		}
		pending = append(pending, pendingEvent{typ: events.SubprocessoCriado, kind: "subprocesso", entityID: sub.ID, payload: events.EventPayload{"unidade": sigla, "situacao": initial}})
	}
	if err := r.UpdateProcessStatus(ctx, p.ID, domain.ProcessEmAndamento, "iniciado_em", now); err != nil {
		return domain.Process{}, err
	}
	evts, err := e.appendEvents(ctx, tx, p.ID, actor.ID, pending)
	if err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	if e.snapshots != nil {
		e.snapshots.Add(p.ID, h)
	}
	p.Situacao = domain.ProcessEmAndamento
	p.IniciadoEm = &now
	e.log().Infow("processo iniciado", "processo", p.ID, "unidades", len(p.Unidades))
	e.notify(ctx, evts)
	return p, nil
}

// FinalizeProcess closes a process whose subprocesses all reached the
// terminal state. Homologated maps become the units' vigent maps.
func (e Engine) FinalizeProcess(ctx context.Context, actor domain.Actor, id string) (domain.Process, error) {
	if err := auth.RequireAdmin(actor, "finalizarProcesso"); err != nil {
		return domain.Process{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)

	p, err := r.GetProcess(ctx, id)
	if err != nil {
		return domain.Process{}, err
	}
	if p.Situacao != domain.ProcessEmAndamento {
		return domain.Process{}, InvalidTransitionError{Situacao: string(p.Situacao), Acao: "finalizarProcesso"}
	}
	subs, err := r.ListSubprocesses(ctx, p.ID)
	if err != nil {
		return domain.Process{}, err
	}
	pendentes, err := pendingUnits(p, subs)
	if err != nil {
		return domain.Process{}, err
	}
	if len(pendentes) > 0 {
		return domain.Process{}, ProcessoNaoFinalizavelError{UnidadesPendentes: pendentes}
	}

	now := e.timestamp()
	pending := []pendingEvent{{typ: events.ProcessoFinalizado, kind: "processo", entityID: p.ID}}
	if p.Tipo != domain.ProcessDiagnostico {
		for _, s := range subs {
			if err := r.ArchiveVigentMap(ctx, s.Unidade, now); err != nil {
				return domain.Process{}, fmt.Errorf("archive mapa vigente %s: %w", s.Unidade, err)
			}
			if _, err := r.InsertVigentMap(ctx, domain.VigentMap{Unidade: s.Unidade, SubprocessoID: s.ID, ProcessoID: p.ID, VigenteDesde: now}); err != nil {
				return domain.Process{}, fmt.Errorf("insert mapa vigente %s: %w", s.Unidade, err)
			}
			pending = append(pending, pendingEvent{typ: events.MapaVigenteAlterado, kind: "unidade", entityID: s.Unidade, payload: events.EventPayload{"subprocesso_id": s.ID}})
		}
	}
	if err := r.UpdateProcessStatus(ctx, p.ID, domain.ProcessFinalizado, "finalizado_em", now); err != nil {
		return domain.Process{}, err
	}
	evts, err := e.appendEvents(ctx, tx, p.ID, actor.ID, pending)
	if err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	p.Situacao = domain.ProcessFinalizado
	p.FinalizadoEm = &now
	e.log().Infow("processo finalizado", "processo", p.ID)
	e.notify(ctx, evts)
	return p, nil
}

// pendingUnits lists participating units, in process order, whose
// subprocess is not in the terminal state.
func pendingUnits(p domain.Process, subs []domain.Subprocess) ([]string, error) {
	terminal, err := workflow.Terminal(p.Tipo)
	if err != nil {
		return nil, err
	}
	bySigla := make(map[string]domain.Subprocess, len(subs))
	for _, s := range subs {
		bySigla[s.Unidade] = s
	}
	var out []string
	for _, sigla := range p.Unidades {
		if s, ok := bySigla[sigla]; !ok || s.Situacao != terminal {
			out = append(out, sigla)
		}
	}
	return out, nil
}

func (e Engine) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	return e.Repo.GetProcess(ctx, id)
}

func (e Engine) ListProcesses(ctx context.Context, f repo.ProcessFilters) ([]domain.Process, error) {
	return e.Repo.ListProcesses(ctx, f)
}

// ProcessSummary is the aggregate view of a process.
type ProcessSummary struct {
	Processo          domain.Process                 `json:"processo"`
	Situacoes         map[domain.SubprocessState]int `json:"situacoes"`
	Subprocessos      []domain.Subprocess            `json:"subprocessos"`
	UnidadesPendentes []string                       `json:"unidades_pendentes"`
	Finalizavel       bool                           `json:"finalizavel"`
}

func (e Engine) ResumoProcesso(ctx context.Context, id string) (ProcessSummary, error) {
	p, err := e.Repo.GetProcess(ctx, id)
	if err != nil {
		return ProcessSummary{}, err
	}
	subs, err := e.Repo.ListSubprocesses(ctx, id)
	if err != nil {
		return ProcessSummary{}, err
	}
	counts, err := e.Repo.CountSubprocessesBySituacao(ctx, id)
	if err != nil {
		return ProcessSummary{}, err
	}
	sum := ProcessSummary{Processo: p, Situacoes: counts, Subprocessos: subs, UnidadesPendentes: []string{}}
	if p.Situacao == domain.ProcessCriado {
		sum.UnidadesPendentes = append(sum.UnidadesPendentes, p.Unidades...)
		return sum, nil
	}
	pend, err := pendingUnits(p, subs)
	if err != nil {
		return ProcessSummary{}, err
	}
	if pend != nil {
		sum.UnidadesPendentes = pend
	}
	sum.Finalizavel = p.Situacao == domain.ProcessEmAndamento && len(pend) == 0
	return sum, nil
}

// GetSubprocess looks a subprocess up by process and unit sigla.
func (e Engine) GetSubprocess(ctx context.Context, processoID, sigla string) (domain.Subprocess, error) {
	return e.Repo.GetSubprocessByUnit(ctx, processoID, sigla)
}

func (e Engine) GetSubprocessByID(ctx context.Context, id string) (domain.Subprocess, error) {
	return e.Repo.GetSubprocess(ctx, id)
}

func (e Engine) ListSubprocesses(ctx context.Context, processoID string) ([]domain.Subprocess, error) {
	return e.Repo.ListSubprocesses(ctx, processoID)
}

func (e Engine) ListarAnalises(ctx context.Context, subprocessoID string) ([]domain.Analysis, error) {
	if _, err := e.Repo.GetSubprocess(ctx, subprocessoID); err != nil {
		return nil, err
	}
	return e.Repo.ListAnalyses(ctx, subprocessoID)
}

func (e Engine) ListarMovimentacoes(ctx context.Context, subprocessoID string) ([]domain.Movement, error) {
	if _, err := e.Repo.GetSubprocess(ctx, subprocessoID); err != nil {
		return nil, err
	}
	return e.Repo.ListMovements(ctx, subprocessoID)
}

// MapaVigente returns the unit's current official map.
func (e Engine) MapaVigente(ctx context.Context, sigla string) (domain.VigentMap, error) {
	return e.Repo.GetVigentMap(ctx, sigla)
}

func (e Engine) HistoricoMapas(ctx context.Context, sigla string) ([]domain.VigentMap, error) {
	return e.Repo.ListVigentMaps(ctx, sigla)
}

func (e Engine) LatestEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

// AcoesPermitidas intersects the permission table with the state graph.
func (e Engine) AcoesPermitidas(ctx context.Context, actor domain.Actor, subprocessoID string) ([]domain.Action, error) {
	sub, err := e.Repo.GetSubprocess(ctx, subprocessoID)
	if err != nil {
		return nil, err
	}
	p, err := e.Repo.GetProcess(ctx, sub.ProcessoID)
	if err != nil {
		return nil, err
	}
	if p.Situacao != domain.ProcessEmAndamento {
		return []domain.Action{domain.ActionVisualizar}, nil
	}
	h, err := e.hierarchyFor(ctx, e.Repo, p.ID)
	if err != nil {
		return nil, err
	}
	out := []domain.Action{}
	for _, a := range auth.Actions(actor.Role, h.Relationship(actor.Unidade, sub.UnidadeAtual)) {
		if workflow.Can(p.Tipo, sub.Situacao, a) {
			out = append(out, a)
		}
	}
	return out, nil
}
