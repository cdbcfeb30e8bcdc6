package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/EagleChen/mapmutex"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"sgc/internal/config"
	"sgc/internal/domain"
	"sgc/internal/engine/auth"
	"sgc/internal/engine/workflow"
	"sgc/internal/events"
	"sgc/internal/hierarchy"
	"sgc/internal/metrics"
	"sgc/internal/repo"
)

const hierarchyCacheSize = 128

// Engine runs every workflow operation. Each call gets the actor explicitly;
// the engine holds no per-request state.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Now      func() time.Time
	Logger   *zap.SugaredLogger
	Notifier Notifier

	locks     *mapmutex.Mutex
	snapshots *lru.Cache[string, *hierarchy.Hierarchy]
}

func New(db *sql.DB, cfg *config.Config) Engine {
	snapshots, err := lru.New[string, *hierarchy.Hierarchy](hierarchyCacheSize)
	if err != nil {
		panic(err)
	}
	logger := zap.NewNop().Sugar()
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{},
		Config:    cfg,
		Now:       time.Now,
		Logger:    logger,
		Notifier:  LogNotifier{Logger: logger},
		locks:     mapmutex.NewCustomizedMapMutex(100, 50000000, 10, 1.1, 0.2),
		snapshots: snapshots,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.SugaredLogger {
	if e.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return e.Logger
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// hierarchyFor returns the unit snapshot taken when the process started.
func (e Engine) hierarchyFor(ctx context.Context, r repo.Repo, processoID string) (*hierarchy.Hierarchy, error) {
	if e.snapshots != nil {
		if h, ok := e.snapshots.Get(processoID); ok {
			return h, nil
		}
	}
	units, err := r.ListProcessUnits(ctx, processoID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: processo %s sem snapshot de unidades", hierarchy.ErrInvalidHierarchy, processoID)
	}
	h, err := hierarchy.New(units)
	if err != nil {
		return nil, err
	}
	if e.snapshots != nil {
		e.snapshots.Add(processoID, h)
	}
	return h, nil
}

func (e Engine) strict() bool {
	return e.Config.StrictDisponibilizacao()
}

func (e Engine) blockUncovered() bool {
	return e.Config.BlockUncoveredActivities()
}

type pendingEvent struct {
	typ      string
	kind     string
	entityID string
	payload  events.EventPayload
}

// step is the state shared by one subprocess mutation.
type step struct {
	repo   repo.Repo
	proc   domain.Process
	sub    domain.Subprocess
	from   domain.SubprocessState
	h      *hierarchy.Hierarchy
	stage  workflow.Stage
	actor  domain.Actor
	action domain.Action
	now    string

	dirty   bool
	noop    bool
	pending []pendingEvent
}

func (st *step) emit(typ, kind, entityID string, payload events.EventPayload) {
	st.pending = append(st.pending, pendingEvent{typ: typ, kind: kind, entityID: entityID, payload: payload})
}

// advance applies the state graph for st.action.
func (st *step) advance(ctx context.Context) error {
	next, err := workflow.Next(ctx, st.proc.Tipo, st.sub.Situacao, st.action)
	if err != nil {
		return err
	}
	if next != st.sub.Situacao {
		st.sub.Situacao = next
		st.dirty = true
	}
	return nil
}

func (st *step) reject(reason string) error {
	return InvalidTransitionError{Situacao: string(st.from), Acao: string(st.action), Reason: reason}
}

func (st *step) moveTo(ctx context.Context, dest string) error {
	if st.sub.UnidadeAtual == dest {
		return nil
	}
	if _, err := st.repo.InsertMovement(ctx, domain.Movement{
		SubprocessoID:  st.sub.ID,
		UnidadeOrigem:  st.sub.UnidadeAtual,
		UnidadeDestino: dest,
		TS:             st.now,
	}); err != nil {
		return fmt.Errorf("insert movimentacao: %w", err)
	}
	st.sub.UnidadeAtual = dest
	st.dirty = true
	return nil
}

func (st *step) analyse(ctx context.Context, situacao domain.SubprocessState, decisao domain.Decision, observacao string) error {
	_, err := st.repo.InsertAnalysis(ctx, domain.Analysis{
		SubprocessoID: st.sub.ID,
		Situacao:      situacao,
		ActorID:       st.actor.ID,
		Unidade:       st.actor.Unidade,
		TS:            st.now,
		Decisao:       decisao,
		Observacao:    observacao,
	})
	if err != nil {
		return fmt.Errorf("insert analise: %w", err)
	}
	return nil
}

// Scope restricts a transition to a phase and process type.
type Scope int

const (
	AnyScope Scope = iota
	ScopeCadastro
	ScopeRevisaoCadastro
	ScopeMapa
)

func (s Scope) admits(tipo domain.ProcessType, stage workflow.Stage) bool {
	switch s {
	case ScopeCadastro:
		return stage.Phase == workflow.PhaseCadastro && tipo != domain.ProcessRevisao
	case ScopeRevisaoCadastro:
		return stage.Phase == workflow.PhaseCadastro && tipo == domain.ProcessRevisao
	case ScopeMapa:
		return stage.Phase == workflow.PhaseMapa
	default:
		return true
	}
}

// mutate serializes on the subprocess id, runs the structural precheck and
// the permission table, then runs fn inside one transaction. Any error rolls everything back.
func (e Engine) mutate(ctx context.Context, actor domain.Actor, subID string, action domain.Action, scope Scope, fn func(ctx context.Context, st *step) error) (st *step, err error) {
	start := e.now()
	defer func() {
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
			if code := ErrorCode(err); code != CodeInternal {
				result = metrics.ResultRejected
			}
			e.log().Debugw("transicao rejeitada", "subprocesso", subID, "acao", action, "ator", actor.ID, "erro", err)
		}
		metrics.RecordTransition(string(action), result, e.now().Sub(start))
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if e.locks != nil {
		if !e.locks.TryLock(subID) {
			return nil, ErrSubprocessoOcupado
		}
		defer e.locks.Unlock(subID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)

	sub, err := r.GetSubprocess(ctx, subID)
	if err != nil {
		return nil, err
	}
	proc, err := r.GetProcess(ctx, sub.ProcessoID)
	if err != nil {
		return nil, err
	}
	if proc.Situacao != domain.ProcessEmAndamento {
		return nil, InvalidTransitionError{Situacao: string(sub.Situacao), Acao: string(action), Reason: fmt.Sprintf("processo %s", proc.Situacao)}
	}
	h, err := e.hierarchyFor(ctx, r, proc.ID)
	if err != nil {
		return nil, err
	}
	if err := precheck(action, actor, sub); err != nil {
		return nil, err
	}
	if err := auth.Check(actor.Role, h.Relationship(actor.Unidade, sub.UnidadeAtual), action); err != nil {
		return nil, err
	}
	stage, ok := workflow.StageOf(proc.Tipo, sub.Situacao)
	if !ok {
		return nil, InvalidTransitionError{Situacao: string(sub.Situacao), Acao: string(action), Reason: "situacao fora do alfabeto do processo"}
	}
	if !scope.admits(proc.Tipo, stage) {
		return nil, InvalidTransitionError{Situacao: string(sub.Situacao), Acao: string(action), Reason: fmt.Sprintf("etapa %s de processo %s", stage.Phase, proc.Tipo)}
	}

	st = &step{
		repo:   r,
		proc:   proc,
		sub:    sub,
		from:   sub.Situacao,
		h:      h,
		stage:  stage,
		actor:  actor,
		action: action,
		now:    e.timestamp(),
	}
	if err := fn(ctx, st); err != nil {
		return nil, err
	}
	if st.noop {
		return st, nil
	}
	if st.dirty {
		st.sub.UpdatedAt = st.now
		if err := r.UpdateSubprocess(ctx, st.sub); err != nil {
			return nil, fmt.Errorf("update subprocesso: %w", err)
		}
	}
	committed, err := e.appendEvents(ctx, tx, proc.ID, actor.ID, st.pending)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if st.dirty {
		e.log().Infow("transicao", "subprocesso", sub.ID, "acao", action, "de", sub.Situacao, "para", st.sub.Situacao, "unidade_atual", st.sub.UnidadeAtual, "ator", actor.ID)
	}
	e.notify(ctx, committed)
	return st, nil
}

func (e Engine) appendEvents(ctx context.Context, tx *sql.Tx, processoID, actorID string, pending []pendingEvent) ([]domain.Event, error) {
	w := e.writer()
	out := make([]domain.Event, 0, len(pending))
	for _, p := range pending {
		evt, err := w.Append(ctx, tx, p.typ, processoID, p.kind, p.entityID, actorID, p.payload)
		if err != nil {
			return nil, fmt.Errorf("append event %s: %w", p.typ, err)
		}
		out = append(out, evt)
	}
	return out, nil
}

func (e Engine) notify(ctx context.Context, evts []domain.Event) {
	if e.Notifier == nil {
		return
	}
	for _, evt := range evts {
		e.Notifier.Notify(ctx, evt)
	}
}

// requireActor rejects an actor without identity or with an unknown role.
func requireActor(actor domain.Actor) error {
	if actor.ID == "" {
		return invalidInput("ator sem identificador")
	}
	if !actor.Role.Valid() {
		return auth.ForbiddenError{Perfil: actor.Role, Reason: fmt.Sprintf("perfil desconhecido %q", actor.Role)}
	}
	return nil
}
