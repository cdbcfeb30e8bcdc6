package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"sgc/internal/domain"
	"sgc/internal/engine/workflow"
	"sgc/internal/events"
)

// editCadastro guards cadastro edits: EM_ANDAMENTO of the cadastro stage of
// a process that has one.
func editCadastro(ctx context.Context, st *step) error {
	if err := st.advance(ctx); err != nil {
		return err
	}
	if st.proc.Tipo == domain.ProcessDiagnostico {
		return st.reject("processo de diagnostico nao possui cadastro de atividades")
	}
	if st.stage.Phase != workflow.PhaseCadastro {
		return st.reject("atividades so podem ser editadas na etapa de cadastro")
	}
	return nil
}

func editMapa(ctx context.Context, st *step) error {
	if err := st.advance(ctx); err != nil {
		return err
	}
	if st.stage.Phase != workflow.PhaseMapa {
		return st.reject("competencias so podem ser editadas na etapa de mapa")
	}
	return nil
}

func (e Engine) AddActivity(ctx context.Context, actor domain.Actor, subprocessoID, descricao string) (domain.Activity, error) {
	descricao = strings.TrimSpace(descricao)
	if descricao == "" {
		return domain.Activity{}, invalidInput("descricao da atividade obrigatoria")
	}
	a := domain.Activity{ID: uuid.NewString(), SubprocessoID: subprocessoID, Descricao: descricao, Conhecimentos: []domain.Knowledge{}}
	_, err := e.mutate(ctx, actor, subprocessoID, domain.ActionEditar, AnyScope, func(ctx context.Context, st *step) error {
		if err := editCadastro(ctx, st); err != nil {
			return err
		}
		if err := st.repo.InsertActivity(ctx, a); err != nil {
			return err
		}
		st.emit(events.AtividadeAlterada, "atividade", a.ID, events.EventPayload{"op": "criada", "subprocesso_id": subprocessoID})
		return nil
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

func (e Engine) RemoveActivity(ctx context.Context, actor domain.Actor, atividadeID string) error {
	a, err := e.Repo.GetActivity(ctx, atividadeID)
	if err != nil {
		return err
	}
	_, err = e.mutate(ctx, actor, a.SubprocessoID, domain.ActionEditar, AnyScope, func(ctx context.Context, st *step) error {
		if err := editCadastro(ctx, st); err != nil {
			return err
		}
		if err := st.repo.DeleteActivity(ctx, atividadeID); err != nil {
			return err
		}
		st.emit(events.AtividadeAlterada, "atividade", atividadeID, events.EventPayload{"op": "removida", "subprocesso_id": a.SubprocessoID})
		return nil
	})
	return err
}

// AddKnowledge appends a knowledge item and returns the updated activity.
func (e Engine) AddKnowledge(ctx context.Context, actor domain.Actor, atividadeID, descricao string) (domain.Activity, error) {
	descricao = strings.TrimSpace(descricao)
	if descricao == "" {
		return domain.Activity{}, invalidInput("descricao do conhecimento obrigatoria")
	}
	a, err := e.Repo.GetActivity(ctx, atividadeID)
	if err != nil {
		return domain.Activity{}, err
	}
	_, err = e.mutate(ctx, actor, a.SubprocessoID, domain.ActionEditar, AnyScope, func(ctx context.Context, st *step) error {
		if err := editCadastro(ctx, st); err != nil {
			return err
		}
		k := domain.Knowledge{ID: uuid.NewString(), AtividadeID: atividadeID, Descricao: descricao}
		if err := st.repo.InsertKnowledge(ctx, k); err != nil {
			return err
		}
		updated, err := st.repo.GetActivity(ctx, atividadeID)
		if err != nil {
			return err
		}
		a = updated
		st.emit(events.AtividadeAlterada, "atividade", atividadeID, events.EventPayload{"op": "conhecimento_adicionado", "conhecimento_id": k.ID})
		return nil
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

// RemoveKnowledge deletes a knowledge item and returns the updated activity.
func (e Engine) RemoveKnowledge(ctx context.Context, actor domain.Actor, conhecimentoID string) (domain.Activity, error) {
	k, err := e.Repo.GetKnowledge(ctx, conhecimentoID)
	if err != nil {
		return domain.Activity{}, err
	}
	a, err := e.Repo.GetActivity(ctx, k.AtividadeID)
	if err != nil {
		return domain.Activity{}, err
	}
	_, err = e.mutate(ctx, actor, a.SubprocessoID, domain.ActionEditar, AnyScope, func(ctx context.Context, st *step) error {
		if err := editCadastro(ctx, st); err != nil {
			return err
		}
		if err := st.repo.DeleteKnowledge(ctx, conhecimentoID); err != nil {
			return err
		}
		updated, err := st.repo.GetActivity(ctx, k.AtividadeID)
		if err != nil {
			return err
		}
		a = updated
		st.emit(events.AtividadeAlterada, "atividade", k.AtividadeID, events.EventPayload{"op": "conhecimento_removido", "conhecimento_id": conhecimentoID})
		return nil
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

func (e Engine) ListarAtividades(ctx context.Context, subprocessoID string) ([]domain.Activity, error) {
	if _, err := e.Repo.GetSubprocess(ctx, subprocessoID); err != nil {
		return nil, err
	}
	return e.Repo.ListActivities(ctx, subprocessoID)
}

// ImportResult reports which activities were copied and which were skipped
// because the destination already had one with the same description.
type ImportResult struct {
	Importadas []domain.Activity `json:"importadas"`
	Ignoradas  []string          `json:"ignoradas"`
}

// ImportarAtividades copies activities and their knowledge from origemID into
// destinoID as new rows. An empty ids copies every activity.
func (e Engine) ImportarAtividades(ctx context.Context, actor domain.Actor, destinoID, origemID string, ids []string) (ImportResult, error) {
	if destinoID == origemID {
		return ImportResult{}, invalidInput("origem e destino devem ser subprocessos distintos")
	}
	if _, err := e.Repo.GetSubprocess(ctx, origemID); err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Importadas: []domain.Activity{}, Ignoradas: []string{}}
	_, err := e.mutate(ctx, actor, destinoID, domain.ActionEditar, AnyScope, func(ctx context.Context, st *step) error {
		if err := editCadastro(ctx, st); err != nil {
			return err
		}
		source, err := st.repo.ListActivities(ctx, origemID)
		if err != nil {
			return err
		}
		existing, err := st.repo.ListActivities(ctx, destinoID)
		if err != nil {
			return err
		}
		want := map[string]bool{}
		for _, id := range ids {
			want[id] = true
		}
		have := map[string]bool{}
		for _, a := range existing {
			have[strings.ToLower(a.Descricao)] = true
		}
		found := 0
		for _, src := range source {
			if len(want) > 0 && !want[src.ID] {
				continue
			}
			found++
			key := strings.ToLower(src.Descricao)
			if have[key] {
				res.Ignoradas = append(res.Ignoradas, src.ID)
				continue
			}
			have[key] = true
			cp := domain.Activity{ID: uuid.NewString(), SubprocessoID: destinoID, Descricao: src.Descricao, Conhecimentos: []domain.Knowledge{}}
			if err := st.repo.InsertActivity(ctx, cp); err != nil {
				return err
			}
			for _, k := range src.Conhecimentos {
				nk := domain.Knowledge{ID: uuid.NewString(), AtividadeID: cp.ID, Descricao: k.Descricao}
				if err := st.repo.InsertKnowledge(ctx, nk); err != nil {
					return err
				}
				cp.Conhecimentos = append(cp.Conhecimentos, nk)
			}
			res.Importadas = append(res.Importadas, cp)
		}
		if found < len(want) {
			return invalidInput("atividades informadas nao pertencem ao subprocesso de origem")
		}
		st.emit(events.AtividadeAlterada, "subprocesso", destinoID, events.EventPayload{
			"op": "importadas", "origem": origemID, "total": len(res.Importadas),
		})
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

func (e Engine) checkCompetencyLinks(ctx context.Context, st *step, atividades []string) ([]string, error) {
	uniq := make([]string, 0, len(atividades))
	seen := map[string]bool{}
	for _, id := range atividades {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		uniq = append(uniq, id)
	}
	if len(uniq) == 0 {
		return nil, invalidInput("competencia deve referenciar ao menos uma atividade")
	}
	n, err := st.repo.CountActivitiesIn(ctx, st.sub.ID, uniq)
	if err != nil {
		return nil, err
	}
	if n != len(uniq) {
		return nil, invalidInput("atividades informadas nao pertencem ao subprocesso")
	}
	return uniq, nil
}

func (e Engine) CriarCompetencia(ctx context.Context, actor domain.Actor, subprocessoID, descricao string, atividades []string) (domain.Competency, error) {
	descricao = strings.TrimSpace(descricao)
	if descricao == "" {
		return domain.Competency{}, invalidInput("descricao da competencia obrigatoria")
	}
	c := domain.Competency{ID: uuid.NewString(), SubprocessoID: subprocessoID, Descricao: descricao}
	_, err := e.mutate(ctx, actor, subprocessoID, domain.ActionEditar, ScopeMapa, func(ctx context.Context, st *step) error {
		if err := editMapa(ctx, st); err != nil {
			return err
		}
		links, err := e.checkCompetencyLinks(ctx, st, atividades)
		if err != nil {
			return err
		}
		c.Atividades = links
		if err := st.repo.UpsertCompetency(ctx, c, st.now); err != nil {
			return err
		}
		st.sub.MapaValidado = false
		st.dirty = true
		st.emit(events.CompetenciaAlterada, "competencia", c.ID, events.EventPayload{"op": "criada", "subprocesso_id": subprocessoID})
		return nil
	})
	if err != nil {
		return domain.Competency{}, err
	}
	return c, nil
}

func (e Engine) EditarCompetencia(ctx context.Context, actor domain.Actor, competenciaID, descricao string, atividades []string) (domain.Competency, error) {
	c, err := e.Repo.GetCompetency(ctx, competenciaID)
	if err != nil {
		return domain.Competency{}, err
	}
	if d := strings.TrimSpace(descricao); d != "" {
		c.Descricao = d
	}
	_, err = e.mutate(ctx, actor, c.SubprocessoID, domain.ActionEditar, ScopeMapa, func(ctx context.Context, st *step) error {
		if err := editMapa(ctx, st); err != nil {
			return err
		}
		if atividades != nil {
			links, err := e.checkCompetencyLinks(ctx, st, atividades)
			if err != nil {
				return err
			}
			c.Atividades = links
		}
		if err := st.repo.UpsertCompetency(ctx, c, st.now); err != nil {
			return err
		}
		st.sub.MapaValidado = false
		st.dirty = true
		st.emit(events.CompetenciaAlterada, "competencia", c.ID, events.EventPayload{"op": "editada"})
		return nil
	})
	if err != nil {
		return domain.Competency{}, err
	}
	return c, nil
}

func (e Engine) ExcluirCompetencia(ctx context.Context, actor domain.Actor, competenciaID string) (domain.Competency, error) {
	c, err := e.Repo.GetCompetency(ctx, competenciaID)
	if err != nil {
		return domain.Competency{}, err
	}
	_, err = e.mutate(ctx, actor, c.SubprocessoID, domain.ActionEditar, ScopeMapa, func(ctx context.Context, st *step) error {
		if err := editMapa(ctx, st); err != nil {
			return err
		}
		if err := st.repo.DeleteCompetency(ctx, competenciaID); err != nil {
			return err
		}
		st.sub.MapaValidado = false
		st.dirty = true
		st.emit(events.CompetenciaAlterada, "competencia", c.ID, events.EventPayload{"op": "excluida"})
		return nil
	})
	if err != nil {
		return domain.Competency{}, err
	}
	return c, nil
}

func (e Engine) ListarCompetencias(ctx context.Context, subprocessoID string) ([]domain.Competency, error) {
	if _, err := e.Repo.GetSubprocess(ctx, subprocessoID); err != nil {
		return nil, err
	}
	return e.Repo.ListCompetencies(ctx, subprocessoID)
}
