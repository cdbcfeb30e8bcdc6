// Package validation checks structural completeness of a cadastro or map
// before it may be disponibilizado. All functions are pure.
package validation

import (
	"fmt"

	"sgc/internal/domain"
)

// Issue is one finding. AtividadeID or CompetenciaID tag the offending
// subject; both empty means a global finding.
type Issue struct {
	AtividadeID   string `json:"atividade_id,omitempty"`
	CompetenciaID string `json:"competencia_id,omitempty"`
	Mensagem      string `json:"mensagem"`
}

type Result struct {
	Valido  bool    `json:"valido"`
	Erros   []Issue `json:"erros"`
	Alertas []Issue `json:"alertas,omitempty"`
}

func result(errs, warns []Issue) Result {
	if errs == nil {
		errs = []Issue{}
	}
	return Result{Valido: len(errs) == 0, Erros: errs, Alertas: warns}
}

// Cadastro requires at least one activity and at least one knowledge item per activity.
func Cadastro(activities []domain.Activity) Result {
	if len(activities) == 0 {
		return result([]Issue{{Mensagem: "cadastro sem atividades"}}, nil)
	}
	var errs []Issue
	for _, a := range activities {
		if len(a.Conhecimentos) == 0 {
			errs = append(errs, Issue{
				AtividadeID: a.ID,
				Mensagem:    fmt.Sprintf("atividade %q sem conhecimentos", a.Descricao),
			})
		}
	}
	return result(errs, nil)
}

// MapaOptions carries the uncovered-activity policy.
type MapaOptions struct {
	BlockUncovered bool
}

// Mapa requires competencies that each reference an activity. Activities
// no competency covers are warnings unless opts.BlockUncovered is set.
func Mapa(competencies []domain.Competency, activities []domain.Activity, opts MapaOptions) Result {
	var errs, warns []Issue
	if len(competencies) == 0 {
		errs = append(errs, Issue{Mensagem: "mapa sem competencias"})
	}
	known := make(map[string]bool, len(activities))
	for _, a := range activities {
		known[a.ID] = true
	}
	covered := map[string]bool{}
	for _, c := range competencies {
		linked := 0
		for _, id := range c.Atividades {
			if known[id] {
				covered[id] = true
				linked++
			}
		}
		if linked == 0 {
			errs = append(errs, Issue{
				CompetenciaID: c.ID,
				Mensagem:      fmt.Sprintf("competencia %q sem atividades associadas", c.Descricao),
			})
		}
	}
	for _, a := range activities {
		if covered[a.ID] {
			continue
		}
		issue := Issue{AtividadeID: a.ID, Mensagem: fmt.Sprintf("atividade %q nao associada a nenhuma competencia", a.Descricao)}
		if opts.BlockUncovered {
			errs = append(errs, issue)
		} else {
			warns = append(warns, issue)
		}
	}
	return result(errs, warns)
}
