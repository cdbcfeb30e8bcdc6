package server

import (
	"encoding/json"

	"sgc/internal/domain"
	"sgc/internal/engine/validation"
)

// Request payloads

type CreateProcessRequest struct {
	Descricao  string             `json:"descricao"`
	Tipo       domain.ProcessType `json:"tipo" enum:"MAPEAMENTO,REVISAO,DIAGNOSTICO"`
	DataLimite string             `json:"data_limite" format:"date"`
	Unidades   []string           `json:"unidades"`
}

// TransitionRequest is the optional body of subprocess transitions.
type TransitionRequest struct {
	Observacao string `json:"observacao,omitempty"`
	DataLimite string `json:"data_limite,omitempty" format:"date"`
}

type SugestoesRequest struct {
	Sugestoes string `json:"sugestoes"`
}

type DescricaoRequest struct {
	Descricao string `json:"descricao"`
}

type ImportarAtividadesRequest struct {
	OrigemID   string   `json:"origem_id"`
	Atividades []string `json:"atividades,omitempty"`
}

type CompetenciaRequest struct {
	Descricao  string   `json:"descricao"`
	Atividades []string `json:"atividades"`
}

type UpdateCompetenciaRequest struct {
	Descricao  string   `json:"descricao,omitempty"`
	Atividades []string `json:"atividades,omitempty"`
}

type BatchRequest struct {
	IDs        []string `json:"ids" minItems:"1"`
	Observacao string   `json:"observacao,omitempty"`
}

// Response payloads

type ActorResponse struct {
	ID      string      `json:"id"`
	Perfil  domain.Role `json:"perfil" enum:"ADMIN,GESTOR,CHEFE,SERVIDOR"`
	Unidade string      `json:"unidade"`
	Source  string      `json:"source"`
}

type ActionsResponse struct {
	SubprocessoID string          `json:"subprocesso_id"`
	Acoes         []domain.Action `json:"acoes"`
}

type ValidationResponse struct {
	Valido  bool               `json:"valido"`
	Erros   []validation.Issue `json:"erros"`
	Alertas []validation.Issue `json:"alertas"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProcessoID string         `json:"processo_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProcessoID: e.ProcessoID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func validationResponse(r validation.Result) ValidationResponse {
	return ValidationResponse{
		Valido:  r.Valido,
		Erros:   nonNilSlice(r.Erros),
		Alertas: nonNilSlice(r.Alertas),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
