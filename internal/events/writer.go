package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sgc/internal/domain"
)

// Event types appended by the engine.
const (
	ProcessoCriado      = "processo.criado"
	ProcessoIniciado    = "processo.iniciado"
	ProcessoFinalizado  = "processo.finalizado"
	SubprocessoCriado   = "subprocesso.criado"
	Disponibilizado     = "subprocesso.disponibilizado"
	Aceito              = "subprocesso.aceito"
	Homologado          = "subprocesso.homologado"
	Devolvido           = "subprocesso.devolvido"
	MapaIniciado        = "subprocesso.mapa_iniciado"
	MapaValidado        = "subprocesso.mapa_validado"
	SugestoesRegistrada = "subprocesso.sugestoes_registradas"
	AtividadeAlterada   = "atividade.alterada"
	CompetenciaAlterada = "competencia.alterada"
	MapaVigenteAlterado = "mapa_vigente.alterado"
	UnidadesImportadas  = "unidades.importadas"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row inside tx and returns the stored event.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, processoID, entityKind, entityID, actorID string, payload EventPayload) (domain.Event, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,processo_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(processoID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return domain.Event{}, err
	}
	id, _ := res.LastInsertId()
	return domain.Event{
		ID:         id,
		TS:         ts,
		Type:       evtType,
		ProcessoID: processoID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
