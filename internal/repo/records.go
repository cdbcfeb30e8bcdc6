package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sgc/internal/domain"
)

// ArchiveVigentMap marks the unit's current vigent map as archived.
func (r Repo) ArchiveVigentMap(ctx context.Context, sigla, ts string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE mapas_vigentes SET arquivado_em=? WHERE unidade=? AND arquivado_em IS NULL`, ts, sigla)
	return err
}

func (r Repo) InsertVigentMap(ctx context.Context, m domain.VigentMap) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO mapas_vigentes(unidade,subprocesso_id,processo_id,vigente_desde) VALUES (?,?,?,?)`,
		m.Unidade, m.SubprocessoID, m.ProcessoID, m.VigenteDesde)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetVigentMap(ctx context.Context, sigla string) (domain.VigentMap, error) {
	var m domain.VigentMap
	var arquivado sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,unidade,subprocesso_id,processo_id,vigente_desde,arquivado_em FROM mapas_vigentes WHERE unidade=? AND arquivado_em IS NULL ORDER BY id DESC LIMIT 1`, sigla).
		Scan(&m.ID, &m.Unidade, &m.SubprocessoID, &m.ProcessoID, &m.VigenteDesde, &arquivado)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("mapa vigente de %s: %w", sigla, ErrNotFound)
	}
	m.ArquivadoEm = ptr(arquivado)
	return m, err
}

// ListVigentMaps returns the unit's maps, newest first, archived ones included.
func (r Repo) ListVigentMaps(ctx context.Context, sigla string) ([]domain.VigentMap, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,unidade,subprocesso_id,processo_id,vigente_desde,arquivado_em FROM mapas_vigentes WHERE unidade=? ORDER BY id DESC`, sigla)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VigentMap
	for rows.Next() {
		var m domain.VigentMap
		var arquivado sql.NullString
		if err := rows.Scan(&m.ID, &m.Unidade, &m.SubprocessoID, &m.ProcessoID, &m.VigenteDesde, &arquivado); err != nil {
			return nil, err
		}
		m.ArquivadoEm = ptr(arquivado)
		res = append(res, m)
	}
	return res, rows.Err()
}

type EventFilters struct {
	ProcessoID string
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

// LatestEvents returns events newest first; Cursor pages below an id.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.ProcessoID != "" {
		clauses = append(clauses, "processo_id=?")
		args = append(args, f.ProcessoID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(processo_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProcessoID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
