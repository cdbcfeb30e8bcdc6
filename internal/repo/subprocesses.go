package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sgc/internal/domain"
)

const subprocessColumns = `id,processo_id,unidade,situacao,unidade_atual,data_limite_etapa1,data_limite_etapa2,mapa_validado,COALESCE(sugestoes,''),created_at,updated_at`

func scanSubprocess(scan func(...any) error) (domain.Subprocess, error) {
	var s domain.Subprocess
	var etapa1, etapa2 sql.NullString
	var validado int
	err := scan(&s.ID, &s.ProcessoID, &s.Unidade, &s.Situacao, &s.UnidadeAtual, &etapa1, &etapa2, &validado, &s.Sugestoes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.DataLimiteEtapa1 = ptr(etapa1)
	s.DataLimiteEtapa2 = ptr(etapa2)
	s.MapaValidado = validado == 1
	return s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertSubprocess(ctx context.Context, s domain.Subprocess) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO subprocessos(id,processo_id,unidade,situacao,unidade_atual,data_limite_etapa1,data_limite_etapa2,mapa_validado,sugestoes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProcessoID, s.Unidade, s.Situacao, s.UnidadeAtual, nullableStringPtr(s.DataLimiteEtapa1), nullableStringPtr(s.DataLimiteEtapa2),
		boolInt(s.MapaValidado), nullable(s.Sugestoes), s.CreatedAt, s.UpdatedAt)
	return err
}

// UpdateSubprocess overwrites every mutable field.
func (r Repo) UpdateSubprocess(ctx context.Context, s domain.Subprocess) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE subprocessos SET situacao=?, unidade_atual=?, data_limite_etapa1=?, data_limite_etapa2=?, mapa_validado=?, sugestoes=?, updated_at=? WHERE id=?`,
		s.Situacao, s.UnidadeAtual, nullableStringPtr(s.DataLimiteEtapa1), nullableStringPtr(s.DataLimiteEtapa2), boolInt(s.MapaValidado), nullable(s.Sugestoes), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSubprocess(ctx context.Context, id string) (domain.Subprocess, error) {
	s, err := scanSubprocess(r.DB.QueryRowContext(ctx, `SELECT `+subprocessColumns+` FROM subprocessos WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("subprocesso %s: %w", id, ErrNotFound)
	}
	return s, err
}

func (r Repo) GetSubprocessByUnit(ctx context.Context, processoID, sigla string) (domain.Subprocess, error) {
	s, err := scanSubprocess(r.DB.QueryRowContext(ctx, `SELECT `+subprocessColumns+` FROM subprocessos WHERE processo_id=? AND unidade=?`, processoID, sigla).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("subprocesso %s/%s: %w", processoID, sigla, ErrNotFound)
	}
	return s, err
}

func (r Repo) ListSubprocesses(ctx context.Context, processoID string) ([]domain.Subprocess, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT s.id,s.processo_id,s.unidade,s.situacao,s.unidade_atual,s.data_limite_etapa1,s.data_limite_etapa2,s.mapa_validado,COALESCE(s.sugestoes,''),s.created_at,s.updated_at
FROM subprocessos s
JOIN processo_participantes pp ON pp.processo_id=s.processo_id AND pp.sigla=s.unidade
WHERE s.processo_id=? ORDER BY pp.ordem`, processoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subprocess
	for rows.Next() {
		s, err := scanSubprocess(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountSubprocessesBySituacao feeds the process rollup.
func (r Repo) CountSubprocessesBySituacao(ctx context.Context, processoID string) (map[domain.SubprocessState]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT situacao, COUNT(*) FROM subprocessos WHERE processo_id=? GROUP BY situacao`, processoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.SubprocessState]int{}
	for rows.Next() {
		var st domain.SubprocessState
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		res[st] = n
	}
	return res, rows.Err()
}

func (r Repo) InsertMovement(ctx context.Context, m domain.Movement) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO movimentacoes(subprocesso_id,unidade_origem,unidade_destino,ts) VALUES (?,?,?,?)`,
		m.SubprocessoID, m.UnidadeOrigem, m.UnidadeDestino, m.TS)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListMovements(ctx context.Context, subprocessoID string) ([]domain.Movement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,subprocesso_id,unidade_origem,unidade_destino,ts FROM movimentacoes WHERE subprocesso_id=? ORDER BY id`, subprocessoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Movement
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(&m.ID, &m.SubprocessoID, &m.UnidadeOrigem, &m.UnidadeDestino, &m.TS); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertAnalysis(ctx context.Context, a domain.Analysis) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO analises(subprocesso_id,situacao,actor_id,unidade,ts,decisao,observacao) VALUES (?,?,?,?,?,?,?)`,
		a.SubprocessoID, a.Situacao, a.ActorID, a.Unidade, a.TS, a.Decisao, nullable(a.Observacao))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAnalyses returns the append-only analysis history, oldest first.
func (r Repo) ListAnalyses(ctx context.Context, subprocessoID string) ([]domain.Analysis, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,subprocesso_id,situacao,actor_id,unidade,ts,decisao,COALESCE(observacao,'') FROM analises WHERE subprocesso_id=? ORDER BY id`, subprocessoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		if err := rows.Scan(&a.ID, &a.SubprocessoID, &a.Situacao, &a.ActorID, &a.Unidade, &a.TS, &a.Decisao, &a.Observacao); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
