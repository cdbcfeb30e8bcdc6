package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sgc/internal/domain"
)

func (r Repo) InsertActivity(ctx context.Context, a domain.Activity) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO atividades(id,subprocesso_id,descricao,ordem)
VALUES (?,?,?,(SELECT COALESCE(MAX(ordem),0)+1 FROM atividades WHERE subprocesso_id=?))`,
		a.ID, a.SubprocessoID, a.Descricao, a.SubprocessoID)
	return err
}

func (r Repo) DeleteActivity(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM atividades WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("atividade %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetActivity returns the activity with its knowledge items.
func (r Repo) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	var a domain.Activity
	err := r.DB.QueryRowContext(ctx, `SELECT id,subprocesso_id,descricao FROM atividades WHERE id=?`, id).Scan(&a.ID, &a.SubprocessoID, &a.Descricao)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("atividade %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return a, err
	}
	a.Conhecimentos, err = r.listKnowledge(ctx, `WHERE atividade_id=?`, id)
	return a, err
}

// ListActivities returns the cadastro snapshot of a subprocess in order.
func (r Repo) ListActivities(ctx context.Context, subprocessoID string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,subprocesso_id,descricao FROM atividades WHERE subprocesso_id=? ORDER BY ordem`, subprocessoID)
	if err != nil {
		return nil, err
	}
	var res []domain.Activity
	index := map[string]int{}
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.SubprocessoID, &a.Descricao); err != nil {
			rows.Close()
			return nil, err
		}
		a.Conhecimentos = []domain.Knowledge{}
		index[a.ID] = len(res)
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	ks, err := r.listKnowledge(ctx, `WHERE atividade_id IN (SELECT id FROM atividades WHERE subprocesso_id=?)`, subprocessoID)
	if err != nil {
		return nil, err
	}
	for _, k := range ks {
		if i, ok := index[k.AtividadeID]; ok {
			res[i].Conhecimentos = append(res[i].Conhecimentos, k)
		}
	}
	return res, nil
}

func (r Repo) listKnowledge(ctx context.Context, where string, args ...any) ([]domain.Knowledge, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,atividade_id,descricao FROM conhecimentos `+where+` ORDER BY ordem`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Knowledge{}
	for rows.Next() {
		var k domain.Knowledge
		if err := rows.Scan(&k.ID, &k.AtividadeID, &k.Descricao); err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

func (r Repo) InsertKnowledge(ctx context.Context, k domain.Knowledge) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO conhecimentos(id,atividade_id,descricao,ordem)
VALUES (?,?,?,(SELECT COALESCE(MAX(ordem),0)+1 FROM conhecimentos WHERE atividade_id=?))`,
		k.ID, k.AtividadeID, k.Descricao, k.AtividadeID)
	return err
}

func (r Repo) GetKnowledge(ctx context.Context, id string) (domain.Knowledge, error) {
	var k domain.Knowledge
	err := r.DB.QueryRowContext(ctx, `SELECT id,atividade_id,descricao FROM conhecimentos WHERE id=?`, id).Scan(&k.ID, &k.AtividadeID, &k.Descricao)
	if errors.Is(err, sql.ErrNoRows) {
		return k, fmt.Errorf("conhecimento %s: %w", id, ErrNotFound)
	}
	return k, err
}

func (r Repo) DeleteKnowledge(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM conhecimentos WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conhecimento %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertCompetency writes the competency and replaces its activity links.
func (r Repo) UpsertCompetency(ctx context.Context, c domain.Competency, createdAt string) error {
	if _, err := r.DB.ExecContext(ctx, `INSERT INTO competencias(id,subprocesso_id,descricao,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET descricao=excluded.descricao`, c.ID, c.SubprocessoID, c.Descricao, createdAt); err != nil {
		return err
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM competencia_atividades WHERE competencia_id=?`, c.ID); err != nil {
		return err
	}
	for _, aid := range c.Atividades {
		if _, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO competencia_atividades(competencia_id,atividade_id) VALUES (?,?)`, c.ID, aid); err != nil {
			return fmt.Errorf("link atividade %s: %w", aid, err)
		}
	}
	return nil
}

func (r Repo) DeleteCompetency(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM competencias WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("competencia %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r Repo) GetCompetency(ctx context.Context, id string) (domain.Competency, error) {
	var c domain.Competency
	err := r.DB.QueryRowContext(ctx, `SELECT id,subprocesso_id,descricao FROM competencias WHERE id=?`, id).Scan(&c.ID, &c.SubprocessoID, &c.Descricao)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("competencia %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return c, err
	}
	links, err := r.competencyLinks(ctx, `WHERE competencia_id=?`, id)
	if err != nil {
		return c, err
	}
	c.Atividades = append([]string{}, links[c.ID]...)
	return c, nil
}

func (r Repo) ListCompetencies(ctx context.Context, subprocessoID string) ([]domain.Competency, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,subprocesso_id,descricao FROM competencias WHERE subprocesso_id=? ORDER BY created_at, id`, subprocessoID)
	if err != nil {
		return nil, err
	}
	var res []domain.Competency
	for rows.Next() {
		var c domain.Competency
		if err := rows.Scan(&c.ID, &c.SubprocessoID, &c.Descricao); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	links, err := r.competencyLinks(ctx, `WHERE competencia_id IN (SELECT id FROM competencias WHERE subprocesso_id=?)`, subprocessoID)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Atividades = append([]string{}, links[res[i].ID]...)
	}
	return res, nil
}

func (r Repo) competencyLinks(ctx context.Context, where string, args ...any) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT ca.competencia_id, ca.atividade_id FROM competencia_atividades ca
JOIN atividades a ON a.id=ca.atividade_id `+where+` ORDER BY a.ordem`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]string{}
	for rows.Next() {
		var cid, aid string
		if err := rows.Scan(&cid, &aid); err != nil {
			return nil, err
		}
		res[cid] = append(res[cid], aid)
	}
	return res, rows.Err()
}

// CountActivitiesIn counts how many of ids belong to the subprocess.
func (r Repo) CountActivitiesIn(ctx context.Context, subprocessoID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{subprocessoID}
	for _, id := range ids {
		args = append(args, id)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM atividades WHERE subprocesso_id=? AND id IN (`+placeholders(len(ids))+`)`, args...).Scan(&n)
	return n, err
}
