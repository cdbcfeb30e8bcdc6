package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sgc/internal/config"
	"sgc/internal/domain"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB DBTX
}

var ErrNotFound = errors.New("not found")

// WithTx returns a Repo whose reads and writes go through tx.
func (r Repo) WithTx(tx *sql.Tx) Repo {
	return Repo{DB: tx}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// UpsertOrgConfig stores the imported sgc.yml as JSON.
func (r Repo) UpsertOrgConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO org_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_config WHERE id=1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// ReplaceUnits swaps the live unit tree. Running processes keep their snapshot.
func (r Repo) ReplaceUnits(ctx context.Context, units []domain.Unit) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM unidades`); err != nil {
		return err
	}
	for i, u := range units {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO unidades(sigla,nome,tipo,titular,parent_sigla,ordem) VALUES (?,?,?,?,?,?)`,
			u.Sigla, u.Nome, u.Tipo, nullable(u.Titular), nullable(u.Parent), i); err != nil {
			return fmt.Errorf("insert unidade %s: %w", u.Sigla, err)
		}
	}
	return nil
}

func (r Repo) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	return r.queryUnits(ctx, `SELECT sigla,nome,tipo,COALESCE(titular,''),COALESCE(parent_sigla,'') FROM unidades ORDER BY ordem`)
}

// InsertProcessUnits snapshots the hierarchy for a process.
func (r Repo) InsertProcessUnits(ctx context.Context, processoID string, units []domain.Unit) error {
	for i, u := range units {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO processo_unidades(processo_id,sigla,nome,tipo,titular,parent_sigla,ordem) VALUES (?,?,?,?,?,?,?)`,
			processoID, u.Sigla, u.Nome, u.Tipo, nullable(u.Titular), nullable(u.Parent), i); err != nil {
			return fmt.Errorf("insert processo_unidade %s: %w", u.Sigla, err)
		}
	}
	return nil
}

func (r Repo) ListProcessUnits(ctx context.Context, processoID string) ([]domain.Unit, error) {
	return r.queryUnits(ctx, `SELECT sigla,nome,tipo,COALESCE(titular,''),COALESCE(parent_sigla,'') FROM processo_unidades WHERE processo_id=? ORDER BY ordem`, processoID)
}

func (r Repo) queryUnits(ctx context.Context, query string, args ...any) ([]domain.Unit, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Unit
	for rows.Next() {
		var u domain.Unit
		if err := rows.Scan(&u.Sigla, &u.Nome, &u.Tipo, &u.Titular, &u.Parent); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

const processColumns = `id,descricao,tipo,situacao,data_limite,created_at,iniciado_em,finalizado_em`

func scanProcess(scan func(...any) error) (domain.Process, error) {
	var p domain.Process
	var iniciado, finalizado sql.NullString
	if err := scan(&p.ID, &p.Descricao, &p.Tipo, &p.Situacao, &p.DataLimite, &p.CreatedAt, &iniciado, &finalizado); err != nil {
		return p, err
	}
	p.IniciadoEm = ptr(iniciado)
	p.FinalizadoEm = ptr(finalizado)
	return p, nil
}

func (r Repo) InsertProcess(ctx context.Context, p domain.Process) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO processos(id,descricao,tipo,situacao,data_limite,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Descricao, p.Tipo, p.Situacao, p.DataLimite, p.CreatedAt)
	if err != nil {
		return err
	}
	for i, sigla := range p.Unidades {
		if _, err := r.DB.ExecContext(ctx, `INSERT INTO processo_participantes(processo_id,sigla,ordem) VALUES (?,?,?)`, p.ID, sigla, i); err != nil {
			return fmt.Errorf("insert participante %s: %w", sigla, err)
		}
	}
	return nil
}

func (r Repo) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	p, err := scanProcess(r.DB.QueryRowContext(ctx, `SELECT `+processColumns+` FROM processos WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Unidades, err = r.listParticipants(ctx, id)
	return p, err
}

func (r Repo) listParticipants(ctx context.Context, processoID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT sigla FROM processo_participantes WHERE processo_id=? ORDER BY ordem`, processoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type ProcessFilters struct {
	Situacao domain.ProcessStatus
	Tipo     domain.ProcessType
	Limit    int
}

func (r Repo) ListProcesses(ctx context.Context, f ProcessFilters) ([]domain.Process, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Situacao != "" {
		clauses = append(clauses, "situacao=?")
		args = append(args, f.Situacao)
	}
	if f.Tipo != "" {
		clauses = append(clauses, "tipo=?")
		args = append(args, f.Tipo)
	}
	query := fmt.Sprintf(`SELECT %s FROM processos WHERE %s ORDER BY created_at DESC, id`, processColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Process
	for rows.Next() {
		p, err := scanProcess(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].Unidades, err = r.listParticipants(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) UpdateProcessStatus(ctx context.Context, id string, status domain.ProcessStatus, column, ts string) error {
	var query string
	switch column {
	case "iniciado_em", "finalizado_em":
		query = fmt.Sprintf(`UPDATE processos SET situacao=?, %s=? WHERE id=?`, column)
	default:
		return fmt.Errorf("unknown process timestamp column %q", column)
	}
	res, err := r.DB.ExecContext(ctx, query, status, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
