package engine

import (
	"context"

	"sgc/internal/domain"
	"sgc/internal/metrics"
)

type BatchFailure struct {
	ID     string `json:"id"`
	Codigo string `json:"codigo"`
	Erro   string `json:"erro"`
}

// BatchResult lists per-id outcomes. One failure never aborts the batch.
type BatchResult struct {
	Sucesso []string       `json:"sucesso"`
	Falhas  []BatchFailure `json:"falhas"`
}

func (e Engine) runBatch(ctx context.Context, action domain.Action, ids []string, fn func(ctx context.Context, id string) error) BatchResult {
	res := BatchResult{Sucesso: []string{}, Falhas: []BatchFailure{}}
	for _, id := range ids {
		if err := fn(ctx, id); err != nil {
			res.Falhas = append(res.Falhas, BatchFailure{ID: id, Codigo: ErrorCode(err), Erro: err.Error()})
			metrics.RecordBatchItem(string(action), metrics.ResultRejected)
			continue
		}
		res.Sucesso = append(res.Sucesso, id)
		metrics.RecordBatchItem(string(action), metrics.ResultOK)
	}
	e.log().Infow("lote processado", "acao", action, "sucesso", len(res.Sucesso), "falhas", len(res.Falhas))
	return res
}

func (e Engine) AceitarEmBloco(ctx context.Context, actor domain.Actor, ids []string, observacao string) BatchResult {
	return e.runBatch(ctx, domain.ActionAceitar, ids, func(ctx context.Context, id string) error {
		_, err := e.Aceitar(ctx, actor, id, observacao)
		return err
	})
}

func (e Engine) HomologarEmBloco(ctx context.Context, actor domain.Actor, ids []string, observacao string) BatchResult {
	return e.runBatch(ctx, domain.ActionHomologar, ids, func(ctx context.Context, id string) error {
		_, err := e.Homologar(ctx, actor, id, observacao)
		return err
	})
}

func (e Engine) IniciarMapaEmBloco(ctx context.Context, actor domain.Actor, ids []string) BatchResult {
	return e.runBatch(ctx, domain.ActionIniciarMapa, ids, func(ctx context.Context, id string) error {
		_, err := e.IniciarMapa(ctx, actor, id)
		return err
	})
}
