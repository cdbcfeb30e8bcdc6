package engine

import (
	"context"

	"go.uber.org/zap"

	"sgc/internal/domain"
)

// Notifier receives committed events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, evt domain.Event)
}

// LogNotifier writes events to the logger.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (n LogNotifier) Notify(_ context.Context, evt domain.Event) {
	if n.Logger == nil {
		return
	}
	n.Logger.Infow("evento", "tipo", evt.Type, "processo", evt.ProcessoID, "entidade", evt.EntityKind, "id", evt.EntityID, "ator", evt.ActorID)
}

// MultiNotifier fans out to every notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, evt domain.Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, evt)
		}
	}
}
