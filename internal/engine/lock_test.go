package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sgc/internal/config"
	"sgc/internal/db"
	"sgc/internal/domain"
	"sgc/internal/migrate"
)

func TestBusySubprocessRejectsConcurrentTransition(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	admin := domain.Actor{ID: "admin", Role: domain.RoleAdmin, Unidade: "SEDOC"}
	e := New(conn, config.Default())
	_, err = e.ImportarUnidades(ctx, admin, e.Config)
	require.NoError(t, err)
	p, err := e.CreateProcess(ctx, admin, CreateProcessOptions{Descricao: "p", Tipo: domain.ProcessMapeamento, DataLimite: "2024-05-01", Unidades: []string{"SECAO_211"}})
	require.NoError(t, err)
	_, err = e.StartProcess(ctx, admin, p.ID)
	require.NoError(t, err)
	sub, err := e.GetSubprocess(ctx, p.ID, "SECAO_211")
	require.NoError(t, err)

	require.True(t, e.locks.TryLock(sub.ID))
	_, err = e.Homologar(ctx, admin, sub.ID, "")
	require.ErrorIs(t, err, ErrSubprocessoOcupado)
	require.Equal(t, CodeBusy, ErrorCode(err))
	e.locks.Unlock(sub.ID)

	// with the lock released the structural check applies again
	_, err = e.Homologar(ctx, admin, sub.ID, "")
	var it InvalidTransitionError
	require.ErrorAs(t, err, &it)
}
