package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"sgc/internal/config"
)

func TestOpenSeedsDefaultUnits(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	env, err := Open(ctx, Options{Workspace: dir})
	require.NoError(t, err)
	defer env.Close()

	units, err := env.Engine.Unidades(ctx)
	require.NoError(t, err)
	require.Equal(t, "SEDOC", units[0].Sigla)
	stored, err := env.Engine.Repo.GetOrgConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, len(config.Default().Units()), len(stored.Units()))
}

func TestOpenPrefersWorkspaceFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	yml := "organizacao:\n  unidades:\n    - sigla: RAIZ\n      tipo: INTEROPERATIONAL\n      filhas:\n        - {sigla: SECAO_A, tipo: OPERATIONAL, titular: chefe-a}\n"
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(yml), 0o644))

	env, err := Open(ctx, Options{Workspace: dir})
	require.NoError(t, err)
	units, err := env.Engine.Unidades(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "RAIZ", SystemActor(env.Config).Unidade)
	require.NoError(t, env.Close())

	// reopening reads the stored config even if the file changes
	require.NoError(t, os.Remove(config.Path(dir)))
	env, err = Open(ctx, Options{Workspace: dir})
	require.NoError(t, err)
	defer env.Close()
	require.Equal(t, "RAIZ", env.Config.Units()[0].Sigla)
}
