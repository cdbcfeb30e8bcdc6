package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sgc/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := Migrate(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	v, err = Migrate(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='subprocessos'`).Scan(&n))
	require.Equal(t, 1, n)
}
