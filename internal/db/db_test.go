package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesWorkspaceDatabase(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()

	var fk int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	require.Equal(t, 1, fk)
	_, err = os.Stat(filepath.Join(dir, ".sgc", "sgc.db"))
	require.NoError(t, err)
}

func TestOpenHonoursFileOverride(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "other.db")
	conn, err := Open(Config{Workspace: t.TempDir(), File: file})
	require.NoError(t, err)
	defer conn.Close()
	_, err = os.Stat(file)
	require.NoError(t, err)
}
