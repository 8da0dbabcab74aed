package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chainswarm/subnet2/testing/assert"
	"github.com/chainswarm/subnet2/testing/require"
)

func TestStore_Backup(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	tournament := testTournament(42)
	require.NoError(t, db.CreateTournament(ctx, tournament))

	backupDir := t.TempDir()
	require.NoError(t, db.Backup(ctx, backupDir, false))

	files, err := os.ReadDir(filepath.Join(backupDir, backupsDirectoryName))
	require.NoError(t, err)
	require.Equal(t, 1, len(files))

	restored, err := NewKVStore(filepath.Join(backupDir, "restored"))
	require.NoError(t, err)

	// Opening the copy as a fresh store sees the same tournament.
	data, err := os.ReadFile(filepath.Join(backupDir, backupsDirectoryName, files[0].Name()))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(restored.DatabasePath(), databaseFileName), data, 0600))
	require.NoError(t, restored.Close())

	reopened, err := NewKVStore(restored.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = reopened.Close()
	})

	got, err := reopened.Tournament(ctx, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, tournament.EpochNumber, got.EpochNumber)
}
