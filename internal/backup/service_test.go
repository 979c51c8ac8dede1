package backup

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/config"
)

func newTestService(t *testing.T, retention int) (*Service, string) {
	t.Helper()
	base := t.TempDir()
	dbPath := filepath.Join(base, "nvr.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("catalog contents"), 0o644))

	svc := NewService(config.BackupConfig{
		Enabled:   true,
		Retention: retention,
	}, base, dbPath, nil)
	return svc, dbPath
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	svc, dbPath := newTestService(t, 5)

	archive, err := svc.Backup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, archive)

	// Corrupt the live catalog, then restore.
	require.NoError(t, os.WriteFile(dbPath, []byte("garbage"), 0o644))
	require.NoError(t, svc.Restore(archive))

	restored, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "catalog contents", string(restored))
}

func TestBackup_PrunesOldArchives(t *testing.T) {
	svc, _ := newTestService(t, 2)

	for i := 0; i < 4; i++ {
		_, err := svc.Backup(context.Background())
		require.NoError(t, err)
	}

	archives, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, archives, 2)
}

func TestRestore_GzipArchive(t *testing.T) {
	svc, dbPath := newTestService(t, 5)

	gzPath := filepath.Join(t.TempDir(), "legacy.db.gz")
	f, err := os.Create(gzPath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("older backup"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	require.NoError(t, svc.Restore(gzPath))
	restored, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "older backup", string(restored))
}

func TestRestore_UnknownFormat(t *testing.T) {
	svc, _ := newTestService(t, 5)

	path := filepath.Join(t.TempDir(), "backup.rar")
	require.NoError(t, os.WriteFile(path, []byte("???"), 0o644))
	assert.Error(t, svc.Restore(path))
}

func TestList_EmptyDirectory(t *testing.T) {
	svc, _ := newTestService(t, 5)
	archives, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, archives)
}
