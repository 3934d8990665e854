package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/qserv-go/internal/export"
)

func TestMatchChunkTableAcceptsBaseChunkOnly(t *testing.T) {
	id, ok := matchChunkTable("Object_1234", nil)
	require.True(t, ok)
	assert.Equal(t, int64(1234), id)

	_, ok = matchChunkTable("Object_1234_56", nil)
	assert.False(t, ok)

	_, ok = matchChunkTable("Object_1234_56Overlap", nil)
	assert.False(t, ok)

	_, ok = matchChunkTable("notachunktable", nil)
	assert.False(t, ok)
}

func TestMatchChunkTableFiltersByWantedPrefix(t *testing.T) {
	wanted := map[string]bool{"Source": true}

	_, ok := matchChunkTable("Object_1", wanted)
	assert.False(t, ok)

	id, ok := matchChunkTable("Source_1", wanted)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestReadDSNTrimsAndRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth")
	require.NoError(t, os.WriteFile(path, []byte("user:pass@tcp(127.0.0.1:3306)/db\n"), 0o644))

	dsn, err := readDSN(path)
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(127.0.0.1:3306)/db", dsn)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	_, err = readDSN(empty)
	assert.Error(t, err)
}

func TestExportRootForUsesEnvOverride(t *testing.T) {
	t.Setenv("ADMIN_EXPORT_ROOT", "")
	assert.Equal(t, "/export/worker-1", exportRootFor("worker-1"))

	t.Setenv("ADMIN_EXPORT_ROOT", "/srv/export")
	assert.Equal(t, "/srv/export/worker-1", exportRootFor("worker-1"))
}

func TestExitCodeMapsAlreadyRegistered(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, assertGenericErr(t))
	assert.Equal(t, 2, exitCode(export.AlreadyRegisteredError{Dir: "/export/x/LSST"}))
}

func assertGenericErr(t *testing.T) int {
	t.Helper()
	return exitCode(&os.PathError{Op: "stat", Path: "x", Err: os.ErrNotExist})
}

func TestRunShowReportsNoDatabasesWhenRootMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ADMIN_EXPORT_ROOT", dir)
	require.NoError(t, runShow("missing-worker"))
}

func TestRunUnregisterRemovesDbDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ADMIN_EXPORT_ROOT", dir)
	dbDir := filepath.Join(dir, "worker-1", "LSST")
	require.NoError(t, os.MkdirAll(dbDir, 0o755))

	require.NoError(t, runUnregister("worker-1", "LSST"))
	_, err := os.Stat(dbDir)
	assert.True(t, os.IsNotExist(err))
}
