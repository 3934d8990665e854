package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerConfigDefaultsWithNoFile(t *testing.T) {
	cfg, err := LoadWorkerConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/var/run/mysqld/mysqld.sock", cfg.MySQLSocket)
	assert.Equal(t, "qsmaster", cfg.MySQLDefaultUser)
	assert.Equal(t, 4, cfg.NumThreads)
	assert.Equal(t, 4, cfg.ThreadPoolSize)
	assert.Equal(t, 4, cfg.GroupSize)
}

func TestLoadWorkerConfigReadsIniFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.ini")
	contents := "mysqlSocket = /tmp/custom.sock\nnumThreads = 16\nQSW_GROUPSZ = 8\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadWorkerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.MySQLSocket)
	assert.Equal(t, 16, cfg.NumThreads)
	assert.Equal(t, 8, cfg.GroupSize)
	assert.Equal(t, "qsmaster", cfg.MySQLDefaultUser) // untouched key keeps its default
}

func TestLoadWorkerConfigEnvOverridesDefault(t *testing.T) {
	t.Setenv("numThreads", "32")
	cfg, err := LoadWorkerConfig("")
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.NumThreads)
}

func TestLoadWorkerConfigMissingFileIsError(t *testing.T) {
	_, err := LoadWorkerConfig(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	require.Error(t, err)
}
