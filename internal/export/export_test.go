package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertDerivesUniqueDirsAndDbDirs(t *testing.T) {
	base := t.TempDir()
	p := New()
	paths := []string{
		ChunkPath(base, "wise", 10),
		ChunkPath(base, "wise", 11),
		ChunkPath(base, "sdss", 5),
	}
	p.Insert(paths)

	assert.ElementsMatch(t, paths, p.Paths())
	assert.ElementsMatch(t, []string{
		filepath.Join(base, "wise"),
		filepath.Join(base, "sdss"),
		base,
	}, p.UniqueDirs())
	assert.ElementsMatch(t, []string{
		filepath.Join(base, "wise"),
		filepath.Join(base, "sdss"),
	}, p.UniqueDbDirs())
}

func TestInsertDeduplicatesRepeatedPaths(t *testing.T) {
	base := t.TempDir()
	p := New()
	path := ChunkPath(base, "wise", 10)
	p.Insert([]string{path, path})
	assert.Len(t, p.Paths(), 1)
}

func TestRegisterCreatesDirsAndMarkerFiles(t *testing.T) {
	base := t.TempDir()
	p := New()
	paths := []string{ChunkPath(base, "wise", 10), ChunkPath(base, "wise", 11)}
	p.Insert(paths)

	require.NoError(t, p.Register())
	for _, path := range paths {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.False(t, info.IsDir())
		assert.Zero(t, info.Size())
	}
}

func TestRegisterRefusesToOverwriteExistingDb(t *testing.T) {
	base := t.TempDir()

	first := New()
	first.Insert([]string{ChunkPath(base, "wise", 10)})
	require.NoError(t, first.Register())

	second := New()
	second.Insert([]string{ChunkPath(base, "wise", 20)})
	err := second.Register()
	require.Error(t, err)
	var already AlreadyRegisteredError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, filepath.Join(base, "wise"), already.Dir)
}

func TestIsRegisteredReflectsDiskState(t *testing.T) {
	base := t.TempDir()
	p := New()
	p.Insert([]string{ChunkPath(base, "wise", 10)})

	registered, err := p.IsRegistered()
	require.NoError(t, err)
	assert.False(t, registered)

	require.NoError(t, p.Register())

	registered, err = p.IsRegistered()
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestUnregisterRemovesDbDirectory(t *testing.T) {
	base := t.TempDir()
	p := New()
	p.Insert([]string{ChunkPath(base, "wise", 10)})
	require.NoError(t, p.Register())

	require.NoError(t, Unregister(filepath.Join(base, "wise")))
	registered, err := p.IsRegistered()
	require.NoError(t, err)
	assert.False(t, registered)
}
