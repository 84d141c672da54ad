package objectstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadStat(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)

	ok, err := fs.Stat("HEAD")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, fs.Write("HEAD", []byte("ref: refs/heads/main\n")))

	ok, err = fs.Stat("HEAD")
	require.NoError(t, err)
	require.True(t, ok)

	data, err := fs.Read("HEAD")
	require.NoError(t, err)
	require.Equal(t, "ref: refs/heads/main\n", string(data))
}

func TestRenamePublishesPack(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Write("objects/pack/pack-1.pack.tmp", []byte("PACK...")))
	ok, _ := fs.Stat("objects/pack/pack-1.pack")
	require.False(t, ok)

	require.NoError(t, fs.Rename("objects/pack/pack-1.pack.tmp", "objects/pack/pack-1.pack"))
	ok, err = fs.Stat("objects/pack/pack-1.pack")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestListAndDelete(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Write("refs/heads/main", []byte("aaaa\n")))
	require.NoError(t, fs.Write("refs/heads/dev", []byte("bbbb\n")))

	paths, err := fs.List("refs/heads")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"refs/heads/dev", "refs/heads/main"}, paths)

	require.NoError(t, fs.Delete("refs/heads/dev"))
	paths, err = fs.List("refs/heads")
	require.NoError(t, err)
	require.Equal(t, []string{"refs/heads/main"}, paths)
}
