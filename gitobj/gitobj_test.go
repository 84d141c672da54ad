package gitobj

import (
	"bytes"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"

	"gitserve/giterr"
	"gitserve/objectstore"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := objectstore.NewFS(t.TempDir())
	require.NoError(t, err)
	repo := Open(store)
	require.NoError(t, repo.Init())
	return repo
}

func writeBlob(t *testing.T, repo *Repository, content []byte) OID {
	t.Helper()
	obj := &plumbing.MemoryObject{}
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	h, err := repo.adapter.SetEncodedObject(obj)
	require.NoError(t, err)
	return h
}

func TestInitIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Init())
	_, err := repo.ResolveRef("HEAD")
	require.ErrorIs(t, err, giterr.ErrNotFound)
}

func TestPackObjectsRoundTripsThroughIndexPack(t *testing.T) {
	repo := newTestRepo(t)
	h := writeBlob(t, repo, []byte("hello world"))

	packBytes, entries, err := repo.PackObjects([]OID{h})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, h, entries[0].oid)
	require.True(t, bytes.HasPrefix(packBytes, []byte("PACK")))

	other, err := objectstore.NewFS(t.TempDir())
	require.NoError(t, err)
	repo2 := Open(other)
	require.NoError(t, repo2.Init())
	require.NoError(t, repo2.IndexPack(packBytes))

	obj, err := repo2.ReadObject(h)
	require.NoError(t, err)
	require.Equal(t, plumbing.BlobObject, obj.Type)
	require.Equal(t, "hello world", string(obj.Data))
}

func TestApplyRefUpdatesCreate(t *testing.T) {
	repo := newTestRepo(t)
	h := writeBlob(t, repo, []byte("x"))

	results, err := repo.ApplyRefUpdates([]RefCommand{
		{Name: "refs/heads/main", OldOID: ZeroOID, NewOID: h},
	}, false)
	require.NoError(t, err)
	require.True(t, results[0].OK)

	oid, err := repo.ResolveRef("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, h, oid)
}

func TestApplyRefUpdatesRejectsCreateOverExisting(t *testing.T) {
	repo := newTestRepo(t)
	h := writeBlob(t, repo, []byte("x"))
	_, err := repo.ApplyRefUpdates([]RefCommand{{Name: "refs/heads/main", OldOID: ZeroOID, NewOID: h}}, false)
	require.NoError(t, err)

	results, err := repo.ApplyRefUpdates([]RefCommand{{Name: "refs/heads/main", OldOID: ZeroOID, NewOID: h}}, false)
	require.NoError(t, err)
	require.False(t, results[0].OK)
	require.Equal(t, reasonRefExists, results[0].Reason)
}

func TestApplyRefUpdatesAtomicRollsBackAll(t *testing.T) {
	repo := newTestRepo(t)
	h := writeBlob(t, repo, []byte("x"))

	results, err := repo.ApplyRefUpdates([]RefCommand{
		{Name: "refs/heads/main", OldOID: ZeroOID, NewOID: h},
		{Name: "refs/heads/other", OldOID: h, NewOID: ZeroOID}, // invalid: other doesn't exist yet
	}, true)
	require.NoError(t, err)
	require.False(t, results[0].OK)
	require.Equal(t, reasonAtomicFailed, results[0].Reason)
	require.False(t, results[1].OK)

	_, err = repo.ResolveRef("refs/heads/main")
	require.Error(t, err)
}
