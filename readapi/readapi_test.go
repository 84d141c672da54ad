package readapi

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"gitserve/gitobj"
	"gitserve/objectstore"
)

func newTestRepo(t *testing.T) *gitobj.Repository {
	t.Helper()
	store, err := objectstore.NewFS(t.TempDir())
	require.NoError(t, err)
	repo := gitobj.Open(store)
	require.NoError(t, repo.Init())
	return repo
}

func commitSingleFile(t *testing.T, repo *gitobj.Repository, parent gitobj.OID, name, content string) gitobj.OID {
	t.Helper()

	blob := &plumbing.MemoryObject{}
	blob.SetType(plumbing.BlobObject)
	w, err := blob.Writer()
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	blob.SetSize(int64(len(content)))
	blobHash := setObj(t, repo, blob)

	tree := &object.Tree{Entries: []object.TreeEntry{{Name: name, Mode: 0o100644, Hash: blobHash}}}
	treeObj := &plumbing.MemoryObject{}
	treeObj.SetType(plumbing.TreeObject)
	require.NoError(t, tree.Encode(treeObj))
	treeHash := setObj(t, repo, treeObj)

	commit := &object.Commit{
		Author:       object.Signature{Name: "tester", When: time.Unix(0, 0)},
		Committer:    object.Signature{Name: "tester", When: time.Unix(0, 0)},
		Message:      "commit " + name,
		TreeHash:     treeHash,
		ParentHashes: nil,
	}
	if !gitobj.IsZero(parent) {
		commit.ParentHashes = []plumbing.Hash{parent}
	}
	commitObj := &plumbing.MemoryObject{}
	commitObj.SetType(plumbing.CommitObject)
	require.NoError(t, commit.Encode(commitObj))
	return setObj(t, repo, commitObj)
}

func setObj(t *testing.T, repo *gitobj.Repository, obj plumbing.EncodedObject) gitobj.OID {
	t.Helper()
	h, err := repo.StoreEncodedObject(obj)
	require.NoError(t, err)
	return h
}

func TestTreeAndBlob(t *testing.T) {
	repo := newTestRepo(t)
	c1 := commitSingleFile(t, repo, gitobj.ZeroOID, "a.txt", "hello")
	_, err := repo.ApplyRefUpdates([]gitobj.RefCommand{{Name: "refs/heads/main", OldOID: gitobj.ZeroOID, NewOID: c1}}, false)
	require.NoError(t, err)

	entries, err := Tree(repo, "refs/heads/main", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.txt", entries[0].Name)

	blob, err := Blob(repo, "refs/heads/main", "a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(blob.Content))
	require.False(t, blob.IsBinary)
}

func TestCommitWithChangesDetectsModify(t *testing.T) {
	repo := newTestRepo(t)
	c1 := commitSingleFile(t, repo, gitobj.ZeroOID, "a.txt", "v1")
	c2 := commitSingleFile(t, repo, c1, "a.txt", "v2")

	_, changes, err := CommitWithChanges(repo, c2)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "modify", changes[0].Kind)
}
