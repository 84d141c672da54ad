// Package readapi implements ReadAPI: a small per-repository
// browsing surface (branches, log, tree, blob, single-commit diff) built on
// go-git's object layer, kept a pure function of repo state so callers can
// freely front it with rescache.
package readapi

import (
	"bytes"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"gitserve/gitobj"
	"gitserve/giterr"
)

// Branches returns every refs/heads/* name.
func Branches(repo *gitobj.Repository) ([]string, error) {
	refs, err := repo.ListRefs()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range refs.Refs {
		if name, ok := strings.CutPrefix(r.Name, "refs/heads/"); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// CurrentBranch returns the branch name HEAD points to, or "" if HEAD is a
// direct reference or absent.
func CurrentBranch(repo *gitobj.Repository) (string, error) {
	refs, err := repo.ListRefs()
	if err != nil {
		return "", err
	}
	if refs.SymbolicHead == "" {
		return "", nil
	}
	name, _ := strings.CutPrefix(refs.SymbolicHead, "refs/heads/")
	return name, nil
}

// CommitInfo is one entry in Log's result.
type CommitInfo struct {
	OID     gitobj.OID
	Message string
	Author  string
	When    string
}

// Log walks first-parent-then-parents from ref (or HEAD if ref == ""),
// optionally limited to depth commits and/or commits touching path.
func Log(repo *gitobj.Repository, ref string, depth int, path string) ([]CommitInfo, error) {
	if ref == "" {
		ref = "HEAD"
	}
	start, err := repo.ResolveRef(ref)
	if err != nil {
		return nil, err
	}

	var out []CommitInfo
	visited := make(map[gitobj.OID]struct{})
	queue := []gitobj.OID{start}
	for len(queue) > 0 && (depth <= 0 || len(out) < depth) {
		oid := queue[0]
		queue = queue[1:]
		if _, ok := visited[oid]; ok {
			continue
		}
		visited[oid] = struct{}{}

		c, err := repo.CommitObject(oid)
		if err != nil {
			continue
		}
		if path != "" {
			touched, err := commitTouchesPath(repo, c, path)
			if err != nil || !touched {
				queue = append(queue, c.ParentHashes...)
				continue
			}
		}
		out = append(out, CommitInfo{
			OID:     oid,
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When.UTC().Format("2006-01-02T15:04:05Z"),
		})
		queue = append(queue, c.ParentHashes...)
	}
	return out, nil
}

func commitTouchesPath(repo *gitobj.Repository, c *object.Commit, path string) (bool, error) {
	tree, err := repo.TreeObject(c.TreeHash)
	if err != nil {
		return false, err
	}
	entryOID, err := lookupPath(repo, tree, path)
	if err != nil {
		return false, nil
	}
	if len(c.ParentHashes) == 0 {
		return true, nil
	}
	pc, err := repo.CommitObject(c.ParentHashes[0])
	if err != nil {
		return true, nil
	}
	ptree, err := repo.TreeObject(pc.TreeHash)
	if err != nil {
		return true, nil
	}
	parentOID, err := lookupPath(repo, ptree, path)
	if err != nil {
		return true, nil // path didn't exist before: this commit introduced it
	}
	return parentOID != entryOID, nil
}

func lookupPath(repo *gitobj.Repository, tree *object.Tree, path string) (gitobj.OID, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	current := tree
	for i, part := range parts {
		entry, err := findEntry(current, part)
		if err != nil {
			return gitobj.ZeroOID, err
		}
		if i == len(parts)-1 {
			return entry.Hash, nil
		}
		current, err = repo.TreeObject(entry.Hash)
		if err != nil {
			return gitobj.ZeroOID, err
		}
	}
	return gitobj.ZeroOID, giterr.ErrNotFound
}

func findEntry(tree *object.Tree, name string) (object.TreeEntry, error) {
	for _, e := range tree.Entries {
		if e.Name == name {
			return e, nil
		}
	}
	return object.TreeEntry{}, giterr.ErrNotFound
}

// TreeEntry is one entry in Tree's result.
type TreeEntry struct {
	Name       string
	Type       string // "blob", "tree", "commit" (submodule)
	OID        gitobj.OID
	LastCommit *CommitInfo
}

// Tree lists the entries of the tree at ref:path (path == "" means the
// root), with each entry's last-touching commit.
func Tree(repo *gitobj.Repository, ref, path string) ([]TreeEntry, error) {
	commitOID, err := repo.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	c, err := repo.CommitObject(commitOID)
	if err != nil {
		return nil, err
	}
	root, err := repo.TreeObject(c.TreeHash)
	if err != nil {
		return nil, err
	}

	current := root
	if path != "" {
		for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
			entry, err := findEntry(current, part)
			if err != nil {
				return nil, giterr.ErrNotFound
			}
			current, err = repo.TreeObject(entry.Hash)
			if err != nil {
				return nil, giterr.ErrNotFound
			}
		}
	}

	var out []TreeEntry
	for _, e := range current.Entries {
		te := TreeEntry{Name: e.Name, OID: e.Hash}
		switch {
		case e.Mode == filemodeDir:
			te.Type = "tree"
		case e.Mode == filemodeSubmodule:
			te.Type = "commit"
		default:
			te.Type = "blob"
		}
		entryPath := e.Name
		if path != "" {
			entryPath = strings.TrimSuffix(path, "/") + "/" + e.Name
		}
		if hist, err := Log(repo, ref, 1, entryPath); err == nil && len(hist) > 0 {
			lc := hist[0]
			te.LastCommit = &lc
		}
		out = append(out, te)
	}
	return out, nil
}

// BlobResult is Blob's result.
type BlobResult struct {
	OID      gitobj.OID
	Content  []byte
	Size     int64
	IsBinary bool
}

// Blob returns a file's content at ref:path, with binary detection.
func Blob(repo *gitobj.Repository, ref, path string) (BlobResult, error) {
	commitOID, err := repo.ResolveRef(ref)
	if err != nil {
		return BlobResult{}, err
	}
	c, err := repo.CommitObject(commitOID)
	if err != nil {
		return BlobResult{}, err
	}
	tree, err := repo.TreeObject(c.TreeHash)
	if err != nil {
		return BlobResult{}, err
	}
	oid, err := lookupPath(repo, tree, path)
	if err != nil {
		return BlobResult{}, giterr.ErrNotFound
	}
	b, err := repo.BlobObject(oid)
	if err != nil {
		return BlobResult{}, err
	}
	rc, err := b.Reader()
	if err != nil {
		return BlobResult{}, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return BlobResult{}, errors.Wrap(err, "readapi: read blob")
	}
	return BlobResult{
		OID:      oid,
		Content:  buf.Bytes(),
		Size:     b.Size,
		IsBinary: looksBinary(buf.Bytes()),
	}, nil
}

func looksBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(data[:n], 0) != -1
}

// Change is one file's delta within CommitWithChanges. Binary is only
// meaningful for "add"/"modify" (it inspects New's blob content).
type Change struct {
	Path   string
	Kind   string // "add", "modify", "remove"
	Old    gitobj.OID
	New    gitobj.OID
	Binary bool
}

// CommitWithChanges diffs a commit's tree against its first parent's tree
// (or an empty tree if it has no parent).
func CommitWithChanges(repo *gitobj.Repository, oid gitobj.OID) (CommitInfo, []Change, error) {
	c, err := repo.CommitObject(oid)
	if err != nil {
		return CommitInfo{}, nil, err
	}
	info := CommitInfo{OID: oid, Message: c.Message, Author: c.Author.Name, When: c.Author.When.UTC().Format("2006-01-02T15:04:05Z")}

	tree, err := repo.TreeObject(c.TreeHash)
	if err != nil {
		return info, nil, err
	}

	var parentTree *object.Tree
	if len(c.ParentHashes) > 0 {
		pc, err := repo.CommitObject(c.ParentHashes[0])
		if err == nil {
			parentTree, _ = repo.TreeObject(pc.TreeHash)
		}
	}

	changes, err := diffTrees(repo, parentTree, tree, "")
	return info, changes, err
}

// diffTrees walks old and new side by side, recursing into subdirectories
// so every changed file surfaces individually rather than collapsing a
// nested edit into a directory-level "modify" (spec §4.7).
func diffTrees(repo *gitobj.Repository, old, new *object.Tree, prefix string) ([]Change, error) {
	oldEntries := map[string]object.TreeEntry{}
	if old != nil {
		for _, e := range old.Entries {
			oldEntries[e.Name] = e
		}
	}
	newEntries := map[string]object.TreeEntry{}
	for _, e := range new.Entries {
		newEntries[e.Name] = e
	}

	var changes []Change
	for name, ne := range newEntries {
		path := prefix + name
		oe, existed := oldEntries[name]

		if ne.Mode == filemodeDir {
			var oldSub *object.Tree
			if existed && oe.Mode == filemodeDir {
				oldSub, _ = repo.TreeObject(oe.Hash)
			} else if existed {
				// A file became a directory: the old file is a removal.
				changes = append(changes, Change{Path: path, Kind: "remove", Old: oe.Hash})
			}
			newSub, err := repo.TreeObject(ne.Hash)
			if err != nil {
				return nil, err
			}
			sub, err := diffTrees(repo, oldSub, newSub, path+"/")
			if err != nil {
				return nil, err
			}
			changes = append(changes, sub...)
			continue
		}

		if !existed {
			changes = append(changes, Change{Path: path, Kind: "add", New: ne.Hash, Binary: blobIsBinary(repo, ne.Hash)})
			continue
		}
		if oe.Mode == filemodeDir {
			// A directory became a file: everything under the old tree is a
			// removal, and the new entry is an add.
			oldSub, err := repo.TreeObject(oe.Hash)
			if err == nil {
				sub, err := diffTrees(repo, oldSub, &object.Tree{}, path+"/")
				if err != nil {
					return nil, err
				}
				changes = append(changes, sub...)
			}
			changes = append(changes, Change{Path: path, Kind: "add", New: ne.Hash, Binary: blobIsBinary(repo, ne.Hash)})
			continue
		}
		if oe.Hash != ne.Hash {
			changes = append(changes, Change{Path: path, Kind: "modify", Old: oe.Hash, New: ne.Hash, Binary: blobIsBinary(repo, ne.Hash)})
		}
	}
	for name, oe := range oldEntries {
		if _, ok := newEntries[name]; ok {
			continue
		}
		path := prefix + name
		if oe.Mode == filemodeDir {
			oldSub, err := repo.TreeObject(oe.Hash)
			if err != nil {
				continue
			}
			sub, err := diffTrees(repo, oldSub, &object.Tree{}, path+"/")
			if err != nil {
				return nil, err
			}
			changes = append(changes, sub...)
			continue
		}
		changes = append(changes, Change{Path: path, Kind: "remove", Old: oe.Hash})
	}
	return changes, nil
}

// blobIsBinary inspects a blob's content for NUL bytes; a non-blob (e.g. a
// submodule commit entry) is never treated as binary.
func blobIsBinary(repo *gitobj.Repository, oid gitobj.OID) bool {
	b, err := repo.BlobObject(oid)
	if err != nil {
		return false
	}
	rc, err := b.Reader()
	if err != nil {
		return false
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, rc, 8000); err != nil && err != io.EOF {
		return false
	}
	return looksBinary(buf.Bytes())
}

const (
	filemodeDir       = 0o040000
	filemodeSubmodule = 0o160000
)
