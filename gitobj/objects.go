package gitobj

import (
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// CommitObject decodes oid as a commit via go-git's object layer against
// this repository's storer adapter.
func (r *Repository) CommitObject(oid OID) (*object.Commit, error) {
	c, err := object.GetCommit(r.adapter, oid)
	if err != nil {
		return nil, errors.Wrapf(err, "gitobj: decode commit %s", oid)
	}
	return c, nil
}

// TreeObject decodes oid as a tree.
func (r *Repository) TreeObject(oid OID) (*object.Tree, error) {
	t, err := object.GetTree(r.adapter, oid)
	if err != nil {
		return nil, errors.Wrapf(err, "gitobj: decode tree %s", oid)
	}
	return t, nil
}

// BlobObject decodes oid as a blob.
func (r *Repository) BlobObject(oid OID) (*object.Blob, error) {
	b, err := object.GetBlob(r.adapter, oid)
	if err != nil {
		return nil, errors.Wrapf(err, "gitobj: decode blob %s", oid)
	}
	return b, nil
}

// TagObject decodes oid as an annotated tag.
func (r *Repository) TagObject(oid OID) (*object.Tag, error) {
	t, err := object.GetTag(r.adapter, oid)
	if err != nil {
		return nil, errors.Wrapf(err, "gitobj: decode tag %s", oid)
	}
	return t, nil
}
