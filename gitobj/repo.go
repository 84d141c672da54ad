// Package gitobj is the read/write/parse layer for Git objects, refs, and
// packfiles, built on go-git v5's plumbing packages rather than hand-rolled
// parsing.
package gitobj

import (
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"

	"gitserve/giterr"
	"gitserve/objectstore"
)

// DefaultBranch is the branch HEAD points at for a freshly initialized
// repository.
const DefaultBranch = "refs/heads/main"

const maxSymrefHops = 5

// Repository is one bare repository's GitObjects instance: an ObjectStore
// handle plus the adapter that lets go-git's own object/packfile/ref code
// operate directly against it.
type Repository struct {
	store   objectstore.Store
	adapter *adapter
}

// Open wraps store as a Repository. It does not touch disk; call Init to
// lazily create the bare-repo skeleton.
func Open(store objectstore.Store) *Repository {
	return &Repository{store: store, adapter: newAdapter(store)}
}

// Init writes the bare-repo skeleton if HEAD is absent. Idempotent
//.
func (r *Repository) Init() error {
	ok, err := r.store.Stat("HEAD")
	if err != nil {
		return errors.Wrap(err, "gitobj: init: stat HEAD")
	}
	if ok {
		return nil
	}
	if err := r.store.Write("HEAD", []byte("ref: "+DefaultBranch+"\n")); err != nil {
		return errors.Wrap(err, "gitobj: init: write HEAD")
	}
	return nil
}

// ResolveRef recursively resolves symrefs (bounded at 5 hops) to an OID.
func (r *Repository) ResolveRef(name string) (OID, error) {
	refName := plumbing.ReferenceName(name)
	for hop := 0; hop < maxSymrefHops; hop++ {
		ref, err := r.adapter.Reference(refName)
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return ZeroOID, giterr.ErrNotFound
		}
		if err != nil {
			return ZeroOID, err
		}
		if ref.Type() == plumbing.HashReference {
			return ref.Hash(), nil
		}
		refName = ref.Target()
	}
	return ZeroOID, errors.Errorf("gitobj: too many symref hops resolving %s", name)
}

// RefEntry is one resolved ref, as returned by ListRefs.
type RefEntry struct {
	Name string
	OID  OID
}

// RefList is the result of ListRefs: refs in HEAD-first, then branches,
// then tags ASCII order, plus the symbolic target of HEAD if it is a
// symref.
type RefList struct {
	Refs         []RefEntry
	SymbolicHead string // e.g. "refs/heads/main"; empty if HEAD is absent or direct
}

// ListRefs enumerates all refs, HEAD first (direct OID, if resolvable),
// then refs/heads/* and refs/tags/* in ASCII order.
func (r *Repository) ListRefs() (RefList, error) {
	var out RefList

	headOID, err := r.ResolveRef("HEAD")
	if err == nil {
		out.Refs = append(out.Refs, RefEntry{Name: "HEAD", OID: headOID})
	} else if !errors.Is(err, giterr.ErrNotFound) {
		return out, err
	}
	if headRef, err := r.adapter.Reference("HEAD"); err == nil && headRef.Type() == plumbing.SymbolicReference {
		out.SymbolicHead = string(headRef.Target())
	}

	heads, err := r.listNamespace("refs/heads")
	if err != nil {
		return out, err
	}
	tags, err := r.listNamespace("refs/tags")
	if err != nil {
		return out, err
	}
	out.Refs = append(out.Refs, heads...)
	out.Refs = append(out.Refs, tags...)
	return out, nil
}

func (r *Repository) listNamespace(prefix string) ([]RefEntry, error) {
	paths, err := r.store.List(prefix)
	if err != nil {
		return nil, errors.Wrapf(err, "gitobj: list %s", prefix)
	}
	var out []RefEntry
	for _, p := range paths {
		oid, err := r.ResolveRef(p)
		if err != nil {
			continue
		}
		out = append(out, RefEntry{Name: p, OID: oid})
	}
	return out, nil
}

// Object is a decoded Git object.
type Object struct {
	Type plumbing.ObjectType
	Data []byte
}

// StoreEncodedObject writes obj as a loose object and returns its OID, for
// callers building objects directly (tests, and any future write path that
// doesn't go through a packfile).
func (r *Repository) StoreEncodedObject(obj plumbing.EncodedObject) (OID, error) {
	return r.adapter.SetEncodedObject(obj)
}

// ReadObject looks up oid among loose objects (any materialized pack
// object lands here too — see storer.go's adapter doc comment).
func (r *Repository) ReadObject(oid OID) (Object, error) {
	eo, err := r.adapter.EncodedObject(plumbing.AnyObject, oid)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Object{}, giterr.ErrNotFound
	}
	if err != nil {
		return Object{}, err
	}
	rc, err := eo.Reader()
	if err != nil {
		return Object{}, err
	}
	defer rc.Close()
	data := make([]byte, eo.Size())
	if _, err := io.ReadFull(rc, data); err != nil {
		return Object{}, errors.Wrapf(err, "gitobj: read object %s", oid)
	}
	return Object{Type: eo.Type(), Data: data}, nil
}
