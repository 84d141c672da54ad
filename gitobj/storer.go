package gitobj

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gitserve/giterr"
	"gitserve/objectstore"
)

// adapter implements storer.EncodedObjectStorer and storer.ReferenceStorer
// on top of an objectstore.Store, in the shape of the hand-built
// storer.Storer examples in the pack (narayanr7-blobstash's gitserver.go):
// loose objects live under objects/<xx>/<38hex> as zlib-deflated
// "<type> <len>\0<content>" blobs; refs live 1:1 under refs/heads,
// refs/tags, and HEAD.
//
// Objects that arrive in an inbound packfile are fully materialized to
// loose objects by go-git's own packfile.Parser (which calls
// SetEncodedObject for every resolved entry, deltas included) — see
// pack.go's IndexPack. A re-encoded non-delta copy of the pushed objects is
// additionally persisted under objects/pack/ for on-disk layout conformance,
// but reads never parse it back since every object is also available loose.
type adapter struct {
	store objectstore.Store
}

func newAdapter(s objectstore.Store) *adapter {
	return &adapter{store: s}
}

func looseObjectPath(h plumbing.Hash) string {
	s := h.String()
	return fmt.Sprintf("objects/%s/%s", s[:2], s[2:])
}

// NewEncodedObject returns a fresh in-memory object to be filled in and
// passed to SetEncodedObject.
func (a *adapter) NewEncodedObject() plumbing.EncodedObject {
	return &plumbing.MemoryObject{}
}

// SetEncodedObject persists obj as a loose object, computing its hash from
// type+content (identity is the SHA-1 of the git object
// header plus content — plumbing.MemoryObject.Hash() already follows that
// rule so we trust it).
func (a *adapter) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	h := obj.Hash()
	rc, err := obj.Reader()
	if err != nil {
		return h, errors.Wrap(err, "gitobj: open object reader")
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return h, errors.Wrap(err, "gitobj: read object content")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\x00", obj.Type().String(), len(content))
	buf.Write(content)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return h, errors.Wrap(err, "gitobj: compress object")
	}
	if err := zw.Close(); err != nil {
		return h, errors.Wrap(err, "gitobj: finalize compressed object")
	}

	if err := a.store.Write(looseObjectPath(h), compressed.Bytes()); err != nil {
		return h, errors.Wrapf(err, "gitobj: write object %s", h)
	}
	return h, nil
}

func (a *adapter) readLoose(h plumbing.Hash) (string, []byte, error) {
	raw, err := a.store.Read(looseObjectPath(h))
	if err != nil {
		return "", nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", nil, errors.Wrapf(err, "gitobj: inflate object %s", h)
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "gitobj: read inflated object %s", h)
	}
	header, content, ok := bytes.Cut(decoded, []byte{0})
	if !ok {
		return "", nil, errors.Errorf("gitobj: malformed object header for %s", h)
	}
	typ, _, _ := strings.Cut(string(header), " ")
	return typ, content, nil
}

// EncodedObject looks up h. Unless typ is plumbing.AnyObject (in which case
// the stored type is trusted as-is), an object whose stored type differs
// from typ is reported as plumbing.ErrObjectNotFound.
func (a *adapter) EncodedObject(typ plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	storedType, content, err := a.readLoose(h)
	if errors.Is(err, giterr.ErrNotFound) {
		return nil, plumbing.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	ot := objectTypeFromString(storedType)
	if typ != plumbing.AnyObject && typ != ot {
		return nil, plumbing.ErrObjectNotFound
	}
	mo := &plumbing.MemoryObject{}
	mo.SetType(ot)
	mo.SetSize(int64(len(content)))
	w, _ := mo.Writer()
	_, _ = w.Write(content)
	return mo, nil
}

func objectTypeFromString(s string) plumbing.ObjectType {
	switch s {
	case "commit":
		return plumbing.CommitObject
	case "tree":
		return plumbing.TreeObject
	case "blob":
		return plumbing.BlobObject
	case "tag":
		return plumbing.TagObject
	default:
		return plumbing.InvalidObject
	}
}

func (a *adapter) HasEncodedObject(h plumbing.Hash) error {
	ok, err := a.store.Stat(looseObjectPath(h))
	if err != nil {
		return err
	}
	if !ok {
		return plumbing.ErrObjectNotFound
	}
	return nil
}

func (a *adapter) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	_, content, err := a.readLoose(h)
	if errors.Is(err, giterr.ErrNotFound) {
		return 0, plumbing.ErrObjectNotFound
	}
	if err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

// objectIter is a simple slice-backed storer.EncodedObjectIter.
type objectIter struct {
	objs []plumbing.EncodedObject
	pos  int
}

func (it *objectIter) Next() (plumbing.EncodedObject, error) {
	if it.pos >= len(it.objs) {
		return nil, io.EOF
	}
	o := it.objs[it.pos]
	it.pos++
	return o, nil
}

func (it *objectIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	for {
		o, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := cb(o); err != nil {
			return err
		}
	}
}

func (it *objectIter) Close() {}

func (a *adapter) IterEncodedObjects(typ plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	paths, err := a.store.List("objects")
	if err != nil {
		return nil, err
	}
	var objs []plumbing.EncodedObject
	for _, p := range paths {
		if strings.HasPrefix(p, "objects/pack/") {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(p, "objects/"), "/")
		if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 38 {
			continue
		}
		h := plumbing.NewHash(parts[0] + parts[1])
		obj, err := a.EncodedObject(typ, h)
		if err != nil {
			continue
		}
		objs = append(objs, obj)
	}
	return &objectIter{objs: objs}, nil
}

// --- refs ---

func refPath(name plumbing.ReferenceName) string {
	return string(name)
}

func (a *adapter) SetReference(ref *plumbing.Reference) error {
	return a.writeReference(ref)
}

func (a *adapter) CheckAndSetReference(newRef, old *plumbing.Reference) error {
	if old != nil {
		cur, err := a.Reference(old.Name())
		if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return err
		}
		if cur != nil && cur.Hash() != old.Hash() {
			return errors.New("gitobj: reference has changed concurrently")
		}
	}
	return a.writeReference(newRef)
}

func (a *adapter) writeReference(ref *plumbing.Reference) error {
	switch ref.Type() {
	case plumbing.HashReference:
		return a.store.Write(refPath(ref.Name()), []byte(ref.Hash().String()+"\n"))
	case plumbing.SymbolicReference:
		return a.store.Write(refPath(ref.Name()), []byte("ref: "+string(ref.Target())+"\n"))
	default:
		return errors.Errorf("gitobj: unsupported reference type for %s", ref.Name())
	}
}

func (a *adapter) Reference(name plumbing.ReferenceName) (*plumbing.Reference, error) {
	raw, err := a.store.Read(refPath(name))
	if errors.Is(err, giterr.ErrNotFound) {
		return nil, plumbing.ErrReferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	line := strings.TrimSuffix(string(raw), "\n")
	if target, ok := strings.CutPrefix(line, "ref: "); ok {
		return plumbing.NewSymbolicReference(name, plumbing.ReferenceName(target)), nil
	}
	return plumbing.NewHashReference(name, plumbing.NewHash(line)), nil
}

func (a *adapter) RemoveReference(name plumbing.ReferenceName) error {
	return a.store.Delete(refPath(name))
}

func (a *adapter) CountLooseRefs() (int, error) {
	var n int
	for _, prefix := range []string{"refs/heads", "refs/tags"} {
		paths, err := a.store.List(prefix)
		if err != nil {
			return 0, err
		}
		n += len(paths)
	}
	return n, nil
}

func (a *adapter) PackRefs() error { return nil }

func (a *adapter) IterReferences() (storer.ReferenceIter, error) {
	var refs []*plumbing.Reference
	for _, prefix := range []string{"refs/heads", "refs/tags"} {
		paths, err := a.store.List(prefix)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			ref, err := a.Reference(plumbing.ReferenceName(p))
			if err != nil {
				continue
			}
			refs = append(refs, ref)
		}
	}
	if head, err := a.Reference("HEAD"); err == nil {
		refs = append(refs, head)
	}
	return storer.NewReferenceSliceIter(refs), nil
}

// nonce produces a short random token for staging file names.
func nonce() string {
	return uuid.NewString()
}
