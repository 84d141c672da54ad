// Package objectstore adapts the bare-repo path layout onto a
// filesystem-like byte store. Store is the external
// interface the rest of gitserve depends on; FS is the bundled default,
// local-disk implementation.
package objectstore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"gitserve/giterr"
)

// Store is a filesystem-like byte-addressed store with atomic rename and
// directory listing, rooted at some repository's bare-repo directory.
type Store interface {
	Stat(path string) (bool, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Rename(src, dst string) error
	List(prefix string) ([]string, error)
	Delete(path string) error
}

// FS is the bundled local-filesystem Store, rooted at root.
type FS struct {
	root string
}

// NewFS returns a Store rooted at root, creating the directory if absent.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "objectstore: create root %s", root)
	}
	return &FS{root: root}, nil
}

func (f *FS) abs(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func (f *FS) Stat(path string) (bool, error) {
	_, err := os.Stat(f.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "objectstore: stat %s", path)
}

func (f *FS) Read(path string) ([]byte, error) {
	b, err := os.ReadFile(f.abs(path))
	if os.IsNotExist(err) {
		return nil, giterr.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "objectstore: read %s", path)
	}
	return b, nil
}

// Write creates or atomically replaces path: the data is first written to a
// sibling temp file, then renamed over the destination, so concurrent
// readers never observe a partial write.
func (f *FS) Write(path string, data []byte) error {
	abs := f.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errors.Wrapf(err, "objectstore: mkdir for %s", path)
	}
	tmp := abs + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "objectstore: write temp for %s", path)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "objectstore: publish %s", path)
	}
	return nil
}

// Rename atomically moves src to dst, used to publish a staged packfile
// only once its .idx sibling has also been written.
func (f *FS) Rename(src, dst string) error {
	absDst := f.abs(dst)
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return errors.Wrapf(err, "objectstore: mkdir for %s", dst)
	}
	if err := os.Rename(f.abs(src), absDst); err != nil {
		return errors.Wrapf(err, "objectstore: rename %s -> %s", src, dst)
	}
	return nil
}

// List returns every path under prefix, sorted, relative to the store root.
func (f *FS) List(prefix string) ([]string, error) {
	root := f.abs(prefix)
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(f.root, path)
		if rerr != nil {
			return rerr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "objectstore: list %s", prefix)
	}
	sort.Strings(out)
	return out, nil
}

func (f *FS) Delete(path string) error {
	if err := os.Remove(f.abs(path)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "objectstore: delete %s", path)
	}
	return nil
}

// RepoRoot returns the on-disk path for a given owner/repo pair, stripping
// a trailing ".git" suffix the way Smart HTTP clients send it.
func RepoRoot(baseDir, owner, repo string) string {
	repo = strings.TrimSuffix(repo, ".git")
	return filepath.Join(baseDir, owner, repo)
}
