// Package repoactor implements RepoActor: one actor per
// owner/repo owning that repository's (ObjectStore, GitObjects) pair, with
// at most one in-flight mutation at a time and reads that observe either
// the pre- or post-mutation state, never a mix.
package repoactor

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"gitserve/gitobj"
	"gitserve/objectstore"
)

// StoreOpener builds an ObjectStore for a given owner/repo; the default
// bundled implementation roots an objectstore.FS under a configured repos
// directory.
type StoreOpener func(owner, repo string) (objectstore.Store, error)

// Registry is the process-wide set of actors, one per owner/repo, created
// lazily on first access rather than enumerated at process startup, since
// the set of repos isn't known up front.
type Registry struct {
	open  StoreOpener
	repos sync.Map // string("owner/repo") -> *Actor
}

func NewRegistry(open StoreOpener) *Registry {
	return &Registry{open: open}
}

// Get returns the Actor for owner/repo, creating and initializing it if
// this is the first access. Grounded on google-goblet's lock-before-
// LoadOrStore pattern: a fresh Actor is locked before being offered to the
// registry, so a concurrent Get for the same key returns the *same* actor
// instead of racing to create two; that Get returns at once, and the
// actor's Read and Mutate block on its lock until initialization finishes.
func (reg *Registry) Get(owner, repo string) (*Actor, error) {
	key := owner + "/" + repo
	candidate := &Actor{owner: owner, repo: repo}
	candidate.mu.Lock()
	actual, loaded := reg.repos.LoadOrStore(key, candidate)
	a := actual.(*Actor)
	if loaded {
		return a, nil
	}
	defer a.mu.Unlock()

	store, err := reg.open(owner, repo)
	if err != nil {
		reg.repos.Delete(key)
		return nil, err
	}
	a.store = store
	a.repository = gitobj.Open(store)
	if err := a.repository.Init(); err != nil {
		reg.repos.Delete(key)
		return nil, err
	}
	a.initialized = true
	return a, nil
}

// Actor serializes mutations against one repository while letting reads run
// concurrently with each other.
type Actor struct {
	owner, repo string

	mu          sync.RWMutex
	initialized bool
	store       objectstore.Store
	repository  *gitobj.Repository

	group singleflight.Group
}

// Mutate runs fn with the write lock held: at most one mutation in flight
// per repository, all others wait on the sync.RWMutex, which does not
// guarantee that waiters acquire it in arrival order.
func (a *Actor) Mutate(fn func(*gitobj.Repository) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.repository)
}

// Read runs fn with the read lock held, so it can run concurrently with
// other reads but never interleaved with a Mutate call.
func (a *Actor) Read(fn func(*gitobj.Repository) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fn(a.repository)
}

// Coalesced runs fn at most once per distinct key among concurrently
// in-flight calls, sharing the result with every caller that arrived while
// it was running (grounded on smart-git-proxy's golang.org/x/sync/
// singleflight use for collapsing duplicate concurrent fetches). The
// result is NOT cached past the in-flight window; callers that want a
// longer-lived cache should consult rescache first.
func (a *Actor) Coalesced(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := a.group.Do(key, fn)
	return v, err
}
