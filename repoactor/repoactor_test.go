package repoactor

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"gitserve/gitobj"
	"gitserve/objectstore"
)

func testOpener(t *testing.T) StoreOpener {
	return func(owner, repo string) (objectstore.Store, error) {
		return objectstore.NewFS(t.TempDir())
	}
}

func TestGetIsIdempotentPerKey(t *testing.T) {
	reg := NewRegistry(testOpener(t))
	a1, err := reg.Get("alice", "demo")
	require.NoError(t, err)
	a2, err := reg.Get("alice", "demo")
	require.NoError(t, err)
	require.Same(t, a1, a2)

	b, err := reg.Get("bob", "demo")
	require.NoError(t, err)
	require.NotSame(t, a1, b)
}

func TestConcurrentGetCreatesOneActor(t *testing.T) {
	reg := NewRegistry(testOpener(t))
	var wg sync.WaitGroup
	actors := make([]*Actor, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := reg.Get("alice", "demo")
			require.NoError(t, err)
			actors[i] = a
		}(i)
	}
	wg.Wait()
	for _, a := range actors {
		require.Same(t, actors[0], a)
	}
}

func TestConcurrentMutatesAllComplete(t *testing.T) {
	reg := NewRegistry(testOpener(t))
	a, err := reg.Get("alice", "demo")
	require.NoError(t, err)

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Mutate(func(_ *gitobj.Repository) error {
				atomic.AddInt64(&counter, 1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int64(8), counter)
}
