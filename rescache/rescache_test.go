package rescache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetOrComputeCachesOnHit(t *testing.T) {
	c := New(16, time.Hour)
	calls := 0
	fn := func() ([]byte, error) {
		calls++
		return []byte("value"), nil
	}

	key := Key("alice/demo", "tree", "deadbeef", "")
	v1, err := c.GetOrCompute(key, fn)
	require.NoError(t, err)
	require.Equal(t, "value", string(v1))

	v2, err := c.GetOrCompute(key, fn)
	require.NoError(t, err)
	require.Equal(t, "value", string(v2))
	require.Equal(t, 1, calls)
}

func TestKeyChangesWithCommitOID(t *testing.T) {
	k1 := Key("alice/demo", "tree", "aaaa", "path/a")
	k2 := Key("alice/demo", "tree", "bbbb", "path/a")
	require.NotEqual(t, k1, k2)
}

func TestFailedComputeNotCached(t *testing.T) {
	c := New(16, time.Hour)
	_, err := c.GetOrCompute("k", func() ([]byte, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := New(16, time.Millisecond)
	c.Set("k", []byte("v"))
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("k")
	require.False(t, ok)
}
