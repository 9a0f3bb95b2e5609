// Package storagetest holds the conformance checks every storage.Backend must pass.
package storagetest

import (
	"errors"
	"testing"

	"github.com/govm-net/mvm/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty backend for one subtest
type Factory func(t *testing.T) storage.Backend

// Run executes the conformance suite
func Run(t *testing.T, open Factory) {
	t.Run("Empty", func(t *testing.T) { testEmpty(t, open(t)) })
	t.Run("VersionedReads", func(t *testing.T) { testVersionedReads(t, open(t)) })
	t.Run("Iterate", func(t *testing.T) { testIterate(t, open(t)) })
	t.Run("VersionConflict", func(t *testing.T) { testVersionConflict(t, open(t)) })
	t.Run("DuplicateKeys", func(t *testing.T) { testDuplicateKeys(t, open(t)) })
}

func testEmpty(t *testing.T, b storage.Backend) {
	v, err := b.LatestVersion()
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = b.Get([]byte("missing"), 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testVersionedReads(t *testing.T, b storage.Backend) {
	key := []byte("r/alice/coin")

	require.NoError(t, b.Apply(1, []storage.Op{{Key: key, Value: []byte("1")}}))
	require.NoError(t, b.Apply(2, []storage.Op{{Key: key, Value: []byte("2")}}))
	require.NoError(t, b.Apply(3, []storage.Op{{Key: key, Delete: true}}))

	latest, err := b.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest)

	_, err = b.Get(key, 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	v, err := b.Get(key, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	v, err = b.Get(key, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	_, err = b.Get(key, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// repeated reads at the same version are stable
	for i := 0; i < 3; i++ {
		v, err = b.Get(key, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)
	}
}

func testIterate(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Apply(1, []storage.Op{
		{Key: []byte("m/b"), Value: []byte("b1")},
		{Key: []byte("m/a"), Value: []byte("a1")},
		{Key: []byte("r/x"), Value: []byte("x1")},
	}))
	require.NoError(t, b.Apply(2, []storage.Op{
		{Key: []byte("m/a"), Delete: true},
		{Key: []byte("m/c"), Value: []byte("c2")},
	}))

	collect := func(version uint64) map[string]string {
		out := map[string]string{}
		var order []string
		err := b.Iterate([]byte("m/"), version, func(k, v []byte) error {
			out[string(k)] = string(v)
			order = append(order, string(k))
			return nil
		})
		require.NoError(t, err)
		for i := 1; i < len(order); i++ {
			assert.Less(t, order[i-1], order[i])
		}
		return out
	}

	assert.Equal(t, map[string]string{"m/a": "a1", "m/b": "b1"}, collect(1))
	assert.Equal(t, map[string]string{"m/b": "b1", "m/c": "c2"}, collect(2))

	stop := errors.New("stop")
	calls := 0
	err := b.Iterate([]byte("m/"), 2, func(k, v []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func testVersionConflict(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Apply(5, []storage.Op{{Key: []byte("k"), Value: []byte("v")}}))
	assert.ErrorIs(t, b.Apply(5, []storage.Op{{Key: []byte("k"), Value: []byte("w")}}), storage.ErrVersionConflict)
	assert.ErrorIs(t, b.Apply(4, nil), storage.ErrVersionConflict)

	v, err := b.Get([]byte("k"), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func testDuplicateKeys(t *testing.T, b storage.Backend) {
	require.NoError(t, b.Apply(1, []storage.Op{
		{Key: []byte("k"), Value: []byte("first")},
		{Key: []byte("k"), Value: []byte("second")},
	}))
	v, err := b.Get([]byte("k"), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), v)
}
