package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/govm-net/mvm/storage"
	"github.com/govm-net/mvm/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) storage.Backend {
	// 创建临时数据库
	s, err := New(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, openTemp)
}

func TestInMemory(t *testing.T) {
	b, err := storage.Open(storage.SQLiteBackendType, map[string]any{"path": ":memory:"})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Apply(1, []storage.Op{{Key: []byte("a"), Value: []byte("1")}}))
	v, err := b.Get([]byte("a"), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := New(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(3, []storage.Op{{Key: []byte("k"), Value: []byte("v")}}))
	require.NoError(t, s.Close())

	s, err = New(path, nil)
	require.NoError(t, err)
	defer s.Close()

	latest, err := s.LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest)

	_, err = s.Get([]byte("k"), 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEmptyValue(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Apply(1, []storage.Op{{Key: []byte("marker")}}))

	v, err := s.Get([]byte("marker"), 1)
	require.NoError(t, err)
	assert.Empty(t, v)
}
