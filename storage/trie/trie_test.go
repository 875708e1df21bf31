package trie

import (
	"testing"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"clonetest/storage"
)

func TestRootIndependentOfInsertionOrder(t *testing.T) {
	a := []storage.KV{
		{Key: []byte("storage/alpha"), Value: []byte("1")},
		{Key: []byte("balance/bob/ujuno"), Value: []byte("250")},
	}
	b := []storage.KV{a[1], a[0]}

	rootA, err := Root(a)
	require.NoError(t, err)
	rootB, err := Root(b)
	require.NoError(t, err)
	require.Equal(t, rootA, rootB)
	require.NotEqual(t, gethtypes.EmptyRootHash, rootA)
}

func TestRootChangesWithValue(t *testing.T) {
	base, err := Root([]storage.KV{{Key: []byte("k"), Value: []byte("v1")}})
	require.NoError(t, err)
	changed, err := Root([]storage.KV{{Key: []byte("k"), Value: []byte("v2")}})
	require.NoError(t, err)
	require.NotEqual(t, base, changed)

	empty, err := Root(nil)
	require.NoError(t, err)
	require.Equal(t, gethtypes.EmptyRootHash, empty)
}

func TestGetAfterUpdate(t *testing.T) {
	tr, err := New()
	require.NoError(t, err)
	require.NoError(t, tr.Update([]byte("key"), []byte("value")))
	got, err := tr.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}
