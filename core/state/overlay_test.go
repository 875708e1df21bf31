package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "clonetest/core/errors"
	"clonetest/core/numeric"
	"clonetest/snapshot"
)

type mapReader struct {
	values map[string]snapshot.Value
	reads  int
}

func newMapReader() *mapReader {
	return &mapReader{values: make(map[string]snapshot.Value)}
}

func (r *mapReader) put(key snapshot.EntryKey, value snapshot.Value) {
	r.values[string(key.Encode())] = value
}

func (r *mapReader) Read(_ context.Context, key snapshot.EntryKey) (snapshot.Value, error) {
	r.reads++
	v, ok := r.values[string(key.Encode())]
	if !ok {
		return snapshot.Absent(), nil
	}
	return v, nil
}

func TestOverlayReadsFallThroughAndWritesStayLocal(t *testing.T) {
	base := newMapReader()
	key := snapshot.StorageKey("juno1pool", []byte("k"))
	base.put(key, snapshot.Present([]byte("base")))
	ctx := context.Background()

	o := NewOverlay(base)
	v, err := o.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "base", string(v.Data))

	o.Set(key, []byte("local"))
	v, err = o.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "local", string(v.Data))
	require.Equal(t, "base", string(base.values[string(key.Encode())].Data))

	o.Delete(key)
	v, err = o.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, v.Found)
	require.Equal(t, 1, base.reads, "tombstones must not fall through")
}

func TestOverlayEmptyValueIsFound(t *testing.T) {
	o := NewOverlay(newMapReader())
	key := snapshot.StorageKey("juno1pool", []byte("empty"))
	o.Set(key, nil)
	v, err := o.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, v.Found)
	require.Empty(t, v.Data)
}

func TestOverlaysAreIsolated(t *testing.T) {
	base := newMapReader()
	key := snapshot.BalanceKey("juno1alice", "ujuno")
	base.put(key, snapshot.Present([]byte("100")))
	ctx := context.Background()

	first := NewOverlay(base)
	second := NewOverlay(base)
	require.NoError(t, first.SubBalance(ctx, "juno1alice", "ujuno", numeric.NewUint(40)))

	got, err := second.Balance(ctx, "juno1alice", "ujuno")
	require.NoError(t, err)
	require.Equal(t, "100", got.String())
	got, err = first.Balance(ctx, "juno1alice", "ujuno")
	require.NoError(t, err)
	require.Equal(t, "60", got.String())
}

func TestRevertToSnapshot(t *testing.T) {
	base := newMapReader()
	ctx := context.Background()
	o := NewOverlay(base)
	a := snapshot.StorageKey("c", []byte("a"))
	b := snapshot.StorageKey("c", []byte("b"))

	o.Set(a, []byte("1"))
	rootBefore, err := o.Root()
	require.NoError(t, err)

	outer := o.Snapshot()
	o.Set(a, []byte("2"))
	o.SetSequence("code", 7)
	inner := o.Snapshot()
	o.Set(b, []byte("x"))
	o.RevertToSnapshot(inner)

	v, err := o.Get(ctx, b)
	require.NoError(t, err)
	require.False(t, v.Found)
	v, err = o.Get(ctx, a)
	require.NoError(t, err)
	require.Equal(t, "2", string(v.Data))

	o.RevertToSnapshot(outer)
	v, err = o.Get(ctx, a)
	require.NoError(t, err)
	require.Equal(t, "1", string(v.Data))
	require.Zero(t, o.Sequence("code"))

	rootAfter, err := o.Root()
	require.NoError(t, err)
	require.Equal(t, rootBefore, rootAfter)

	require.Panics(t, func() { o.RevertToSnapshot(inner) })
}

func TestSubBalanceInsufficientFunds(t *testing.T) {
	o := NewOverlay(newMapReader())
	err := o.SubBalance(context.Background(), "juno1bob", "ujuno", numeric.NewUint(1))
	if !errors.Is(err, coreerrors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestContractInfoRoundTrip(t *testing.T) {
	o := NewOverlay(newMapReader())
	ctx := context.Background()
	_, found, err := o.ContractInfo(ctx, "juno1pool")
	require.NoError(t, err)
	require.False(t, found)

	info := ContractInfo{CodeID: 12, Creator: "juno1creator", Admin: "juno1admin", Label: "pool"}
	require.NoError(t, o.SetContractInfo("juno1pool", info))
	got, found, err := o.ContractInfo(ctx, "juno1pool")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, info, got)
}

func TestRootIndependentOfWriteOrder(t *testing.T) {
	a := NewOverlay(nil)
	b := NewOverlay(nil)
	k1 := snapshot.StorageKey("c", []byte("1"))
	k2 := snapshot.BalanceKey("juno1alice", "ujuno")

	a.Set(k1, []byte("x"))
	a.Set(k2, []byte("5"))
	b.Set(k2, []byte("5"))
	b.Set(k1, []byte("x"))

	ra, err := a.Root()
	require.NoError(t, err)
	rb, err := b.Root()
	require.NoError(t, err)
	require.Equal(t, ra, rb)
	require.Len(t, a.Writes(), 2)
}
