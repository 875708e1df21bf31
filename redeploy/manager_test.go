package redeploy_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"clonetest/contracts/adapter"
	"clonetest/contracts/adapter/adaptertest"
	coreerrors "clonetest/core/errors"
	"clonetest/core/state"
	"clonetest/redeploy"
	"clonetest/shim"
	"clonetest/snapshot"
	"clonetest/vm"
)

type fixture struct {
	shim    *shim.Shim
	manager *redeploy.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain, err := adaptertest.NewChain()
	require.NoError(t, err)
	store := snapshot.NewStore(chain)
	snap, err := store.Capture(context.Background(), adaptertest.ChainID, adaptertest.ForkHeight)
	require.NoError(t, err)

	registry := vm.NewRegistry()
	adapter.Register(registry)
	env := vm.NewEnv(snap.Manifest(), registry)
	return &fixture{
		shim:    shim.New(store, snap, nil),
		manager: redeploy.NewManager(env, snap.Manifest(), nil),
	}
}

func (f *fixture) adapterConfig(t *testing.T, overlay *state.Overlay) adapter.ConfigResponse {
	t.Helper()
	raw, err := f.manager.Env().QuerySmart(context.Background(), overlay, adaptertest.DEX, vm.Encode("config", nil))
	require.NoError(t, err)
	var cfg adapter.ConfigResponse
	require.NoError(t, json.Unmarshal(raw, &cfg))
	return cfg
}

func TestUploadContinuesAfterLastCodeID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	overlay := f.shim.NewOverlay()

	id, err := f.manager.Upload(ctx, overlay, adapter.CodeV2)
	require.NoError(t, err)
	require.Equal(t, adaptertest.CodePair+1, id)

	next, err := f.manager.Upload(ctx, overlay, []byte("unregistered"))
	require.NoError(t, err)
	require.Equal(t, id+1, next)

	code, found, err := overlay.Code(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, adapter.CodeV2, code)

	// A second scenario starts from the live chain's counter again.
	fresh, err := f.manager.Upload(ctx, f.shim.NewOverlay(), adapter.CodeV2)
	require.NoError(t, err)
	require.Equal(t, id, fresh)

	_, err = f.manager.Upload(ctx, overlay, nil)
	require.Error(t, err)
}

func TestRebindMigratesInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	overlay := f.shim.NewOverlay()

	before, err := overlay.Balance(ctx, adaptertest.Pool, "ujuno")
	require.NoError(t, err)

	id, err := f.manager.Upload(ctx, overlay, adapter.CodeV2)
	require.NoError(t, err)
	res, err := f.manager.Rebind(ctx, overlay, adaptertest.DEX, id, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, redeploy.Binding{Address: adaptertest.DEX, From: adaptertest.CodeAdapterV1, To: id, Migrated: true}, res.Binding)
	_, ok := res.Events.Find("migrate", "_contract_address", adaptertest.DEX)
	require.True(t, ok)

	info, found, err := overlay.ContractInfo(ctx, adaptertest.DEX)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, id, info.CodeID)
	require.Equal(t, adaptertest.Admin, info.Admin)

	cfg := f.adapterConfig(t, overlay)
	require.Equal(t, "2", cfg.Version)
	require.Equal(t, adaptertest.Pool, cfg.Provider)
	require.Equal(t, adaptertest.UsageFeeRate, cfg.UsageFee.Rate.String())

	after, err := overlay.Balance(ctx, adaptertest.Pool, "ujuno")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestFailedRebindIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	overlay := f.shim.NewOverlay()

	id, err := f.manager.Upload(ctx, overlay, adapter.CodeV2)
	require.NoError(t, err)
	// Touch the pool's storage so the failed migration has state to keep.
	_, _, err = overlay.Storage(ctx, adaptertest.Pool).Get([]byte("config"))
	require.NoError(t, err)
	rootBefore, err := overlay.Root()
	require.NoError(t, err)
	writesBefore := overlay.Len()

	// The pool has no adapter version record, so the adapter's migrate
	// refuses it.
	_, err = f.manager.Rebind(ctx, overlay, adaptertest.Pool, id, []byte(`{}`))
	require.Error(t, err)
	var merr *coreerrors.MigrationError
	require.True(t, errors.As(err, &merr), "got %v", err)
	require.Equal(t, adaptertest.CodePair, merr.From)
	require.Equal(t, id, merr.To)
	require.True(t, errors.Is(err, coreerrors.ErrMigration))
	require.True(t, errors.Is(err, coreerrors.ErrContractReverted))

	info, _, err := overlay.ContractInfo(ctx, adaptertest.Pool)
	require.NoError(t, err)
	require.Equal(t, adaptertest.CodePair, info.CodeID)

	rootAfter, err := overlay.Root()
	require.NoError(t, err)
	require.Equal(t, rootBefore, rootAfter)
	require.Equal(t, writesBefore, overlay.Len())
}

func TestRebindUnknownCodeIsMigrationError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	overlay := f.shim.NewOverlay()

	_, err := f.manager.Rebind(ctx, overlay, adaptertest.DEX, 99, nil)
	require.True(t, errors.Is(err, coreerrors.ErrMigration), "got %v", err)
	require.True(t, errors.Is(err, coreerrors.ErrUnknownCode), "got %v", err)

	_, err = f.manager.Rebind(ctx, overlay, "juno1nothing", adaptertest.CodePair, nil)
	require.True(t, errors.Is(err, coreerrors.ErrMigration), "got %v", err)
	require.True(t, errors.Is(err, coreerrors.ErrUnknownContract), "got %v", err)
}

func TestRebindWithoutMigrateKeepsStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	overlay := f.shim.NewOverlay()

	id, err := f.manager.Upload(ctx, overlay, adapter.CodeV2)
	require.NoError(t, err)
	res, err := f.manager.Rebind(ctx, overlay, adaptertest.DEX, id, nil)
	require.NoError(t, err)
	require.False(t, res.Binding.Migrated)

	// Release 2 reads the structured fee record, which release 1 never wrote.
	cfg := f.adapterConfig(t, overlay)
	require.Equal(t, "1", cfg.Version)
	require.True(t, cfg.UsageFee.Rate.IsZero())
}

func TestMigrateRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	overlay := f.shim.NewOverlay()

	id, err := f.manager.Upload(ctx, overlay, adapter.CodeV2)
	require.NoError(t, err)

	_, err = f.manager.Migrate(ctx, overlay, adaptertest.User, adaptertest.DEX, id, []byte(`{}`))
	require.True(t, errors.Is(err, coreerrors.ErrUnauthorized), "got %v", err)
	require.True(t, errors.Is(err, coreerrors.ErrMigration), "got %v", err)

	res, err := f.manager.Migrate(ctx, overlay, adaptertest.Admin, adaptertest.DEX, id, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, id, res.Binding.To)
	require.Equal(t, "2", f.adapterConfig(t, overlay).Version)
}
