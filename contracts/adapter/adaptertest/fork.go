// Package adaptertest seeds a fake live network with a deployed DEX adapter
// and the pool it routes to, the way the contracts would look on a production
// chain before an upgrade.
package adaptertest

import (
	"context"
	"fmt"

	"clonetest/contracts/adapter"
	"clonetest/contracts/pair"
	"clonetest/core/numeric"
	"clonetest/core/state"
	"clonetest/remote"
	"clonetest/remote/remotetest"
	"clonetest/snapshot"
	"clonetest/vm"
)

const (
	ChainID    = "juno-1"
	DeployedAt = 10
	ForkHeight = 50
	Latest     = 100

	Admin    = "juno1admin"
	Treasury = "juno1treasury"
	User     = "juno1alice"
	Pool     = "juno1xykpool"
	DEX      = "juno1dexadapter"

	CodeAdapterV1 uint64 = 1
	CodePair      uint64 = 2

	PoolJuno     = 1_000_000
	PoolAtom     = 2_000_000
	UserJuno     = 10_000
	UsageFeeRate = "0.01"
)

// UsageFee is the fee the deployed adapter charges.
func UsageFee() adapter.UsageFee {
	return adapter.UsageFee{Rate: numeric.MustParseDecimal(UsageFeeRate), Recipient: Treasury}
}

// NewChain returns a chain retaining heights [1, Latest] with the adapter
// deployment seeded at DeployedAt. After ForkHeight the pool drifts, so a
// fork that leaks post-fork state prices swaps differently.
func NewChain() (*remotetest.Chain, error) {
	chain := remotetest.NewChain(ChainID, 1, Latest)
	if err := Seed(chain, DeployedAt); err != nil {
		return nil, err
	}
	chain.SetBalance(ForkHeight+10, Pool, "ujuno", "1500000")
	chain.SetBalance(ForkHeight+10, Pool, "uatom", "1400000")
	return chain, nil
}

// Seed deploys the pool and a release 1 DEX adapter on chain at height. The
// contracts' storage is produced by running their instantiate entry points.
func Seed(chain *remotetest.Chain, height uint64) error {
	chain.StoreCode(height, CodeAdapterV1, adapter.CodeV1)
	chain.StoreCode(height, CodePair, pair.Code)

	registry := vm.NewRegistry()
	adapter.Register(registry)
	env := vm.NewEnv(snapshot.Manifest{ChainID: ChainID, Height: height}, registry)
	overlay := state.NewOverlay(nil)
	overlay.SetCode(CodeAdapterV1, adapter.CodeV1)
	overlay.SetCode(CodePair, pair.Code)

	ctx := context.Background()
	localPool, _, err := env.Instantiate(ctx, overlay, Admin, CodePair, []byte(`{"denoms":["ujuno","uatom"]}`), nil, "juno-atom", "")
	if err != nil {
		return fmt.Errorf("instantiate pool: %w", err)
	}
	// The adapter checks its provider exists, so it must point at the
	// local pool while instantiating.
	localDEX, _, err := env.Instantiate(ctx, overlay, Admin, CodeAdapterV1,
		adapter.InstantiateMessage(adapter.KindDEX, localPool, UsageFee()), nil, "dex-adapter", Admin)
	if err != nil {
		return fmt.Errorf("instantiate adapter: %w", err)
	}
	// Repoint the config to the live pool address.
	store := overlay.Storage(ctx, localDEX)
	if err := vm.SaveItem(store, "config", adapter.Config{Kind: adapter.KindDEX, Provider: Pool, Owner: Admin}); err != nil {
		return err
	}

	rename := map[string]string{localPool: Pool, localDEX: DEX}
	for _, w := range overlay.Writes() {
		if w.Key.Kind != snapshot.KindStorage || !w.Value.Found {
			continue
		}
		if live, ok := rename[w.Key.Address]; ok {
			chain.SetRaw(height, live, w.Key.Key, w.Value.Data)
		}
	}
	chain.SetContract(height, Pool, remote.ContractInfo{CodeID: CodePair, Creator: Admin, Label: "juno-atom"})
	chain.SetContract(height, DEX, remote.ContractInfo{CodeID: CodeAdapterV1, Creator: Admin, Admin: Admin, Label: "dex-adapter"})
	chain.SetBalance(height, Pool, "ujuno", fmt.Sprint(PoolJuno))
	chain.SetBalance(height, Pool, "uatom", fmt.Sprint(PoolAtom))
	chain.SetBalance(height, User, "ujuno", fmt.Sprint(UserJuno))
	return nil
}
