package pair_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"clonetest/contracts/pair"
	coreerrors "clonetest/core/errors"
	"clonetest/core/numeric"
	"clonetest/core/state"
	"clonetest/core/types"
	"clonetest/snapshot"
	"clonetest/vm"
)

const trader = "juno1trader"

func TestSimulate(t *testing.T) {
	out, err := pair.Simulate(numeric.NewUint(1_000_000), numeric.NewUint(2_000_000), numeric.NewUint(1000), pair.DefaultCommission)
	require.NoError(t, err)
	require.Equal(t, "1993", out.ReturnAmount.String())
	require.Equal(t, "2", out.SpreadAmount.String())
	require.Equal(t, "5", out.CommissionAmount.String())

	_, err = pair.Simulate(numeric.NewUint(1), numeric.NewUint(1), numeric.ZeroUint(), pair.DefaultCommission)
	require.Error(t, err)
	_, err = pair.Simulate(numeric.ZeroUint(), numeric.NewUint(1), numeric.NewUint(1), pair.DefaultCommission)
	require.Error(t, err)
}

func TestSimulateNeverShrinksConstantProduct(t *testing.T) {
	cases := []struct{ offerPool, askPool, offer uint64 }{
		{1000, 1000, 3},
		{1000, 1000, 7},
		{1_000_000, 2_000_000, 1000},
		{999_983, 7, 13},
		{5, 1_000_000_007, 2},
	}
	for _, tc := range cases {
		out, err := pair.Simulate(numeric.NewUint(tc.offerPool), numeric.NewUint(tc.askPool), numeric.NewUint(tc.offer), numeric.ZeroDecimal())
		require.NoError(t, err)
		ret, _ := out.ReturnAmount.Uint64()
		before := tc.offerPool * tc.askPool
		after := (tc.offerPool + tc.offer) * (tc.askPool - ret)
		if after < before {
			t.Fatalf("pool %d/%d offer %d: k dropped from %d to %d (return %d)", tc.offerPool, tc.askPool, tc.offer, before, after, ret)
		}
	}

	out, err := pair.Simulate(numeric.NewUint(1000), numeric.NewUint(1000), numeric.NewUint(3), numeric.ZeroDecimal())
	require.NoError(t, err)
	require.Equal(t, "2", out.ReturnAmount.String())
	require.Equal(t, "1", out.SpreadAmount.String())
}

func deployPool(t *testing.T) (*vm.Env, *state.Overlay, string) {
	t.Helper()
	ctx := context.Background()
	registry := vm.NewRegistry()
	registry.Register(pair.Code, pair.Program{})
	env := vm.NewEnv(snapshot.Manifest{ChainID: "juno-1", Height: 100}, registry)
	overlay := state.NewOverlay(nil)
	overlay.SetCode(1, pair.Code)

	init, err := json.Marshal(pair.InstantiateMsg{Denoms: [2]string{"ujuno", "uatom"}})
	require.NoError(t, err)
	addr, _, err := env.Instantiate(ctx, overlay, trader, 1, init, nil, "juno-atom", "")
	require.NoError(t, err)
	overlay.SetBalance(addr, "ujuno", numeric.NewUint(1_000_000))
	overlay.SetBalance(addr, "uatom", numeric.NewUint(2_000_000))
	overlay.SetBalance(trader, "ujuno", numeric.NewUint(5000))
	return env, overlay, addr
}

func TestSwapPaysSimulatedReturn(t *testing.T) {
	ctx := context.Background()
	env, overlay, pool := deployPool(t)

	raw, err := env.QuerySmart(ctx, overlay, pool, vm.Encode("simulation", pair.SimulationMsg{OfferAsset: types.NewCoin("ujuno", 1000)}))
	require.NoError(t, err)
	var sim pair.SimulationResponse
	require.NoError(t, json.Unmarshal(raw, &sim))

	offer := types.NewCoin("ujuno", 1000)
	res, err := env.Execute(ctx, overlay, trader, pool, pair.SwapMessage(offer, ""), types.Coins{offer})
	require.NoError(t, err)

	got, err := overlay.Balance(ctx, trader, "uatom")
	require.NoError(t, err)
	require.Equal(t, sim.ReturnAmount.String(), got.String())
	require.Equal(t, "1993", got.String())

	left, err := overlay.Balance(ctx, trader, "ujuno")
	require.NoError(t, err)
	require.Equal(t, "4000", left.String())

	ev, ok := res.Events.Find("wasm", "action", "swap")
	require.True(t, ok)
	ret, _ := ev.Get("return_amount")
	require.Equal(t, "1993", ret)
}

func TestSwapRejectsMismatchedFunds(t *testing.T) {
	ctx := context.Background()
	env, overlay, pool := deployPool(t)

	_, err := env.Execute(ctx, overlay, trader, pool, pair.SwapMessage(types.NewCoin("ujuno", 1000), ""), types.Coins{types.NewCoin("ujuno", 10)})
	require.True(t, errors.Is(err, coreerrors.ErrContractReverted), "got %v", err)

	bal, err := overlay.Balance(ctx, trader, "ujuno")
	require.NoError(t, err)
	require.Equal(t, "5000", bal.String())
}

func TestPoolQuery(t *testing.T) {
	env, overlay, pool := deployPool(t)
	raw, err := env.QuerySmart(context.Background(), overlay, pool, vm.Encode("pool", nil))
	require.NoError(t, err)
	var resp pair.PoolResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, "1000000ujuno,2000000uatom", resp.Assets.String())
	require.Equal(t, "0.003", resp.CommissionRate.String())
}
