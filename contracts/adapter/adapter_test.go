package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"clonetest/contracts/adapter"
	"clonetest/contracts/market"
	"clonetest/contracts/pair"
	"clonetest/contracts/stakepool"
	coreerrors "clonetest/core/errors"
	"clonetest/core/numeric"
	"clonetest/core/state"
	"clonetest/core/types"
	"clonetest/snapshot"
	"clonetest/vm"
)

const (
	alice    = "juno1alice"
	admin    = "juno1admin"
	treasury = "juno1treasury"

	codeAdapterV1 = 1
	codeAdapterV2 = 2
	codePair      = 3
	codeStakePool = 4
	codeMarket    = 5
)

type harness struct {
	env     *vm.Env
	overlay *state.Overlay
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := vm.NewRegistry()
	adapter.Register(registry)
	overlay := state.NewOverlay(nil)
	overlay.SetCode(codeAdapterV1, adapter.CodeV1)
	overlay.SetCode(codeAdapterV2, adapter.CodeV2)
	overlay.SetCode(codePair, pair.Code)
	overlay.SetCode(codeStakePool, stakepool.Code)
	overlay.SetCode(codeMarket, market.Code)
	overlay.SetBalance(alice, "ujuno", numeric.NewUint(10_000))
	return &harness{
		env:     vm.NewEnv(snapshot.Manifest{ChainID: "juno-1", Height: 100}, registry),
		overlay: overlay,
	}
}

func (h *harness) instantiate(t *testing.T, codeID uint64, msg []byte, label string) string {
	t.Helper()
	addr, _, err := h.env.Instantiate(context.Background(), h.overlay, admin, codeID, msg, nil, label, admin)
	require.NoError(t, err)
	return addr
}

func (h *harness) balance(t *testing.T, address, denom string) string {
	t.Helper()
	amount, err := h.overlay.Balance(context.Background(), address, denom)
	require.NoError(t, err)
	return amount.String()
}

func (h *harness) config(t *testing.T, addr string) adapter.ConfigResponse {
	t.Helper()
	raw, err := h.env.QuerySmart(context.Background(), h.overlay, addr, vm.Encode("config", nil))
	require.NoError(t, err)
	var cfg adapter.ConfigResponse
	require.NoError(t, json.Unmarshal(raw, &cfg))
	return cfg
}

func (h *harness) dexAdapter(t *testing.T, codeID uint64) (string, string) {
	t.Helper()
	pool := h.instantiate(t, codePair, []byte(`{"denoms":["ujuno","uatom"]}`), "juno-atom")
	h.overlay.SetBalance(pool, "ujuno", numeric.NewUint(1_000_000))
	h.overlay.SetBalance(pool, "uatom", numeric.NewUint(2_000_000))
	fee := adapter.UsageFee{Rate: numeric.MustParseDecimal("0.01"), Recipient: treasury}
	return h.instantiate(t, codeID, adapter.InstantiateMessage(adapter.KindDEX, pool, fee), "dex-adapter"), pool
}

func TestDEXSwapChargesUsageFee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addr, _ := h.dexAdapter(t, codeAdapterV1)

	want, err := pair.Simulate(numeric.NewUint(1_000_000), numeric.NewUint(2_000_000), numeric.NewUint(990), pair.DefaultCommission)
	require.NoError(t, err)

	res, err := h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionSwap, nil), types.Coins{types.NewCoin("ujuno", 1000)})
	require.NoError(t, err)

	require.Equal(t, want.ReturnAmount.String(), h.balance(t, alice, "uatom"))
	require.Equal(t, "9000", h.balance(t, alice, "ujuno"))
	require.Equal(t, "10", h.balance(t, treasury, "ujuno"))
	require.Equal(t, "0", h.balance(t, addr, "ujuno"))

	ev, ok := res.Events.Find("wasm", "adapter_action", "swap")
	require.True(t, ok)
	fee, _ := ev.Get("usage_fee")
	require.Equal(t, "10", fee)
}

func TestDEXRejectsUnsupportedAction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addr, _ := h.dexAdapter(t, codeAdapterV1)

	_, err := h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionStake, nil), types.Coins{types.NewCoin("ujuno", 10)})
	require.True(t, errors.Is(err, coreerrors.ErrContractReverted), "got %v", err)
	require.Equal(t, "10000", h.balance(t, alice, "ujuno"))
}

func TestMigrateRewritesLegacyFeeLayout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addr, _ := h.dexAdapter(t, codeAdapterV1)
	require.Equal(t, "1", h.config(t, addr).Version)

	_, err := h.env.Migrate(ctx, h.overlay, admin, addr, codeAdapterV2, []byte(`{}`))
	require.NoError(t, err)

	cfg := h.config(t, addr)
	require.Equal(t, "2", cfg.Version)
	require.Equal(t, "0.01", cfg.UsageFee.Rate.String())
	require.Equal(t, treasury, cfg.UsageFee.Recipient)

	_, found, err := h.overlay.Storage(ctx, addr).Get([]byte("swap_fee"))
	require.NoError(t, err)
	require.False(t, found)

	_, err = h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionSwap, nil), types.Coins{types.NewCoin("ujuno", 1000)})
	require.NoError(t, err)
	require.Equal(t, "10", h.balance(t, treasury, "ujuno"))
}

func TestMigrateOverridesFee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addr, _ := h.dexAdapter(t, codeAdapterV1)

	_, err := h.env.Migrate(ctx, h.overlay, admin, addr, codeAdapterV2, []byte(`{"usage_fee":{"swap_fee":"0","recipient":""}}`))
	require.NoError(t, err)
	require.True(t, h.config(t, addr).UsageFee.Rate.IsZero())

	_, err = h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionSwap, nil), types.Coins{types.NewCoin("ujuno", 1000)})
	require.NoError(t, err)
	require.Equal(t, "0", h.balance(t, treasury, "ujuno"))
}

func TestUpdateFeeIsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	addr, _ := h.dexAdapter(t, codeAdapterV2)

	msg := vm.Encode("update_fee", adapter.UsageFee{Rate: numeric.MustParseDecimal("0.02"), Recipient: treasury})
	_, err := h.env.Execute(ctx, h.overlay, alice, addr, msg, nil)
	require.True(t, errors.Is(err, coreerrors.ErrUnauthorized), "got %v", err)

	_, err = h.env.Execute(ctx, h.overlay, admin, addr, msg, nil)
	require.NoError(t, err)
	require.Equal(t, "0.02", h.config(t, addr).UsageFee.Rate.String())
}

func TestStakingAdapterTracksPositions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pool := h.instantiate(t, codeStakePool, []byte(`{"denom":"ujuno"}`), "pool")
	addr := h.instantiate(t, codeAdapterV2, adapter.InstantiateMessage(adapter.KindStaking, pool, adapter.UsageFee{}), "staking-adapter")

	_, err := h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionStake, nil), types.Coins{types.NewCoin("ujuno", 100)})
	require.NoError(t, err)
	require.Equal(t, "100", position(t, h, addr, alice))
	require.Equal(t, "100", h.balance(t, pool, "ujuno"))

	_, err = h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionUnstake, map[string]string{"shares": "40"}), nil)
	require.NoError(t, err)
	require.Equal(t, "60", position(t, h, addr, alice))
	require.Equal(t, "9940", h.balance(t, alice, "ujuno"))

	_, err = h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionUnstake, map[string]string{"shares": "100"}), nil)
	require.True(t, errors.Is(err, coreerrors.ErrContractReverted), "got %v", err)
	require.Equal(t, "60", position(t, h, addr, alice))
}

func TestMoneyMarketAdapter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mkt := h.instantiate(t, codeMarket, []byte(`{"denom":"ujuno","exchange_rate":"2"}`), "market")
	fee := adapter.UsageFee{Rate: numeric.MustParseDecimal("0.1"), Recipient: treasury}
	addr := h.instantiate(t, codeAdapterV2, adapter.InstantiateMessage(adapter.KindMoneyMarket, mkt, fee), "mm-adapter")

	_, err := h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionDeposit, nil), types.Coins{types.NewCoin("ujuno", 1000)})
	require.NoError(t, err)
	require.Equal(t, "100", h.balance(t, treasury, "ujuno"))
	require.Equal(t, "450", position(t, h, addr, alice))

	_, err = h.env.Execute(ctx, h.overlay, alice, addr, adapter.ActionMessage(adapter.ActionWithdraw, map[string]string{"amount": "450"}), nil)
	require.NoError(t, err)
	require.Equal(t, "0", position(t, h, addr, alice))
	require.Equal(t, "9900", h.balance(t, alice, "ujuno"))
}

func TestInstantiateRequiresKnownProvider(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.env.Instantiate(context.Background(), h.overlay, admin, codeAdapterV1,
		adapter.InstantiateMessage(adapter.KindDEX, "juno1missing", adapter.UsageFee{}), nil, "dex", admin)
	require.True(t, errors.Is(err, coreerrors.ErrUnknownContract), "got %v", err)
}

func TestCapabilityFor(t *testing.T) {
	for _, kind := range []adapter.Kind{adapter.KindDEX, adapter.KindStaking, adapter.KindMoneyMarket} {
		c, err := adapter.CapabilityFor(kind)
		require.NoError(t, err)
		require.Equal(t, kind, c.Kind())
	}
	_, err := adapter.CapabilityFor("perps")
	require.Error(t, err)
}

func position(t *testing.T, h *harness, addr, user string) string {
	t.Helper()
	raw, err := h.env.QuerySmart(context.Background(), h.overlay, addr, vm.Encode("position", map[string]string{"address": user}))
	require.NoError(t, err)
	var pos adapter.PositionResponse
	require.NoError(t, json.Unmarshal(raw, &pos))
	return pos.Amount.String()
}
