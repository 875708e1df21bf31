package vm_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "clonetest/core/errors"
	"clonetest/core/types"
	"clonetest/remote"
	"clonetest/remote/remotetest"
	"clonetest/shim"
	"clonetest/snapshot"
	"clonetest/vm"
)

var (
	counterCode   = []byte("counter-v1")
	counterV2Code = []byte("counter-v2")
	orphanCode    = []byte("never-registered")
	mirrorCode    = []byte("mirror-v1")
)

const (
	alice   = "juno1alice"
	admin   = "juno1admin"
	counter = "juno1counter"
	orphan  = "juno1orphan"
	mirror  = "juno1mirror"
)

type counterProgram struct{}

func (counterProgram) Instantiate(_ context.Context, deps vm.Deps, _ vm.BlockEnv, _ vm.MessageInfo, msg []byte) (*vm.Response, error) {
	var init struct {
		Count uint64 `json:"count"`
	}
	if err := json.Unmarshal(msg, &init); err != nil {
		return nil, err
	}
	if err := vm.SaveItem(deps.Storage, "count", init.Count); err != nil {
		return nil, err
	}
	return vm.NewResponse().AddAttribute("action", "instantiate"), nil
}

func (counterProgram) Execute(ctx context.Context, deps vm.Deps, env vm.BlockEnv, info vm.MessageInfo, msg []byte) (*vm.Response, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	var count uint64
	if _, err := vm.LoadItem(deps.Storage, "count", &count); err != nil {
		return nil, err
	}
	switch name {
	case "increment":
		count++
		if err := vm.SaveItem(deps.Storage, "count", count); err != nil {
			return nil, err
		}
		resp := vm.NewResponse().
			AddAttribute("action", "increment").
			AddAttribute("count", strconv.FormatUint(count, 10)).
			AddEvent(types.NewEvent("counted", "value", strconv.FormatUint(count, 10)))
		return resp, nil
	case "fail":
		if err := vm.SaveItem(deps.Storage, "count", uint64(999)); err != nil {
			return nil, err
		}
		return nil, errors.New("boom")
	case "pay":
		var p struct {
			To     string `json:"to"`
			Amount uint64 `json:"amount"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return vm.NewResponse().AddMessage(vm.BankSend{To: p.To, Amount: types.Coins{types.NewCoin("ujuno", p.Amount)}}), nil
	case "call":
		var c struct {
			Contract string          `json:"contract"`
			Msg      json.RawMessage `json:"msg"`
		}
		if err := json.Unmarshal(body, &c); err != nil {
			return nil, err
		}
		count++
		if err := vm.SaveItem(deps.Storage, "count", count); err != nil {
			return nil, err
		}
		return vm.NewResponse().AddMessage(vm.WasmExecute{Contract: c.Contract, Msg: c.Msg}), nil
	default:
		return nil, errors.New("unknown variant " + name)
	}
}

func (counterProgram) Query(_ context.Context, deps vm.Deps, _ vm.BlockEnv, msg []byte) ([]byte, error) {
	var count uint64
	if _, err := vm.LoadItem(deps.Storage, "count", &count); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]uint64{"count": count})
}

type counterV2Program struct{ counterProgram }

func (counterV2Program) Query(_ context.Context, deps vm.Deps, _ vm.BlockEnv, msg []byte) ([]byte, error) {
	var stored struct {
		Value uint64 `json:"value"`
	}
	if _, err := vm.LoadItem(deps.Storage, "counter", &stored); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]uint64{"count": stored.Value})
}

func (counterV2Program) Migrate(_ context.Context, deps vm.Deps, _ vm.BlockEnv, msg []byte) (*vm.Response, error) {
	var m struct {
		Fail bool `json:"fail"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, err
	}
	var count uint64
	if _, err := vm.LoadItem(deps.Storage, "count", &count); err != nil {
		return nil, err
	}
	if err := vm.SaveItem(deps.Storage, "counter", map[string]uint64{"value": count}); err != nil {
		return nil, err
	}
	deps.Storage.Remove([]byte("count"))
	if m.Fail {
		return nil, errors.New("layout rewrite rejected")
	}
	return vm.NewResponse().AddAttribute("action", "migrate"), nil
}

// mirrorProgram answers every query by querying itself.
type mirrorProgram struct{}

func (mirrorProgram) Instantiate(context.Context, vm.Deps, vm.BlockEnv, vm.MessageInfo, []byte) (*vm.Response, error) {
	return vm.NewResponse(), nil
}

func (mirrorProgram) Execute(ctx context.Context, deps vm.Deps, env vm.BlockEnv, _ vm.MessageInfo, msg []byte) (*vm.Response, error) {
	if _, err := deps.Querier.QuerySmart(ctx, env.Contract, msg); err != nil {
		return nil, err
	}
	return vm.NewResponse(), nil
}

func (mirrorProgram) Query(ctx context.Context, deps vm.Deps, env vm.BlockEnv, msg []byte) ([]byte, error) {
	return deps.Querier.QuerySmart(ctx, env.Contract, msg)
}

type fixture struct {
	chain *remotetest.Chain
	shim  *shim.Shim
	env   *vm.Env
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain := remotetest.NewChain("juno-1", 1, 100)
	chain.StoreCode(1, 1, counterCode)
	chain.StoreCode(1, 2, counterV2Code)
	chain.StoreCode(1, 3, orphanCode)
	chain.StoreCode(1, 4, mirrorCode)
	chain.SetContract(1, mirror, remote.ContractInfo{CodeID: 4, Creator: admin, Label: "mirror"})
	chain.SetContract(1, counter, remote.ContractInfo{CodeID: 1, Creator: admin, Admin: admin, Label: "counter"})
	chain.SetContract(1, orphan, remote.ContractInfo{CodeID: 3, Creator: admin, Label: "orphan"})
	chain.SetRaw(1, counter, []byte("count"), []byte("5"))
	chain.SetBalance(1, alice, "ujuno", "1000")

	store := snapshot.NewStore(chain)
	snap, err := store.Capture(context.Background(), "juno-1", 50)
	require.NoError(t, err)

	registry := vm.NewRegistry()
	registry.Register(counterCode, counterProgram{})
	registry.Register(counterV2Code, counterV2Program{})
	registry.Register(mirrorCode, mirrorProgram{})
	return &fixture{
		chain: chain,
		shim:  shim.New(store, snap, nil),
		env:   vm.NewEnv(snap.Manifest(), registry),
	}
}

func queryCount(t *testing.T, f *fixture, overlayQuery func([]byte) ([]byte, error)) uint64 {
	t.Helper()
	raw, err := overlayQuery(vm.Encode("count", nil))
	require.NoError(t, err)
	var out struct {
		Count uint64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out.Count
}

func TestExecuteEmitsChainEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overlay := f.shim.NewOverlay()

	res, err := f.env.Execute(ctx, overlay, alice, counter, vm.Encode("increment", nil), types.Coins{types.NewCoin("ujuno", 10)})
	require.NoError(t, err)

	var typesSeen []string
	for _, ev := range res.Events {
		typesSeen = append(typesSeen, ev.Type)
	}
	require.Equal(t, []string{"message", "transfer", "execute", "wasm", "wasm-counted"}, typesSeen)
	wasm := res.Events.OfType("wasm")[0]
	addr, _ := wasm.Get("_contract_address")
	require.Equal(t, counter, addr)
	count, _ := wasm.Get("count")
	require.Equal(t, "6", count)

	bal, err := f.env.Balance(ctx, overlay, counter, "ujuno")
	require.NoError(t, err)
	require.Equal(t, "10", bal.String())
}

func TestFailedExecuteRevertsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overlay := f.shim.NewOverlay()

	_, err := f.env.Execute(ctx, overlay, alice, counter, vm.Encode("fail", nil), types.Coins{types.NewCoin("ujuno", 10)})
	var reverted *coreerrors.ContractRevertedError
	require.True(t, errors.As(err, &reverted), "got %v", err)
	require.Equal(t, counter, reverted.Contract)
	require.Equal(t, "boom", reverted.Reason)
	require.Zero(t, overlay.Len())

	count := queryCount(t, f, func(msg []byte) ([]byte, error) { return f.env.QuerySmart(ctx, overlay, counter, msg) })
	require.Equal(t, uint64(5), count)
	bal, err := overlay.Balance(ctx, alice, "ujuno")
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())
}

func TestSubMessageFailureRevertsParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overlay := f.shim.NewOverlay()

	msg := vm.Encode("call", map[string]interface{}{"contract": orphan, "msg": map[string]interface{}{"noop": struct{}{}}})
	_, err := f.env.Execute(ctx, overlay, alice, counter, msg, nil)
	require.True(t, errors.Is(err, coreerrors.ErrUnknownCode), "got %v", err)

	count := queryCount(t, f, func(m []byte) ([]byte, error) { return f.env.QuerySmart(ctx, overlay, counter, m) })
	require.Equal(t, uint64(5), count)
}

func TestSelfQueryIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overlay := f.shim.NewOverlay()

	_, err := f.env.QuerySmart(ctx, overlay, mirror, vm.Encode("echo", nil))
	var reverted *coreerrors.ContractRevertedError
	require.True(t, errors.As(err, &reverted), "got %v", err)
	require.Contains(t, reverted.Reason, "query depth exceeds")

	_, err = f.env.Execute(ctx, overlay, alice, mirror, vm.Encode("echo", nil), nil)
	require.True(t, errors.Is(err, coreerrors.ErrContractReverted), "got %v", err)
	require.Zero(t, overlay.Len())
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overlay := f.shim.NewOverlay()

	_, err := f.env.Execute(ctx, overlay, alice, counter, vm.Encode("increment", nil), types.Coins{types.NewCoin("ujuno", 5000)})
	require.True(t, errors.Is(err, coreerrors.ErrInsufficientFunds), "got %v", err)

	_, err = f.env.Execute(ctx, overlay, alice, counter, vm.Encode("pay", map[string]interface{}{"to": alice, "amount": 1}), nil)
	require.True(t, errors.Is(err, coreerrors.ErrInsufficientFunds), "contract without funds must not pay, got %v", err)
}

func TestUnknownContract(t *testing.T) {
	f := newFixture(t)
	_, err := f.env.Execute(context.Background(), f.shim.NewOverlay(), alice, "juno1ghost", vm.Encode("increment", nil), nil)
	require.True(t, errors.Is(err, coreerrors.ErrUnknownContract), "got %v", err)
}

func TestMigrateRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overlay := f.shim.NewOverlay()

	_, err := f.env.Migrate(ctx, overlay, alice, counter, 2, []byte(`{"fail":false}`))
	require.True(t, errors.Is(err, coreerrors.ErrUnauthorized), "got %v", err)

	res, err := f.env.Migrate(ctx, overlay, admin, counter, 2, []byte(`{"fail":false}`))
	require.NoError(t, err)
	_, ok := res.Events.Find("migrate", "code_id", "2")
	require.True(t, ok)

	count := queryCount(t, f, func(m []byte) ([]byte, error) { return f.env.QuerySmart(ctx, overlay, counter, m) })
	require.Equal(t, uint64(5), count)
}

func TestFailedRebindRestoresBindingAndStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overlay := f.shim.NewOverlay()

	_, err := f.env.Rebind(ctx, overlay, admin, counter, 2, []byte(`{"fail":true}`))
	require.Error(t, err)

	info, found, err := overlay.ContractInfo(ctx, counter)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), info.CodeID)
	raw, found, err := overlay.Storage(ctx, counter).Get([]byte("count"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "5", string(raw))
}

func TestInstantiateDerivesAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	overlay := f.shim.NewOverlay()

	first, _, err := f.env.Instantiate(ctx, overlay, alice, 1, []byte(`{"count":1}`), nil, "a", alice)
	require.NoError(t, err)
	second, _, err := f.env.Instantiate(ctx, overlay, alice, 1, []byte(`{"count":2}`), nil, "b", "")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Equal(t, "juno1", first[:5])

	again, _, err := f.env.Instantiate(ctx, f.shim.NewOverlay(), alice, 1, []byte(`{"count":1}`), nil, "a", alice)
	require.NoError(t, err)
	require.Equal(t, first, again, "fresh overlays must derive the same first address")

	count := queryCount(t, f, func(m []byte) ([]byte, error) { return f.env.QuerySmart(ctx, overlay, second, m) })
	require.Equal(t, uint64(2), count)
}

func TestExecutionIsDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := func() (string, string) {
		overlay := f.shim.NewOverlay()
		var log types.Events
		for i := 0; i < 3; i++ {
			res, err := f.env.Execute(ctx, overlay, alice, counter, vm.Encode("increment", nil), types.Coins{types.NewCoin("ujuno", 1)})
			require.NoError(t, err)
			log = append(log, res.Events...)
		}
		root, err := overlay.Root()
		require.NoError(t, err)
		return root.Hex(), log.String()
	}
	root1, events1 := run()
	root2, events2 := run()
	require.Equal(t, root1, root2)
	require.Equal(t, events1, events2)
}
