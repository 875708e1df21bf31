// Package vm is the local execution environment: a deterministic ledger that
// applies contract messages to a scenario overlay without touching the live
// network.
package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	coreerrors "clonetest/core/errors"
	"clonetest/core/numeric"
	"clonetest/core/state"
	"clonetest/core/types"
	"clonetest/crypto"
	"clonetest/snapshot"
)

const (
	// LocalInstanceOffset is the first instance sequence used for contracts
	// instantiated on the fork. Addresses derived from it cannot collide with
	// contracts the live chain creates at realistic instance counts.
	LocalInstanceOffset uint64 = 1 << 40

	instanceSequence = "vm/instance"

	defaultMaxDepth      = 10
	defaultBlockInterval = 6 * time.Second
)

// Action names reported on the "message" event.
const (
	ActionExecute     = "/cosmwasm.wasm.v1.MsgExecuteContract"
	ActionInstantiate = "/cosmwasm.wasm.v1.MsgInstantiateContract"
	ActionMigrate     = "/cosmwasm.wasm.v1.MsgMigrateContract"
	ActionSend        = "/cosmos.bank.v1beta1.MsgSend"
)

// Env executes messages for one snapshot. Env holds no scenario state and is
// safe for concurrent use; every call operates on the overlay it is given.
type Env struct {
	chainID   string
	height    uint64
	blockTime time.Time
	prefix    string
	registry  *Registry
	maxDepth  int
	logger    *slog.Logger
}

// Option configures an Env.
type Option func(*Env)

// WithLogger sets the logger used for execution traces.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Env) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxDepth bounds nested contract dispatch.
func WithMaxDepth(depth int) Option {
	return func(e *Env) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithBech32Prefix sets the address prefix of instantiated contracts.
func WithBech32Prefix(prefix string) Option {
	return func(e *Env) { e.prefix = prefix }
}

// NewEnv returns an environment executing in the block following the snapshot.
func NewEnv(manifest snapshot.Manifest, registry *Registry, opts ...Option) *Env {
	e := &Env{
		chainID:   manifest.ChainID,
		height:    manifest.Height + 1,
		blockTime: manifest.Time().Add(defaultBlockInterval),
		prefix:    crypto.PrefixForChain(manifest.ChainID),
		registry:  registry,
		maxDepth:  defaultMaxDepth,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the program registry.
func (e *Env) Registry() *Registry { return e.registry }

// Prefix returns the bech32 prefix of instantiated contracts.
func (e *Env) Prefix() string { return e.prefix }

func (e *Env) blockEnv(contract string) BlockEnv {
	return BlockEnv{ChainID: e.chainID, Height: e.height, Time: e.blockTime, Contract: contract}
}

// Execute applies one execute message. The message is atomic: when it or any
// message it dispatches fails, every write it made is reverted.
func (e *Env) Execute(ctx context.Context, overlay *state.Overlay, sender, contract string, msg []byte, funds types.Coins) (*Result, error) {
	rev := overlay.Snapshot()
	res := &Result{}
	res.Events = append(res.Events, messageEvent(ActionExecute, "wasm", sender))
	data, err := e.execute(ctx, overlay, sender, contract, msg, funds, 0, res)
	if err != nil {
		overlay.RevertToSnapshot(rev)
		e.logger.Debug("execute failed", slog.String("contract", contract), slog.String("sender", sender), slog.Any("error", err))
		return nil, err
	}
	res.Data = data
	return res, nil
}

func (e *Env) execute(ctx context.Context, overlay *state.Overlay, sender, contract string, msg []byte, funds types.Coins, depth int, res *Result) ([]byte, error) {
	if depth > e.maxDepth {
		return nil, coreerrors.Reverted(contract, fmt.Sprintf("dispatch depth exceeds %d", e.maxDepth))
	}
	info, err := e.contractInfo(ctx, overlay, contract)
	if err != nil {
		return nil, err
	}
	program, err := e.program(ctx, overlay, info.CodeID)
	if err != nil {
		return nil, err
	}
	if err := e.transfer(ctx, overlay, sender, contract, funds, res); err != nil {
		return nil, err
	}
	res.Events = append(res.Events, types.NewEvent("execute", "_contract_address", contract))
	resp, err := program.Execute(ctx, e.deps(ctx, overlay, contract, depth), e.blockEnv(contract), MessageInfo{Sender: sender, Funds: funds}, msg)
	if err != nil {
		return nil, contractError(contract, err)
	}
	return e.handleResponse(ctx, overlay, contract, resp, depth, res)
}

// Instantiate creates a contract running codeID and returns its address.
func (e *Env) Instantiate(ctx context.Context, overlay *state.Overlay, sender string, codeID uint64, msg []byte, funds types.Coins, label, admin string) (string, *Result, error) {
	rev := overlay.Snapshot()
	res := &Result{}
	res.Events = append(res.Events, messageEvent(ActionInstantiate, "wasm", sender))
	address, data, err := e.instantiate(ctx, overlay, sender, codeID, msg, funds, label, admin, res)
	if err != nil {
		overlay.RevertToSnapshot(rev)
		return "", nil, err
	}
	res.Data = data
	e.logger.Debug("contract instantiated", slog.String("address", address), slog.Uint64("code_id", codeID), slog.String("label", label))
	return address, res, nil
}

func (e *Env) instantiate(ctx context.Context, overlay *state.Overlay, sender string, codeID uint64, msg []byte, funds types.Coins, label, admin string, res *Result) (string, []byte, error) {
	program, err := e.program(ctx, overlay, codeID)
	if err != nil {
		return "", nil, err
	}
	address, err := e.nextAddress(ctx, overlay, codeID)
	if err != nil {
		return "", nil, err
	}
	if err := overlay.SetContractInfo(address, ContractInfo{CodeID: codeID, Creator: sender, Admin: admin, Label: label}); err != nil {
		return "", nil, err
	}
	if err := e.transfer(ctx, overlay, sender, address, funds, res); err != nil {
		return "", nil, err
	}
	res.Events = append(res.Events, types.NewEvent("instantiate",
		"_contract_address", address,
		"code_id", strconv.FormatUint(codeID, 10)))
	resp, err := program.Instantiate(ctx, e.deps(ctx, overlay, address, 0), e.blockEnv(address), MessageInfo{Sender: sender, Funds: funds}, msg)
	if err != nil {
		return "", nil, contractError(address, err)
	}
	data, err := e.handleResponse(ctx, overlay, address, resp, 0, res)
	if err != nil {
		return "", nil, err
	}
	return address, data, nil
}

// nextAddress derives the address of the next locally instantiated contract,
// skipping any address already bound on the fork.
func (e *Env) nextAddress(ctx context.Context, overlay *state.Overlay, codeID uint64) (string, error) {
	seq := overlay.Sequence(instanceSequence)
	if seq < LocalInstanceOffset {
		seq = LocalInstanceOffset
	}
	for {
		address := crypto.ContractAddress(e.prefix, codeID, seq).String()
		seq++
		_, exists, err := overlay.ContractInfo(ctx, address)
		if err != nil {
			return "", err
		}
		if !exists {
			overlay.SetSequence(instanceSequence, seq)
			return address, nil
		}
	}
}

// Migrate is the admin-gated migration the chain performs for
// MsgMigrateContract: only the contract admin may rebind it to newCodeID.
func (e *Env) Migrate(ctx context.Context, overlay *state.Overlay, sender, contract string, newCodeID uint64, msg []byte) (*Result, error) {
	info, err := e.contractInfo(ctx, overlay, contract)
	if err != nil {
		return nil, err
	}
	if info.Admin == "" || info.Admin != sender {
		return nil, fmt.Errorf("%w: %s may not migrate %s", coreerrors.ErrUnauthorized, sender, contract)
	}
	return e.Rebind(ctx, overlay, sender, contract, newCodeID, msg)
}

// Rebind points contract at newCodeID and, when msg is not nil, runs the new
// code's migrate entry point on the existing storage. It skips the admin check.
// On failure the binding and storage are restored.
func (e *Env) Rebind(ctx context.Context, overlay *state.Overlay, sender, contract string, newCodeID uint64, msg []byte) (*Result, error) {
	rev := overlay.Snapshot()
	res := &Result{}
	res.Events = append(res.Events, messageEvent(ActionMigrate, "wasm", sender))
	data, err := e.rebind(ctx, overlay, contract, newCodeID, msg, res)
	if err != nil {
		overlay.RevertToSnapshot(rev)
		return nil, err
	}
	res.Data = data
	return res, nil
}

func (e *Env) rebind(ctx context.Context, overlay *state.Overlay, contract string, newCodeID uint64, msg []byte, res *Result) ([]byte, error) {
	info, err := e.contractInfo(ctx, overlay, contract)
	if err != nil {
		return nil, err
	}
	program, err := e.program(ctx, overlay, newCodeID)
	if err != nil {
		return nil, err
	}
	info.CodeID = newCodeID
	if err := overlay.SetContractInfo(contract, info); err != nil {
		return nil, err
	}
	res.Events = append(res.Events, types.NewEvent("migrate",
		"_contract_address", contract,
		"code_id", strconv.FormatUint(newCodeID, 10)))
	if msg == nil {
		return nil, nil
	}
	migrator, ok := program.(Migrator)
	if !ok {
		return nil, coreerrors.Reverted(contract, fmt.Sprintf("code %d has no migrate entry point", newCodeID))
	}
	resp, err := migrator.Migrate(ctx, e.deps(ctx, overlay, contract, 0), e.blockEnv(contract), msg)
	if err != nil {
		return nil, contractError(contract, err)
	}
	return e.handleResponse(ctx, overlay, contract, resp, 0, res)
}

// QuerySmart runs a read-only query. Writes a buggy program makes while
// answering are discarded.
func (e *Env) QuerySmart(ctx context.Context, overlay *state.Overlay, contract string, msg []byte) ([]byte, error) {
	return e.querySmart(ctx, overlay, contract, msg, 0)
}

// querySmart answers a query issued at depth. Nested queries share the
// dispatch depth bound.
func (e *Env) querySmart(ctx context.Context, overlay *state.Overlay, contract string, msg []byte, depth int) ([]byte, error) {
	if depth > e.maxDepth {
		return nil, coreerrors.Reverted(contract, fmt.Sprintf("query depth exceeds %d", e.maxDepth))
	}
	rev := overlay.Snapshot()
	defer overlay.RevertToSnapshot(rev)
	info, err := e.contractInfo(ctx, overlay, contract)
	if err != nil {
		return nil, err
	}
	program, err := e.program(ctx, overlay, info.CodeID)
	if err != nil {
		return nil, err
	}
	out, err := program.Query(ctx, e.deps(ctx, overlay, contract, depth), e.blockEnv(contract), msg)
	if err != nil {
		return nil, contractError(contract, err)
	}
	return out, nil
}

// Send moves coins between accounts.
func (e *Env) Send(ctx context.Context, overlay *state.Overlay, from, to string, amount types.Coins) (*Result, error) {
	rev := overlay.Snapshot()
	res := &Result{}
	res.Events = append(res.Events, messageEvent(ActionSend, "bank", from))
	if err := e.transfer(ctx, overlay, from, to, amount, res); err != nil {
		overlay.RevertToSnapshot(rev)
		return nil, err
	}
	return res, nil
}

// Balance returns the balance of address in the overlay.
func (e *Env) Balance(ctx context.Context, overlay *state.Overlay, address, denom string) (numeric.Uint, error) {
	return overlay.Balance(ctx, address, denom)
}

func (e *Env) contractInfo(ctx context.Context, overlay *state.Overlay, contract string) (ContractInfo, error) {
	info, found, err := overlay.ContractInfo(ctx, contract)
	if err != nil {
		return ContractInfo{}, err
	}
	if !found {
		return ContractInfo{}, fmt.Errorf("%w: %s", coreerrors.ErrUnknownContract, contract)
	}
	return info, nil
}

func (e *Env) program(ctx context.Context, overlay *state.Overlay, codeID uint64) (Program, error) {
	code, found, err := overlay.Code(ctx, codeID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: code id %d", coreerrors.ErrUnknownCode, codeID)
	}
	program, ok := e.registry.Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w: no program registered for code %d (checksum %s)", coreerrors.ErrUnknownCode, codeID, ChecksumOf(code))
	}
	return program, nil
}

func (e *Env) deps(ctx context.Context, overlay *state.Overlay, contract string, depth int) Deps {
	return Deps{
		Storage: overlay.Storage(ctx, contract),
		Querier: &querier{env: e, overlay: overlay, depth: depth},
	}
}

// handleResponse emits the response events and dispatches its messages depth
// first, in order.
func (e *Env) handleResponse(ctx context.Context, overlay *state.Overlay, contract string, resp *Response, depth int, res *Result) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}
	if len(resp.Attributes) > 0 {
		ev := types.Event{Type: "wasm", Attributes: []types.Attribute{{Key: "_contract_address", Value: contract}}}
		ev.Attributes = append(ev.Attributes, resp.Attributes...)
		res.Events = append(res.Events, ev)
	}
	for _, custom := range resp.Events {
		ev := types.Event{Type: "wasm-" + custom.Type, Attributes: []types.Attribute{{Key: "_contract_address", Value: contract}}}
		ev.Attributes = append(ev.Attributes, custom.Attributes...)
		res.Events = append(res.Events, ev)
	}
	for _, msg := range resp.Messages {
		switch m := msg.(type) {
		case BankSend:
			if err := e.transfer(ctx, overlay, contract, m.To, m.Amount, res); err != nil {
				return nil, err
			}
		case WasmExecute:
			if _, err := e.execute(ctx, overlay, contract, m.Contract, m.Msg, m.Funds, depth+1, res); err != nil {
				return nil, err
			}
		default:
			return nil, coreerrors.Reverted(contract, fmt.Sprintf("unsupported message %T", msg))
		}
	}
	return resp.Data, nil
}

func (e *Env) transfer(ctx context.Context, overlay *state.Overlay, from, to string, amount types.Coins, res *Result) error {
	coins, err := amount.Normalize()
	if err != nil {
		return coreerrors.Reverted(from, err.Error())
	}
	if len(coins) == 0 {
		return nil
	}
	for _, c := range coins {
		if err := overlay.SubBalance(ctx, from, c.Denom, c.Amount); err != nil {
			return err
		}
		if err := overlay.AddBalance(ctx, to, c.Denom, c.Amount); err != nil {
			return err
		}
	}
	res.Events = append(res.Events, types.NewEvent("transfer",
		"recipient", to,
		"sender", from,
		"amount", coins.String()))
	return nil
}

func messageEvent(action, module, sender string) types.Event {
	return types.NewEvent("message", "action", action, "module", module, "sender", sender)
}

// contractError keeps harness and ledger errors intact and turns anything else
// a program returns into a revert of contract.
func contractError(contract string, err error) error {
	switch {
	case coreerrors.IsFatal(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, coreerrors.ErrContractReverted),
		errors.Is(err, coreerrors.ErrInsufficientFunds),
		errors.Is(err, coreerrors.ErrUnauthorized),
		errors.Is(err, coreerrors.ErrUnknownContract),
		errors.Is(err, coreerrors.ErrUnknownCode):
		return err
	default:
		return coreerrors.Reverted(contract, err.Error())
	}
}
