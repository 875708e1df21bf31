// Package remotetest provides an in-memory live network with height-versioned
// state and a JSON-RPC server exposing it, for fork tests that must not touch
// a real network.
package remotetest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"clonetest/remote"
)

type version[T any] struct {
	height  uint64
	value   T
	deleted bool
}

type history[T any] []version[T]

// at returns the newest version written at or below height.
func (h history[T]) at(height uint64) (T, bool) {
	var zero T
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].height <= height {
			if h[i].deleted {
				return zero, false
			}
			return h[i].value, true
		}
	}
	return zero, false
}

// Chain is a fake live network. It is safe for concurrent use.
type Chain struct {
	mu        sync.Mutex
	chainID   string
	earliest  uint64
	latest    uint64
	genesis   time.Time
	raw       map[string]history[[]byte]
	balances  map[string]history[string]
	contracts map[string]history[remote.ContractInfo]
	codes     map[uint64]version[[]byte]
	lastCode  history[uint64]

	calls    map[string]int
	keyCalls map[string]int
	failures int
	failErr  error
	gate     chan struct{}
}

var _ remote.Chain = (*Chain)(nil)

// NewChain returns a chain whose retained heights are [earliest, latest].
func NewChain(chainID string, earliest, latest uint64) *Chain {
	return &Chain{
		chainID:   chainID,
		earliest:  earliest,
		latest:    latest,
		genesis:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		raw:       make(map[string]history[[]byte]),
		balances:  make(map[string]history[string]),
		contracts: make(map[string]history[remote.ContractInfo]),
		codes:     make(map[uint64]version[[]byte]),
		calls:     make(map[string]int),
		keyCalls:  make(map[string]int),
	}
}

func rawKey(contract string, key []byte) string { return contract + "/" + hex.EncodeToString(key) }

func balanceKey(address, denom string) string { return address + "/" + denom }

// SetRaw writes contract storage effective from height.
func (c *Chain) SetRaw(height uint64, contract string, key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := rawKey(contract, key)
	c.raw[k] = append(c.raw[k], version[[]byte]{height: height, value: append([]byte(nil), value...)})
}

// DeleteRaw removes contract storage effective from height.
func (c *Chain) DeleteRaw(height uint64, contract string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := rawKey(contract, key)
	c.raw[k] = append(c.raw[k], version[[]byte]{height: height, deleted: true})
}

// SetBalance sets an account balance effective from height.
func (c *Chain) SetBalance(height uint64, address, denom, amount string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := balanceKey(address, denom)
	c.balances[k] = append(c.balances[k], version[string]{height: height, value: amount})
}

// SetContract binds address to a contract record effective from height.
func (c *Chain) SetContract(height uint64, address string, info remote.ContractInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[address] = append(c.contracts[address], version[remote.ContractInfo]{height: height, value: info})
}

// StoreCode stores bytecode under codeID from height on.
func (c *Chain) StoreCode(height uint64, codeID uint64, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[codeID] = version[[]byte]{height: height, value: append([]byte(nil), code...)}
	last, _ := c.lastCode.at(^uint64(0))
	if codeID > last {
		c.lastCode = append(c.lastCode, version[uint64]{height: height, value: codeID})
	}
}

// Prune drops history below height.
func (c *Chain) Prune(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.earliest = height
}

// FailNext makes the next n queries fail with err.
func (c *Chain) FailNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
	c.failErr = err
}

// Hold blocks state queries until Release is called.
func (c *Chain) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
}

// Release unblocks queries held by Hold.
func (c *Chain) Release() {
	c.mu.Lock()
	gate := c.gate
	c.gate = nil
	c.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Calls returns how many times method was served.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// StateCalls returns the number of served state queries (all methods except
// status and block).
func (c *Chain) StateCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for method, n := range c.calls {
		if method != remote.MethodStatus && method != remote.MethodBlock {
			total += n
		}
	}
	return total
}

// KeyCalls returns how many times a raw key was queried.
func (c *Chain) KeyCalls(contract string, key []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyCalls[rawKey(contract, key)]
}

func (c *Chain) enter(ctx context.Context, method string, height uint64, checkHeight bool) error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil && method != remote.MethodStatus && method != remote.MethodBlock {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return c.failErr
	}
	c.calls[method]++
	if !checkHeight {
		return nil
	}
	if height < c.earliest {
		return &remote.RPCError{Code: remote.CodeHeightPruned, Message: fmt.Sprintf("height %d is pruned, earliest is %d", height, c.earliest)}
	}
	if height > c.latest {
		return &remote.RPCError{Code: remote.CodeHeightInFuture, Message: fmt.Sprintf("height %d is above latest %d", height, c.latest)}
	}
	return nil
}

func (c *Chain) Status(ctx context.Context) (*remote.Status, error) {
	if err := c.enter(ctx, remote.MethodStatus, 0, false); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return &remote.Status{ChainID: c.chainID, LatestHeight: c.latest, EarliestHeight: c.earliest}, nil
}

// BlockHash is the deterministic hash the fake chain reports for height.
func BlockHash(chainID string, height uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", chainID, height)))
	return hex.EncodeToString(sum[:])
}

func (c *Chain) Block(ctx context.Context, height uint64) (*remote.Block, error) {
	if err := c.enter(ctx, remote.MethodBlock, height, true); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last, _ := c.lastCode.at(height)
	return &remote.Block{
		ChainID:    c.chainID,
		Height:     height,
		Hash:       BlockHash(c.chainID, height),
		Time:       c.genesis.Add(time.Duration(height) * 6 * time.Second),
		LastCodeID: last,
	}, nil
}

func (c *Chain) QueryRaw(ctx context.Context, contract string, key []byte, height uint64) (remote.RawValue, error) {
	if err := c.enter(ctx, remote.MethodRaw, height, true); err != nil {
		return remote.RawValue{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := rawKey(contract, key)
	c.keyCalls[k]++
	value, ok := c.raw[k].at(height)
	if !ok {
		return remote.RawValue{}, nil
	}
	return remote.RawValue{Found: true, Value: append([]byte{}, value...)}, nil
}

func (c *Chain) ContractInfo(ctx context.Context, contract string, height uint64) (*remote.ContractInfoResult, error) {
	if err := c.enter(ctx, remote.MethodContractInfo, height, true); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.contracts[contract].at(height)
	if !ok {
		return &remote.ContractInfoResult{}, nil
	}
	copied := info
	return &remote.ContractInfoResult{Found: true, Info: &copied}, nil
}

func (c *Chain) Code(ctx context.Context, codeID uint64, height uint64) (*remote.CodeResult, error) {
	if err := c.enter(ctx, remote.MethodCode, height, true); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.codes[codeID]
	if !ok || v.height > height {
		return &remote.CodeResult{}, nil
	}
	return &remote.CodeResult{Found: true, Code: append([]byte(nil), v.value...)}, nil
}

func (c *Chain) Balance(ctx context.Context, address, denom string, height uint64) (string, error) {
	if err := c.enter(ctx, remote.MethodBalance, height, true); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	amount, ok := c.balances[balanceKey(address, denom)].at(height)
	if !ok {
		return "0", nil
	}
	return amount, nil
}
