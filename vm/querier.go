package vm

import (
	"context"

	"clonetest/core/numeric"
	"clonetest/core/state"
)

// querier answers contract queries against the overlay of the executing
// message, so a contract observes writes made earlier in the same message.
type querier struct {
	env     *Env
	overlay *state.Overlay
	depth   int
}

func (q *querier) QuerySmart(ctx context.Context, contract string, msg []byte) ([]byte, error) {
	return q.env.querySmart(ctx, q.overlay, contract, msg, q.depth+1)
}

func (q *querier) QueryRaw(ctx context.Context, contract string, key []byte) ([]byte, bool, error) {
	return q.overlay.Storage(ctx, contract).Get(key)
}

func (q *querier) Balance(ctx context.Context, address, denom string) (numeric.Uint, error) {
	return q.overlay.Balance(ctx, address, denom)
}

func (q *querier) ContractInfo(ctx context.Context, contract string) (ContractInfo, error) {
	return q.env.contractInfo(ctx, q.overlay, contract)
}
