// Package adapter implements the adapter program: one contract shape that
// translates generic position actions (swap, stake, unstake, deposit,
// withdraw) into the execute messages of a provider protocol.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"clonetest/contracts/market"
	"clonetest/contracts/pair"
	"clonetest/contracts/stakepool"
	"clonetest/core/numeric"
	"clonetest/core/types"
	"clonetest/vm"
)

// Kind names a capability variant.
type Kind string

const (
	KindDEX         Kind = "dex"
	KindStaking     Kind = "staking"
	KindMoneyMarket Kind = "moneymarket"
)

// Generic action names.
const (
	ActionSwap     = "swap"
	ActionStake    = "stake"
	ActionUnstake  = "unstake"
	ActionDeposit  = "deposit"
	ActionWithdraw = "withdraw"
)

// Capability is the position a provider offers: tradeable, stakeable or
// lendable. The set of variants is closed.
type Capability interface {
	Kind() Kind
	// Inflow reports whether action takes funds from the user.
	Inflow(action string) (bool, error)
	plan(ctx context.Context, q vm.Querier, req request) (plan, error)
}

// request is one action routed to provider on behalf of user. Offer is the
// user's funds net of the usage fee.
type request struct {
	Provider string
	User     string
	Action   string
	Body     json.RawMessage
	Offer    types.Coin
}

// plan is the provider message an action translates into, with the change to
// the user's position held by the adapter.
type plan struct {
	Msg    []byte
	Funds  types.Coins
	Credit numeric.Uint
	Debit  numeric.Uint
}

// CapabilityFor returns the variant named kind.
func CapabilityFor(kind Kind) (Capability, error) {
	switch kind {
	case KindDEX:
		return DEX{}, nil
	case KindStaking:
		return Staking{}, nil
	case KindMoneyMarket:
		return MoneyMarket{}, nil
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", kind)
	}
}

func unsupported(kind Kind, action string) error {
	return fmt.Errorf("%s adapter does not support %q", kind, action)
}

// DEX trades through a constant-product pair.
type DEX struct{}

func (DEX) Kind() Kind { return KindDEX }

func (d DEX) Inflow(action string) (bool, error) {
	if action == ActionSwap {
		return true, nil
	}
	return false, unsupported(d.Kind(), action)
}

func (d DEX) plan(_ context.Context, _ vm.Querier, req request) (plan, error) {
	if req.Action != ActionSwap {
		return plan{}, unsupported(d.Kind(), req.Action)
	}
	return plan{
		Msg:   pair.SwapMessage(req.Offer, req.User),
		Funds: types.Coins{req.Offer},
	}, nil
}

// Staking bonds into a stake pool. Shares are held by the adapter and tracked
// per user.
type Staking struct{}

func (Staking) Kind() Kind { return KindStaking }

func (s Staking) Inflow(action string) (bool, error) {
	switch action {
	case ActionStake:
		return true, nil
	case ActionUnstake:
		return false, nil
	default:
		return false, unsupported(s.Kind(), action)
	}
}

func (s Staking) plan(ctx context.Context, q vm.Querier, req request) (plan, error) {
	switch req.Action {
	case ActionStake:
		raw, err := q.QuerySmart(ctx, req.Provider, vm.Encode("simulate_bond", map[string]numeric.Uint{"amount": req.Offer.Amount}))
		if err != nil {
			return plan{}, err
		}
		var sim stakepool.SimulateBondResponse
		if err := json.Unmarshal(raw, &sim); err != nil {
			return plan{}, err
		}
		return plan{Msg: stakepool.BondMessage(), Funds: types.Coins{req.Offer}, Credit: sim.Shares}, nil
	case ActionUnstake:
		var body struct {
			Shares numeric.Uint `json:"shares"`
		}
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return plan{}, fmt.Errorf("parse unstake: %w", err)
		}
		return plan{Msg: stakepool.UnbondMessage(body.Shares, req.User), Debit: body.Shares}, nil
	default:
		return plan{}, unsupported(s.Kind(), req.Action)
	}
}

// MoneyMarket lends into a market. Receipt units are held by the adapter and
// tracked per user.
type MoneyMarket struct{}

func (MoneyMarket) Kind() Kind { return KindMoneyMarket }

func (m MoneyMarket) Inflow(action string) (bool, error) {
	switch action {
	case ActionDeposit:
		return true, nil
	case ActionWithdraw:
		return false, nil
	default:
		return false, unsupported(m.Kind(), action)
	}
}

func (m MoneyMarket) plan(ctx context.Context, q vm.Querier, req request) (plan, error) {
	switch req.Action {
	case ActionDeposit:
		raw, err := q.QuerySmart(ctx, req.Provider, vm.Encode("simulate_deposit", map[string]numeric.Uint{"amount": req.Offer.Amount}))
		if err != nil {
			return plan{}, err
		}
		var sim market.SimulateDepositResponse
		if err := json.Unmarshal(raw, &sim); err != nil {
			return plan{}, err
		}
		return plan{Msg: market.DepositMessage(), Funds: types.Coins{req.Offer}, Credit: sim.Minted}, nil
	case ActionWithdraw:
		var body struct {
			Amount numeric.Uint `json:"amount"`
		}
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return plan{}, fmt.Errorf("parse withdraw: %w", err)
		}
		return plan{Msg: market.WithdrawMessage(body.Amount, req.User), Debit: body.Amount}, nil
	default:
		return plan{}, unsupported(m.Kind(), req.Action)
	}
}
