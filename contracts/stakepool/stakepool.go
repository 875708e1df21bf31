// Package stakepool is a liquid staking pool. Bonded tokens are the contract's
// bank balance of the bond denom, so rewards accrued on the live chain raise
// the value of every share.
package stakepool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clonetest/core/numeric"
	"clonetest/core/types"
	"clonetest/vm"
)

// Code is the bytecode the pool program is registered under.
var Code = []byte("clonetest/contracts/stakepool:1")

var (
	errNoFunds           = errors.New("bond requires funds in the bond denom")
	errInsufficientShare = errors.New("insufficient shares")
	errZeroShares        = errors.New("share amount must be positive")
)

type Config struct {
	Denom string `json:"denom"`
}

type InstantiateMsg struct {
	Denom string `json:"denom"`
}

type BondMsg struct{}

type UnbondMsg struct {
	Shares    numeric.Uint `json:"shares"`
	Recipient string       `json:"recipient,omitempty"`
}

type StateResponse struct {
	Denom       string       `json:"denom"`
	TotalBonded numeric.Uint `json:"total_bonded"`
	TotalShares numeric.Uint `json:"total_shares"`
}

type SharesResponse struct {
	Shares numeric.Uint `json:"shares"`
	Value  numeric.Uint `json:"value"`
}

type SimulateBondResponse struct {
	Shares numeric.Uint `json:"shares"`
}

// SharesFor returns the shares minted for amount: amount itself for the first
// bond, floor(amount * totalShares / totalBonded) afterwards.
func SharesFor(amount, totalBonded, totalShares numeric.Uint) (numeric.Uint, error) {
	if totalShares.IsZero() || totalBonded.IsZero() {
		return amount, nil
	}
	return amount.MulRatio(totalShares, totalBonded)
}

// ValueOf returns the tokens redeemed by shares: floor(shares * totalBonded / totalShares).
func ValueOf(shares, totalBonded, totalShares numeric.Uint) (numeric.Uint, error) {
	if totalShares.IsZero() {
		return numeric.ZeroUint(), nil
	}
	return shares.MulRatio(totalBonded, totalShares)
}

// Program implements vm.Program.
type Program struct{}

var _ vm.Program = Program{}

func (Program) Instantiate(_ context.Context, deps vm.Deps, _ vm.BlockEnv, _ vm.MessageInfo, msg []byte) (*vm.Response, error) {
	var init InstantiateMsg
	if err := json.Unmarshal(msg, &init); err != nil {
		return nil, fmt.Errorf("parse instantiate: %w", err)
	}
	if init.Denom == "" {
		return nil, errors.New("bond denom must be set")
	}
	if err := vm.SaveItem(deps.Storage, "config", Config{Denom: init.Denom}); err != nil {
		return nil, err
	}
	if err := vm.SaveItem(deps.Storage, "total_shares", numeric.ZeroUint()); err != nil {
		return nil, err
	}
	return vm.NewResponse().AddAttribute("action", "instantiate").AddAttribute("denom", init.Denom), nil
}

func (p Program) Execute(ctx context.Context, deps vm.Deps, env vm.BlockEnv, info vm.MessageInfo, msg []byte) (*vm.Response, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	cfg, totalShares, err := load(deps)
	if err != nil {
		return nil, err
	}
	balance, err := deps.Querier.Balance(ctx, env.Contract, cfg.Denom)
	if err != nil {
		return nil, err
	}
	switch name {
	case "bond":
		amount := info.Funds.AmountOf(cfg.Denom)
		if amount.IsZero() {
			return nil, errNoFunds
		}
		bonded, err := balance.Sub(amount)
		if err != nil {
			return nil, err
		}
		minted, err := SharesFor(amount, bonded, totalShares)
		if err != nil {
			return nil, err
		}
		if err := addShares(deps, info.Sender, minted); err != nil {
			return nil, err
		}
		total, err := totalShares.Add(minted)
		if err != nil {
			return nil, err
		}
		if err := vm.SaveItem(deps.Storage, "total_shares", total); err != nil {
			return nil, err
		}
		return vm.NewResponse().
			AddAttribute("action", "bond").
			AddAttribute("staker", info.Sender).
			AddAttribute("amount", amount.String()).
			AddAttribute("shares", minted.String()), nil
	case "unbond":
		var unbond UnbondMsg
		if err := json.Unmarshal(body, &unbond); err != nil {
			return nil, fmt.Errorf("parse unbond: %w", err)
		}
		if unbond.Shares.IsZero() {
			return nil, errZeroShares
		}
		value, err := ValueOf(unbond.Shares, balance, totalShares)
		if err != nil {
			return nil, err
		}
		if err := subShares(deps, info.Sender, unbond.Shares); err != nil {
			return nil, err
		}
		total, err := totalShares.Sub(unbond.Shares)
		if err != nil {
			return nil, err
		}
		if err := vm.SaveItem(deps.Storage, "total_shares", total); err != nil {
			return nil, err
		}
		recipient := unbond.Recipient
		if recipient == "" {
			recipient = info.Sender
		}
		resp := vm.NewResponse().
			AddAttribute("action", "unbond").
			AddAttribute("staker", info.Sender).
			AddAttribute("shares", unbond.Shares.String()).
			AddAttribute("amount", value.String())
		if !value.IsZero() {
			resp.AddMessage(vm.BankSend{To: recipient, Amount: types.Coins{{Denom: cfg.Denom, Amount: value}}})
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("unknown execute variant %q", name)
	}
}

func (Program) Query(ctx context.Context, deps vm.Deps, env vm.BlockEnv, msg []byte) ([]byte, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	cfg, totalShares, err := load(deps)
	if err != nil {
		return nil, err
	}
	bonded, err := deps.Querier.Balance(ctx, env.Contract, cfg.Denom)
	if err != nil {
		return nil, err
	}
	switch name {
	case "state":
		return json.Marshal(StateResponse{Denom: cfg.Denom, TotalBonded: bonded, TotalShares: totalShares})
	case "shares":
		var q struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, err
		}
		shares, err := sharesOf(deps, q.Address)
		if err != nil {
			return nil, err
		}
		value, err := ValueOf(shares, bonded, totalShares)
		if err != nil {
			return nil, err
		}
		return json.Marshal(SharesResponse{Shares: shares, Value: value})
	case "simulate_bond":
		var q struct {
			Amount numeric.Uint `json:"amount"`
		}
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, err
		}
		minted, err := SharesFor(q.Amount, bonded, totalShares)
		if err != nil {
			return nil, err
		}
		return json.Marshal(SimulateBondResponse{Shares: minted})
	default:
		return nil, fmt.Errorf("unknown query variant %q", name)
	}
}

func load(deps vm.Deps) (Config, numeric.Uint, error) {
	var cfg Config
	found, err := vm.LoadItem(deps.Storage, "config", &cfg)
	if err != nil {
		return Config{}, numeric.Uint{}, err
	}
	if !found {
		return Config{}, numeric.Uint{}, errors.New("stake pool config not found")
	}
	total := numeric.ZeroUint()
	if _, err := vm.LoadItem(deps.Storage, "total_shares", &total); err != nil {
		return Config{}, numeric.Uint{}, err
	}
	return cfg, total, nil
}

func sharesKey(address string) string { return "shares/" + address }

func sharesOf(deps vm.Deps, address string) (numeric.Uint, error) {
	shares := numeric.ZeroUint()
	if _, err := vm.LoadItem(deps.Storage, sharesKey(address), &shares); err != nil {
		return numeric.Uint{}, err
	}
	return shares, nil
}

func addShares(deps vm.Deps, address string, amount numeric.Uint) error {
	current, err := sharesOf(deps, address)
	if err != nil {
		return err
	}
	next, err := current.Add(amount)
	if err != nil {
		return err
	}
	return vm.SaveItem(deps.Storage, sharesKey(address), next)
}

func subShares(deps vm.Deps, address string, amount numeric.Uint) error {
	current, err := sharesOf(deps, address)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, unbonding %s", errInsufficientShare, address, current, amount)
	}
	next, err := current.Sub(amount)
	if err != nil {
		return err
	}
	if next.IsZero() {
		deps.Storage.Remove([]byte(sharesKey(address)))
		return nil
	}
	return vm.SaveItem(deps.Storage, sharesKey(address), next)
}

// BondMessage builds the execute message of a bond.
func BondMessage() []byte { return vm.Encode("bond", BondMsg{}) }

// UnbondMessage builds the execute message of an unbond.
func UnbondMessage(shares numeric.Uint, recipient string) []byte {
	return vm.Encode("unbond", UnbondMsg{Shares: shares, Recipient: recipient})
}
