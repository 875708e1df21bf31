// Package pair is a constant-product pool holding two native denominations.
// Reserves are the contract's own bank balances, so a pool forked from the
// live chain trades against its real liquidity.
package pair

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
var Code = []byte("clonetest/contracts/pair:xyk-1")

// DefaultCommission is the commission rate of a standard pool.
var DefaultCommission = numeric.MustParseDecimal("0.003")

var (
	errSameDenom   = errors.New("offer and ask denominations must differ")
	errZeroOffer   = errors.New("offer amount must be positive")
	errEmptyPool   = errors.New("pool has no liquidity")
	errOfferFunds  = errors.New("offer amount does not match the sent funds")
	errUnknownPair = errors.New("denomination is not part of the pool")
)

// Config is the stored pool configuration.
type Config struct {
	Denoms         [2]string       `json:"denoms"`
	CommissionRate numeric.Decimal `json:"commission_rate"`
}

type InstantiateMsg struct {
	Denoms         [2]string        `json:"denoms"`
	CommissionRate *numeric.Decimal `json:"commission_rate,omitempty"`
}

type SwapMsg struct {
	OfferAsset types.Coin `json:"offer_asset"`
	To         string     `json:"to,omitempty"`
}

type SimulationMsg struct {
	OfferAsset types.Coin `json:"offer_asset"`
}

type SimulationResponse struct {
	ReturnAmount     numeric.Uint `json:"return_amount"`
	SpreadAmount     numeric.Uint `json:"spread_amount"`
	CommissionAmount numeric.Uint `json:"commission_amount"`
}

type PoolResponse struct {
	Assets         types.Coins     `json:"assets"`
	CommissionRate numeric.Decimal `json:"commission_rate"`
}

// Simulate prices a swap of offer against the pool (offerPool, askPool):
//
//	return     = floor(askPool*offer / (offerPool+offer))
//	spread     = floor(offer*askPool/offerPool) - return
//	commission = floor(return * rate)
//
// and pays out return - commission.
func Simulate(offerPool, askPool, offer numeric.Uint, rate numeric.Decimal) (SimulationResponse, error) {
	if offer.IsZero() {
		return SimulationResponse{}, errZeroOffer
	}
	if offerPool.IsZero() || askPool.IsZero() {
		return SimulationResponse{}, errEmptyPool
	}
	newOfferPool, err := offerPool.Add(offer)
	if err != nil {
		return SimulationResponse{}, err
	}
	ret, err := askPool.MulRatio(offer, newOfferPool)
	if err != nil {
		return SimulationResponse{}, err
	}
	ideal, err := offer.MulRatio(askPool, offerPool)
	if err != nil {
		return SimulationResponse{}, err
	}
	spread := ideal.SaturatingSub(ret)
	commission, err := ret.MulDecimal(rate)
	if err != nil {
		return SimulationResponse{}, err
	}
	out, err := ret.Sub(commission)
	if err != nil {
		return SimulationResponse{}, err
	}
	return SimulationResponse{ReturnAmount: out, SpreadAmount: spread, CommissionAmount: commission}, nil
}

// Program implements vm.Program.
type Program struct{}

var _ vm.Program = Program{}

func (Program) Instantiate(_ context.Context, deps vm.Deps, _ vm.BlockEnv, _ vm.MessageInfo, msg []byte) (*vm.Response, error) {
	var init InstantiateMsg
	if err := json.Unmarshal(msg, &init); err != nil {
		return nil, fmt.Errorf("parse instantiate: %w", err)
	}
	if init.Denoms[0] == "" || init.Denoms[1] == "" || init.Denoms[0] == init.Denoms[1] {
		return nil, errSameDenom
	}
	cfg := Config{Denoms: init.Denoms, CommissionRate: DefaultCommission}
	if init.CommissionRate != nil {
		cfg.CommissionRate = *init.CommissionRate
	}
	if err := vm.SaveItem(deps.Storage, "config", cfg); err != nil {
		return nil, err
	}
	return vm.NewResponse().
		AddAttribute("action", "instantiate").
		AddAttribute("pair", init.Denoms[0]+"-"+init.Denoms[1]), nil
}

func (p Program) Execute(ctx context.Context, deps vm.Deps, env vm.BlockEnv, info vm.MessageInfo, msg []byte) (*vm.Response, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	switch name {
	case "swap":
		var swap SwapMsg
		if err := json.Unmarshal(body, &swap); err != nil {
			return nil, fmt.Errorf("parse swap: %w", err)
		}
		return p.swap(ctx, deps, env, info, swap)
	default:
		return nil, fmt.Errorf("unknown execute variant %q", name)
	}
}

func (Program) swap(ctx context.Context, deps vm.Deps, env vm.BlockEnv, info vm.MessageInfo, swap SwapMsg) (*vm.Response, error) {
	cfg, err := loadConfig(deps)
	if err != nil {
		return nil, err
	}
	askDenom, err := cfg.other(swap.OfferAsset.Denom)
	if err != nil {
		return nil, err
	}
	if info.Funds.AmountOf(swap.OfferAsset.Denom).Cmp(swap.OfferAsset.Amount) != 0 {
		return nil, errOfferFunds
	}
	// The offer has already been credited to the pool.
	offerBalance, err := deps.Querier.Balance(ctx, env.Contract, swap.OfferAsset.Denom)
	if err != nil {
		return nil, err
	}
	offerPool, err := offerBalance.Sub(swap.OfferAsset.Amount)
	if err != nil {
		return nil, err
	}
	askPool, err := deps.Querier.Balance(ctx, env.Contract, askDenom)
	if err != nil {
		return nil, err
	}
	sim, err := Simulate(offerPool, askPool, swap.OfferAsset.Amount, cfg.CommissionRate)
	if err != nil {
		return nil, err
	}
	receiver := swap.To
	if receiver == "" {
		receiver = info.Sender
	}
	resp := vm.NewResponse().
		AddAttribute("action", "swap").
		AddAttribute("sender", info.Sender).
		AddAttribute("receiver", receiver).
		AddAttribute("offer_asset", swap.OfferAsset.Denom).
		AddAttribute("ask_asset", askDenom).
		AddAttribute("offer_amount", swap.OfferAsset.Amount.String()).
		AddAttribute("return_amount", sim.ReturnAmount.String()).
		AddAttribute("spread_amount", sim.SpreadAmount.String()).
		AddAttribute("commission_amount", sim.CommissionAmount.String())
	if !sim.ReturnAmount.IsZero() {
		resp.AddMessage(vm.BankSend{To: receiver, Amount: types.Coins{{Denom: askDenom, Amount: sim.ReturnAmount}}})
	}
	return resp, nil
}

func (Program) Query(ctx context.Context, deps vm.Deps, env vm.BlockEnv, msg []byte) ([]byte, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(deps)
	if err != nil {
		return nil, err
	}
	switch name {
	case "pool":
		assets := make(types.Coins, 0, 2)
		for _, denom := range cfg.Denoms {
			amount, err := deps.Querier.Balance(ctx, env.Contract, denom)
			if err != nil {
				return nil, err
			}
			assets = append(assets, types.Coin{Denom: denom, Amount: amount})
		}
		return json.Marshal(PoolResponse{Assets: assets, CommissionRate: cfg.CommissionRate})
	case "simulation":
		var sim SimulationMsg
		if err := json.Unmarshal(body, &sim); err != nil {
			return nil, fmt.Errorf("parse simulation: %w", err)
		}
		askDenom, err := cfg.other(sim.OfferAsset.Denom)
		if err != nil {
			return nil, err
		}
		offerPool, err := deps.Querier.Balance(ctx, env.Contract, sim.OfferAsset.Denom)
		if err != nil {
			return nil, err
		}
		askPool, err := deps.Querier.Balance(ctx, env.Contract, askDenom)
		if err != nil {
			return nil, err
		}
		out, err := Simulate(offerPool, askPool, sim.OfferAsset.Amount, cfg.CommissionRate)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	default:
		return nil, fmt.Errorf("unknown query variant %q", name)
	}
}

func loadConfig(deps vm.Deps) (Config, error) {
	var cfg Config
	found, err := vm.LoadItem(deps.Storage, "config", &cfg)
	if err != nil {
		return Config{}, err
	}
	if !found {
		return Config{}, errors.New("pool config not found")
	}
	return cfg, nil
}

func (c Config) other(denom string) (string, error) {
	switch denom {
	case c.Denoms[0]:
		return c.Denoms[1], nil
	case c.Denoms[1]:
		return c.Denoms[0], nil
	default:
		return "", fmt.Errorf("%w: %s", errUnknownPair, denom)
	}
}

// SwapMessage builds the execute message of a swap.
func SwapMessage(offer types.Coin, to string) []byte {
	return vm.Encode("swap", SwapMsg{OfferAsset: offer, To: to})
}
