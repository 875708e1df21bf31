// Package market is a single-asset money market. Deposits mint receipt units
// at the current exchange rate; withdrawals burn them for the underlying.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	coreerrors "clonetest/core/errors"
	"clonetest/core/numeric"
	"clonetest/core/types"
	"clonetest/vm"
)

// Code is the bytecode the market program is registered under.
var Code = []byte("clonetest/contracts/market:1")

var (
	errNoFunds      = errors.New("deposit requires funds in the market denom")
	errInsufficient = errors.New("insufficient receipt balance")
	errZeroRate     = errors.New("exchange rate must be positive")
)

// State is the stored market state. ExchangeRate is underlying per receipt unit.
type State struct {
	Denom        string          `json:"denom"`
	Owner        string          `json:"owner"`
	ExchangeRate numeric.Decimal `json:"exchange_rate"`
	TotalSupply  numeric.Uint    `json:"total_supply"`
}

type InstantiateMsg struct {
	Denom        string           `json:"denom"`
	ExchangeRate *numeric.Decimal `json:"exchange_rate,omitempty"`
}

type WithdrawMsg struct {
	Amount    numeric.Uint `json:"amount"`
	Recipient string       `json:"recipient,omitempty"`
}

type BalanceResponse struct {
	Receipt    numeric.Uint `json:"receipt"`
	Underlying numeric.Uint `json:"underlying"`
}

type SimulateDepositResponse struct {
	Minted numeric.Uint `json:"minted"`
}

// Minted returns floor(amount / rate).
func Minted(amount numeric.Uint, rate numeric.Decimal) (numeric.Uint, error) {
	if rate.IsZero() {
		return numeric.Uint{}, errZeroRate
	}
	return amount.DivDecimal(rate)
}

// Redeemed returns floor(receipt * rate).
func Redeemed(receipt numeric.Uint, rate numeric.Decimal) (numeric.Uint, error) {
	return receipt.MulDecimal(rate)
}

// Program implements vm.Program.
type Program struct{}

var _ vm.Program = Program{}

func (Program) Instantiate(_ context.Context, deps vm.Deps, _ vm.BlockEnv, info vm.MessageInfo, msg []byte) (*vm.Response, error) {
	var init InstantiateMsg
	if err := json.Unmarshal(msg, &init); err != nil {
		return nil, fmt.Errorf("parse instantiate: %w", err)
	}
	if init.Denom == "" {
		return nil, errors.New("market denom must be set")
	}
	st := State{Denom: init.Denom, Owner: info.Sender, ExchangeRate: numeric.OneDecimal(), TotalSupply: numeric.ZeroUint()}
	if init.ExchangeRate != nil {
		if init.ExchangeRate.IsZero() {
			return nil, errZeroRate
		}
		st.ExchangeRate = *init.ExchangeRate
	}
	if err := vm.SaveItem(deps.Storage, "state", st); err != nil {
		return nil, err
	}
	return vm.NewResponse().AddAttribute("action", "instantiate").AddAttribute("denom", init.Denom), nil
}

func (Program) Execute(_ context.Context, deps vm.Deps, _ vm.BlockEnv, info vm.MessageInfo, msg []byte) (*vm.Response, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	st, err := loadState(deps)
	if err != nil {
		return nil, err
	}
	switch name {
	case "deposit":
		amount := info.Funds.AmountOf(st.Denom)
		if amount.IsZero() {
			return nil, errNoFunds
		}
		minted, err := Minted(amount, st.ExchangeRate)
		if err != nil {
			return nil, err
		}
		if err := adjustReceipt(deps, info.Sender, minted, true); err != nil {
			return nil, err
		}
		if st.TotalSupply, err = st.TotalSupply.Add(minted); err != nil {
			return nil, err
		}
		if err := vm.SaveItem(deps.Storage, "state", st); err != nil {
			return nil, err
		}
		return vm.NewResponse().
			AddAttribute("action", "deposit").
			AddAttribute("depositor", info.Sender).
			AddAttribute("amount", amount.String()).
			AddAttribute("minted", minted.String()), nil
	case "withdraw":
		var w WithdrawMsg
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("parse withdraw: %w", err)
		}
		underlying, err := Redeemed(w.Amount, st.ExchangeRate)
		if err != nil {
			return nil, err
		}
		if err := adjustReceipt(deps, info.Sender, w.Amount, false); err != nil {
			return nil, err
		}
		if st.TotalSupply, err = st.TotalSupply.Sub(w.Amount); err != nil {
			return nil, err
		}
		if err := vm.SaveItem(deps.Storage, "state", st); err != nil {
			return nil, err
		}
		recipient := w.Recipient
		if recipient == "" {
			recipient = info.Sender
		}
		resp := vm.NewResponse().
			AddAttribute("action", "withdraw").
			AddAttribute("owner", info.Sender).
			AddAttribute("burned", w.Amount.String()).
			AddAttribute("amount", underlying.String())
		if !underlying.IsZero() {
			resp.AddMessage(vm.BankSend{To: recipient, Amount: types.Coins{{Denom: st.Denom, Amount: underlying}}})
		}
		return resp, nil
	case "set_exchange_rate":
		if info.Sender != st.Owner {
			return nil, fmt.Errorf("%w: only %s may set the exchange rate", coreerrors.ErrUnauthorized, st.Owner)
		}
		var m struct {
			Rate numeric.Decimal `json:"rate"`
		}
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		if m.Rate.IsZero() {
			return nil, errZeroRate
		}
		st.ExchangeRate = m.Rate
		if err := vm.SaveItem(deps.Storage, "state", st); err != nil {
			return nil, err
		}
		return vm.NewResponse().AddAttribute("action", "set_exchange_rate").AddAttribute("rate", m.Rate.String()), nil
	default:
		return nil, fmt.Errorf("unknown execute variant %q", name)
	}
}

func (Program) Query(_ context.Context, deps vm.Deps, _ vm.BlockEnv, msg []byte) ([]byte, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	st, err := loadState(deps)
	if err != nil {
		return nil, err
	}
	switch name {
	case "state":
		return json.Marshal(st)
	case "balance":
		var q struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, err
		}
		receipt, err := receiptOf(deps, q.Address)
		if err != nil {
			return nil, err
		}
		underlying, err := Redeemed(receipt, st.ExchangeRate)
		if err != nil {
			return nil, err
		}
		return json.Marshal(BalanceResponse{Receipt: receipt, Underlying: underlying})
	case "simulate_deposit":
		var q struct {
			Amount numeric.Uint `json:"amount"`
		}
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, err
		}
		minted, err := Minted(q.Amount, st.ExchangeRate)
		if err != nil {
			return nil, err
		}
		return json.Marshal(SimulateDepositResponse{Minted: minted})
	default:
		return nil, fmt.Errorf("unknown query variant %q", name)
	}
}

func loadState(deps vm.Deps) (State, error) {
	var st State
	found, err := vm.LoadItem(deps.Storage, "state", &st)
	if err != nil {
		return State{}, err
	}
	if !found {
		return State{}, errors.New("market state not found")
	}
	return st, nil
}

func receiptKey(address string) string { return "receipt/" + address }

func receiptOf(deps vm.Deps, address string) (numeric.Uint, error) {
	amount := numeric.ZeroUint()
	if _, err := vm.LoadItem(deps.Storage, receiptKey(address), &amount); err != nil {
		return numeric.Uint{}, err
	}
	return amount, nil
}

func adjustReceipt(deps vm.Deps, address string, amount numeric.Uint, credit bool) error {
	current, err := receiptOf(deps, address)
	if err != nil {
		return err
	}
	var next numeric.Uint
	if credit {
		next, err = current.Add(amount)
	} else {
		if current.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s holds %s, withdrawing %s", errInsufficient, address, current, amount)
		}
		next, err = current.Sub(amount)
	}
	if err != nil {
		return err
	}
	return vm.SaveItem(deps.Storage, receiptKey(address), next)
}

// DepositMessage builds the execute message of a deposit.
func DepositMessage() []byte { return vm.Encode("deposit", nil) }

// WithdrawMessage builds the execute message of a withdrawal.
func WithdrawMessage(amount numeric.Uint, recipient string) []byte {
	return vm.Encode("withdraw", WithdrawMsg{Amount: amount, Recipient: recipient})
}
