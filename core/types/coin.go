package types

import (
	"fmt"
	"sort"
	"strings"

	"clonetest/core/numeric"
)

// Coin is an amount of a single native denomination.
type Coin struct {
	Denom  string       `json:"denom" yaml:"denom"`
	Amount numeric.Uint `json:"amount" yaml:"amount"`
}

// NewCoin builds a coin from a uint64 amount.
func NewCoin(denom string, amount uint64) Coin {
	return Coin{Denom: denom, Amount: numeric.NewUint(amount)}
}

func (c Coin) String() string { return c.Amount.String() + c.Denom }

// Coins is a list of coins.
type Coins []Coin

// Normalize merges duplicate denominations, drops zero amounts and sorts by
// denom, which is the canonical order used by the bank module.
func (cs Coins) Normalize() (Coins, error) {
	merged := make(map[string]numeric.Uint, len(cs))
	for _, c := range cs {
		denom := strings.TrimSpace(c.Denom)
		if denom == "" {
			return nil, fmt.Errorf("coin denom must not be empty")
		}
		sum, err := merged[denom].Add(c.Amount)
		if err != nil {
			return nil, fmt.Errorf("coin %s: %w", denom, err)
		}
		merged[denom] = sum
	}
	out := make(Coins, 0, len(merged))
	for denom, amount := range merged {
		if amount.IsZero() {
			continue
		}
		out = append(out, Coin{Denom: denom, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out, nil
}

// AmountOf returns the amount of denom, zero when absent.
func (cs Coins) AmountOf(denom string) numeric.Uint {
	total := numeric.ZeroUint()
	for _, c := range cs {
		if c.Denom == denom {
			total, _ = total.Add(c.Amount)
		}
	}
	return total
}

func (cs Coins) String() string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}
