package numeric

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DecimalPlaces is the number of fractional digits carried by Decimal.
const DecimalPlaces = 18

var decimalFractional = uint256.NewInt(1_000_000_000_000_000_000)

// Decimal is an unsigned fixed-point number with 18 fractional digits. All
// operations round toward zero.
type Decimal struct {
	atomics uint256.Int
}

// ZeroDecimal returns 0.
func ZeroDecimal() Decimal { return Decimal{} }

// OneDecimal returns 1.
func OneDecimal() Decimal { return Decimal{atomics: *decimalFractional} }

// DecimalFromAtomics interprets atomics as value * 10^-18.
func DecimalFromAtomics(atomics Uint) Decimal { return Decimal{atomics: atomics.v} }

// DecimalFromRatio returns floor(num / den) with 18 digits of precision.
func DecimalFromRatio(num, den Uint) (Decimal, error) {
	atomics, err := num.MulRatio(Uint{v: *decimalFractional}, den)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{atomics: atomics.v}, nil
}

// ParseDecimal parses an exact decimal string such as "0.003". Inputs with
// more than 18 fractional digits are rejected rather than rounded.
func ParseDecimal(s string) (Decimal, error) {
	trimmed := strings.TrimSpace(s)
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	if d.Sign() < 0 {
		return Decimal{}, fmt.Errorf("%w: %q is negative", ErrInvalid, s)
	}
	shifted := d.Shift(DecimalPlaces)
	if !shifted.Equal(shifted.Truncate(0)) {
		return Decimal{}, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalid, s, DecimalPlaces)
	}
	atomics, overflow := uint256.FromBig(shifted.BigInt())
	if overflow || atomics.Gt(maxUint128) {
		return Decimal{}, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return Decimal{atomics: *atomics}, nil
}

// MustParseDecimal panics on malformed input.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) Atomics() Uint { return Uint{v: d.atomics} }

func (d Decimal) IsZero() bool { return d.atomics.IsZero() }

func (d Decimal) Cmp(o Decimal) int { return d.atomics.Cmp(&o.atomics) }

func (d Decimal) Add(o Decimal) (Decimal, error) {
	sum, err := d.Atomics().Add(o.Atomics())
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{atomics: sum.v}, nil
}

func (d Decimal) Sub(o Decimal) (Decimal, error) {
	diff, err := d.Atomics().Sub(o.Atomics())
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{atomics: diff.v}, nil
}

// Mul returns floor(d * o).
func (d Decimal) Mul(o Decimal) (Decimal, error) {
	product, err := d.Atomics().MulRatio(o.Atomics(), Uint{v: *decimalFractional})
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{atomics: product.v}, nil
}

// Inv returns floor(1 / d).
func (d Decimal) Inv() (Decimal, error) {
	if d.IsZero() {
		return Decimal{}, ErrDivideByZero
	}
	return DecimalFromRatio(Uint{v: *decimalFractional}, d.Atomics())
}

func (d Decimal) String() string {
	return decimal.NewFromBigInt(d.atomics.ToBig(), -DecimalPlaces).String()
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: decimals are encoded as strings", ErrInvalid)
	}
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := ParseDecimal(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
