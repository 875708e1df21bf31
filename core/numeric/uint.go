package numeric

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow     = errors.New("numeric: overflow")
	ErrUnderflow    = errors.New("numeric: underflow")
	ErrDivideByZero = errors.New("numeric: divide by zero")
	ErrInvalid      = errors.New("numeric: invalid number")
)

// maxUint128 is the largest amount the chain's Uint128 can carry.
var maxUint128 = func() *uint256.Int {
	one := uint256.NewInt(1)
	return new(uint256.Int).Sub(new(uint256.Int).Lsh(one, 128), one)
}()

// Uint is an unsigned 128-bit amount. Intermediate products are computed in
// 256 bits and checked against the 128-bit bound, like the chain's Uint128.
type Uint struct {
	v uint256.Int
}

// NewUint returns x as a Uint.
func NewUint(x uint64) Uint {
	var u Uint
	u.v.SetUint64(x)
	return u
}

// ZeroUint returns 0.
func ZeroUint() Uint { return Uint{} }

// ParseUint parses a base-10 amount.
func ParseUint(s string) (Uint, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Uint{}, fmt.Errorf("%w: empty amount", ErrInvalid)
	}
	var u Uint
	if err := u.v.SetFromDecimal(trimmed); err != nil {
		return Uint{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	if u.v.Gt(maxUint128) {
		return Uint{}, fmt.Errorf("%w: %s exceeds 128 bits", ErrOverflow, trimmed)
	}
	return u, nil
}

// MustParseUint panics when s is not a valid amount. Intended for constants and tests.
func MustParseUint(s string) Uint {
	u, err := ParseUint(s)
	if err != nil {
		panic(err)
	}
	return u
}

func fromInt(v *uint256.Int) (Uint, error) {
	if v.Gt(maxUint128) {
		return Uint{}, ErrOverflow
	}
	return Uint{v: *v}, nil
}

func (u Uint) String() string { return u.v.Dec() }

func (u Uint) IsZero() bool { return u.v.IsZero() }

func (u Uint) Cmp(o Uint) int { return u.v.Cmp(&o.v) }

func (u Uint) Uint64() (uint64, bool) { return u.v.Uint64(), u.v.IsUint64() }

func (u Uint) Add(o Uint) (Uint, error) {
	sum, overflow := new(uint256.Int).AddOverflow(&u.v, &o.v)
	if overflow {
		return Uint{}, ErrOverflow
	}
	return fromInt(sum)
}

func (u Uint) Sub(o Uint) (Uint, error) {
	diff, underflow := new(uint256.Int).SubOverflow(&u.v, &o.v)
	if underflow {
		return Uint{}, fmt.Errorf("%w: %s - %s", ErrUnderflow, u, o)
	}
	return Uint{v: *diff}, nil
}

// SaturatingSub returns max(u-o, 0).
func (u Uint) SaturatingSub(o Uint) Uint {
	if u.v.Lt(&o.v) {
		return Uint{}
	}
	return Uint{v: *new(uint256.Int).Sub(&u.v, &o.v)}
}

func (u Uint) Mul(o Uint) (Uint, error) {
	product, overflow := new(uint256.Int).MulOverflow(&u.v, &o.v)
	if overflow {
		return Uint{}, ErrOverflow
	}
	return fromInt(product)
}

// Div returns floor(u / o).
func (u Uint) Div(o Uint) (Uint, error) {
	if o.IsZero() {
		return Uint{}, ErrDivideByZero
	}
	return Uint{v: *new(uint256.Int).Div(&u.v, &o.v)}, nil
}

// MulRatio returns floor(u * num / den) with a 256-bit intermediate product.
func (u Uint) MulRatio(num, den Uint) (Uint, error) {
	if den.IsZero() {
		return Uint{}, ErrDivideByZero
	}
	product := new(uint256.Int).Mul(&u.v, &num.v)
	return fromInt(product.Div(product, &den.v))
}

// MulDecimal returns floor(u * d).
func (u Uint) MulDecimal(d Decimal) (Uint, error) {
	return u.MulRatio(Uint{v: d.atomics}, Uint{v: *decimalFractional})
}

// DivDecimal returns floor(u / d).
func (u Uint) DivDecimal(d Decimal) (Uint, error) {
	return u.MulRatio(Uint{v: *decimalFractional}, Uint{v: d.atomics})
}

func (u Uint) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *Uint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: amounts are encoded as strings", ErrInvalid)
	}
	parsed, err := ParseUint(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func (u *Uint) UnmarshalText(text []byte) error {
	parsed, err := ParseUint(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
