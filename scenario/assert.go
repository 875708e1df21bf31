package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clonetest/core/numeric"
	"clonetest/core/types"
)

// Assertion checks the state a scenario left behind. The set of assertions
// is closed apart from AssertFunc.
type Assertion interface {
	Kind() string
	check(ctx context.Context, c *Context) error
}

// ErrAssertion marks a failed assertion.
var ErrAssertion = errors.New("assertion failed")

// AssertBalance checks an account balance. Amount may be a variable
// reference.
type AssertBalance struct {
	Address string
	Denom   string
	Amount  string
}

// AssertQuery checks a smart query response, or the field at Path, against
// Equals.
type AssertQuery struct {
	Contract string
	Msg      json.RawMessage
	Path     string
	Equals   string
}

// AssertEvent checks that an event with Type carrying Key=Value was emitted.
// An empty Value matches any value. With Absent the event must not exist.
type AssertEvent struct {
	Type     string
	Key      string
	Value    string
	Contract string
	Absent   bool
}

// AssertFunc runs arbitrary checks.
type AssertFunc struct {
	Name string
	Fn   func(ctx context.Context, c *Context) error
}

var (
	_ Assertion = AssertBalance{}
	_ Assertion = AssertQuery{}
	_ Assertion = AssertEvent{}
	_ Assertion = AssertFunc{}
)

func (AssertBalance) Kind() string { return "assert_balance" }
func (AssertQuery) Kind() string   { return "assert_query" }
func (AssertEvent) Kind() string   { return "assert_event" }
func (AssertFunc) Kind() string    { return "assert_func" }

func (a AssertBalance) check(ctx context.Context, c *Context) error {
	address, err := c.resolve(a.Address)
	if err != nil {
		return err
	}
	raw, err := c.resolve(a.Amount)
	if err != nil {
		return err
	}
	want, err := numeric.ParseUint(raw)
	if err != nil {
		return fmt.Errorf("assert balance: %w", err)
	}
	got, err := c.overlay.Balance(ctx, address, a.Denom)
	if err != nil {
		return err
	}
	if got.Cmp(want) != 0 {
		return fmt.Errorf("%w: balance of %s is %s%s, want %s%s", ErrAssertion, address, got, a.Denom, want, a.Denom)
	}
	return nil
}

func (a AssertQuery) check(ctx context.Context, c *Context) error {
	contract, err := c.resolve(a.Contract)
	if err != nil {
		return err
	}
	msg, err := c.expand(a.Msg)
	if err != nil {
		return err
	}
	want, err := c.resolve(a.Equals)
	if err != nil {
		return err
	}
	out, err := c.env.QuerySmart(ctx, c.overlay, contract, msg)
	if err != nil {
		return err
	}
	got := string(out)
	if a.Path != "" {
		if got, err = lookupPath(out, a.Path); err != nil {
			return fmt.Errorf("%w: %v", ErrAssertion, err)
		}
	}
	if got != want {
		return fmt.Errorf("%w: query %s of %s is %s, want %s", ErrAssertion, a.Path, contract, got, want)
	}
	return nil
}

func (a AssertEvent) check(_ context.Context, c *Context) error {
	want, err := c.resolve(a.Value)
	if err != nil {
		return err
	}
	contract, err := c.resolve(a.Contract)
	if err != nil {
		return err
	}
	found := false
	for _, ev := range c.events.OfType(a.Type) {
		if matchEvent(ev, a.Key, want, contract) {
			found = true
			break
		}
	}
	switch {
	case found && a.Absent:
		return fmt.Errorf("%w: unexpected %s event with %s=%s", ErrAssertion, a.Type, a.Key, want)
	case !found && !a.Absent:
		return fmt.Errorf("%w: no %s event with %s=%s", ErrAssertion, a.Type, a.Key, want)
	}
	return nil
}

func matchEvent(ev types.Event, key, value, contract string) bool {
	if contract != "" {
		if addr, _ := ev.Get("_contract_address"); addr != contract {
			return false
		}
	}
	if key == "" {
		return true
	}
	got, ok := ev.Get(key)
	return ok && (value == "" || got == value)
}

func (a AssertFunc) check(ctx context.Context, c *Context) error {
	if a.Fn == nil {
		return fmt.Errorf("assertion %q has no function", a.Name)
	}
	if err := a.Fn(ctx, c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAssertion, a.Name, err)
	}
	return nil
}
