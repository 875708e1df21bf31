package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	coreerrors "clonetest/core/errors"
	"clonetest/core/types"
)

// Step is one scenario action. The set of steps is closed.
type Step interface {
	Kind() string
	run(ctx context.Context, c *Context) error
}

// Upload stores bytecode on the fork and saves its code id.
type Upload struct {
	Code []byte
	Save string
}

// Instantiate deploys a fresh contract and saves its address. Code is a code
// id or a variable reference.
type Instantiate struct {
	Sender string
	Code   string
	Msg    json.RawMessage
	Funds  types.Coins
	Label  string
	Admin  string
	Save   string
}

// Rebind points an existing address at new code without an admin check.
// When Msg is set the new code's migrate entry point runs on the existing
// storage.
type Rebind struct {
	Contract string
	Code     string
	Msg      json.RawMessage
}

// Migrate is the admin-gated migration a chain transaction performs.
type Migrate struct {
	Sender    string
	Contract  string
	Code      string
	Msg       json.RawMessage
	ExpectErr string
}

// Execute sends an execute message. When ExpectErr is set the message must
// fail with a matching error; the failure is then part of the scenario.
type Execute struct {
	Sender    string
	Contract  string
	Msg       json.RawMessage
	Funds     types.Coins
	ExpectErr string
	Save      string
}

// Query runs a smart query and saves the response, or the field at Path.
type Query struct {
	Contract string
	Msg      json.RawMessage
	Path     string
	Save     string
}

// Send moves coins between accounts.
type Send struct {
	From   string
	To     string
	Amount types.Coins
}

var (
	_ Step = Upload{}
	_ Step = Instantiate{}
	_ Step = Rebind{}
	_ Step = Migrate{}
	_ Step = Execute{}
	_ Step = Query{}
	_ Step = Send{}
)

func (Upload) Kind() string      { return "upload" }
func (Instantiate) Kind() string { return "instantiate" }
func (Rebind) Kind() string      { return "rebind" }
func (Migrate) Kind() string     { return "migrate" }
func (Execute) Kind() string     { return "execute" }
func (Query) Kind() string       { return "query" }
func (Send) Kind() string        { return "send" }

func (s Upload) run(ctx context.Context, c *Context) error {
	id, err := c.manager.Upload(ctx, c.overlay, s.Code)
	if err != nil {
		return err
	}
	c.record(Message{Kind: s.Kind(), CodeID: id}, nil)
	c.SetVar(s.Save, strconv.FormatUint(id, 10))
	return nil
}

func (s Instantiate) run(ctx context.Context, c *Context) error {
	sender, err := c.resolve(s.Sender)
	if err != nil {
		return err
	}
	codeID, err := c.codeID(s.Code)
	if err != nil {
		return err
	}
	admin, err := c.resolve(s.Admin)
	if err != nil {
		return err
	}
	msg, err := c.expand(s.Msg)
	if err != nil {
		return err
	}
	addr, res, err := c.manager.Instantiate(ctx, c.overlay, sender, codeID, msg, s.Funds, s.Label, admin)
	m := Message{Kind: s.Kind(), Sender: sender, CodeID: codeID, Msg: msg, Funds: s.Funds.String()}
	if err != nil {
		m.Error = err.Error()
		c.record(m, nil)
		return err
	}
	m.Contract = addr
	c.record(m, res.Events)
	c.SetVar(s.Save, addr)
	return nil
}

func (s Rebind) run(ctx context.Context, c *Context) error {
	contract, err := c.resolve(s.Contract)
	if err != nil {
		return err
	}
	codeID, err := c.codeID(s.Code)
	if err != nil {
		return err
	}
	msg, err := c.expand(s.Msg)
	if err != nil {
		return err
	}
	res, err := c.manager.Rebind(ctx, c.overlay, contract, codeID, msg)
	m := Message{Kind: s.Kind(), Contract: contract, CodeID: codeID, Msg: msg}
	if err != nil {
		m.Error = err.Error()
		c.record(m, nil)
		return err
	}
	c.record(m, res.Events)
	c.bindings = append(c.bindings, res.Binding)
	return nil
}

func (s Migrate) run(ctx context.Context, c *Context) error {
	sender, err := c.resolve(s.Sender)
	if err != nil {
		return err
	}
	contract, err := c.resolve(s.Contract)
	if err != nil {
		return err
	}
	codeID, err := c.codeID(s.Code)
	if err != nil {
		return err
	}
	msg, err := c.expand(s.Msg)
	if err != nil {
		return err
	}
	res, err := c.manager.Migrate(ctx, c.overlay, sender, contract, codeID, msg)
	m := Message{Kind: s.Kind(), Sender: sender, Contract: contract, CodeID: codeID, Msg: msg}
	if err != nil {
		m.Error = err.Error()
		c.record(m, nil)
		return expected(err, s.ExpectErr)
	}
	c.record(m, res.Events)
	c.bindings = append(c.bindings, res.Binding)
	return unexpectedSuccess(s.ExpectErr)
}

func (s Execute) run(ctx context.Context, c *Context) error {
	sender, err := c.resolve(s.Sender)
	if err != nil {
		return err
	}
	contract, err := c.resolve(s.Contract)
	if err != nil {
		return err
	}
	msg, err := c.expand(s.Msg)
	if err != nil {
		return err
	}
	res, err := c.env.Execute(ctx, c.overlay, sender, contract, msg, s.Funds)
	m := Message{Kind: s.Kind(), Sender: sender, Contract: contract, Msg: msg, Funds: s.Funds.String()}
	if err != nil {
		m.Error = err.Error()
		c.record(m, nil)
		return expected(err, s.ExpectErr)
	}
	c.record(m, res.Events)
	c.SetVar(s.Save, string(res.Data))
	return unexpectedSuccess(s.ExpectErr)
}

func (s Query) run(ctx context.Context, c *Context) error {
	contract, err := c.resolve(s.Contract)
	if err != nil {
		return err
	}
	msg, err := c.expand(s.Msg)
	if err != nil {
		return err
	}
	out, err := c.env.QuerySmart(ctx, c.overlay, contract, msg)
	if err != nil {
		return err
	}
	value := string(out)
	if s.Path != "" {
		if value, err = lookupPath(out, s.Path); err != nil {
			return err
		}
	}
	c.SetVar(s.Save, value)
	return nil
}

func (s Send) run(ctx context.Context, c *Context) error {
	from, err := c.resolve(s.From)
	if err != nil {
		return err
	}
	to, err := c.resolve(s.To)
	if err != nil {
		return err
	}
	res, err := c.env.Send(ctx, c.overlay, from, to, s.Amount)
	m := Message{Kind: s.Kind(), Sender: from, Contract: to, Funds: s.Amount.String()}
	if err != nil {
		m.Error = err.Error()
		c.record(m, nil)
		return err
	}
	c.record(m, res.Events)
	return nil
}

var errUnexpectedSuccess = errors.New("step succeeded but an error was expected")

// errorKinds names the errors an ExpectErr may match by kind.
var errorKinds = map[string]error{
	"reverted":           coreerrors.ErrContractReverted,
	"insufficient_funds": coreerrors.ErrInsufficientFunds,
	"unauthorized":       coreerrors.ErrUnauthorized,
	"unknown_contract":   coreerrors.ErrUnknownContract,
	"unknown_code":       coreerrors.ErrUnknownCode,
	"migration":          coreerrors.ErrMigration,
}

// expected reports whether err satisfies expect: an error kind name or a
// substring of the error message. Harness failures and cancellation never
// satisfy it.
func expected(err error, expect string) error {
	expect = strings.TrimSpace(expect)
	if expect == "" || coreerrors.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if target, ok := errorKinds[expect]; ok {
		if errors.Is(err, target) {
			return nil
		}
	} else if strings.Contains(err.Error(), expect) {
		return nil
	}
	return fmt.Errorf("expected %q: %w", expect, err)
}

func unexpectedSuccess(expect string) error {
	if strings.TrimSpace(expect) == "" {
		return nil
	}
	return fmt.Errorf("%w: %q", errUnexpectedSuccess, expect)
}
