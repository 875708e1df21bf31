package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clonetest/contracts/market"
	"clonetest/contracts/pair"
	"clonetest/contracts/stakepool"
	coreerrors "clonetest/core/errors"
	"clonetest/core/numeric"
	"clonetest/core/types"
	"clonetest/vm"
)

// ContractName is recorded in the version item of every adapter.
const ContractName = "clonetest:adapter"

// Bytecode of the two adapter releases.
var (
	CodeV1 = []byte("clonetest/contracts/adapter:v1")
	CodeV2 = []byte("clonetest/contracts/adapter:v2")
)

// Storage layout. Release 1 keeps the usage fee in two loose items; release 2
// keeps one structured record.
const (
	keyVersion      = "contract_info"
	keyConfig       = "config"
	keyLegacyRate   = "swap_fee"
	keyLegacyTarget = "fee_recipient"
	keyUsageFee     = "usage_fee"
	positionPrefix  = "position/"
)

var (
	errFeeMissing = errors.New("usage fee not configured")
	errFeeRate    = errors.New("usage fee must be below 1")
	errOneCoin    = errors.New("exactly one coin must be sent")
	errNoPosition = errors.New("insufficient position")
)

// UsageFee is charged on the offered amount of every inflow action and paid
// to Recipient.
type UsageFee struct {
	Rate      numeric.Decimal `json:"swap_fee"`
	Recipient string          `json:"recipient"`
}

// Validate checks the fee bounds.
func (f UsageFee) Validate() error {
	if f.Rate.Cmp(numeric.OneDecimal()) >= 0 {
		return errFeeRate
	}
	if !f.Rate.IsZero() && f.Recipient == "" {
		return errors.New("usage fee recipient must be set")
	}
	return nil
}

// Charge splits amount into the fee floor(amount*rate) and the remainder.
func (f UsageFee) Charge(amount numeric.Uint) (fee, net numeric.Uint, err error) {
	fee, err = amount.MulDecimal(f.Rate)
	if err != nil {
		return numeric.Uint{}, numeric.Uint{}, err
	}
	net, err = amount.Sub(fee)
	return fee, net, err
}

// Version is the version item, the same record the chain's contract version
// standard keeps.
type Version struct {
	Contract string `json:"contract"`
	Version  string `json:"version"`
}

type Config struct {
	Kind     Kind   `json:"kind"`
	Provider string `json:"provider"`
	Owner    string `json:"owner"`
}

type InstantiateMsg struct {
	Kind     Kind     `json:"kind"`
	Provider string   `json:"provider"`
	UsageFee UsageFee `json:"usage_fee"`
}

type MigrateMsg struct {
	UsageFee *UsageFee `json:"usage_fee,omitempty"`
}

type ConfigResponse struct {
	Kind     Kind     `json:"kind"`
	Provider string   `json:"provider"`
	UsageFee UsageFee `json:"usage_fee"`
	Version  string   `json:"version"`
}

type PositionResponse struct {
	Amount numeric.Uint `json:"amount"`
}

// V1 is the first adapter release.
type V1 struct{ base }

// V2 stores the usage fee as a structured record and migrates release 1
// storage.
type V2 struct{ base }

// NewV1 returns release 1.
func NewV1() V1 { return V1{base{version: "1"}} }

// NewV2 returns release 2.
func NewV2() V2 { return V2{base{version: "2"}} }

var (
	_ vm.Program  = V1{}
	_ vm.Program  = V2{}
	_ vm.Migrator = V2{}
)

// Register adds both adapter releases and the provider programs to registry.
func Register(registry *vm.Registry) {
	registry.Register(CodeV1, NewV1())
	registry.Register(CodeV2, NewV2())
	registry.Register(pair.Code, pair.Program{})
	registry.Register(stakepool.Code, stakepool.Program{})
	registry.Register(market.Code, market.Program{})
}

type base struct {
	version string
}

func (b base) Instantiate(ctx context.Context, deps vm.Deps, _ vm.BlockEnv, info vm.MessageInfo, msg []byte) (*vm.Response, error) {
	var init InstantiateMsg
	if err := json.Unmarshal(msg, &init); err != nil {
		return nil, fmt.Errorf("parse instantiate: %w", err)
	}
	if _, err := CapabilityFor(init.Kind); err != nil {
		return nil, err
	}
	if init.Provider == "" {
		return nil, errors.New("provider must be set")
	}
	if _, err := deps.Querier.ContractInfo(ctx, init.Provider); err != nil {
		return nil, err
	}
	if err := init.UsageFee.Validate(); err != nil {
		return nil, err
	}
	if err := vm.SaveItem(deps.Storage, keyVersion, Version{Contract: ContractName, Version: b.version}); err != nil {
		return nil, err
	}
	if err := vm.SaveItem(deps.Storage, keyConfig, Config{Kind: init.Kind, Provider: init.Provider, Owner: info.Sender}); err != nil {
		return nil, err
	}
	if err := b.saveFee(deps, init.UsageFee); err != nil {
		return nil, err
	}
	return vm.NewResponse().
		AddAttribute("action", "instantiate").
		AddAttribute("kind", string(init.Kind)).
		AddAttribute("provider", init.Provider).
		AddAttribute("swap_fee", init.UsageFee.Rate.String()), nil
}

func (b base) Execute(ctx context.Context, deps vm.Deps, _ vm.BlockEnv, info vm.MessageInfo, msg []byte) (*vm.Response, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(deps)
	if err != nil {
		return nil, err
	}
	switch name {
	case "execute_action":
		var m struct {
			Action json.RawMessage `json:"action"`
		}
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("parse execute_action: %w", err)
		}
		return b.executeAction(ctx, deps, info, cfg, m.Action)
	case "update_fee":
		if info.Sender != cfg.Owner {
			return nil, fmt.Errorf("%w: only %s may update the usage fee", coreerrors.ErrUnauthorized, cfg.Owner)
		}
		var fee UsageFee
		if err := json.Unmarshal(body, &fee); err != nil {
			return nil, fmt.Errorf("parse update_fee: %w", err)
		}
		if err := fee.Validate(); err != nil {
			return nil, err
		}
		if err := b.saveFee(deps, fee); err != nil {
			return nil, err
		}
		return vm.NewResponse().AddAttribute("action", "update_fee").AddAttribute("swap_fee", fee.Rate.String()), nil
	default:
		return nil, fmt.Errorf("unknown execute variant %q", name)
	}
}

func (b base) executeAction(ctx context.Context, deps vm.Deps, info vm.MessageInfo, cfg Config, rawAction json.RawMessage) (*vm.Response, error) {
	action, body, err := vm.Dispatch(rawAction)
	if err != nil {
		return nil, err
	}
	capability, err := CapabilityFor(cfg.Kind)
	if err != nil {
		return nil, err
	}
	inflow, err := capability.Inflow(action)
	if err != nil {
		return nil, err
	}
	fee, err := b.loadFee(deps)
	if err != nil {
		return nil, err
	}

	req := request{Provider: cfg.Provider, User: info.Sender, Action: action, Body: body}
	resp := vm.NewResponse().
		AddAttribute("action", "execute_action").
		AddAttribute("adapter_action", action).
		AddAttribute("kind", string(cfg.Kind)).
		AddAttribute("provider", cfg.Provider)
	if inflow {
		funds, err := info.Funds.Normalize()
		if err != nil {
			return nil, err
		}
		if len(funds) != 1 {
			return nil, errOneCoin
		}
		feeAmount, net, err := fee.Charge(funds[0].Amount)
		if err != nil {
			return nil, err
		}
		if net.IsZero() {
			return nil, errors.New("offer is consumed by the usage fee")
		}
		req.Offer = types.Coin{Denom: funds[0].Denom, Amount: net}
		resp.AddAttribute("offer_amount", funds[0].Amount.String()).
			AddAttribute("usage_fee", feeAmount.String())
		if !feeAmount.IsZero() {
			resp.AddMessage(vm.BankSend{To: fee.Recipient, Amount: types.Coins{{Denom: funds[0].Denom, Amount: feeAmount}}})
		}
	} else if len(info.Funds) > 0 {
		return nil, fmt.Errorf("%s does not accept funds", action)
	}

	p, err := capability.plan(ctx, deps.Querier, req)
	if err != nil {
		return nil, err
	}
	if !p.Credit.IsZero() || !p.Debit.IsZero() {
		if err := adjustPosition(deps, info.Sender, p.Credit, p.Debit); err != nil {
			return nil, err
		}
	}
	resp.AddMessage(vm.WasmExecute{Contract: cfg.Provider, Msg: p.Msg, Funds: p.Funds})
	return resp, nil
}

func (b base) Query(_ context.Context, deps vm.Deps, _ vm.BlockEnv, msg []byte) ([]byte, error) {
	name, body, err := vm.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	switch name {
	case "config":
		cfg, err := loadConfig(deps)
		if err != nil {
			return nil, err
		}
		var ver Version
		if _, err := vm.LoadItem(deps.Storage, keyVersion, &ver); err != nil {
			return nil, err
		}
		fee, err := b.loadFee(deps)
		if err != nil && !errors.Is(err, errFeeMissing) {
			return nil, err
		}
		return json.Marshal(ConfigResponse{Kind: cfg.Kind, Provider: cfg.Provider, UsageFee: fee, Version: ver.Version})
	case "position":
		var q struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, err
		}
		amount, err := positionOf(deps, q.Address)
		if err != nil {
			return nil, err
		}
		return json.Marshal(PositionResponse{Amount: amount})
	default:
		return nil, fmt.Errorf("unknown query variant %q", name)
	}
}

// Migrate upgrades release 1 storage: the loose fee items are folded into one
// structured record. Migrating a release 2 adapter only applies the optional
// fee override.
func (b V2) Migrate(_ context.Context, deps vm.Deps, _ vm.BlockEnv, msg []byte) (*vm.Response, error) {
	var m MigrateMsg
	if len(msg) > 0 {
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil, fmt.Errorf("parse migrate: %w", err)
		}
	}
	var ver Version
	found, err := vm.LoadItem(deps.Storage, keyVersion, &ver)
	if err != nil {
		return nil, err
	}
	if !found || ver.Contract != ContractName {
		return nil, fmt.Errorf("cannot migrate from %q", ver.Contract)
	}

	var fee UsageFee
	switch ver.Version {
	case "1":
		fee, err = loadLegacyFee(deps)
		if err != nil {
			return nil, err
		}
		deps.Storage.Remove([]byte(keyLegacyRate))
		deps.Storage.Remove([]byte(keyLegacyTarget))
	case "2":
		fee, err = b.loadFee(deps)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported adapter version %q", ver.Version)
	}
	if m.UsageFee != nil {
		fee = *m.UsageFee
	}
	if err := fee.Validate(); err != nil {
		return nil, err
	}
	if err := vm.SaveItem(deps.Storage, keyUsageFee, fee); err != nil {
		return nil, err
	}
	if err := vm.SaveItem(deps.Storage, keyVersion, Version{Contract: ContractName, Version: b.version}); err != nil {
		return nil, err
	}
	return vm.NewResponse().
		AddAttribute("action", "migrate").
		AddAttribute("from_version", ver.Version).
		AddAttribute("to_version", b.version), nil
}

func (b base) saveFee(deps vm.Deps, fee UsageFee) error {
	if b.version == "1" {
		if err := vm.SaveItem(deps.Storage, keyLegacyRate, fee.Rate); err != nil {
			return err
		}
		return vm.SaveItem(deps.Storage, keyLegacyTarget, fee.Recipient)
	}
	return vm.SaveItem(deps.Storage, keyUsageFee, fee)
}

func (b base) loadFee(deps vm.Deps) (UsageFee, error) {
	if b.version == "1" {
		return loadLegacyFee(deps)
	}
	var fee UsageFee
	found, err := vm.LoadItem(deps.Storage, keyUsageFee, &fee)
	if err != nil {
		return UsageFee{}, err
	}
	if !found {
		return UsageFee{}, errFeeMissing
	}
	return fee, nil
}

func loadLegacyFee(deps vm.Deps) (UsageFee, error) {
	var fee UsageFee
	found, err := vm.LoadItem(deps.Storage, keyLegacyRate, &fee.Rate)
	if err != nil {
		return UsageFee{}, err
	}
	if !found {
		return UsageFee{}, errFeeMissing
	}
	if _, err := vm.LoadItem(deps.Storage, keyLegacyTarget, &fee.Recipient); err != nil {
		return UsageFee{}, err
	}
	return fee, nil
}

func loadConfig(deps vm.Deps) (Config, error) {
	var cfg Config
	found, err := vm.LoadItem(deps.Storage, keyConfig, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !found {
		return Config{}, errors.New("adapter config not found")
	}
	return cfg, nil
}

func positionOf(deps vm.Deps, address string) (numeric.Uint, error) {
	amount := numeric.ZeroUint()
	if _, err := vm.LoadItem(deps.Storage, positionPrefix+address, &amount); err != nil {
		return numeric.Uint{}, err
	}
	return amount, nil
}

func adjustPosition(deps vm.Deps, address string, credit, debit numeric.Uint) error {
	current, err := positionOf(deps, address)
	if err != nil {
		return err
	}
	next, err := current.Add(credit)
	if err != nil {
		return err
	}
	if next.Cmp(debit) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", errNoPosition, address, next, debit)
	}
	next, err = next.Sub(debit)
	if err != nil {
		return err
	}
	if next.IsZero() {
		deps.Storage.Remove([]byte(positionPrefix + address))
		return nil
	}
	return vm.SaveItem(deps.Storage, positionPrefix+address, next)
}

// ActionMessage builds the execute_action message of a generic action.
func ActionMessage(action string, body interface{}) []byte {
	return vm.Encode("execute_action", map[string]json.RawMessage{"action": vm.Encode(action, body)})
}

// InstantiateMessage builds the instantiate message of an adapter.
func InstantiateMessage(kind Kind, provider string, fee UsageFee) []byte {
	raw, err := json.Marshal(InstantiateMsg{Kind: kind, Provider: provider, UsageFee: fee})
	if err != nil {
		panic(err)
	}
	return raw
}
