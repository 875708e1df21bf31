package vm

import (
	"context"
	"time"

	"clonetest/core/numeric"
	"clonetest/core/state"
	"clonetest/core/types"
)

// ContractInfo is the binding of a contract address to its code.
type ContractInfo = state.ContractInfo

// Storage is the raw key/value store of the executing contract. Get reports
// found=false for a missing key, which is distinct from an empty value.
type Storage interface {
	Get(key []byte) (value []byte, found bool, err error)
	Set(key, value []byte)
	Remove(key []byte)
}

// Querier answers the read-only queries a contract may issue while executing.
type Querier interface {
	QuerySmart(ctx context.Context, contract string, msg []byte) ([]byte, error)
	QueryRaw(ctx context.Context, contract string, key []byte) ([]byte, bool, error)
	Balance(ctx context.Context, address, denom string) (numeric.Uint, error)
	ContractInfo(ctx context.Context, contract string) (ContractInfo, error)
}

// Deps bundles the state handles passed to a contract entry point.
type Deps struct {
	Storage Storage
	Querier Querier
}

// BlockEnv describes the block and contract a message executes in.
type BlockEnv struct {
	ChainID  string
	Height   uint64
	Time     time.Time
	Contract string
}

// MessageInfo carries the sender of a message and the funds sent along.
type MessageInfo struct {
	Sender string
	Funds  types.Coins
}

// Msg is a message a contract dispatches after it returns. The set of
// messages is closed: BankSend and WasmExecute.
type Msg interface {
	isMsg()
}

// BankSend moves coins from the contract to To.
type BankSend struct {
	To     string
	Amount types.Coins
}

// WasmExecute executes another contract with the dispatching contract as
// sender.
type WasmExecute struct {
	Contract string
	Msg      []byte
	Funds    types.Coins
}

func (BankSend) isMsg()    {}
func (WasmExecute) isMsg() {}

// Response is the result of a contract entry point. Attributes land on the
// "wasm" event, Events become "wasm-<type>" events.
type Response struct {
	Messages   []Msg
	Attributes []types.Attribute
	Events     types.Events
	Data       []byte
}

// NewResponse returns an empty response.
func NewResponse() *Response { return &Response{} }

// AddAttribute appends a key/value pair to the wasm event.
func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, types.Attribute{Key: key, Value: value})
	return r
}

// AddMessage appends a message dispatched after the contract returns.
func (r *Response) AddMessage(msg Msg) *Response {
	r.Messages = append(r.Messages, msg)
	return r
}

// AddEvent appends a custom event.
func (r *Response) AddEvent(ev types.Event) *Response {
	r.Events = append(r.Events, ev)
	return r
}

// Program is a contract implementation of the execution ABI.
type Program interface {
	Instantiate(ctx context.Context, deps Deps, env BlockEnv, info MessageInfo, msg []byte) (*Response, error)
	Execute(ctx context.Context, deps Deps, env BlockEnv, info MessageInfo, msg []byte) (*Response, error)
	Query(ctx context.Context, deps Deps, env BlockEnv, msg []byte) ([]byte, error)
}

// Migrator is implemented by programs that accept a migrate message.
type Migrator interface {
	Migrate(ctx context.Context, deps Deps, env BlockEnv, msg []byte) (*Response, error)
}

// Result is the outcome of a top-level message.
type Result struct {
	Events types.Events
	Data   []byte
}
