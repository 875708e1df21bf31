package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JSON-RPC method names served by the remote chain gateway. Every state
// method takes the height it is pinned to as its last parameter.
const (
	MethodStatus       = "status"
	MethodBlock        = "block"
	MethodRaw          = "wasm_raw"
	MethodContractInfo = "wasm_contract_info"
	MethodCode         = "wasm_code"
	MethodBalance      = "bank_balance"
)

// Error codes returned by the gateway.
const (
	CodeHeightPruned   = -32001
	CodeHeightInFuture = -32002
	CodeInternal       = -32603
	CodeUnavailable    = -32005
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
)

// Chain is the height-pinned view of the live network consumed by the fork.
// Implementations must not substitute defaults for failed queries.
type Chain interface {
	Status(ctx context.Context) (*Status, error)
	Block(ctx context.Context, height uint64) (*Block, error)
	QueryRaw(ctx context.Context, contract string, key []byte, height uint64) (RawValue, error)
	ContractInfo(ctx context.Context, contract string, height uint64) (*ContractInfoResult, error)
	Code(ctx context.Context, codeID uint64, height uint64) (*CodeResult, error)
	Balance(ctx context.Context, address, denom string, height uint64) (string, error)
}

type Status struct {
	ChainID        string `json:"chain_id"`
	LatestHeight   uint64 `json:"latest_height"`
	EarliestHeight uint64 `json:"earliest_height"`
}

type Block struct {
	ChainID    string    `json:"chain_id"`
	Height     uint64    `json:"height"`
	Hash       string    `json:"hash"`
	Time       time.Time `json:"time"`
	LastCodeID uint64    `json:"last_code_id"`
}

// RawValue distinguishes a missing key (Found=false) from an empty value.
type RawValue struct {
	Found bool   `json:"found"`
	Value []byte `json:"value,omitempty"`
}

type ContractInfo struct {
	CodeID  uint64 `json:"code_id"`
	Creator string `json:"creator"`
	Admin   string `json:"admin,omitempty"`
	Label   string `json:"label"`
}

type ContractInfoResult struct {
	Found bool          `json:"found"`
	Info  *ContractInfo `json:"info,omitempty"`
}

type CodeResult struct {
	Found bool   `json:"found"`
	Code  []byte `json:"code,omitempty"`
}

type BalanceResult struct {
	Amount string `json:"amount"`
}

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
