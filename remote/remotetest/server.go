package remotetest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"clonetest/remote"
)

// NewServer exposes chain over JSON-RPC. Callers must Close the server.
func NewServer(chain remote.Chain) *httptest.Server {
	return httptest.NewServer(Handler(chain))
}

// Handler returns the JSON-RPC handler serving chain.
func Handler(chain remote.Chain) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err := dispatch(r.Context(), chain, req.Method, req.Params)
		resp := remote.Response{JSONRPC: "2.0", ID: req.ID}
		if err != nil {
			var rpcErr *remote.RPCError
			if !errors.As(err, &rpcErr) {
				rpcErr = &remote.RPCError{Code: remote.CodeInternal, Message: err.Error()}
			}
			resp.Error = rpcErr
		} else {
			encoded, encErr := json.Marshal(result)
			if encErr != nil {
				http.Error(w, encErr.Error(), http.StatusInternalServerError)
				return
			}
			resp.Result = encoded
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func dispatch(ctx context.Context, chain remote.Chain, method string, params []json.RawMessage) (interface{}, error) {
	arg := func(i int, out interface{}) error {
		if i >= len(params) {
			return &remote.RPCError{Code: remote.CodeInvalidParams, Message: fmt.Sprintf("missing param %d", i)}
		}
		if err := json.Unmarshal(params[i], out); err != nil {
			return &remote.RPCError{Code: remote.CodeInvalidParams, Message: err.Error()}
		}
		return nil
	}
	var (
		contract, address, denom, keyHex string
		height, codeID                   uint64
	)
	switch method {
	case remote.MethodStatus:
		return chain.Status(ctx)
	case remote.MethodBlock:
		if err := arg(0, &height); err != nil {
			return nil, err
		}
		return chain.Block(ctx, height)
	case remote.MethodRaw:
		if err := errors.Join(arg(0, &contract), arg(1, &keyHex), arg(2, &height)); err != nil {
			return nil, err
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, &remote.RPCError{Code: remote.CodeInvalidParams, Message: err.Error()}
		}
		return chain.QueryRaw(ctx, contract, key, height)
	case remote.MethodContractInfo:
		if err := errors.Join(arg(0, &contract), arg(1, &height)); err != nil {
			return nil, err
		}
		return chain.ContractInfo(ctx, contract, height)
	case remote.MethodCode:
		if err := errors.Join(arg(0, &codeID), arg(1, &height)); err != nil {
			return nil, err
		}
		return chain.Code(ctx, codeID, height)
	case remote.MethodBalance:
		if err := errors.Join(arg(0, &address), arg(1, &denom), arg(2, &height)); err != nil {
			return nil, err
		}
		amount, err := chain.Balance(ctx, address, denom, height)
		if err != nil {
			return nil, err
		}
		return remote.BalanceResult{Amount: amount}, nil
	default:
		return nil, &remote.RPCError{Code: remote.CodeMethodNotFound, Message: "unknown method " + method}
	}
}
