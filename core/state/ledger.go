package state

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "clonetest/core/errors"
	"clonetest/core/numeric"
	"clonetest/snapshot"
)

// ContractInfo is the binding of a contract address to its code.
type ContractInfo struct {
	CodeID  uint64
	Creator string
	Admin   string
	Label   string
}

// EncodeContractInfo returns the stored form of info.
func EncodeContractInfo(info ContractInfo) ([]byte, error) {
	return rlp.EncodeToBytes(info)
}

// DecodeContractInfo parses the stored form of a contract binding.
func DecodeContractInfo(data []byte) (ContractInfo, error) {
	var info ContractInfo
	if err := rlp.DecodeBytes(data, &info); err != nil {
		return ContractInfo{}, coreerrors.Corruption("decode contract info: %v", err)
	}
	return info, nil
}

// Balance returns the amount of denom held by address. Unknown accounts hold
// zero.
func (o *Overlay) Balance(ctx context.Context, address, denom string) (numeric.Uint, error) {
	v, err := o.Get(ctx, snapshot.BalanceKey(address, denom))
	if err != nil {
		return numeric.Uint{}, err
	}
	if !v.Found || len(v.Data) == 0 {
		return numeric.ZeroUint(), nil
	}
	amount, err := numeric.ParseUint(string(v.Data))
	if err != nil {
		return numeric.Uint{}, coreerrors.Corruption("balance %s/%s: %v", address, denom, err)
	}
	return amount, nil
}

// SetBalance overwrites the amount of denom held by address.
func (o *Overlay) SetBalance(address, denom string, amount numeric.Uint) {
	key := snapshot.BalanceKey(address, denom)
	if amount.IsZero() {
		o.Delete(key)
		return
	}
	o.Set(key, []byte(amount.String()))
}

// AddBalance credits address.
func (o *Overlay) AddBalance(ctx context.Context, address, denom string, amount numeric.Uint) error {
	current, err := o.Balance(ctx, address, denom)
	if err != nil {
		return err
	}
	next, err := current.Add(amount)
	if err != nil {
		return fmt.Errorf("credit %s%s to %s: %w", amount, denom, address, err)
	}
	o.SetBalance(address, denom, next)
	return nil
}

// SubBalance debits address, failing with ErrInsufficientFunds when the
// balance does not cover amount.
func (o *Overlay) SubBalance(ctx context.Context, address, denom string, amount numeric.Uint) error {
	current, err := o.Balance(ctx, address, denom)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s%s, needs %s%s", coreerrors.ErrInsufficientFunds, address, current, denom, amount, denom)
	}
	next, err := current.Sub(amount)
	if err != nil {
		return err
	}
	o.SetBalance(address, denom, next)
	return nil
}

// ContractInfo returns the binding of address. The boolean is false when no
// contract lives at address.
func (o *Overlay) ContractInfo(ctx context.Context, address string) (ContractInfo, bool, error) {
	v, err := o.Get(ctx, snapshot.ContractKey(address))
	if err != nil {
		return ContractInfo{}, false, err
	}
	if !v.Found {
		return ContractInfo{}, false, nil
	}
	info, err := DecodeContractInfo(v.Data)
	if err != nil {
		return ContractInfo{}, false, err
	}
	return info, true, nil
}

// SetContractInfo writes the binding of address.
func (o *Overlay) SetContractInfo(address string, info ContractInfo) error {
	encoded, err := EncodeContractInfo(info)
	if err != nil {
		return err
	}
	o.Set(snapshot.ContractKey(address), encoded)
	return nil
}

// Code returns the bytecode stored under codeID.
func (o *Overlay) Code(ctx context.Context, codeID uint64) ([]byte, bool, error) {
	v, err := o.Get(ctx, snapshot.CodeKey(codeID))
	if err != nil {
		return nil, false, err
	}
	return v.Data, v.Found, nil
}

// SetCode stores bytecode under codeID.
func (o *Overlay) SetCode(codeID uint64, code []byte) {
	o.Set(snapshot.CodeKey(codeID), code)
}

// ContractStorage is the raw key/value storage of one contract as seen through
// an overlay.
type ContractStorage struct {
	ctx      context.Context
	overlay  *Overlay
	contract string
}

// Storage returns the storage of contract.
func (o *Overlay) Storage(ctx context.Context, contract string) *ContractStorage {
	return &ContractStorage{ctx: ctx, overlay: o, contract: contract}
}

// Get returns the value under key and whether it exists. An existing key may
// hold an empty value.
func (s *ContractStorage) Get(key []byte) ([]byte, bool, error) {
	v, err := s.overlay.Get(s.ctx, snapshot.StorageKey(s.contract, key))
	if err != nil {
		return nil, false, err
	}
	return v.Data, v.Found, nil
}

func (s *ContractStorage) Set(key, value []byte) {
	s.overlay.Set(snapshot.StorageKey(s.contract, key), value)
}

func (s *ContractStorage) Remove(key []byte) {
	s.overlay.Delete(snapshot.StorageKey(s.contract, key))
}
