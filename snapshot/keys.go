package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind partitions snapshot entries by the query that produced them.
type Kind uint8

const (
	KindStorage Kind = iota + 1
	KindBalance
	KindContract
	KindCode
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindBalance:
		return "balance"
	case KindContract:
		return "contract"
	case KindCode:
		return "code"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// EntryKey addresses a single piece of chain state.
//
//	storage:  Address=contract, Key=raw storage key
//	balance:  Address=account,  Key=denom
//	contract: Address=contract, Key=nil
//	code:     Address="",       Key=big-endian code id
type EntryKey struct {
	Kind    Kind
	Address string
	Key     []byte
}

func StorageKey(contract string, key []byte) EntryKey {
	return EntryKey{Kind: KindStorage, Address: contract, Key: append([]byte(nil), key...)}
}

func BalanceKey(address, denom string) EntryKey {
	return EntryKey{Kind: KindBalance, Address: address, Key: []byte(denom)}
}

func ContractKey(contract string) EntryKey {
	return EntryKey{Kind: KindContract, Address: contract}
}

func CodeKey(codeID uint64) EntryKey {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, codeID)
	return EntryKey{Kind: KindCode, Key: buf}
}

// CodeID returns the code id of a KindCode key.
func (k EntryKey) CodeID() uint64 {
	if k.Kind != KindCode || len(k.Key) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k.Key)
}

// Encode returns the canonical byte form: kind | uvarint(len(address)) | address | key.
func (k EntryKey) Encode() []byte {
	buf := make([]byte, 0, 1+binary.MaxVarintLen64+len(k.Address)+len(k.Key))
	buf = append(buf, byte(k.Kind))
	buf = binary.AppendUvarint(buf, uint64(len(k.Address)))
	buf = append(buf, k.Address...)
	buf = append(buf, k.Key...)
	return buf
}

// DecodeEntryKey parses the output of Encode.
func DecodeEntryKey(raw []byte) (EntryKey, error) {
	if len(raw) < 2 {
		return EntryKey{}, fmt.Errorf("entry key too short")
	}
	kind := Kind(raw[0])
	if kind < KindStorage || kind > KindCode {
		return EntryKey{}, fmt.Errorf("unknown entry kind %d", raw[0])
	}
	n, read := binary.Uvarint(raw[1:])
	if read <= 0 || uint64(len(raw)-1-read) < n {
		return EntryKey{}, fmt.Errorf("malformed entry key address length")
	}
	start := 1 + read
	addr := string(raw[start : start+int(n)])
	key := append([]byte(nil), raw[start+int(n):]...)
	if len(key) == 0 {
		key = nil
	}
	return EntryKey{Kind: kind, Address: addr, Key: key}, nil
}

func (k EntryKey) String() string {
	switch k.Kind {
	case KindCode:
		return fmt.Sprintf("code/%d", k.CodeID())
	case KindBalance:
		return fmt.Sprintf("balance/%s/%s", k.Address, k.Key)
	case KindContract:
		return fmt.Sprintf("contract/%s", k.Address)
	default:
		return fmt.Sprintf("%s/%s/%x", k.Kind, k.Address, k.Key)
	}
}

// Value is a cached query result. Found=false records that the chain reported
// the key as absent, which is distinct from an empty value.
type Value struct {
	Found bool
	Data  []byte
}

// Present returns a found value holding data.
func Present(data []byte) Value {
	return Value{Found: true, Data: append([]byte{}, data...)}
}

// Absent returns a not-found value.
func Absent() Value { return Value{} }

func (v Value) Equal(o Value) bool {
	return v.Found == o.Found && bytes.Equal(v.Data, o.Data)
}

func (v Value) clone() Value {
	if !v.Found {
		return Value{}
	}
	return Present(v.Data)
}
