package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// Address is a bech32 account or contract address. Accounts carry 20 bytes,
// contracts 32 bytes.
type Address struct {
	prefix string
	bytes  []byte
}

func NewAddress(prefix string, b []byte) Address {
	if len(b) != 20 && len(b) != 32 {
		panic(fmt.Sprintf("address must be 20 or 32 bytes long, got %d", len(b)))
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(a.prefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes...)
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() string {
	return a.prefix
}

func (a Address) IsZero() bool { return len(a.bytes) == 0 }

func (a Address) Equal(o Address) bool { return a.String() == o.String() }

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 && len(conv) != 32 {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return NewAddress(prefix, conv), nil
}

// MustDecodeAddress panics when s is not a valid address.
func MustDecodeAddress(s string) Address {
	addr, err := DecodeAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// ContractAddress derives the classic instantiate address for codeID and
// instanceID: sha256(sha256("module") || "wasm" || 0x00 || codeID || instanceID).
func ContractAddress(prefix string, codeID, instanceID uint64) Address {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], codeID)
	binary.BigEndian.PutUint64(key[8:], instanceID)
	return NewAddress(prefix, moduleHash("wasm", key))
}

func moduleHash(module string, key []byte) []byte {
	typ := sha256.Sum256([]byte("module"))
	h := sha256.New()
	h.Write(typ[:])
	h.Write([]byte(module))
	h.Write([]byte{0})
	h.Write(key)
	return h.Sum(nil)
}

var chainPrefixes = map[string]string{
	"juno-1":      "juno",
	"uni-6":       "juno",
	"osmosis-1":   "osmo",
	"osmo-5":      "osmo",
	"osmo-test-5": "osmo",
	"phoenix-1":   "terra",
	"pisco-1":     "terra",
	"neutron-1":   "neutron",
}

// PrefixForChain returns the bech32 account prefix used by chainID. Unknown
// chains fall back to the chain id without its trailing revision number.
func PrefixForChain(chainID string) string {
	if prefix, ok := chainPrefixes[chainID]; ok {
		return prefix
	}
	base := chainID
	if i := strings.LastIndexByte(base, '-'); i > 0 {
		base = base[:i]
	}
	return strings.ToLower(base)
}
