package snapshot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/sync/singleflight"

	"clonetest/storage"
	"clonetest/storage/trie"
)

// Key identifies a snapshot.
type Key struct {
	ChainID string
	Height  uint64
}

func (k Key) String() string { return fmt.Sprintf("%s@%d", k.ChainID, k.Height) }

// Manifest describes the block a snapshot was captured at.
type Manifest struct {
	ChainID    string
	Height     uint64
	BlockHash  string
	BlockTime  uint64 // unix seconds
	LastCodeID uint64
}

// Time returns the block time.
func (m Manifest) Time() time.Time { return time.Unix(int64(m.BlockTime), 0).UTC() }

// Snapshot is the handle of a captured chain state. Its entries are never
// mutated once recorded; the cache only ever grows. It is safe for concurrent
// use by any number of scenarios.
type Snapshot struct {
	key      Key
	manifest Manifest

	mu      sync.RWMutex
	entries map[string]Value
	dirty   map[string]struct{}
	flight  singleflight.Group
}

func newSnapshot(m Manifest) *Snapshot {
	return &Snapshot{
		key:      Key{ChainID: m.ChainID, Height: m.Height},
		manifest: m,
		entries:  make(map[string]Value),
		dirty:    make(map[string]struct{}),
	}
}

func (s *Snapshot) Key() Key { return s.key }

func (s *Snapshot) Height() uint64 { return s.key.Height }

func (s *Snapshot) ChainID() string { return s.key.ChainID }

func (s *Snapshot) Manifest() Manifest { return s.manifest }

// Get returns the cached value for k.
func (s *Snapshot) Get(k EntryKey) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[string(k.Encode())]
	if !ok {
		return Value{}, false
	}
	return v.clone(), true
}

// Len returns the number of cached entries.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns the number of cached entries per kind.
func (s *Snapshot) Stats() map[Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Kind]int)
	for raw := range s.entries {
		out[Kind(raw[0])]++
	}
	return out
}

// insert records v under k. It returns false when an identical value was
// already present.
func (s *Snapshot) insert(k EntryKey, v Value, markDirty bool) (bool, error) {
	enc := string(k.Encode())
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[enc]; ok {
		if !existing.Equal(v) {
			return false, fmt.Errorf("%s: %s re-recorded with a different value", s.key, k)
		}
		return false, nil
	}
	s.entries[enc] = v.clone()
	if markDirty {
		s.dirty[enc] = struct{}{}
	}
	return true, nil
}

// pairs returns encoded key/value pairs sorted by key.
func (s *Snapshot) pairs(onlyDirty bool) ([]storage.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if onlyDirty {
			if _, ok := s.dirty[k]; !ok {
				continue
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]storage.KV, 0, len(keys))
	for _, k := range keys {
		encoded, err := encodeValue(s.entries[k])
		if err != nil {
			return nil, err
		}
		out = append(out, storage.KV{Key: []byte(k), Value: encoded})
	}
	return out, nil
}

func (s *Snapshot) clearDirty(kvs []storage.KV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range kvs {
		delete(s.dirty, string(kv.Key))
	}
}

// Root fingerprints the cached entries. Two snapshots with identical cached
// state have the same root regardless of fetch order.
func (s *Snapshot) Root() (common.Hash, error) {
	kvs, err := s.pairs(false)
	if err != nil {
		return common.Hash{}, err
	}
	return trie.Root(kvs)
}

type persistedValue struct {
	Found bool
	Data  []byte
}

func encodeValue(v Value) ([]byte, error) {
	return rlp.EncodeToBytes(persistedValue{Found: v.Found, Data: v.Data})
}

func decodeValue(raw []byte) (Value, error) {
	var pv persistedValue
	if err := rlp.DecodeBytes(raw, &pv); err != nil {
		return Value{}, err
	}
	if !pv.Found {
		return Absent(), nil
	}
	return Present(pv.Data), nil
}
