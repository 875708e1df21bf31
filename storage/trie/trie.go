package trie

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"clonetest/storage"
)

// Trie wraps go-ethereum's trie implementation to fingerprint a set of state
// entries. It is backed by an in-memory trie database and never commits: the
// only product is the root hash, which depends on the entries and not on the
// order they were inserted in.
//
// Keys are hashed (keccak256) before insertion so arbitrary key lengths share
// one key space.
//
// Trie is not safe for concurrent use.
type Trie struct {
	trie *gethtrie.Trie
}

// New returns an empty trie.
func New() (*Trie, error) {
	db := rawdb.NewDatabase(memorydb.New())
	trieDB := triedb.NewDatabase(db, triedb.HashDefaults)
	underlying, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	return &Trie{trie: underlying}, nil
}

// Get retrieves the value stored under key.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.trie.Get(crypto.Keccak256(key))
}

// Update inserts or updates the value for key. An empty value removes the key.
func (t *Trie) Update(key, value []byte) error {
	return t.trie.Update(crypto.Keccak256(key), value)
}

// Hash returns the root hash reflecting all inserted entries.
func (t *Trie) Hash() common.Hash {
	return t.trie.Hash()
}

// Root computes the root hash of pairs.
func Root(pairs []storage.KV) (common.Hash, error) {
	tr, err := New()
	if err != nil {
		return common.Hash{}, err
	}
	for _, kv := range pairs {
		if err := tr.Update(kv.Key, kv.Value); err != nil {
			return common.Hash{}, err
		}
	}
	return tr.Hash(), nil
}
