package state

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"clonetest/snapshot"
	"clonetest/storage"
	"clonetest/storage/trie"
)

// Reader is the read-only state beneath an overlay.
type Reader interface {
	Read(ctx context.Context, key snapshot.EntryKey) (snapshot.Value, error)
}

// Overlay is a copy-on-write layer of pending writes over a Reader. Reads check
// the overlay first and fall through to the base on a miss; writes always land
// in the overlay. Deletions are kept as tombstones so a deleted key never falls
// through to the base again.
//
// An overlay belongs to a single scenario and is not safe for concurrent use.
type Overlay struct {
	base   Reader
	writes map[string]write
	seqs   map[string]uint64

	journal        []change
	validRevisions []revision
	nextRevisionID int
}

type write struct {
	key   snapshot.EntryKey
	value snapshot.Value
}

type revision struct {
	id           int
	journalIndex int
}

// NewOverlay returns an empty overlay over base.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{
		base:   base,
		writes: make(map[string]write),
		seqs:   make(map[string]uint64),
	}
}

// Get returns the value of key as seen by this overlay.
func (o *Overlay) Get(ctx context.Context, key snapshot.EntryKey) (snapshot.Value, error) {
	if w, ok := o.writes[string(key.Encode())]; ok {
		return cloneValue(w.value), nil
	}
	if o.base == nil {
		return snapshot.Absent(), nil
	}
	return o.base.Read(ctx, key)
}

// Set writes data under key.
func (o *Overlay) Set(key snapshot.EntryKey, data []byte) {
	o.put(key, snapshot.Present(data))
}

// Delete removes key. Subsequent reads report it as not found.
func (o *Overlay) Delete(key snapshot.EntryKey) {
	o.put(key, snapshot.Absent())
}

func (o *Overlay) put(key snapshot.EntryKey, value snapshot.Value) {
	enc := string(key.Encode())
	prev, existed := o.writes[enc]
	o.journal = append(o.journal, writeChange{key: enc, prev: prev, existed: existed})
	o.writes[enc] = write{key: key, value: value}
}

// Sequence returns the current value of the named counter.
func (o *Overlay) Sequence(name string) uint64 { return o.seqs[name] }

// SetSequence sets the named counter.
func (o *Overlay) SetSequence(name string, v uint64) {
	prev, existed := o.seqs[name]
	o.journal = append(o.journal, seqChange{name: name, prev: prev, existed: existed})
	o.seqs[name] = v
}

// Snapshot returns an identifier for the current revision of the overlay.
func (o *Overlay) Snapshot() int {
	id := o.nextRevisionID
	o.nextRevisionID++
	o.validRevisions = append(o.validRevisions, revision{id: id, journalIndex: len(o.journal)})
	return id
}

// RevertToSnapshot undoes every write made since the revision was taken.
// Reverting to an unknown or already reverted revision panics.
func (o *Overlay) RevertToSnapshot(revid int) {
	idx := sort.Search(len(o.validRevisions), func(i int) bool {
		return o.validRevisions[i].id >= revid
	})
	if idx == len(o.validRevisions) || o.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	target := o.validRevisions[idx].journalIndex
	for i := len(o.journal) - 1; i >= target; i-- {
		o.journal[i].revert(o)
	}
	o.journal = o.journal[:target]
	o.validRevisions = o.validRevisions[:idx]
}

// Len returns the number of keys written, tombstones included.
func (o *Overlay) Len() int { return len(o.writes) }

// Write is a single pending write. Value.Found is false for a deletion.
type Write struct {
	Key   snapshot.EntryKey
	Value snapshot.Value
}

// Writes returns the pending writes ordered by encoded key.
func (o *Overlay) Writes() []Write {
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Write, len(keys))
	for i, k := range keys {
		w := o.writes[k]
		out[i] = Write{Key: w.key, Value: cloneValue(w.value)}
	}
	return out
}

type persistedWrite struct {
	Found bool
	Data  []byte
}

// Root fingerprints the pending writes and counters. Two overlays that applied
// the same changes have the same root.
func (o *Overlay) Root() (common.Hash, error) {
	pairs := make([]storage.KV, 0, len(o.writes)+len(o.seqs))
	for k, w := range o.writes {
		encoded, err := rlp.EncodeToBytes(persistedWrite{Found: w.value.Found, Data: w.value.Data})
		if err != nil {
			return common.Hash{}, err
		}
		pairs = append(pairs, storage.KV{Key: []byte("w/" + k), Value: encoded})
	}
	for name, v := range o.seqs {
		encoded, err := rlp.EncodeToBytes(v)
		if err != nil {
			return common.Hash{}, err
		}
		pairs = append(pairs, storage.KV{Key: []byte("s/" + name), Value: encoded})
	}
	return trie.Root(pairs)
}

func cloneValue(v snapshot.Value) snapshot.Value {
	if !v.Found {
		return snapshot.Absent()
	}
	return snapshot.Present(v.Data)
}
