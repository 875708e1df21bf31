package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "clonetest/core/errors"
	"clonetest/storage"
)

// Persisted layout:
//
//	snap/<chain id>/<height u64 BE>/m           manifest
//	snap/<chain id>/<height u64 BE>/e/<entry>   rlp(persistedValue)
var (
	snapPrefix     = []byte("snap/")
	manifestSuffix = []byte("m")
	entriesInfix   = []byte("e/")
)

func keyPrefix(key Key) []byte {
	buf := make([]byte, 0, len(snapPrefix)+len(key.ChainID)+10)
	buf = append(buf, snapPrefix...)
	buf = append(buf, key.ChainID...)
	buf = append(buf, '/')
	buf = binary.BigEndian.AppendUint64(buf, key.Height)
	buf = append(buf, '/')
	return buf
}

func manifestKey(key Key) []byte {
	return append(keyPrefix(key), manifestSuffix...)
}

func entriesPrefix(key Key) []byte {
	return append(keyPrefix(key), entriesInfix...)
}

func loadManifest(db storage.Database, key Key) (*Manifest, error) {
	raw, err := db.Get(manifestKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: load manifest %s: %w", key, err)
	}
	m := new(Manifest)
	if err := rlp.DecodeBytes(raw, m); err != nil {
		return nil, coreerrors.Corruption("manifest %s: %v", key, err)
	}
	if m.ChainID != key.ChainID || m.Height != key.Height {
		return nil, coreerrors.Corruption("manifest stored under %s describes %s@%d", key, m.ChainID, m.Height)
	}
	return m, nil
}

func saveManifest(db storage.Database, m Manifest) error {
	encoded, err := rlp.EncodeToBytes(m)
	if err != nil {
		return err
	}
	return db.Put(manifestKey(Key{ChainID: m.ChainID, Height: m.Height}), encoded)
}

func loadEntries(db storage.Database, snap *Snapshot) error {
	prefix := entriesPrefix(snap.Key())
	var loadErr error
	err := db.Iterate(prefix, func(key, value []byte) bool {
		entry, err := DecodeEntryKey(key[len(prefix):])
		if err != nil {
			loadErr = coreerrors.Corruption("persisted entry %x: %v", key, err)
			return false
		}
		v, err := decodeValue(value)
		if err != nil {
			loadErr = coreerrors.Corruption("persisted value for %s: %v", entry, err)
			return false
		}
		if _, err := snap.insert(entry, v, false); err != nil {
			loadErr = coreerrors.Corruption("%v", err)
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("snapshot: load entries %s: %w", snap.Key(), err)
	}
	return loadErr
}

func writeEntries(db storage.Database, key Key, kvs []storage.KV) error {
	prefix := entriesPrefix(key)
	batch := make([]storage.KV, len(kvs))
	for i, kv := range kvs {
		full := make([]byte, 0, len(prefix)+len(kv.Key))
		full = append(full, prefix...)
		full = append(full, kv.Key...)
		batch[i] = storage.KV{Key: full, Value: kv.Value}
	}
	return db.WriteBatch(batch)
}

func deletePrefix(db storage.Database, prefix []byte) (int, error) {
	var keys [][]byte
	if err := db.Iterate(prefix, func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := db.Delete(key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
