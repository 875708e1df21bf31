package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	coreerrors "clonetest/core/errors"
	"clonetest/observability"
	"clonetest/remote"
	"clonetest/storage"
)

// FetchFunc loads a single entry from the live network at the snapshot height.
type FetchFunc func(ctx context.Context) (Value, error)

// Store captures snapshots and owns the remote fetch cache. It is the only
// state shared between concurrently running scenarios.
type Store struct {
	chain   remote.Chain
	db      storage.Database
	offline bool
	logger  *slog.Logger
	metrics *observability.ForkMetrics

	captureMu sync.Mutex
	mu        sync.RWMutex
	snapshots map[Key]*Snapshot
}

// Option configures a Store.
type Option func(*Store)

// WithDatabase persists fetched entries to db so later runs can reuse them.
func WithDatabase(db storage.Database) Option {
	return func(s *Store) { s.db = db }
}

// WithOffline captures from persisted manifests only and never contacts the
// remote. Cache misses fail with ErrRemoteUnavailable.
func WithOffline(offline bool) Option {
	return func(s *Store) { s.offline = offline }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *observability.ForkMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore returns a store reading from chain.
func NewStore(chain remote.Chain, opts ...Option) *Store {
	s := &Store{
		chain:     chain,
		logger:    slog.Default(),
		snapshots: make(map[Key]*Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Remote exposes the chain the store fetches from.
func (s *Store) Remote() remote.Chain { return s.chain }

// Offline reports whether the store refuses remote access.
func (s *Store) Offline() bool { return s.offline }

// Capture returns the snapshot of chainID at height. Capturing the same key
// twice returns the same handle. A height the network can no longer serve
// fails with ErrRemoteUnavailable.
func (s *Store) Capture(ctx context.Context, chainID string, height uint64) (*Snapshot, error) {
	chainID = strings.TrimSpace(chainID)
	if chainID == "" {
		return nil, fmt.Errorf("snapshot: chain id must not be empty")
	}
	key := Key{ChainID: chainID, Height: height}

	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	if snap := s.lookup(key); snap != nil {
		return snap, nil
	}

	var persisted *Manifest
	if s.db != nil {
		m, err := loadManifest(s.db, key)
		if err != nil {
			return nil, err
		}
		persisted = m
	}

	var manifest Manifest
	if s.offline {
		if persisted == nil {
			return nil, coreerrors.RemoteUnavailable("capture "+key.String(), errors.New("offline mode and no persisted snapshot"))
		}
		manifest = *persisted
	} else {
		m, err := s.remoteManifest(ctx, key)
		if err != nil {
			return nil, err
		}
		if persisted != nil && persisted.BlockHash != m.BlockHash {
			return nil, coreerrors.Corruption("persisted snapshot %s has block hash %s but the network reports %s; invalidate it explicitly",
				key, persisted.BlockHash, m.BlockHash)
		}
		manifest = m
	}

	snap := newSnapshot(manifest)
	if s.db != nil {
		if persisted == nil {
			if err := saveManifest(s.db, manifest); err != nil {
				return nil, fmt.Errorf("snapshot: persist manifest: %w", err)
			}
		} else if err := loadEntries(s.db, snap); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.snapshots[key] = snap
	s.mu.Unlock()

	s.logger.Info("snapshot captured",
		slog.String("chain_id", key.ChainID),
		slog.Uint64("height", key.Height),
		slog.String("block_hash", manifest.BlockHash),
		slog.Int("cached_entries", snap.Len()),
		slog.Bool("offline", s.offline))
	return snap, nil
}

func (s *Store) remoteManifest(ctx context.Context, key Key) (Manifest, error) {
	if s.chain == nil {
		return Manifest{}, coreerrors.RemoteUnavailable("capture "+key.String(), errors.New("no remote configured"))
	}
	status, err := s.chain.Status(ctx)
	if err != nil {
		return Manifest{}, coreerrors.RemoteUnavailable("status", err)
	}
	if status.ChainID != key.ChainID {
		return Manifest{}, coreerrors.RemoteUnavailable("capture "+key.String(),
			fmt.Errorf("remote serves chain %q", status.ChainID))
	}
	block, err := s.chain.Block(ctx, key.Height)
	if err != nil {
		return Manifest{}, coreerrors.RemoteUnavailable(fmt.Sprintf("block %d", key.Height), err)
	}
	return Manifest{
		ChainID:    key.ChainID,
		Height:     key.Height,
		BlockHash:  block.Hash,
		BlockTime:  uint64(block.Time.Unix()),
		LastCodeID: block.LastCodeID,
	}, nil
}

func (s *Store) lookup(key Key) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[key]
}

// Get returns the cached value for k or false when a fetch is required.
func (s *Store) Get(snap *Snapshot, k EntryKey) (Value, bool) {
	return snap.Get(k)
}

// Record inserts a freshly fetched value. Recording the same value twice is a
// no-op; recording a different value fails with ErrSnapshotCorruption.
func (s *Store) Record(snap *Snapshot, k EntryKey, v Value) error {
	if _, err := snap.insert(k, v, s.db != nil); err != nil {
		return fmt.Errorf("%w: %v", coreerrors.ErrSnapshotCorruption, err)
	}
	return nil
}

// Resolve returns the cached value for k, fetching and recording it on a miss.
// Concurrent resolvers of the same key share one in-flight fetch. The fetch
// runs detached from any single caller's cancellation and is bounded by the
// remote client's own timeout and retry budget; a caller whose ctx ends stops
// waiting with ctx.Err() while the others still receive the value.
func (s *Store) Resolve(ctx context.Context, snap *Snapshot, k EntryKey, fetch FetchFunc) (Value, error) {
	kind := k.Kind.String()
	if v, ok := snap.Get(k); ok {
		s.metrics.RecordLookup(kind, "hit")
		return v, nil
	}
	if s.offline {
		s.metrics.RecordLookup(kind, "miss")
		return Value{}, coreerrors.RemoteUnavailable(k.String(), errors.New("offline mode"))
	}
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := snap.flight.DoChan(string(k.Encode()), func() (interface{}, error) {
		if v, ok := snap.Get(k); ok {
			return v, nil
		}
		v, err := fetch(fetchCtx)
		if err != nil {
			if !coreerrors.IsFatal(err) {
				err = coreerrors.RemoteUnavailable(k.String(), err)
			}
			return nil, err
		}
		if err := s.Record(snap, k, v); err != nil {
			return nil, err
		}
		return v, nil
	})
	select {
	case <-ctx.Done():
		return Value{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.metrics.RecordLookup(kind, "shared")
		} else {
			s.metrics.RecordLookup(kind, "miss")
		}
		if res.Err != nil {
			return Value{}, res.Err
		}
		return res.Val.(Value).clone(), nil
	}
}

// Flush persists entries recorded since the last flush.
func (s *Store) Flush(snap *Snapshot) error {
	if s.db == nil {
		return nil
	}
	kvs, err := snap.pairs(true)
	if err != nil {
		return err
	}
	if len(kvs) == 0 {
		return nil
	}
	if err := writeEntries(s.db, snap.Key(), kvs); err != nil {
		return fmt.Errorf("snapshot: flush %s: %w", snap.Key(), err)
	}
	snap.clearDirty(kvs)
	s.logger.Debug("snapshot flushed", slog.String("snapshot", snap.Key().String()), slog.Int("entries", len(kvs)))
	return nil
}

// Invalidate drops the persisted and in-memory cache for chainID at height.
func (s *Store) Invalidate(chainID string, height uint64) error {
	key := Key{ChainID: strings.TrimSpace(chainID), Height: height}
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	s.mu.Lock()
	delete(s.snapshots, key)
	s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	removed, err := deletePrefix(s.db, keyPrefix(key))
	if err != nil {
		return fmt.Errorf("snapshot: invalidate %s: %w", key, err)
	}
	s.logger.Info("snapshot invalidated", slog.String("snapshot", key.String()), slog.Int("entries", removed))
	return nil
}

// Close flushes every captured snapshot.
func (s *Store) Close() error {
	s.mu.RLock()
	snaps := make([]*Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snaps = append(snaps, snap)
	}
	s.mu.RUnlock()
	var errs []error
	for _, snap := range snaps {
		if err := s.Flush(snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
