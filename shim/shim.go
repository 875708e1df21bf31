// Package shim answers state reads of local execution from a captured snapshot,
// falling back to a height-pinned remote query on a cache miss.
package shim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	coreerrors "clonetest/core/errors"
	"clonetest/core/numeric"
	"clonetest/core/state"
	"clonetest/snapshot"
)

// Shim resolves entries of one snapshot. It is safe for concurrent use; every
// scenario on the snapshot reads through the same shim.
type Shim struct {
	store  *snapshot.Store
	snap   *snapshot.Snapshot
	logger *slog.Logger
}

var _ state.Reader = (*Shim)(nil)

// New returns a shim serving snap from store.
func New(store *snapshot.Store, snap *snapshot.Snapshot, logger *slog.Logger) *Shim {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shim{store: store, snap: snap, logger: logger}
}

// Snapshot returns the snapshot the shim serves.
func (s *Shim) Snapshot() *snapshot.Snapshot { return s.snap }

// NewOverlay returns a fresh scenario overlay over the snapshot.
func (s *Shim) NewOverlay() *state.Overlay { return state.NewOverlay(s) }

// Read returns the snapshot value of key, querying the remote at the snapshot
// height when it has not been fetched yet. Remote failures are returned as
// ErrRemoteUnavailable; no default is ever substituted.
func (s *Shim) Read(ctx context.Context, key snapshot.EntryKey) (snapshot.Value, error) {
	return s.store.Resolve(ctx, s.snap, key, s.fetcher(key))
}

func (s *Shim) fetcher(key snapshot.EntryKey) snapshot.FetchFunc {
	height := s.snap.Height()
	return func(ctx context.Context) (snapshot.Value, error) {
		chain := s.store.Remote()
		if chain == nil {
			return snapshot.Value{}, coreerrors.RemoteUnavailable(key.String(), errors.New("no remote configured"))
		}
		s.logger.Debug("remote fetch",
			slog.String("snapshot", s.snap.Key().String()),
			slog.String("entry", key.String()))
		switch key.Kind {
		case snapshot.KindStorage:
			raw, err := chain.QueryRaw(ctx, key.Address, key.Key, height)
			if err != nil {
				return snapshot.Value{}, err
			}
			if !raw.Found {
				return snapshot.Absent(), nil
			}
			return snapshot.Present(raw.Value), nil
		case snapshot.KindBalance:
			amount, err := chain.Balance(ctx, key.Address, string(key.Key), height)
			if err != nil {
				return snapshot.Value{}, err
			}
			parsed, err := numeric.ParseUint(amount)
			if err != nil {
				return snapshot.Value{}, fmt.Errorf("balance %s: malformed amount %q: %w", key, amount, err)
			}
			if parsed.IsZero() {
				return snapshot.Absent(), nil
			}
			return snapshot.Present([]byte(parsed.String())), nil
		case snapshot.KindContract:
			res, err := chain.ContractInfo(ctx, key.Address, height)
			if err != nil {
				return snapshot.Value{}, err
			}
			if res == nil || !res.Found || res.Info == nil {
				return snapshot.Absent(), nil
			}
			encoded, err := state.EncodeContractInfo(state.ContractInfo{
				CodeID:  res.Info.CodeID,
				Creator: res.Info.Creator,
				Admin:   res.Info.Admin,
				Label:   res.Info.Label,
			})
			if err != nil {
				return snapshot.Value{}, err
			}
			return snapshot.Present(encoded), nil
		case snapshot.KindCode:
			res, err := chain.Code(ctx, key.CodeID(), height)
			if err != nil {
				return snapshot.Value{}, err
			}
			if res == nil || !res.Found {
				return snapshot.Absent(), nil
			}
			return snapshot.Present(res.Code), nil
		default:
			return snapshot.Value{}, coreerrors.Corruption("unknown entry kind %s", key.Kind)
		}
	}
}

// RawStorage returns the raw storage value of contract under key.
func (s *Shim) RawStorage(ctx context.Context, contract string, key []byte) (snapshot.Value, error) {
	return s.Read(ctx, snapshot.StorageKey(contract, key))
}

// Balance returns the snapshot balance of address. Unknown accounts hold zero,
// the same answer the chain's bank query gives.
func (s *Shim) Balance(ctx context.Context, address, denom string) (numeric.Uint, error) {
	v, err := s.Read(ctx, snapshot.BalanceKey(address, denom))
	if err != nil {
		return numeric.Uint{}, err
	}
	if !v.Found {
		return numeric.ZeroUint(), nil
	}
	amount, err := numeric.ParseUint(string(v.Data))
	if err != nil {
		return numeric.Uint{}, coreerrors.Corruption("balance %s/%s: %v", address, denom, err)
	}
	return amount, nil
}

// ContractInfo returns the snapshot binding of address.
func (s *Shim) ContractInfo(ctx context.Context, address string) (state.ContractInfo, bool, error) {
	v, err := s.Read(ctx, snapshot.ContractKey(address))
	if err != nil || !v.Found {
		return state.ContractInfo{}, false, err
	}
	info, err := state.DecodeContractInfo(v.Data)
	if err != nil {
		return state.ContractInfo{}, false, err
	}
	return info, true, nil
}

// Code returns the snapshot bytecode of codeID.
func (s *Shim) Code(ctx context.Context, codeID uint64) ([]byte, bool, error) {
	v, err := s.Read(ctx, snapshot.CodeKey(codeID))
	if err != nil {
		return nil, false, err
	}
	return v.Data, v.Found, nil
}

// Prefetch resolves keys concurrently, at most limit at a time, so scenarios
// start from a warm cache.
func (s *Shim) Prefetch(ctx context.Context, limit int, keys ...snapshot.EntryKey) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, key := range keys {
		key := key
		g.Go(func() error {
			_, err := s.Read(gctx, key)
			return err
		})
	}
	return g.Wait()
}
